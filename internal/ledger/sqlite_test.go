package ledger_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/hashledger/internal/ledger"
)

func openTestSQLite(t *testing.T, path string) *ledger.SQLiteStore {
	t.Helper()
	s, err := ledger.OpenSQLite(path)
	require.NoError(t, err, "open sqlite")
	return s
}

func TestSQLite_appendReadReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	s := openTestSQLite(t, path)

	_, err := s.Tail(ctx)
	assert.True(t, errors.Is(err, ledger.ErrEmpty))

	e0, err := s.Append(ctx, "genesis", map[string]any{"note": "Ledger initialized"})
	require.NoError(t, err)
	_, err = s.Append(ctx, "consent_requested", map[string]any{"amount": 9007199254740993})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openTestSQLite(t, path)
	defer s.Close()

	e2, err := s.Append(ctx, "operation_start", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Index)

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, e0.Hash, all[1].PreviousHash)
	for _, e := range all {
		h, err := ledger.ComputeHash(s.Hasher(), e)
		require.NoError(t, err)
		assert.Equal(t, e.Hash, h, "entry %d recompute", e.Index)
	}

	rng, err := s.ReadRange(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, rng, 2)

	_, err = s.ReadRange(ctx, 2, 1)
	assert.True(t, ledger.IsValidation(err))

	_, err = s.Get(ctx, 7)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSQLite_concurrentAppends(t *testing.T) {
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "ledger.sqlite"))
	defer s.Close()

	const workers, per = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				_, err := s.Append(ctx, "op", map[string]any{"w": w, "i": i})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, workers*per)
	for i, e := range all {
		assert.Equal(t, int64(i), e.Index)
		if i > 0 {
			assert.Equal(t, all[i-1].Hash, e.PreviousHash)
		}
	}
}
