package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/hashledger/internal/ledger"
)

var ctx = context.Background()

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestAppend_genesisEntry(t *testing.T) {
	s := ledger.NewMemory(ledger.WithClock(fixedClock(1_700_000_000_000)))

	e, err := s.Append(ctx, "genesis", map[string]any{"note": "Ledger initialized"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Index != 0 {
		t.Errorf("genesis index: got %d, want 0", e.Index)
	}
	if e.PreviousHash != ledger.ZeroHash {
		t.Errorf("genesis previousHash: got %q, want ZeroHash", e.PreviousHash)
	}
	if e.Timestamp != 1_700_000_000_000 {
		t.Errorf("timestamp: got %d", e.Timestamp)
	}
	if len(e.Hash) != 64 {
		t.Errorf("hash length: got %d, want 64", len(e.Hash))
	}
	want, err := ledger.ComputeHash(ledger.SHA256, e)
	if err != nil {
		t.Fatal(err)
	}
	if e.Hash != want {
		t.Errorf("hash: got %q, want recomputed %q", e.Hash, want)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	s := ledger.NewMemory()

	e0, err := s.Append(ctx, "genesis", nil)
	if err != nil {
		t.Fatal(err)
	}
	e1, err := s.Append(ctx, "consent_requested", map[string]any{"scope": "read"})
	if err != nil {
		t.Fatal(err)
	}

	if e1.Index != 1 {
		t.Errorf("index: got %d, want 1", e1.Index)
	}
	if e1.PreviousHash != e0.Hash {
		t.Errorf("chain broken: e1.PreviousHash=%q, want e0.Hash=%q", e1.PreviousHash, e0.Hash)
	}

	n, _ := s.Len(ctx)
	if n != 2 {
		t.Errorf("Len: got %d, want 2", n)
	}
}

func TestAppend_rejectsEmptyOperation(t *testing.T) {
	s := ledger.NewMemory()

	for _, op := range []string{"", "   "} {
		_, err := s.Append(ctx, op, nil)
		if !ledger.IsValidation(err) {
			t.Errorf("Append(%q): expected ValidationError, got %v", op, err)
		}
		if !errors.Is(err, ledger.ErrEmptyOperation) {
			t.Errorf("Append(%q): expected ErrEmptyOperation, got %v", op, err)
		}
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("rejected append changed ledger length to %d", n)
	}
}

func TestAppend_rejectsUnencodablePayload(t *testing.T) {
	s := ledger.NewMemory()

	_, err := s.Append(ctx, "op", map[string]any{"ch": make(chan int)})
	if !errors.Is(err, ledger.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestAppend_cancelledContext(t *testing.T) {
	s := ledger.NewMemory()
	cctx, cancel := context.WithCancel(ctx)
	cancel()

	_, err := s.Append(cctx, "op", nil)
	if !ledger.IsStorage(err) {
		t.Errorf("expected StorageError, got %v", err)
	}
}

func TestAppend_concurrentIndicesAreGapFree(t *testing.T) {
	s := ledger.NewMemory()
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	seen := make(chan int64, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				e, err := s.Append(ctx, "operation_start", map[string]any{"i": i})
				if err != nil {
					t.Error(err)
					return
				}
				seen <- e.Index
			}
		}()
	}
	wg.Wait()
	close(seen)

	got := make(map[int64]bool)
	for idx := range seen {
		if got[idx] {
			t.Fatalf("index %d assigned twice", idx)
		}
		got[idx] = true
	}
	for i := int64(0); i < workers*perWorker; i++ {
		if !got[i] {
			t.Errorf("index %d missing", i)
		}
	}

	all, _ := s.ReadAll(ctx)
	for i := 1; i < len(all); i++ {
		if all[i].PreviousHash != all[i-1].Hash {
			t.Fatalf("link broken at %d", i)
		}
	}
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	s := ledger.NewMemory()
	e, _ := s.Append(ctx, "op", map[string]any{"k": "v"})
	e.Data["k"] = "tampered"
	e.Hash = "x"

	stored, err := s.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Data["k"] != "v" || stored.Hash == "x" {
		t.Errorf("caller mutation reached stored entry: %+v", stored)
	}
}

func TestTail_emptyLedger(t *testing.T) {
	s := ledger.NewMemory()
	if _, err := s.Tail(ctx); !errors.Is(err, ledger.ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := s.Get(ctx, 0); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReadRange(t *testing.T) {
	s := ledger.NewMemory()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "op", map[string]any{"i": i}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		from, to int64
		want     []int64
	}{
		{1, 3, []int64{1, 2, 3}},
		{3, 99, []int64{3, 4}},
		{4, 4, []int64{4}},
		{7, 9, nil},
	}
	for _, tc := range tests {
		got, err := s.ReadRange(ctx, tc.from, tc.to)
		if err != nil {
			t.Fatalf("ReadRange(%d, %d): %v", tc.from, tc.to, err)
		}
		if len(got) != len(tc.want) {
			t.Errorf("ReadRange(%d, %d): got %d entries, want %d", tc.from, tc.to, len(got), len(tc.want))
			continue
		}
		for i, e := range got {
			if e.Index != tc.want[i] {
				t.Errorf("ReadRange(%d, %d)[%d]: got index %d", tc.from, tc.to, i, e.Index)
			}
		}
	}

	for _, bad := range [][2]int64{{-1, 2}, {3, 1}} {
		_, err := s.ReadRange(ctx, bad[0], bad[1])
		if !errors.Is(err, ledger.ErrInvalidRange) {
			t.Errorf("ReadRange(%d, %d): expected ErrInvalidRange, got %v", bad[0], bad[1], err)
		}
	}
}

func TestHashAlgorithms(t *testing.T) {
	for _, name := range []string{ledger.AlgSHA256, ledger.AlgSHA3256, ledger.AlgBLAKE3} {
		h, err := ledger.HasherByName(name)
		if err != nil {
			t.Fatal(err)
		}
		s := ledger.NewMemory(ledger.WithHasher(h), ledger.WithClock(fixedClock(1)))
		e, err := s.Append(ctx, "op", map[string]any{"n": 1.5})
		if err != nil {
			t.Fatal(err)
		}
		want, _ := ledger.ComputeHash(h, e)
		if e.Hash != want || len(e.Hash) != 64 {
			t.Errorf("%s: hash %q does not recompute to %q", name, e.Hash, want)
		}
		if s.Hasher().Name() != name {
			t.Errorf("Hasher().Name(): got %q, want %q", s.Hasher().Name(), name)
		}
	}

	if _, err := ledger.HasherByName("md5"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}
