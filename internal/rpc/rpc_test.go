package rpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/jmerrifield20/hashledger/internal/auth"
	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/internal/rpc"
)

func dial(t *testing.T, store ledger.Store, issuer *auth.Issuer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := rpc.NewServer(store, issuer, zap.NewNop())
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLedgerService_appendListVerifyTail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := rpc.NewClient(dial(t, ledger.NewMemory(), nil))

	first, err := c.Append(ctx, "genesis", map[string]any{"note": "init"})
	require.NoError(t, err)
	assert.Equal(t, float64(0), first.Fields["index"].GetNumberValue())
	assert.Equal(t, ledger.ZeroHash, first.Fields["previousHash"].GetStringValue())

	second, err := c.Append(ctx, "consent_requested", map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, first.Fields["hash"].GetStringValue(), second.Fields["previousHash"].GetStringValue())

	list, err := c.List(ctx, map[string]any{"operation": "consent_requested"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), list.Fields["count"].GetNumberValue())

	rng, err := c.List(ctx, map[string]any{"fromIndex": 1})
	require.NoError(t, err)
	assert.Equal(t, float64(1), rng.Fields["count"].GetNumberValue())

	res, err := c.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, res.Fields["verified"].GetBoolValue())
	assert.Equal(t, float64(2), res.Fields["checked"].GetNumberValue())

	tail, err := c.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Fields["hash"].GetStringValue(), tail.Fields["hash"].GetStringValue())
}

func TestLedgerService_errorCodes(t *testing.T) {
	ctx := context.Background()
	c := rpc.NewClient(dial(t, ledger.NewMemory(), nil))

	_, err := c.Tail(ctx)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Append(ctx, "", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.List(ctx, map[string]any{"fromIndex": 5, "toIndexInclusive": 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestLedgerService_appendRequiresToken(t *testing.T) {
	iss := auth.NewIssuer("s3cret", "hashledger", time.Hour)
	conn := dial(t, ledger.NewMemory(), iss)
	c := rpc.NewClient(conn)
	ctx := context.Background()

	_, err := c.Append(ctx, "op", nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	tok, err := iss.Issue("svc")
	require.NoError(t, err)
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
	_, err = c.Append(authed, "op", nil)
	assert.NoError(t, err)

	// Reads stay public.
	_, err = c.Verify(ctx)
	assert.NoError(t, err)
}

func TestHealthService(t *testing.T) {
	conn := dial(t, ledger.NewMemory(), nil)
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: rpc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
