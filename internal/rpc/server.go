package rpc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/jmerrifield20/hashledger/internal/auth"
	"github.com/jmerrifield20/hashledger/internal/ledger"
)

// writeMethods require a caller token when an issuer is configured.
var writeMethods = map[string]bool{
	"/" + ServiceName + "/Append": true,
}

// NewServer builds a gRPC server exposing the ledger service, the standard
// health service and reflection.
func NewServer(store ledger.Store, issuer *auth.Issuer, logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger), callerInterceptor(issuer)),
	)
	Register(s, NewService(store, logger))

	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthSvc)
	healthSvc.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(s)
	return s
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

// callerInterceptor resolves the caller from the "authorization" metadata.
// Write methods are rejected without a valid token unless issuer is nil.
func callerInterceptor(issuer *auth.Issuer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if issuer == nil {
			return handler(auth.WithCaller(ctx, auth.Anonymous), req)
		}

		var token string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				token = strings.TrimPrefix(v[0], "Bearer ")
			}
		}

		if token != "" {
			caller, err := issuer.Verify(token)
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, "invalid token: "+err.Error())
			}
			return handler(auth.WithCaller(ctx, caller), req)
		}
		if writeMethods[info.FullMethod] {
			return nil, status.Error(codes.Unauthenticated, "bearer token required")
		}
		return handler(ctx, req)
	}
}
