// Package rpc serves the ledger over gRPC.
//
// Messages are the protobuf well-known types (google.protobuf.Struct and
// google.protobuf.Empty), so the service needs no generated code. The JSON
// shape of each Struct matches the HTTP API.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jmerrifield20/hashledger/internal/auth"
	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/internal/query"
	"github.com/jmerrifield20/hashledger/internal/verifier"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "hashledger.v1.Ledger"

// LedgerServer is the server API for the hashledger.v1.Ledger service.
type LedgerServer interface {
	Append(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Verify(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Tail(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the hashledger.v1.Ledger service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Append", Handler: structHandler("Append", LedgerServer.Append)},
		{MethodName: "List", Handler: structHandler("List", LedgerServer.List)},
		{MethodName: "Verify", Handler: emptyHandler("Verify", LedgerServer.Verify)},
		{MethodName: "Tail", Handler: emptyHandler("Tail", LedgerServer.Tail)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hashledger/v1/ledger.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type grpcHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func structHandler(method string, call func(LedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpcHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServer), ctx, req.(*structpb.Struct))
		})
	}
}

func emptyHandler(method string, call func(LedgerServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpcHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServer), ctx, req.(*emptypb.Empty))
		})
	}
}

// Service implements LedgerServer on top of a ledger.Store.
type Service struct {
	store  ledger.Store
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(store ledger.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Append implements LedgerServer.Append. The request carries "operation"
// and an optional "data" object.
func (s *Service) Append(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	op := req.GetFields()["operation"].GetStringValue()
	var data map[string]any
	if v := req.GetFields()["data"].GetStructValue(); v != nil {
		data = v.AsMap()
	}

	entry, err := s.store.Append(ctx, op, data)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("ledger entry appended",
		zap.Int64("idx", entry.Index),
		zap.String("operation", entry.Operation),
		zap.String("caller", auth.CallerFrom(ctx).Subject),
	)
	return toStruct(entry)
}

// List implements LedgerServer.List. Recognised request fields are
// "operation", "textQuery", "fromIndex" and "toIndexInclusive".
func (s *Service) List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	crit := query.Criteria{
		Operation: f["operation"].GetStringValue(),
		TextQuery: f["textQuery"].GetStringValue(),
	}

	var (
		entries []*ledger.Entry
		err     error
	)
	fromV, hasFrom := f["fromIndex"]
	toV, hasTo := f["toIndexInclusive"]
	if hasFrom || hasTo {
		from, to := int64(0), int64(math.MaxInt64)
		if hasFrom {
			from = int64(fromV.GetNumberValue())
		}
		if hasTo {
			to = int64(toV.GetNumberValue())
		}
		entries, err = s.store.ReadRange(ctx, from, to)
	} else {
		entries, err = s.store.ReadAll(ctx)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	filtered := query.Filter(entries, crit)
	return toStruct(map[string]any{
		"entries": filtered,
		"count":   len(filtered),
		"stats":   query.Summarize(entries, filtered),
	})
}

// Verify implements LedgerServer.Verify over the whole chain.
func (s *Service) Verify(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	entries, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	res := verifier.Verify(entries, verifier.WithHasher(s.store.Hasher()))
	if !res.Verified {
		s.logger.Warn("ledger integrity check failed",
			zap.Int64("failed_at_index", *res.FailedAtIndex),
			zap.String("reason", string(res.Reason)),
		)
	}
	return toStruct(res)
}

// Tail implements LedgerServer.Tail.
func (s *Service) Tail(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	entry, err := s.store.Tail(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(entry)
}

// toStruct converts v through its JSON form so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrEmpty):
		return status.Error(codes.NotFound, err.Error())
	case ledger.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}
