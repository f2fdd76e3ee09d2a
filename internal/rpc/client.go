package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the hashledger.v1.Ledger service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Append appends an entry. data may be nil.
func (c *Client) Append(ctx context.Context, operation string, data map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	fields := map[string]any{"operation": operation}
	if data != nil {
		fields["data"] = data
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "Append", req, opts...)
}

// List lists entries. criteria uses the same keys as the HTTP query string.
func (c *Client) List(ctx context.Context, criteria map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(criteria)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "List", req, opts...)
}

// Verify verifies the whole chain.
func (c *Client) Verify(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Verify", &emptypb.Empty{}, opts...)
}

// Tail returns the newest entry.
func (c *Client) Tail(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Tail", &emptypb.Empty{}, opts...)
}
