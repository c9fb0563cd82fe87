// Package txwatchv1 defines the txwatch.v1.Coordinator gRPC service. Messages
// are well-known protobuf types so no generated code is needed.
package txwatchv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified service name.
const ServiceName = "txwatch.v1.Coordinator"

// Method names.
const (
	MethodListPending  = "ListPending"
	MethodListHistory  = "ListHistory"
	MethodDecide       = "Decide"
	MethodClearPending = "ClearPending"
	MethodBadge        = "Badge"
)

// CoordinatorServer is implemented by the coordinator API server.
type CoordinatorServer interface {
	// ListPending returns {"calls": [...]}.
	ListPending(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ListHistory returns {"calls": [...]}.
	ListHistory(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Decide takes {"id", "approved"} and returns the decided call.
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ClearPending returns {"cleared": n}.
	ClearPending(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Badge returns {"text", "color"}.
	Badge(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterCoordinatorServer registers srv on s.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodListPending, Handler: unary(MethodListPending, newEmpty, CoordinatorServer.ListPending)},
		{MethodName: MethodListHistory, Handler: unary(MethodListHistory, newEmpty, CoordinatorServer.ListHistory)},
		{MethodName: MethodDecide, Handler: unary(MethodDecide, newStruct, CoordinatorServer.Decide)},
		{MethodName: MethodClearPending, Handler: unary(MethodClearPending, newEmpty, CoordinatorServer.ClearPending)},
		{MethodName: MethodBadge, Handler: unary(MethodBadge, newEmpty, CoordinatorServer.Badge)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "txwatch/v1/coordinator.proto",
}

func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }
func newStruct() *structpb.Struct { return &structpb.Struct{} }

func unary[Req proto.Message](method string, newReq func() Req, call func(CoordinatorServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(CoordinatorServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(Req))
		})
	}
}

// FullMethod returns the wire path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// CoordinatorClient is the client stub.
type CoordinatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCoordinatorClient creates a client stub over cc.
func NewCoordinatorClient(cc grpc.ClientConnInterface) *CoordinatorClient {
	return &CoordinatorClient{cc: cc}
}

func (c *CoordinatorClient) invoke(ctx context.Context, method string, in proto.Message, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoordinatorClient) ListPending(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListPending, &emptypb.Empty{}, opts...)
}

func (c *CoordinatorClient) ListHistory(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListHistory, &emptypb.Empty{}, opts...)
}

func (c *CoordinatorClient) Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDecide, in, opts...)
}

func (c *CoordinatorClient) ClearPending(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodClearPending, &emptypb.Empty{}, opts...)
}

func (c *CoordinatorClient) Badge(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodBadge, &emptypb.Empty{}, opts...)
}
