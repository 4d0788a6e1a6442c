package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sessionstore.v1.Sessions"

// Full method names.
const (
	MethodGet        = "/" + ServiceName + "/Get"
	MethodSet        = "/" + ServiceName + "/Set"
	MethodInvalidate = "/" + ServiceName + "/Invalidate"
	MethodClear      = "/" + ServiceName + "/Clear"
	MethodHealth     = "/" + ServiceName + "/Health"
)

// SessionsServer is the server API of the Sessions service.
type SessionsServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Set(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Invalidate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Clear(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Health(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// ServiceDesc describes the Sessions service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: structHandler(MethodGet, SessionsServer.Get)},
		{MethodName: "Set", Handler: structHandler(MethodSet, SessionsServer.Set)},
		{MethodName: "Invalidate", Handler: structHandler(MethodInvalidate, SessionsServer.Invalidate)},
		{MethodName: "Clear", Handler: emptyHandler(MethodClear, SessionsServer.Clear)},
		{MethodName: "Health", Handler: emptyHandler(MethodHealth, SessionsServer.Health)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessionstore/v1/sessions.proto",
}

// RegisterSessionsServer registers srv with s.
func RegisterSessionsServer(s grpc.ServiceRegistrar, srv SessionsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func structHandler(fullMethod string, call func(SessionsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func emptyHandler(fullMethod string, call func(SessionsServer, context.Context, *emptypb.Empty) (*emptypb.Empty, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionsServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}
