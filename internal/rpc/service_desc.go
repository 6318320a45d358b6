package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// nodeServiceDesc is a hand-registered grpc.ServiceDesc standing in for the
// protoc-gen-go-grpc stub this build has no generated source for (see
// DESIGN.md). Method handlers decode through whatever codec the client
// negotiated (jsonCodec here) rather than a fixed protobuf unmarshaler.
var nodeServiceDesc = grpc.ServiceDesc{
	ServiceName: "bedrock.rpc.v1.NodeService",
	HandlerType: (*NodeServiceImpl)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: nodeServiceGetStatusHandler},
		{MethodName: "SubmitTransaction", Handler: nodeServiceSubmitTransactionHandler},
		{MethodName: "GetBlock", Handler: nodeServiceGetBlockHandler},
		{MethodName: "QueryState", Handler: nodeServiceQueryStateHandler},
		{MethodName: "GetValidators", Handler: nodeServiceGetValidatorsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bedrock/rpc/v1/node.proto",
}

func nodeServiceGetStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*NodeServiceImpl)
	if interceptor == nil {
		return svc.GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/bedrock.rpc.v1.NodeService/GetStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.GetStatus(ctx, req.(*GetStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func nodeServiceSubmitTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitTransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*NodeServiceImpl)
	if interceptor == nil {
		return svc.SubmitTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/bedrock.rpc.v1.NodeService/SubmitTransaction"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.SubmitTransaction(ctx, req.(*SubmitTransactionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func nodeServiceGetBlockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetBlockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*NodeServiceImpl)
	if interceptor == nil {
		return svc.GetBlock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/bedrock.rpc.v1.NodeService/GetBlock"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.GetBlock(ctx, req.(*GetBlockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func nodeServiceQueryStateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*NodeServiceImpl)
	if interceptor == nil {
		return svc.QueryState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/bedrock.rpc.v1.NodeService/QueryState"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.QueryState(ctx, req.(*QueryStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func nodeServiceGetValidatorsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetValidatorsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*NodeServiceImpl)
	if interceptor == nil {
		return svc.GetValidators(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/bedrock.rpc.v1.NodeService/GetValidators"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.GetValidators(ctx, req.(*GetValidatorsRequest))
	}
	return interceptor(ctx, in, info, handler)
}
