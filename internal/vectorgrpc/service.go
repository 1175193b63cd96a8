// Package vectorgrpc exposes a vectorstore.Store over gRPC and provides the
// matching client, registered as the "grpc" vector provider.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code:
//
//	UpsertChunks({records: [{id, text, metadata}]})       -> {upserted}
//	QueryChunks({query, top_k, docs_only, filter})        -> {hits: [{id, score, metadata}]}
package vectorgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "vector.VectorService"

const (
	upsertMethod = "/" + ServiceName + "/UpsertChunks"
	queryMethod  = "/" + ServiceName + "/QueryChunks"
)

// DefaultTopK is used when a query omits top_k.
const DefaultTopK = 5

// VectorServiceServer is the server API for the vector facade.
type VectorServiceServer interface {
	UpsertChunks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	QueryChunks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the vector facade for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VectorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UpsertChunks", Handler: upsertChunksHandler},
		{MethodName: "QueryChunks", Handler: queryChunksHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vector.proto",
}

// RegisterVectorServiceServer registers srv on s.
func RegisterVectorServiceServer(s grpc.ServiceRegistrar, srv VectorServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func upsertChunksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VectorServiceServer).UpsertChunks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: upsertMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VectorServiceServer).UpsertChunks(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func queryChunksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VectorServiceServer).QueryChunks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: queryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VectorServiceServer).QueryChunks(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
