// Package grpcapi exposes the gateway harness over gRPC using a
// hand-assembled grpc.ServiceDesc: requests and responses are
// google.protobuf.Struct values (which already satisfy proto.Message), so
// no generated service stubs are required.
package grpcapi

import (
	"context"
	"encoding/json"

	"github.com/coreflux/toolgateway/internal/gateway"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// GatewayServer is the interface grpc.Server.RegisterService checks the
// registered implementation against.
type GatewayServer interface {
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTools(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server adapts a *gateway.Harness to GatewayServer.
type Server struct {
	harness *gateway.Harness
}

// New constructs a Server.
func New(harness *gateway.Harness) *Server {
	return &Server{harness: harness}
}

// Invoke expects a Struct with "tool" (string) and "args" (object) fields
// and returns a Struct mirroring gateway.Result.
func (s *Server) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()
	tool, _ := m["tool"].(string)
	args, _ := m["args"].(map[string]any)
	traceID, _ := m["id"].(string)

	result := s.harness.Invoke(gateway.WithTraceID(ctx, traceID), tool, args)

	// Round-trip through JSON so arbitrary handler return values (structs,
	// slices, nested maps) become structpb-safe map[string]any first.
	out := map[string]any{
		"success":    result.Success,
		"request_id": result.RequestID,
		"code":       result.Code,
		"message":    result.Message,
	}
	if result.Value != nil {
		encoded, err := json.Marshal(result.Value)
		if err == nil {
			var v any
			if json.Unmarshal(encoded, &v) == nil {
				out["value"] = v
			}
		}
	}

	return structpb.NewStruct(out)
}

// ListTools ignores req and returns the discovery metadata for every
// registered tool under a "tools" key.
func (s *Server) ListTools(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	encoded, err := json.Marshal(map[string]any{"tools": s.harness.ListTools()})
	if err != nil {
		return nil, err
	}
	var v map[string]any
	if err := json.Unmarshal(encoded, &v); err != nil {
		return nil, err
	}
	return structpb.NewStruct(v)
}

func _Gateway_Invoke_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/toolgateway.v1.Gateway/Invoke"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GatewayServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Gateway_ListTools_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).ListTools(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/toolgateway.v1.Gateway/ListTools"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GatewayServer).ListTools(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is registered on a *grpc.Server via RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "toolgateway.v1.Gateway",
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: _Gateway_Invoke_Handler},
		{MethodName: "ListTools", Handler: _Gateway_ListTools_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "toolgateway/gateway.proto",
}

// RegisterGatewayServer registers srv on s using ServiceDesc.
func RegisterGatewayServer(s *grpc.Server, srv GatewayServer) {
	s.RegisterService(&ServiceDesc, srv)
}
