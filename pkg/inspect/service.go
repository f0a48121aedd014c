package inspect

import (
	"context"

	"google.golang.org/grpc"
)

const decodeMethod = "/mqttwire.Inspector/Decode"

// DecodeRequest asks the inspector to decode one frame.
type DecodeRequest struct {
	Frame []byte `msgpack:"frame"`
}

// InspectorClient is the client API for the Inspector service.
type InspectorClient interface {
	Decode(ctx context.Context, in *DecodeRequest, opts ...grpc.CallOption) (*Report, error)
}

type inspectorClient struct {
	cc grpc.ClientConnInterface
}

// NewInspectorClient creates a new InspectorClient.
func NewInspectorClient(cc grpc.ClientConnInterface) InspectorClient {
	return &inspectorClient{cc}
}

func (c *inspectorClient) Decode(ctx context.Context, in *DecodeRequest, opts ...grpc.CallOption) (*Report, error) {
	out := new(Report)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, decodeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// InspectorServer is the server API for the Inspector service.
type InspectorServer interface {
	Decode(context.Context, *DecodeRequest) (*Report, error)
}

// RegisterInspectorServer registers the server.
func RegisterInspectorServer(s grpc.ServiceRegistrar, srv InspectorServer) {
	s.RegisterService(&_Inspector_serviceDesc, srv)
}

var _Inspector_serviceDesc = grpc.ServiceDesc{
	ServiceName: "mqttwire.Inspector",
	HandlerType: (*InspectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Decode",
			Handler:    _Inspector_Decode_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inspector",
}

func _Inspector_Decode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DecodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InspectorServer).Decode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: decodeMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InspectorServer).Decode(ctx, req.(*DecodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}
