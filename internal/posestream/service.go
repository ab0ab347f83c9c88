// Package posestream serves localisation frames to remote viewers over a
// server-streaming gRPC method. Messages are google.protobuf.Struct so
// clients need no generated code.
package posestream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified service name.
	ServiceName = "gridloc.PoseStream"
	// SubscribeMethod is the full method path.
	SubscribeMethod = "/" + ServiceName + "/Subscribe"
)

// PoseStreamServer is the server API.
type PoseStreamServer interface {
	// Subscribe streams frames until the client goes away. The request may
	// set "particles" (bool) and "max_particles" (number).
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PoseStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "gridloc/posestream.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PoseStreamServer).Subscribe(req, stream)
}

// RegisterService registers srv with a gRPC server.
func RegisterService(s grpc.ServiceRegistrar, srv PoseStreamServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ClientStream receives frames on the client side.
type ClientStream struct {
	grpc.ClientStream
}

// Recv blocks for the next frame.
func (c *ClientStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Subscribe opens a frame stream on cc.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, req *structpb.Struct, opts ...grpc.CallOption) (*ClientStream, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	cs, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open pose stream: %w", err)
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &ClientStream{cs}, nil
}
