package testutil

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/intelligence/common"
)

// PredictHandler answers one Predict call of the fake inference server.
type PredictHandler func(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error)

// InferenceServer is an in-process gRPC inference service on a bufconn
// listener, speaking the same Struct-based protocol as a real model server.
type InferenceServer struct {
	Health *health.Server

	lis   *bufconn.Listener
	srv   *grpc.Server
	calls atomic.Int64
}

// StartInferenceServer starts a server that answers Predict with h. It is
// stopped when the test ends.
func StartInferenceServer(t testing.TB, h PredictHandler) *InferenceServer {
	t.Helper()
	s := &InferenceServer{
		Health: health.NewServer(),
		lis:    bufconn.Listen(1 << 20),
		srv:    grpc.NewServer(),
	}

	desc := grpc.ServiceDesc{
		ServiceName: common.InferenceServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Predict",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				s.calls.Add(1)
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				var req common.PredictRequest
				if err := common.DecodeStruct(in, &req); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				resp, err := h(ctx, &req)
				if err != nil {
					return nil, err
				}
				out, err := common.EncodeStruct(resp)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return out, nil
			},
		}},
		Metadata: "medextract/serving/v1/inference.proto",
	}
	s.srv.RegisterService(&desc, struct{}{})
	healthpb.RegisterHealthServer(s.srv, s.Health)

	go func() { _ = s.srv.Serve(s.lis) }()
	t.Cleanup(func() {
		s.srv.Stop()
		_ = s.lis.Close()
	})
	return s
}

// Addr is the dial target to pair with DialOption.
func (s *InferenceServer) Addr() string { return "bufnet" }

// DialOption routes connections to the in-process listener.
func (s *InferenceServer) DialOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return s.lis.DialContext(ctx)
	})
}

// Calls returns the number of Predict calls received.
func (s *InferenceServer) Calls() int64 { return s.calls.Load() }

// Client returns a serving client connected to the server.
func (s *InferenceServer) Client(t testing.TB, opts ...common.ServingOption) common.ServingClient {
	t.Helper()
	opts = append(opts, common.WithDialOptions(s.DialOption()))
	c, err := common.NewGRPCServingClient(s.Addr(), opts...)
	if err != nil {
		t.Fatalf("dial inference server: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
