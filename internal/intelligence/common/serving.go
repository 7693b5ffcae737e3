package common

import (
	"context"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// Full gRPC method name of the inference service. Requests and responses are
// google.protobuf.Struct messages carrying PredictRequest / PredictResponse.
const (
	InferenceServiceName = "medextract.serving.v1.Inference"
	PredictMethod        = "/" + InferenceServiceName + "/Predict"
)

// ServingClient talks to a remote model server.
type ServingClient interface {
	Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error)
	Healthy(ctx context.Context) error
	Close() error
}

var (
	ErrServingUnavailable = errors.New(errors.ErrCodeServiceUnavailable, "serving unavailable")
	ErrClientClosed       = errors.New(errors.ErrCodeServiceUnavailable, "serving client closed")
)

type servingConfig struct {
	timeout     time.Duration
	dialOptions []grpc.DialOption
	metrics     IntelligenceMetrics
	logger      logging.Logger
}

// ServingOption configures a gRPC serving client.
type ServingOption func(*servingConfig)

// WithServingTimeout bounds each Predict call.
func WithServingTimeout(d time.Duration) ServingOption {
	return func(c *servingConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialOptions appends grpc dial options (credentials, dialers).
func WithDialOptions(opts ...grpc.DialOption) ServingOption {
	return func(c *servingConfig) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// WithServingMetrics injects a metrics collector.
func WithServingMetrics(m IntelligenceMetrics) ServingOption {
	return func(c *servingConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithServingLogger injects a logger.
func WithServingLogger(l logging.Logger) ServingOption {
	return func(c *servingConfig) {
		c.logger = logging.OrNop(l)
	}
}

type grpcServingClient struct {
	addr   string
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    *servingConfig
	closed atomic.Bool
}

// NewGRPCServingClient creates a client for the inference service at addr.
// The connection is established lazily.
func NewGRPCServingClient(addr string, opts ...ServingOption) (ServingClient, error) {
	if addr == "" {
		return nil, errors.InvalidInput("serving address cannot be empty")
	}
	cfg := &servingConfig{
		timeout: 10 * time.Second,
		metrics: NewNoopIntelligenceMetrics(),
		logger:  logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(cfg)
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, cfg.dialOptions...)
	conn, err := grpc.Dial(addr, dialOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "dial serving endpoint").WithDetail(addr)
	}
	return &grpcServingClient{
		addr:   addr,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		cfg:    cfg,
	}, nil
}

func (c *grpcServingClient) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	if c.closed.Load() {
		return nil, errors.ModelUnavailable(req.ModelName, ErrClientClosed)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	in, err := EncodeStruct(req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	start := time.Now()
	out := new(structpb.Struct)
	err = c.conn.Invoke(callCtx, PredictMethod, in, out)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	c.cfg.metrics.RecordInference(ctx, &InferenceMetricParams{
		ModelName:  req.ModelName,
		Backend:    string(BackendServing),
		TaskType:   string(req.Task),
		DurationMs: elapsed,
		Success:    err == nil,
		BatchSize:  len(req.Texts),
	})
	if err != nil {
		c.cfg.logger.Warn("predict call failed",
			logging.String("addr", c.addr),
			logging.String("model", req.ModelName),
			logging.Err(err))
		return nil, classifyRPCError(req.ModelName, err)
	}

	resp := &PredictResponse{}
	if err := DecodeStruct(out, resp); err != nil {
		return nil, err
	}
	if err := resp.Validate(req); err != nil {
		return nil, err
	}
	return resp, nil
}

// classifyRPCError maps transport failures to ModelUnavailable; everything
// else is an external-service error of this call only.
func classifyRPCError(model string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unimplemented:
		return errors.ModelUnavailable(model, err)
	default:
		return errors.Wrap(err, errors.ErrCodeExternalService, "predict call failed").WithDetail(model)
	}
}

func (c *grpcServingClient) Healthy(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()
	resp, err := c.health.Check(callCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return ErrServingUnavailable.WithCause(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return ErrServingUnavailable.WithDetail(resp.GetStatus().String())
	}
	return nil
}

func (c *grpcServingClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
