package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

const (
	ServiceName         = "vmorg.v1.RequestService"
	createRequestMethod = "/" + ServiceName + "/CreateRequest"
	dailyStatsMethod    = "/" + ServiceName + "/DailyStats"
)

// CreateRequestIn wraps a machine envelope ({"type": "desktop", ...}).
type CreateRequestIn struct {
	Machine json.RawMessage `json:"machine"`
}

type CreateRequestOut struct {
	Status     string `json:"status"`
	Requestor  string `json:"requestor"`
	MachineKey string `json:"machine_key"`
}

type DailyStatsIn struct{}

// Engine is the part of the request engine exposed over gRPC.
type Engine interface {
	CreateNewRequest(ctx context.Context, m machine.Machine) error
	Snapshot() requestengine.Report
}

// RateLimiter admits or refuses a request for a requestor. api.Limiter satisfies it.
type RateLimiter interface {
	Allow(requestor string) bool
}

// RequestServiceServer is the server side of vmorg.v1.RequestService.
type RequestServiceServer interface {
	CreateRequest(ctx context.Context, in *CreateRequestIn) (*CreateRequestOut, error)
	DailyStats(ctx context.Context, in *DailyStatsIn) (*requestengine.Report, error)
}

// Server adapts an Engine to RequestServiceServer.
type Server struct {
	engine  Engine
	limiter RateLimiter
	logger  *zap.Logger
}

type ServerOption func(*Server)

func WithRateLimiter(l RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func NewServer(engine Engine, opts ...ServerOption) *Server {
	s := &Server{engine: engine, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs the service on gs.
func Register(gs *grpc.Server, srv RequestServiceServer) {
	gs.RegisterService(&serviceDesc, srv)
}

func (s *Server) CreateRequest(ctx context.Context, in *CreateRequestIn) (*CreateRequestOut, error) {
	if len(in.Machine) == 0 {
		return nil, status.Error(codes.InvalidArgument, "machine required")
	}
	m, err := machine.Decode(in.Machine)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.limiter != nil && !s.limiter.Allow(m.RequestorName()) {
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}

	err = s.engine.CreateNewRequest(ctx, m)
	switch {
	case err == nil:
		return &CreateRequestOut{Status: "created", Requestor: m.RequestorName(), MachineKey: m.Key()}, nil
	case errors.Is(err, requestengine.ErrUserNotEntitled):
		return nil, status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, requestengine.ErrMachineNotCreated):
		return nil, status.Error(codes.Aborted, err.Error())
	default:
		s.logger.Error("grpc create request", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create machine")
	}
}

func (s *Server) DailyStats(ctx context.Context, _ *DailyStatsIn) (*requestengine.Report, error) {
	r := s.engine.Snapshot()
	return &r, nil
}

func createRequestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateRequestIn)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RequestServiceServer).CreateRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: createRequestMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RequestServiceServer).CreateRequest(ctx, req.(*CreateRequestIn))
	}
	return interceptor(ctx, in, info, handler)
}

func dailyStatsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DailyStatsIn)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RequestServiceServer).DailyStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: dailyStatsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RequestServiceServer).DailyStats(ctx, req.(*DailyStatsIn))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RequestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateRequest", Handler: createRequestHandler},
		{MethodName: "DailyStats", Handler: dailyStatsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vmorg/v1/request_service",
}
