// Package server exposes the coordinator over gRPC for out-of-process
// review surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	txwatchv1 "github.com/ppiankov/txwatch/api/txwatch/v1"
	"github.com/ppiankov/txwatch/internal/coordinator"
	"github.com/ppiankov/txwatch/internal/logging"
	"github.com/ppiankov/txwatch/internal/model"
	"github.com/ppiankov/txwatch/internal/relay"
)

// DefaultAddr is the loopback address the API listens on.
const DefaultAddr = "127.0.0.1:7545"

// Backend is the coordinator surface the server exposes.
type Backend interface {
	ListPending(ctx context.Context) ([]model.InterceptedCall, error)
	ListHistory(ctx context.Context) ([]model.InterceptedCall, error)
	Decide(ctx context.Context, id string, approved bool) (model.InterceptedCall, error)
	ClearPending(ctx context.Context) (int, error)
	Badge(ctx context.Context) (coordinator.Badge, error)
}

// Server implements txwatch.v1.Coordinator.
type Server struct {
	backend    Backend
	log        *slog.Logger
	grpcServer *grpc.Server
}

var _ txwatchv1.CoordinatorServer = (*Server)(nil)

// New creates a gRPC server over backend.
func New(backend Backend, logger *slog.Logger) *Server {
	s := &Server{backend: backend, log: logging.OrDiscard(logger)}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logCalls))
	txwatchv1.RegisterCoordinatorServer(s.grpcServer, s)
	return s
}

// Start listens on addr (loopback only) and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	if err := relay.CheckLoopback(addr); err != nil {
		return err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.log.Info("api listening", "addr", lis.Addr().String())
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	return s.ServeOn(lis)
}

// ServeOn serves on lis. Blocks until stopped.
func (s *Server) ServeOn(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// ListPending implements the ListPending RPC.
func (s *Server) ListPending(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	calls, err := s.backend.ListPending(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return txwatchv1.CallsToStruct(calls), nil
}

// ListHistory implements the ListHistory RPC.
func (s *Server) ListHistory(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	calls, err := s.backend.ListHistory(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return txwatchv1.CallsToStruct(calls), nil
}

// Decide implements the Decide RPC.
func (s *Server) Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, approved, err := txwatchv1.ParseDecideRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	call, err := s.backend.Decide(ctx, id, approved)
	if err != nil {
		return nil, toStatus(err)
	}
	return txwatchv1.CallToStruct(call), nil
}

// ClearPending implements the ClearPending RPC.
func (s *Server) ClearPending(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	n, err := s.backend.ClearPending(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"cleared": structpb.NewNumberValue(float64(n)),
	}}, nil
}

// Badge implements the Badge RPC.
func (s *Server) Badge(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	b, err := s.backend.Badge(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"text":  structpb.NewStringValue(b.Text),
		"color": structpb.NewStringValue(b.Color),
	}}, nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warn("rpc failed", "method", info.FullMethod, "error", err, "duration", time.Since(start))
	} else {
		s.log.Debug("rpc", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

// toStatus maps coordinator errors onto gRPC codes. Every failure is
// answered; nothing is left unacknowledged.
func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrDuplicateID):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
