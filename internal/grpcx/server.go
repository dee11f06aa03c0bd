// Package grpcx wires the custodian's gRPC surface to a listener with the
// same Start/WaitClosed lifecycle the other long-lived components use.
package grpcx

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type Server struct {
	srv  *grpc.Server
	port int
	log  *zap.SugaredLogger

	closeCh chan struct{}
}

func NewServer(port int, log *zap.SugaredLogger) *Server {
	return &Server{
		srv:     grpc.NewServer(),
		port:    port,
		log:     log,
		closeCh: make(chan struct{}),
	}
}

// Registrar exposes the underlying server for service registration.
func (s *Server) Registrar() grpc.ServiceRegistrar { return s.srv }

// Start listens and serves in a goroutine. When ctx is cancelled the
// server drains in-flight RPCs before WaitClosed unblocks; an abandoned
// reservation RPC still runs to completion on its detached context.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.srv.GracefulStop()
	}()
	go func() {
		defer close(s.closeCh)
		s.log.Infow("grpc listening", "port", s.port)
		if err := s.srv.Serve(lis); err != nil {
			s.log.Errorw("grpc serve exited", "error", err)
		}
	}()
	return nil
}

func (s *Server) WaitClosed() { <-s.closeCh }
