package console

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/wppconsole/internal/api"
	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/profile"
	"github.com/matheus3301/wppconsole/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PushService is the health service name that reflects the push socket.
// The empty service name reports on the process itself.
const PushService = "wppconsole.Push"

// Server manages the gRPC control server of a running console.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	quit       chan struct{}
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
// The control service is registered when svc is non-nil.
func NewServer(p Params, b *bus.Bus, m *status.Machine, svc *api.ConsoleService, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	// Subscribe before reading the current state so no change is missed.
	ch, unsub := b.Subscribe(bus.SocketNamespace, 16)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(PushService, servingStatus(m.Current()))

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if svc != nil {
		svc.Register(srv)
	}

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		quit:       make(chan struct{}),
	}
	go s.watch(ch, unsub)
	return s, nil
}

func (s *Server) watch(ch <-chan bus.Event, unsub func()) {
	defer unsub()
	for {
		select {
		case evt := <-ch:
			if change, ok := evt.Payload.(status.StatusChange); ok {
				s.health.SetServingStatus(PushService, servingStatus(change.To))
			}
		case <-s.quit:
			return
		}
	}
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	close(s.quit)
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

func servingStatus(st status.State) healthpb.HealthCheckResponse_ServingStatus {
	if st == status.Connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
