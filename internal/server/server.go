package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"Clawboard/internal/observability"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server wraps the gRPC server and the HTTP gateway.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       ClawboardServer
	healthServer  *health.Server
	healthChecker *observability.HealthChecker
	commands      bool
	logger        zerolog.Logger
}

// Deps holds everything the RPC surface needs.
type Deps struct {
	Service       ClawboardServer
	HealthChecker *observability.HealthChecker
	// GatewayCommands mounts POST /v1/commands/{type} on the HTTP gateway.
	GatewayCommands bool
	Logger          zerolog.Logger
}

// New creates a server with the Clawboard and gRPC health services
// registered.
func New(grpcAddr, httpAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(statusInterceptor(deps.Logger)))

	RegisterClawboardServer(grpcServer, deps.Service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       deps.Service,
		healthServer:  healthServer,
		healthChecker: deps.HealthChecker,
		commands:      deps.GatewayCommands,
		logger:        deps.Logger,
	}
}

// SetServing flips the gRPC health status once recovery completed.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
	s.healthServer.SetServingStatus(ServiceName, status)
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on an existing listener until ctx is cancelled.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler returns the HTTP handler: the JSON gateway plus health and
// metrics endpoints.
func (s *Server) Handler() (http.Handler, error) {
	gateway, err := NewGatewayMux(s.service, s.commands)
	if err != nil {
		return nil, fmt.Errorf("gateway routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", gateway)
	return httpMux, nil
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking).
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// statusInterceptor converts engine errors into gRPC statuses and logs
// failed calls.
func statusInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug().
				Err(err).
				Str("method", info.FullMethod).
				Dur("elapsed", time.Since(start)).
				Msg("rpc failed")
			return nil, toStatus(err)
		}
		return resp, nil
	}
}
