// Package server runs the bridge: the observer's polling loop, the
// publish-all cycle and the gRPC, HTTP and metrics listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/api"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/storage"
)

// ObserverService is the health service name reported by the gRPC listener.
const ObserverService = "machinebridge.Observer"

const shutdownTimeout = 5 * time.Second

// Observer is what the server drives.
type Observer interface {
	api.Observer
	Start(ctx context.Context) bool
	Stop()
}

// Broker reports the broker connection state for health checks.
type Broker interface {
	Connected() bool
}

// Config holds listener addresses and the publish-all cadence. An empty
// address disables that listener.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	MetricsAddr     string
	PublishInterval time.Duration
}

type Deps struct {
	Observer Observer
	Broker   Broker
	// Store backs /machines/history; nil disables it.
	Store    storage.Store
	Gatherer prometheus.Gatherer
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// Server wires the observer to its listeners.
type Server struct {
	cfg    Config
	deps   Deps
	health *health.Server
	logger *zap.Logger
}

func New(cfg Config, deps Deps) *Server {
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		health: health.NewServer(),
		logger: deps.Logger,
	}
}

// Handler returns the HTTP shim.
func (s *Server) Handler() http.Handler {
	return api.NewHTTPHandler(s.deps.Observer, s.deps.Store, s.logger.Named("http"))
}

// Run starts everything and blocks until ctx is cancelled or a listener
// fails. The observer loop is stopped before Run returns.
func (s *Server) Run(ctx context.Context) error {
	var lis net.Listener
	if s.cfg.GRPCAddr != "" {
		var err error
		lis, err = net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", s.cfg.GRPCAddr, err)
		}
	}

	if !s.deps.Observer.Start(ctx) {
		if lis != nil {
			lis.Close()
		}
		return errors.New("observer already running")
	}
	defer s.deps.Observer.Stop()
	s.updateHealth()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.publishLoop(gctx)
		return nil
	})

	if lis != nil {
		gs := grpc.NewServer()
		healthpb.RegisterHealthServer(gs, s.health)
		reflection.Register(gs)
		g.Go(func() error {
			s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			s.health.Shutdown()
			gs.GracefulStop()
			return nil
		})
	}

	if s.cfg.HTTPAddr != "" {
		s.serveHTTP(g, gctx, "HTTP shim", s.cfg.HTTPAddr, s.Handler())
	}
	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		api.RegisterMetrics(mux, s.deps.Gatherer)
		s.serveHTTP(g, gctx, "metrics", s.cfg.MetricsAddr, mux)
	}

	err := g.Wait()
	s.logger.Info("shutdown complete")
	return err
}

func (s *Server) serveHTTP(g *errgroup.Group, ctx context.Context, name, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		s.logger.Info(name+" listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s listen: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(name+" shutdown", zap.Error(err))
		}
		return nil
	})
}

// publishLoop calls PublishAll every PublishInterval and refreshes the
// health status.
func (s *Server) publishLoop(ctx context.Context) {
	ticker := s.deps.Clock.NewTicker(s.cfg.PublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.deps.Observer.PublishAll(ctx)
			s.updateHealth()
		}
	}
}

func (s *Server) updateHealth() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.deps.Broker != nil && !s.deps.Broker.Connected() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ObserverService, status)
}

// HealthStatus returns the current status of service.
func (s *Server) HealthStatus(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
