// Package server wires the identity store runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/singlesignon/identity/internal/platform/config"
	"github.com/singlesignon/identity/internal/services/identity/cleanup"
	"github.com/singlesignon/identity/internal/services/identity/configstore"
	"github.com/singlesignon/identity/internal/services/identity/storage/sqlite"
	"github.com/singlesignon/identity/internal/services/identity/subject"
)

type serverEnv struct {
	DBPath            string        `env:"SINGLESIGNON_IDENTITY_DB_PATH"`
	CleanupEnabled    bool          `env:"SINGLESIGNON_CLEANUP_ENABLED" envDefault:"true"`
	CleanupInterval   time.Duration `env:"SINGLESIGNON_CLEANUP_INTERVAL" envDefault:"5m"`
	CleanupBatchSize  int           `env:"SINGLESIGNON_CLEANUP_BATCH_SIZE" envDefault:"100"`
	CleanupMaxBatches int           `env:"SINGLESIGNON_CLEANUP_MAX_BATCHES" envDefault:"10"`
	CleanupSkew       time.Duration `env:"SINGLESIGNON_CLEANUP_SKEW_TOLERANCE" envDefault:"5s"`
	SubjectIssuer     string        `env:"SINGLESIGNON_SUBJECT_ISSUER"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "identity.db")
	}
	return cfg
}

// Server hosts the operational store runtime: durable storage, the cached
// configuration provider, the reclaim scheduler, and a gRPC health surface.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *sqlite.Store
	provider   *configstore.Provider
	scheduler  *cleanup.Scheduler
	verifier   *subject.Config
}

// New creates a configured identity store server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured identity store server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	env := loadServerEnv()
	store, err := openIdentityStore(env.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	provider := configstore.New(store)
	scheduler := cleanup.New(store, store, cleanup.Config{
		Enabled:       env.CleanupEnabled,
		Interval:      env.CleanupInterval,
		BatchSize:     env.CleanupBatchSize,
		MaxBatches:    env.CleanupMaxBatches,
		SkewTolerance: env.CleanupSkew,
	})

	// Assertion verification is optional: a deployment that only serves
	// client-credential grants never sees subject assertions.
	var verifier *subject.Config
	if strings.TrimSpace(env.SubjectIssuer) != "" {
		cfg, err := subject.LoadConfigFromEnv(nil)
		if err != nil {
			_ = listener.Close()
			_ = store.Close()
			return nil, fmt.Errorf("load subject assertion config: %w", err)
		}
		verifier = &cfg
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		provider:   provider,
		scheduler:  scheduler,
		verifier:   verifier,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Store returns the durable store backing this server.
func (s *Server) Store() *sqlite.Store {
	if s == nil {
		return nil
	}
	return s.store
}

// Provider returns the cached configuration provider.
func (s *Server) Provider() *configstore.Provider {
	if s == nil {
		return nil
	}
	return s.provider
}

// VerifySubject validates a subject assertion against the configured
// identity delegate.
func (s *Server) VerifySubject(assertion string) (subject.Subject, error) {
	if s == nil || s.verifier == nil {
		return subject.Subject{}, errors.New("subject assertion verifier is not configured")
	}
	return subject.Verify(assertion, *s.verifier)
}

// Run creates and serves an identity store server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server and reclaim scheduler until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.Close()

	go s.scheduler.Run(serverCtx)

	log.Printf("identity store listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close identity store: %v", err)
		}
	}
}

func openIdentityStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity sqlite store: %w", err)
	}
	return store, nil
}
