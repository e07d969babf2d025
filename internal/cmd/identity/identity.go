// Package identity parses identity store command flags and runs the server.
package identity

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/singlesignon/identity/internal/platform/config"
	"github.com/singlesignon/identity/internal/platform/otel"
	server "github.com/singlesignon/identity/internal/services/identity/app"
)

// Config holds identity store command configuration.
type Config struct {
	Port int `env:"SINGLESIGNON_IDENTITY_PORT" envDefault:"8085"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "The identity store gRPC server port")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the identity store server.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "identity")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	return server.Run(ctx, cfg.Port)
}
