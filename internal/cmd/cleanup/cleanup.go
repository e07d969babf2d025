// Package cleanup parses flags for the one-shot reclaim tool and runs a
// single bounded pass over the operational store.
package cleanup

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/singlesignon/identity/internal/platform/config"
	reclaim "github.com/singlesignon/identity/internal/services/identity/cleanup"
	"github.com/singlesignon/identity/internal/services/identity/storage/sqlite"
)

// Config holds cleanup command configuration.
type Config struct {
	DBPath        string        `env:"SINGLESIGNON_IDENTITY_DB_PATH"`
	Timeout       time.Duration `env:"SINGLESIGNON_CLEANUP_TIMEOUT" envDefault:"10m"`
	BatchSize     int
	MaxBatches    int
	SkewTolerance time.Duration
	DryRun        bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "identity.db")
	}
	cfg.BatchSize = 100
	cfg.MaxBatches = 10
	cfg.SkewTolerance = 5 * time.Second

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to identity sqlite database (default: SINGLESIGNON_IDENTITY_DB_PATH or data/identity.db)")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "expired records removed per store call")
	fs.IntVar(&cfg.MaxBatches, "max-batches", cfg.MaxBatches, "maximum batches per run")
	fs.DurationVar(&cfg.SkewTolerance, "skew-tolerance", cfg.SkewTolerance, "clock skew subtracted from the reclaim threshold")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall run timeout")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "report what would be reclaimed without deleting")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run opens the store and performs one bounded reclaim pass.
func Run(ctx context.Context, cfg Config, stdout io.Writer) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open identity sqlite store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	if cfg.DryRun {
		return reportPending(ctx, store, cfg, stdout)
	}

	scheduler := reclaim.New(store, store, reclaim.Config{
		BatchSize:     cfg.BatchSize,
		MaxBatches:    cfg.MaxBatches,
		SkewTolerance: cfg.SkewTolerance,
	})
	result, err := scheduler.RunOnce(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("reclaim expired records: %w", err)
	}

	fmt.Fprintf(stdout, "reclaimed %d grants and %d consents in %d batches\n",
		result.GrantsDeleted, result.ConsentsDeleted, result.Batches)
	if result.Truncated {
		fmt.Fprintln(stdout, "batch limit reached; run again to continue")
	}
	return nil
}

// reportPending counts expired rows without deleting them.
func reportPending(ctx context.Context, store *sqlite.Store, cfg Config, stdout io.Writer) error {
	threshold := time.Now().UTC().Add(-cfg.SkewTolerance)
	grants, consents, err := store.CountExpired(ctx, threshold)
	if err != nil {
		return fmt.Errorf("count expired records: %w", err)
	}
	fmt.Fprintf(stdout, "would reclaim %d grants and %d consents\n", grants, consents)
	return nil
}
