// Package main provides the one-shot expired-record reclaim tool.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	cleanupcmd "github.com/singlesignon/identity/internal/cmd/cleanup"
	"github.com/singlesignon/identity/internal/platform/config"
)

func main() {
	cfg, err := cleanupcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := cleanupcmd.Run(ctx, cfg, os.Stdout); err != nil {
		config.Exitf("Error: %v", err)
	}
}
