package identity

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("SINGLESIGNON_IDENTITY_PORT", "")

	fs := flag.NewFlagSet("identity", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8085 {
		t.Fatalf("expected default port 8085, got %d", cfg.Port)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("SINGLESIGNON_IDENTITY_PORT", "9000")

	fs := flag.NewFlagSet("identity", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", "9001"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9001 {
		t.Fatalf("expected flag to win, got %d", cfg.Port)
	}
}
