package config

import (
	"testing"
)

func TestParseRequiresPortFlag(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatal("Parse(nil) should error: -p is required")
	}
}

func TestParseRejectsPositionalArguments(t *testing.T) {
	if _, err := Parse([]string{"-p", "5000", "extra"}); err == nil {
		t.Fatal("Parse() should reject a stray positional argument")
	}
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	if _, err := Parse([]string{"-q", "5000"}); err == nil {
		t.Fatal("Parse() should reject a flag other than -p")
	}
}

func TestParseAcceptsPort(t *testing.T) {
	cfg, err := Parse([]string{"-p", "5000"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Port != 5000 {
		t.Fatalf("Port = %d, want 5000", cfg.Port)
	}
	if cfg.AdminAddr == "" {
		t.Fatal("AdminAddr should default to a non-empty address")
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("PBX_ADMIN_ADDR", "127.0.0.1:9999")
	t.Setenv("PBX_LOG_LEVEL", "debug")
	t.Setenv("PBX_MAX_EXTENSIONS", "16")

	cfg, err := Parse([]string{"-p", "5000"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.AdminAddr != "127.0.0.1:9999" {
		t.Fatalf("AdminAddr = %q, want %q", cfg.AdminAddr, "127.0.0.1:9999")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MaxExtensions != 16 {
		t.Fatalf("MaxExtensions = %d, want 16", cfg.MaxExtensions)
	}
}

func TestParseAdminAddrDisable(t *testing.T) {
	t.Setenv("PBX_ADMIN_ADDR_DISABLE", "1")

	cfg, err := Parse([]string{"-p", "5000"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.AdminAddr != "" {
		t.Fatalf("AdminAddr = %q, want empty (disabled)", cfg.AdminAddr)
	}
}
