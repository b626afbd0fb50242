// Package config parses the PBX server's command line, enforcing the
// strict CLI surface spec.md §6 demands: exactly the -p flag, nothing
// else. Ambient, operator-only knobs that spec.md never mentions (the
// admin HTTP bind address, the log level, a test-only registry capacity
// override) come from environment variables instead, so they can never
// trip the "any other argument is a usage error" rule.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config holds the parsed command line plus ambient environment overrides.
type Config struct {
	Port int

	// AdminAddr is where the read-only admin HTTP API listens
	// (SPEC_FULL.md §4.9). Empty disables it.
	AdminAddr string
	LogLevel  string

	// MaxExtensions overrides the registry's slot-table capacity. Zero
	// means "use the package default" (pbx.MaxExtensions).
	MaxExtensions int
}

// Parse parses args (excluding the program name) per spec.md §6: a single
// required flag, -p <port>. Any other flag, a positional argument, or a
// missing -p is a usage error.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("pbx", flag.ContinueOnError)
	port := fs.Int("p", 0, "TCP port to listen on")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("usage: pbx -p <port>: unexpected argument %q", fs.Arg(0))
	}
	if *port <= 0 {
		return nil, fmt.Errorf("usage: pbx -p <port>: -p is required")
	}

	cfg := &Config{
		Port:      *port,
		AdminAddr: "127.0.0.1:8081",
		LogLevel:  "info",
	}
	if v := os.Getenv("PBX_ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	if v := os.Getenv("PBX_ADMIN_ADDR_DISABLE"); v != "" {
		cfg.AdminAddr = ""
	}
	if v := os.Getenv("PBX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PBX_MAX_EXTENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxExtensions = n
		}
	}
	return cfg, nil
}
