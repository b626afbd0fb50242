package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebas/pbx/internal/banner"
	"github.com/sebas/pbx/internal/config"
	"github.com/sebas/pbx/internal/exchange"
	"github.com/sebas/pbx/internal/logger"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	adminLine := "disabled"
	if cfg.AdminAddr != "" {
		adminLine = cfg.AdminAddr
	}
	banner.Print("PBX", []banner.ConfigLine{
		{Label: "Port", Value: fmt.Sprintf("%d", cfg.Port)},
		{Label: "Admin API", Value: adminLine},
		{Label: "Extensions", Value: fmt.Sprintf("%d", extensionsOrDefault(cfg))},
		{Label: "Log Level", Value: cfg.LogLevel},
	})

	run(exchange.New(cfg))
}

func extensionsOrDefault(cfg *config.Config) int {
	if cfg.MaxExtensions > 0 {
		return cfg.MaxExtensions
	}
	return 1024
}

// run drives the exchange to completion, treating SIGHUP as the graceful
// shutdown trigger spec.md §6 assigns it: stop accepting, drain every
// registered TU, then exit. SIGINT/SIGTERM are honored the same way so the
// process behaves under ordinary process supervision too. SIGPIPE is
// ignored outright — spec.md §6 requires a write to an already-closed
// connection to surface as an error return, never a process-terminating
// signal.
func run(ex *exchange.Exchange) {
	signal.Ignore(syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		slog.Info("pbx: received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := ex.Run(ctx); err != nil {
		slog.Error("pbx: exchange stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("pbx: shutdown complete")
}
