// Package exchange is the server shell (spec.md §4.5): the accept loop that
// spawns one Session per accepted connection, and the shutdown sequence it
// drives when its context is canceled. Signal wiring lives in cmd/pbx,
// which cancels that context. Everything it touches is one of the external
// collaborators spec.md §1 calls "plumbing" — socket accept, listener
// teardown — sketched only via the interfaces the core (package pbx)
// consumes.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/pbx/internal/config"
	"github.com/sebas/pbx/internal/pbx"
	"github.com/sebas/pbx/internal/pbx/admin"
)

const (
	adminShutdownTimeout    = 5 * time.Second
	registryShutdownTimeout = 30 * time.Second
)

// Exchange owns the listener, the registry, and (optionally) the admin
// HTTP server, and coordinates their shutdown.
type Exchange struct {
	cfg      *config.Config
	registry *pbx.Registry
	listener net.Listener
	admin    *admin.Server
}

// New builds an Exchange bound to cfg. It does not listen until Run is
// called.
func New(cfg *config.Config) *Exchange {
	capacity := pbx.MaxExtensions
	if cfg.MaxExtensions > 0 {
		capacity = cfg.MaxExtensions
	}
	registry := pbx.NewRegistryWithCapacity(capacity)

	ex := &Exchange{cfg: cfg, registry: registry}
	if cfg.AdminAddr != "" {
		ex.admin = admin.NewServer(cfg.AdminAddr, registry)
	}
	return ex
}

// Run listens on cfg.Port, accepts connections until ctx is canceled, and
// blocks until every Session has unregistered (spec.md §4.5, §4.3
// shutdown). ctx cancellation is the sole shutdown trigger; cmd/pbx wires
// it to SIGHUP.
func (ex *Exchange) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", ex.cfg.Port))
	if err != nil {
		return fmt.Errorf("exchange: listen: %w", err)
	}
	ex.listener = ln
	slog.Info("exchange: listening", "port", ex.cfg.Port, "capacity", ex.registry.Capacity())

	g, gctx := errgroup.WithContext(ctx)

	if ex.admin != nil {
		adminErrc := make(chan error, 1)
		ex.admin.Start(adminErrc)
		g.Go(func() error {
			select {
			case err := <-adminErrc:
				return fmt.Errorf("exchange: admin server: %w", err)
			case <-gctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
				defer cancel()
				return ex.admin.Shutdown(shutdownCtx)
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return ex.listener.Close()
	})

	// Draining the registry on cancellation runs concurrently with, not
	// after, acceptLoop's own wind-down: registry.Shutdown closes every
	// TU's sink, which is what unblocks each Session's read loop (spec.md
	// §4.3 shutdown, §4.5). acceptLoop's sessions.Wait() cannot return
	// until that happens, so joining it first (as a prior revision did)
	// deadlocks with any client still connected.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), registryShutdownTimeout)
		defer cancel()
		if err := ex.registry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("exchange: registry did not drain cleanly", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return ex.acceptLoop(gctx)
	})

	err = g.Wait()
	if err != nil && errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// acceptLoop accepts connections until ctx is canceled or Accept fails,
// spawning one goroutine per connection with no concurrency cap: the
// registry's slot table (ex.registry.Capacity()) is the only admission
// control spec.md prescribes (ErrRegistryFull on a full table).
func (ex *Exchange) acceptLoop(ctx context.Context) error {
	var sessions errgroup.Group
	for {
		conn, err := ex.listener.Accept()
		if err != nil {
			sessions.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("exchange: accept: %w", err)
		}
		sessions.Go(func() error {
			pbx.NewSession(conn, ex.registry).Serve()
			return nil
		})
	}
}
