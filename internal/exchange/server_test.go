package exchange

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/sebas/pbx/internal/config"
)

// dialWithRetry dials addr, retrying briefly while Run's listener is still
// coming up, rather than reaching into Exchange's unexported fields from a
// second goroutine.
func dialWithRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		lastErr = err
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Dial(%s) never succeeded: %v", addr, lastErr)
	return nil
}

// S6 — graceful shutdown must complete, and bounded in time, even with a
// client connected: this is a regression test for a prior deadlock where
// registry draining was joined only after the accept loop's session group,
// which itself cannot finish until the registry closes its sinks.
func TestRunDrainsConnectedSessionOnShutdown(t *testing.T) {
	const addr = "127.0.0.1:18235"
	cfg := &config.Config{Port: 18235, MaxExtensions: 4}
	ex := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- ex.Run(ctx) }()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	r := bufio.NewReader(conn)
	type readResult struct {
		line string
		err  error
	}
	readCh := make(chan readResult, 1)
	go func() {
		line, err := r.ReadString('\n')
		readCh <- readResult{line, err}
	}()
	select {
	case res := <-readCh:
		if res.err != nil {
			t.Fatalf("failed to read the connected session's first notification: %v", res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the connected session's first notification")
	}

	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation with a client still connected")
	}
}
