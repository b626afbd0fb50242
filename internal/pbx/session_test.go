package pbx

import (
	"bufio"
	"net"
	"testing"
	"time"
)

// readLine reads one notification line with a bound, failing the test on
// timeout rather than hanging forever if a Session never replies.
func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("ReadString() error = %v", res.err)
		}
		return res.line[:len(res.line)-1]
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a notification line")
		return ""
	}
}

func TestSessionSelfDialOverTheWire(t *testing.T) {
	registry := NewRegistryWithCapacity(8)
	client, server := net.Pipe()
	defer client.Close()

	go NewSession(server, registry).Serve()

	r := bufio.NewReader(client)
	if got, want := readLine(t, r), "ON HOOK 0"; got != want {
		t.Fatalf("on connect: got %q, want %q", got, want)
	}

	if _, err := client.Write([]byte("pickup\n")); err != nil {
		t.Fatalf("Write(pickup) error = %v", err)
	}
	if got, want := readLine(t, r), "DIAL TONE"; got != want {
		t.Fatalf("after pickup: got %q, want %q", got, want)
	}

	if _, err := client.Write([]byte("dial 0\n")); err != nil {
		t.Fatalf("Write(dial) error = %v", err)
	}
	if got, want := readLine(t, r), "BUSY SIGNAL"; got != want {
		t.Fatalf("after self-dial: got %q, want %q", got, want)
	}

	if _, err := client.Write([]byte("hangup\n")); err != nil {
		t.Fatalf("Write(hangup) error = %v", err)
	}
	if got, want := readLine(t, r), "ON HOOK 0"; got != want {
		t.Fatalf("after hangup: got %q, want %q", got, want)
	}
}

func TestSessionUnregistersOnDisconnect(t *testing.T) {
	registry := NewRegistryWithCapacity(8)
	client, server := net.Pipe()

	serveDone := make(chan struct{})
	go func() {
		NewSession(server, registry).Serve()
		close(serveDone)
	}()

	r := bufio.NewReader(client)
	readLine(t, r) // ON HOOK 0

	client.Close()

	select {
	case <-serveDone:
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after the connection closed")
	}

	if registry.Active() != 0 {
		t.Fatalf("Active() after disconnect = %d, want 0", registry.Active())
	}
}

func TestSessionUnknownCommandIgnored(t *testing.T) {
	registry := NewRegistryWithCapacity(8)
	client, server := net.Pipe()
	defer client.Close()

	go NewSession(server, registry).Serve()

	r := bufio.NewReader(client)
	readLine(t, r) // ON HOOK 0

	if _, err := client.Write([]byte("frobnicate\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// Follow with a recognized command: if the unknown one had produced a
	// notification, it would show up here instead of DIAL TONE.
	if _, err := client.Write([]byte("pickup\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got, want := readLine(t, r), "DIAL TONE"; got != want {
		t.Fatalf("got %q, want %q (unknown command should have produced nothing)", got, want)
	}
}
