package pbx

import (
	"bufio"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Session is the per-connection agent described in spec.md §4.4: it parses
// one command per line from a connection and drives the TU/registry
// operation the line names, and unregisters its TU when the connection
// ends.
type Session struct {
	id       string // correlation id for logging only, not wire-visible
	conn     net.Conn
	registry *Registry
}

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn, registry *Registry) *Session {
	return &Session{
		id:       uuid.NewString(),
		conn:     conn,
		registry: registry,
	}
}

// Serve creates the Session's TU, registers it, and runs the read loop
// until EOF, read error, or the connection is closed out from under it by
// Registry.Shutdown. It always unregisters the TU before returning
// (spec.md §4.4 step 4).
func (s *Session) Serve() {
	tu := NewTU(s.conn)
	ext, err := s.registry.Register(tu)
	if err != nil {
		// Table full, or the registry is draining: the TU was never given
		// an extension, so there is nothing to notify (spec.md §7
		// "Registration failure").
		slog.Warn("session: register failed", "session", s.id, "error", err)
		_ = s.conn.Close()
		return
	}
	slog.Info("session: started", "session", s.id, "ext", ext)

	defer func() {
		if err := s.registry.Unregister(tu); err != nil {
			slog.Warn("session: unregister failed", "session", s.id, "ext", ext, "error", err)
		}
		_ = s.conn.Close()
		slog.Info("session: ended", "session", s.id, "ext", ext)
	}()

	reader := bufio.NewReader(s.conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.dispatch(tu, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// dispatch parses one command line and invokes the matching TU/registry
// operation (spec.md §4.4 step 3 / §6 inbound commands). Unrecognized
// commands, and dial commands with a malformed argument, are silently
// ignored (spec.md §7 "Parse error").
func (s *Session) dispatch(tu *TU, line string) {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "pickup":
		tu.Pickup()
	case "hangup":
		tu.Hangup()
	case "dial":
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return
		}
		if err := s.registry.Dial(tu, n); err != nil {
			slog.Debug("session: dial failed", "session", s.id, "error", err)
		}
	case "chat":
		tu.Chat(strings.TrimLeft(rest, " "))
	default:
		// Unknown command: ignored silently.
	}
}
