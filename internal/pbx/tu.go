package pbx

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EOL is the line terminator used on outbound notifications.
const EOL = "\n"

// sink is the byte sink a TU writes its notifications to, bound to the
// client connection. Close shuts the connection down for both reading and
// writing, which is what unblocks a Session stuck in a read (spec.md §5).
type sink interface {
	io.Writer
	Close() error
}

var nextTUID atomic.Uint64

// TU is a single telephone unit: one connection's endpoint in the switchboard.
//
// peer is a cyclic reference (caller ↔ callee); it is not itself
// refcounted. The call binding that creates it holds one reference on each
// participant instead (spec.md §9 "Cyclic peer link").
type TU struct {
	id   uint64 // stable total order for paired-lock acquisition
	sink sink

	mu    sync.Mutex
	ext   int // -1 until registered
	state State
	peer  *TU
	refs  int
}

// NewTU creates a TU bound to a client sink. It starts OnHook, unregistered
// (ext -1), with zero references; the registry adds the registration
// reference when it places the TU in a slot.
func NewTU(s sink) *TU {
	return &TU{
		id:    nextTUID.Add(1),
		sink:  s,
		ext:   -1,
		state: OnHook,
	}
}

// Extension returns the TU's assigned extension, or -1 if it has never been
// registered. The extension is kept after Unregister.
func (t *TU) Extension() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ext
}

// State returns the TU's current state.
func (t *TU) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot is a consistent read of a TU's externally visible fields, used
// by the admin API (SPEC_FULL.md §4.9).
type Snapshot struct {
	Extension     int
	State         State
	PeerExtension int // -1 if no peer
}

func (t *TU) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	peerExt := -1
	if t.peer != nil {
		peerExt = t.peer.ext
	}
	return Snapshot{Extension: t.ext, State: t.state, PeerExtension: peerExt}
}

// setExtension assigns ext and emits the resulting OnHook notification.
// Called exactly once, by the registry, before any other state-visible
// operation (spec.md §4.1 set_extension).
func (t *TU) setExtension(ext int) {
	t.mu.Lock()
	t.ext = ext
	t.mu.Unlock()
	t.notify()
}

// notify writes the current-state notification line to the TU's sink. Must
// be called without t.mu held (writes may block on socket flow control).
func (t *TU) notify() {
	t.mu.Lock()
	line := t.notifyLineLocked()
	t.mu.Unlock()
	t.writeLine(line)
}

func (t *TU) notifyLineLocked() string {
	switch t.state {
	case OnHook:
		return fmt.Sprintf("ON HOOK %d", t.ext)
	case Connected:
		peerExt := -1
		if t.peer != nil {
			peerExt = t.peer.ext
		}
		return fmt.Sprintf("CONNECTED %d", peerExt)
	default:
		return t.state.String()
	}
}

// writeLine writes s + EOL to the TU's sink, tolerating short writes
// (spec.md §9 "partial writes on notifications"). A write error is logged
// and the sink is closed, which ends the Session's read loop so that it
// unregisters the TU (spec.md §7).
func (t *TU) writeLine(s string) {
	buf := []byte(s + EOL)
	for len(buf) > 0 {
		n, err := t.sink.Write(buf)
		if err != nil {
			// t.ext is set once at registration and immutable thereafter, so
			// this read is safe without t.mu even when writeLine runs with
			// the lock already held (Chat writes under the paired lock).
			slog.Debug("tu: write failed", "ext", t.ext, "error", err)
			_ = t.sink.Close()
			return
		}
		buf = buf[n:]
	}
}

// lockPair locks a and b in stable id order, avoiding the degenerate
// double-lock when a == b (spec.md §5 ordering rule). It returns the
// unlock function.
func lockPair(a, b *TU) func() {
	if a == b || b == nil {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Pickup implements spec.md §4.1 pickup(tu).
func (t *TU) Pickup() {
	t.mu.Lock()
	switch t.state {
	case OnHook:
		t.state = DialTone
		t.mu.Unlock()
		t.notify()
		return
	case Ringing:
		peer := t.peer
		t.mu.Unlock()
		unlock := lockPair(t, peer)
		// Re-check under the pair lock: the peer may have hung up between
		// the unlock above and reacquiring both locks. If so, that hangup
		// already notified us; there is nothing left to do here.
		if t.state != Ringing || t.peer != peer {
			unlock()
			return
		}
		t.state = Connected
		peer.state = Connected
		unlock()
		t.notify()
		peer.notify()
		return
	default:
		t.mu.Unlock()
		t.notify()
		return
	}
}

// Hangup implements spec.md §4.1 hangup(tu).
func (t *TU) Hangup() {
	t.mu.Lock()
	switch t.state {
	case Connected, Ringing, RingBack:
		peer := t.peer
		t.mu.Unlock()
		unlock := lockPair(t, peer)
		// Re-validate: the pairing may already have been torn down by the
		// peer's own concurrent hangup while we waited for both locks. If
		// so, that call already sent both notifications; there is nothing
		// left for us to do.
		if t.peer != peer {
			unlock()
			return
		}
		t.state = OnHook
		t.peer = nil
		t.refs--
		if peer != nil {
			// A connected peer keeps its line open (dial tone); a ringing or
			// ring-back peer goes back on hook (spec.md §4.1 hangup).
			if peer.state == Connected {
				peer.state = DialTone
			} else {
				peer.state = OnHook
			}
			peer.peer = nil
			peer.refs--
		}
		unlock()
		t.notify()
		if peer != nil {
			peer.notify()
		}
		return
	case DialTone, BusySignal, Error:
		t.state = OnHook
		t.mu.Unlock()
		t.notify()
		return
	default: // OnHook
		t.mu.Unlock()
		t.notify()
		return
	}
}

// Dial implements spec.md §4.1 dial(src, target). target is nil for a dial
// to an unknown extension (registry.Dial could not resolve it).
func (t *TU) Dial(target *TU) {
	t.mu.Lock()
	if t.state != DialTone {
		t.mu.Unlock()
		t.notify()
		return
	}
	if target == nil {
		t.state = Error
		t.mu.Unlock()
		t.notify()
		return
	}
	if target == t {
		t.state = BusySignal
		t.mu.Unlock()
		t.notify()
		return
	}
	t.mu.Unlock()

	unlock := lockPair(t, target)

	// Re-validate under both locks: another dial/hangup may have raced us
	// between the single-lock precondition check above and here.
	if t.state != DialTone {
		unlock()
		t.notify()
		return
	}
	if target.peer != nil || target.state != OnHook {
		t.state = BusySignal
		unlock()
		t.notify()
		return
	}

	t.peer = target
	target.peer = t
	t.refs++
	target.refs++
	t.state = RingBack
	target.state = Ringing
	unlock()
	t.notify()
	target.notify()
}

// Chat implements spec.md §4.1 chat(tu, msg). Both locks are held for the
// duration of the peer write, preserving the atomicity spec.md §9 calls out
// ("concurrent chat vs. hangup"): the peer cannot leave Connected while the
// message is in flight.
func (t *TU) Chat(msg string) {
	t.mu.Lock()
	if t.state != Connected {
		line := t.notifyLineLocked()
		t.mu.Unlock()
		t.writeLine(line)
		return
	}
	peer := t.peer
	t.mu.Unlock()

	unlock := lockPair(t, peer)
	defer unlock()

	if t.state != Connected || t.peer != peer {
		// The peer hung up between the unlock above and reacquiring both
		// locks; that hangup already notified us. Nothing left to do.
		return
	}
	t.writeLine(t.notifyLineLocked())
	peer.writeLine("CHAT " + msg)
}

// addRegistryRef and dropRegistryRef manage the registration reference
// described in spec.md §4.2 item 1. They are called only by the registry,
// under the registry lock, and take the TU lock internally.
func (t *TU) addRegistryRef() {
	t.mu.Lock()
	t.refs++
	t.mu.Unlock()
}

// dropRegistryRef releases the registration reference. It does not by
// itself tear down an in-progress call — the registry calls Hangup first
// (spec.md §4.3 unregister).
func (t *TU) dropRegistryRef() {
	t.mu.Lock()
	t.refs--
	refs := t.refs
	ext := t.ext
	t.mu.Unlock()
	if refs == 0 {
		slog.Debug("tu: refs reached zero, eligible for collection", "ext", ext)
	}
}

// shutdown closes the TU's sink for both reading and writing, which
// unblocks its Session's read loop (spec.md §4.3 shutdown, §5 suspension
// points).
func (t *TU) shutdown() {
	_ = t.sink.Close()
}
