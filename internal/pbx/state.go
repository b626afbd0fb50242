package pbx

import "fmt"

// State is the lifecycle state of a telephone unit (TU).
type State int

const (
	// OnHook is the initial, idle state: handset down, no peer.
	OnHook State = iota
	// Ringing is the callee side of an incoming call, awaiting pickup.
	Ringing
	// DialTone is after pickup from OnHook, awaiting a dial.
	DialTone
	// RingBack is the caller side of an outgoing call, awaiting the callee's pickup.
	RingBack
	// BusySignal is a terminal response to a dial that could not be connected.
	BusySignal
	// Connected is both legs of an established call.
	Connected
	// Error is a terminal response to a dial with no target.
	Error
)

// String returns the wire notification keyword for the state (see notify).
func (s State) String() string {
	switch s {
	case OnHook:
		return "ON HOOK"
	case Ringing:
		return "RINGING"
	case DialTone:
		return "DIAL TONE"
	case RingBack:
		return "RING BACK"
	case BusySignal:
		return "BUSY SIGNAL"
	case Connected:
		return "CONNECTED"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// hasPeer reports whether this state requires a non-nil peer (invariant 1/2, spec.md §3).
func (s State) hasPeer() bool {
	switch s {
	case Ringing, RingBack, Connected:
		return true
	default:
		return false
	}
}

// pairOf returns the state the peer must be in for (s, peer-state) to be a
// valid pairing per the pairing table in spec.md §3. ok is false if s never
// pairs with anything.
func pairOf(s State) (State, bool) {
	switch s {
	case RingBack:
		return Ringing, true
	case Ringing:
		return RingBack, true
	case Connected:
		return Connected, true
	default:
		return 0, false
	}
}
