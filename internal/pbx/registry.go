package pbx

import (
	"context"
	"log/slog"
	"sync"
)

// MaxExtensions is the registry's fixed capacity (spec.md §3: "N is a
// compile-time constant... any value suffices as long as it is a declared
// invariant"). It may be overridden for tests via NewRegistryWithCapacity.
const MaxExtensions = 1024

// Registry is the PBX: a fixed-capacity table mapping extensions to TUs,
// the active-population counter, and the shutdown/quiescence gate
// (spec.md §3 "Registry", §4.3).
type Registry struct {
	mu       sync.Mutex
	slots    []*TU // slots[i] is the TU registered at extension i, or nil
	free     []int // free-list of unused extension numbers, LIFO
	active   int
	quiescentCtx    context.Context
	quiescentCancel context.CancelFunc
	shuttingDown    bool
}

// NewRegistry creates a registry with the default capacity (MaxExtensions).
func NewRegistry() *Registry {
	return NewRegistryWithCapacity(MaxExtensions)
}

// NewRegistryWithCapacity creates a registry with a caller-chosen capacity,
// mainly so tests can exercise the "registry full" path cheaply.
func NewRegistryWithCapacity(capacity int) *Registry {
	free := make([]int, capacity)
	for i := range free {
		free[i] = capacity - 1 - i // pop from the end; 0 comes out first
	}
	ctx, cancel := context.WithCancel(context.Background())
	// The registry starts empty, i.e. already quiescent: cancel immediately.
	cancel()
	return &Registry{
		slots:           make([]*TU, capacity),
		free:            free,
		quiescentCtx:    ctx,
		quiescentCancel: cancel,
	}
}

// Capacity returns the registry's extension-slot count.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Active returns the current count of registered TUs.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Quiescent reports whether active has reached zero (spec.md §8).
func (r *Registry) Quiescent() bool {
	r.mu.Lock()
	gate := r.quiescentCtx
	r.mu.Unlock()

	select {
	case <-gate.Done():
		return true
	default:
		return false
	}
}

// Register assigns tu the next free extension, places it in the registry,
// and arms the quiescence gate if this is the first active TU (spec.md
// §4.3 register). The extension is allocated from a free-list over
// [0, capacity) rather than derived from any transport-level identifier
// (SPEC_FULL.md §3, resolving the "extension = fd" Open Question).
func (r *Registry) Register(tu *TU) (int, error) {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return 0, ErrShuttingDown
	}
	if tu.Extension() != -1 {
		r.mu.Unlock()
		return 0, ErrAlreadyRegistered
	}
	if len(r.free) == 0 {
		r.mu.Unlock()
		return 0, ErrRegistryFull
	}
	ext := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.slots[ext] = tu
	tu.addRegistryRef()
	r.active++
	if r.active == 1 {
		r.quiescentCtx, r.quiescentCancel = context.WithCancel(context.Background())
	}
	r.mu.Unlock()

	// set_extension is invoked outside the registry lock: it writes to the
	// TU's sink, a suspension point the registry lock must not be held
	// across (spec.md §5).
	tu.setExtension(ext)
	slog.Info("registry: registered", "ext", ext, "active", r.Active())
	return ext, nil
}

// Unregister tears down any in-progress call on tu, removes it from its
// slot, releases the registration reference, and signals quiescence if
// active reaches zero (spec.md §4.3 unregister).
func (r *Registry) Unregister(tu *TU) error {
	ext := tu.Extension()

	r.mu.Lock()
	if ext < 0 || ext >= len(r.slots) || r.slots[ext] != tu {
		r.mu.Unlock()
		return ErrNotRegistered
	}

	// hangup runs while the registry lock is held: the one exception
	// spec.md §4.3/§5 calls out explicitly, so that a concurrent Dial
	// racing this Unregister always sees either the slot or nothing, never
	// a half-torn-down call.
	tu.Hangup()

	r.slots[ext] = nil
	r.free = append(r.free, ext)
	tu.dropRegistryRef()
	r.active--
	if r.active == 0 {
		r.quiescentCancel()
	}
	active := r.active
	r.mu.Unlock()

	slog.Info("registry: unregistered", "ext", ext, "active", active)
	return nil
}

// Dial resolves ext to a registered TU (or nil if unknown) under the
// registry lock, then invokes src.Dial(target) after releasing the lock
// (spec.md §4.3 dial): TU operations invoked from a registry operation
// take TU locks only after the registry lock is released. It returns
// ErrUnknownTarget when ext names no registered TU — src has already been
// notified (with ERROR if it was in DialTone, otherwise with its unchanged
// state; spec.md §4.1 dial), so this is
// purely for the caller's internal logging (spec.md §7 "Dial with unknown
// target extension").
func (r *Registry) Dial(src *TU, ext int) error {
	r.mu.Lock()
	srcExt := src.Extension()
	if srcExt < 0 || srcExt >= len(r.slots) || r.slots[srcExt] != src {
		r.mu.Unlock()
		return nil
	}
	var target *TU
	if ext >= 0 && ext < len(r.slots) {
		target = r.slots[ext]
	}
	r.mu.Unlock()

	src.Dial(target)
	if target == nil {
		return ErrUnknownTarget
	}
	return nil
}

// Shutdown closes every registered TU's sink (unblocking its Session's read
// loop), then waits for the active count to reach zero before returning
// (spec.md §4.3 shutdown). It is an error to call Shutdown more than once.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return ErrAlreadyShutdown
	}
	r.shuttingDown = true
	tus := make([]*TU, 0, r.active)
	for _, tu := range r.slots {
		if tu != nil {
			tus = append(tus, tu)
		}
	}
	gate := r.quiescentCtx
	r.mu.Unlock()

	for _, tu := range tus {
		tu.shutdown()
	}

	select {
	case <-gate.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Extensions returns a snapshot of every registered TU's state, used by the
// admin API (SPEC_FULL.md §4.9). The set of registered TUs is collected
// under the registry lock; each TU's fields are then read under its own
// lock (TU.Snapshot) after the registry lock is released, so the result is
// not one atomic view across all TUs.
func (r *Registry) Extensions() []Snapshot {
	r.mu.Lock()
	tus := make([]*TU, 0, r.active)
	for _, tu := range r.slots {
		if tu != nil {
			tus = append(tus, tu)
		}
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(tus))
	for _, tu := range tus {
		out = append(out, tu.Snapshot())
	}
	return out
}
