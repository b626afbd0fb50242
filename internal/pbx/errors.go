package pbx

import "errors"

// Sentinel errors for registry and TU failure modes, checked with errors.Is.
var (
	// ErrRegistryFull indicates every extension slot is occupied.
	ErrRegistryFull = errors.New("registry: no free extension slot")

	// ErrNotRegistered indicates the TU is not (or is no longer) present in the registry.
	ErrNotRegistered = errors.New("registry: tu not registered")

	// ErrAlreadyRegistered indicates Register was called twice for the same TU.
	ErrAlreadyRegistered = errors.New("registry: tu already registered")

	// ErrShuttingDown indicates the registry is draining and accepts no new registrations.
	ErrShuttingDown = errors.New("registry: shutting down")

	// ErrUnknownTarget indicates a dial named an extension with no registered TU.
	ErrUnknownTarget = errors.New("tu: unknown target extension")

	// ErrAlreadyShutdown indicates Shutdown was called more than once.
	ErrAlreadyShutdown = errors.New("registry: already shut down")
)
