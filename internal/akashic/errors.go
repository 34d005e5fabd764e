package akashic

import "errors"

// Sentinel errors for the Akashic Record's typed failure taxonomy
// (SPEC_FULL.md §4.2, §7). Callers should use errors.Is against these.
var (
	// ErrInvalidStreamId is returned when a stream ID fails validation:
	// not 1-128 chars of [A-Za-z0-9_-], or contains path separators/"..".
	ErrInvalidStreamId = errors.New("akashic: invalid stream id")

	// ErrChainMismatch is returned by VerifyChain when an event's prev_hash
	// does not match its predecessor's recomputed hash.
	ErrChainMismatch = errors.New("akashic: hash chain mismatch")

	// ErrCorruptEvent is returned when a persisted line cannot be parsed,
	// or whose own hash does not match its content.
	ErrCorruptEvent = errors.New("akashic: corrupt event")

	// ErrStreamNotFound is returned by operations that require an existing
	// stream directory (e.g. export) when none exists.
	ErrStreamNotFound = errors.New("akashic: stream not found")

	// ErrVaultLocked is returned by Open when another process already
	// holds the Vault's exclusive lock.
	ErrVaultLocked = errors.New("akashic: vault is locked by another process")
)
