package store

import "errors"

var (
	// ErrNotFound is returned by single-row lookups that find nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrPayloadTooLarge is returned by Enqueue when the payload exceeds
	// scrub.QueuePayloadByteLimit.
	ErrPayloadTooLarge = errors.New("store: queue payload exceeds size limit")
	// ErrInvalidJSON is returned by Enqueue when the payload does not
	// parse as JSON.
	ErrInvalidJSON = errors.New("store: queue payload is not valid JSON")
	// ErrInvalidTransition is returned when a queue status transition
	// violates the pending -> processing -> {processed, failed, pending}
	// invariant (§3 QueueItem).
	ErrInvalidTransition = errors.New("store: invalid queue status transition")
)
