// Package kvstore implements the Profile Store Adapter (§4.A): the sole
// component that talks to the remote durable key-value store. It exposes
// load/optimistic-update primitives with retry/backoff and typed failure
// classification, matching spec §7's error-kind taxonomy.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// Mutator transforms the latest remote value into the value to commit.
// Returning ErrAbortUpdate cancels the update without retrying (used by
// callers that decide, after inspecting the latest value, that no write
// is needed).
type Mutator func(old []byte, exists bool) (newValue []byte, err error)

// ErrAbortUpdate lets a Mutator cancel an Update cleanly.
var ErrAbortUpdate = errors.New("kvstore: update aborted by mutator")

// Kind classifies a Store failure per spec §7.
type Kind int

const (
	KindTransient Kind = iota // retryable: network blip, timeout, connection reset
	KindPermanent             // not retryable: malformed response, quota exhausted
)

// StoreError is the typed failure surfaced on unrecoverable Update/Load
// errors (§4.A "on unrecoverable failure it surfaces a typed failure").
type StoreError struct {
	Kind    Kind
	Key     string
	Attempt int
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("kvstore: %s (key=%s attempt=%d): %v", kindName(e.Kind), e.Key, e.Attempt, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func kindName(k Kind) string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Store is the remote KV contract (§4.A, §6): Keys are opaque strings
// (e.g. "inventory/{userId}", "FactionTotal_{faction}"); values are
// caller-defined byte blobs (JSON in this repo).
type Store interface {
	// Load returns the value for key, or exists=false on a cache miss.
	Load(ctx context.Context, key string) (value []byte, exists bool, err error)

	// Update runs mutate against the latest remote value with
	// optimistic-concurrency semantics: if the key changes underneath the
	// caller between read and write, the adapter re-reads and retries
	// mutate automatically. It retries transient failures with
	// exponential backoff up to the configured attempt budget before
	// surfacing a *StoreError.
	Update(ctx context.Context, key string, mutate Mutator) (newValue []byte, err error)
}
