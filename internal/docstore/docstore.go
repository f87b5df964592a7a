// internal/docstore/docstore.go

// Package docstore is a thin typed wrapper over a versioned key-document
// store. Every mutation in the service is expressed as a read-modify-write
// against a document revision; blind overwrites are not part of the API.
package docstore

import "context"

// Document is a stored value together with its revision. Revisions are
// strictly increasing per key, starting at 1 on creation.
type Document struct {
	Key      string
	Value    []byte
	Revision int64
}

// CreateRevision is the expected revision that requests create-if-absent
// semantics from Put.
const CreateRevision int64 = 0

// Store is the versioned key-document store the lifecycle managers run on.
// Get and Put may block on I/O; both honor ctx cancellation.
type Store interface {
	// Get returns the current document for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Document, error)

	// Put commits value iff the stored revision equals expected. Passing
	// CreateRevision (0) creates the key and fails with ErrRevisionConflict
	// if it already exists. Returns the committed revision.
	Put(ctx context.Context, key string, value []byte, expected int64) (int64, error)

	// Delete removes key, or returns ErrNotFound. No notification is
	// emitted; it exists so writers can discard documents that were never
	// published to a subscriber.
	Delete(ctx context.Context, key string) error

	// Subscribe registers fn for every committed revision of key, in
	// revision order, at-least-once. The returned func unsubscribes;
	// delivery after unsubscribe is best-effort drained, not guaranteed.
	Subscribe(ctx context.Context, key string, fn func(Document)) (func(), error)
}

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound         = errorString("docstore: key not found")
	ErrRevisionConflict = errorString("docstore: revision conflict")
)

type errorString string

func (e errorString) Error() string { return string(e) }
