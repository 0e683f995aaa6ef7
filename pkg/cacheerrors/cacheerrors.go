// Package cacheerrors defines the error taxonomy shared by the
// object-store adapter, the B-tree, and the database layers: one
// sentinel per error condition, always wrapped with %w at the call
// site so errors.Is keeps working across package boundaries.
package cacheerrors

import "errors"

var (
	// ErrResolveFailed means the object store could not dereference a
	// mutable name to a hash.
	ErrResolveFailed = errors.New("cacheerrors: resolve failed")

	// ErrAddFailed means the object store rejected an add(bytes) call.
	ErrAddFailed = errors.New("cacheerrors: add failed")

	// ErrCatFailed means the object store could not return the bytes
	// for a hash.
	ErrCatFailed = errors.New("cacheerrors: cat failed")

	// ErrReadFailed means a local read (persistence file, repo
	// directory) failed.
	ErrReadFailed = errors.New("cacheerrors: read failed")

	// ErrPublishFailed means the object store rejected a publish call.
	ErrPublishFailed = errors.New("cacheerrors: publish failed")

	// ErrPinFailed means the object store rejected a pin or unpin call.
	ErrPinFailed = errors.New("cacheerrors: pin failed")

	// ErrKeyNotFound means a lookup completed but found no entry.
	ErrKeyNotFound = errors.New("cacheerrors: key not found")

	// ErrMalformedDbEntry means a payload was read but didn't decode
	// to the expected {value, ts} shape.
	ErrMalformedDbEntry = errors.New("cacheerrors: malformed db entry")

	// ErrInvalidDbFormat means the persisted root hash file's contents
	// didn't match the hash wire form.
	ErrInvalidDbFormat = errors.New("cacheerrors: invalid db format")

	// ErrParsingJSON means a node or payload's JSON failed to decode.
	ErrParsingJSON = errors.New("cacheerrors: error parsing json")

	// ErrMissingLink means a node referenced a child hash that was
	// absent from its own serialized entry.
	ErrMissingLink = errors.New("cacheerrors: missing link")

	// ErrCancelled means the operation observed its owner's destroyed
	// flag and returned without mutating state.
	ErrCancelled = errors.New("cacheerrors: cancelled")
)
