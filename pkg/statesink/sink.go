// Package statesink defines the capability interface of the optional
// state sink (spec §4.F/§9): a push endpoint for content-addressed state
// blobs, treated as opaque transport.
package statesink

import "context"

// Sink pushes a materialized state record to an external system. Pushing
// the same CID more than once must be a no-op from the caller's
// perspective: implementations are responsible for idempotence.
type Sink interface {
	Push(ctx context.Context, cid string, data []byte) error
}
