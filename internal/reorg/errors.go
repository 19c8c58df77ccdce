package reorg

import "fmt"

// MaxDepthExceededError is returned when walking back from the incoming
// and local chain tips fails to find a common ancestor within the
// configured bound. The caller treats this as fatal.
type MaxDepthExceededError struct {
	LocalNumber    uint64
	IncomingNumber uint64
	MaxDepth       uint64
}

func (e *MaxDepthExceededError) Error() string {
	return fmt.Sprintf(
		"reorg: no common ancestor found within %d blocks (local=%d, incoming=%d)",
		e.MaxDepth, e.LocalNumber, e.IncomingNumber,
	)
}
