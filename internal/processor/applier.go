package processor

import "github.com/chainwatch/core/pkg/store"

// StateApplier is the generated, domain-specific capability that turns a
// contract's decoded events into its aggregated derived state. It mirrors
// the ABI oracle's capability shape: supplied by external code
// generation, dispatched by contract kind.
type StateApplier interface {
	// New returns an empty aggregated state for a contract with no prior
	// materialized record.
	New() any

	// Decode reconstructs an aggregated state from a materialized
	// record's canonical JSON bytes.
	Decode(data []byte) (any, error)

	// Apply mutates state for one event, returning whether state
	// actually changed (a no-op event must not trigger a diff_staged
	// record with no information content).
	Apply(state any, event *store.Event) (changed bool, err error)
}
