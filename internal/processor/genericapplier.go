package processor

import (
	"encoding/json"

	"github.com/chainwatch/core/pkg/store"
)

// genericState accumulates every applied event verbatim, sorted by index
// (a stable sort, so equal indexes keep their applied order) for
// canonicalization. It is the default StateApplier
// for contract kinds with no generated accumulator, mirroring the ABI
// oracle's generic fallback decoder.
type genericState struct {
	Events []genericAppliedEvent `json:"events"`
}

type genericAppliedEvent struct {
	BlockRef  string `json:"blockRef"`
	TxHash    string `json:"txHash"`
	Index     int    `json:"index"`
	EventName string `json:"eventName"`
}

// SortEntities implements materializer.EntitySortable.
func (s *genericState) SortEntities() {
	sortGenericEvents(s.Events)
}

func sortGenericEvents(events []genericAppliedEvent) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j-1].Index > events[j].Index; j-- {
			events[j-1], events[j] = events[j], events[j-1]
		}
	}
}

// GenericApplier is the default StateApplier: it records every event it
// is given without interpreting it.
type GenericApplier struct{}

var _ StateApplier = GenericApplier{}

func (GenericApplier) New() any { return &genericState{} }

func (GenericApplier) Decode(data []byte) (any, error) {
	state := &genericState{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (GenericApplier) Apply(state any, event *store.Event) (bool, error) {
	s := state.(*genericState)
	s.Events = append(s.Events, genericAppliedEvent{
		BlockRef:  event.BlockRef.Hex(),
		TxHash:    event.TxHash.Hex(),
		Index:     event.Index,
		EventName: event.EventName,
	})
	return true, nil
}
