// Package abioracle defines the capability interface of the ABI oracle
// (spec §6): a function supplied by external code generation that turns
// a raw log into a decoded event, or nil for unknown contract kinds.
package abioracle

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// ParsedEvent is the decoded shape the Block Indexer stores.
type ParsedEvent struct {
	EventName string
	EventInfo []byte
	ExtraInfo []byte
	Proof     []byte
}

// Oracle decodes logs for contracts of a known kind. Unknown kinds
// return (nil, nil) — the caller skips the log rather than treating it
// as an error.
type Oracle interface {
	ParseLog(contractKind string, log types.Log) (*ParsedEvent, error)
}
