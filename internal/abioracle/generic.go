package abioracle

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	pkgabioracle "github.com/chainwatch/core/pkg/abioracle"
)

type genericLog struct {
	Topics []common.Hash `json:"topics"`
	Data   string        `json:"data"`
}

// decodeGenericLog records the raw topics and data verbatim, for contract
// kinds with no generated decoder. It never fails: a log this shallow
// cannot be malformed.
func decodeGenericLog(log types.Log) (*pkgabioracle.ParsedEvent, error) {
	info, err := json.Marshal(genericLog{
		Topics: log.Topics,
		Data:   common.Bytes2Hex(log.Data),
	})
	if err != nil {
		return nil, err
	}

	name := "Unknown"
	if len(log.Topics) > 0 {
		name = log.Topics[0].Hex()
	}

	return &pkgabioracle.ParsedEvent{EventName: name, EventInfo: info}, nil
}

// RegisterGeneric wires a catch-all decoder under kind "generic" that
// fires for any topic, matching the default ContractConfig.Kind.
func (r *Registry) RegisterGeneric() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.genericFallback = decodeGenericLog
}

// DefaultRegistry returns a Registry with the built-in ERC-20 and generic
// decoders already wired. Deployments that need bespoke decoding call
// RegisterDecoder directly on an empty NewRegistry instead.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterERC20()
	r.RegisterGeneric()
	return r
}
