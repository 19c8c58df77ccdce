package common

const (
	ComponentChainClient   = "chain-client"
	ComponentStore         = "store"
	ComponentQueue         = "queue"
	ComponentCursor        = "cursor"
	ComponentBlockIndexer  = "block-indexer"
	ComponentProcessor     = "processor"
	ComponentMaterializer  = "materializer"
	ComponentReorgHandler  = "reorg-handler"
	ComponentMaintenance   = "maintenance"
	ComponentStateSink     = "state-sink"
	ComponentAbiOracle     = "abi-oracle"
)

var AllComponents = map[string]struct{}{
	ComponentChainClient:  {},
	ComponentStore:        {},
	ComponentQueue:        {},
	ComponentCursor:       {},
	ComponentBlockIndexer: {},
	ComponentProcessor:    {},
	ComponentMaterializer: {},
	ComponentReorgHandler: {},
	ComponentMaintenance:  {},
	ComponentStateSink:    {},
	ComponentAbiOracle:    {},
}
