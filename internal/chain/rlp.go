package chain

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// rlpEncodeHeader returns the canonical RLP encoding of a block header,
// used as part of the materializer's block-identity CID input.
func rlpEncodeHeader(header *types.Header) ([]byte, error) {
	return rlp.EncodeToBytes(header)
}
