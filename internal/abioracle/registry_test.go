package abioracle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func transferLog() types.Log {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data := make([]byte, 32)
	data[31] = 42

	return types.Log{
		Topics: []common.Hash{
			erc20TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}
}

func TestParseLog_KnownKindAndTopic(t *testing.T) {
	r := NewRegistry()
	r.RegisterERC20()

	event, err := r.ParseLog("erc20", transferLog())
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, "Transfer", event.EventName)
}

func TestParseLog_UnknownKindReturnsNilNil(t *testing.T) {
	r := NewRegistry()
	r.RegisterERC20()

	event, err := r.ParseLog("nonexistent", transferLog())
	require.NoError(t, err)
	require.Nil(t, event)
}

func TestParseLog_KnownKindUnknownTopicReturnsNilNil(t *testing.T) {
	r := NewRegistry()
	r.RegisterERC20()

	log := transferLog()
	log.Topics[0] = common.HexToHash("0xdeadbeef")

	event, err := r.ParseLog("erc20", log)
	require.NoError(t, err)
	require.Nil(t, event)
}

func TestParseLog_KindIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.RegisterERC20()

	event, err := r.ParseLog("ERC20", transferLog())
	require.NoError(t, err)
	require.NotNil(t, event)
}

func TestParseLog_GenericFallbackCatchesAnyTopic(t *testing.T) {
	r := DefaultRegistry()

	log := transferLog()
	log.Topics[0] = common.HexToHash("0xbeefbeef00000000000000000000000000000000000000000000000000")

	event, err := r.ParseLog("generic", log)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, log.Topics[0].Hex(), event.EventName)
}

func TestParseLog_MalformedTransferLogErrors(t *testing.T) {
	r := NewRegistry()
	r.RegisterERC20()

	log := transferLog()
	log.Data = []byte{0x01}

	_, err := r.ParseLog("erc20", log)
	require.Error(t, err)
}

func TestRegisteredKinds_ListsEveryRegisteredKind(t *testing.T) {
	r := DefaultRegistry()

	kinds := r.RegisteredKinds()
	require.Contains(t, kinds, "erc20")
}
