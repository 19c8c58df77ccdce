package abioracle

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	pkgabioracle "github.com/chainwatch/core/pkg/abioracle"
)

const (
	erc20ExpectedTopics = 3
	erc20ExpectedData   = 32
)

var (
	erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	erc20ApprovalTopic = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
)

type erc20Transfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value string         `json:"value"`
}

type erc20Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   string         `json:"value"`
}

func decodeERC20Transfer(log types.Log) (*pkgabioracle.ParsedEvent, error) {
	if len(log.Topics) != erc20ExpectedTopics || len(log.Data) != erc20ExpectedData {
		return nil, errors.New("malformed Transfer log")
	}

	info, err := json.Marshal(erc20Transfer{
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: new(big.Int).SetBytes(log.Data).String(),
	})
	if err != nil {
		return nil, err
	}

	return &pkgabioracle.ParsedEvent{EventName: "Transfer", EventInfo: info}, nil
}

func decodeERC20Approval(log types.Log) (*pkgabioracle.ParsedEvent, error) {
	if len(log.Topics) != erc20ExpectedTopics || len(log.Data) != erc20ExpectedData {
		return nil, errors.New("malformed Approval log")
	}

	info, err := json.Marshal(erc20Approval{
		Owner:   common.BytesToAddress(log.Topics[1].Bytes()),
		Spender: common.BytesToAddress(log.Topics[2].Bytes()),
		Value:   new(big.Int).SetBytes(log.Data).String(),
	})
	if err != nil {
		return nil, err
	}

	return &pkgabioracle.ParsedEvent{EventName: "Approval", EventInfo: info}, nil
}

// RegisterERC20 wires the standard Transfer/Approval decoders under kind
// "erc20".
func (r *Registry) RegisterERC20() {
	r.RegisterDecoder("erc20", erc20TransferTopic, decodeERC20Transfer)
	r.RegisterDecoder("erc20", erc20ApprovalTopic, decodeERC20Approval)
}
