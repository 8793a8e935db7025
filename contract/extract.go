package contract

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stablefolio/cctp-coordinator/contract/abi"
)

var (
	ErrNoMatchingEvent    = errors.New("receipt contains no MessageSent event")
	ErrMalformedEventData = errors.New("malformed MessageSent event data")
)

// ExtractMessage recovers the opaque protocol message from a confirmed burn
// transaction receipt and computes its keccak256 hash. It is pure, identical
// receipts always yield identical results.
func ExtractMessage(receipt *types.Receipt) ([]byte, common.Hash, error) {
	log := findMessageSentLog(receipt)
	if log == nil {
		return nil, common.Hash{}, ErrNoMatchingEvent
	}
	values, err := abi.MessageTransmitterABI.Unpack("MessageSent", log.Data)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("%w: %v", ErrMalformedEventData, err)
	}
	message, ok := values[0].([]byte)
	if !ok || len(message) == 0 {
		return nil, common.Hash{}, ErrMalformedEventData
	}
	return message, MessageHash(message), nil
}

// MessageHash is the digest the attestation service is keyed by.
func MessageHash(message []byte) common.Hash {
	return crypto.Keccak256Hash(message)
}

func findMessageSentLog(receipt *types.Receipt) *types.Log {
	for _, log := range receipt.Logs {
		if len(log.Topics) > 0 && log.Topics[0] == abi.MessageSentTopic {
			return log
		}
	}
	return nil
}
