package abi

//nolint:golint
import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed erc20.json
var erc20JSONABI string

//go:embed token_messenger.json
var tokenMessengerJSONABI string

//go:embed message_transmitter.json
var messageTransmitterJSONABI string

var (
	ERC20ABI              abi.ABI
	TokenMessengerABI     abi.ABI
	MessageTransmitterABI abi.ABI

	// MessageSentTopic is the topic0 of the MessageSent event emitted by the
	// message transmitter during depositForBurn.
	MessageSentTopic common.Hash
)

func MustReadABI(rawJSON string) abi.ABI {
	res, err := abi.JSON(strings.NewReader(rawJSON))
	if err != nil {
		panic(err)
	}
	return res
}

func init() {
	ERC20ABI = MustReadABI(erc20JSONABI)
	TokenMessengerABI = MustReadABI(tokenMessengerJSONABI)
	MessageTransmitterABI = MustReadABI(messageTransmitterJSONABI)
	MessageSentTopic = MessageTransmitterABI.Events["MessageSent"].ID
}
