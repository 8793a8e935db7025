package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stablefolio/cctp-coordinator/config"
	cctpabi "github.com/stablefolio/cctp-coordinator/contract/abi"
	"github.com/stablefolio/cctp-coordinator/ethclient"
)

// EVMBridge drives the CCTP contracts on a single EVM chain through bound
// contracts and a keyed transactor.
type EVMBridge struct {
	name                string
	cfg                 *config.ChainConfig
	client              *ethclient.Client
	token               *bind.BoundContract
	messenger           *bind.BoundContract
	transmitter         *bind.BoundContract
	sender              common.Address
	opts                *bind.TransactOpts
	receiptPollInterval time.Duration
}

func NewEVMBridge(name string, cfg *config.ChainConfig, client *ethclient.Client, privateKeyHex string) (*EVMBridge, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("can't parse signer private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(privateKey, client.ChainIDInt())
	if err != nil {
		return nil, fmt.Errorf("can't create transactor: %w", err)
	}

	backend := client.Backend()
	return &EVMBridge{
		name:                name,
		cfg:                 cfg,
		client:              client,
		token:               bind.NewBoundContract(cfg.Token.Addr(), cctpabi.ERC20ABI, backend, backend, backend),
		messenger:           bind.NewBoundContract(cfg.TokenMessenger.Addr(), cctpabi.TokenMessengerABI, backend, backend, backend),
		transmitter:         bind.NewBoundContract(cfg.MessageTransmitter.Addr(), cctpabi.MessageTransmitterABI, backend, backend, backend),
		sender:              crypto.PubkeyToAddress(privateKey.PublicKey),
		opts:                opts,
		receiptPollInterval: time.Duration(cfg.ReceiptPollInterval),
	}, nil
}

func (b *EVMBridge) Name() string {
	return b.name
}

func (b *EVMBridge) Domain() uint32 {
	return b.cfg.Domain
}

func (b *EVMBridge) Sender() common.Address {
	return b.sender
}

func (b *EVMBridge) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	var res []interface{}
	err := b.token.Call(&bind.CallOpts{Context: ctx}, &res, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("can't call balanceOf: %w", err)
	}
	return res[0].(*big.Int), nil
}

func (b *EVMBridge) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var res []interface{}
	err := b.token.Call(&bind.CallOpts{Context: ctx}, &res, "allowance", owner, b.cfg.TokenMessenger.Addr())
	if err != nil {
		return nil, fmt.Errorf("can't call allowance: %w", err)
	}
	return res[0].(*big.Int), nil
}

func (b *EVMBridge) Approve(ctx context.Context, amount *big.Int) (common.Hash, error) {
	tx, err := b.token.Transact(b.txOpts(ctx), "approve", b.cfg.TokenMessenger.Addr(), amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't submit approve: %w", err)
	}
	return tx.Hash(), nil
}

func (b *EVMBridge) DepositForBurn(ctx context.Context, amount *big.Int, destinationDomain uint32, mintRecipient [32]byte) (common.Hash, error) {
	tx, err := b.messenger.Transact(b.txOpts(ctx), "depositForBurn", amount, destinationDomain, mintRecipient, b.cfg.Token.Addr())
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't submit depositForBurn: %w", err)
	}
	return tx.Hash(), nil
}

func (b *EVMBridge) ReceiveMessage(ctx context.Context, message, attestation []byte) (common.Hash, error) {
	tx, err := b.transmitter.Transact(b.txOpts(ctx), "receiveMessage", message, attestation)
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't submit receiveMessage: %w", err)
	}
	return tx.Hash(), nil
}

func (b *EVMBridge) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return b.client.WaitForReceipt(ctx, txHash, b.receiptPollInterval)
}

// txOpts copies the shared transactor so concurrent submissions don't race
// on the embedded context.
func (b *EVMBridge) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := *b.opts
	opts.Context = ctx
	return &opts
}
