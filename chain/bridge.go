package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Bridge is the per-chain read/write surface the coordinator drives. One
// implementation exists per configured chain, all methods are safe for
// concurrent use.
type Bridge interface {
	Name() string
	Domain() uint32
	// Sender is the address transactions are signed with, the owner for
	// balance and allowance reads.
	Sender() common.Address

	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner common.Address) (*big.Int, error)
	Approve(ctx context.Context, amount *big.Int) (common.Hash, error)
	DepositForBurn(ctx context.Context, amount *big.Int, destinationDomain uint32, mintRecipient [32]byte) (common.Hash, error)
	ReceiveMessage(ctx context.Context, message, attestation []byte) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EncodeRecipient left-zero-pads a recipient address to the fixed 32-byte
// representation the protocol expects, regardless of the destination chain's
// native address width.
func EncodeRecipient(recipient common.Address) [32]byte {
	var out [32]byte
	copy(out[:], common.LeftPadBytes(recipient.Bytes(), 32))
	return out
}
