package entity

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Step string

const (
	StepIdle               Step = "idle"
	StepCheckingBalance    Step = "checking_balance"
	StepApproving          Step = "approving"
	StepBurning            Step = "burning"
	StepWaitingAttestation Step = "waiting_attestation"
	StepAttestationReady   Step = "attestation_ready"
	StepMinting            Step = "minting"
	StepCompleted          Step = "completed"
	StepFailed             Step = "failed"
)

func (s Step) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Transfer is a single cross-chain USDC transfer driven through the
// burn-and-mint flow. It is owned by the coordinator for its whole lifetime
// and is retired, not deleted, once it reaches a terminal step.
type Transfer struct {
	ID               string         `db:"id"`
	SourceChain      string         `db:"source_chain"`
	DestinationChain string         `db:"destination_chain"`
	Amount           string         `db:"amount"`
	Recipient        common.Address `db:"recipient"`
	Step             Step           `db:"step"`
	FailedStep       *Step          `db:"failed_step"`
	BurnTxHash       *common.Hash   `db:"burn_tx_hash"`
	Message          []byte         `db:"message"`
	MessageHash      *common.Hash   `db:"message_hash"`
	Attestation      []byte         `db:"attestation"`
	MintTxHash       *common.Hash   `db:"mint_tx_hash"`
	ErrorKind        *ErrorKind     `db:"error_kind"`
	LastError        *string        `db:"last_error"`
	CreatedAt        *time.Time     `db:"created_at"`
	UpdatedAt        *time.Time     `db:"updated_at"`
}

func (t *Transfer) AmountInt() *big.Int {
	amount, ok := new(big.Int).SetString(t.Amount, 10)
	if !ok {
		return nil
	}
	return amount
}

// SetFailed moves the transfer into the absorbing failed step, remembering
// where the failure happened so that progress reporting and resumption keep
// working off the last successful step's artifacts.
func (t *Transfer) SetFailed(kind ErrorKind, msg string) {
	if t.Step != StepFailed {
		failedStep := t.Step
		t.FailedStep = &failedStep
	}
	t.Step = StepFailed
	t.ErrorKind = &kind
	t.LastError = &msg
}

// SetStepError attaches a step-resumable error without leaving the current
// step, so the caller may retry the same step operation.
func (t *Transfer) SetStepError(kind ErrorKind, msg string) {
	t.ErrorKind = &kind
	t.LastError = &msg
}

func (t *Transfer) ClearError() {
	t.ErrorKind = nil
	t.LastError = nil
}

type TransfersRepo interface {
	Create(ctx context.Context, transfer *Transfer) error
	Update(ctx context.Context, transfer *Transfer) error
	GetByID(ctx context.Context, id string) (*Transfer, error)
	FindByMessageHash(ctx context.Context, msgHash common.Hash) ([]*Transfer, error)
	FindNonTerminal(ctx context.Context) ([]*Transfer, error)
}
