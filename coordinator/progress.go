package coordinator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablefolio/cctp-coordinator/entity"
)

// Progress is the caller-facing view of a transfer. Percentage is a fixed
// weight per step, a failed transfer reports the weight of the step it
// failed in.
type Progress struct {
	ID               string            `json:"id"`
	SourceChain      string            `json:"source_chain"`
	DestinationChain string            `json:"destination_chain"`
	Amount           string            `json:"amount"`
	Recipient        common.Address    `json:"recipient"`
	Step             entity.Step       `json:"step"`
	FailedStep       *entity.Step      `json:"failed_step,omitempty"`
	Percentage       int               `json:"percentage"`
	Description      string            `json:"description"`
	BurnTxHash       *common.Hash      `json:"burn_tx_hash,omitempty"`
	BurnTxLink       string            `json:"burn_tx_link,omitempty"`
	MintTxHash       *common.Hash      `json:"mint_tx_hash,omitempty"`
	MintTxLink       string            `json:"mint_tx_link,omitempty"`
	ErrorKind        *entity.ErrorKind `json:"error_kind,omitempty"`
	LastError        *string           `json:"last_error,omitempty"`
}

var stepWeights = map[entity.Step]int{
	entity.StepIdle:               0,
	entity.StepCheckingBalance:    5,
	entity.StepApproving:          15,
	entity.StepBurning:            30,
	entity.StepWaitingAttestation: 55,
	entity.StepAttestationReady:   70,
	entity.StepMinting:            85,
	entity.StepCompleted:          100,
}

var stepDescriptions = map[entity.Step]string{
	entity.StepIdle:               "transfer created",
	entity.StepCheckingBalance:    "checking balance and allowance on the source chain",
	entity.StepApproving:          "waiting for token spending approval",
	entity.StepBurning:            "waiting for the burn transaction",
	entity.StepWaitingAttestation: "waiting for the attestation service",
	entity.StepAttestationReady:   "attestation received, ready to mint on the destination chain",
	entity.StepMinting:            "waiting for the mint transaction",
	entity.StepCompleted:          "transfer completed",
	entity.StepFailed:             "transfer failed",
}

func (c *Coordinator) progressFor(transfer *entity.Transfer) *Progress {
	progress := &Progress{
		ID:               transfer.ID,
		SourceChain:      transfer.SourceChain,
		DestinationChain: transfer.DestinationChain,
		Amount:           transfer.Amount,
		Recipient:        transfer.Recipient,
		Step:             transfer.Step,
		FailedStep:       transfer.FailedStep,
		Percentage:       StepPercentage(transfer),
		Description:      StepDescription(transfer),
		BurnTxHash:       transfer.BurnTxHash,
		MintTxHash:       transfer.MintTxHash,
		ErrorKind:        transfer.ErrorKind,
		LastError:        transfer.LastError,
	}
	if transfer.BurnTxHash != nil {
		if cfg := c.chains[transfer.SourceChain]; cfg != nil {
			progress.BurnTxLink = cfg.TxLink(transfer.BurnTxHash.Hex())
		}
	}
	if transfer.MintTxHash != nil {
		if cfg := c.chains[transfer.DestinationChain]; cfg != nil {
			progress.MintTxLink = cfg.TxLink(transfer.MintTxHash.Hex())
		}
	}
	return progress
}

// StepPercentage maps the transfer's step to its progress weight.
func StepPercentage(transfer *entity.Transfer) int {
	if transfer.Step == entity.StepFailed {
		if transfer.FailedStep != nil {
			return stepWeights[*transfer.FailedStep]
		}
		return 0
	}
	return stepWeights[transfer.Step]
}

// StepDescription renders a human readable summary of the transfer's state.
func StepDescription(transfer *entity.Transfer) string {
	if transfer.Step == entity.StepFailed && transfer.LastError != nil {
		return fmt.Sprintf("transfer failed: %s", *transfer.LastError)
	}
	return stepDescriptions[transfer.Step]
}
