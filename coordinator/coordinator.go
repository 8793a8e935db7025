package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stablefolio/cctp-coordinator/attestation"
	"github.com/stablefolio/cctp-coordinator/chain"
	"github.com/stablefolio/cctp-coordinator/config"
	"github.com/stablefolio/cctp-coordinator/contract"
	"github.com/stablefolio/cctp-coordinator/entity"
	"github.com/stablefolio/cctp-coordinator/logging"
	"github.com/stablefolio/cctp-coordinator/utils"
)

// balanceRetryInterval spaces out retries of failed balance reads.
const balanceRetryInterval = 5 * time.Second

var (
	ErrInvalidParameters     = errors.New("invalid transfer parameters")
	ErrStepInFlight          = errors.New("a step operation is already in flight")
	ErrInvalidStep           = errors.New("operation is not valid in the current step")
	ErrInvalidStateForCancel = errors.New("transfer cannot be cancelled in its current step")
)

// AttestationPoller is the coordinator's view of the attestation poll loop.
type AttestationPoller interface {
	Poll(ctx context.Context, msgHash common.Hash) ([]byte, error)
}

// Coordinator owns the burn-and-mint state machine for every transfer it has
// created. Records progress independently of each other, the only shared
// state is the single-flight registry keyed by message hash.
type Coordinator struct {
	logger    logging.Logger
	chains    map[string]*config.ChainConfig
	bridges   map[string]chain.Bridge
	transfers entity.TransfersRepo
	poller    AttestationPoller

	lifecycleCtx context.Context

	mu       sync.Mutex
	runtimes map[string]*recordRuntime
	inflight map[common.Hash]string
}

// recordRuntime tracks the in-process side of a transfer: whether a step
// operation is outstanding and how to cancel its background task.
type recordRuntime struct {
	inFlight   bool
	cancelTask context.CancelFunc
}

type InitiateRequest struct {
	SourceChain      string
	DestinationChain string
	Amount           *big.Int
	Recipient        common.Address
}

func New(ctx context.Context, logger logging.Logger, chains map[string]*config.ChainConfig, bridges map[string]chain.Bridge, transfers entity.TransfersRepo, poller AttestationPoller) *Coordinator {
	return &Coordinator{
		logger:       logger,
		chains:       chains,
		bridges:      bridges,
		transfers:    transfers,
		poller:       poller,
		lifecycleCtx: ctx,
		runtimes:     make(map[string]*recordRuntime),
		inflight:     make(map[common.Hash]string),
	}
}

// Start re-attaches background work to non-terminal transfers persisted by a
// previous run. Transfers interrupted mid-mint are returned to the
// attestation-ready step so the caller can resubmit.
func (c *Coordinator) Start(ctx context.Context) error {
	transfers, err := c.transfers.FindNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("can't load non-terminal transfers: %w", err)
	}
	for _, transfer := range transfers {
		logger := c.logger.WithFields(logrus.Fields{
			"transfer_id": transfer.ID,
			"step":        transfer.Step,
		})
		switch transfer.Step {
		case entity.StepCheckingBalance:
			logger.Info("restarting balance check for recovered transfer")
			taskCtx := c.startTask(transfer.ID)
			go c.runBalanceCheck(taskCtx, transfer.ID)
		case entity.StepWaitingAttestation:
			if transfer.MessageHash == nil {
				continue
			}
			if !c.acquireMessage(*transfer.MessageHash, transfer.ID) {
				if err = c.failRecoveredDuplicate(ctx, logger, transfer); err != nil {
					return err
				}
				continue
			}
			logger.Info("restarting attestation polling for recovered transfer")
			c.startPolling(transfer.ID, *transfer.MessageHash)
		case entity.StepAttestationReady:
			if transfer.MessageHash != nil && !c.acquireMessage(*transfer.MessageHash, transfer.ID) {
				if err = c.failRecoveredDuplicate(ctx, logger, transfer); err != nil {
					return err
				}
			}
		case entity.StepMinting:
			if transfer.MessageHash != nil && !c.acquireMessage(*transfer.MessageHash, transfer.ID) {
				if err = c.failRecoveredDuplicate(ctx, logger, transfer); err != nil {
					return err
				}
				continue
			}
			logger.Warn("transfer was interrupted mid-mint, returning to attestation ready")
			transfer.Step = entity.StepAttestationReady
			transfer.SetStepError(entity.ErrorDestinationSubmissionFailed, "mint submission interrupted, resubmit required")
			if err = c.saveTransfer(ctx, transfer); err != nil {
				return err
			}
		}
	}
	return nil
}

// failRecoveredDuplicate retires a recovered transfer whose message hash is
// already owned by another transfer.
func (c *Coordinator) failRecoveredDuplicate(ctx context.Context, logger logging.Logger, transfer *entity.Transfer) error {
	logger.Warn("recovered transfer's message hash is owned by another transfer")
	transfer.SetFailed(entity.ErrorDuplicateMessage, fmt.Sprintf("message hash %s is already in flight", transfer.MessageHash))
	return c.saveTransfer(ctx, transfer)
}

// Initiate creates a transfer record and synchronously moves it into the
// balance checking step. The check itself runs in the background.
func (c *Coordinator) Initiate(ctx context.Context, req InitiateRequest) (*entity.Transfer, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidParameters)
	}
	if req.SourceChain == req.DestinationChain {
		return nil, fmt.Errorf("%w: source and destination chains must differ", ErrInvalidParameters)
	}
	if _, ok := c.bridges[req.SourceChain]; !ok {
		return nil, fmt.Errorf("%w: unknown source chain %q", ErrInvalidParameters, req.SourceChain)
	}
	if _, ok := c.bridges[req.DestinationChain]; !ok {
		return nil, fmt.Errorf("%w: unknown destination chain %q", ErrInvalidParameters, req.DestinationChain)
	}
	if req.Recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: recipient must not be the zero address", ErrInvalidParameters)
	}

	transfer := &entity.Transfer{
		ID:               uuid.NewString(),
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
		Amount:           req.Amount.String(),
		Recipient:        req.Recipient,
		Step:             entity.StepIdle,
	}
	if err := c.transfers.Create(ctx, transfer); err != nil {
		return nil, fmt.Errorf("can't create transfer: %w", err)
	}
	transfer.Step = entity.StepCheckingBalance
	if err := c.saveTransfer(ctx, transfer); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"transfer_id":       transfer.ID,
		"source_chain":      transfer.SourceChain,
		"destination_chain": transfer.DestinationChain,
		"amount":            transfer.Amount,
	}).Info("initiated transfer")

	taskCtx := c.startTask(transfer.ID)
	go c.runBalanceCheck(taskCtx, transfer.ID)
	return transfer, nil
}

// Approve submits the token spending approval and waits for its confirmation.
// Submission failures are attached to the record, the transfer stays in the
// approving step so the caller may retry.
func (c *Coordinator) Approve(ctx context.Context, id string) error {
	transfer, err := c.getTransferInStep(ctx, id, entity.StepApproving)
	if err != nil {
		return err
	}
	if err = c.acquireStep(id); err != nil {
		return err
	}
	defer c.releaseStep(id)

	bridge := c.bridges[transfer.SourceChain]
	txHash, err := bridge.Approve(ctx, transfer.AmountInt())
	if err != nil {
		transfer.SetStepError(entity.ErrorTransactionRejected, err.Error())
		return c.saveTransfer(ctx, transfer)
	}
	receipt, err := bridge.WaitForReceipt(ctx, txHash)
	if err != nil {
		transfer.SetStepError(entity.ErrorTransactionRejected, err.Error())
		return c.saveTransfer(ctx, transfer)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		transfer.SetStepError(entity.ErrorTransactionReverted, fmt.Sprintf("approval transaction %s reverted", txHash))
		return c.saveTransfer(ctx, transfer)
	}

	transfer.ClearError()
	transfer.Step = entity.StepBurning
	return c.saveTransfer(ctx, transfer)
}

// Burn submits the burn transaction, waits for its confirmation, extracts the
// protocol message from the receipt and starts attestation polling. A failed
// extraction is fatal, the burn hash stays on the record for manual recovery.
func (c *Coordinator) Burn(ctx context.Context, id string) error {
	transfer, err := c.getTransferInStep(ctx, id, entity.StepBurning)
	if err != nil {
		return err
	}
	if err = c.acquireStep(id); err != nil {
		return err
	}
	defer c.releaseStep(id)

	bridge := c.bridges[transfer.SourceChain]
	destinationDomain := c.bridges[transfer.DestinationChain].Domain()
	txHash, err := bridge.DepositForBurn(ctx, transfer.AmountInt(), destinationDomain, chain.EncodeRecipient(transfer.Recipient))
	if err != nil {
		transfer.SetStepError(entity.ErrorTransactionRejected, err.Error())
		return c.saveTransfer(ctx, transfer)
	}
	transfer.BurnTxHash = &txHash
	if err = c.saveTransfer(ctx, transfer); err != nil {
		return err
	}

	receipt, err := bridge.WaitForReceipt(ctx, txHash)
	if err != nil {
		transfer.SetStepError(entity.ErrorTransactionRejected, err.Error())
		return c.saveTransfer(ctx, transfer)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		transfer.SetStepError(entity.ErrorTransactionReverted, fmt.Sprintf("burn transaction %s reverted", txHash))
		return c.saveTransfer(ctx, transfer)
	}

	message, msgHash, err := contract.ExtractMessage(receipt)
	if err != nil {
		transfer.SetFailed(entity.ErrorMessageExtractionFailed, err.Error())
		return c.saveTransfer(ctx, transfer)
	}
	// two layers of single-flight: persisted transfers guard against records
	// recovered from previous runs, the in-memory registry guards against
	// concurrent burns whose hashes were not saved yet
	existing, err := c.transfers.FindByMessageHash(ctx, msgHash)
	if err != nil {
		return fmt.Errorf("can't check for transfers with the same message hash: %w", err)
	}
	for _, other := range existing {
		if other.ID != id && !other.Step.IsTerminal() {
			transfer.SetFailed(entity.ErrorDuplicateMessage, fmt.Sprintf("message hash %s is owned by transfer %s", msgHash, other.ID))
			return c.saveTransfer(ctx, transfer)
		}
	}
	if !c.acquireMessage(msgHash, id) {
		transfer.SetFailed(entity.ErrorDuplicateMessage, fmt.Sprintf("message hash %s is already in flight", msgHash))
		return c.saveTransfer(ctx, transfer)
	}

	transfer.Message = message
	transfer.MessageHash = &msgHash
	transfer.ClearError()
	transfer.Step = entity.StepWaitingAttestation
	if err = c.saveTransfer(ctx, transfer); err != nil {
		c.releaseMessage(msgHash, id)
		return err
	}
	c.startPolling(id, msgHash)
	return nil
}

// CompleteOnDestination submits the extracted message and its attestation to
// the destination chain. Minting is never auto-triggered, it requires this
// explicit caller action.
func (c *Coordinator) CompleteOnDestination(ctx context.Context, id string) error {
	transfer, err := c.getTransferInStep(ctx, id, entity.StepAttestationReady)
	if err != nil {
		return err
	}
	if err = c.acquireStep(id); err != nil {
		return err
	}
	defer c.releaseStep(id)

	transfer.Step = entity.StepMinting
	if err = c.saveTransfer(ctx, transfer); err != nil {
		return err
	}

	bridge := c.bridges[transfer.DestinationChain]
	txHash, err := bridge.ReceiveMessage(ctx, transfer.Message, transfer.Attestation)
	if err != nil {
		transfer.Step = entity.StepAttestationReady
		transfer.SetStepError(entity.ErrorDestinationSubmissionFailed, err.Error())
		return c.saveTransfer(ctx, transfer)
	}
	receipt, err := bridge.WaitForReceipt(ctx, txHash)
	if err != nil {
		transfer.Step = entity.StepAttestationReady
		transfer.SetStepError(entity.ErrorDestinationSubmissionFailed, err.Error())
		return c.saveTransfer(ctx, transfer)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		transfer.Step = entity.StepAttestationReady
		transfer.SetStepError(entity.ErrorDestinationSubmissionFailed, fmt.Sprintf("mint transaction %s reverted", txHash))
		return c.saveTransfer(ctx, transfer)
	}

	transfer.MintTxHash = &txHash
	transfer.ClearError()
	transfer.Step = entity.StepCompleted
	if transfer.MessageHash != nil {
		c.releaseMessage(*transfer.MessageHash, id)
	}
	return c.saveTransfer(ctx, transfer)
}

// Cancel stops the transfer's background work without mutating its last known
// state. It cannot un-burn or un-mint, so it is only valid while nothing has
// been irreversibly committed or while polling.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	transfer, err := c.transfers.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch transfer.Step {
	case entity.StepIdle, entity.StepCheckingBalance, entity.StepWaitingAttestation:
	default:
		return fmt.Errorf("%w: transfer is in %s", ErrInvalidStateForCancel, transfer.Step)
	}

	c.mu.Lock()
	if rt := c.runtimes[id]; rt != nil && rt.cancelTask != nil {
		rt.cancelTask()
		rt.cancelTask = nil
	}
	c.mu.Unlock()
	c.logger.WithField("transfer_id", id).Info("cancelled transfer background work")
	return nil
}

// Reset retires nothing, it only mints a fresh idle record with the same
// parameters. Valid from terminal steps only.
func (c *Coordinator) Reset(ctx context.Context, id string) (*entity.Transfer, error) {
	transfer, err := c.transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transfer.Step.IsTerminal() {
		return nil, fmt.Errorf("%w: reset requires a terminal step, transfer is in %s", ErrInvalidStep, transfer.Step)
	}

	fresh := &entity.Transfer{
		ID:               uuid.NewString(),
		SourceChain:      transfer.SourceChain,
		DestinationChain: transfer.DestinationChain,
		Amount:           transfer.Amount,
		Recipient:        transfer.Recipient,
		Step:             entity.StepIdle,
	}
	if err = c.transfers.Create(ctx, fresh); err != nil {
		return nil, fmt.Errorf("can't create transfer: %w", err)
	}
	return fresh, nil
}

// Resume re-enters attestation polling for a transfer that failed with an
// attestation error. The burn is never redone, the preserved message hash is
// reused.
func (c *Coordinator) Resume(ctx context.Context, id string) error {
	transfer, err := c.transfers.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if transfer.Step != entity.StepFailed || transfer.ErrorKind == nil ||
		!transfer.ErrorKind.IsAttestationError() || transfer.MessageHash == nil {
		return fmt.Errorf("%w: resume requires an attestation failure with a preserved message hash", ErrInvalidStep)
	}
	if !c.acquireMessage(*transfer.MessageHash, id) {
		return fmt.Errorf("%w: message hash %s is already in flight", ErrInvalidStep, transfer.MessageHash)
	}

	transfer.Step = entity.StepWaitingAttestation
	transfer.FailedStep = nil
	transfer.ClearError()
	if err = c.saveTransfer(ctx, transfer); err != nil {
		c.releaseMessage(*transfer.MessageHash, id)
		return err
	}
	c.startPolling(id, *transfer.MessageHash)
	return nil
}

func (c *Coordinator) GetProgress(ctx context.Context, id string) (*Progress, error) {
	transfer, err := c.transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.progressFor(transfer), nil
}

func (c *Coordinator) runBalanceCheck(ctx context.Context, id string) {
	logger := c.logger.WithField("transfer_id", id)
	transfer, err := c.transfers.GetByID(ctx, id)
	if err != nil {
		logger.WithError(err).Error("can't load transfer for balance check")
		return
	}
	bridge := c.bridges[transfer.SourceChain]
	amount := transfer.AmountInt()

	var balance, allowance *big.Int
	for {
		balance, err = bridge.BalanceOf(ctx, bridge.Sender())
		if err == nil {
			allowance, err = bridge.Allowance(ctx, bridge.Sender())
		}
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Error("can't read balance and allowance, retrying")
		if utils.ContextSleep(ctx, balanceRetryInterval) == nil {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	if balance.Cmp(amount) < 0 {
		transfer.SetFailed(entity.ErrorInvalidParameters, fmt.Sprintf("insufficient balance: have %s, need %s", balance, amount))
	} else if allowance.Cmp(amount) < 0 {
		transfer.Step = entity.StepApproving
	} else {
		// sufficient allowance, the approval step is skipped
		transfer.Step = entity.StepBurning
	}
	if err = c.saveTransfer(ctx, transfer); err != nil {
		logger.WithError(err).Error("can't save transfer after balance check")
	}
}

func (c *Coordinator) startPolling(id string, msgHash common.Hash) {
	taskCtx := c.startTask(id)
	go c.runAttestationPoll(taskCtx, id, msgHash)
}

func (c *Coordinator) runAttestationPoll(ctx context.Context, id string, msgHash common.Hash) {
	logger := c.logger.WithFields(logrus.Fields{
		"transfer_id": id,
		"msg_hash":    msgHash,
	})
	attestationBytes, pollErr := c.poller.Poll(ctx, msgHash)
	if ctx.Err() != nil {
		// cancelled, the record keeps its last known state
		return
	}

	transfer, err := c.transfers.GetByID(ctx, id)
	if err != nil {
		logger.WithError(err).Error("can't load transfer after attestation polling")
		return
	}
	switch {
	case errors.Is(pollErr, attestation.ErrServiceUnavailable):
		c.releaseMessage(msgHash, id)
		transfer.SetFailed(entity.ErrorAttestationServiceUnavailable, pollErr.Error())
	case pollErr != nil:
		c.releaseMessage(msgHash, id)
		transfer.SetFailed(entity.ErrorAttestationTimeout, pollErr.Error())
	default:
		transfer.Attestation = attestationBytes
		transfer.ClearError()
		transfer.Step = entity.StepAttestationReady
		logger.Info("attestation ready, transfer can be completed on destination")
	}
	if err = c.saveTransfer(ctx, transfer); err != nil {
		logger.WithError(err).Error("can't save transfer after attestation polling")
	}
}

func (c *Coordinator) getTransferInStep(ctx context.Context, id string, step entity.Step) (*entity.Transfer, error) {
	transfer, err := c.transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if transfer.Step != step {
		return nil, fmt.Errorf("%w: expected %s, transfer is in %s", ErrInvalidStep, step, transfer.Step)
	}
	return transfer, nil
}

func (c *Coordinator) saveTransfer(ctx context.Context, transfer *entity.Transfer) error {
	if err := c.transfers.Update(ctx, transfer); err != nil {
		return fmt.Errorf("can't save transfer %s: %w", transfer.ID, err)
	}
	ObserveStep(string(transfer.Step))
	return nil
}

func (c *Coordinator) acquireStep(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := c.runtimeLocked(id)
	if rt.inFlight {
		return ErrStepInFlight
	}
	rt.inFlight = true
	return nil
}

func (c *Coordinator) releaseStep(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtimeLocked(id).inFlight = false
}

// startTask replaces the transfer's background task context, cancelling any
// previous one.
func (c *Coordinator) startTask(id string) context.Context {
	ctx, cancel := context.WithCancel(c.lifecycleCtx)
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := c.runtimeLocked(id)
	if rt.cancelTask != nil {
		rt.cancelTask()
	}
	rt.cancelTask = cancel
	return ctx
}

func (c *Coordinator) runtimeLocked(id string) *recordRuntime {
	rt := c.runtimes[id]
	if rt == nil {
		rt = &recordRuntime{}
		c.runtimes[id] = rt
	}
	return rt
}

// acquireMessage enforces the single-flight guarantee: at most one transfer
// may own a message hash while it is being attested or minted.
func (c *Coordinator) acquireMessage(msgHash common.Hash, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.inflight[msgHash]; ok && owner != id {
		return false
	}
	c.inflight[msgHash] = id
	return true
}

func (c *Coordinator) releaseMessage(msgHash common.Hash, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[msgHash] == id {
		delete(c.inflight, msgHash)
	}
}
