package coordinator_test

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/stablefolio/cctp-coordinator/attestation"
	"github.com/stablefolio/cctp-coordinator/chain"
	"github.com/stablefolio/cctp-coordinator/config"
	"github.com/stablefolio/cctp-coordinator/contract"
	contractabi "github.com/stablefolio/cctp-coordinator/contract/abi"
	"github.com/stablefolio/cctp-coordinator/coordinator"
	"github.com/stablefolio/cctp-coordinator/entity"
	"github.com/stablefolio/cctp-coordinator/repository/memory"
)

var testRecipient = common.HexToAddress("0x00000000000000000000000000000000DeaDBeef")

// fakeBridge simulates a chain: reads return canned values, writes hand out
// sequential tx hashes whose receipts are scripted per call.
type fakeBridge struct {
	name      string
	domain    uint32
	sender    common.Address
	balance   *big.Int
	allowance *big.Int

	// message is emitted in every burn receipt unless revertNextBurn is set.
	message []byte
	// hangBalance makes balance reads block until the context is cancelled.
	hangBalance bool

	mu             sync.Mutex
	seq            int64
	receipts       map[common.Hash]*types.Receipt
	approveCalls   int
	burnCalls      int
	mintCalls      int
	revertNextBurn bool
	revertNextMint bool
	rejectNextMint bool
}

func newFakeBridge(name string, domain uint32, balance, allowance int64) *fakeBridge {
	return &fakeBridge{
		name:      name,
		domain:    domain,
		sender:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		balance:   big.NewInt(balance),
		allowance: big.NewInt(allowance),
		message:   []byte("burn message " + name),
		receipts:  make(map[common.Hash]*types.Receipt),
	}
}

func (b *fakeBridge) Name() string           { return b.name }
func (b *fakeBridge) Domain() uint32         { return b.domain }
func (b *fakeBridge) Sender() common.Address { return b.sender }

func (b *fakeBridge) BalanceOf(ctx context.Context, _ common.Address) (*big.Int, error) {
	if b.hangBalance {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.balance, nil
}

func (b *fakeBridge) Allowance(_ context.Context, _ common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowance, nil
}

func (b *fakeBridge) Approve(_ context.Context, amount *big.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approveCalls++
	b.allowance = amount
	return b.submitLocked(&types.Receipt{Status: types.ReceiptStatusSuccessful}), nil
}

func (b *fakeBridge) DepositForBurn(_ context.Context, _ *big.Int, _ uint32, _ [32]byte) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.burnCalls++
	if b.revertNextBurn {
		b.revertNextBurn = false
		return b.submitLocked(&types.Receipt{Status: types.ReceiptStatusFailed}), nil
	}
	return b.submitLocked(messageSentReceipt(b.message)), nil
}

func (b *fakeBridge) ReceiveMessage(_ context.Context, _, _ []byte) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mintCalls++
	if b.rejectNextMint {
		b.rejectNextMint = false
		return common.Hash{}, fmt.Errorf("insufficient funds for gas")
	}
	if b.revertNextMint {
		b.revertNextMint = false
		return b.submitLocked(&types.Receipt{Status: types.ReceiptStatusFailed}), nil
	}
	return b.submitLocked(&types.Receipt{Status: types.ReceiptStatusSuccessful}), nil
}

func (b *fakeBridge) WaitForReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", txHash)
	}
	return receipt, nil
}

func (b *fakeBridge) submitLocked(receipt *types.Receipt) common.Hash {
	b.seq++
	txHash := common.BigToHash(big.NewInt(b.seq))
	b.receipts[txHash] = receipt
	return txHash
}

func messageSentReceipt(message []byte) *types.Receipt {
	bytesTy, err := ethabi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	data, err := ethabi.Arguments{{Type: bytesTy}}.Pack(message)
	if err != nil {
		panic(err)
	}
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{{
			Topics: []common.Hash{contractabi.MessageSentTopic},
			Data:   data,
		}},
	}
}

// stubPoller pops one scripted result per Poll call, repeating the last one.
type stubPoller struct {
	mu      sync.Mutex
	results []pollResult
}

type pollResult struct {
	attestation []byte
	err         error
	// hang blocks until the poll context is cancelled, simulating a poll
	// still in progress.
	hang bool
}

func (p *stubPoller) Poll(ctx context.Context, _ common.Hash) ([]byte, error) {
	p.mu.Lock()
	res := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	p.mu.Unlock()
	if res.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return res.attestation, res.err
}

type fixture struct {
	coordinator *coordinator.Coordinator
	transfers   *memory.TransfersRepo
	source      *fakeBridge
	destination *fakeBridge
	poller      *stubPoller
}

func newFixture(t *testing.T, source, destination *fakeBridge) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	transfers := memory.NewTransfersRepo()
	poller := &stubPoller{results: []pollResult{{attestation: []byte{0xa7, 0x7e, 0x57}}}}
	chains := map[string]*config.ChainConfig{
		source.name:      {ExplorerURL: "https://basescan.org"},
		destination.name: {ExplorerURL: "https://arbiscan.io"},
	}
	bridges := map[string]chain.Bridge{
		source.name:      source,
		destination.name: destination,
	}

	c := coordinator.New(context.Background(), logger, chains, bridges, transfers, poller)
	return &fixture{
		coordinator: c,
		transfers:   transfers,
		source:      source,
		destination: destination,
		poller:      poller,
	}
}

func (f *fixture) waitForStep(t *testing.T, id string, step entity.Step) *entity.Transfer {
	t.Helper()
	var transfer *entity.Transfer
	require.Eventually(t, func() bool {
		var err error
		transfer, err = f.transfers.GetByID(context.Background(), id)
		return err == nil && transfer.Step == step
	}, 2*time.Second, 5*time.Millisecond)
	return transfer
}

func (f *fixture) initiate(t *testing.T, amount int64) *entity.Transfer {
	t.Helper()
	transfer, err := f.coordinator.Initiate(context.Background(), coordinator.InitiateRequest{
		SourceChain:      f.source.name,
		DestinationChain: f.destination.name,
		Amount:           big.NewInt(amount),
		Recipient:        testRecipient,
	})
	require.NoError(t, err)
	require.Equal(t, entity.StepCheckingBalance, transfer.Step)
	return transfer
}

func TestInitiateValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	for name, req := range map[string]coordinator.InitiateRequest{
		"zero amount": {
			SourceChain: "base", DestinationChain: "arbitrum",
			Amount: big.NewInt(0), Recipient: testRecipient,
		},
		"negative amount": {
			SourceChain: "base", DestinationChain: "arbitrum",
			Amount: big.NewInt(-5), Recipient: testRecipient,
		},
		"nil amount": {
			SourceChain: "base", DestinationChain: "arbitrum",
			Recipient: testRecipient,
		},
		"same chain": {
			SourceChain: "base", DestinationChain: "base",
			Amount: big.NewInt(100), Recipient: testRecipient,
		},
		"unknown source": {
			SourceChain: "optimism", DestinationChain: "arbitrum",
			Amount: big.NewInt(100), Recipient: testRecipient,
		},
		"unknown destination": {
			SourceChain: "base", DestinationChain: "optimism",
			Amount: big.NewInt(100), Recipient: testRecipient,
		},
		"zero recipient": {
			SourceChain: "base", DestinationChain: "arbitrum",
			Amount: big.NewInt(100),
		},
	} {
		_, err := f.coordinator.Initiate(ctx, req)
		require.ErrorIs(t, err, coordinator.ErrInvalidParameters, name)
	}
}

func TestBalanceCheckOutcomes(t *testing.T) {
	t.Parallel()

	t.Run("sufficient allowance skips approval", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
		transfer := f.initiate(t, 100)
		f.waitForStep(t, transfer.ID, entity.StepBurning)
	})

	t.Run("insufficient allowance requires approval", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, newFakeBridge("base", 6, 1000, 10), newFakeBridge("arbitrum", 3, 0, 0))
		transfer := f.initiate(t, 100)
		f.waitForStep(t, transfer.ID, entity.StepApproving)
	})

	t.Run("insufficient balance fails the transfer", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, newFakeBridge("base", 6, 50, 1000), newFakeBridge("arbitrum", 3, 0, 0))
		transfer := f.initiate(t, 100)
		failed := f.waitForStep(t, transfer.ID, entity.StepFailed)
		require.NotNil(t, failed.ErrorKind)
		require.Equal(t, entity.ErrorInvalidParameters, *failed.ErrorKind)
		require.NotNil(t, failed.FailedStep)
		require.Equal(t, entity.StepCheckingBalance, *failed.FailedStep)
	})
}

func TestFullTransferRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 1000, 10), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepApproving)

	require.NoError(t, f.coordinator.Approve(ctx, transfer.ID))
	f.waitForStep(t, transfer.ID, entity.StepBurning)
	require.Equal(t, 1, f.source.approveCalls)

	require.NoError(t, f.coordinator.Burn(ctx, transfer.ID))
	burned, err := f.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.NotNil(t, burned.BurnTxHash)
	require.NotNil(t, burned.MessageHash)
	require.Equal(t, f.source.message, burned.Message)

	ready := f.waitForStep(t, transfer.ID, entity.StepAttestationReady)
	require.Equal(t, []byte{0xa7, 0x7e, 0x57}, ready.Attestation)

	require.NoError(t, f.coordinator.CompleteOnDestination(ctx, transfer.ID))
	completed, err := f.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepCompleted, completed.Step)
	require.NotNil(t, completed.MintTxHash)
	require.Equal(t, burned.BurnTxHash, completed.BurnTxHash)
	require.Equal(t, burned.MessageHash, completed.MessageHash)
	require.Equal(t, 1, f.destination.mintCalls)

	progress, err := f.coordinator.GetProgress(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, 100, progress.Percentage)
	require.Equal(t, "https://basescan.org/tx/"+completed.BurnTxHash.Hex(), progress.BurnTxLink)
	require.Equal(t, "https://arbiscan.io/tx/"+completed.MintTxHash.Hex(), progress.MintTxLink)
}

func TestBurnRevertStaysInStep(t *testing.T) {
	t.Parallel()

	source := newFakeBridge("base", 6, 1000, 1000)
	source.revertNextBurn = true
	f := newFixture(t, source, newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepBurning)

	require.NoError(t, f.coordinator.Burn(ctx, transfer.ID))
	reverted, err := f.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepBurning, reverted.Step)
	require.NotNil(t, reverted.ErrorKind)
	require.Equal(t, entity.ErrorTransactionReverted, *reverted.ErrorKind)

	// the step stayed resumable, a retry goes through
	require.NoError(t, f.coordinator.Burn(ctx, transfer.ID))
	f.waitForStep(t, transfer.ID, entity.StepAttestationReady)
	require.Equal(t, 2, f.source.burnCalls)
}

func TestDuplicateMessageSingleFlight(t *testing.T) {
	t.Parallel()

	source := newFakeBridge("base", 6, 1000, 1000)
	f := newFixture(t, source, newFakeBridge("arbitrum", 3, 0, 0))
	// park the first transfer in the polling step so it holds its message hash
	f.poller.results = []pollResult{{hang: true}, {attestation: []byte{0x01}}}
	ctx := context.Background()

	first := f.initiate(t, 100)
	f.waitForStep(t, first.ID, entity.StepBurning)
	require.NoError(t, f.coordinator.Burn(ctx, first.ID))

	// the fake bridge emits the same message for every burn
	second := f.initiate(t, 100)
	f.waitForStep(t, second.ID, entity.StepBurning)
	require.NoError(t, f.coordinator.Burn(ctx, second.ID))

	duplicate, err := f.transfers.GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepFailed, duplicate.Step)
	require.NotNil(t, duplicate.ErrorKind)
	require.Equal(t, entity.ErrorDuplicateMessage, *duplicate.ErrorKind)
}

func TestDuplicateMessagePersistedAcrossRuns(t *testing.T) {
	t.Parallel()

	source := newFakeBridge("base", 6, 1000, 1000)
	f := newFixture(t, source, newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	// a transfer from a previous run already owns the message hash the next
	// burn is going to produce
	msgHash := contract.MessageHash(source.message)
	previous := &entity.Transfer{
		ID:               "previous-transfer",
		SourceChain:      "base",
		DestinationChain: "arbitrum",
		Amount:           "100",
		Recipient:        testRecipient,
		Step:             entity.StepWaitingAttestation,
		Message:          source.message,
		MessageHash:      &msgHash,
	}
	require.NoError(t, f.transfers.Create(ctx, previous))

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepBurning)
	require.NoError(t, f.coordinator.Burn(ctx, transfer.ID))

	duplicate, err := f.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepFailed, duplicate.Step)
	require.NotNil(t, duplicate.ErrorKind)
	require.Equal(t, entity.ErrorDuplicateMessage, *duplicate.ErrorKind)
	require.NotNil(t, duplicate.BurnTxHash)
}

func TestMintFailureRevertsToAttestationReady(t *testing.T) {
	t.Parallel()

	destination := newFakeBridge("arbitrum", 3, 0, 0)
	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), destination)
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepBurning)
	require.NoError(t, f.coordinator.Burn(ctx, transfer.ID))
	f.waitForStep(t, transfer.ID, entity.StepAttestationReady)

	destination.rejectNextMint = true
	require.NoError(t, f.coordinator.CompleteOnDestination(ctx, transfer.ID))
	rejected, err := f.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepAttestationReady, rejected.Step)
	require.Nil(t, rejected.MintTxHash)
	require.NotNil(t, rejected.ErrorKind)
	require.Equal(t, entity.ErrorDestinationSubmissionFailed, *rejected.ErrorKind)

	destination.revertNextMint = true
	require.NoError(t, f.coordinator.CompleteOnDestination(ctx, transfer.ID))
	revertedMint, err := f.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepAttestationReady, revertedMint.Step)
	require.Nil(t, revertedMint.MintTxHash)

	require.NoError(t, f.coordinator.CompleteOnDestination(ctx, transfer.ID))
	completed, err := f.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepCompleted, completed.Step)
	require.NotNil(t, completed.MintTxHash)
}

func TestCancelValidSteps(t *testing.T) {
	t.Parallel()

	hanging := newFakeBridge("base", 6, 1000, 1000)
	hanging.hangBalance = true
	fh := newFixture(t, hanging, newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	// cancel while the balance check is still running
	transfer := fh.initiate(t, 100)
	require.NoError(t, fh.coordinator.Cancel(ctx, transfer.ID))
	stopped, err := fh.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepCheckingBalance, stopped.Step)

	// cancel while attestation polling is in progress
	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	f.poller.results = []pollResult{{hang: true}}
	polling := f.initiate(t, 100)
	f.waitForStep(t, polling.ID, entity.StepBurning)
	require.NoError(t, f.coordinator.Burn(ctx, polling.ID))
	f.waitForStep(t, polling.ID, entity.StepWaitingAttestation)
	require.NoError(t, f.coordinator.Cancel(ctx, polling.ID))

	// the record keeps its last known state after cancellation
	cancelled, err := f.transfers.GetByID(ctx, polling.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepWaitingAttestation, cancelled.Step)
}

func TestCancelInvalidSteps(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepBurning)
	require.ErrorIs(t, f.coordinator.Cancel(ctx, transfer.ID), coordinator.ErrInvalidStateForCancel)

	require.NoError(t, f.coordinator.Burn(ctx, transfer.ID))
	f.waitForStep(t, transfer.ID, entity.StepAttestationReady)
	require.ErrorIs(t, f.coordinator.Cancel(ctx, transfer.ID), coordinator.ErrInvalidStateForCancel)

	require.NoError(t, f.coordinator.CompleteOnDestination(ctx, transfer.ID))
	require.ErrorIs(t, f.coordinator.Cancel(ctx, transfer.ID), coordinator.ErrInvalidStateForCancel)
}

func TestResetRequiresTerminalStep(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 50, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	_, err := f.coordinator.Reset(ctx, transfer.ID)
	if err == nil {
		// the background balance check may have already failed the transfer
		fresh, getErr := f.transfers.GetByID(ctx, transfer.ID)
		require.NoError(t, getErr)
		require.True(t, fresh.Step.IsTerminal())
		return
	}
	require.ErrorIs(t, err, coordinator.ErrInvalidStep)
}

func TestResetCreatesFreshRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 50, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepFailed)

	fresh, err := f.coordinator.Reset(ctx, transfer.ID)
	require.NoError(t, err)
	require.NotEqual(t, transfer.ID, fresh.ID)
	require.Equal(t, entity.StepIdle, fresh.Step)
	require.Equal(t, transfer.SourceChain, fresh.SourceChain)
	require.Equal(t, transfer.DestinationChain, fresh.DestinationChain)
	require.Equal(t, transfer.Amount, fresh.Amount)
	require.Equal(t, transfer.Recipient, fresh.Recipient)
	require.Nil(t, fresh.ErrorKind)

	// the failed record is retired, not mutated
	old, err := f.transfers.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepFailed, old.Step)
}

func TestResumeAfterAttestationTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	f.poller.results = []pollResult{
		{err: fmt.Errorf("polling: %w", attestation.ErrTimeout)},
		{attestation: []byte{0x02}},
	}
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepBurning)
	require.NoError(t, f.coordinator.Burn(ctx, transfer.ID))

	failed := f.waitForStep(t, transfer.ID, entity.StepFailed)
	require.NotNil(t, failed.ErrorKind)
	require.Equal(t, entity.ErrorAttestationTimeout, *failed.ErrorKind)
	require.NotNil(t, failed.MessageHash)
	require.NotNil(t, failed.BurnTxHash)

	require.NoError(t, f.coordinator.Resume(ctx, transfer.ID))
	ready := f.waitForStep(t, transfer.ID, entity.StepAttestationReady)
	require.Equal(t, []byte{0x02}, ready.Attestation)
	// the burn is never redone on resume
	require.Equal(t, 1, f.source.burnCalls)
}

func TestResumeRejectsNonAttestationFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 50, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepFailed)
	require.ErrorIs(t, f.coordinator.Resume(ctx, transfer.ID), coordinator.ErrInvalidStep)
}

func TestServiceUnavailableFailsTransfer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	f.poller.results = []pollResult{{err: attestation.ErrServiceUnavailable}}
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepBurning)
	require.NoError(t, f.coordinator.Burn(ctx, transfer.ID))

	failed := f.waitForStep(t, transfer.ID, entity.StepFailed)
	require.NotNil(t, failed.ErrorKind)
	require.Equal(t, entity.ErrorAttestationServiceUnavailable, *failed.ErrorKind)
	require.NotNil(t, failed.FailedStep)
	require.Equal(t, entity.StepWaitingAttestation, *failed.FailedStep)
}

func TestStepOperationsRequireMatchingStep(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	transfer := f.initiate(t, 100)
	f.waitForStep(t, transfer.ID, entity.StepBurning)

	require.ErrorIs(t, f.coordinator.Approve(ctx, transfer.ID), coordinator.ErrInvalidStep)
	require.ErrorIs(t, f.coordinator.CompleteOnDestination(ctx, transfer.ID), coordinator.ErrInvalidStep)
}

func TestProgressReportsFailedStepWeight(t *testing.T) {
	t.Parallel()

	failedStep := entity.StepWaitingAttestation
	kind := entity.ErrorAttestationTimeout
	msg := "attestation polling timed out"
	transfer := &entity.Transfer{
		Step:       entity.StepFailed,
		FailedStep: &failedStep,
		ErrorKind:  &kind,
		LastError:  &msg,
	}
	require.Equal(t, 55, coordinator.StepPercentage(transfer))
	require.Equal(t, "transfer failed: attestation polling timed out", coordinator.StepDescription(transfer))

	require.Equal(t, 0, coordinator.StepPercentage(&entity.Transfer{Step: entity.StepIdle}))
	require.Equal(t, 70, coordinator.StepPercentage(&entity.Transfer{Step: entity.StepAttestationReady}))
}

func TestStartRecoversNonTerminalTransfers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	msgHash := common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	minting := &entity.Transfer{
		ID:               "minting-transfer",
		SourceChain:      "base",
		DestinationChain: "arbitrum",
		Amount:           "100",
		Recipient:        testRecipient,
		Step:             entity.StepMinting,
		Message:          []byte("recovered message"),
		MessageHash:      &msgHash,
		Attestation:      []byte{0x03},
	}
	require.NoError(t, f.transfers.Create(ctx, minting))

	require.NoError(t, f.coordinator.Start(ctx))

	recovered, err := f.transfers.GetByID(ctx, minting.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepAttestationReady, recovered.Step)
	require.NotNil(t, recovered.ErrorKind)
	require.Equal(t, entity.ErrorDestinationSubmissionFailed, *recovered.ErrorKind)

	// the recovered transfer can be completed
	require.NoError(t, f.coordinator.CompleteOnDestination(ctx, minting.ID))
	completed, err := f.transfers.GetByID(ctx, minting.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StepCompleted, completed.Step)
}

func TestStartRetiresDuplicateRecoveredTransfers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeBridge("base", 6, 1000, 1000), newFakeBridge("arbitrum", 3, 0, 0))
	ctx := context.Background()

	// two persisted records claim the same message hash, only one may keep it
	msgHash := common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	for _, id := range []string{"transfer-a", "transfer-b"} {
		require.NoError(t, f.transfers.Create(ctx, &entity.Transfer{
			ID:               id,
			SourceChain:      "base",
			DestinationChain: "arbitrum",
			Amount:           "100",
			Recipient:        testRecipient,
			Step:             entity.StepAttestationReady,
			Message:          []byte("recovered message"),
			MessageHash:      &msgHash,
			Attestation:      []byte{0x04},
		}))
	}

	require.NoError(t, f.coordinator.Start(ctx))

	a, err := f.transfers.GetByID(ctx, "transfer-a")
	require.NoError(t, err)
	b, err := f.transfers.GetByID(ctx, "transfer-b")
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]entity.Step{entity.StepAttestationReady, entity.StepFailed},
		[]entity.Step{a.Step, b.Step})

	failed := a
	if b.Step == entity.StepFailed {
		failed = b
	}
	require.NotNil(t, failed.ErrorKind)
	require.Equal(t, entity.ErrorDuplicateMessage, *failed.ErrorKind)
}
