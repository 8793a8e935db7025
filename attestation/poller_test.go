package attestation_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/stablefolio/cctp-coordinator/attestation"
	"github.com/stablefolio/cctp-coordinator/config"
)

var testMsgHash = crypto.Keccak256Hash([]byte("message"))

type scriptedQuerier struct {
	polls   int
	respond func(poll int) (attestation.Status, []byte, error)
}

func (q *scriptedQuerier) GetAttestation(_ context.Context, _ common.Hash) (attestation.Status, []byte, error) {
	q.polls++
	return q.respond(q.polls)
}

func newTestPoller(q attestation.Querier) *attestation.Poller {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return attestation.NewPoller(logger, q, &config.AttestationConfig{
		PollInterval:       config.Duration(time.Millisecond),
		MaxPolls:           60,
		MaxTransportErrors: 12,
	})
}

func TestPollCompleteOnLastAttempt(t *testing.T) {
	t.Parallel()

	q := &scriptedQuerier{respond: func(poll int) (attestation.Status, []byte, error) {
		if poll < 60 {
			return attestation.StatusPending, nil, nil
		}
		return attestation.StatusComplete, []byte{0xaa, 0xbb}, nil
	}}

	res, err := newTestPoller(q).Poll(context.Background(), testMsgHash)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb}, res)
	require.Equal(t, 60, q.polls)
}

func TestPollTimeoutAtExactly60Polls(t *testing.T) {
	t.Parallel()

	q := &scriptedQuerier{respond: func(int) (attestation.Status, []byte, error) {
		return attestation.StatusPending, nil, nil
	}}

	_, err := newTestPoller(q).Poll(context.Background(), testMsgHash)
	require.ErrorIs(t, err, attestation.ErrTimeout)
	require.Equal(t, 60, q.polls)
}

func TestPollTransportErrorsEscalate(t *testing.T) {
	t.Parallel()

	q := &scriptedQuerier{respond: func(int) (attestation.Status, []byte, error) {
		return "", nil, fmt.Errorf("connection refused")
	}}

	_, err := newTestPoller(q).Poll(context.Background(), testMsgHash)
	require.ErrorIs(t, err, attestation.ErrServiceUnavailable)
	require.Equal(t, 12, q.polls)
}

func TestPollTransportErrorsResetOnSuccess(t *testing.T) {
	t.Parallel()

	// 11 errors, a successful pending poll, 11 more errors, then complete.
	// The error streak never reaches 12, so polling survives to completion.
	q := &scriptedQuerier{respond: func(poll int) (attestation.Status, []byte, error) {
		switch {
		case poll <= 11:
			return "", nil, fmt.Errorf("connection refused")
		case poll == 12:
			return attestation.StatusPending, nil, nil
		case poll <= 23:
			return "", nil, fmt.Errorf("connection refused")
		default:
			return attestation.StatusComplete, []byte{0x01}, nil
		}
	}}

	res, err := newTestPoller(q).Poll(context.Background(), testMsgHash)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, res)
	require.Equal(t, 24, q.polls)
}

func TestPollCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	q := &scriptedQuerier{respond: func(poll int) (attestation.Status, []byte, error) {
		if poll == 3 {
			cancel()
		}
		return attestation.StatusPending, nil, nil
	}}

	_, err := newTestPoller(q).Poll(ctx, testMsgHash)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, q.polls)
}
