package attestation

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/stablefolio/cctp-coordinator/config"
	"github.com/stablefolio/cctp-coordinator/logging"
	"github.com/stablefolio/cctp-coordinator/utils"
)

var (
	// ErrTimeout is returned after the poll budget is exhausted without a
	// completed attestation.
	ErrTimeout = errors.New("attestation polling timed out")
	// ErrServiceUnavailable is returned once every one of the last
	// maxTransportErrors consecutive polls failed at the transport level.
	ErrServiceUnavailable = errors.New("attestation service unavailable")
)

// Querier is the poller's view of the attestation service.
type Querier interface {
	GetAttestation(ctx context.Context, msgHash common.Hash) (Status, []byte, error)
}

type Poller struct {
	logger             logging.Logger
	client             Querier
	interval           time.Duration
	maxPolls           int
	maxTransportErrors int
}

func NewPoller(logger logging.Logger, client Querier, cfg *config.AttestationConfig) *Poller {
	return &Poller{
		logger:             logger,
		client:             client,
		interval:           time.Duration(cfg.PollInterval),
		maxPolls:           cfg.MaxPolls,
		maxTransportErrors: cfg.MaxTransportErrors,
	}
}

// Poll repeatedly queries the attestation service for the message hash until
// it completes, the poll budget runs out, or ctx is cancelled. A returned
// attestation is always non-empty.
func (p *Poller) Poll(ctx context.Context, msgHash common.Hash) ([]byte, error) {
	logger := p.logger.WithField("msg_hash", msgHash)

	consecutiveErrors := 0
	for polls := 1; ; polls++ {
		status, attestation, err := p.client.GetAttestation(ctx, msgHash)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			consecutiveErrors++
			logger.WithError(err).WithFields(logrus.Fields{
				"poll":               polls,
				"consecutive_errors": consecutiveErrors,
			}).Warn("attestation poll failed, treating as pending")
			ObservePoll("transport_error")
			if consecutiveErrors >= p.maxTransportErrors {
				return nil, ErrServiceUnavailable
			}
		} else {
			consecutiveErrors = 0
			ObservePoll(string(status))
			if status == StatusComplete {
				logger.WithField("polls", polls).Info("attestation completed")
				return attestation, nil
			}
			logger.WithField("poll", polls).Debug("attestation still pending")
		}

		if polls >= p.maxPolls {
			return nil, ErrTimeout
		}
		if utils.ContextSleep(ctx, p.interval) == nil {
			return nil, ctx.Err()
		}
	}
}
