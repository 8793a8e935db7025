package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stablefolio/cctp-coordinator/coordinator"
	"github.com/stablefolio/cctp-coordinator/db"
	"github.com/stablefolio/cctp-coordinator/logging"
	localmiddleware "github.com/stablefolio/cctp-coordinator/presenter/http/middleware"
	"github.com/stablefolio/cctp-coordinator/presenter/http/render"
)

const transferIDPattern = "{transferID:[0-9a-fA-F-]{36}}"

type Presenter struct {
	logger      logging.Logger
	coordinator *coordinator.Coordinator
	root        chi.Router
}

func NewPresenter(logger logging.Logger, c *coordinator.Coordinator) *Presenter {
	return &Presenter{
		logger:      logger,
		coordinator: c,
		root:        chi.NewMux(),
	}
}

func (p *Presenter) Serve(addr string) error {
	p.logger.WithField("addr", addr).Info("starting presenter service")
	p.root.Use(middleware.Throttle(5))
	p.root.Use(middleware.RequestID)
	p.root.Use(localmiddleware.NewLoggerMiddleware(p.logger))
	p.root.Use(localmiddleware.Recoverer)
	p.root.Post("/transfers", p.InitiateTransfer)
	p.root.Get("/transfers/"+transferIDPattern, p.GetTransferProgress)
	p.root.Post("/transfers/"+transferIDPattern+"/approve", p.stepHandler(p.coordinator.Approve))
	p.root.Post("/transfers/"+transferIDPattern+"/burn", p.stepHandler(p.coordinator.Burn))
	p.root.Post("/transfers/"+transferIDPattern+"/mint", p.stepHandler(p.coordinator.CompleteOnDestination))
	p.root.Post("/transfers/"+transferIDPattern+"/cancel", p.stepHandler(p.coordinator.Cancel))
	p.root.Post("/transfers/"+transferIDPattern+"/resume", p.stepHandler(p.coordinator.Resume))
	p.root.Post("/transfers/"+transferIDPattern+"/reset", p.ResetTransfer)
	return http.ListenAndServe(addr, p.root)
}

func (p *Presenter) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req InitiateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Error(w, r, http.StatusBadRequest, fmt.Errorf("can't decode request body: %w", err))
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		render.Error(w, r, http.StatusBadRequest, fmt.Errorf("can't parse amount %q", req.Amount))
		return
	}
	if !common.IsHexAddress(req.Recipient) {
		render.Error(w, r, http.StatusBadRequest, fmt.Errorf("invalid recipient address %q", req.Recipient))
		return
	}

	transfer, err := p.coordinator.Initiate(ctx, coordinator.InitiateRequest{
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
		Amount:           amount,
		Recipient:        common.HexToAddress(req.Recipient),
	})
	if err != nil {
		render.Error(w, r, statusForError(err), err)
		return
	}

	progress, err := p.coordinator.GetProgress(ctx, transfer.ID)
	if err != nil {
		render.Error(w, r, statusForError(err), err)
		return
	}
	render.JSON(w, r, http.StatusCreated, progress)
}

func (p *Presenter) GetTransferProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	progress, err := p.coordinator.GetProgress(ctx, chi.URLParamFromCtx(ctx, "transferID"))
	if err != nil {
		render.Error(w, r, statusForError(err), err)
		return
	}
	render.JSON(w, r, http.StatusOK, progress)
}

func (p *Presenter) ResetTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fresh, err := p.coordinator.Reset(ctx, chi.URLParamFromCtx(ctx, "transferID"))
	if err != nil {
		render.Error(w, r, statusForError(err), err)
		return
	}
	progress, err := p.coordinator.GetProgress(ctx, fresh.ID)
	if err != nil {
		render.Error(w, r, statusForError(err), err)
		return
	}
	render.JSON(w, r, http.StatusCreated, progress)
}

// stepHandler runs a coordinator step operation and responds with the
// transfer's refreshed progress. Step errors are attached to the record, so a
// nil operation error still reports the failure through the progress payload.
func (p *Presenter) stepHandler(op func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		transferID := chi.URLParamFromCtx(ctx, "transferID")
		if err := op(ctx, transferID); err != nil {
			render.Error(w, r, statusForError(err), err)
			return
		}
		progress, err := p.coordinator.GetProgress(ctx, transferID)
		if err != nil {
			render.Error(w, r, statusForError(err), err)
			return
		}
		render.JSON(w, r, http.StatusOK, progress)
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrInvalidStep),
		errors.Is(err, coordinator.ErrInvalidStateForCancel),
		errors.Is(err, coordinator.ErrStepInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
