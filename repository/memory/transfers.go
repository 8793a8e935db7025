package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablefolio/cctp-coordinator/db"
	"github.com/stablefolio/cctp-coordinator/entity"
)

// TransfersRepo keeps transfers in process memory. Used in tests and for
// ephemeral runs without a configured database.
type TransfersRepo struct {
	mu        sync.RWMutex
	transfers map[string]*entity.Transfer
}

func NewTransfersRepo() *TransfersRepo {
	return &TransfersRepo{
		transfers: make(map[string]*entity.Transfer),
	}
}

func (r *TransfersRepo) Create(_ context.Context, t *entity.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	t.CreatedAt = &now
	t.UpdatedAt = &now
	clone := *t
	r.transfers[t.ID] = &clone
	return nil
}

func (r *TransfersRepo) Update(_ context.Context, t *entity.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transfers[t.ID]; !ok {
		return db.ErrNotFound
	}
	now := time.Now()
	t.UpdatedAt = &now
	clone := *t
	r.transfers[t.ID] = &clone
	return nil
}

func (r *TransfersRepo) GetByID(_ context.Context, id string) (*entity.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transfers[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (r *TransfersRepo) FindByMessageHash(_ context.Context, msgHash common.Hash) ([]*entity.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*entity.Transfer
	for _, t := range r.transfers {
		if t.MessageHash != nil && *t.MessageHash == msgHash {
			clone := *t
			res = append(res, &clone)
		}
	}
	return res, nil
}

func (r *TransfersRepo) FindNonTerminal(_ context.Context) ([]*entity.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*entity.Transfer
	for _, t := range r.transfers {
		if !t.Step.IsTerminal() {
			clone := *t
			res = append(res, &clone)
		}
	}
	return res, nil
}
