package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/stablefolio/cctp-coordinator/db"
	"github.com/stablefolio/cctp-coordinator/entity"
)

type transfersRepo basePostgresRepo

func NewTransfersRepo(table string, db *db.DB) entity.TransfersRepo {
	return (*transfersRepo)(newBasePostgresRepo(table, db))
}

func (r *transfersRepo) Create(ctx context.Context, t *entity.Transfer) error {
	q, args, err := sq.Insert(r.table).
		Columns("id", "source_chain", "destination_chain", "amount", "recipient", "step").
		Values(t.ID, t.SourceChain, t.DestinationChain, t.Amount, t.Recipient, t.Step).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert transfer: %w", err)
	}
	return nil
}

func (r *transfersRepo) Update(ctx context.Context, t *entity.Transfer) error {
	q, args, err := sq.Update(r.table).
		Set("step", t.Step).
		Set("failed_step", t.FailedStep).
		Set("burn_tx_hash", t.BurnTxHash).
		Set("message", t.Message).
		Set("message_hash", t.MessageHash).
		Set("attestation", t.Attestation).
		Set("mint_tx_hash", t.MintTxHash).
		Set("error_kind", t.ErrorKind).
		Set("last_error", t.LastError).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": t.ID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't update transfer: %w", err)
	}
	return nil
}

func (r *transfersRepo) GetByID(ctx context.Context, id string) (*entity.Transfer, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	transfer := new(entity.Transfer)
	err = r.db.GetContext(ctx, transfer, q, args...)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("can't get transfer: %w", err)
	}
	return transfer, nil
}

func (r *transfersRepo) FindByMessageHash(ctx context.Context, msgHash common.Hash) ([]*entity.Transfer, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"message_hash": msgHash}).
		OrderBy("created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	var transfers []*entity.Transfer
	err = r.db.SelectContext(ctx, &transfers, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find transfers: %w", err)
	}
	return transfers, nil
}

func (r *transfersRepo) FindNonTerminal(ctx context.Context) ([]*entity.Transfer, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.NotEq{"step": []entity.Step{entity.StepCompleted, entity.StepFailed}}).
		OrderBy("created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	var transfers []*entity.Transfer
	err = r.db.SelectContext(ctx, &transfers, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find transfers: %w", err)
	}
	return transfers, nil
}
