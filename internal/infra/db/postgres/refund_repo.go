package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/domain/ports/repository"
)

var _ repository.RefundRepository = (*refundRepo)(nil)

type refundRepo struct{ pool *pgxpool.Pool }

func NewRefundRepo(pool *pgxpool.Pool) *refundRepo {
	return &refundRepo{pool: pool}
}

const refundColumns = `id, payment_id, provider_refund_no, amount, reason, status, created_at, updated_at, success_at`

func scanRefund(row pgx.Row) (*model.Refund, error) {
	r := &model.Refund{}
	var id, paymentID string
	if err := row.Scan(&id, &paymentID, &r.ProviderRefundNo, &r.Amount, &r.Reason, &r.Status, &r.CreatedAt, &r.UpdatedAt, &r.SuccessAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if r.PaymentID, err = uuid.Parse(paymentID); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return r, nil
}

func (r *refundRepo) Insert(ctx context.Context, tx repository.Tx, rf *model.Refund) error {
	const q = `
INSERT INTO refunds (
  id, payment_id, provider_refund_no, amount, reason, status, created_at, updated_at, success_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q,
		rf.ID.String(), rf.PaymentID.String(), rf.ProviderRefundNo,
		rf.Amount, rf.Reason, rf.Status, rf.CreatedAt, rf.UpdatedAt, rf.SuccessAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *refundRepo) FindByID(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.Refund, error) {
	q := `SELECT ` + refundColumns + ` FROM refunds WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id.String())
	if err != nil {
		return nil, err
	}
	return scanRefund(row)
}

func (r *refundRepo) SetProviderRefundNo(ctx context.Context, tx repository.Tx, id uuid.UUID, providerRefundNo string) error {
	const q = `
UPDATE refunds
   SET provider_refund_no = $2,
       updated_at = NOW()
 WHERE id = $1
   AND status = $3;`
	_, err := execSQL(ctx, r.pool, tx, q, id.String(), providerRefundNo, model.RefundStatusPending)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *refundRepo) Resolve(ctx context.Context, tx repository.Tx, id uuid.UUID, status model.RefundStatus, providerRefundNo *string, successAt *time.Time) (bool, error) {
	const q = `
UPDATE refunds
   SET status = $2,
       provider_refund_no = COALESCE($3, provider_refund_no),
       success_at = $4,
       updated_at = NOW()
 WHERE id = $1
   AND status = $5;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id.String(), status, providerRefundNo, successAt, model.RefundStatusPending)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}
