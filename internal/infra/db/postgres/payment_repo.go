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

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, description, status, amount, refunded_amount, biz_id, provider, provider_trade_no, provider_info, created_at, updated_at, success_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var id, bizID string
	if err := row.Scan(&id, &p.Description, &p.Status, &p.Amount, &p.RefundedAmount, &bizID, &p.Provider, &p.ProviderTradeNo, &p.ProviderInfo, &p.CreatedAt, &p.UpdatedAt, &p.SuccessAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if p.BizID, err = uuid.Parse(bizID); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *paymentRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, description, status, amount, refunded_amount, biz_id, provider, provider_trade_no, provider_info, created_at, updated_at, success_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,COALESCE($9,'{}'::jsonb),$10,$11,$12
);`
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID.String(), p.Description, p.Status, p.Amount, p.RefundedAmount,
		p.BizID.String(), p.Provider, p.ProviderTradeNo, p.ProviderInfo,
		p.CreatedAt, p.UpdatedAt, p.SuccessAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id.String())
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) MarkSucceeded(ctx context.Context, tx repository.Tx, id uuid.UUID, providerTradeNo string, successAt time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET status = $2,
       provider_trade_no = $3,
       success_at = $4,
       updated_at = NOW()
 WHERE id = $1
   AND status = $5;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id.String(), model.PaymentStatusSuccess, providerTradeNo, successAt, model.PaymentStatusPending)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

// AddRefundedAmount is guarded in SQL: the increment is refused when it would
// exceed the payment amount, and the payment flips to Refunded in the same
// statement when it becomes fully refunded.
func (r *paymentRepo) AddRefundedAmount(ctx context.Context, tx repository.Tx, id uuid.UUID, amount int64) (bool, error) {
	const q = `
UPDATE payments
   SET refunded_amount = refunded_amount + $2,
       status = CASE WHEN refunded_amount + $2 = amount AND status = $3 THEN $4 ELSE status END,
       updated_at = NOW()
 WHERE id = $1
   AND $2 > 0
   AND refunded_amount + $2 <= amount;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id.String(), amount, model.PaymentStatusSuccess, model.PaymentStatusRefunded)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListSuccessful(ctx context.Context, tx repository.Tx, bizID uuid.UUID) ([]*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE biz_id=$1 AND status=$2 ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, bizID.String(), model.PaymentStatusSuccess)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE status=$1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, model.PaymentStatusPending, olderThan, limit)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]*model.Payment, error) {
	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
