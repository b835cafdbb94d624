package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/domain/ports/repository"
)

var _ repository.PaymentEventRepository = (*eventRepo)(nil)

type eventRepo struct{ pool *pgxpool.Pool }

func NewEventRepo(pool *pgxpool.Pool) *eventRepo {
	return &eventRepo{pool: pool}
}

func (r *eventRepo) Append(ctx context.Context, tx repository.Tx, ev *model.PaymentEvent) error {
	reqJSON, err := json.Marshal(ev.Request)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	var resJSON *string
	if ev.Response != nil {
		b, err := json.Marshal(ev.Response)
		if err != nil {
			return domain.ErrInvalidArgument
		}
		s := string(b)
		resJSON = &s
	}
	const q = `
INSERT INTO payment_events (id, payment_id, kind, request, response, created_at)
VALUES ($1,$2,$3,$4::jsonb,$5::jsonb,$6);`
	_, err = execSQL(ctx, r.pool, tx, q,
		ev.ID.String(), ev.PaymentID.String(), ev.Kind, string(reqJSON), resJSON, ev.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *eventRepo) ListByPayment(ctx context.Context, tx repository.Tx, paymentID uuid.UUID) ([]*model.PaymentEvent, error) {
	const q = `
SELECT id, payment_id, kind, request, response, created_at
  FROM payment_events
 WHERE payment_id = $1
 ORDER BY created_at ASC, id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, paymentID.String())
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.PaymentEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanEvent(row pgx.Row) (*model.PaymentEvent, error) {
	ev := &model.PaymentEvent{}
	var id, paymentID string
	var reqJSON []byte
	var resJSON []byte
	if err := row.Scan(&id, &paymentID, &ev.Kind, &reqJSON, &resJSON, &ev.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	var err error
	if ev.ID, err = uuid.Parse(id); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if ev.PaymentID, err = uuid.Parse(paymentID); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(reqJSON, &ev.Request); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if len(resJSON) > 0 {
		res := &model.HTTPRecord{}
		if err := json.Unmarshal(resJSON, res); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ev.Response = res
	}
	return ev, nil
}
