// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/domain/ports/gateway"
	"paygate/internal/domain/ports/repository"
	"paygate/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Pay creates a Pending payment, asks the gateway to open a transaction
	// for it, and returns whatever the payer's client needs to invoke the
	// payment UI.
	Pay(ctx context.Context, provider model.ProviderKey, bizID uuid.UUID, amount int64, description string, extra map[string]string) (*model.Payment, map[string]string, error)
	// HandlePayCallback verifies and applies a payment success notification.
	// The returned Ack is the exact response to send back to the gateway.
	HandlePayCallback(ctx context.Context, provider model.ProviderKey, req gateway.WebhookRequest) (gateway.Ack, error)
	// Refund starts a partial or full refund against a successful payment.
	Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason *string) (*model.Refund, error)
	// HandleRefundCallback verifies and applies a refund outcome notification.
	HandleRefundCallback(ctx context.Context, provider model.ProviderKey, req gateway.WebhookRequest) (gateway.Ack, error)
	// ReconcilePayment polls the gateway for a payment whose callback never
	// arrived and applies the result through the same idempotent path.
	ReconcilePayment(ctx context.Context, paymentID uuid.UUID) error

	Get(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error)
	Events(ctx context.Context, paymentID uuid.UUID) ([]*model.PaymentEvent, error)
	ListSuccessful(ctx context.Context, tx repository.Tx, bizID uuid.UUID) ([]*model.Payment, error)

	// RecordExternalSuccess applies a payment success inside a caller-owned
	// transaction, for flows that learn the outcome out of band. Returns
	// false when the payment was not Pending anymore.
	RecordExternalSuccess(ctx context.Context, tx repository.Tx, paymentID uuid.UUID, providerTradeNo string, successAt time.Time, evidence model.HTTPRecord) (bool, error)
}

type paymentUC struct {
	txm       repository.TransactionManager
	payments  repository.PaymentRepository
	refunds   repository.RefundRepository
	events    repository.PaymentEventRepository
	guard     repository.ReplayGuard
	registry  *gateway.Registry
	replayTTL time.Duration
	log       zerolog.Logger
}

func NewPaymentUseCase(
	txm repository.TransactionManager,
	payments repository.PaymentRepository,
	refunds repository.RefundRepository,
	events repository.PaymentEventRepository,
	guard repository.ReplayGuard,
	registry *gateway.Registry,
	replayTTL time.Duration,
	log zerolog.Logger,
) *paymentUC {
	if replayTTL <= 0 {
		replayTTL = 48 * time.Hour
	}
	return &paymentUC{
		txm:       txm,
		payments:  payments,
		refunds:   refunds,
		events:    events,
		guard:     guard,
		registry:  registry,
		replayTTL: replayTTL,
		log:       log.With().Str("component", "payment_uc").Logger(),
	}
}

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

func (u *paymentUC) Pay(ctx context.Context, providerKey model.ProviderKey, bizID uuid.UUID, amount int64, description string, extra map[string]string) (*model.Payment, map[string]string, error) {
	if amount <= 0 || bizID == uuid.Nil {
		return nil, nil, domain.ErrInvalidArgument
	}
	prov, err := u.registry.Resolve(providerKey)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	p := &model.Payment{
		ID:          newID(),
		Description: description,
		Status:      model.PaymentStatusPending,
		Amount:      amount,
		BizID:       bizID,
		Provider:    providerKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Intent first. The gateway call runs outside any transaction so a slow
	// or hung provider never pins a database connection.
	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return u.payments.Insert(ctx, tx, p)
	})
	if err != nil {
		return nil, nil, err
	}

	result, payErr := prov.Pay(ctx, p.ID, gateway.PayRequest{
		BizID:       bizID,
		Amount:      amount,
		Description: description,
		Extra:       extra,
	})
	if payErr != nil && !errors.Is(payErr, domain.ErrGateway) {
		return nil, nil, payErr
	}

	// Outcome second: the exchange is evidence either way.
	ev := &model.PaymentEvent{
		ID:        newID(),
		PaymentID: p.ID,
		Kind:      model.EventPaymentCreate,
		Request:   result.Request,
		Response:  result.Response,
		CreatedAt: time.Now(),
	}
	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return u.events.Append(ctx, tx, ev)
	})
	if err != nil {
		// No evidence row, no success: the payment stays Pending and the
		// reconciler settles it once the ledger is writable again.
		u.log.Error().Err(err).Str("payment_id", p.ID.String()).Msg("append create event failed")
		return nil, nil, err
	}

	if payErr != nil {
		metrics.IncPayment(providerKey.String(), "gateway_error")
		return nil, nil, payErr
	}
	metrics.IncPayment(providerKey.String(), "created")
	return p, result.ClientParams, nil
}

func (u *paymentUC) HandlePayCallback(ctx context.Context, providerKey model.ProviderKey, req gateway.WebhookRequest) (gateway.Ack, error) {
	prov, err := u.registry.Resolve(providerKey)
	if err != nil {
		return gateway.Ack{}, err
	}
	outcome, err := prov.PayCallback(ctx, req)
	if err != nil {
		metrics.IncWebhook(providerKey.String(), "payment", "rejected")
		return gateway.Ack{}, err
	}

	key := "wh:" + providerKey.String() + ":payment:" + outcome.ProviderTradeNo
	token, acquired, err := u.guard.Acquire(ctx, key, u.replayTTL)
	if err != nil {
		// The guard is a fast path only. The conditional update below still
		// makes the apply idempotent.
		u.log.Warn().Err(err).Str("key", key).Msg("replay guard unavailable")
		acquired = true
		token = ""
	}
	if !acquired {
		metrics.IncWebhook(providerKey.String(), "payment", "duplicate")
		return outcome.Ack, nil
	}

	applied := false
	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		changed, err := u.payments.MarkSucceeded(ctx, tx, outcome.PaymentID, outcome.ProviderTradeNo, outcome.SuccessAt)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		applied = true
		return u.events.Append(ctx, tx, &model.PaymentEvent{
			ID:        newID(),
			PaymentID: outcome.PaymentID,
			Kind:      model.EventPaymentCallback,
			Request:   outcome.Request,
			Response:  outcome.Response,
			CreatedAt: time.Now(),
		})
	})
	if err != nil {
		u.releaseGuard(ctx, key, token)
		metrics.IncWebhook(providerKey.String(), "payment", "error")
		return gateway.Ack{}, err
	}
	if applied {
		metrics.IncPayment(providerKey.String(), "success")
		metrics.IncWebhook(providerKey.String(), "payment", "applied")
		u.log.Info().
			Str("payment_id", outcome.PaymentID.String()).
			Str("provider_trade_no", outcome.ProviderTradeNo).
			Msg("payment succeeded")
	} else {
		metrics.IncWebhook(providerKey.String(), "payment", "duplicate")
	}
	return outcome.Ack, nil
}

func (u *paymentUC) Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason *string) (*model.Refund, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	var payment *model.Payment
	now := time.Now()
	refund := &model.Refund{
		ID:        newID(),
		PaymentID: paymentID,
		Amount:    amount,
		Reason:    reason,
		Status:    model.RefundStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentStatusSuccess {
			return domain.ErrInvalidArgument
		}
		if p.RefundedAmount+amount > p.Amount {
			return domain.ErrRefundExceedsAmount
		}
		payment = p
		return u.refunds.Insert(ctx, tx, refund)
	})
	if err != nil {
		return nil, err
	}

	prov, err := u.registry.Resolve(payment.Provider)
	if err != nil {
		return nil, err
	}
	result, refundErr := prov.Refund(ctx, paymentID, gateway.RefundRequest{
		RefundID:   refund.ID,
		OutTradeNo: payment.OutTradeNo(),
		Amount:     amount,
		Total:      payment.Amount,
	})
	if refundErr != nil && !errors.Is(refundErr, domain.ErrGateway) {
		return nil, refundErr
	}

	ev := &model.PaymentEvent{
		ID:        newID(),
		PaymentID: paymentID,
		Kind:      model.EventPaymentRefund,
		Request:   result.Request,
		Response:  result.Response,
		CreatedAt: time.Now(),
	}
	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if refundErr != nil {
			if _, err := u.refunds.Resolve(ctx, tx, refund.ID, model.RefundStatusFailed, nil, nil); err != nil {
				return err
			}
			refund.Status = model.RefundStatusFailed
			return u.events.Append(ctx, tx, ev)
		}
		if result.ProviderRefundNo != "" {
			if err := u.refunds.SetProviderRefundNo(ctx, tx, refund.ID, result.ProviderRefundNo); err != nil {
				return err
			}
			no := result.ProviderRefundNo
			refund.ProviderRefundNo = &no
		}
		if result.Status == model.RefundStatusSuccess {
			successAt := time.Now()
			changed, err := u.refunds.Resolve(ctx, tx, refund.ID, model.RefundStatusSuccess, refund.ProviderRefundNo, &successAt)
			if err != nil {
				return err
			}
			if changed {
				if ok, err := u.payments.AddRefundedAmount(ctx, tx, paymentID, amount); err != nil {
					return err
				} else if !ok {
					return domain.ErrRefundExceedsAmount
				}
				refund.Status = model.RefundStatusSuccess
				refund.SuccessAt = &successAt
			}
		}
		return u.events.Append(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}

	if refundErr != nil {
		metrics.IncRefund(payment.Provider.String(), "gateway_error")
		return nil, refundErr
	}
	metrics.IncRefund(payment.Provider.String(), refundStatusLabel(refund.Status))
	if refund.Status == model.RefundStatusSuccess {
		metrics.AddRefundedAmount(payment.Provider.String(), amount)
	}
	return refund, nil
}

func (u *paymentUC) HandleRefundCallback(ctx context.Context, providerKey model.ProviderKey, req gateway.WebhookRequest) (gateway.Ack, error) {
	p, err := u.registry.Resolve(providerKey)
	if err != nil {
		return gateway.Ack{}, err
	}
	outcome, err := p.RefundCallback(ctx, req)
	if err != nil {
		metrics.IncWebhook(providerKey.String(), "refund", "rejected")
		return gateway.Ack{}, err
	}
	if outcome.Status == model.RefundStatusPending {
		// Not a terminal notification. Ack it and wait for the next one.
		metrics.IncWebhook(providerKey.String(), "refund", "ignored")
		return outcome.Ack, nil
	}

	key := "wh:" + providerKey.String() + ":refund:" + outcome.ProviderRefundNo
	token, acquired, err := u.guard.Acquire(ctx, key, u.replayTTL)
	if err != nil {
		u.log.Warn().Err(err).Str("key", key).Msg("replay guard unavailable")
		acquired = true
		token = ""
	}
	if !acquired {
		metrics.IncWebhook(providerKey.String(), "refund", "duplicate")
		return outcome.Ack, nil
	}

	applied := false
	var refund *model.Refund
	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		r, err := u.refunds.FindByID(ctx, tx, outcome.RefundID)
		if err != nil {
			return err
		}
		refund = r
		no := outcome.ProviderRefundNo
		changed, err := u.refunds.Resolve(ctx, tx, r.ID, outcome.Status, &no, outcome.SuccessAt)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		applied = true
		if outcome.Status == model.RefundStatusSuccess {
			if ok, err := u.payments.AddRefundedAmount(ctx, tx, r.PaymentID, r.Amount); err != nil {
				return err
			} else if !ok {
				return domain.ErrRefundExceedsAmount
			}
		}
		return u.events.Append(ctx, tx, &model.PaymentEvent{
			ID:        newID(),
			PaymentID: r.PaymentID,
			Kind:      model.EventRefundCallback,
			Request:   outcome.Request,
			Response:  outcome.Response,
			CreatedAt: time.Now(),
		})
	})
	if err != nil {
		u.releaseGuard(ctx, key, token)
		metrics.IncWebhook(providerKey.String(), "refund", "error")
		return gateway.Ack{}, err
	}
	if applied {
		metrics.IncWebhook(providerKey.String(), "refund", "applied")
		metrics.IncRefund(providerKey.String(), refundStatusLabel(outcome.Status))
		if outcome.Status == model.RefundStatusSuccess && refund != nil {
			metrics.AddRefundedAmount(providerKey.String(), refund.Amount)
		}
	} else {
		metrics.IncWebhook(providerKey.String(), "refund", "duplicate")
	}
	return outcome.Ack, nil
}

func (u *paymentUC) ReconcilePayment(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := u.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return err
	}
	if payment.Status != model.PaymentStatusPending {
		return nil
	}
	prov, err := u.registry.Resolve(payment.Provider)
	if err != nil {
		return err
	}
	result, err := prov.QueryPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if result.TradeState != "SUCCESS" || result.SuccessAt == nil {
		return nil
	}
	return u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		changed, err := u.payments.MarkSucceeded(ctx, tx, paymentID, result.ProviderTradeNo, *result.SuccessAt)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		metrics.IncPayment(payment.Provider.String(), "success")
		u.log.Info().
			Str("payment_id", paymentID.String()).
			Str("provider_trade_no", result.ProviderTradeNo).
			Msg("payment reconciled to success")
		return u.events.Append(ctx, tx, &model.PaymentEvent{
			ID:        newID(),
			PaymentID: paymentID,
			Kind:      model.EventPaymentCallback,
			Request:   result.Request,
			Response:  result.Response,
			CreatedAt: time.Now(),
		})
	})
}

func (u *paymentUC) Get(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error) {
	return u.payments.FindByID(ctx, nil, paymentID)
}

func (u *paymentUC) Events(ctx context.Context, paymentID uuid.UUID) ([]*model.PaymentEvent, error) {
	return u.events.ListByPayment(ctx, nil, paymentID)
}

func (u *paymentUC) ListSuccessful(ctx context.Context, tx repository.Tx, bizID uuid.UUID) ([]*model.Payment, error) {
	return u.payments.ListSuccessful(ctx, tx, bizID)
}

func (u *paymentUC) RecordExternalSuccess(ctx context.Context, tx repository.Tx, paymentID uuid.UUID, providerTradeNo string, successAt time.Time, evidence model.HTTPRecord) (bool, error) {
	changed, err := u.payments.MarkSucceeded(ctx, tx, paymentID, providerTradeNo, successAt)
	if err != nil || !changed {
		return false, err
	}
	err = u.events.Append(ctx, tx, &model.PaymentEvent{
		ID:        newID(),
		PaymentID: paymentID,
		Kind:      model.EventPaymentCallback,
		Request:   evidence,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (u *paymentUC) releaseGuard(ctx context.Context, key, token string) {
	if token == "" {
		return
	}
	if err := u.guard.Release(ctx, key, token); err != nil {
		u.log.Warn().Err(err).Str("key", key).Msg("replay guard release failed")
	}
}

func refundStatusLabel(s model.RefundStatus) string {
	switch s {
	case model.RefundStatusSuccess:
		return "success"
	case model.RefundStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}
