//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/domain/ports/gateway"
	"paygate/internal/domain/ports/repository"
)

// ---------------- in-memory infra mocks (repos/tx/guard) ----------------

type memTxManager struct {
	// BeginErr makes every transaction fail before fn runs.
	BeginErr error
	// FailCommit makes fn run but the transaction report an error, as a
	// commit failure would.
	FailCommit error
}

func (m *memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.BeginErr != nil {
		return m.BeginErr
	}
	if err := fn(ctx, nil); err != nil {
		return err
	}
	return m.FailCommit
}

type memPaymentRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Payment

	InsertErr error
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{rows: map[uuid.UUID]*model.Payment{}}
}

func (m *memPaymentRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.rows[p.ID] = &cp
	return nil
}

func (m *memPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) MarkSucceeded(ctx context.Context, tx repository.Tx, id uuid.UUID, providerTradeNo string, successAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusSuccess
	p.ProviderTradeNo = &providerTradeNo
	p.SuccessAt = &successAt
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *memPaymentRepo) AddRefundedAmount(ctx context.Context, tx repository.Tx, id uuid.UUID, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || amount <= 0 || p.RefundedAmount+amount > p.Amount {
		return false, nil
	}
	p.RefundedAmount += amount
	if p.RefundedAmount == p.Amount && p.Status == model.PaymentStatusSuccess {
		p.Status = model.PaymentStatusRefunded
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *memPaymentRepo) ListSuccessful(ctx context.Context, tx repository.Tx, bizID uuid.UUID) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.rows {
		if p.BizID == bizID && p.Status == model.PaymentStatusSuccess {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.rows {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memRefundRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Refund
}

func newMemRefundRepo() *memRefundRepo {
	return &memRefundRepo{rows: map[uuid.UUID]*model.Refund{}}
}

func (m *memRefundRepo) Insert(ctx context.Context, tx repository.Tx, r *model.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rows[r.ID] = &cp
	return nil
}

func (m *memRefundRepo) FindByID(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRefundRepo) SetProviderRefundNo(ctx context.Context, tx repository.Tx, id uuid.UUID, providerRefundNo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if ok && r.Status == model.RefundStatusPending {
		r.ProviderRefundNo = &providerRefundNo
	}
	return nil
}

func (m *memRefundRepo) Resolve(ctx context.Context, tx repository.Tx, id uuid.UUID, status model.RefundStatus, providerRefundNo *string, successAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != model.RefundStatusPending {
		return false, nil
	}
	r.Status = status
	if providerRefundNo != nil {
		r.ProviderRefundNo = providerRefundNo
	}
	r.SuccessAt = successAt
	r.UpdatedAt = time.Now()
	return true, nil
}

type memEventRepo struct {
	mu   sync.Mutex
	rows []*model.PaymentEvent

	AppendErr error
}

func (m *memEventRepo) Append(ctx context.Context, tx repository.Tx, ev *model.PaymentEvent) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memEventRepo) ListByPayment(ctx context.Context, tx repository.Tx, paymentID uuid.UUID) ([]*model.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentEvent
	for _, ev := range m.rows {
		if ev.PaymentID == paymentID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEventRepo) kinds(paymentID uuid.UUID) []model.PaymentEventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PaymentEventKind
	for _, ev := range m.rows {
		if ev.PaymentID == paymentID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

type memGuard struct {
	mu   sync.Mutex
	held map[string]string

	AcquireErr error
}

func newMemGuard() *memGuard {
	return &memGuard{held: map[string]string{}}
}

func (m *memGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if m.AcquireErr != nil {
		return "", false, m.AcquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.held[key]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	m.held[key] = token
	return token, true, nil
}

func (m *memGuard) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

// ---------------- gateway provider mock ----------------

type mockProvider struct {
	key model.ProviderKey

	PayFunc            func(ctx context.Context, paymentID uuid.UUID, req gateway.PayRequest) (gateway.PayResult, error)
	PayCallbackFunc    func(ctx context.Context, req gateway.WebhookRequest) (gateway.PayCallbackOutcome, error)
	RefundFunc         func(ctx context.Context, paymentID uuid.UUID, req gateway.RefundRequest) (gateway.RefundResult, error)
	RefundCallbackFunc func(ctx context.Context, req gateway.WebhookRequest) (gateway.RefundCallbackOutcome, error)
	QueryFunc          func(ctx context.Context, paymentID uuid.UUID) (gateway.QueryResult, error)

	payCalls    int
	refundCalls int
	queryCalls  int
}

func (m *mockProvider) Key() model.ProviderKey { return m.key }

func (m *mockProvider) Pay(ctx context.Context, paymentID uuid.UUID, req gateway.PayRequest) (gateway.PayResult, error) {
	m.payCalls++
	return m.PayFunc(ctx, paymentID, req)
}

func (m *mockProvider) PayCallback(ctx context.Context, req gateway.WebhookRequest) (gateway.PayCallbackOutcome, error) {
	return m.PayCallbackFunc(ctx, req)
}

func (m *mockProvider) Refund(ctx context.Context, paymentID uuid.UUID, req gateway.RefundRequest) (gateway.RefundResult, error) {
	m.refundCalls++
	return m.RefundFunc(ctx, paymentID, req)
}

func (m *mockProvider) RefundCallback(ctx context.Context, req gateway.WebhookRequest) (gateway.RefundCallbackOutcome, error) {
	return m.RefundCallbackFunc(ctx, req)
}

func (m *mockProvider) QueryPayment(ctx context.Context, paymentID uuid.UUID) (gateway.QueryResult, error) {
	m.queryCalls++
	return m.QueryFunc(ctx, paymentID)
}
