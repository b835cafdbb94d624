package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"paygate/internal/domain"
	"paygate/internal/domain/model"
	"paygate/internal/domain/ports/gateway"
	"paygate/internal/infra/logging"
)

// Webhook bodies are small JSON envelopes; anything bigger is hostile.
const maxWebhookBody = 1 << 20

type createPaymentRequest struct {
	Provider    string            `json:"provider"`
	BizID       string            `json:"biz_id"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type paymentResponse struct {
	ID              string     `json:"id"`
	OutTradeNo      string     `json:"out_trade_no"`
	Provider        string     `json:"provider"`
	Status          string     `json:"status"`
	Amount          int64      `json:"amount"`
	RefundedAmount  int64      `json:"refunded_amount"`
	BizID           string     `json:"biz_id"`
	Description     string     `json:"description,omitempty"`
	ProviderTradeNo *string    `json:"provider_trade_no,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	SuccessAt       *time.Time `json:"success_at,omitempty"`
}

type createPaymentResponse struct {
	Payment      paymentResponse   `json:"payment"`
	ClientParams map[string]string `json:"client_params"`
}

type createRefundRequest struct {
	Amount int64   `json:"amount"`
	Reason *string `json:"reason,omitempty"`
}

type refundResponse struct {
	ID               string     `json:"id"`
	PaymentID        string     `json:"payment_id"`
	OutRefundNo      string     `json:"out_refund_no"`
	Status           string     `json:"status"`
	Amount           int64      `json:"amount"`
	ProviderRefundNo *string    `json:"provider_refund_no,omitempty"`
	SuccessAt        *time.Time `json:"success_at,omitempty"`
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:              p.ID.String(),
		OutTradeNo:      p.OutTradeNo(),
		Provider:        p.Provider.String(),
		Status:          paymentStatusLabel(p.Status),
		Amount:          p.Amount,
		RefundedAmount:  p.RefundedAmount,
		BizID:           p.BizID.String(),
		Description:     p.Description,
		ProviderTradeNo: p.ProviderTradeNo,
		CreatedAt:       p.CreatedAt,
		SuccessAt:       p.SuccessAt,
	}
}

func paymentStatusLabel(s model.PaymentStatus) string {
	switch s {
	case model.PaymentStatusSuccess:
		return "success"
	case model.PaymentStatusFailed:
		return "failed"
	case model.PaymentStatusRefunded:
		return "refunded"
	default:
		return "pending"
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

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	providerKey, ok := model.ParseProviderKey(req.Provider)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_provider", "unknown provider "+req.Provider)
		return
	}
	bizID, err := uuid.Parse(req.BizID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "biz_id must be a UUID")
		return
	}

	payment, clientParams, err := s.payUC.Pay(r.Context(), providerKey, bizID, req.Amount, req.Description, req.Extra)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createPaymentResponse{
		Payment:      toPaymentResponse(payment),
		ClientParams: clientParams,
	})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be a UUID")
		return
	}
	payment, err := s.payUC.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be a UUID")
		return
	}
	events, err := s.payUC.Events(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	type eventResponse struct {
		ID        string            `json:"id"`
		Kind      string            `json:"kind"`
		Request   model.HTTPRecord  `json:"request"`
		Response  *model.HTTPRecord `json:"response,omitempty"`
		CreatedAt time.Time         `json:"created_at"`
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:        ev.ID.String(),
			Kind:      ev.Kind.String(),
			Request:   ev.Request,
			Response:  ev.Response,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRefund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be a UUID")
		return
	}
	var req createRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	refund, err := s.payUC.Refund(r.Context(), id, req.Amount, req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, refundResponse{
		ID:               refund.ID.String(),
		PaymentID:        refund.PaymentID.String(),
		OutRefundNo:      refund.OutRefundNo(),
		Status:           refundStatusLabel(refund.Status),
		Amount:           refund.Amount,
		ProviderRefundNo: refund.ProviderRefundNo,
		SuccessAt:        refund.SuccessAt,
	})
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, "payment")
}

func (s *Server) handleRefundWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, "refund")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, kind string) {
	providerKey, ok := model.ParseProviderKey(chi.URLParam(r, "provider"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_provider", "unknown provider")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	req := gateway.WebhookRequest{
		URL:     r.URL.String(),
		Method:  r.Method,
		Headers: r.Header,
		Body:    body,
	}

	var ack gateway.Ack
	if kind == "payment" {
		ack, err = s.payUC.HandlePayCallback(r.Context(), providerKey, req)
	} else {
		ack, err = s.payUC.HandleRefundCallback(r.Context(), providerKey, req)
	}
	if err != nil {
		log := logging.With(r.Context(), s.log)
		log.Warn().Err(err).
			Str("provider", providerKey.String()).
			Str("kind", kind).
			Msg("webhook rejected")
		s.writeDomainError(w, r, err)
		return
	}
	if ack.ContentType != "" {
		w.Header().Set("Content-Type", ack.ContentType)
	}
	w.WriteHeader(ack.Status)
	_, _ = w.Write(ack.Body)
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrSignatureVerification):
		writeError(w, http.StatusUnauthorized, "signature_verification", err.Error())
	case errors.Is(err, domain.ErrRefundExceedsAmount):
		writeError(w, http.StatusBadRequest, "refund_exceeds_amount", err.Error())
	case errors.Is(err, domain.ErrDecryption),
		errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrGateway):
		writeError(w, http.StatusBadGateway, "gateway", err.Error())
	default:
		log := logging.With(r.Context(), s.log)
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
