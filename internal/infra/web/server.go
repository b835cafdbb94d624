package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"paygate/internal/config"
	"paygate/internal/infra/logging"
	"paygate/internal/usecase"
)

type Server struct {
	payUC usecase.PaymentUseCase
	log   *zerolog.Logger
	srv   *http.Server
}

func NewServer(cfg *config.ServerConfig, payUC usecase.PaymentUseCase, logger *zerolog.Logger) *Server {
	s := &Server{payUC: payUC, log: logger}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Gateway-facing notification endpoints. A non-2xx answer makes the
	// gateway redeliver later.
	r.Post("/webhooks/{provider}/payment", s.handlePaymentWebhook)
	r.Post("/webhooks/{provider}/refund", s.handleRefundWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments", s.handleCreatePayment)
		r.Get("/payments/{id}", s.handleGetPayment)
		r.Get("/payments/{id}/events", s.handleListEvents)
		r.Post("/payments/{id}/refunds", s.handleCreateRefund)
	})
	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ulid.Make().String()
		ctx := logging.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
