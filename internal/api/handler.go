package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/models"
	"github.com/punchamoorthee/pkrsettle/internal/reconcile"
	"github.com/punchamoorthee/pkrsettle/internal/service"
	"github.com/punchamoorthee/pkrsettle/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pkrsettle_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pkrsettle_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Config struct {
	BankVerifier *webhook.Verifier
	// ChainVerifier is optional; without it chain feed deliveries are not
	// signature checked.
	ChainVerifier *webhook.Verifier
	// WebhookRPS limits each webhook route; zero disables limiting.
	WebhookRPS float64
}

type Handler struct {
	service    *service.Service
	reconciler *reconcile.Engine
	cfg        Config
	log        *zap.Logger
	now        func() time.Time
}

func NewHandler(svc *service.Service, reconciler *reconcile.Engine, cfg Config, log *zap.Logger) *Handler {
	return &Handler{
		service:    svc,
		reconciler: reconciler,
		cfg:        cfg,
		log:        log.Named("api"),
		now:        time.Now,
	}
}

// Router wires every route, including /health and /metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/demo/seed", h.SeedHandler).Methods(http.MethodPost)
	v1.HandleFunc("/demo/wallet/credit", h.WalletCreditHandler).Methods(http.MethodPost)
	v1.HandleFunc("/ingest/wallet-transactions", h.IngestHandler).Methods(http.MethodPost)
	v1.Handle("/webhooks/bank", h.limit(http.HandlerFunc(h.BankWebhookHandler))).Methods(http.MethodPost)
	v1.Handle("/webhooks/chain", h.limit(http.HandlerFunc(h.ChainWebhookHandler))).Methods(http.MethodPost)
	v1.HandleFunc("/mint", h.MintHandler).Methods(http.MethodPost)
	v1.HandleFunc("/redeem", h.RedeemHandler).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}", h.GetJobHandler).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/confirm", h.ConfirmJobHandler).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/fail", h.FailJobHandler).Methods(http.MethodPost)
	v1.HandleFunc("/me", h.MeHandler).Methods(http.MethodGet)
	v1.HandleFunc("/balance", h.BalanceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/ledger", h.LedgerHandler).Methods(http.MethodGet)
	v1.HandleFunc("/external-transactions", h.ExternalTransactionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/reconcile", h.ReconcileHandler).Methods(http.MethodPost)
	v1.HandleFunc("/debug/summary", h.SummaryHandler).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency by route template.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func (h *Handler) limit(next http.Handler) http.Handler {
	if h.cfg.WebhookRPS <= 0 {
		return next
	}
	burst := int(h.cfg.WebhookRPS)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(h.cfg.WebhookRPS), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			respondWithJSON(w, http.StatusTooManyRequests, models.ErrorResponse{Error: "Rate limit exceeded", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps a domain error code to its HTTP status.
func statusFor(code domain.Code) int {
	switch code {
	case domain.ErrMalformedEvent.Code, domain.ErrIdempotencyKeyRequired.Code:
		return http.StatusBadRequest
	case domain.ErrBadSignature.Code:
		return http.StatusUnauthorized
	case domain.ErrForbiddenSource.Code:
		return http.StatusForbidden
	case domain.ErrNotFound.Code:
		return http.StatusNotFound
	case domain.ErrIdempotencyConflict.Code, domain.ErrInvalidTransition.Code:
		return http.StatusConflict
	case domain.ErrAmountOutOfRange.Code, domain.ErrCeilingExceeded.Code, domain.ErrInsufficientBalance.Code,
		domain.ErrNotMintable.Code, domain.ErrEventNotSettled.Code:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondWithDomainError writes err with its code. Anything without a
// client-facing code is logged and hidden behind a 500.
func (h *Handler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondWithJSON(w, status, models.ErrorResponse{Error: "Internal Server Error", Code: code})
		return
	}
	respondWithJSON(w, status, models.ErrorResponse{Error: err.Error(), Code: code})
}

func respondWithError(w http.ResponseWriter, status int, message string, code domain.Code) {
	respondWithJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.Errorf(domain.ErrMalformedEvent, "malformed JSON body: %v", err)
	}
	return nil
}
