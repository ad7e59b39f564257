package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/metrics"
	"github.com/punchamoorthee/pkrsettle/internal/models"
	"github.com/punchamoorthee/pkrsettle/internal/normalizer"
	"github.com/punchamoorthee/pkrsettle/internal/service"
	"go.uber.org/zap"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SeedHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SeedDemoUser(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) WalletCreditHandler(w http.ResponseWriter, r *http.Request) {
	var req models.WalletCreditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	ptx, err := h.service.RecordWalletCredit(r.Context(), req.AmountPKR, req.Memo)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.WalletCreditResponse{ProviderTxID: ptx})
}

func (h *Handler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	var since time.Time
	if req.Since != nil {
		since = *req.Since
	}
	res, err := h.service.IngestSince(r.Context(), since)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) MintHandler(w http.ResponseWriter, r *http.Request) {
	var req models.MintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if req.ProviderTxID == "" {
		respondWithError(w, http.StatusBadRequest, "provider_tx_id is required", domain.ErrMalformedEvent.Code)
		return
	}
	res, err := h.service.Mint(r.Context(), req.ProviderTxID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJob(w, res)
}

func (h *Handler) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header", domain.ErrIdempotencyKeyRequired.Code)
		return
	}
	var req models.RedeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	res, err := h.service.Redeem(r.Context(), req.AmountUnits, req.Memo, key)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJob(w, res)
}

// respondWithJob answers 201 for a new job and 200 for a replay.
func respondWithJob(w http.ResponseWriter, res *service.JobResult) {
	if res.Replayed {
		respondWithJSON(w, http.StatusOK, models.NewJob(res))
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/jobs/%s", res.Job.ID))
	respondWithJSON(w, http.StatusCreated, models.NewJob(res))
}

func jobID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, domain.Errorf(domain.ErrNotFound, "job %q", mux.Vars(r)["id"])
	}
	return id, nil
}

func (h *Handler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	detail, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewJobDetail(detail))
}

func (h *Handler) ConfirmJobHandler(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	var req models.ConfirmJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	res, err := h.service.ConfirmJob(r.Context(), id, req.TxHash)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewJob(res))
}

func (h *Handler) FailJobHandler(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	res, err := h.service.FailJob(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewJob(res))
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, bal, err := h.service.Me(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Me{User: user, Balance: bal})
}

func (h *Handler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	bal, err := h.service.GetBalance(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bal)
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.Errorf(domain.ErrMalformedEvent, "limit must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	entries, err := h.service.GetLedger(r.Context(), limit)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) ExternalTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	txs, err := h.service.GetExternalTransactions(r.Context(), limit)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewExternalTransactions(txs))
}

func (h *Handler) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	run, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, run)
}

func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	sum, err := h.reconciler.Summary(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sum)
}

// BankWebhookHandler accepts a signed settlement notification from the
// bank. The raw body is authenticated before it is parsed.
func (h *Handler) BankWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.BankVerifier.AllowRemote(r.RemoteAddr); err != nil {
		h.rejectWebhook(w, r, domain.SourceBank, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.rejectWebhook(w, r, domain.SourceBank, domain.Errorf(domain.ErrMalformedEvent, "read body: %v", err))
		return
	}
	if err := h.cfg.BankVerifier.VerifySignature(body, r.Header.Get("X-Bank-Signature")); err != nil {
		h.rejectWebhook(w, r, domain.SourceBank, err)
		return
	}
	ev, err := normalizer.BankWebhook(body, h.now())
	if err != nil {
		h.rejectWebhook(w, r, domain.SourceBank, err)
		return
	}

	res, err := h.service.IngestBankEvent(r.Context(), ev)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewBankWebhookResponse(res))
}

func (h *Handler) ChainWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.rejectWebhook(w, r, domain.SourceChain, domain.Errorf(domain.ErrMalformedEvent, "read body: %v", err))
		return
	}
	if v := h.cfg.ChainVerifier; v != nil {
		if err := v.AllowRemote(r.RemoteAddr); err != nil {
			h.rejectWebhook(w, r, domain.SourceChain, err)
			return
		}
		if err := v.VerifySignature(body, r.Header.Get("X-Chain-Signature")); err != nil {
			h.rejectWebhook(w, r, domain.SourceChain, err)
			return
		}
	}
	events, _, err := normalizer.ChainFeed(body, h.now())
	if err != nil {
		h.rejectWebhook(w, r, domain.SourceChain, err)
		return
	}

	res, err := h.service.IngestChainEvents(r.Context(), events)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// rejectWebhook answers a delivery refused before any processing. These
// are logged for audit.
func (h *Handler) rejectWebhook(w http.ResponseWriter, r *http.Request, source domain.Source, err error) {
	code := domain.CodeOf(err)
	metrics.WebhookRejections.WithLabelValues(string(source), string(code)).Inc()
	h.log.Warn("webhook rejected",
		zap.String("source", string(source)),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("code", string(code)),
		zap.Error(err))
	h.respondWithDomainError(w, r, err)
}
