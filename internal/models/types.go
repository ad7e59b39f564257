// Package models holds the HTTP request and response bodies.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/service"
	"github.com/punchamoorthee/pkrsettle/internal/units"
)

type ErrorResponse struct {
	Error string      `json:"error"`
	Code  domain.Code `json:"code,omitempty"`
}

type WalletCreditRequest struct {
	AmountPKR string `json:"amount_pkr"`
	Memo      string `json:"memo"`
}

type WalletCreditResponse struct {
	ProviderTxID string `json:"provider_tx_id"`
}

// IngestRequest polls the wallet provider. A nil Since means from the start.
type IngestRequest struct {
	Since *time.Time `json:"since"`
}

type MintRequest struct {
	ProviderTxID string `json:"provider_tx_id"`
}

type RedeemRequest struct {
	AmountUnits int64  `json:"amount_units"`
	Memo        string `json:"memo"`
}

type ConfirmJobRequest struct {
	TxHash string `json:"tx_hash"`
}

type Payout struct {
	ID        uuid.UUID           `json:"id"`
	AmountPKR string              `json:"amount_pkr"`
	Status    domain.PayoutStatus `json:"status"`
	PayoutRef string              `json:"payout_ref,omitempty"`
}

// Job is the mint/redeem response.
type Job struct {
	JobID       uuid.UUID        `json:"job_id"`
	JobType     domain.JobType   `json:"job_type"`
	Status      domain.JobStatus `json:"status"`
	TxHash      string           `json:"tx_hash"`
	AmountUnits int64            `json:"amount_units"`
	Replayed    bool             `json:"replayed"`
	Payout      *Payout          `json:"payout,omitempty"`
}

func NewJob(res *service.JobResult) Job {
	j := Job{
		JobID:       res.Job.ID,
		JobType:     res.Job.JobType,
		Status:      res.Job.Status,
		TxHash:      res.Job.TxHash,
		AmountUnits: res.Job.AmountUnits,
		Replayed:    res.Replayed,
	}
	if p := res.Payout; p != nil {
		j.Payout = &Payout{
			ID:        p.ID,
			AmountPKR: units.FormatPKR(p.AmountPKR),
			Status:    p.Status,
			PayoutRef: p.PayoutRef,
		}
	}
	return j
}

type JobDetail struct {
	Job
	IdempotencyKey string               `json:"idempotency_key"`
	CreatedAt      time.Time            `json:"created_at"`
	ConfirmedAt    *time.Time           `json:"confirmed_at,omitempty"`
	Entries        []domain.LedgerEntry `json:"ledger_entries"`
}

func NewJobDetail(d *service.JobDetail) JobDetail {
	entries := d.Entries
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return JobDetail{
		Job:            NewJob(&d.JobResult),
		IdempotencyKey: d.Job.IdempotencyKey,
		CreatedAt:      d.Job.CreatedAt,
		ConfirmedAt:    d.Job.ConfirmedAt,
		Entries:        entries,
	}
}

type ExternalTransaction struct {
	ProviderTxID string                  `json:"provider_tx_id"`
	Direction    domain.Direction        `json:"direction"`
	AmountPKR    string                  `json:"amount_pkr"`
	Memo         string                  `json:"memo"`
	Status       domain.ExternalTxStatus `json:"status"`
	OccurredAt   time.Time               `json:"occurred_at"`
	RecordedAt   time.Time               `json:"recorded_at"`
}

func NewExternalTransactions(in []domain.ExternalTransaction) []ExternalTransaction {
	out := make([]ExternalTransaction, 0, len(in))
	for _, et := range in {
		out = append(out, ExternalTransaction{
			ProviderTxID: et.ProviderTxID,
			Direction:    et.Direction,
			AmountPKR:    units.FormatPKR(et.AmountPKR),
			Memo:         et.Memo,
			Status:       et.Status,
			OccurredAt:   et.OccurredAt,
			RecordedAt:   et.RecordedAt,
		})
	}
	return out
}

type BankWebhookResponse struct {
	ProviderTxID string                  `json:"provider_tx_id"`
	Status       domain.ExternalTxStatus `json:"status"`
	Duplicate    bool                    `json:"duplicate"`
	Job          *Job                    `json:"job,omitempty"`
}

func NewBankWebhookResponse(res *service.BankIngestResult) BankWebhookResponse {
	out := BankWebhookResponse{
		ProviderTxID: res.ExternalTx.ProviderTxID,
		Status:       res.ExternalTx.Status,
		Duplicate:    res.Duplicate,
	}
	if res.Job != nil {
		j := NewJob(res.Job)
		out.Job = &j
	}
	return out
}

type Me struct {
	User    *domain.User     `json:"user"`
	Balance *service.Balance `json:"balance"`
}
