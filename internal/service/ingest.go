package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/idempotency"
	"github.com/punchamoorthee/pkrsettle/internal/metrics"
	"github.com/punchamoorthee/pkrsettle/internal/normalizer"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"go.uber.org/zap"
)

// BankIngestResult describes one ingested fiat event. Job is set when the
// event minted, or when a duplicate delivery finds the deposit's job.
type BankIngestResult struct {
	ExternalTx *domain.ExternalTransaction `json:"external_transaction"`
	Job        *JobResult                  `json:"job,omitempty"`
	Duplicate  bool                        `json:"duplicate"`
}

// IngestBankEvent stores a normalized fiat event and, for credits when
// auto-mint is on, mints in the same transaction.
func (s *Service) IngestBankEvent(ctx context.Context, ev domain.SettlementEvent) (*BankIngestResult, error) {
	if !ev.IsFiat() {
		return nil, domain.Errorf(domain.ErrMalformedEvent, "event %s is not a fiat event", ev.ExternalRef)
	}

	var res *BankIngestResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.ingestFiat(ctx, tx, ev)
		return err
	})
	if err != nil {
		metrics.Events.WithLabelValues(string(ev.Source), "error").Inc()
		return nil, err
	}

	outcome := "recorded"
	switch {
	case res.Duplicate:
		outcome = "duplicate"
	case res.Job != nil && res.Job.Job.Status == domain.JobConfirmed:
		outcome = "minted"
	}
	metrics.Events.WithLabelValues(string(ev.Source), outcome).Inc()
	s.log.Info("fiat event ingested",
		zap.String("provider_tx_id", ev.ExternalRef),
		zap.String("direction", string(ev.Direction)),
		zap.String("amount_pkr", ev.AmountPKR.StringFixed(2)),
		zap.String("outcome", outcome))
	return res, nil
}

func (s *Service) ingestFiat(ctx context.Context, tx store.Tx, ev domain.SettlementEvent) (*BankIngestResult, error) {
	user, err := tx.GetUserByEmail(ctx, ev.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrNotFound, "no user for subject %q", ev.Subject)
		}
		return nil, err
	}
	wa, err := tx.GetWalletAccount(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	status := domain.ExternalReceived
	if ev.Direction == domain.DirectionDebit {
		status = domain.ExternalIgnored
	}
	et := &domain.ExternalTransaction{
		ID:              uuid.New(),
		WalletAccountID: wa.ID,
		UserID:          user.ID,
		ProviderTxID:    ev.ExternalRef,
		Direction:       ev.Direction,
		AmountPKR:       ev.AmountPKR,
		Memo:            ev.Memo,
		Status:          status,
		OccurredAt:      ev.OccurredAt,
		RecordedAt:      s.now(),
	}
	inserted, err := tx.InsertExternalTransaction(ctx, et)
	if err != nil {
		return nil, err
	}

	if !inserted {
		prior, err := tx.GetExternalTransaction(ctx, ev.ExternalRef)
		if err != nil {
			return nil, err
		}
		if prior.Direction != ev.Direction || !prior.AmountPKR.Equal(ev.AmountPKR) || prior.UserID != user.ID {
			return nil, domain.Errorf(domain.ErrIdempotencyConflict, "%s redelivered with different content", ev.ExternalRef)
		}
		res := &BankIngestResult{ExternalTx: prior, Duplicate: true}
		if open, err := tx.GetOpenMintJob(ctx, prior.ID); err == nil {
			res.Job = &JobResult{Job: *open, Replayed: true}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return res, nil
	}

	res := &BankIngestResult{ExternalTx: et}
	if ev.Direction == domain.DirectionCredit && s.opts.AutoMint {
		if res.Job, err = s.mintLocked(ctx, tx, et, idempotency.BankKey(et.ProviderTxID)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// IngestResult summarizes a wallet-provider poll.
type IngestResult struct {
	Ingested int          `json:"ingested"`
	Minted   int          `json:"minted"`
	Errors   []EventError `json:"errors,omitempty"`
}

// IngestSince pulls the demo wallet's transactions from since onward and
// ingests each one. A failing row is reported and skipped.
func (s *Service) IngestSince(ctx context.Context, since time.Time) (*IngestResult, error) {
	seed, err := s.SeedDemoUser(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.bank.ListTransactions(ctx, seed.WalletAccount.ProviderAcct, since)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}

	out := &IngestResult{}
	for _, t := range txs {
		ev, err := normalizer.FromWallet(normalizer.WalletTransaction{
			ProviderTxID: t.ProviderTxID,
			Direction:    t.Direction,
			AmountPKR:    t.AmountPKR.StringFixed(2),
			Memo:         t.Memo,
			OccurredAt:   t.OccurredAt,
		}, seed.User.Email)
		if err == nil {
			var res *BankIngestResult
			if res, err = s.IngestBankEvent(ctx, ev); err == nil {
				if !res.Duplicate {
					out.Ingested++
					if res.Job != nil && !res.Job.Replayed && res.Job.Job.Status == domain.JobConfirmed {
						out.Minted++
					}
				}
				continue
			}
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		s.log.Warn("wallet transaction rejected", zap.String("provider_tx_id", t.ProviderTxID), zap.Error(err))
		out.Errors = append(out.Errors, EventError{Ref: t.ProviderTxID, Code: domain.CodeOf(err), Message: err.Error()})
	}

	s.log.Info("wallet ingest complete",
		zap.Time("since", since),
		zap.Int("rows", len(txs)),
		zap.Int("ingested", out.Ingested),
		zap.Int("minted", out.Minted))
	return out, nil
}
