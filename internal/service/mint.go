package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/idempotency"
	"github.com/punchamoorthee/pkrsettle/internal/metrics"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"go.uber.org/zap"
)

// Mint issues tokens for an ingested RECEIVED credit. key is optional;
// without it the deposit's own bank key is used, so a manual mint and the
// automatic one after ingestion share a single job.
func (s *Service) Mint(ctx context.Context, providerTxID, key string) (*JobResult, error) {
	if key == "" {
		key = idempotency.BankKey(providerTxID)
	} else {
		var err error
		if key, err = idempotency.ClientKey(key); err != nil {
			return nil, err
		}
	}

	var res *JobResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		et, err := tx.LockExternalTransaction(ctx, providerTxID)
		if err != nil {
			return err
		}
		res, err = s.mintLocked(ctx, tx, et, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logJob("mint", res)
	return res, nil
}

// mintLocked runs the mint path for an external transaction the caller has
// already locked or just inserted in tx.
func (s *Service) mintLocked(ctx context.Context, tx store.Tx, et *domain.ExternalTransaction, key string) (*JobResult, error) {
	if et.Direction != domain.DirectionCredit {
		return nil, domain.Errorf(domain.ErrNotMintable, "%s is a %s", et.ProviderTxID, et.Direction)
	}

	fp := idempotency.MintFingerprint(et.ProviderTxID)
	if rec, err := tx.GetIdempotencyRecord(ctx, key); err == nil {
		if _, err := idempotency.Resolve(rec, fp); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// A deposit mints once whatever key the caller presents.
	open, err := tx.GetOpenMintJob(ctx, et.ID)
	switch {
	case err == nil:
		metrics.Replays.WithLabelValues("mint").Inc()
		return &JobResult{Job: *open, Replayed: true}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	if et.Status != domain.ExternalReceived {
		return nil, domain.Errorf(domain.ErrNotMintable, "%s is %s", et.ProviderTxID, et.Status)
	}

	amountUnits, err := s.units.PKRToUnits(et.AmountPKR)
	if err != nil {
		return nil, err
	}
	if exceeds(et.AmountPKR, s.opts.MaxSingleMintPKR) {
		return nil, domain.Errorf(domain.ErrCeilingExceeded, "mint of %s PKR exceeds ceiling %s", et.AmountPKR, s.opts.MaxSingleMintPKR)
	}

	jobID, replay, err := s.claim(ctx, tx, key, fp)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		metrics.Replays.WithLabelValues("mint").Inc()
		return replay, nil
	}

	extID := et.ID
	job := &domain.ChainJob{
		ID:              jobID,
		UserID:          et.UserID,
		JobType:         domain.JobMint,
		AmountUnits:     amountUnits,
		Status:          domain.JobPending,
		IdempotencyKey:  key,
		RequestHash:     fp,
		Memo:            et.Memo,
		RefExternalTxID: &extID,
		CreatedAt:       s.now(),
	}
	if err := s.submit(ctx, tx, job, nil); err != nil {
		return nil, err
	}
	if job.Status == domain.JobConfirmed {
		if err := tx.MarkExternalTransactionMinted(ctx, et.ID); err != nil {
			return nil, err
		}
		et.Status = domain.ExternalMinted
	}
	return &JobResult{Job: *job}, nil
}

func (s *Service) logJob(op string, res *JobResult) {
	fields := []zap.Field{
		zap.String("job_id", res.Job.ID.String()),
		zap.String("status", string(res.Job.Status)),
		zap.Int64("amount_units", res.Job.AmountUnits),
		zap.Bool("replayed", res.Replayed),
	}
	if res.Payout != nil {
		fields = append(fields, zap.String("payout_status", string(res.Payout.Status)))
	}
	s.log.Info(op, fields...)
}
