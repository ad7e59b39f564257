package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/metrics"
	"github.com/punchamoorthee/pkrsettle/internal/store"
)

// ConfirmJob completes a PENDING job for backends that confirm
// asynchronously: the ledger is posted, a mint marks its deposit MINTED and
// a burn opens and settles its payout.
func (s *Service) ConfirmJob(ctx context.Context, id uuid.UUID, txHash string) (*JobResult, error) {
	var res *JobResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		job, err := tx.LockJob(ctx, id)
		if err != nil {
			return err
		}
		if err := job.Transition(domain.JobConfirmed, s.now()); err != nil {
			return err
		}
		if txHash != "" {
			job.TxHash = txHash
		}
		if err := tx.UpdateJobOutcome(ctx, job); err != nil {
			return err
		}
		if _, err := s.ledger.Post(ctx, tx, job); err != nil {
			return err
		}

		res = &JobResult{Job: *job}
		switch job.JobType {
		case domain.JobMint:
			if job.RefExternalTxID != nil {
				return tx.MarkExternalTransactionMinted(ctx, *job.RefExternalTxID)
			}
		case domain.JobBurn:
			res.Payout, err = s.openPayout(ctx, tx, job)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Jobs.WithLabelValues(string(res.Job.JobType), string(res.Job.Status)).Inc()

	if err := s.settlePayout(ctx, res); err != nil {
		return nil, err
	}
	s.logJob("confirm", res)
	return res, nil
}

// FailJob marks a PENDING job FAILED. Nothing was posted for it, so no
// balance moves.
func (s *Service) FailJob(ctx context.Context, id uuid.UUID) (*JobResult, error) {
	var res *JobResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		job, err := tx.LockJob(ctx, id)
		if err != nil {
			return err
		}
		if err := job.Transition(domain.JobFailed, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateJobOutcome(ctx, job); err != nil {
			return err
		}
		res = &JobResult{Job: *job}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Jobs.WithLabelValues(string(res.Job.JobType), string(res.Job.Status)).Inc()
	s.logJob("fail", res)
	return res, nil
}
