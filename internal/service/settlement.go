// Package service orchestrates mint and burn jobs: it claims idempotency
// keys, validates amounts and balances, drives chain jobs through their
// state machine and hands confirmed jobs to the ledger engine, all inside
// one store transaction per operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/alert"
	"github.com/punchamoorthee/pkrsettle/internal/bank"
	"github.com/punchamoorthee/pkrsettle/internal/chain"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/idempotency"
	"github.com/punchamoorthee/pkrsettle/internal/ledger"
	"github.com/punchamoorthee/pkrsettle/internal/metrics"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/punchamoorthee/pkrsettle/internal/units"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Options struct {
	DemoUserEmail    string
	DemoChainAddress string
	// TokenSymbol is the only asset chain feed burns are accepted for.
	TokenSymbol string
	AutoMint    bool
	// Nil ceilings are unlimited.
	MaxSingleMintPKR   *decimal.Decimal
	MaxSinglePayoutPKR *decimal.Decimal
}

type Service struct {
	store  store.Store
	ledger *ledger.Engine
	chain  chain.Backend
	bank   bank.Provider
	units  *units.Converter
	alerts alert.Alerter
	opts   Options
	log    *zap.Logger
	now    func() time.Time
}

func New(st store.Store, conv *units.Converter, backend chain.Backend, provider bank.Provider, alerts alert.Alerter, opts Options, log *zap.Logger) *Service {
	if alerts == nil {
		alerts = alert.NewLogAlerter(log)
	}
	return &Service{
		store:  st,
		ledger: ledger.NewEngine(log),
		chain:  backend,
		bank:   provider,
		units:  conv,
		alerts: alerts,
		opts:   opts,
		log:    log.Named("settlement"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// JobResult is what mint and redeem hand back. Replayed is set when the
// job was produced by an earlier request with the same idempotency key.
type JobResult struct {
	Job      domain.ChainJob   `json:"job"`
	Payout   *domain.PayoutJob `json:"payout,omitempty"`
	Replayed bool              `json:"replayed"`
}

// claim reserves key for a new job. When the key is already taken it
// returns the stored job as a replay, or ErrIdempotencyConflict when the
// fingerprint differs.
func (s *Service) claim(ctx context.Context, tx store.Tx, key, fingerprint string) (uuid.UUID, *JobResult, error) {
	jobID := uuid.New()
	claimed, err := tx.ClaimIdempotencyKey(ctx, domain.IdempotencyRecord{
		Key:         key,
		Scope:       idempotency.ScopeOf(key),
		RequestHash: fingerprint,
		JobID:       jobID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return uuid.Nil, nil, err
	}
	if claimed {
		return jobID, nil, nil
	}

	existing, err := tx.GetIdempotencyRecord(ctx, key)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("load claimed key: %w", err)
	}
	if _, err := idempotency.Resolve(existing, fingerprint); err != nil {
		return uuid.Nil, nil, err
	}
	res, err := s.loadResult(ctx, tx, existing.JobID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	res.Replayed = true
	return uuid.Nil, res, nil
}

func (s *Service) loadResult(ctx context.Context, r store.Reader, jobID uuid.UUID) (*JobResult, error) {
	job, err := r.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	res := &JobResult{Job: *job}
	if job.JobType == domain.JobBurn {
		p, err := r.GetPayoutByJob(ctx, job.ID)
		switch {
		case err == nil:
			res.Payout = p
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("load payout: %w", err)
		}
	}
	return res, nil
}

// submit sends a new PENDING job to the chain backend and applies the
// receipt to it. The job is inserted in whatever state the receipt leaves
// it; only CONFIRMED jobs are posted to the ledger.
func (s *Service) submit(ctx context.Context, tx store.Tx, job *domain.ChainJob, receipt *chain.Receipt) error {
	if receipt == nil {
		r, err := s.chain.Submit(ctx, job)
		if err != nil {
			return fmt.Errorf("chain submit: %w", err)
		}
		receipt = &r
	}
	job.TxHash = receipt.TxHash
	if receipt.Status != domain.JobPending {
		if err := job.Transition(receipt.Status, s.now()); err != nil {
			return err
		}
	}

	if err := tx.InsertJob(ctx, job); err != nil {
		return err
	}
	if job.Status == domain.JobConfirmed {
		if _, err := s.ledger.Post(ctx, tx, job); err != nil {
			return err
		}
	}
	metrics.Jobs.WithLabelValues(string(job.JobType), string(job.Status)).Inc()
	return nil
}

func (s *Service) demoUser(ctx context.Context, r store.Reader) (*domain.User, error) {
	u, err := r.GetUserByEmail(ctx, s.opts.DemoUserEmail)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrNotFound, "demo user %s is not seeded", s.opts.DemoUserEmail)
		}
		return nil, err
	}
	return u, nil
}

func exceeds(amount decimal.Decimal, ceiling *decimal.Decimal) bool {
	return ceiling != nil && amount.GreaterThan(*ceiling)
}
