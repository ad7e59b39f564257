// Package ledger posts confirmed chain jobs as balanced double-entry pairs.
//
// Engine.Post is the only code path that changes a user's cached token
// balance or chain stub balance.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"go.uber.org/zap"
)

// Writer is the transactional surface the engine needs. All calls happen
// inside the caller's transaction.
type Writer interface {
	LockTokenBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	InsertLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) error
}

// BalanceWriter is the balance half of the write surface. Store
// transactions implement it without exposing it, so Post must assert it.
type BalanceWriter interface {
	AdjustTokenBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)
	AdjustChainStubBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)
}

type Engine struct {
	log *zap.Logger
	now func() time.Time
}

func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log.Named("ledger"), now: time.Now}
}

// Entries builds the pair for a job:
// mint is issuer_token credit + user_token debit,
// burn is user_token credit + issuer_token debit.
func Entries(job *domain.ChainJob, at time.Time) []domain.LedgerEntry {
	user := job.UserID
	issuerSide, userSide := domain.SideCredit, domain.SideDebit
	if job.JobType == domain.JobBurn {
		issuerSide, userSide = domain.SideDebit, domain.SideCredit
	}
	return []domain.LedgerEntry{
		{
			ID:          uuid.New(),
			Side:        issuerSide,
			Account:     domain.AccountIssuerToken,
			AmountUnits: job.AmountUnits,
			RefType:     job.JobType,
			RefID:       job.ID,
			CreatedAt:   at,
		},
		{
			ID:          uuid.New(),
			UserID:      &user,
			Side:        userSide,
			Account:     domain.AccountUserToken,
			AmountUnits: job.AmountUnits,
			RefType:     job.JobType,
			RefID:       job.ID,
			CreatedAt:   at,
		},
	}
}

// CheckPair verifies the two entries of one job: one issuer, one user,
// opposite sides, equal positive magnitude, signed sum zero.
func CheckPair(entries []domain.LedgerEntry) error {
	if len(entries) != 2 {
		return domain.Errorf(domain.ErrLedgerInvariantViolation, "expected 2 entries, got %d", len(entries))
	}
	a, b := entries[0], entries[1]
	if a.AmountUnits <= 0 || a.AmountUnits != b.AmountUnits {
		return domain.Errorf(domain.ErrLedgerInvariantViolation, "entry magnitudes %d/%d", a.AmountUnits, b.AmountUnits)
	}
	if a.Side == b.Side || a.Account == b.Account || a.RefID != b.RefID {
		return domain.Errorf(domain.ErrLedgerInvariantViolation, "entries for %s are not an opposing pair", a.RefID)
	}
	if a.Signed()+b.Signed() != 0 {
		return domain.Errorf(domain.ErrLedgerInvariantViolation, "entries for %s sum to %d", a.RefID, a.Signed()+b.Signed())
	}
	return nil
}

// Post writes the entry pair for a confirmed job and moves the token and
// chain stub balances by the job's signed amount. Any invariant failure
// returns ErrLedgerInvariantViolation and the caller must roll back.
func (e *Engine) Post(ctx context.Context, w Writer, job *domain.ChainJob) ([]domain.LedgerEntry, error) {
	if job.Status != domain.JobConfirmed {
		return nil, domain.Errorf(domain.ErrLedgerInvariantViolation, "job %s is %s, not CONFIRMED", job.ID, job.Status)
	}
	if job.AmountUnits <= 0 {
		return nil, domain.Errorf(domain.ErrLedgerInvariantViolation, "job %s has amount %d", job.ID, job.AmountUnits)
	}

	bw, ok := w.(BalanceWriter)
	if !ok {
		return nil, domain.Errorf(domain.ErrLedgerInvariantViolation, "writer %T cannot move balances", w)
	}

	entries := Entries(job, e.now().UTC())
	if err := CheckPair(entries); err != nil {
		return nil, err
	}

	prior, err := w.LockTokenBalance(ctx, job.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock token balance: %w", err)
	}
	delta := job.SignedAmount()
	if prior+delta < 0 {
		return nil, domain.Errorf(domain.ErrInsufficientBalance, "balance %d cannot absorb %d", prior, delta)
	}

	if err := w.InsertLedgerEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("insert ledger entries: %w", err)
	}
	after, err := bw.AdjustTokenBalance(ctx, job.UserID, delta)
	if err != nil {
		return nil, fmt.Errorf("adjust token balance: %w", err)
	}
	if after != prior+delta {
		e.log.Error("token balance drift",
			zap.String("job_id", job.ID.String()),
			zap.Int64("prior", prior),
			zap.Int64("delta", delta),
			zap.Int64("after", after))
		return nil, domain.Errorf(domain.ErrLedgerInvariantViolation, "balance %d + %d != %d", prior, delta, after)
	}
	if _, err := bw.AdjustChainStubBalance(ctx, job.UserID, delta); err != nil {
		return nil, fmt.Errorf("adjust chain stub balance: %w", err)
	}

	e.log.Debug("posted",
		zap.String("job_id", job.ID.String()),
		zap.String("type", string(job.JobType)),
		zap.Int64("amount_units", job.AmountUnits),
		zap.Int64("balance_units", after))
	return entries, nil
}
