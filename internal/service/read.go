package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/punchamoorthee/pkrsettle/internal/units"
)

type Balance struct {
	UserID       uuid.UUID `json:"user_id"`
	BalanceUnits int64     `json:"balance_units"`
	Decimals     int       `json:"decimals"`
	BalancePKR   string    `json:"balance_pkr"`
}

func (s *Service) GetBalance(ctx context.Context) (*Balance, error) {
	var out *Balance
	err := s.store.View(ctx, func(r store.Reader) error {
		user, err := s.demoUser(ctx, r)
		if err != nil {
			return err
		}
		tb, err := r.GetTokenBalance(ctx, user.ID)
		if err != nil {
			return err
		}
		out = &Balance{
			UserID:       user.ID,
			BalanceUnits: tb.BalanceUnits,
			Decimals:     s.units.Decimals(),
			BalancePKR:   units.FormatPKR(s.units.UnitsToPayoutPKR(tb.BalanceUnits)),
		}
		return nil
	})
	return out, err
}

// Me returns the demo user profile with its balance.
func (s *Service) Me(ctx context.Context) (*domain.User, *Balance, error) {
	var user *domain.User
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		user, err = s.demoUser(ctx, r)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	bal, err := s.GetBalance(ctx)
	if err != nil {
		return nil, nil, err
	}
	return user, bal, nil
}

// GetLedger returns the newest entries first.
func (s *Service) GetLedger(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListLedgerEntries(ctx, store.ClampLimit(limit))
		return err
	})
	return out, err
}

func (s *Service) GetExternalTransactions(ctx context.Context, limit int) ([]domain.ExternalTransaction, error) {
	var out []domain.ExternalTransaction
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListExternalTransactions(ctx, store.ClampLimit(limit))
		return err
	})
	return out, err
}

// JobDetail is a job with its payout and ledger postings.
type JobDetail struct {
	JobResult
	Entries []domain.LedgerEntry `json:"ledger_entries"`
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*JobDetail, error) {
	var out *JobDetail
	err := s.store.View(ctx, func(r store.Reader) error {
		res, err := s.loadResult(ctx, r, id)
		if err != nil {
			return err
		}
		entries, err := r.ListLedgerEntriesByRef(ctx, id)
		if err != nil {
			return err
		}
		out = &JobDetail{JobResult: *res, Entries: entries}
		return nil
	})
	return out, err
}
