package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/bank"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/punchamoorthee/pkrsettle/internal/units"
	"go.uber.org/zap"
)

type SeedResult struct {
	User          *domain.User          `json:"user"`
	WalletAccount *domain.WalletAccount `json:"wallet_account"`
}

// SeedDemoUser gets or creates the demo user with its wallet account and
// zeroed balances. Safe to call any number of times.
func (s *Service) SeedDemoUser(ctx context.Context) (*SeedResult, error) {
	res := &SeedResult{}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		now := s.now()
		if _, err := tx.InsertUser(ctx, &domain.User{
			ID:           uuid.New(),
			Email:        s.opts.DemoUserEmail,
			DisplayName:  "Demo User",
			ChainAddress: s.opts.DemoChainAddress,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("insert demo user: %w", err)
		}
		user, err := tx.GetUserByEmail(ctx, s.opts.DemoUserEmail)
		if err != nil {
			return err
		}

		if _, err := tx.InsertWalletAccount(ctx, &domain.WalletAccount{
			ID:           uuid.New(),
			UserID:       user.ID,
			Provider:     bank.StubProvider,
			ProviderAcct: bank.StubAccount,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("insert wallet account: %w", err)
		}
		wa, err := tx.GetWalletAccount(ctx, user.ID)
		if err != nil {
			return err
		}
		if err := tx.EnsureBalances(ctx, user.ID, now); err != nil {
			return fmt.Errorf("ensure balances: %w", err)
		}

		res.User, res.WalletAccount = user, wa
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RecordWalletCredit simulates a deposit by crediting the demo wallet at the
// provider. The deposit is picked up by the next ingest.
func (s *Service) RecordWalletCredit(ctx context.Context, amountPKR, memo string) (string, error) {
	amount, err := units.ParsePKR(amountPKR)
	if err != nil {
		return "", err
	}
	seed, err := s.SeedDemoUser(ctx)
	if err != nil {
		return "", err
	}
	if memo == "" {
		memo = "deposit"
	}
	ptx, err := s.bank.Credit(ctx, seed.WalletAccount.ProviderAcct, amount, memo)
	if err != nil {
		return "", fmt.Errorf("wallet credit: %w", err)
	}
	s.log.Info("wallet credited",
		zap.String("provider_tx_id", ptx),
		zap.String("amount_pkr", units.FormatPKR(amount)))
	return ptx, nil
}
