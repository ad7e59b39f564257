// Package bank is the boundary to the fiat wallet provider.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StubProvider = "stub-wallet"
	StubAccount  = "WALLET-001"
)

// ErrInsufficientFunds is returned by a debit larger than the account balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

type Transaction struct {
	ProviderTxID string
	Direction    string
	AmountPKR    decimal.Decimal
	Memo         string
	OccurredAt   time.Time
}

type Provider interface {
	Credit(ctx context.Context, account string, amount decimal.Decimal, memo string) (string, error)
	Debit(ctx context.Context, account string, amount decimal.Decimal, memo string) (string, error)
	// ListTransactions returns rows with OccurredAt >= since, oldest first.
	ListTransactions(ctx context.Context, account string, since time.Time) ([]Transaction, error)
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

type stubAccount struct {
	balance decimal.Decimal
	txs     []Transaction
}

// Stub is an in-memory wallet provider. Accounts are created on first use.
type Stub struct {
	mu       sync.Mutex
	accounts map[string]*stubAccount
	now      func() time.Time
}

func NewStub() *Stub {
	return &Stub{accounts: map[string]*stubAccount{}, now: time.Now}
}

// WithClock replaces the stub's time source.
func (s *Stub) WithClock(now func() time.Time) *Stub {
	s.now = now
	return s
}

func (s *Stub) account(name string) *stubAccount {
	a, ok := s.accounts[name]
	if !ok {
		a = &stubAccount{}
		s.accounts[name] = a
	}
	return a
}

func newProviderTxID() string {
	return "TX-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *Stub) record(ctx context.Context, account, direction string, amount decimal.Decimal, memo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("bank stub: %s amount must be positive, got %s", direction, amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.account(account)
	if direction == "debit" && a.balance.LessThan(amount) {
		return "", fmt.Errorf("bank stub: debit %s from %s: %w (balance %s)", amount, account, ErrInsufficientFunds, a.balance)
	}
	tx := Transaction{
		ProviderTxID: newProviderTxID(),
		Direction:    direction,
		AmountPKR:    amount,
		Memo:         memo,
		OccurredAt:   s.now().UTC(),
	}
	a.txs = append(a.txs, tx)
	if direction == "credit" {
		a.balance = a.balance.Add(amount)
	} else {
		a.balance = a.balance.Sub(amount)
	}
	return tx.ProviderTxID, nil
}

func (s *Stub) Credit(ctx context.Context, account string, amount decimal.Decimal, memo string) (string, error) {
	return s.record(ctx, account, "credit", amount, memo)
}

func (s *Stub) Debit(ctx context.Context, account string, amount decimal.Decimal, memo string) (string, error) {
	return s.record(ctx, account, "debit", amount, memo)
}

func (s *Stub) ListTransactions(ctx context.Context, account string, since time.Time) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Transaction
	for _, tx := range s.account(account).txs {
		if !tx.OccurredAt.Before(since) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *Stub) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account(account).balance, nil
}
