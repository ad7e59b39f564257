// Package store persists settlement state. Every top-level operation runs
// inside one WithTx call; reads that need a consistent snapshot use View.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
)

type Store interface {
	// WithTx runs fn in a read-write transaction. fn's error rolls back
	// every write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(r Reader) error) error
	Close()
}

// Totals are the aggregates reconciliation compares.
type Totals struct {
	MintsUnits        int64
	BurnsUnits        int64
	TokenBalanceUnits int64
	ChainStubUnits    int64
	LedgerUserUnits   int64
	FailedPayouts     int64
	PendingPayouts    int64
}

// Lookups that find nothing return an error wrapping domain.ErrNotFound.
type Reader interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByChainAddress(ctx context.Context, address string) (*domain.User, error)
	GetWalletAccount(ctx context.Context, userID uuid.UUID) (*domain.WalletAccount, error)
	GetTokenBalance(ctx context.Context, userID uuid.UUID) (*domain.TokenBalance, error)
	GetChainStubBalance(ctx context.Context, userID uuid.UUID) (int64, error)

	GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.ChainJob, error)
	// GetOpenMintJob returns the PENDING or CONFIRMED mint job for an
	// external transaction.
	GetOpenMintJob(ctx context.Context, externalTxID uuid.UUID) (*domain.ChainJob, error)
	GetExternalTransaction(ctx context.Context, providerTxID string) (*domain.ExternalTransaction, error)
	GetOnchainEvent(ctx context.Context, txid string, eventIndex int) (*domain.OnchainEvent, error)
	GetPayoutByJob(ctx context.Context, chainJobID uuid.UUID) (*domain.PayoutJob, error)

	// List calls return newest first.
	ListLedgerEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error)
	ListLedgerEntriesByRef(ctx context.Context, refID uuid.UUID) ([]domain.LedgerEntry, error)
	ListExternalTransactions(ctx context.Context, limit int) ([]domain.ExternalTransaction, error)
	ListJobs(ctx context.Context, limit int) ([]domain.ChainJob, error)
	ListReconciliationRuns(ctx context.Context, limit int) ([]domain.ReconciliationRun, error)

	Totals(ctx context.Context) (Totals, error)
}

// Tx is the write surface. It cannot move cached balances; see
// BalanceWriter.
type Tx interface {
	Reader

	// Insert* methods that return a bool are insert-if-absent on the
	// entity's natural key; false means a row already existed and nothing
	// was written.
	InsertUser(ctx context.Context, u *domain.User) (bool, error)
	InsertWalletAccount(ctx context.Context, wa *domain.WalletAccount) (bool, error)
	EnsureBalances(ctx context.Context, userID uuid.UUID, at time.Time) error

	ClaimIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) (bool, error)

	InsertExternalTransaction(ctx context.Context, et *domain.ExternalTransaction) (bool, error)
	// LockExternalTransaction reads the row FOR UPDATE.
	LockExternalTransaction(ctx context.Context, providerTxID string) (*domain.ExternalTransaction, error)
	// MarkExternalTransactionMinted moves RECEIVED to MINTED and fails with
	// domain.ErrInvalidTransition from any other status.
	MarkExternalTransactionMinted(ctx context.Context, id uuid.UUID) error

	InsertOnchainEvent(ctx context.Context, ev *domain.OnchainEvent) (bool, error)

	InsertJob(ctx context.Context, job *domain.ChainJob) error
	LockJob(ctx context.Context, id uuid.UUID) (*domain.ChainJob, error)
	// UpdateJobOutcome persists a transition out of PENDING.
	UpdateJobOutcome(ctx context.Context, job *domain.ChainJob) error

	InsertLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) error
	LockTokenBalance(ctx context.Context, userID uuid.UUID) (int64, error)

	InsertPayout(ctx context.Context, p *domain.PayoutJob) error
	// UpdatePayoutOutcome persists a transition out of PENDING.
	UpdatePayoutOutcome(ctx context.Context, p *domain.PayoutJob) error

	InsertReconciliationRun(ctx context.Context, run *domain.ReconciliationRun) error
}

// BalanceWriter moves the cached token and chain stub balances. Every Tx
// implementation satisfies it, but it is not part of Tx: ledger.Engine.Post
// asserts it and is its only caller.
type BalanceWriter interface {
	AdjustTokenBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)
	AdjustChainStubBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit applies the list defaults.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
