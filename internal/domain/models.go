package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Source string

const (
	SourceBank   Source = "bank"
	SourceChain  Source = "chain"
	SourceManual Source = "manual"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type JobType string

const (
	JobMint JobType = "mint"
	JobBurn JobType = "burn"
)

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobConfirmed JobStatus = "CONFIRMED"
	JobFailed    JobStatus = "FAILED"
)

type ExternalTxStatus string

const (
	ExternalReceived ExternalTxStatus = "RECEIVED"
	ExternalMinted   ExternalTxStatus = "MINTED"
	ExternalIgnored  ExternalTxStatus = "IGNORED"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutSuccess PayoutStatus = "SUCCESS"
	PayoutFailed  PayoutStatus = "FAILED"
)

type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

type LedgerAccount string

const (
	AccountIssuerToken LedgerAccount = "issuer_token"
	AccountUserToken   LedgerAccount = "user_token"
)

// SettlementEvent is the canonical form of every inbound event, whatever
// provider shape it arrived in. Fiat events carry Direction and AmountPKR,
// chain events carry Type and AmountUnits.
type SettlementEvent struct {
	Source      Source
	Direction   Direction
	Type        string
	ExternalRef string
	TxID        string
	EventIndex  int
	AmountPKR   decimal.Decimal
	AmountUnits int64
	Asset       string
	Subject     string
	Memo        string
	OccurredAt  time.Time
}

func (e SettlementEvent) IsFiat() bool {
	return e.Direction != ""
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	ChainAddress string    `json:"chain_address"`
	CreatedAt    time.Time `json:"created_at"`
}

type WalletAccount struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Provider     string    `json:"provider"`
	ProviderAcct string    `json:"provider_acct"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExternalTransaction is a durable fiat event. Status moves at most once,
// from RECEIVED to MINTED, and never back.
type ExternalTransaction struct {
	ID              uuid.UUID        `json:"id"`
	WalletAccountID uuid.UUID        `json:"wallet_account_id"`
	UserID          uuid.UUID        `json:"user_id"`
	ProviderTxID    string           `json:"provider_tx_id"`
	Direction       Direction        `json:"direction"`
	AmountPKR       decimal.Decimal  `json:"amount_pkr"`
	Memo            string           `json:"memo"`
	Status          ExternalTxStatus `json:"status"`
	OccurredAt      time.Time        `json:"occurred_at"`
	RecordedAt      time.Time        `json:"recorded_at"`
}

// OnchainEvent is immutable once written; (TxID, EventIndex) is unique.
// A burn job that it drives points back to it via RefOnchainEventID.
type OnchainEvent struct {
	ID          uuid.UUID `json:"id"`
	TxID        string    `json:"txid"`
	EventIndex  int       `json:"event_index"`
	Type        string    `json:"type"`
	UserAddress string    `json:"user_address"`
	AmountUnits int64     `json:"amount_units"`
	Asset       string    `json:"asset"`
	CreatedAt   time.Time `json:"created_at"`
}

type ChainJob struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	JobType           JobType    `json:"job_type"`
	AmountUnits       int64      `json:"amount_units"`
	Status            JobStatus  `json:"status"`
	IdempotencyKey    string     `json:"idempotency_key"`
	RequestHash       string     `json:"-"`
	TxHash            string     `json:"tx_hash"`
	Memo              string     `json:"memo,omitempty"`
	RefExternalTxID   *uuid.UUID `json:"ref_external_tx_id,omitempty"`
	RefOnchainEventID *uuid.UUID `json:"ref_onchain_event_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
}

// Transition moves a job out of PENDING. CONFIRMED and FAILED are terminal.
func (j *ChainJob) Transition(to JobStatus, at time.Time) error {
	if j.Status != JobPending || (to != JobConfirmed && to != JobFailed) {
		return Errorf(ErrInvalidTransition, "job %s: %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	if to == JobConfirmed {
		t := at
		j.ConfirmedAt = &t
	}
	return nil
}

// SignedAmount is the job's effect on the user's token balance.
func (j *ChainJob) SignedAmount() int64 {
	if j.JobType == JobBurn {
		return -j.AmountUnits
	}
	return j.AmountUnits
}

type PayoutJob struct {
	ID             uuid.UUID       `json:"id"`
	ChainJobID     uuid.UUID       `json:"chain_job_id"`
	OnchainEventID *uuid.UUID      `json:"onchain_event_id,omitempty"`
	UserID         uuid.UUID       `json:"user_id"`
	AmountPKR      decimal.Decimal `json:"amount_pkr"`
	Status         PayoutStatus    `json:"status"`
	PayoutRef      string          `json:"payout_ref,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type TokenBalance struct {
	UserID       uuid.UUID `json:"user_id"`
	BalanceUnits int64     `json:"balance_units"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LedgerEntry is append-only. Entries are written in pairs per confirmed
// job and the signed amounts of a pair sum to zero.
type LedgerEntry struct {
	ID          uuid.UUID     `json:"id"`
	UserID      *uuid.UUID    `json:"user_id,omitempty"`
	Side        Side          `json:"side"`
	Account     LedgerAccount `json:"account"`
	AmountUnits int64         `json:"amount_units"`
	RefType     JobType       `json:"ref_type"`
	RefID       uuid.UUID     `json:"ref_id"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Signed returns the entry amount with debit positive and credit negative.
func (e LedgerEntry) Signed() int64 {
	if e.Side == SideCredit {
		return -e.AmountUnits
	}
	return e.AmountUnits
}

// IdempotencyScope partitions the key space by who supplied the key.
type IdempotencyScope string

const (
	ScopeBank   IdempotencyScope = "bank"
	ScopeChain  IdempotencyScope = "chain"
	ScopeClient IdempotencyScope = "client"
)

// IdempotencyRecord.Key always carries its scope as a prefix, so keys from
// different scopes never collide.
type IdempotencyRecord struct {
	Key         string           `json:"key"`
	Scope       IdempotencyScope `json:"scope"`
	RequestHash string           `json:"request_hash"`
	JobID       uuid.UUID        `json:"job_id"`
	CreatedAt   time.Time        `json:"created_at"`
}

type ReconciliationRun struct {
	ID                uuid.UUID `json:"id"`
	MintsUnitsTotal   int64     `json:"mints_units_total"`
	BurnsUnitsTotal   int64     `json:"burns_units_total"`
	NetUnits          int64     `json:"net_units"`
	TokenBalanceUnits int64     `json:"token_balance_units"`
	ChainStubUnits    int64     `json:"chain_stub_units"`
	LedgerUserUnits   int64     `json:"ledger_user_units"`
	FailedPayouts     int64     `json:"failed_payouts"`
	PendingPayouts    int64     `json:"pending_payouts"`
	Match             bool      `json:"match"`
	CreatedAt         time.Time `json:"created_at"`
}
