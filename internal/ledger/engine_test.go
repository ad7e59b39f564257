package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	token   int64
	chain   int64
	entries []domain.LedgerEntry
	drift   int64
	failIns error
}

func (f *fakeWriter) LockTokenBalance(context.Context, uuid.UUID) (int64, error) {
	return f.token, nil
}

func (f *fakeWriter) InsertLedgerEntries(_ context.Context, e []domain.LedgerEntry) error {
	if f.failIns != nil {
		return f.failIns
	}
	f.entries = append(f.entries, e...)
	return nil
}

func (f *fakeWriter) AdjustTokenBalance(_ context.Context, _ uuid.UUID, d int64) (int64, error) {
	f.token += d + f.drift
	return f.token, nil
}

func (f *fakeWriter) AdjustChainStubBalance(_ context.Context, _ uuid.UUID, d int64) (int64, error) {
	f.chain += d
	return f.chain, nil
}

func job(t domain.JobType, amount int64) *domain.ChainJob {
	return &domain.ChainJob{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		JobType:     t,
		AmountUnits: amount,
		Status:      domain.JobConfirmed,
	}
}

func TestPost_MintThenBurn(t *testing.T) {
	e := ledger.NewEngine(zap.NewNop())
	w := &fakeWriter{}

	mint := job(domain.JobMint, 1_000)
	entries, err := e.Post(context.Background(), w, mint)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AccountIssuerToken, entries[0].Account)
	assert.Equal(t, domain.SideCredit, entries[0].Side)
	assert.Equal(t, domain.AccountUserToken, entries[1].Account)
	assert.Equal(t, domain.SideDebit, entries[1].Side)
	assert.Zero(t, entries[0].Signed()+entries[1].Signed())
	assert.Equal(t, int64(1_000), w.token)
	assert.Equal(t, int64(1_000), w.chain)

	burn := job(domain.JobBurn, 400)
	burn.UserID = mint.UserID
	entries, err = e.Post(context.Background(), w, burn)
	require.NoError(t, err)
	assert.Equal(t, domain.SideCredit, entries[1].Side)
	assert.Equal(t, domain.SideDebit, entries[0].Side)
	assert.Equal(t, int64(600), w.token)
	assert.Equal(t, int64(600), w.chain)

	var userSum int64
	for _, en := range w.entries {
		if en.Account == domain.AccountUserToken {
			userSum += en.Signed()
		}
	}
	assert.Equal(t, w.token, userSum)
}

func TestPost_RejectsUnconfirmed(t *testing.T) {
	e := ledger.NewEngine(zap.NewNop())
	j := job(domain.JobMint, 10)
	j.Status = domain.JobPending

	_, err := e.Post(context.Background(), &fakeWriter{}, j)
	assert.ErrorIs(t, err, domain.ErrLedgerInvariantViolation)
}

func TestPost_RejectsNonPositive(t *testing.T) {
	e := ledger.NewEngine(zap.NewNop())
	_, err := e.Post(context.Background(), &fakeWriter{}, job(domain.JobMint, 0))
	assert.ErrorIs(t, err, domain.ErrLedgerInvariantViolation)
}

func TestPost_BurnBelowZero(t *testing.T) {
	e := ledger.NewEngine(zap.NewNop())
	w := &fakeWriter{token: 5}

	_, err := e.Post(context.Background(), w, job(domain.JobBurn, 6))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, w.entries)
	assert.Equal(t, int64(5), w.token)
}

func TestPost_DetectsBalanceDrift(t *testing.T) {
	e := ledger.NewEngine(zap.NewNop())
	w := &fakeWriter{drift: 1}

	_, err := e.Post(context.Background(), w, job(domain.JobMint, 10))
	assert.ErrorIs(t, err, domain.ErrLedgerInvariantViolation)
}

func TestPost_PropagatesStoreErrors(t *testing.T) {
	e := ledger.NewEngine(zap.NewNop())
	boom := errors.New("boom")

	_, err := e.Post(context.Background(), &fakeWriter{failIns: boom}, job(domain.JobMint, 10))
	assert.ErrorIs(t, err, boom)
}

func TestCheckPair(t *testing.T) {
	j := job(domain.JobMint, 7)
	good := ledger.Entries(j, time.Now())
	require.NoError(t, ledger.CheckPair(good))

	same := []domain.LedgerEntry{good[0], good[0]}
	assert.ErrorIs(t, ledger.CheckPair(same), domain.ErrLedgerInvariantViolation)

	uneven := []domain.LedgerEntry{good[0], good[1]}
	uneven[1].AmountUnits = 8
	assert.ErrorIs(t, ledger.CheckPair(uneven), domain.ErrLedgerInvariantViolation)

	assert.ErrorIs(t, ledger.CheckPair(good[:1]), domain.ErrLedgerInvariantViolation)
}

// entriesOnly can write entries but has no way to move balances.
type entriesOnly struct {
	inner *fakeWriter
}

func (w entriesOnly) LockTokenBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	return w.inner.LockTokenBalance(ctx, id)
}

func (w entriesOnly) InsertLedgerEntries(ctx context.Context, e []domain.LedgerEntry) error {
	return w.inner.InsertLedgerEntries(ctx, e)
}

func TestPost_RequiresBalanceWriter(t *testing.T) {
	inner := &fakeWriter{}
	_, err := ledger.NewEngine(zap.NewNop()).Post(context.Background(), entriesOnly{inner}, job(domain.JobMint, 10))
	assert.ErrorIs(t, err, domain.ErrLedgerInvariantViolation)
	assert.Empty(t, inner.entries)
	assert.Zero(t, inner.token)
}
