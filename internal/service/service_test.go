package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/pkrsettle/internal/alert"
	"github.com/punchamoorthee/pkrsettle/internal/bank"
	"github.com/punchamoorthee/pkrsettle/internal/chain"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/reconcile"
	"github.com/punchamoorthee/pkrsettle/internal/service"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/punchamoorthee/pkrsettle/internal/units"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	demoEmail   = "demo@example.com"
	demoAddress = "0xdemo"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

type providerMock struct {
	mock.Mock
}

func (m *providerMock) Credit(ctx context.Context, account string, amount decimal.Decimal, memo string) (string, error) {
	args := m.Called(ctx, account, amount, memo)
	return args.String(0), args.Error(1)
}

func (m *providerMock) Debit(ctx context.Context, account string, amount decimal.Decimal, memo string) (string, error) {
	args := m.Called(ctx, account, amount, memo)
	return args.String(0), args.Error(1)
}

func (m *providerMock) ListTransactions(ctx context.Context, account string, since time.Time) ([]bank.Transaction, error) {
	args := m.Called(ctx, account, since)
	return args.Get(0).([]bank.Transaction), args.Error(1)
}

func (m *providerMock) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type fixture struct {
	svc    *service.Service
	store  *store.Memory
	alerts *recordingAlerter
	// wallet is the bank stub when no other provider was given.
	wallet *bank.Stub
}

type option func(*service.Options, *chain.Backend, *bank.Provider)

func withOptions(fn func(*service.Options)) option {
	return func(o *service.Options, _ *chain.Backend, _ *bank.Provider) { fn(o) }
}

func withBackend(b chain.Backend) option {
	return func(_ *service.Options, cb *chain.Backend, _ *bank.Provider) { *cb = b }
}

func withProvider(p bank.Provider) option {
	return func(_ *service.Options, _ *chain.Backend, bp *bank.Provider) { *bp = p }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	conv, err := units.NewConverter(6)
	require.NoError(t, err)

	o := service.Options{
		DemoUserEmail:    demoEmail,
		DemoChainAddress: demoAddress,
		TokenSymbol:      "PKRT",
		AutoMint:         true,
	}
	wallet := bank.NewStub()
	var backend chain.Backend = chain.NewStub()
	var provider bank.Provider = wallet
	for _, fn := range opts {
		fn(&o, &backend, &provider)
	}

	f := &fixture{store: store.NewMemory(), alerts: &recordingAlerter{}}
	if provider == bank.Provider(wallet) {
		f.wallet = wallet
	}
	f.svc = service.New(f.store, conv, backend, provider, f.alerts, o, zap.NewNop())
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.svc.SeedDemoUser(context.Background())
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background())
	require.NoError(t, err)
	return b.BalanceUnits
}

// deposit ingests a settled credit through the bank webhook path. The
// stub wallet is funded too, as the bank would hold the deposit.
func (f *fixture) deposit(t *testing.T, ptx, amount string) *service.BankIngestResult {
	t.Helper()
	if f.wallet != nil {
		_, err := f.wallet.Credit(context.Background(), bank.StubAccount, decimal.RequireFromString(amount), "webhook deposit")
		require.NoError(t, err)
	}
	res, err := f.svc.IngestBankEvent(context.Background(), bankEvent(ptx, domain.DirectionCredit, amount))
	require.NoError(t, err)
	return res
}

func bankEvent(ptx string, dir domain.Direction, amount string) domain.SettlementEvent {
	return domain.SettlementEvent{
		Source:      domain.SourceBank,
		Direction:   dir,
		ExternalRef: ptx,
		AmountPKR:   decimal.RequireFromString(amount),
		Subject:     demoEmail,
		OccurredAt:  time.Now().UTC(),
	}
}

func chainBurn(txid string, idx int, address string, amount int64) domain.SettlementEvent {
	return domain.SettlementEvent{
		Source:      domain.SourceChain,
		Type:        "burn",
		ExternalRef: txid,
		TxID:        txid,
		EventIndex:  idx,
		AmountUnits: amount,
		Asset:       "PKRT",
		Subject:     address,
	}
}

func TestEndToEnd_DepositMintRedeem(t *testing.T) {
	ctx := context.Background()
	stub := bank.NewStub()
	f := newFixture(t, withProvider(stub))
	f.seed(t)

	ptx, err := f.svc.RecordWalletCredit(ctx, "1000.00", "")
	require.NoError(t, err)
	assert.NotEmpty(t, ptx)

	ing, err := f.svc.IngestSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, ing.Ingested)
	assert.Equal(t, 1, ing.Minted)
	assert.Equal(t, int64(1_000_000_000), f.balance(t))

	first, err := f.svc.Redeem(ctx, 200_000_000, "", "K1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, domain.JobConfirmed, first.Job.Status)
	require.NotNil(t, first.Payout)
	assert.Equal(t, domain.PayoutSuccess, first.Payout.Status)
	assert.Equal(t, "200.00", first.Payout.AmountPKR.StringFixed(2))
	assert.Equal(t, int64(800_000_000), f.balance(t))

	replay, err := f.svc.Redeem(ctx, 200_000_000, "", "K1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Job.ID, replay.Job.ID)
	assert.Equal(t, int64(800_000_000), f.balance(t))

	_, err = f.svc.Redeem(ctx, 900_000_000, "", "K2")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(800_000_000), f.balance(t))

	entries, err := f.svc.GetLedger(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, domain.JobBurn, entries[0].RefType)
	var userSum int64
	for _, e := range entries {
		if e.Account == domain.AccountUserToken {
			userSum += e.Signed()
		}
	}
	assert.Equal(t, int64(800_000_000), userSum)

	wallet, err := stub.Balance(ctx, bank.StubAccount)
	require.NoError(t, err)
	assert.Equal(t, "800.00", wallet.StringFixed(2))

	// The payout debit comes back on the next poll and is stored IGNORED.
	again, err := f.svc.IngestSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Ingested)
	assert.Equal(t, 0, again.Minted)
	assert.Equal(t, int64(800_000_000), f.balance(t))

	ext, err := f.svc.GetExternalTransactions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ext, 2)
	assert.Equal(t, domain.ExternalIgnored, ext[0].Status)
	assert.Equal(t, domain.ExternalMinted, ext[1].Status)
}

func TestRedeem_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	f.deposit(t, "TX-1", "100.00")

	_, err := f.svc.Redeem(ctx, 1_000_000, "", "")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	_, err = f.svc.Redeem(ctx, 0, "", "K0")
	assert.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	_, err = f.svc.Redeem(ctx, 1_000_000, "", "K1")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, 2_000_000, "", "K1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.Equal(t, int64(99_000_000), f.balance(t))
}

func TestRedeem_ClientKeysDoNotShadowSystemKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	f.deposit(t, "TX-1", "100.00")

	_, err := f.svc.Redeem(ctx, 1_000_000, "", "bank:TX-2")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, 1_000_000, "", "chain:0xb9:0")
	require.NoError(t, err)

	later := f.deposit(t, "TX-2", "50.00")
	require.NotNil(t, later.Job)
	assert.False(t, later.Job.Replayed)
	assert.Equal(t, domain.JobMint, later.Job.Job.JobType)
	assert.Equal(t, "bank:TX-2", later.Job.Job.IdempotencyKey)
	assert.Equal(t, domain.ExternalMinted, later.ExternalTx.Status)

	feed, err := f.svc.IngestChainEvents(ctx, []domain.SettlementEvent{chainBurn("0xb9", 0, demoAddress, 3_000_000)})
	require.NoError(t, err)
	assert.Empty(t, feed.Errors)
	assert.Equal(t, 1, feed.Burns)

	assert.Equal(t, int64(145_000_000), f.balance(t))
}

func TestRedeem_InsufficientBalanceLeavesKeyFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	_, err := f.svc.Redeem(ctx, 1_000_000, "", "K1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	f.deposit(t, "TX-1", "5.00")
	res, err := f.svc.Redeem(ctx, 1_000_000, "", "K1")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(4_000_000), f.balance(t))
}

func TestRedeem_PayoutCeiling(t *testing.T) {
	ceiling := decimal.RequireFromString("50")
	f := newFixture(t, withOptions(func(o *service.Options) { o.MaxSinglePayoutPKR = &ceiling }))
	f.seed(t)
	f.deposit(t, "TX-1", "100.00")

	_, err := f.svc.Redeem(context.Background(), 50_000_001, "", "K1")
	assert.ErrorIs(t, err, domain.ErrCeilingExceeded)

	_, err = f.svc.Redeem(context.Background(), 50_000_000, "", "K2")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), f.balance(t))
}

func TestRedeem_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	f.deposit(t, "TX-1", "100.00")

	const workers = 16
	results := make([]*service.JobResult, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			res, err := f.svc.Redeem(ctx, 10_000_000, "", "same-key")
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	fresh := 0
	for _, r := range results {
		assert.Equal(t, results[0].Job.ID, r.Job.ID)
		if !r.Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(90_000_000), f.balance(t))
}

func TestRedeem_PayoutFailureKeepsBurn(t *testing.T) {
	ctx := context.Background()
	provider := &providerMock{}
	provider.On("Debit", mock.Anything, bank.StubAccount, mock.Anything, "redeem").
		Return("", errors.New("provider unavailable")).Once()

	f := newFixture(t, withProvider(provider))
	f.seed(t)
	f.deposit(t, "TX-1", "100.00")

	res, err := f.svc.Redeem(ctx, 25_000_000, "", "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobConfirmed, res.Job.Status)
	require.NotNil(t, res.Payout)
	assert.Equal(t, domain.PayoutFailed, res.Payout.Status)
	assert.Equal(t, int64(75_000_000), f.balance(t))

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, alert.TypePayoutFailed, f.alerts.alerts[0].Type)

	// Replays report the stored outcome without paying again.
	replay, err := f.svc.Redeem(ctx, 25_000_000, "", "K1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, domain.PayoutFailed, replay.Payout.Status)
	provider.AssertExpectations(t)
}

func TestRedeem_DrainedWalletFailsPayout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	f.deposit(t, "TX-1", "100.00")

	// Funds leave the wallet outside the settlement core.
	_, err := f.wallet.Debit(ctx, bank.StubAccount, decimal.RequireFromString("90.00"), "external")
	require.NoError(t, err)

	res, err := f.svc.Redeem(ctx, 25_000_000, "", "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobConfirmed, res.Job.Status)
	require.NotNil(t, res.Payout)
	assert.Equal(t, domain.PayoutFailed, res.Payout.Status)
	assert.Empty(t, res.Payout.PayoutRef)
	assert.Equal(t, int64(75_000_000), f.balance(t))

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, alert.TypePayoutFailed, f.alerts.alerts[0].Type)
	assert.Contains(t, f.alerts.alerts[0].Message, bank.ErrInsufficientFunds.Error())

	wallet, err := f.wallet.Balance(ctx, bank.StubAccount)
	require.NoError(t, err)
	assert.Equal(t, "10.00", wallet.StringFixed(2))

	detail, err := f.svc.GetJob(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Entries, 2)
	assert.Equal(t, domain.PayoutFailed, detail.Payout.Status)

	run, err := reconcile.NewEngine(f.store, f.alerts, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.True(t, run.Match)
	assert.Equal(t, int64(1), run.FailedPayouts)
	require.Len(t, f.alerts.alerts, 2)
	assert.Equal(t, alert.TypePayoutFailed, f.alerts.alerts[1].Type)
}

func TestRedeem_SubCentPayoutSkipsBank(t *testing.T) {
	provider := &providerMock{}
	f := newFixture(t, withProvider(provider))
	f.seed(t)
	f.deposit(t, "TX-1", "1.00")

	res, err := f.svc.Redeem(context.Background(), 9_999, "", "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutSuccess, res.Payout.Status)
	assert.True(t, res.Payout.AmountPKR.IsZero())
	provider.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestBankEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	res := f.deposit(t, "TX-1", "12.34")
	require.NotNil(t, res.Job)
	assert.Equal(t, domain.JobConfirmed, res.Job.Job.Status)
	assert.Equal(t, int64(12_340_000), res.Job.Job.AmountUnits)
	assert.Equal(t, domain.ExternalMinted, res.ExternalTx.Status)

	dup := f.deposit(t, "TX-1", "12.34")
	assert.True(t, dup.Duplicate)
	require.NotNil(t, dup.Job)
	assert.Equal(t, res.Job.Job.ID, dup.Job.Job.ID)
	assert.Equal(t, int64(12_340_000), f.balance(t))

	_, err := f.svc.IngestBankEvent(ctx, bankEvent("TX-1", domain.DirectionCredit, "99.00"))
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	debit, err := f.svc.IngestBankEvent(ctx, bankEvent("TX-2", domain.DirectionDebit, "5.00"))
	require.NoError(t, err)
	assert.Nil(t, debit.Job)
	assert.Equal(t, domain.ExternalIgnored, debit.ExternalTx.Status)

	stranger := bankEvent("TX-3", domain.DirectionCredit, "5.00")
	stranger.Subject = "nobody@example.com"
	_, err = f.svc.IngestBankEvent(ctx, stranger)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, int64(12_340_000), f.balance(t))
}

func TestIngestBankEvent_MintCeilingPersistsNothing(t *testing.T) {
	ceiling := decimal.RequireFromString("500")
	f := newFixture(t, withOptions(func(o *service.Options) { o.MaxSingleMintPKR = &ceiling }))
	f.seed(t)

	_, err := f.svc.IngestBankEvent(context.Background(), bankEvent("TX-1", domain.DirectionCredit, "500.01"))
	assert.ErrorIs(t, err, domain.ErrCeilingExceeded)

	ext, err := f.svc.GetExternalTransactions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, ext)
	assert.Equal(t, int64(0), f.balance(t))
}

func TestMint_Manual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withOptions(func(o *service.Options) { o.AutoMint = false }))
	f.seed(t)

	res := f.deposit(t, "TX-1", "10.00")
	assert.Nil(t, res.Job)
	assert.Equal(t, domain.ExternalReceived, res.ExternalTx.Status)
	assert.Equal(t, int64(0), f.balance(t))

	minted, err := f.svc.Mint(ctx, "TX-1", "")
	require.NoError(t, err)
	assert.False(t, minted.Replayed)
	assert.Equal(t, int64(10_000_000), f.balance(t))

	again, err := f.svc.Mint(ctx, "TX-1", "client-key")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, minted.Job.ID, again.Job.ID)
	assert.Equal(t, int64(10_000_000), f.balance(t))

	f.deposit(t, "TX-2", "3.00")
	f.deposit(t, "TX-3", "4.00")
	_, err = f.svc.Mint(ctx, "TX-2", "client-key")
	require.NoError(t, err)
	_, err = f.svc.Mint(ctx, "TX-3", "client-key")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.Equal(t, int64(13_000_000), f.balance(t))

	_, err = f.svc.IngestBankEvent(ctx, bankEvent("TX-4", domain.DirectionDebit, "1.00"))
	require.NoError(t, err)
	_, err = f.svc.Mint(ctx, "TX-4", "")
	assert.ErrorIs(t, err, domain.ErrNotMintable)

	_, err = f.svc.Mint(ctx, "TX-404", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeferredBackend_ConfirmAndFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withBackend(chain.NewDeferred()))
	f.seed(t)

	res := f.deposit(t, "TX-1", "10.00")
	require.NotNil(t, res.Job)
	assert.Equal(t, domain.JobPending, res.Job.Job.Status)
	assert.Equal(t, domain.ExternalReceived, res.ExternalTx.Status)
	assert.Equal(t, int64(0), f.balance(t))

	confirmed, err := f.svc.ConfirmJob(ctx, res.Job.Job.ID, "0xfeed")
	require.NoError(t, err)
	assert.Equal(t, domain.JobConfirmed, confirmed.Job.Status)
	assert.Equal(t, "0xfeed", confirmed.Job.TxHash)
	assert.Equal(t, int64(10_000_000), f.balance(t))

	_, err = f.svc.ConfirmJob(ctx, res.Job.Job.ID, "0xfeed")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	ext, err := f.svc.GetExternalTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalMinted, ext[0].Status)

	burn, err := f.svc.Redeem(ctx, 4_000_000, "", "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, burn.Job.Status)
	assert.Nil(t, burn.Payout)

	failed, err := f.svc.FailJob(ctx, burn.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.Job.Status)
	assert.Equal(t, int64(10_000_000), f.balance(t))

	detail, err := f.svc.GetJob(ctx, burn.Job.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Entries)
}

func TestDeferredBackend_ConfirmBurnPaysOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withBackend(chain.NewDeferred()))
	f.seed(t)

	mint := f.deposit(t, "TX-1", "10.00")
	_, err := f.svc.ConfirmJob(ctx, mint.Job.Job.ID, "")
	require.NoError(t, err)

	burn, err := f.svc.Redeem(ctx, 4_000_000, "", "K1")
	require.NoError(t, err)
	done, err := f.svc.ConfirmJob(ctx, burn.Job.ID, "0xburn")
	require.NoError(t, err)
	require.NotNil(t, done.Payout)
	assert.Equal(t, domain.PayoutSuccess, done.Payout.Status)
	assert.Equal(t, int64(6_000_000), f.balance(t))

	detail, err := f.svc.GetJob(ctx, burn.Job.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Entries, 2)
	assert.Equal(t, domain.PayoutSuccess, detail.Payout.Status)
}

func TestIngestChainEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	f.deposit(t, "TX-1", "100.00")

	transfer := chainBurn("0xt1", 0, demoAddress, 1)
	transfer.Type = "transfer"
	otherAsset := chainBurn("0xt1", 1, demoAddress, 1_000_000)
	otherAsset.Asset = "USDT"

	res, err := f.svc.IngestChainEvents(ctx, []domain.SettlementEvent{
		chainBurn("0xb1", 0, demoAddress, 30_000_000),
		transfer,
		otherAsset,
		chainBurn("0xb2", 0, "0xstranger", 5_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Received)
	assert.Equal(t, 4, res.Recorded)
	assert.Equal(t, 1, res.Burns)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(70_000_000), f.balance(t))

	redelivered, err := f.svc.IngestChainEvents(ctx, []domain.SettlementEvent{
		chainBurn("0xb1", 0, demoAddress, 30_000_000),
		chainBurn("0xb1", 0, demoAddress, 31_000_000),
		chainBurn("0xb3", 0, demoAddress, 500_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, redelivered.Duplicates)
	require.Len(t, redelivered.Errors, 2)
	assert.Equal(t, domain.ErrIdempotencyConflict.Code, redelivered.Errors[0].Code)
	assert.Equal(t, domain.ErrInsufficientBalance.Code, redelivered.Errors[1].Code)
	assert.Equal(t, int64(70_000_000), f.balance(t))
}

func TestChainBurn_UsesEventTxidAsReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)
	f.deposit(t, "TX-1", "100.00")

	_, err := f.svc.IngestChainEvents(ctx, []domain.SettlementEvent{chainBurn("0xabc", 2, demoAddress, 1_000_000)})
	require.NoError(t, err)

	entries, err := f.svc.GetLedger(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	detail, err := f.svc.GetJob(ctx, entries[0].RefID)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", detail.Job.TxHash)
	assert.Equal(t, "chain:0xabc:2", detail.Job.IdempotencyKey)
	require.NotNil(t, detail.Job.RefOnchainEventID)
	require.NotNil(t, detail.Payout)
	assert.Equal(t, "1.00", detail.Payout.AmountPKR.StringFixed(2))
}

func TestReads_BeforeSeed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetBalance(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Redeem(context.Background(), 1, "", "K1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSeedDemoUser_Idempotent(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.SeedDemoUser(context.Background())
	require.NoError(t, err)
	b, err := f.svc.SeedDemoUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.User.ID, b.User.ID)
	assert.Equal(t, a.WalletAccount.ID, b.WalletAccount.ID)

	user, bal, err := f.svc.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, demoAddress, user.ChainAddress)
	assert.Equal(t, 6, bal.Decimals)
	assert.Equal(t, "0.00", bal.BalancePKR)
}
