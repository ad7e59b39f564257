package store_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/ledger"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreTests checks the behavior every Store implementation shares.
// newStore must return an empty store.
func runStoreTests(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("UsersAreInsertIfAbsent", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("FailedTxLeavesNothing", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("IdempotencyClaim", func(t *testing.T) { testClaim(t, newStore(t)) })
	t.Run("ExternalTransactions", func(t *testing.T) { testExternal(t, newStore(t)) })
	t.Run("JobLifecycle", func(t *testing.T) { testJobs(t, newStore(t)) })
	t.Run("OnchainEvents", func(t *testing.T) { testOnchain(t, newStore(t)) })
	t.Run("BalancesAndTotals", func(t *testing.T) { testTotals(t, newStore(t)) })
	t.Run("Payouts", func(t *testing.T) { testPayouts(t, newStore(t)) })
	t.Run("ListsNewestFirst", func(t *testing.T) { testLists(t, newStore(t)) })
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	user   domain.User
	wallet domain.WalletAccount
}

func seed(t *testing.T, st store.Store) fixture {
	t.Helper()
	f := fixture{
		user: domain.User{
			ID: uuid.New(), Email: "demo@example.com", DisplayName: "Demo",
			ChainAddress: "0xdemo", CreatedAt: t0,
		},
	}
	f.wallet = domain.WalletAccount{
		ID: uuid.New(), UserID: f.user.ID, Provider: "stub", ProviderAcct: "demo", CreatedAt: t0,
	}
	require.NoError(t, st.WithTx(context.Background(), func(tx store.Tx) error {
		if _, err := tx.InsertUser(context.Background(), &f.user); err != nil {
			return err
		}
		if _, err := tx.InsertWalletAccount(context.Background(), &f.wallet); err != nil {
			return err
		}
		return tx.EnsureBalances(context.Background(), f.user.ID, t0)
	}))
	return f
}

func newExternal(f fixture, ptx string, amount string) *domain.ExternalTransaction {
	return &domain.ExternalTransaction{
		ID: uuid.New(), WalletAccountID: f.wallet.ID, UserID: f.user.ID,
		ProviderTxID: ptx, Direction: domain.DirectionCredit,
		AmountPKR: decimal.RequireFromString(amount), Status: domain.ExternalReceived,
		OccurredAt: t0, RecordedAt: t0,
	}
}

func newJob(f fixture, typ domain.JobType, units int64, key string) *domain.ChainJob {
	return &domain.ChainJob{
		ID: uuid.New(), UserID: f.user.ID, JobType: typ, AmountUnits: units,
		Status: domain.JobPending, IdempotencyKey: key, RequestHash: "h-" + key, CreatedAt: t0,
	}
}

func balances(t *testing.T, tx store.Tx) store.BalanceWriter {
	t.Helper()
	bw, ok := tx.(store.BalanceWriter)
	require.True(t, ok, "%T does not implement store.BalanceWriter", tx)
	return bw
}

func confirm(ctx context.Context, tx store.Tx, job *domain.ChainJob) error {
	job.Status = domain.JobConfirmed
	job.TxHash = "0x" + job.ID.String()
	at := t0.Add(time.Second)
	job.ConfirmedAt = &at
	return tx.UpdateJobOutcome(ctx, job)
}

func testUsers(t *testing.T, st store.Store) {
	ctx := context.Background()
	f := seed(t, st)

	err := st.WithTx(ctx, func(tx store.Tx) error {
		dup := f.user
		dup.ID = uuid.New()
		inserted, err := tx.InsertUser(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		inserted, err = tx.InsertWalletAccount(ctx, &f.wallet)
		require.NoError(t, err)
		assert.False(t, inserted)
		return tx.EnsureBalances(ctx, f.user.ID, t0)
	})
	require.NoError(t, err)

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		u, err := r.GetUserByEmail(ctx, "demo@example.com")
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, u.ID)

		u, err = r.GetUserByChainAddress(ctx, "0xdemo")
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, u.ID)

		wa, err := r.GetWalletAccount(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, f.wallet.ID, wa.ID)

		_, err = r.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = r.GetUserByChainAddress(ctx, "0xnobody")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func testRollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	f := seed(t, st)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.ClaimIdempotencyKey(ctx, domain.IdempotencyRecord{Key: "client:k", Scope: domain.ScopeClient, RequestHash: "h", JobID: uuid.New(), CreatedAt: t0})
		require.NoError(t, err)
		require.True(t, ok)
		_, err = balances(t, tx).AdjustChainStubBalance(ctx, f.user.ID, 10)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		_, err := r.GetIdempotencyRecord(ctx, "client:k")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		v, err := r.GetChainStubBalance(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, v)
		return nil
	}))
}

func testClaim(t *testing.T, st store.Store) {
	ctx := context.Background()
	first := domain.IdempotencyRecord{Key: "client:k1", Scope: domain.ScopeClient, RequestHash: "aaa", JobID: uuid.New(), CreatedAt: t0}

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.ClaimIdempotencyKey(ctx, first)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.ClaimIdempotencyKey(ctx, domain.IdempotencyRecord{Key: "client:k1", Scope: domain.ScopeClient, RequestHash: "bbb", JobID: uuid.New(), CreatedAt: t0})
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := tx.GetIdempotencyRecord(ctx, "client:k1")
		require.NoError(t, err)
		assert.Equal(t, domain.ScopeClient, rec.Scope)
		assert.Equal(t, "aaa", rec.RequestHash)
		assert.Equal(t, first.JobID, rec.JobID)
		return nil
	}))
}

func testExternal(t *testing.T, st store.Store) {
	ctx := context.Background()
	f := seed(t, st)
	et := newExternal(f, "TX-1", "1500.25")

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.InsertExternalTransaction(ctx, et)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.InsertExternalTransaction(ctx, newExternal(f, "TX-1", "1"))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		got, err := tx.LockExternalTransaction(ctx, "TX-1")
		require.NoError(t, err)
		assert.True(t, got.AmountPKR.Equal(decimal.RequireFromString("1500.25")))
		assert.Equal(t, domain.ExternalReceived, got.Status)
		return tx.MarkExternalTransactionMinted(ctx, got.ID)
	}))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		return tx.MarkExternalTransactionMinted(ctx, et.ID)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		got, err := r.GetExternalTransaction(ctx, "TX-1")
		require.NoError(t, err)
		assert.Equal(t, domain.ExternalMinted, got.Status)
		_, err = r.GetExternalTransaction(ctx, "TX-404")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func testJobs(t *testing.T, st store.Store) {
	ctx := context.Background()
	f := seed(t, st)
	et := newExternal(f, "TX-1", "10")
	job := newJob(f, domain.JobMint, 10_000_000, "bank:TX-1")
	job.RefExternalTxID = &et.ID

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertExternalTransaction(ctx, et); err != nil {
			return err
		}
		return tx.InsertJob(ctx, job)
	}))

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		open, err := r.GetOpenMintJob(ctx, et.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, open.ID)
		assert.Equal(t, domain.JobPending, open.Status)
		return nil
	}))

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockJob(ctx, job.ID)
		require.NoError(t, err)
		return confirm(ctx, tx, locked)
	}))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		again := *job
		again.Status = domain.JobFailed
		return tx.UpdateJobOutcome(ctx, &again)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = st.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertJob(ctx, newJob(f, domain.JobMint, 1, "bank:TX-1"))
	})
	assert.Error(t, err)

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		got, err := r.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobConfirmed, got.Status)
		assert.Equal(t, "0x"+job.ID.String(), got.TxHash)
		require.NotNil(t, got.ConfirmedAt)
		require.NotNil(t, got.RefExternalTxID)
		assert.Equal(t, et.ID, *got.RefExternalTxID)

		_, err = r.GetJob(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func testOnchain(t *testing.T, st store.Store) {
	ctx := context.Background()
	ev := &domain.OnchainEvent{
		ID: uuid.New(), TxID: "0xabc", EventIndex: 2, Type: "burn",
		UserAddress: "0xdemo", AmountUnits: 5, Asset: "PKRT", CreatedAt: t0,
	}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.InsertOnchainEvent(ctx, ev)
		require.NoError(t, err)
		assert.True(t, ok)

		dup := *ev
		dup.ID = uuid.New()
		dup.AmountUnits = 99
		ok, err = tx.InsertOnchainEvent(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		got, err := r.GetOnchainEvent(ctx, "0xabc", 2)
		require.NoError(t, err)
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, int64(5), got.AmountUnits)

		_, err = r.GetOnchainEvent(ctx, "0xabc", 3)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func testTotals(t *testing.T, st store.Store) {
	ctx := context.Background()
	f := seed(t, st)
	mint := newJob(f, domain.JobMint, 700, "mint-1")
	burn := newJob(f, domain.JobBurn, 200, "burn-1")
	pending := newJob(f, domain.JobMint, 50, "mint-2")

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		for _, j := range []*domain.ChainJob{mint, burn} {
			if err := tx.InsertJob(ctx, j); err != nil {
				return err
			}
			if err := confirm(ctx, tx, j); err != nil {
				return err
			}
			if err := tx.InsertLedgerEntries(ctx, ledger.Entries(j, t0)); err != nil {
				return err
			}
			if _, err := balances(t, tx).AdjustTokenBalance(ctx, f.user.ID, j.SignedAmount()); err != nil {
				return err
			}
			if _, err := balances(t, tx).AdjustChainStubBalance(ctx, f.user.ID, j.SignedAmount()); err != nil {
				return err
			}
		}
		return tx.InsertJob(ctx, pending)
	}))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		_, err := balances(t, tx).AdjustTokenBalance(ctx, f.user.ID, -501)
		return err
	})
	assert.Error(t, err)

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		tb, err := r.GetTokenBalance(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(500), tb.BalanceUnits)

		totals, err := r.Totals(ctx)
		require.NoError(t, err)
		assert.Equal(t, store.Totals{
			MintsUnits:        700,
			BurnsUnits:        200,
			TokenBalanceUnits: 500,
			ChainStubUnits:    500,
			LedgerUserUnits:   500,
		}, totals)

		entries, err := r.ListLedgerEntriesByRef(ctx, burn.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
		return nil
	}))
}

func testPayouts(t *testing.T, st store.Store) {
	ctx := context.Background()
	f := seed(t, st)
	burn := newJob(f, domain.JobBurn, 100, "burn-1")
	p := &domain.PayoutJob{
		ID: uuid.New(), ChainJobID: burn.ID, UserID: f.user.ID,
		AmountPKR: decimal.RequireFromString("0.01"), Status: domain.PayoutPending,
		CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertJob(ctx, burn); err != nil {
			return err
		}
		return tx.InsertPayout(ctx, p)
	}))

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		done := *p
		done.Status = domain.PayoutFailed
		done.UpdatedAt = t0.Add(time.Minute)
		return tx.UpdatePayoutOutcome(ctx, &done)
	}))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		again := *p
		again.Status = domain.PayoutSuccess
		return tx.UpdatePayoutOutcome(ctx, &again)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		got, err := r.GetPayoutByJob(ctx, burn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutFailed, got.Status)
		assert.True(t, got.AmountPKR.Equal(decimal.RequireFromString("0.01")))

		totals, err := r.Totals(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), totals.FailedPayouts)
		assert.Zero(t, totals.PendingPayouts)
		return nil
	}))
}

func testLists(t *testing.T, st store.Store) {
	ctx := context.Background()
	f := seed(t, st)

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		for _, ptx := range []string{"TX-1", "TX-2", "TX-3"} {
			et := newExternal(f, ptx, "1")
			if _, err := tx.InsertExternalTransaction(ctx, et); err != nil {
				return err
			}
		}
		for i, units := range []int64{1, 2} {
			run := &domain.ReconciliationRun{ID: uuid.New(), NetUnits: units, Match: i == 1, CreatedAt: t0.Add(time.Duration(i) * time.Second)}
			if err := tx.InsertReconciliationRun(ctx, run); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, st.View(ctx, func(r store.Reader) error {
		txs, err := r.ListExternalTransactions(ctx, 2)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, "TX-3", txs[0].ProviderTxID)
		assert.Equal(t, "TX-2", txs[1].ProviderTxID)

		runs, err := r.ListReconciliationRuns(ctx, 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, int64(2), runs[0].NetUnits)
		assert.True(t, runs[0].Match)

		entries, err := r.ListLedgerEntries(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}

func TestTx_DoesNotExposeBalanceWriter(t *testing.T) {
	txType := reflect.TypeOf((*store.Tx)(nil)).Elem()
	for _, name := range []string{"AdjustTokenBalance", "AdjustChainStubBalance"} {
		_, ok := txType.MethodByName(name)
		assert.False(t, ok, "store.Tx exposes %s", name)
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, store.DefaultListLimit, store.ClampLimit(0))
	assert.Equal(t, store.DefaultListLimit, store.ClampLimit(-3))
	assert.Equal(t, 7, store.ClampLimit(7))
	assert.Equal(t, store.MaxListLimit, store.ClampLimit(10_000))
}
