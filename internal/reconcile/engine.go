// Package reconcile cross-checks job totals against the cached token
// balance, the chain stub balance and the ledger.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/alert"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/metrics"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"go.uber.org/zap"
)

const summaryExternalLimit = 10

type Engine struct {
	store  store.Store
	alerts alert.Alerter
	log    *zap.Logger
	now    func() time.Time
}

func NewEngine(st store.Store, alerts alert.Alerter, log *zap.Logger) *Engine {
	if alerts == nil {
		alerts = alert.NewLogAlerter(log)
	}
	return &Engine{
		store:  st,
		alerts: alerts,
		log:    log.Named("reconcile"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Compute builds a run from totals. Match holds when net minted units, the
// cached balances, the chain stub and the user side of the ledger agree.
func Compute(t store.Totals, at time.Time) domain.ReconciliationRun {
	net := t.MintsUnits - t.BurnsUnits
	return domain.ReconciliationRun{
		ID:                uuid.New(),
		MintsUnitsTotal:   t.MintsUnits,
		BurnsUnitsTotal:   t.BurnsUnits,
		NetUnits:          net,
		TokenBalanceUnits: t.TokenBalanceUnits,
		ChainStubUnits:    t.ChainStubUnits,
		LedgerUserUnits:   t.LedgerUserUnits,
		FailedPayouts:     t.FailedPayouts,
		PendingPayouts:    t.PendingPayouts,
		Match: net == t.TokenBalanceUnits &&
			t.TokenBalanceUnits == t.ChainStubUnits &&
			t.ChainStubUnits == t.LedgerUserUnits,
		CreatedAt: at,
	}
}

// Run snapshots the totals, persists the run and raises alerts for a
// mismatch or for failed payouts. It changes no balances.
func (e *Engine) Run(ctx context.Context) (*domain.ReconciliationRun, error) {
	var run domain.ReconciliationRun
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.Totals(ctx)
		if err != nil {
			return fmt.Errorf("totals: %w", err)
		}
		run = Compute(t, e.now())
		return tx.InsertReconciliationRun(ctx, &run)
	})
	if err != nil {
		return nil, err
	}

	metrics.TokenSupply.Set(float64(run.NetUnits))
	if run.Match {
		metrics.ReconciliationMatch.Set(1)
	} else {
		metrics.ReconciliationMatch.Set(0)
	}

	fields := runFields(&run)
	if !run.Match {
		e.log.Error("reconciliation mismatch", zap.Any("run", run))
		e.send(ctx, alert.Alert{
			Type:    alert.TypeReconcileMismatch,
			Title:   "reconciliation mismatch",
			Message: "net minted units disagree with cached or chain balances",
			Fields:  fields,
		})
	}
	if run.FailedPayouts > 0 {
		e.send(ctx, alert.Alert{
			Type:    alert.TypePayoutFailed,
			Title:   "failed payouts outstanding",
			Message: fmt.Sprintf("%d confirmed burns have a FAILED payout", run.FailedPayouts),
			Fields:  fields,
		})
	}
	e.log.Info("reconciled",
		zap.Int64("net_units", run.NetUnits),
		zap.Int64("token_balance_units", run.TokenBalanceUnits),
		zap.Bool("match", run.Match))
	return &run, nil
}

func (e *Engine) send(ctx context.Context, a alert.Alert) {
	if err := e.alerts.Send(ctx, a); err != nil {
		e.log.Warn("alert not delivered", zap.String("type", string(a.Type)), zap.Error(err))
	}
}

func runFields(r *domain.ReconciliationRun) map[string]string {
	return map[string]string{
		"run_id":              r.ID.String(),
		"net_units":           strconv.FormatInt(r.NetUnits, 10),
		"token_balance_units": strconv.FormatInt(r.TokenBalanceUnits, 10),
		"chain_stub_units":    strconv.FormatInt(r.ChainStubUnits, 10),
		"ledger_user_units":   strconv.FormatInt(r.LedgerUserUnits, 10),
		"failed_payouts":      strconv.FormatInt(r.FailedPayouts, 10),
	}
}

type Summary struct {
	Run          domain.ReconciliationRun     `json:"totals"`
	LatestRun    *domain.ReconciliationRun    `json:"latest_run,omitempty"`
	LatestExtTxs []domain.ExternalTransaction `json:"external_transactions_latest"`
}

// Summary is a read-only view of the current totals, the last persisted
// run and the newest external transactions.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	out := &Summary{}
	err := e.store.View(ctx, func(r store.Reader) error {
		t, err := r.Totals(ctx)
		if err != nil {
			return fmt.Errorf("totals: %w", err)
		}
		out.Run = Compute(t, e.now())
		out.Run.ID = uuid.Nil

		runs, err := r.ListReconciliationRuns(ctx, 1)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			out.LatestRun = &runs[0]
		}
		out.LatestExtTxs, err = r.ListExternalTransactions(ctx, summaryExternalLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
