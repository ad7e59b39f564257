package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/alert"
	"github.com/punchamoorthee/pkrsettle/internal/chain"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/punchamoorthee/pkrsettle/internal/idempotency"
	"github.com/punchamoorthee/pkrsettle/internal/metrics"
	"github.com/punchamoorthee/pkrsettle/internal/normalizer"
	"github.com/punchamoorthee/pkrsettle/internal/store"
	"github.com/punchamoorthee/pkrsettle/internal/units"
	"go.uber.org/zap"
)

type burnRequest struct {
	user        *domain.User
	amountUnits int64
	key         string
	fingerprint string
	memo        string
	// Set for burns observed on chain; the receipt is the event itself.
	onchainEventID *uuid.UUID
	chainTxHash    string
}

// Redeem burns amountUnits of the demo user's tokens and pays the PKR
// equivalent out to their wallet. key is the client's Idempotency-Key.
func (s *Service) Redeem(ctx context.Context, amountUnits int64, memo, key string) (*JobResult, error) {
	key, err := idempotency.ClientKey(key)
	if err != nil {
		return nil, err
	}
	ev, err := normalizer.Redeem(s.opts.DemoUserEmail, amountUnits, memo, s.now())
	if err != nil {
		return nil, err
	}

	var res *JobResult
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		user, err := s.demoUser(ctx, tx)
		if err != nil {
			return err
		}
		res, err = s.burnLocked(ctx, tx, burnRequest{
			user:        user,
			amountUnits: ev.AmountUnits,
			key:         key,
			fingerprint: idempotency.RedeemFingerprint(user.ID, ev.AmountUnits),
			memo:        ev.Memo,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.settlePayout(ctx, res); err != nil {
		return nil, err
	}
	s.logJob("redeem", res)
	return res, nil
}

func (s *Service) burnLocked(ctx context.Context, tx store.Tx, req burnRequest) (*JobResult, error) {
	jobID, replay, err := s.claim(ctx, tx, req.key, req.fingerprint)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		metrics.Replays.WithLabelValues("burn").Inc()
		return replay, nil
	}

	if req.amountUnits <= 0 {
		return nil, domain.Errorf(domain.ErrAmountOutOfRange, "amount_units must be positive, got %d", req.amountUnits)
	}
	if pkr := s.units.UnitsToPKR(req.amountUnits); exceeds(pkr, s.opts.MaxSinglePayoutPKR) {
		return nil, domain.Errorf(domain.ErrCeilingExceeded, "payout of %s PKR exceeds ceiling %s", pkr, s.opts.MaxSinglePayoutPKR)
	}

	balance, err := tx.LockTokenBalance(ctx, req.user.ID)
	if err != nil {
		return nil, fmt.Errorf("lock token balance: %w", err)
	}
	if req.amountUnits > balance {
		return nil, domain.Errorf(domain.ErrInsufficientBalance, "balance %d < %d", balance, req.amountUnits)
	}

	job := &domain.ChainJob{
		ID:                jobID,
		UserID:            req.user.ID,
		JobType:           domain.JobBurn,
		AmountUnits:       req.amountUnits,
		Status:            domain.JobPending,
		IdempotencyKey:    req.key,
		RequestHash:       req.fingerprint,
		Memo:              req.memo,
		RefOnchainEventID: req.onchainEventID,
		CreatedAt:         s.now(),
	}
	var receipt *chain.Receipt
	if req.chainTxHash != "" {
		receipt = &chain.Receipt{TxHash: req.chainTxHash, Status: domain.JobConfirmed}
	}
	if err := s.submit(ctx, tx, job, receipt); err != nil {
		return nil, err
	}

	res := &JobResult{Job: *job}
	if job.Status == domain.JobConfirmed {
		if res.Payout, err = s.openPayout(ctx, tx, job); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// openPayout records the PENDING payout for a confirmed burn. It is written
// in the burn's transaction and settled after commit.
func (s *Service) openPayout(ctx context.Context, tx store.Tx, job *domain.ChainJob) (*domain.PayoutJob, error) {
	now := s.now()
	p := &domain.PayoutJob{
		ID:             uuid.New(),
		ChainJobID:     job.ID,
		OnchainEventID: job.RefOnchainEventID,
		UserID:         job.UserID,
		AmountPKR:      s.units.UnitsToPayoutPKR(job.AmountUnits),
		Status:         domain.PayoutPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.InsertPayout(ctx, p); err != nil {
		return nil, fmt.Errorf("insert payout: %w", err)
	}
	return p, nil
}

// settlePayout pays out a freshly opened PENDING payout through the wallet
// provider and records the outcome. A provider failure leaves the burn
// final and the payout FAILED; only store errors are returned.
func (s *Service) settlePayout(ctx context.Context, res *JobResult) error {
	if res.Replayed || res.Payout == nil || res.Payout.Status != domain.PayoutPending {
		return nil
	}
	p := res.Payout

	var acct string
	if err := s.store.View(ctx, func(r store.Reader) error {
		wa, err := r.GetWalletAccount(ctx, p.UserID)
		if err != nil {
			return err
		}
		acct = wa.ProviderAcct
		return nil
	}); err != nil {
		return fmt.Errorf("load wallet account: %w", err)
	}

	p.Status = domain.PayoutSuccess
	var payErr error
	if p.AmountPKR.IsPositive() {
		p.PayoutRef, payErr = s.bank.Debit(ctx, acct, p.AmountPKR, res.Job.Memo)
		if payErr != nil {
			p.Status = domain.PayoutFailed
			p.PayoutRef = ""
		}
	}
	p.UpdatedAt = s.now()

	// The outcome is recorded even when the request context is gone.
	bg := context.WithoutCancel(ctx)
	if err := s.store.WithTx(bg, func(tx store.Tx) error {
		return tx.UpdatePayoutOutcome(bg, p)
	}); err != nil {
		return fmt.Errorf("record payout outcome: %w", err)
	}
	metrics.Payouts.WithLabelValues(string(p.Status)).Inc()

	if payErr != nil {
		s.log.Error("payout failed",
			zap.String("job_id", res.Job.ID.String()),
			zap.String("payout_id", p.ID.String()),
			zap.String("amount_pkr", units.FormatPKR(p.AmountPKR)),
			zap.Error(payErr))
		if err := s.alerts.Send(bg, alert.Alert{
			Type:    alert.TypePayoutFailed,
			Title:   "payout failed after confirmed burn",
			Message: payErr.Error(),
			Fields: map[string]string{
				"job_id":     res.Job.ID.String(),
				"payout_id":  p.ID.String(),
				"amount_pkr": units.FormatPKR(p.AmountPKR),
			},
		}); err != nil {
			s.log.Warn("payout alert not delivered", zap.Error(err))
		}
	}
	return nil
}

// FeedResult counts what happened to each event of one chain feed delivery.
type FeedResult struct {
	Received   int          `json:"received"`
	Recorded   int          `json:"recorded"`
	Duplicates int          `json:"duplicates"`
	Burns      int          `json:"burns"`
	Errors     []EventError `json:"errors,omitempty"`
}

type EventError struct {
	Ref     string      `json:"ref"`
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

// IngestChainEvents records each event and runs the burn path for burns of
// the configured asset by a known address. Each event commits or rolls back
// on its own.
func (s *Service) IngestChainEvents(ctx context.Context, events []domain.SettlementEvent) (*FeedResult, error) {
	out := &FeedResult{Received: len(events)}
	for _, ev := range events {
		outcome, res, err := s.ingestChainEvent(ctx, ev)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			metrics.Events.WithLabelValues(string(domain.SourceChain), "error").Inc()
			s.log.Warn("chain event rejected", zap.String("ref", ev.ExternalRef), zap.Error(err))
			out.Errors = append(out.Errors, EventError{Ref: ev.ExternalRef, Code: domain.CodeOf(err), Message: err.Error()})
			continue
		}
		metrics.Events.WithLabelValues(string(domain.SourceChain), outcome).Inc()
		switch outcome {
		case "duplicate":
			out.Duplicates++
		case "burn":
			out.Recorded++
			out.Burns++
			if err := s.settlePayout(ctx, res); err != nil {
				return out, err
			}
			s.logJob("chain burn", res)
		default:
			out.Recorded++
		}
	}
	return out, nil
}

func (s *Service) ingestChainEvent(ctx context.Context, ev domain.SettlementEvent) (string, *JobResult, error) {
	outcome := "recorded"
	var res *JobResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		rec := &domain.OnchainEvent{
			ID:          uuid.New(),
			TxID:        ev.TxID,
			EventIndex:  ev.EventIndex,
			Type:        ev.Type,
			UserAddress: ev.Subject,
			AmountUnits: ev.AmountUnits,
			Asset:       ev.Asset,
			CreatedAt:   s.now(),
		}
		inserted, err := tx.InsertOnchainEvent(ctx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			prior, err := tx.GetOnchainEvent(ctx, ev.TxID, ev.EventIndex)
			if err != nil {
				return err
			}
			if prior.Type != rec.Type || prior.AmountUnits != rec.AmountUnits || prior.UserAddress != rec.UserAddress {
				return domain.Errorf(domain.ErrIdempotencyConflict, "chain event %s redelivered with different content", ev.ExternalRef)
			}
			outcome = "duplicate"
			return nil
		}

		if ev.Type != string(domain.JobBurn) || (ev.Asset != "" && !strings.EqualFold(ev.Asset, s.opts.TokenSymbol)) {
			return nil
		}
		user, err := tx.GetUserByChainAddress(ctx, ev.Subject)
		if errors.Is(err, domain.ErrNotFound) {
			outcome = "unmatched"
			return nil
		}
		if err != nil {
			return err
		}

		evID := rec.ID
		res, err = s.burnLocked(ctx, tx, burnRequest{
			user:           user,
			amountUnits:    ev.AmountUnits,
			key:            idempotency.ChainKey(ev.TxID, ev.EventIndex),
			fingerprint:    idempotency.ChainFingerprint(ev.TxID, ev.EventIndex, ev.Type, ev.Subject, ev.AmountUnits),
			memo:           ev.Memo,
			onchainEventID: &evID,
			chainTxHash:    ev.TxID,
		})
		if err != nil {
			return err
		}
		outcome = "burn"
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return outcome, res, nil
}
