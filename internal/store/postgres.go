package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate applies the embedded schema through a database/sql view of the pool.
func (p *Postgres) Migrate() error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()
	return RunMigrations(db)
}

// WithTx uses READ COMMITTED. Contended state is serialized by row locks
// (FOR UPDATE) and unique constraints, and each statement sees rows
// committed by a concurrent winner.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{pgReader{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (p *Postgres) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(pgReader{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func noRows(err error, what string, key any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(what, key)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

type pgReader struct {
	q pgx.Tx
}

const userColumns = "id, email, display_name, COALESCE(chain_address, ''), created_at"

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.ChainAddress, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r pgReader) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
	if err != nil {
		return nil, noRows(err, "user", email)
	}
	return u, nil
}

func (r pgReader) GetUserByChainAddress(ctx context.Context, address string) (*domain.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE chain_address = $1", address))
	if err != nil {
		return nil, noRows(err, "user with address", address)
	}
	return u, nil
}

func (r pgReader) GetWalletAccount(ctx context.Context, userID uuid.UUID) (*domain.WalletAccount, error) {
	var wa domain.WalletAccount
	err := r.q.QueryRow(ctx,
		"SELECT id, user_id, provider, provider_acct, created_at FROM wallet_accounts WHERE user_id = $1",
		userID,
	).Scan(&wa.ID, &wa.UserID, &wa.Provider, &wa.ProviderAcct, &wa.CreatedAt)
	if err != nil {
		return nil, noRows(err, "wallet account for user", userID)
	}
	return &wa, nil
}

func (r pgReader) GetTokenBalance(ctx context.Context, userID uuid.UUID) (*domain.TokenBalance, error) {
	tb := domain.TokenBalance{UserID: userID}
	err := r.q.QueryRow(ctx,
		"SELECT balance_units, updated_at FROM token_balances WHERE user_id = $1", userID,
	).Scan(&tb.BalanceUnits, &tb.UpdatedAt)
	if err != nil {
		return nil, noRows(err, "token balance for user", userID)
	}
	return &tb, nil
}

func (r pgReader) GetChainStubBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var v int64
	err := r.q.QueryRow(ctx, "SELECT balance_units FROM chain_stub_balances WHERE user_id = $1", userID).Scan(&v)
	if err != nil {
		return 0, noRows(err, "chain stub balance for user", userID)
	}
	return v, nil
}

func (r pgReader) GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec := domain.IdempotencyRecord{Key: key}
	err := r.q.QueryRow(ctx,
		"SELECT scope, request_hash, job_id, created_at FROM idempotency_keys WHERE key = $1", key,
	).Scan(&rec.Scope, &rec.RequestHash, &rec.JobID, &rec.CreatedAt)
	if err != nil {
		return nil, noRows(err, "idempotency key", key)
	}
	return &rec, nil
}

const jobColumns = `id, user_id, job_type, amount_units, status, idempotency_key, request_hash,
	tx_hash, memo, ref_external_tx_id, ref_onchain_event_id, created_at, confirmed_at`

func scanJob(row pgx.Row) (*domain.ChainJob, error) {
	var j domain.ChainJob
	err := row.Scan(&j.ID, &j.UserID, &j.JobType, &j.AmountUnits, &j.Status, &j.IdempotencyKey, &j.RequestHash,
		&j.TxHash, &j.Memo, &j.RefExternalTxID, &j.RefOnchainEventID, &j.CreatedAt, &j.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r pgReader) GetJob(ctx context.Context, id uuid.UUID) (*domain.ChainJob, error) {
	j, err := scanJob(r.q.QueryRow(ctx, "SELECT "+jobColumns+" FROM chain_jobs WHERE id = $1", id))
	if err != nil {
		return nil, noRows(err, "job", id)
	}
	return j, nil
}

func (r pgReader) GetOpenMintJob(ctx context.Context, externalTxID uuid.UUID) (*domain.ChainJob, error) {
	j, err := scanJob(r.q.QueryRow(ctx,
		"SELECT "+jobColumns+` FROM chain_jobs
		 WHERE ref_external_tx_id = $1 AND job_type = 'mint' AND status <> 'FAILED'
		 ORDER BY seq DESC LIMIT 1`, externalTxID))
	if err != nil {
		return nil, noRows(err, "open mint job for external transaction", externalTxID)
	}
	return j, nil
}

const externalColumns = `id, wallet_account_id, user_id, provider_tx_id, direction, amount_pkr::text,
	memo, status, occurred_at, recorded_at`

func scanExternal(row pgx.Row) (*domain.ExternalTransaction, error) {
	var et domain.ExternalTransaction
	var amount string
	err := row.Scan(&et.ID, &et.WalletAccountID, &et.UserID, &et.ProviderTxID, &et.Direction, &amount,
		&et.Memo, &et.Status, &et.OccurredAt, &et.RecordedAt)
	if err != nil {
		return nil, err
	}
	if et.AmountPKR, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount_pkr %q: %w", amount, err)
	}
	return &et, nil
}

func (r pgReader) GetExternalTransaction(ctx context.Context, providerTxID string) (*domain.ExternalTransaction, error) {
	et, err := scanExternal(r.q.QueryRow(ctx,
		"SELECT "+externalColumns+" FROM external_transactions WHERE provider_tx_id = $1", providerTxID))
	if err != nil {
		return nil, noRows(err, "external transaction", providerTxID)
	}
	return et, nil
}

func (r pgReader) GetOnchainEvent(ctx context.Context, txid string, eventIndex int) (*domain.OnchainEvent, error) {
	var ev domain.OnchainEvent
	err := r.q.QueryRow(ctx,
		`SELECT id, txid, event_index, type, user_address, amount_units, asset, created_at
		 FROM onchain_events WHERE txid = $1 AND event_index = $2`, txid, eventIndex,
	).Scan(&ev.ID, &ev.TxID, &ev.EventIndex, &ev.Type, &ev.UserAddress, &ev.AmountUnits, &ev.Asset, &ev.CreatedAt)
	if err != nil {
		return nil, noRows(err, "onchain event", onchainKey(txid, eventIndex))
	}
	return &ev, nil
}

func (r pgReader) GetPayoutByJob(ctx context.Context, chainJobID uuid.UUID) (*domain.PayoutJob, error) {
	var p domain.PayoutJob
	var amount string
	err := r.q.QueryRow(ctx,
		`SELECT id, chain_job_id, onchain_event_id, user_id, amount_pkr::text, status, payout_ref, created_at, updated_at
		 FROM payout_jobs WHERE chain_job_id = $1`, chainJobID,
	).Scan(&p.ID, &p.ChainJobID, &p.OnchainEventID, &p.UserID, &amount, &p.Status, &p.PayoutRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, noRows(err, "payout for job", chainJobID)
	}
	if p.AmountPKR, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse payout amount %q: %w", amount, err)
	}
	return &p, nil
}

const entryColumns = "id, user_id, side, account, amount_units, ref_type, ref_id, created_at"

func (r pgReader) queryEntries(ctx context.Context, sql string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Side, &e.Account, &e.AmountUnits, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r pgReader) ListLedgerEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	return r.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries ORDER BY seq DESC LIMIT $1", ClampLimit(limit))
}

func (r pgReader) ListLedgerEntriesByRef(ctx context.Context, refID uuid.UUID) ([]domain.LedgerEntry, error) {
	return r.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE ref_id = $1 ORDER BY seq", refID)
}

func (r pgReader) ListExternalTransactions(ctx context.Context, limit int) ([]domain.ExternalTransaction, error) {
	rows, err := r.q.Query(ctx,
		"SELECT "+externalColumns+" FROM external_transactions ORDER BY seq DESC LIMIT $1", ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query external transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExternalTransaction
	for rows.Next() {
		et, err := scanExternal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan external transaction: %w", err)
		}
		out = append(out, *et)
	}
	return out, rows.Err()
}

func (r pgReader) ListJobs(ctx context.Context, limit int) ([]domain.ChainJob, error) {
	rows, err := r.q.Query(ctx, "SELECT "+jobColumns+" FROM chain_jobs ORDER BY seq DESC LIMIT $1", ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ChainJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r pgReader) ListReconciliationRuns(ctx context.Context, limit int) ([]domain.ReconciliationRun, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, mints_units_total, burns_units_total, net_units, token_balance_units, chain_stub_units,
		        ledger_user_units, failed_payouts, pending_payouts, matched, created_at
		 FROM reconciliation_runs ORDER BY seq DESC LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var out []domain.ReconciliationRun
	for rows.Next() {
		var run domain.ReconciliationRun
		if err := rows.Scan(&run.ID, &run.MintsUnitsTotal, &run.BurnsUnitsTotal, &run.NetUnits, &run.TokenBalanceUnits,
			&run.ChainStubUnits, &run.LedgerUserUnits, &run.FailedPayouts, &run.PendingPayouts, &run.Match, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r pgReader) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := r.q.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount_units) FROM chain_jobs WHERE status = 'CONFIRMED' AND job_type = 'mint'), 0)::BIGINT,
			COALESCE((SELECT SUM(amount_units) FROM chain_jobs WHERE status = 'CONFIRMED' AND job_type = 'burn'), 0)::BIGINT,
			COALESCE((SELECT SUM(balance_units) FROM token_balances), 0)::BIGINT,
			COALESCE((SELECT SUM(balance_units) FROM chain_stub_balances), 0)::BIGINT,
			COALESCE((SELECT SUM(CASE WHEN side = 'debit' THEN amount_units ELSE -amount_units END)
			          FROM ledger_entries WHERE account = 'user_token'), 0)::BIGINT,
			(SELECT COUNT(*) FROM payout_jobs WHERE status = 'FAILED'),
			(SELECT COUNT(*) FROM payout_jobs WHERE status = 'PENDING')`,
	).Scan(&t.MintsUnits, &t.BurnsUnits, &t.TokenBalanceUnits, &t.ChainStubUnits, &t.LedgerUserUnits,
		&t.FailedPayouts, &t.PendingPayouts)
	if err != nil {
		return Totals{}, fmt.Errorf("compute totals: %w", err)
	}
	return t, nil
}

type pgTx struct {
	pgReader
}

func (t *pgTx) InsertUser(ctx context.Context, u *domain.User) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO users (id, email, display_name, chain_address, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		 ON CONFLICT (email) DO NOTHING`,
		u.ID, u.Email, u.DisplayName, u.ChainAddress, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("chain address %s already assigned: %w", u.ChainAddress, err)
		}
		return false, fmt.Errorf("insert user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertWalletAccount(ctx context.Context, wa *domain.WalletAccount) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO wallet_accounts (id, user_id, provider, provider_acct, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		wa.ID, wa.UserID, wa.Provider, wa.ProviderAcct, wa.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert wallet account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) EnsureBalances(ctx context.Context, userID uuid.UUID, at time.Time) error {
	if _, err := t.q.Exec(ctx,
		"INSERT INTO token_balances (user_id, balance_units, updated_at) VALUES ($1, 0, $2) ON CONFLICT DO NOTHING",
		userID, at); err != nil {
		return fmt.Errorf("ensure token balance: %w", err)
	}
	if _, err := t.q.Exec(ctx,
		"INSERT INTO chain_stub_balances (user_id, balance_units, updated_at) VALUES ($1, 0, $2) ON CONFLICT DO NOTHING",
		userID, at); err != nil {
		return fmt.Errorf("ensure chain stub balance: %w", err)
	}
	return nil
}

// ClaimIdempotencyKey is the reservation step. Under READ COMMITTED a
// concurrent claim of the same key blocks until the holder finishes; if
// it committed, this returns false and the caller reads the winner's row.
func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO idempotency_keys (key, scope, request_hash, job_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO NOTHING`,
		rec.Key, rec.Scope, rec.RequestHash, rec.JobID, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("key reservation failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertExternalTransaction(ctx context.Context, et *domain.ExternalTransaction) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO external_transactions
		   (id, wallet_account_id, user_id, provider_tx_id, direction, amount_pkr, memo, status, occurred_at, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
		 ON CONFLICT (provider_tx_id) DO NOTHING`,
		et.ID, et.WalletAccountID, et.UserID, et.ProviderTxID, et.Direction, et.AmountPKR.String(),
		et.Memo, et.Status, et.OccurredAt, et.RecordedAt)
	if err != nil {
		return false, fmt.Errorf("insert external transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) LockExternalTransaction(ctx context.Context, providerTxID string) (*domain.ExternalTransaction, error) {
	et, err := scanExternal(t.q.QueryRow(ctx,
		"SELECT "+externalColumns+" FROM external_transactions WHERE provider_tx_id = $1 FOR UPDATE", providerTxID))
	if err != nil {
		return nil, noRows(err, "external transaction", providerTxID)
	}
	return et, nil
}

func (t *pgTx) MarkExternalTransactionMinted(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx,
		"UPDATE external_transactions SET status = 'MINTED' WHERE id = $1 AND status = 'RECEIVED'", id)
	if err != nil {
		return fmt.Errorf("mark external transaction minted: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.Errorf(domain.ErrInvalidTransition, "external transaction %s is not RECEIVED", id)
	}
	return nil
}

func (t *pgTx) InsertOnchainEvent(ctx context.Context, ev *domain.OnchainEvent) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO onchain_events (id, txid, event_index, type, user_address, amount_units, asset, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (txid, event_index) DO NOTHING`,
		ev.ID, ev.TxID, ev.EventIndex, ev.Type, ev.UserAddress, ev.AmountUnits, ev.Asset, ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert onchain event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertJob(ctx context.Context, j *domain.ChainJob) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO chain_jobs (id, user_id, job_type, amount_units, status, idempotency_key, request_hash,
		   tx_hash, memo, ref_external_tx_id, ref_onchain_event_id, created_at, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		j.ID, j.UserID, j.JobType, j.AmountUnits, j.Status, j.IdempotencyKey, j.RequestHash,
		j.TxHash, j.Memo, j.RefExternalTxID, j.RefOnchainEventID, j.CreatedAt, j.ConfirmedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Errorf(domain.ErrIdempotencyConflict, "job with key %q already exists", j.IdempotencyKey)
		}
		return fmt.Errorf("job insert failed: %w", err)
	}
	return nil
}

func (t *pgTx) LockJob(ctx context.Context, id uuid.UUID) (*domain.ChainJob, error) {
	j, err := scanJob(t.q.QueryRow(ctx, "SELECT "+jobColumns+" FROM chain_jobs WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, noRows(err, "job", id)
	}
	return j, nil
}

func (t *pgTx) UpdateJobOutcome(ctx context.Context, j *domain.ChainJob) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE chain_jobs SET status = $2, tx_hash = $3, confirmed_at = $4
		 WHERE id = $1 AND status = 'PENDING'`,
		j.ID, j.Status, j.TxHash, j.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.Errorf(domain.ErrInvalidTransition, "job %s is no longer PENDING", j.ID)
	}
	return nil
}

func (t *pgTx) InsertLedgerEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO ledger_entries (id, user_id, side, account, amount_units, ref_type, ref_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.UserID, e.Side, e.Account, e.AmountUnits, e.RefType, e.RefID, e.CreatedAt)
	}
	if err := t.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

func (t *pgTx) LockTokenBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := t.q.QueryRow(ctx, "SELECT balance_units FROM token_balances WHERE user_id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		return 0, noRows(err, "token balance for user", userID)
	}
	return balance, nil
}

var _ BalanceWriter = (*pgTx)(nil)

func (t *pgTx) AdjustTokenBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	var balance int64
	err := t.q.QueryRow(ctx,
		`UPDATE token_balances SET balance_units = balance_units + $2, updated_at = NOW()
		 WHERE user_id = $1 RETURNING balance_units`, userID, delta,
	).Scan(&balance)
	if err != nil {
		return 0, noRows(err, "token balance for user", userID)
	}
	return balance, nil
}

func (t *pgTx) AdjustChainStubBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	var balance int64
	err := t.q.QueryRow(ctx,
		`UPDATE chain_stub_balances SET balance_units = balance_units + $2, updated_at = NOW()
		 WHERE user_id = $1 RETURNING balance_units`, userID, delta,
	).Scan(&balance)
	if err != nil {
		return 0, noRows(err, "chain stub balance for user", userID)
	}
	return balance, nil
}

func (t *pgTx) InsertPayout(ctx context.Context, p *domain.PayoutJob) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO payout_jobs (id, chain_job_id, onchain_event_id, user_id, amount_pkr, status, payout_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)`,
		p.ID, p.ChainJobID, p.OnchainEventID, p.UserID, p.AmountPKR.String(), p.Status, p.PayoutRef, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (t *pgTx) UpdatePayoutOutcome(ctx context.Context, p *domain.PayoutJob) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE payout_jobs SET status = $2, payout_ref = $3, updated_at = $4
		 WHERE chain_job_id = $1 AND status = 'PENDING'`,
		p.ChainJobID, p.Status, p.PayoutRef, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.Errorf(domain.ErrInvalidTransition, "payout for job %s is no longer PENDING", p.ChainJobID)
	}
	return nil
}

func (t *pgTx) InsertReconciliationRun(ctx context.Context, run *domain.ReconciliationRun) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO reconciliation_runs (id, mints_units_total, burns_units_total, net_units, token_balance_units,
		   chain_stub_units, ledger_user_units, failed_payouts, pending_payouts, matched, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.MintsUnitsTotal, run.BurnsUnitsTotal, run.NetUnits, run.TokenBalanceUnits,
		run.ChainStubUnits, run.LedgerUserUnits, run.FailedPayouts, run.PendingPayouts, run.Match, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reconciliation run: %w", err)
	}
	return nil
}
