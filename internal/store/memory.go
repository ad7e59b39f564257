package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/pkrsettle/internal/domain"
)

// Memory is an in-process Store for tests and single-process demos. Write
// transactions are serialized and work on a copy of the state that replaces
// the live state on commit, so a failed transaction leaves nothing behind.
// Each write copies every table, which makes it O(state) per transaction;
// use Postgres for anything long-lived.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{memReader{work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memReader{m.state})
}

func (m *Memory) Close() {}

type memState struct {
	users        map[uuid.UUID]domain.User
	usersByEmail map[string]uuid.UUID
	usersByAddr  map[string]uuid.UUID
	wallets      map[uuid.UUID]domain.WalletAccount
	balances     map[uuid.UUID]domain.TokenBalance
	chainStub    map[uuid.UUID]int64
	idem         map[string]domain.IdempotencyRecord
	jobs         map[uuid.UUID]domain.ChainJob
	jobKeys      map[string]uuid.UUID
	jobOrder     []uuid.UUID
	external     map[string]domain.ExternalTransaction
	externalIDs  map[uuid.UUID]string
	extOrder     []string
	onchain      map[string]domain.OnchainEvent
	payouts      map[uuid.UUID]domain.PayoutJob
	ledger       []domain.LedgerEntry
	runs         []domain.ReconciliationRun
}

func newMemState() *memState {
	return &memState{
		users:        map[uuid.UUID]domain.User{},
		usersByEmail: map[string]uuid.UUID{},
		usersByAddr:  map[string]uuid.UUID{},
		wallets:      map[uuid.UUID]domain.WalletAccount{},
		balances:     map[uuid.UUID]domain.TokenBalance{},
		chainStub:    map[uuid.UUID]int64{},
		idem:         map[string]domain.IdempotencyRecord{},
		jobs:         map[uuid.UUID]domain.ChainJob{},
		jobKeys:      map[string]uuid.UUID{},
		external:     map[string]domain.ExternalTransaction{},
		externalIDs:  map[uuid.UUID]string{},
		onchain:      map[string]domain.OnchainEvent{},
		payouts:      map[uuid.UUID]domain.PayoutJob{},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		users:        cloneMap(s.users),
		usersByEmail: cloneMap(s.usersByEmail),
		usersByAddr:  cloneMap(s.usersByAddr),
		wallets:      cloneMap(s.wallets),
		balances:     cloneMap(s.balances),
		chainStub:    cloneMap(s.chainStub),
		idem:         cloneMap(s.idem),
		jobs:         cloneMap(s.jobs),
		jobKeys:      cloneMap(s.jobKeys),
		jobOrder:     append([]uuid.UUID(nil), s.jobOrder...),
		external:     cloneMap(s.external),
		externalIDs:  cloneMap(s.externalIDs),
		extOrder:     append([]string(nil), s.extOrder...),
		onchain:      cloneMap(s.onchain),
		payouts:      cloneMap(s.payouts),
		ledger:       append([]domain.LedgerEntry(nil), s.ledger...),
		runs:         append([]domain.ReconciliationRun(nil), s.runs...),
	}
}

func notFound(what string, key any) error {
	return domain.Errorf(domain.ErrNotFound, "%s %v", what, key)
}

func onchainKey(txid string, idx int) string {
	return fmt.Sprintf("%s:%d", txid, idx)
}

type memReader struct {
	s *memState
}

func (r memReader) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	id, ok := r.s.usersByEmail[email]
	if !ok {
		return nil, notFound("user", email)
	}
	u := r.s.users[id]
	return &u, nil
}

func (r memReader) GetUserByChainAddress(_ context.Context, address string) (*domain.User, error) {
	id, ok := r.s.usersByAddr[address]
	if !ok {
		return nil, notFound("user with address", address)
	}
	u := r.s.users[id]
	return &u, nil
}

func (r memReader) GetWalletAccount(_ context.Context, userID uuid.UUID) (*domain.WalletAccount, error) {
	wa, ok := r.s.wallets[userID]
	if !ok {
		return nil, notFound("wallet account for user", userID)
	}
	return &wa, nil
}

func (r memReader) GetTokenBalance(_ context.Context, userID uuid.UUID) (*domain.TokenBalance, error) {
	tb, ok := r.s.balances[userID]
	if !ok {
		return nil, notFound("token balance for user", userID)
	}
	return &tb, nil
}

func (r memReader) GetChainStubBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	v, ok := r.s.chainStub[userID]
	if !ok {
		return 0, notFound("chain stub balance for user", userID)
	}
	return v, nil
}

func (r memReader) GetIdempotencyRecord(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, ok := r.s.idem[key]
	if !ok {
		return nil, notFound("idempotency key", key)
	}
	return &rec, nil
}

func (r memReader) GetJob(_ context.Context, id uuid.UUID) (*domain.ChainJob, error) {
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	return &j, nil
}

func (r memReader) GetOpenMintJob(_ context.Context, externalTxID uuid.UUID) (*domain.ChainJob, error) {
	for i := len(r.s.jobOrder) - 1; i >= 0; i-- {
		j := r.s.jobs[r.s.jobOrder[i]]
		if j.JobType == domain.JobMint && j.Status != domain.JobFailed &&
			j.RefExternalTxID != nil && *j.RefExternalTxID == externalTxID {
			return &j, nil
		}
	}
	return nil, notFound("open mint job for external transaction", externalTxID)
}

func (r memReader) GetExternalTransaction(_ context.Context, providerTxID string) (*domain.ExternalTransaction, error) {
	et, ok := r.s.external[providerTxID]
	if !ok {
		return nil, notFound("external transaction", providerTxID)
	}
	return &et, nil
}

func (r memReader) GetOnchainEvent(_ context.Context, txid string, eventIndex int) (*domain.OnchainEvent, error) {
	ev, ok := r.s.onchain[onchainKey(txid, eventIndex)]
	if !ok {
		return nil, notFound("onchain event", onchainKey(txid, eventIndex))
	}
	return &ev, nil
}

func (r memReader) GetPayoutByJob(_ context.Context, chainJobID uuid.UUID) (*domain.PayoutJob, error) {
	p, ok := r.s.payouts[chainJobID]
	if !ok {
		return nil, notFound("payout for job", chainJobID)
	}
	return &p, nil
}

func (r memReader) ListLedgerEntries(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	limit = ClampLimit(limit)
	out := make([]domain.LedgerEntry, 0, limit)
	for i := len(r.s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.s.ledger[i])
	}
	return out, nil
}

func (r memReader) ListLedgerEntriesByRef(_ context.Context, refID uuid.UUID) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range r.s.ledger {
		if e.RefID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memReader) ListExternalTransactions(_ context.Context, limit int) ([]domain.ExternalTransaction, error) {
	limit = ClampLimit(limit)
	out := make([]domain.ExternalTransaction, 0, limit)
	for i := len(r.s.extOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.s.external[r.s.extOrder[i]])
	}
	return out, nil
}

func (r memReader) ListJobs(_ context.Context, limit int) ([]domain.ChainJob, error) {
	limit = ClampLimit(limit)
	out := make([]domain.ChainJob, 0, limit)
	for i := len(r.s.jobOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.s.jobs[r.s.jobOrder[i]])
	}
	return out, nil
}

func (r memReader) ListReconciliationRuns(_ context.Context, limit int) ([]domain.ReconciliationRun, error) {
	limit = ClampLimit(limit)
	out := make([]domain.ReconciliationRun, 0, limit)
	for i := len(r.s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.s.runs[i])
	}
	return out, nil
}

func (r memReader) Totals(_ context.Context) (Totals, error) {
	var t Totals
	for _, j := range r.s.jobs {
		if j.Status != domain.JobConfirmed {
			continue
		}
		switch j.JobType {
		case domain.JobMint:
			t.MintsUnits += j.AmountUnits
		case domain.JobBurn:
			t.BurnsUnits += j.AmountUnits
		}
	}
	for _, b := range r.s.balances {
		t.TokenBalanceUnits += b.BalanceUnits
	}
	for _, v := range r.s.chainStub {
		t.ChainStubUnits += v
	}
	for _, e := range r.s.ledger {
		if e.Account == domain.AccountUserToken {
			t.LedgerUserUnits += e.Signed()
		}
	}
	for _, p := range r.s.payouts {
		switch p.Status {
		case domain.PayoutFailed:
			t.FailedPayouts++
		case domain.PayoutPending:
			t.PendingPayouts++
		}
	}
	return t, nil
}

type memTx struct {
	memReader
}

func (t *memTx) InsertUser(_ context.Context, u *domain.User) (bool, error) {
	if _, ok := t.s.usersByEmail[u.Email]; ok {
		return false, nil
	}
	if u.ChainAddress != "" {
		if _, ok := t.s.usersByAddr[u.ChainAddress]; ok {
			return false, fmt.Errorf("chain address %s already assigned", u.ChainAddress)
		}
		t.s.usersByAddr[u.ChainAddress] = u.ID
	}
	t.s.users[u.ID] = *u
	t.s.usersByEmail[u.Email] = u.ID
	return true, nil
}

func (t *memTx) InsertWalletAccount(_ context.Context, wa *domain.WalletAccount) (bool, error) {
	if _, ok := t.s.wallets[wa.UserID]; ok {
		return false, nil
	}
	t.s.wallets[wa.UserID] = *wa
	return true, nil
}

func (t *memTx) EnsureBalances(_ context.Context, userID uuid.UUID, at time.Time) error {
	if _, ok := t.s.balances[userID]; !ok {
		t.s.balances[userID] = domain.TokenBalance{UserID: userID, UpdatedAt: at}
	}
	if _, ok := t.s.chainStub[userID]; !ok {
		t.s.chainStub[userID] = 0
	}
	return nil
}

func (t *memTx) ClaimIdempotencyKey(_ context.Context, rec domain.IdempotencyRecord) (bool, error) {
	if _, ok := t.s.idem[rec.Key]; ok {
		return false, nil
	}
	t.s.idem[rec.Key] = rec
	return true, nil
}

func (t *memTx) InsertExternalTransaction(_ context.Context, et *domain.ExternalTransaction) (bool, error) {
	if _, ok := t.s.external[et.ProviderTxID]; ok {
		return false, nil
	}
	t.s.external[et.ProviderTxID] = *et
	t.s.externalIDs[et.ID] = et.ProviderTxID
	t.s.extOrder = append(t.s.extOrder, et.ProviderTxID)
	return true, nil
}

func (t *memTx) LockExternalTransaction(ctx context.Context, providerTxID string) (*domain.ExternalTransaction, error) {
	return t.GetExternalTransaction(ctx, providerTxID)
}

func (t *memTx) MarkExternalTransactionMinted(_ context.Context, id uuid.UUID) error {
	ptx, ok := t.s.externalIDs[id]
	if !ok {
		return notFound("external transaction", id)
	}
	et := t.s.external[ptx]
	if et.Status != domain.ExternalReceived {
		return domain.Errorf(domain.ErrInvalidTransition, "external transaction %s is %s", ptx, et.Status)
	}
	et.Status = domain.ExternalMinted
	t.s.external[ptx] = et
	return nil
}

func (t *memTx) InsertOnchainEvent(_ context.Context, ev *domain.OnchainEvent) (bool, error) {
	k := onchainKey(ev.TxID, ev.EventIndex)
	if _, ok := t.s.onchain[k]; ok {
		return false, nil
	}
	t.s.onchain[k] = *ev
	return true, nil
}

func (t *memTx) InsertJob(_ context.Context, job *domain.ChainJob) error {
	if _, ok := t.s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if _, ok := t.s.jobKeys[job.IdempotencyKey]; ok {
		return fmt.Errorf("job with idempotency key %q already exists", job.IdempotencyKey)
	}
	t.s.jobs[job.ID] = *job
	t.s.jobKeys[job.IdempotencyKey] = job.ID
	t.s.jobOrder = append(t.s.jobOrder, job.ID)
	return nil
}

func (t *memTx) LockJob(ctx context.Context, id uuid.UUID) (*domain.ChainJob, error) {
	return t.GetJob(ctx, id)
}

func (t *memTx) UpdateJobOutcome(_ context.Context, job *domain.ChainJob) error {
	cur, ok := t.s.jobs[job.ID]
	if !ok {
		return notFound("job", job.ID)
	}
	if cur.Status != domain.JobPending {
		return domain.Errorf(domain.ErrInvalidTransition, "job %s is already %s", job.ID, cur.Status)
	}
	cur.Status = job.Status
	cur.TxHash = job.TxHash
	cur.ConfirmedAt = job.ConfirmedAt
	t.s.jobs[job.ID] = cur
	return nil
}

func (t *memTx) InsertLedgerEntries(_ context.Context, entries []domain.LedgerEntry) error {
	t.s.ledger = append(t.s.ledger, entries...)
	return nil
}

func (t *memTx) LockTokenBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	tb, ok := t.s.balances[userID]
	if !ok {
		return 0, notFound("token balance for user", userID)
	}
	return tb.BalanceUnits, nil
}

var _ BalanceWriter = (*memTx)(nil)

func (t *memTx) AdjustTokenBalance(_ context.Context, userID uuid.UUID, delta int64) (int64, error) {
	tb, ok := t.s.balances[userID]
	if !ok {
		return 0, notFound("token balance for user", userID)
	}
	if tb.BalanceUnits+delta < 0 {
		return 0, domain.Errorf(domain.ErrLedgerInvariantViolation, "token balance would go negative")
	}
	tb.BalanceUnits += delta
	tb.UpdatedAt = time.Now().UTC()
	t.s.balances[userID] = tb
	return tb.BalanceUnits, nil
}

func (t *memTx) AdjustChainStubBalance(_ context.Context, userID uuid.UUID, delta int64) (int64, error) {
	v, ok := t.s.chainStub[userID]
	if !ok {
		return 0, notFound("chain stub balance for user", userID)
	}
	v += delta
	t.s.chainStub[userID] = v
	return v, nil
}

func (t *memTx) InsertPayout(_ context.Context, p *domain.PayoutJob) error {
	if _, ok := t.s.payouts[p.ChainJobID]; ok {
		return fmt.Errorf("payout for job %s already exists", p.ChainJobID)
	}
	t.s.payouts[p.ChainJobID] = *p
	return nil
}

func (t *memTx) UpdatePayoutOutcome(_ context.Context, p *domain.PayoutJob) error {
	cur, ok := t.s.payouts[p.ChainJobID]
	if !ok {
		return notFound("payout for job", p.ChainJobID)
	}
	if cur.Status != domain.PayoutPending {
		return domain.Errorf(domain.ErrInvalidTransition, "payout %s is already %s", cur.ID, cur.Status)
	}
	cur.Status = p.Status
	cur.PayoutRef = p.PayoutRef
	cur.UpdatedAt = p.UpdatedAt
	t.s.payouts[p.ChainJobID] = cur
	return nil
}

func (t *memTx) InsertReconciliationRun(_ context.Context, run *domain.ReconciliationRun) error {
	t.s.runs = append(t.s.runs, *run)
	return nil
}
