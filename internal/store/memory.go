package store

import (
	"context"
	"sync"
	"time"

	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/lifecycle"
)

// Memory is an in-process Store used by tests and local development. It
// mirrors the Postgres semantics: transactions are atomic (mutations are
// staged on a copy and swapped in on commit), money events serialize on one
// mutex the way row locks serialize them, the ledgers are append-only, and
// terminal money states reject mutation.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	tasks     map[string]*Task
	locks     map[string]*MoneyLock
	escrows   map[string]*EscrowHold // keyed by task_id
	payouts   map[string]*Payout     // keyed by task_id
	xpByTask  map[string]*XPEntry
	trust     map[string][]TrustChange
	badges    map[string]map[string]BadgeAward
	proofs    map[string]*Proof // keyed by task_id
	events    map[string]string
	adminLock []AdminLock
	snapshots []BalanceSnapshot
	jobs      []Job
}

func newMemData() *memData {
	return &memData{
		tasks:    make(map[string]*Task),
		locks:    make(map[string]*MoneyLock),
		escrows:  make(map[string]*EscrowHold),
		payouts:  make(map[string]*Payout),
		xpByTask: make(map[string]*XPEntry),
		trust:    make(map[string][]TrustChange),
		badges:   make(map[string]map[string]BadgeAward),
		proofs:   make(map[string]*Proof),
		events:   make(map[string]string),
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

func (m *Memory) Close() error { return nil }

// SeedTask inserts a task row directly; test setup helper.
func (m *Memory) SeedTask(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.data.tasks[cp.ID] = &cp
}

// DeleteBadge mirrors the badge_ledger append-only trigger: any delete is a
// store-level violation.
func (m *Memory) DeleteBadge(userID, badgeID string) error {
	return fault.New(fault.Internal, "append-only violation on badge_ledger")
}

// WithTx stages all mutations on a deep copy and swaps it in on success.
// Holding mu for the whole transaction gives the same total order per task
// that SELECT ... FOR UPDATE gives the Postgres store.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.data.clone()
	if err := fn(&memTx{d: working}); err != nil {
		return err
	}
	m.data = working
	return nil
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.tasks {
		cp := *v
		c.tasks[k] = &cp
	}
	for k, v := range d.locks {
		cp := *v
		cp.NextAllowedEvents = append([]string(nil), v.NextAllowedEvents...)
		c.locks[k] = &cp
	}
	for k, v := range d.escrows {
		cp := *v
		c.escrows[k] = &cp
	}
	for k, v := range d.payouts {
		cp := *v
		c.payouts[k] = &cp
	}
	for k, v := range d.xpByTask {
		cp := *v
		c.xpByTask[k] = &cp
	}
	for k, v := range d.trust {
		c.trust[k] = append([]TrustChange(nil), v...)
	}
	for k, v := range d.badges {
		inner := make(map[string]BadgeAward, len(v))
		for bk, bv := range v {
			inner[bk] = bv
		}
		c.badges[k] = inner
	}
	for k, v := range d.proofs {
		cp := *v
		if v.ResolvedAt != nil {
			ts := *v.ResolvedAt
			cp.ResolvedAt = &ts
		}
		c.proofs[k] = &cp
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	c.adminLock = append([]AdminLock(nil), d.adminLock...)
	c.snapshots = append([]BalanceSnapshot(nil), d.snapshots...)
	c.jobs = append([]Job(nil), d.jobs...)
	return c
}

// ============================================================================
// memTx — Tx over the working copy
// ============================================================================

type memTx struct {
	d *memData
}

func (t *memTx) LockTaskMoney(ctx context.Context, taskID string) (*MoneyLock, error) {
	lock, ok := t.d.locks[taskID]
	if !ok {
		return nil, nil
	}
	cp := *lock
	cp.NextAllowedEvents = append([]string(nil), lock.NextAllowedEvents...)
	return &cp, nil
}

func (t *memTx) InsertMoneyLock(ctx context.Context, lock *MoneyLock) error {
	if _, exists := t.d.locks[lock.TaskID]; exists {
		return fault.New(fault.ConcurrencyConflict, "money lock already exists for task %s", lock.TaskID)
	}
	cp := *lock
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	t.d.locks[lock.TaskID] = &cp
	return nil
}

func (t *memTx) UpdateMoneyLock(ctx context.Context, lock *MoneyLock) error {
	return t.updateLock(lock, false)
}

func (t *memTx) ForceUpdateMoneyLock(ctx context.Context, lock *MoneyLock) error {
	return t.updateLock(lock, true)
}

func (t *memTx) updateLock(lock *MoneyLock, force bool) error {
	cur, ok := t.d.locks[lock.TaskID]
	if !ok {
		return fault.New(fault.Internal, "money lock %s vanished mid-update", lock.TaskID)
	}
	blocked := lifecycle.MoneyTerminal(cur.CurrentState)
	if force {
		blocked = cur.CurrentState == lifecycle.MoneyRefunded || cur.CurrentState == lifecycle.MoneyPartialRefund
	}
	if blocked {
		return fault.New(fault.Internal, "terminal mutation blocked: money lock %s is %s", lock.TaskID, cur.CurrentState)
	}
	if cur.Version != lock.Version {
		return fault.New(fault.ConcurrencyConflict, "money lock %s version drift (have %d, want %d)",
			lock.TaskID, cur.Version, lock.Version)
	}
	cur.CurrentState = lock.CurrentState
	cur.NextAllowedEvents = append([]string(nil), lock.NextAllowedEvents...)
	cur.PaymentIntentID = lock.PaymentIntentID
	cur.TransferID = lock.TransferID
	cur.RefundStatus = lock.RefundStatus
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	lock.Version = cur.Version
	return nil
}

func (t *memTx) ClaimRefund(ctx context.Context, taskID string) (*MoneyLock, bool, error) {
	cur, ok := t.d.locks[taskID]
	if !ok {
		return nil, false, nil
	}
	if cur.RefundStatus == RefundNone || cur.RefundStatus == RefundFailed {
		cur.RefundStatus = RefundPending
		cur.UpdatedAt = time.Now().UTC()
		cp := *cur
		return &cp, true, nil
	}
	cp := *cur
	return &cp, false, nil
}

func (t *memTx) GetTask(ctx context.Context, taskID string) (*Task, error) {
	tk, ok := t.d.tasks[taskID]
	if !ok {
		return nil, nil
	}
	cp := *tk
	return &cp, nil
}

func (t *memTx) UpdateTaskStatus(ctx context.Context, taskID, from, to string) error {
	tk, ok := t.d.tasks[taskID]
	if !ok || string(tk.Status) != from {
		return fault.New(fault.ConcurrencyConflict, "task %s is no longer %s", taskID, from)
	}
	tk.Status = lifecycle.TaskStatus(to)
	tk.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) InsertEscrowHold(ctx context.Context, hold *EscrowHold) error {
	if _, exists := t.d.escrows[hold.TaskID]; exists {
		return fault.New(fault.ConcurrencyConflict, "escrow hold already exists for task %s", hold.TaskID)
	}
	cp := *hold
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	t.d.escrows[hold.TaskID] = &cp
	return nil
}

func (t *memTx) GetEscrowByTask(ctx context.Context, taskID string) (*EscrowHold, error) {
	h, ok := t.d.escrows[taskID]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (t *memTx) UpdateEscrowStatus(ctx context.Context, taskID, status string, refund RefundStatus) error {
	h, ok := t.d.escrows[taskID]
	if !ok {
		return nil
	}
	h.Status = lifecycle.MoneyState(status)
	h.RefundStatus = refund
	h.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) InsertPayout(ctx context.Context, p *Payout) error {
	if _, exists := t.d.payouts[p.TaskID]; exists {
		return fault.New(fault.ConcurrencyConflict, "payout already exists for task %s", p.TaskID)
	}
	cp := *p
	cp.CreatedAt = time.Now().UTC()
	t.d.payouts[p.TaskID] = &cp
	return nil
}

func (t *memTx) GetPayoutByTask(ctx context.Context, taskID string) (*Payout, error) {
	p, ok := t.d.payouts[taskID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) InsertXP(ctx context.Context, e *XPEntry) (bool, error) {
	if _, exists := t.d.xpByTask[e.TaskID]; exists {
		return false, nil
	}
	cp := *e
	t.d.xpByTask[e.TaskID] = &cp
	return true, nil
}

func (t *memTx) TotalXP(ctx context.Context, userID string) (int64, error) {
	var total int64
	for _, e := range t.d.xpByTask {
		if e.UserID == userID {
			total += e.FinalAmount
		}
	}
	return total, nil
}

func (t *memTx) RecentXP(ctx context.Context, userID string, since time.Time) ([]XPEntry, error) {
	var out []XPEntry
	for _, e := range t.d.xpByTask {
		if e.UserID == userID && !e.AwardedAt.Before(since) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (t *memTx) CurrentTier(ctx context.Context, userID string) (int, error) {
	changes := t.d.trust[userID]
	if len(changes) == 0 {
		return 1, nil
	}
	return changes[len(changes)-1].NewTier, nil
}

func (t *memTx) AppendTrustChange(ctx context.Context, c *TrustChange) error {
	if c.NewTier <= c.OldTier {
		return fault.New(fault.Internal, "trust tier must increase (%d → %d)", c.OldTier, c.NewTier)
	}
	t.d.trust[c.UserID] = append(t.d.trust[c.UserID], *c)
	return nil
}

func (t *memTx) InsertBadge(ctx context.Context, b *BadgeAward) (bool, error) {
	inner, ok := t.d.badges[b.UserID]
	if !ok {
		inner = make(map[string]BadgeAward)
		t.d.badges[b.UserID] = inner
	}
	if _, exists := inner[b.BadgeID]; exists {
		return false, nil
	}
	inner[b.BadgeID] = *b
	return true, nil
}

func (t *memTx) ListBadges(ctx context.Context, userID string) ([]BadgeAward, error) {
	var out []BadgeAward
	for _, b := range t.d.badges[userID] {
		out = append(out, b)
	}
	return out, nil
}

func (t *memTx) InsertProof(ctx context.Context, p *Proof) error {
	if _, exists := t.d.proofs[p.TaskID]; exists {
		return fault.New(fault.ConcurrencyConflict, "proof already exists for task %s", p.TaskID)
	}
	cp := *p
	t.d.proofs[p.TaskID] = &cp
	return nil
}

func (t *memTx) GetProofByTask(ctx context.Context, taskID string) (*Proof, error) {
	p, ok := t.d.proofs[taskID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpdateProofState(ctx context.Context, proofID, from, to, reason string) error {
	for _, p := range t.d.proofs {
		if p.ID != proofID {
			continue
		}
		if string(p.State) != from {
			return fault.New(fault.ConcurrencyConflict, "proof %s is no longer %s", proofID, from)
		}
		p.State = lifecycle.ProofState(to)
		p.RejectReason = reason
		now := time.Now().UTC()
		p.ResolvedAt = &now
		return nil
	}
	return fault.New(fault.ConcurrencyConflict, "proof %s is no longer %s", proofID, from)
}

func (t *memTx) AppendEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	if _, exists := t.d.events[eventID]; exists {
		return false, nil
	}
	t.d.events[eventID] = eventType
	return true, nil
}

func (t *memTx) InsertAdminLock(ctx context.Context, l *AdminLock) error {
	t.d.adminLock = append(t.d.adminLock, *l)
	return nil
}

func (t *memTx) InsertBalanceSnapshot(ctx context.Context, s *BalanceSnapshot) error {
	t.d.snapshots = append(t.d.snapshots, *s)
	return nil
}

func (t *memTx) EnqueueJob(ctx context.Context, j *Job) error {
	cp := *j
	cp.CreatedAt = time.Now().UTC()
	t.d.jobs = append(t.d.jobs, cp)
	return nil
}

// ============================================================================
// NON-TRANSACTIONAL READS
// ============================================================================

func (m *Memory) read(fn func(tx *memTx)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&memTx{d: m.data})
}

func (m *Memory) GetMoneyLock(ctx context.Context, taskID string) (*MoneyLock, error) {
	var lock *MoneyLock
	m.read(func(tx *memTx) { lock, _ = tx.LockTaskMoney(ctx, taskID) })
	return lock, nil
}

func (m *Memory) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var tk *Task
	m.read(func(tx *memTx) { tk, _ = tx.GetTask(ctx, taskID) })
	return tk, nil
}

func (m *Memory) GetEscrowByTask(ctx context.Context, taskID string) (*EscrowHold, error) {
	var h *EscrowHold
	m.read(func(tx *memTx) { h, _ = tx.GetEscrowByTask(ctx, taskID) })
	return h, nil
}

func (m *Memory) GetPayoutByTask(ctx context.Context, taskID string) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data.payouts[taskID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetProofByTask(ctx context.Context, taskID string) (*Proof, error) {
	var p *Proof
	m.read(func(tx *memTx) { p, _ = tx.GetProofByTask(ctx, taskID) })
	return p, nil
}

func (m *Memory) GetXPByTask(ctx context.Context, taskID string) (*XPEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data.xpByTask[taskID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) TotalXP(ctx context.Context, userID string) (int64, error) {
	var total int64
	m.read(func(tx *memTx) { total, _ = tx.TotalXP(ctx, userID) })
	return total, nil
}

func (m *Memory) CurrentTier(ctx context.Context, userID string) (int, error) {
	tier := 1
	m.read(func(tx *memTx) { tier, _ = tx.CurrentTier(ctx, userID) })
	return tier, nil
}

func (m *Memory) ListBadges(ctx context.Context, userID string) ([]BadgeAward, error) {
	var badges []BadgeAward
	m.read(func(tx *memTx) { badges, _ = tx.ListBadges(ctx, userID) })
	return badges, nil
}

func (m *Memory) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data.events[eventID]
	return ok, nil
}

func (m *Memory) HasActiveAdminLock(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.data.adminLock {
		if l.UserID == userID && l.ReleasedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) PendingJobs(ctx context.Context, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	now := time.Now().UTC()
	for _, j := range m.data.jobs {
		if j.Status == "queued" && !j.RunAfter.After(now) {
			out = append(out, j)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkJob(ctx context.Context, jobID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.jobs {
		if m.data.jobs[i].ID == jobID {
			m.data.jobs[i].Status = status
			return nil
		}
	}
	return nil
}

func (m *Memory) RecentXP(ctx context.Context, userID string, since time.Time) ([]XPEntry, error) {
	var entries []XPEntry
	m.read(func(tx *memTx) { entries, _ = tx.RecentXP(ctx, userID, since) })
	return entries, nil
}

func (m *Memory) EscrowsForWorker(ctx context.Context, workerID string) ([]EscrowHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var holds []EscrowHold
	for _, h := range m.data.escrows {
		if h.WorkerID == workerID {
			holds = append(holds, *h)
		}
	}
	return holds, nil
}

func (m *Memory) PayoutsForWorker(ctx context.Context, workerID string) ([]Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var payouts []Payout
	for _, p := range m.data.payouts {
		if p.WorkerID == workerID {
			payouts = append(payouts, *p)
		}
	}
	return payouts, nil
}

// BalanceSnapshots returns recorded snapshots; test helper.
func (m *Memory) BalanceSnapshots() []BalanceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BalanceSnapshot(nil), m.data.snapshots...)
}

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)
