package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hustlexp/backend/internal/fault"
	"github.com/hustlexp/backend/internal/lifecycle"
)

// Postgres is the production Store backed by database/sql + lib/pq.
type Postgres struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgres connects to Postgres and verifies connectivity.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &Postgres{
		db:     db,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}, nil
}

// NewPostgresFromDB wraps an existing handle; used by cmd/server wiring.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db, logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags)}
}

func (p *Postgres) Close() error { return p.db.Close() }

// WithTx runs fn in a REPEATABLE READ transaction and maps store-level
// integrity exceptions to fault kinds.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fault.Wrap(fault.Internal, err, "begin tx")
	}

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			p.logger.Printf("rollback failed: %v", rbErr)
		}
		return mapPgError(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return mapPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapPgError translates trigger exceptions and serialization failures into
// the tagged kinds callers switch on.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		msg := string(pqErr.Message)
		switch {
		case strings.Contains(msg, "append-only violation"):
			return fault.Wrap(fault.Internal, err, "append-only violation")
		case strings.Contains(msg, "terminal mutation blocked"):
			return fault.Wrap(fault.Internal, err, "terminal mutation blocked")
		case pqErr.Code == "23505": // unique_violation
			return fault.Wrap(fault.ConcurrencyConflict, err, "duplicate row")
		case pqErr.Code == "40001": // serialization_failure
			return fault.Wrap(fault.ConcurrencyConflict, err, "serialization failure")
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ============================================================================
// TRANSACTION REPOSITORIES
// ============================================================================

type pgTx struct {
	tx *sql.Tx
}

const moneyLockCols = `task_id, current_state, next_allowed_events, payment_intent_id,
	transfer_id, COALESCE(refund_status, ''), version, created_at, updated_at`

func scanMoneyLock(row interface{ Scan(...interface{}) error }) (*MoneyLock, error) {
	var l MoneyLock
	var state, refund string
	if err := row.Scan(&l.TaskID, &state, pq.Array(&l.NextAllowedEvents), &l.PaymentIntentID,
		&l.TransferID, &refund, &l.Version, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.CurrentState = lifecycle.MoneyState(state)
	l.RefundStatus = RefundStatus(refund)
	return &l, nil
}

func (t *pgTx) LockTaskMoney(ctx context.Context, taskID string) (*MoneyLock, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+moneyLockCols+` FROM money_state_lock WHERE task_id = $1 FOR UPDATE`, taskID)
	lock, err := scanMoneyLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock task money %s: %w", taskID, err)
	}
	return lock, nil
}

func (t *pgTx) InsertMoneyLock(ctx context.Context, lock *MoneyLock) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO money_state_lock
		   (task_id, current_state, next_allowed_events, payment_intent_id, transfer_id, refund_status, version)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		lock.TaskID, string(lock.CurrentState), pq.Array(lock.NextAllowedEvents),
		lock.PaymentIntentID, lock.TransferID, string(lock.RefundStatus), lock.Version)
	if isUniqueViolation(err) {
		return fault.Wrap(fault.ConcurrencyConflict, err, "money lock already exists for task %s", lock.TaskID)
	}
	if err != nil {
		return fmt.Errorf("insert money lock: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateMoneyLock(ctx context.Context, lock *MoneyLock) error {
	return t.updateMoneyLock(ctx, lock, []string{"released", "refunded", "partial_refund"})
}

func (t *pgTx) ForceUpdateMoneyLock(ctx context.Context, lock *MoneyLock) error {
	return t.updateMoneyLock(ctx, lock, []string{"refunded", "partial_refund"})
}

func (t *pgTx) updateMoneyLock(ctx context.Context, lock *MoneyLock, terminal []string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE money_state_lock
		    SET current_state = $1, next_allowed_events = $2, payment_intent_id = $3,
		        transfer_id = $4, refund_status = NULLIF($5, ''),
		        version = version + 1, updated_at = now()
		  WHERE task_id = $6 AND version = $7
		    AND NOT (current_state = ANY($8))`,
		string(lock.CurrentState), pq.Array(lock.NextAllowedEvents), lock.PaymentIntentID,
		lock.TransferID, string(lock.RefundStatus), lock.TaskID, lock.Version, pq.Array(terminal))
	if err != nil {
		return mapPgError(fmt.Errorf("update money lock %s: %w", lock.TaskID, err))
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		lock.Version++
		return nil
	}

	// Zero rows: distinguish terminal block from version drift.
	row := t.tx.QueryRowContext(ctx,
		`SELECT current_state, version FROM money_state_lock WHERE task_id = $1`, lock.TaskID)
	var state string
	var version int64
	if err := row.Scan(&state, &version); err != nil {
		return fault.Wrap(fault.Internal, err, "money lock %s vanished mid-update", lock.TaskID)
	}
	for _, ts := range terminal {
		if state == ts {
			return fault.New(fault.Internal, "terminal mutation blocked: money lock %s is %s", lock.TaskID, state)
		}
	}
	return fault.New(fault.ConcurrencyConflict, "money lock %s version drift (have %d, want %d)", lock.TaskID, version, lock.Version)
}

func (t *pgTx) ClaimRefund(ctx context.Context, taskID string) (*MoneyLock, bool, error) {
	row := t.tx.QueryRowContext(ctx,
		`UPDATE money_state_lock
		    SET refund_status = 'pending', updated_at = now()
		  WHERE task_id = $1 AND (refund_status IS NULL OR refund_status = 'failed')
		  RETURNING `+moneyLockCols, taskID)
	lock, err := scanMoneyLock(row)
	if err == nil {
		return lock, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("claim refund %s: %w", taskID, err)
	}

	// Claim lost: return current status verbatim.
	row = t.tx.QueryRowContext(ctx,
		`SELECT `+moneyLockCols+` FROM money_state_lock WHERE task_id = $1`, taskID)
	lock, err = scanMoneyLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim refund reread %s: %w", taskID, err)
	}
	return lock, false, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

const taskCols = `id, status, poster_id, assigned_worker_id, category, price_amount, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*Task, error) {
	var tk Task
	var status string
	if err := row.Scan(&tk.ID, &status, &tk.PosterID, &tk.AssignedWorkerID,
		&tk.Category, &tk.PriceAmount, &tk.CreatedAt, &tk.UpdatedAt); err != nil {
		return nil, err
	}
	tk.Status = lifecycle.TaskStatus(status)
	return &tk, nil
}

func (t *pgTx) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = $1`, taskID)
	tk, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return tk, nil
}

func (t *pgTx) UpdateTaskStatus(ctx context.Context, taskID, from, to string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, taskID, from)
	if err != nil {
		return fmt.Errorf("update task status %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.ConcurrencyConflict, "task %s is no longer %s", taskID, from)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Escrow holds & payouts
// ---------------------------------------------------------------------------

const escrowCols = `id, task_id, poster_id, worker_id, gross_amount, platform_fee_amount,
	net_payout_amount, status, COALESCE(refund_status, ''), created_at, updated_at`

func scanEscrow(row interface{ Scan(...interface{}) error }) (*EscrowHold, error) {
	var h EscrowHold
	var status, refund string
	if err := row.Scan(&h.ID, &h.TaskID, &h.PosterID, &h.WorkerID, &h.GrossAmount,
		&h.PlatformFeeAmount, &h.NetPayoutAmount, &status, &refund, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.Status = lifecycle.MoneyState(status)
	h.RefundStatus = RefundStatus(refund)
	return &h, nil
}

func (t *pgTx) InsertEscrowHold(ctx context.Context, hold *EscrowHold) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO escrow_holds
		   (id, task_id, poster_id, worker_id, gross_amount, platform_fee_amount, net_payout_amount, status, refund_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`,
		hold.ID, hold.TaskID, hold.PosterID, hold.WorkerID, hold.GrossAmount,
		hold.PlatformFeeAmount, hold.NetPayoutAmount, string(hold.Status), string(hold.RefundStatus))
	if isUniqueViolation(err) {
		return fault.Wrap(fault.ConcurrencyConflict, err, "escrow hold already exists for task %s", hold.TaskID)
	}
	if err != nil {
		return fmt.Errorf("insert escrow hold: %w", err)
	}
	return nil
}

func (t *pgTx) GetEscrowByTask(ctx context.Context, taskID string) (*EscrowHold, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+escrowCols+` FROM escrow_holds WHERE task_id = $1`, taskID)
	h, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get escrow %s: %w", taskID, err)
	}
	return h, nil
}

func (t *pgTx) UpdateEscrowStatus(ctx context.Context, taskID, status string, refund RefundStatus) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE escrow_holds SET status = $1, refund_status = NULLIF($2, ''), updated_at = now()
		  WHERE task_id = $3`,
		status, string(refund), taskID)
	if err != nil {
		return mapPgError(fmt.Errorf("update escrow status %s: %w", taskID, err))
	}
	return nil
}

func (t *pgTx) InsertPayout(ctx context.Context, p *Payout) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO hustler_payouts
		   (id, escrow_id, task_id, worker_id, transfer_id, charge_id, type, fee_amount, net_amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.EscrowID, p.TaskID, p.WorkerID, p.TransferID, p.ChargeID,
		string(p.Type), p.FeeAmount, p.NetAmount, p.Status)
	if isUniqueViolation(err) {
		return fault.Wrap(fault.ConcurrencyConflict, err, "payout already exists for task %s", p.TaskID)
	}
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (t *pgTx) GetPayoutByTask(ctx context.Context, taskID string) (*Payout, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, escrow_id, task_id, worker_id, transfer_id, charge_id, type, fee_amount, net_amount, status, created_at
		   FROM hustler_payouts WHERE task_id = $1`, taskID)
	var po Payout
	var typ string
	err := row.Scan(&po.ID, &po.EscrowID, &po.TaskID, &po.WorkerID, &po.TransferID,
		&po.ChargeID, &typ, &po.FeeAmount, &po.NetAmount, &po.Status, &po.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payout %s: %w", taskID, err)
	}
	po.Type = PayoutType(typ)
	return &po, nil
}

// ---------------------------------------------------------------------------
// Reward ledgers
// ---------------------------------------------------------------------------

func (t *pgTx) InsertXP(ctx context.Context, e *XPEntry) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO xp_ledger
		   (id, user_id, task_id, base_amount, decay_factor, streak_multiplier, final_amount, awarded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (task_id) DO NOTHING`,
		e.ID, e.UserID, e.TaskID, e.BaseAmount, e.DecayFactor, e.StreakMultiplier, e.FinalAmount, e.AwardedAt)
	if err != nil {
		return false, fmt.Errorf("insert xp: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (t *pgTx) TotalXP(ctx context.Context, userID string) (int64, error) {
	var total sql.NullInt64
	err := t.tx.QueryRowContext(ctx,
		`SELECT SUM(final_amount) FROM xp_ledger WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total xp %s: %w", userID, err)
	}
	return total.Int64, nil
}

func (t *pgTx) RecentXP(ctx context.Context, userID string, since time.Time) ([]XPEntry, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, user_id, task_id, base_amount, decay_factor, streak_multiplier, final_amount, awarded_at
		   FROM xp_ledger WHERE user_id = $1 AND awarded_at >= $2
		  ORDER BY awarded_at DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("recent xp %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []XPEntry
	for rows.Next() {
		var e XPEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TaskID, &e.BaseAmount, &e.DecayFactor,
			&e.StreakMultiplier, &e.FinalAmount, &e.AwardedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *pgTx) CurrentTier(ctx context.Context, userID string) (int, error) {
	var tier int
	err := t.tx.QueryRowContext(ctx,
		`SELECT new_tier FROM trust_ledger WHERE user_id = $1 ORDER BY awarded_at DESC LIMIT 1`,
		userID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("current tier %s: %w", userID, err)
	}
	return tier, nil
}

func (t *pgTx) AppendTrustChange(ctx context.Context, c *TrustChange) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO trust_ledger (id, user_id, old_tier, new_tier, reason, awarded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, c.OldTier, c.NewTier, c.Reason, c.AwardedAt)
	if err != nil {
		return mapPgError(fmt.Errorf("append trust change: %w", err))
	}
	return nil
}

func (t *pgTx) InsertBadge(ctx context.Context, b *BadgeAward) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO badge_ledger (user_id, badge_id, tier, awarded_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, badge_id) DO NOTHING`,
		b.UserID, b.BadgeID, b.Tier, b.AwardedAt)
	if err != nil {
		return false, fmt.Errorf("insert badge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (t *pgTx) ListBadges(ctx context.Context, userID string) ([]BadgeAward, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT user_id, badge_id, tier, awarded_at FROM badge_ledger WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list badges %s: %w", userID, err)
	}
	defer rows.Close()
	return collectBadges(rows)
}

func collectBadges(rows *sql.Rows) ([]BadgeAward, error) {
	var badges []BadgeAward
	for rows.Next() {
		var b BadgeAward
		if err := rows.Scan(&b.UserID, &b.BadgeID, &b.Tier, &b.AwardedAt); err != nil {
			return nil, err
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// ---------------------------------------------------------------------------
// Proof artifacts
// ---------------------------------------------------------------------------

const proofCols = `id, task_id, user_id, state, quality, has_photo, has_geo, has_timestamp,
	reject_reason, submitted_at, resolved_at`

func scanProof(row interface{ Scan(...interface{}) error }) (*Proof, error) {
	var p Proof
	var state, quality string
	if err := row.Scan(&p.ID, &p.TaskID, &p.UserID, &state, &quality, &p.HasPhoto, &p.HasGeo,
		&p.HasTimestamp, &p.RejectReason, &p.SubmittedAt, &p.ResolvedAt); err != nil {
		return nil, err
	}
	p.State = lifecycle.ProofState(state)
	p.Quality = ProofQuality(quality)
	return &p, nil
}

func (t *pgTx) InsertProof(ctx context.Context, p *Proof) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO proof_submissions
		   (id, task_id, user_id, state, quality, has_photo, has_geo, has_timestamp, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.TaskID, p.UserID, string(p.State), string(p.Quality),
		p.HasPhoto, p.HasGeo, p.HasTimestamp, p.SubmittedAt)
	if isUniqueViolation(err) {
		return fault.Wrap(fault.ConcurrencyConflict, err, "proof already exists for task %s", p.TaskID)
	}
	if err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	return nil
}

func (t *pgTx) GetProofByTask(ctx context.Context, taskID string) (*Proof, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+proofCols+` FROM proof_submissions WHERE task_id = $1`, taskID)
	p, err := scanProof(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proof %s: %w", taskID, err)
	}
	return p, nil
}

func (t *pgTx) UpdateProofState(ctx context.Context, proofID, from, to, reason string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE proof_submissions
		    SET state = $1, reject_reason = $2, resolved_at = now()
		  WHERE id = $3 AND state = $4`,
		to, reason, proofID, from)
	if err != nil {
		return fmt.Errorf("update proof state %s: %w", proofID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.ConcurrencyConflict, "proof %s is no longer %s", proofID, from)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Idempotency, admin locks, snapshots, jobs
// ---------------------------------------------------------------------------

func (t *pgTx) AppendEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO processed_stripe_events (event_id, event_type)
		 VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("append event %s: %w", eventID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (t *pgTx) InsertAdminLock(ctx context.Context, l *AdminLock) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO admin_locks (id, user_id, reason, created_at) VALUES ($1, $2, $3, $4)`,
		l.ID, l.UserID, l.Reason, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert admin lock: %w", err)
	}
	return nil
}

func (t *pgTx) InsertBalanceSnapshot(ctx context.Context, s *BalanceSnapshot) error {
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO balance_snapshots (id, worker_id, account_id, amount, taken_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.WorkerID, s.AccountID, s.Amount, s.TakenAt)
	if err != nil {
		return fmt.Errorf("insert balance snapshot: %w", err)
	}
	return nil
}

func (t *pgTx) EnqueueJob(ctx context.Context, j *Job) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO job_queue (id, type, task_id, payload, status, run_after)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.Type, j.TaskID, payloadJSON(j.Payload), j.Status, j.RunAfter)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ============================================================================
// NON-TRANSACTIONAL READS
// ============================================================================

func (p *Postgres) GetMoneyLock(ctx context.Context, taskID string) (*MoneyLock, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+moneyLockCols+` FROM money_state_lock WHERE task_id = $1`, taskID)
	lock, err := scanMoneyLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get money lock %s: %w", taskID, err)
	}
	return lock, nil
}

func (p *Postgres) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = $1`, taskID)
	tk, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return tk, nil
}

func (p *Postgres) GetEscrowByTask(ctx context.Context, taskID string) (*EscrowHold, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowCols+` FROM escrow_holds WHERE task_id = $1`, taskID)
	h, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get escrow %s: %w", taskID, err)
	}
	return h, nil
}

func (p *Postgres) GetPayoutByTask(ctx context.Context, taskID string) (*Payout, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, escrow_id, task_id, worker_id, transfer_id, charge_id, type, fee_amount, net_amount, status, created_at
		   FROM hustler_payouts WHERE task_id = $1`, taskID)
	var po Payout
	var typ string
	err := row.Scan(&po.ID, &po.EscrowID, &po.TaskID, &po.WorkerID, &po.TransferID,
		&po.ChargeID, &typ, &po.FeeAmount, &po.NetAmount, &po.Status, &po.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payout %s: %w", taskID, err)
	}
	po.Type = PayoutType(typ)
	return &po, nil
}

func (p *Postgres) GetProofByTask(ctx context.Context, taskID string) (*Proof, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+proofCols+` FROM proof_submissions WHERE task_id = $1`, taskID)
	pr, err := scanProof(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proof %s: %w", taskID, err)
	}
	return pr, nil
}

func (p *Postgres) GetXPByTask(ctx context.Context, taskID string) (*XPEntry, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, user_id, task_id, base_amount, decay_factor, streak_multiplier, final_amount, awarded_at
		   FROM xp_ledger WHERE task_id = $1`, taskID)
	var e XPEntry
	err := row.Scan(&e.ID, &e.UserID, &e.TaskID, &e.BaseAmount, &e.DecayFactor,
		&e.StreakMultiplier, &e.FinalAmount, &e.AwardedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get xp %s: %w", taskID, err)
	}
	return &e, nil
}

func (p *Postgres) TotalXP(ctx context.Context, userID string) (int64, error) {
	var total sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT SUM(final_amount) FROM xp_ledger WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total xp %s: %w", userID, err)
	}
	return total.Int64, nil
}

func (p *Postgres) CurrentTier(ctx context.Context, userID string) (int, error) {
	var tier int
	err := p.db.QueryRowContext(ctx,
		`SELECT new_tier FROM trust_ledger WHERE user_id = $1 ORDER BY awarded_at DESC LIMIT 1`,
		userID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("current tier %s: %w", userID, err)
	}
	return tier, nil
}

func (p *Postgres) ListBadges(ctx context.Context, userID string) ([]BadgeAward, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id, badge_id, tier, awarded_at FROM badge_ledger WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list badges %s: %w", userID, err)
	}
	defer rows.Close()
	return collectBadges(rows)
}

func (p *Postgres) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_stripe_events WHERE event_id = $1`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has processed event %s: %w", eventID, err)
	}
	return true, nil
}

func (p *Postgres) HasActiveAdminLock(ctx context.Context, userID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM admin_locks WHERE user_id = $1 AND released_at IS NULL LIMIT 1`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("active admin lock %s: %w", userID, err)
	}
	return true, nil
}

func (p *Postgres) PendingJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, type, task_id, payload, status, run_after, created_at
		   FROM job_queue WHERE status = 'queued' AND run_after <= now()
		  ORDER BY run_after LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var raw []byte
		if err := rows.Scan(&j.ID, &j.Type, &j.TaskID, &raw, &j.Status, &j.RunAfter, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Payload = payloadFromJSON(raw)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) MarkJob(ctx context.Context, jobID, status string) error {
	if _, err := p.db.ExecContext(ctx,
		`UPDATE job_queue SET status = $2 WHERE id = $1`, jobID, status); err != nil {
		return fmt.Errorf("mark job %s: %w", jobID, err)
	}
	return nil
}

func (p *Postgres) RecentXP(ctx context.Context, userID string, since time.Time) ([]XPEntry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, user_id, task_id, base_amount, decay_factor, streak_multiplier, final_amount, awarded_at
		   FROM xp_ledger WHERE user_id = $1 AND awarded_at >= $2
		  ORDER BY awarded_at DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("recent xp %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []XPEntry
	for rows.Next() {
		var e XPEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TaskID, &e.BaseAmount, &e.DecayFactor,
			&e.StreakMultiplier, &e.FinalAmount, &e.AwardedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) EscrowsForWorker(ctx context.Context, workerID string) ([]EscrowHold, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+escrowCols+` FROM escrow_holds WHERE worker_id = $1 ORDER BY created_at DESC`, workerID)
	if err != nil {
		return nil, fmt.Errorf("escrows for worker %s: %w", workerID, err)
	}
	defer rows.Close()

	var holds []EscrowHold
	for rows.Next() {
		h, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, *h)
	}
	return holds, rows.Err()
}

func (p *Postgres) PayoutsForWorker(ctx context.Context, workerID string) ([]Payout, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, escrow_id, task_id, worker_id, transfer_id, charge_id, type, fee_amount, net_amount, status, created_at
		   FROM hustler_payouts WHERE worker_id = $1 ORDER BY created_at DESC`, workerID)
	if err != nil {
		return nil, fmt.Errorf("payouts for worker %s: %w", workerID, err)
	}
	defer rows.Close()

	var payouts []Payout
	for rows.Next() {
		var po Payout
		var typ string
		if err := rows.Scan(&po.ID, &po.EscrowID, &po.TaskID, &po.WorkerID, &po.TransferID,
			&po.ChargeID, &typ, &po.FeeAmount, &po.NetAmount, &po.Status, &po.CreatedAt); err != nil {
			return nil, err
		}
		po.Type = PayoutType(typ)
		payouts = append(payouts, po)
	}
	return payouts, rows.Err()
}
