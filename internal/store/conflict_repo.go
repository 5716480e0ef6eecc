package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nmscd/warroom/internal/domain"
)

// ConflictRepo handles persistence for Conflict records, their parties, and
// their append-only event timeline.
type ConflictRepo struct{}

const conflictColumns = `conflict_id, attacker_id, defender_id, target_system_id, status,
state_version, attacker_counters, defender_counters, declared_at, resolved_at, resolution`

// CreateTx inserts a new conflict within an existing transaction.
// The partial unique index on open conflicts makes concurrent declarations on
// the same target race to exactly one winner.
func (r *ConflictRepo) CreateTx(ctx context.Context, tx *sql.Tx, c domain.Conflict) error {
	const q = `INSERT INTO conflicts (` + conflictColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		c.ID, c.AttackerID, c.DefenderID, c.TargetSystemID, string(c.Status),
		c.StateVersion, c.AttackerCounters, c.DefenderCounters,
		c.DeclaredAt, c.ResolvedAt, c.Resolution,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrDuplicateConflict
		}
		return fmt.Errorf("create conflict: %w", err)
	}
	return nil
}

// UpdateStateTx updates a conflict within a transaction using optimistic
// locking. The update only succeeds if the stored state_version matches the
// version the caller read; a lost race returns ErrVersionConflict.
func (r *ConflictRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, c domain.Conflict) error {
	const q = `UPDATE conflicts SET
		status = ?,
		state_version = state_version + 1,
		attacker_counters = ?,
		defender_counters = ?,
		resolved_at = ?,
		resolution = ?
	WHERE conflict_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(c.Status),
		c.AttackerCounters,
		c.DefenderCounters,
		c.ResolvedAt,
		c.Resolution,
		c.ID,
		c.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update conflict state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// GetByID retrieves a conflict by its ID.
func (r *ConflictRepo) GetByID(ctx context.Context, db *sql.DB, conflictID string) (*domain.Conflict, error) {
	q := `SELECT ` + conflictColumns + ` FROM conflicts WHERE conflict_id = ?`
	return r.scanOne(db.QueryRowContext(ctx, q, conflictID))
}

// GetByIDTx retrieves a conflict within a transaction, for re-checking state
// under the write lock.
func (r *ConflictRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, conflictID string) (*domain.Conflict, error) {
	q := `SELECT ` + conflictColumns + ` FROM conflicts WHERE conflict_id = ?`
	return r.scanOne(tx.QueryRowContext(ctx, q, conflictID))
}

// GetOpenByTarget returns the non-terminal conflict targeting a system, if any.
func (r *ConflictRepo) GetOpenByTarget(ctx context.Context, db *sql.DB, systemID string) (*domain.Conflict, error) {
	q := `SELECT ` + conflictColumns + ` FROM conflicts
WHERE target_system_id = ? AND status NOT IN ('resolved', 'cancelled')`
	return r.scanOne(db.QueryRowContext(ctx, q, systemID))
}

// ListActive returns every non-terminal conflict, newest first.
func (r *ConflictRepo) ListActive(ctx context.Context, db *sql.DB) ([]domain.Conflict, error) {
	q := `SELECT ` + conflictColumns + ` FROM conflicts
WHERE status NOT IN ('resolved', 'cancelled') ORDER BY declared_at DESC`
	return r.list(ctx, db, q)
}

// ListOpenByTargets returns non-terminal conflicts targeting any of the given
// systems. Used to derive a region's contested state.
func (r *ConflictRepo) ListOpenByTargets(ctx context.Context, db *sql.DB, systemIDs []string) ([]domain.Conflict, error) {
	if len(systemIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(systemIDs))
	placeholders = placeholders[:len(placeholders)-1]
	q := fmt.Sprintf(`SELECT `+conflictColumns+` FROM conflicts
WHERE target_system_id IN (%s) AND status NOT IN ('resolved', 'cancelled')`, placeholders)

	args := make([]any, len(systemIDs))
	for i, id := range systemIDs {
		args[i] = id
	}
	return r.list(ctx, db, q, args...)
}

// ListResolved returns every resolved conflict.
func (r *ConflictRepo) ListResolved(ctx context.Context, db *sql.DB) ([]domain.Conflict, error) {
	q := `SELECT ` + conflictColumns + ` FROM conflicts WHERE status = 'resolved'`
	return r.list(ctx, db, q)
}

// AddPartyTx records a participant within a transaction.
func (r *ConflictRepo) AddPartyTx(ctx context.Context, tx *sql.Tx, p domain.ConflictParty) error {
	const q = `INSERT INTO conflict_parties (conflict_id, partner_id, side, is_primary) VALUES (?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, p.ConflictID, p.PartnerID, string(p.Side), boolToInt(p.IsPrimary))
	if err != nil {
		return fmt.Errorf("add conflict party: %w", err)
	}
	return nil
}

// ListParties returns the participants of a conflict.
func (r *ConflictRepo) ListParties(ctx context.Context, db *sql.DB, conflictID string) ([]domain.ConflictParty, error) {
	const q = `SELECT conflict_id, partner_id, side, is_primary FROM conflict_parties WHERE conflict_id = ?`
	rows, err := db.QueryContext(ctx, q, conflictID)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer rows.Close()

	var parties []domain.ConflictParty
	for rows.Next() {
		var p domain.ConflictParty
		var side string
		var primary int
		if err := rows.Scan(&p.ConflictID, &p.PartnerID, &side, &primary); err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		p.Side = domain.Side(side)
		p.IsPrimary = primary != 0
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// AppendEventTx inserts a timeline event within a transaction.
func (r *ConflictRepo) AppendEventTx(ctx context.Context, tx *sql.Tx, e domain.ConflictEvent) error {
	const q = `INSERT INTO conflict_events (conflict_id, event_type, details, actor_id, created_at)
VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, e.ConflictID, string(e.EventType), e.Details, e.ActorID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append conflict event: %w", err)
	}
	return nil
}

// ListEvents returns a conflict's timeline in append order.
func (r *ConflictRepo) ListEvents(ctx context.Context, db *sql.DB, conflictID string) ([]domain.ConflictEvent, error) {
	const q = `SELECT id, conflict_id, event_type, details, actor_id, created_at
FROM conflict_events WHERE conflict_id = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, q, conflictID)
	if err != nil {
		return nil, fmt.Errorf("list conflict events: %w", err)
	}
	defer rows.Close()

	var events []domain.ConflictEvent
	for rows.Next() {
		var e domain.ConflictEvent
		var etype string
		if err := rows.Scan(&e.ID, &e.ConflictID, &etype, &e.Details, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conflict event: %w", err)
		}
		e.EventType = domain.ConflictEventType(etype)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *ConflictRepo) scanOne(row *sql.Row) (*domain.Conflict, error) {
	var c domain.Conflict
	var status string
	err := row.Scan(&c.ID, &c.AttackerID, &c.DefenderID, &c.TargetSystemID, &status,
		&c.StateVersion, &c.AttackerCounters, &c.DefenderCounters,
		&c.DeclaredAt, &c.ResolvedAt, &c.Resolution)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrConflictNotFound
		}
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	c.Status = domain.ConflictStatus(status)
	return &c, nil
}

func (r *ConflictRepo) list(ctx context.Context, db *sql.DB, q string, args ...any) ([]domain.Conflict, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []domain.Conflict
	for rows.Next() {
		var c domain.Conflict
		var status string
		if err := rows.Scan(&c.ID, &c.AttackerID, &c.DefenderID, &c.TargetSystemID, &status,
			&c.StateVersion, &c.AttackerCounters, &c.DefenderCounters,
			&c.DeclaredAt, &c.ResolvedAt, &c.Resolution); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		c.Status = domain.ConflictStatus(status)
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
