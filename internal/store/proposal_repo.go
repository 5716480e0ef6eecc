package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nmscd/warroom/internal/domain"
)

// ProposalRepo handles persistence for PeaceProposal records and their items.
type ProposalRepo struct{}

const proposalColumns = `proposal_id, conflict_id, proposer_id, recipient_id, status,
proposal_type, counter_number, message, walk_away, proposed_at`

// CreateTx inserts a proposal and its items within an existing transaction.
// The partial unique index on pending proposals guarantees at most one pending
// proposal per conflict even under concurrent filings.
func (r *ProposalRepo) CreateTx(ctx context.Context, tx *sql.Tx, p domain.PeaceProposal) error {
	const q = `INSERT INTO peace_proposals (` + proposalColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		p.ID, p.ConflictID, p.ProposerID, p.RecipientID, string(p.Status),
		string(p.Type), p.CounterNumber, p.Message, boolToInt(p.WalkAway), p.ProposedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrPendingProposal
		}
		return fmt.Errorf("create proposal: %w", err)
	}

	const iq = `INSERT INTO proposal_items (proposal_id, system_id, direction) VALUES (?, ?, ?)`
	for _, item := range p.Items {
		if _, err := tx.ExecContext(ctx, iq, p.ID, item.SystemID, string(item.Direction)); err != nil {
			return fmt.Errorf("create proposal item: %w", err)
		}
	}
	return nil
}

// UpdateStatusTx moves a proposal out of pending within a transaction.
// The conditional WHERE keeps the update safe under races: only a
// currently-pending proposal can change status.
func (r *ProposalRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, proposalID string, status domain.ProposalStatus) error {
	const q = `UPDATE peace_proposals SET status = ? WHERE proposal_id = ? AND status = 'pending'`
	res, err := tx.ExecContext(ctx, q, string(status), proposalID)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrProposalNotPending
	}
	return nil
}

// RejectTx marks a pending proposal rejected, recording whether the recipient
// walked away from the table entirely.
func (r *ProposalRepo) RejectTx(ctx context.Context, tx *sql.Tx, proposalID string, walkAway bool) error {
	const q = `UPDATE peace_proposals SET status = 'rejected', walk_away = ?
WHERE proposal_id = ? AND status = 'pending'`
	res, err := tx.ExecContext(ctx, q, boolToInt(walkAway), proposalID)
	if err != nil {
		return fmt.Errorf("reject proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrProposalNotPending
	}
	return nil
}

// SupersedeTx marks the previous offer superseded when a counter is filed.
// It covers both a still-pending offer and one the counter-party had just
// rejected without walking away; a no-op update is not an error.
func (r *ProposalRepo) SupersedeTx(ctx context.Context, tx *sql.Tx, proposalID string) error {
	const q = `UPDATE peace_proposals SET status = 'superseded'
WHERE proposal_id = ? AND status IN ('pending', 'rejected')`
	if _, err := tx.ExecContext(ctx, q, proposalID); err != nil {
		return fmt.Errorf("supersede proposal: %w", err)
	}
	return nil
}

// GetByID retrieves a proposal with its items.
func (r *ProposalRepo) GetByID(ctx context.Context, db *sql.DB, proposalID string) (*domain.PeaceProposal, error) {
	q := `SELECT ` + proposalColumns + ` FROM peace_proposals WHERE proposal_id = ?`
	p, err := r.scanOne(db.QueryRowContext(ctx, q, proposalID))
	if err != nil {
		return nil, err
	}
	p.Items, err = r.listItems(ctx, db, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPendingByConflict returns the pending proposal for a conflict, if any.
func (r *ProposalRepo) GetPendingByConflict(ctx context.Context, db *sql.DB, conflictID string) (*domain.PeaceProposal, error) {
	q := `SELECT ` + proposalColumns + ` FROM peace_proposals WHERE conflict_id = ? AND status = 'pending'`
	p, err := r.scanOne(db.QueryRowContext(ctx, q, conflictID))
	if err != nil {
		return nil, err
	}
	p.Items, err = r.listItems(ctx, db, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetLatestByConflict returns the most recently filed proposal for a conflict
// regardless of status. Counters are validated against this proposal.
// Recency is insertion order (rowid): proposed_at has one-second granularity,
// so a reject-then-counter exchange can land several rows in the same second.
func (r *ProposalRepo) GetLatestByConflict(ctx context.Context, db *sql.DB, conflictID string) (*domain.PeaceProposal, error) {
	q := `SELECT ` + proposalColumns + ` FROM peace_proposals
WHERE conflict_id = ? ORDER BY rowid DESC LIMIT 1`
	p, err := r.scanOne(db.QueryRowContext(ctx, q, conflictID))
	if err != nil {
		return nil, err
	}
	p.Items, err = r.listItems(ctx, db, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListByConflict returns a conflict's full proposal history in filing order,
// items included.
func (r *ProposalRepo) ListByConflict(ctx context.Context, db *sql.DB, conflictID string) ([]domain.PeaceProposal, error) {
	q := `SELECT ` + proposalColumns + ` FROM peace_proposals
WHERE conflict_id = ? ORDER BY rowid ASC`
	rows, err := db.QueryContext(ctx, q, conflictID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []domain.PeaceProposal
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range proposals {
		proposals[i].Items, err = r.listItems(ctx, db, proposals[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return proposals, nil
}

// CountAcceptedByPartner returns, per partner, how many of their filed
// proposals were accepted.
func (r *ProposalRepo) CountAcceptedByPartner(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT proposer_id, COUNT(*) FROM peace_proposals WHERE status = 'accepted' GROUP BY proposer_id`)
	if err != nil {
		return nil, fmt.Errorf("count accepted proposals: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var partnerID string
		var n int
		if err := rows.Scan(&partnerID, &n); err != nil {
			return nil, fmt.Errorf("scan proposal count: %w", err)
		}
		counts[partnerID] = n
	}
	return counts, rows.Err()
}

// GetAcceptedByConflict returns the accepted proposal of a resolved conflict.
func (r *ProposalRepo) GetAcceptedByConflict(ctx context.Context, db *sql.DB, conflictID string) (*domain.PeaceProposal, error) {
	q := `SELECT ` + proposalColumns + ` FROM peace_proposals WHERE conflict_id = ? AND status = 'accepted'`
	p, err := r.scanOne(db.QueryRowContext(ctx, q, conflictID))
	if err != nil {
		return nil, err
	}
	p.Items, err = r.listItems(ctx, db, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProposalRepo) listItems(ctx context.Context, db *sql.DB, proposalID string) ([]domain.ProposalItem, error) {
	const q = `SELECT proposal_id, system_id, direction FROM proposal_items WHERE proposal_id = ?`
	rows, err := db.QueryContext(ctx, q, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list proposal items: %w", err)
	}
	defer rows.Close()

	var items []domain.ProposalItem
	for rows.Next() {
		var it domain.ProposalItem
		var dir string
		if err := rows.Scan(&it.ProposalID, &it.SystemID, &dir); err != nil {
			return nil, fmt.Errorf("scan proposal item: %w", err)
		}
		it.Direction = domain.ItemDirection(dir)
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ProposalRepo) scanOne(row *sql.Row) (*domain.PeaceProposal, error) {
	p, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrProposalNotFound
	}
	return p, err
}

func (r *ProposalRepo) scanRow(row rowScanner) (*domain.PeaceProposal, error) {
	var p domain.PeaceProposal
	var status, ptype string
	var walkAway int
	err := row.Scan(&p.ID, &p.ConflictID, &p.ProposerID, &p.RecipientID, &status,
		&ptype, &p.CounterNumber, &p.Message, &walkAway, &p.ProposedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan proposal: %w", err)
	}
	p.Status = domain.ProposalStatus(status)
	p.Type = domain.ProposalType(ptype)
	p.WalkAway = walkAway != 0
	return &p, nil
}
