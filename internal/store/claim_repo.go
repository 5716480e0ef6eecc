package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nmscd/warroom/internal/domain"
)

// ClaimRepo handles persistence for TerritoryClaim records.
type ClaimRepo struct{}

// CreateTx inserts a new claim within an existing transaction.
// The UNIQUE(system_id) constraint makes concurrent claims on the same system
// race to exactly one winner; the loser gets ErrAlreadyClaimed.
func (r *ClaimRepo) CreateTx(ctx context.Context, tx *sql.Tx, claim domain.TerritoryClaim) error {
	const q = `INSERT INTO claims (claim_id, system_id, partner_id, notes, created_at)
VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		claim.ID,
		claim.SystemID,
		claim.PartnerID,
		claim.Notes,
		claim.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrAlreadyClaimed
		}
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

// DeleteTx removes a claim by ID within a transaction.
func (r *ClaimRepo) DeleteTx(ctx context.Context, tx *sql.Tx, claimID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE claim_id = ?`, claimID)
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrClaimNotFound
	}
	return nil
}

// GetByID retrieves a claim by its ID.
func (r *ClaimRepo) GetByID(ctx context.Context, db *sql.DB, claimID string) (*domain.TerritoryClaim, error) {
	const q = `SELECT claim_id, system_id, partner_id, notes, created_at FROM claims WHERE claim_id = ?`
	return r.scanOne(db.QueryRowContext(ctx, q, claimID))
}

// GetBySystem retrieves the claim on a system, if any.
func (r *ClaimRepo) GetBySystem(ctx context.Context, db *sql.DB, systemID string) (*domain.TerritoryClaim, error) {
	const q = `SELECT claim_id, system_id, partner_id, notes, created_at FROM claims WHERE system_id = ?`
	return r.scanOne(db.QueryRowContext(ctx, q, systemID))
}

// GetBySystemTx is GetBySystem inside a transaction, used by the transfer
// resolver to re-verify source claims under the write lock.
func (r *ClaimRepo) GetBySystemTx(ctx context.Context, tx *sql.Tx, systemID string) (*domain.TerritoryClaim, error) {
	const q = `SELECT claim_id, system_id, partner_id, notes, created_at FROM claims WHERE system_id = ?`
	return r.scanOne(tx.QueryRowContext(ctx, q, systemID))
}

// ListByPartner returns all claims held by a partner, newest first.
func (r *ClaimRepo) ListByPartner(ctx context.Context, db *sql.DB, partnerID string) ([]domain.TerritoryClaim, error) {
	const q = `SELECT claim_id, system_id, partner_id, notes, created_at
FROM claims WHERE partner_id = ? ORDER BY created_at DESC`
	return r.list(ctx, db, q, partnerID)
}

// ListAll returns every claim, newest first.
func (r *ClaimRepo) ListAll(ctx context.Context, db *sql.DB) ([]domain.TerritoryClaim, error) {
	const q = `SELECT claim_id, system_id, partner_id, notes, created_at
FROM claims ORDER BY created_at DESC`
	return r.list(ctx, db, q)
}

// ListBySystemIDs returns the claims on the given systems. Systems without a
// claim simply have no row in the result.
func (r *ClaimRepo) ListBySystemIDs(ctx context.Context, db *sql.DB, systemIDs []string) ([]domain.TerritoryClaim, error) {
	if len(systemIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(systemIDs))
	placeholders = placeholders[:len(placeholders)-1]
	q := fmt.Sprintf(`SELECT claim_id, system_id, partner_id, notes, created_at
FROM claims WHERE system_id IN (%s)`, placeholders)

	args := make([]any, len(systemIDs))
	for i, id := range systemIDs {
		args[i] = id
	}
	return r.list(ctx, db, q, args...)
}

// CountByPartner returns the number of claims per partner across all systems.
func (r *ClaimRepo) CountByPartner(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT partner_id, COUNT(*) FROM claims GROUP BY partner_id`)
	if err != nil {
		return nil, fmt.Errorf("count claims: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var partnerID string
		var n int
		if err := rows.Scan(&partnerID, &n); err != nil {
			return nil, fmt.Errorf("scan claim count: %w", err)
		}
		counts[partnerID] = n
	}
	return counts, rows.Err()
}

func (r *ClaimRepo) scanOne(row *sql.Row) (*domain.TerritoryClaim, error) {
	var c domain.TerritoryClaim
	err := row.Scan(&c.ID, &c.SystemID, &c.PartnerID, &c.Notes, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrClaimNotFound
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return &c, nil
}

func (r *ClaimRepo) list(ctx context.Context, db *sql.DB, q string, args ...any) ([]domain.TerritoryClaim, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var claims []domain.TerritoryClaim
	for rows.Next() {
		var c domain.TerritoryClaim
		if err := rows.Scan(&c.ID, &c.SystemID, &c.PartnerID, &c.Notes, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}
