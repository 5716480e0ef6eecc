package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nmscd/warroom/internal/domain"
)

// StatsRepo handles persistence for the war_statistics aggregates.
type StatsRepo struct{}

// UpsertTx writes one partner's aggregates within a transaction.
func (r *StatsRepo) UpsertTx(ctx context.Context, tx *sql.Tx, s domain.PartnerStats) error {
	const q = `INSERT INTO war_statistics
(partner_id, systems_claimed, regions_owned, conflicts_won, conflicts_lost, active_conflicts, proposals_accepted, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(partner_id) DO UPDATE SET
	systems_claimed = excluded.systems_claimed,
	regions_owned = excluded.regions_owned,
	conflicts_won = excluded.conflicts_won,
	conflicts_lost = excluded.conflicts_lost,
	active_conflicts = excluded.active_conflicts,
	proposals_accepted = excluded.proposals_accepted,
	updated_at = excluded.updated_at`
	_, err := tx.ExecContext(ctx, q,
		s.PartnerID, s.SystemsClaimed, s.RegionsOwned, s.ConflictsWon,
		s.ConflictsLost, s.ActiveConflicts, s.ProposalsAccepted, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

// ClearTx removes all aggregates; recalculation rewrites the full table.
func (r *StatsRepo) ClearTx(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM war_statistics`); err != nil {
		return fmt.Errorf("clear stats: %w", err)
	}
	return nil
}

// ListAll returns every partner's aggregates.
func (r *StatsRepo) ListAll(ctx context.Context, db *sql.DB) ([]domain.PartnerStats, error) {
	const q = `SELECT partner_id, systems_claimed, regions_owned, conflicts_won, conflicts_lost,
active_conflicts, proposals_accepted, updated_at FROM war_statistics ORDER BY partner_id`
	return r.list(ctx, db, q)
}

// Leaderboard returns the top partners ordered by systems claimed, then
// conflicts won.
func (r *StatsRepo) Leaderboard(ctx context.Context, db *sql.DB, limit int) ([]domain.PartnerStats, error) {
	const q = `SELECT partner_id, systems_claimed, regions_owned, conflicts_won, conflicts_lost,
active_conflicts, proposals_accepted, updated_at FROM war_statistics
ORDER BY systems_claimed DESC, conflicts_won DESC, partner_id LIMIT ?`
	return r.list(ctx, db, q, limit)
}

func (r *StatsRepo) list(ctx context.Context, db *sql.DB, q string, args ...any) ([]domain.PartnerStats, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.PartnerStats
	for rows.Next() {
		var s domain.PartnerStats
		if err := rows.Scan(&s.PartnerID, &s.SystemsClaimed, &s.RegionsOwned, &s.ConflictsWon,
			&s.ConflictsLost, &s.ActiveConflicts, &s.ProposalsAccepted, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
