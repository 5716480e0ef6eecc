// Package store provides SQLite-backed persistence for the War Room engine.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS systems (
	system_id   TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	discord_tag TEXT NOT NULL DEFAULT '',
	region_x    INTEGER NOT NULL,
	region_y    INTEGER NOT NULL,
	region_z    INTEGER NOT NULL,
	galaxy      TEXT NOT NULL DEFAULT 'Euclid'
);
CREATE INDEX IF NOT EXISTS idx_systems_region ON systems(region_x, region_y, region_z, galaxy);
CREATE INDEX IF NOT EXISTS idx_systems_tag ON systems(discord_tag);

CREATE TABLE IF NOT EXISTS claims (
	claim_id   TEXT PRIMARY KEY,
	system_id  TEXT NOT NULL UNIQUE,
	partner_id TEXT NOT NULL,
	notes      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_claims_partner ON claims(partner_id);

CREATE TABLE IF NOT EXISTS home_regions (
	partner_id TEXT PRIMARY KEY,
	region_x   INTEGER NOT NULL,
	region_y   INTEGER NOT NULL,
	region_z   INTEGER NOT NULL,
	galaxy     TEXT NOT NULL DEFAULT 'Euclid'
);

CREATE TABLE IF NOT EXISTS conflicts (
	conflict_id       TEXT PRIMARY KEY,
	attacker_id       TEXT NOT NULL,
	defender_id       TEXT NOT NULL,
	target_system_id  TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	state_version     INTEGER NOT NULL DEFAULT 1,
	attacker_counters INTEGER NOT NULL DEFAULT 0,
	defender_counters INTEGER NOT NULL DEFAULT 0,
	declared_at       INTEGER NOT NULL,
	resolved_at       INTEGER NOT NULL DEFAULT 0,
	resolution        TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_open_target
	ON conflicts(target_system_id) WHERE status NOT IN ('resolved', 'cancelled');
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);

CREATE TABLE IF NOT EXISTS conflict_parties (
	conflict_id TEXT NOT NULL,
	partner_id  TEXT NOT NULL,
	side        TEXT NOT NULL,
	is_primary  INTEGER NOT NULL DEFAULT 0,
	UNIQUE(conflict_id, partner_id)
);
CREATE INDEX IF NOT EXISTS idx_parties_conflict ON conflict_parties(conflict_id);

CREATE TABLE IF NOT EXISTS conflict_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	conflict_id TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	details     TEXT NOT NULL DEFAULT '',
	actor_id    TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_conflict ON conflict_events(conflict_id, id);

CREATE TABLE IF NOT EXISTS peace_proposals (
	proposal_id    TEXT PRIMARY KEY,
	conflict_id    TEXT NOT NULL,
	proposer_id    TEXT NOT NULL,
	recipient_id   TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	proposal_type  TEXT NOT NULL DEFAULT 'initial',
	counter_number INTEGER NOT NULL DEFAULT 0,
	message        TEXT NOT NULL DEFAULT '',
	walk_away      INTEGER NOT NULL DEFAULT 0,
	proposed_at    INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_pending
	ON peace_proposals(conflict_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_proposals_conflict ON peace_proposals(conflict_id, proposed_at);

CREATE TABLE IF NOT EXISTS proposal_items (
	proposal_id TEXT NOT NULL,
	system_id   TEXT NOT NULL,
	direction   TEXT NOT NULL,
	UNIQUE(proposal_id, system_id)
);

CREATE TABLE IF NOT EXISTS activity_entries (
	entry_id   TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	headline   TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '',
	system_id  TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_entries(created_at DESC);

CREATE TABLE IF NOT EXISTS notifications (
	notification_id TEXT PRIMARY KEY,
	partner_id      TEXT NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	read_at         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_notifications_partner ON notifications(partner_id, read_at);

CREATE TABLE IF NOT EXISTS war_statistics (
	partner_id         TEXT PRIMARY KEY,
	systems_claimed    INTEGER NOT NULL DEFAULT 0,
	regions_owned      INTEGER NOT NULL DEFAULT 0,
	conflicts_won      INTEGER NOT NULL DEFAULT 0,
	conflicts_lost     INTEGER NOT NULL DEFAULT 0,
	active_conflicts   INTEGER NOT NULL DEFAULT 0,
	proposals_accepted INTEGER NOT NULL DEFAULT 0,
	updated_at         INTEGER NOT NULL DEFAULT 0
);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}

// IsUniqueViolation reports whether err is a SQLite unique-constraint failure.
// Races on conditional inserts (claims, pending proposals, open conflicts)
// surface through this check.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
