package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nmscd/warroom/internal/domain"
)

// CatalogRepo is the read-mostly adapter over the external system catalog.
// The engine never edits catalog entries; Upsert exists for imports and tests.
type CatalogRepo struct{}

// Upsert inserts or replaces a catalog system.
func (r *CatalogRepo) Upsert(ctx context.Context, db *sql.DB, s domain.StarSystem) error {
	const q = `INSERT INTO systems (system_id, name, discord_tag, region_x, region_y, region_z, galaxy)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(system_id) DO UPDATE SET
	name = excluded.name,
	discord_tag = excluded.discord_tag,
	region_x = excluded.region_x,
	region_y = excluded.region_y,
	region_z = excluded.region_z,
	galaxy = excluded.galaxy`
	_, err := db.ExecContext(ctx, q, s.ID, s.Name, s.DiscordTag,
		s.Region.X, s.Region.Y, s.Region.Z, s.Region.Galaxy)
	if err != nil {
		return fmt.Errorf("upsert system: %w", err)
	}
	return nil
}

// Get retrieves a catalog system by ID.
func (r *CatalogRepo) Get(ctx context.Context, db *sql.DB, systemID string) (*domain.StarSystem, error) {
	const q = `SELECT system_id, name, discord_tag, region_x, region_y, region_z, galaxy
FROM systems WHERE system_id = ?`
	var s domain.StarSystem
	err := db.QueryRowContext(ctx, q, systemID).Scan(
		&s.ID, &s.Name, &s.DiscordTag, &s.Region.X, &s.Region.Y, &s.Region.Z, &s.Region.Galaxy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSystemUnknown
		}
		return nil, fmt.Errorf("get system: %w", err)
	}
	return &s, nil
}

// ListInRegion returns every catalog system in a region.
func (r *CatalogRepo) ListInRegion(ctx context.Context, db *sql.DB, region domain.RegionKey) ([]domain.StarSystem, error) {
	const q = `SELECT system_id, name, discord_tag, region_x, region_y, region_z, galaxy
FROM systems WHERE region_x = ? AND region_y = ? AND region_z = ? AND galaxy = ?`
	return r.list(ctx, db, q, region.X, region.Y, region.Z, region.Galaxy)
}

// ListByDiscordTag returns every catalog system carrying a civilization tag.
func (r *CatalogRepo) ListByDiscordTag(ctx context.Context, db *sql.DB, tag string) ([]domain.StarSystem, error) {
	const q = `SELECT system_id, name, discord_tag, region_x, region_y, region_z, galaxy
FROM systems WHERE discord_tag = ?`
	return r.list(ctx, db, q, tag)
}

// ListByIDs returns the catalog entries for the given system IDs.
func (r *CatalogRepo) ListByIDs(ctx context.Context, db *sql.DB, ids []string) ([]domain.StarSystem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	q := fmt.Sprintf(`SELECT system_id, name, discord_tag, region_x, region_y, region_z, galaxy
FROM systems WHERE system_id IN (%s)`, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.list(ctx, db, q, args...)
}

// Search substring-matches the query against system names and discord tags,
// optionally narrowed to one partner's exact tag.
func (r *CatalogRepo) Search(ctx context.Context, db *sql.DB, query, tag string, limit int) ([]domain.StarSystem, error) {
	q := `SELECT system_id, name, discord_tag, region_x, region_y, region_z, galaxy
FROM systems WHERE (name LIKE ? ESCAPE '\' OR discord_tag LIKE ? ESCAPE '\')`
	pattern := "%" + escapeLike(query) + "%"
	args := []any{pattern, pattern}
	if tag != "" {
		q += ` AND discord_tag = ?`
		args = append(args, tag)
	}
	q += ` ORDER BY name LIMIT ?`
	args = append(args, limit)
	return r.list(ctx, db, q, args...)
}

// ListClaimedRegions returns the distinct regions containing at least one claim.
func (r *CatalogRepo) ListClaimedRegions(ctx context.Context, db *sql.DB) ([]domain.RegionKey, error) {
	const q = `SELECT DISTINCT s.region_x, s.region_y, s.region_z, s.galaxy
FROM systems s JOIN claims c ON c.system_id = s.system_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list claimed regions: %w", err)
	}
	defer rows.Close()

	var regions []domain.RegionKey
	for rows.Next() {
		var k domain.RegionKey
		if err := rows.Scan(&k.X, &k.Y, &k.Z, &k.Galaxy); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regions = append(regions, k)
	}
	return regions, rows.Err()
}

func (r *CatalogRepo) list(ctx context.Context, db *sql.DB, q string, args ...any) ([]domain.StarSystem, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	defer rows.Close()

	var systems []domain.StarSystem
	for rows.Next() {
		var s domain.StarSystem
		if err := rows.Scan(&s.ID, &s.Name, &s.DiscordTag,
			&s.Region.X, &s.Region.Y, &s.Region.Z, &s.Region.Galaxy); err != nil {
			return nil, fmt.Errorf("scan system: %w", err)
		}
		systems = append(systems, s)
	}
	return systems, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// HomeRegionRepo handles persistence for protected home regions.
type HomeRegionRepo struct{}

// Set upserts a partner's home region.
func (r *HomeRegionRepo) Set(ctx context.Context, db *sql.DB, hr domain.HomeRegion) error {
	const q = `INSERT INTO home_regions (partner_id, region_x, region_y, region_z, galaxy)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(partner_id) DO UPDATE SET
	region_x = excluded.region_x,
	region_y = excluded.region_y,
	region_z = excluded.region_z,
	galaxy = excluded.galaxy`
	_, err := db.ExecContext(ctx, q, hr.PartnerID, hr.Region.X, hr.Region.Y, hr.Region.Z, hr.Region.Galaxy)
	if err != nil {
		return fmt.Errorf("set home region: %w", err)
	}
	return nil
}

// Get retrieves a partner's home region.
func (r *HomeRegionRepo) Get(ctx context.Context, db *sql.DB, partnerID string) (*domain.HomeRegion, error) {
	const q = `SELECT partner_id, region_x, region_y, region_z, galaxy FROM home_regions WHERE partner_id = ?`
	var hr domain.HomeRegion
	err := db.QueryRowContext(ctx, q, partnerID).Scan(
		&hr.PartnerID, &hr.Region.X, &hr.Region.Y, &hr.Region.Z, &hr.Region.Galaxy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrHomeRegionNotFound
		}
		return nil, fmt.Errorf("get home region: %w", err)
	}
	return &hr, nil
}

// ListAll returns every registered home region.
func (r *HomeRegionRepo) ListAll(ctx context.Context, db *sql.DB) ([]domain.HomeRegion, error) {
	rows, err := db.QueryContext(ctx, `SELECT partner_id, region_x, region_y, region_z, galaxy FROM home_regions`)
	if err != nil {
		return nil, fmt.Errorf("list home regions: %w", err)
	}
	defer rows.Close()

	var regions []domain.HomeRegion
	for rows.Next() {
		var hr domain.HomeRegion
		if err := rows.Scan(&hr.PartnerID, &hr.Region.X, &hr.Region.Y, &hr.Region.Z, &hr.Region.Galaxy); err != nil {
			return nil, fmt.Errorf("scan home region: %w", err)
		}
		regions = append(regions, hr)
	}
	return regions, rows.Err()
}
