package territory

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/store"
)

// MajorityThreshold is the share of a region's systems a partner must exceed
// to own it. At or below it, multiple claimants leave the region contested.
const MajorityThreshold = 0.5

// Calculator derives per-region ownership from current claims and active
// conflicts. Results are cached and invalidated on any claim mutation or
// conflict status change touching the region; readers tolerate the staleness
// window between a write and the next recomputation.
type Calculator struct {
	DB        *sql.DB
	Claims    *store.ClaimRepo
	Catalog   *store.CatalogRepo
	Conflicts *store.ConflictRepo

	mu    sync.Mutex
	cache map[domain.RegionKey]*domain.RegionOwnership
}

// NewCalculator creates a Calculator over the shared database.
func NewCalculator(db *sql.DB) *Calculator {
	return &Calculator{
		DB:        db,
		Claims:    &store.ClaimRepo{},
		Catalog:   &store.CatalogRepo{},
		Conflicts: &store.ConflictRepo{},
		cache:     make(map[domain.RegionKey]*domain.RegionOwnership),
	}
}

// Invalidate drops the cached ownership for one region.
func (c *Calculator) Invalidate(region domain.RegionKey) {
	c.mu.Lock()
	delete(c.cache, region)
	c.mu.Unlock()
}

// InvalidateAll drops the whole cache. Used after bulk mutations (transfers).
func (c *Calculator) InvalidateAll() {
	c.mu.Lock()
	c.cache = make(map[domain.RegionKey]*domain.RegionOwnership)
	c.mu.Unlock()
}

// RegionOwnership computes (or serves from cache) the ownership state of one
// region. A partner owns the region with strictly more than MajorityThreshold
// of its systems claimed; two or more claimants below that, or any active
// conflict targeting a system in the region, mark it contested.
func (c *Calculator) RegionOwnership(ctx context.Context, region domain.RegionKey) (*domain.RegionOwnership, error) {
	c.mu.Lock()
	if cached, ok := c.cache[region]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	ownership, err := c.compute(ctx, region)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[region] = ownership
	c.mu.Unlock()
	return ownership, nil
}

func (c *Calculator) compute(ctx context.Context, region domain.RegionKey) (*domain.RegionOwnership, error) {
	systems, err := c.Catalog.ListInRegion(ctx, c.DB, region)
	if err != nil {
		return nil, err
	}

	ownership := &domain.RegionOwnership{
		Region:       region,
		Shares:       make(map[string]float64),
		TotalSystems: len(systems),
	}
	if len(systems) == 0 {
		return ownership, nil
	}

	ids := make([]string, len(systems))
	for i, s := range systems {
		ids[i] = s.ID
	}

	claims, err := c.Claims.ListBySystemIDs(ctx, c.DB, ids)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, claim := range claims {
		counts[claim.PartnerID]++
	}
	ownership.ClaimedSystems = len(claims)

	total := float64(len(systems))
	for partnerID, n := range counts {
		share := float64(n) / total
		ownership.Shares[partnerID] = share * 100
		if share > MajorityThreshold {
			ownership.OwnerPartnerID = partnerID
			ownership.OwnershipPct = share * 100
		}
	}

	open, err := c.Conflicts.ListOpenByTargets(ctx, c.DB, ids)
	if err != nil {
		return nil, err
	}
	for _, conflict := range open {
		ownership.ActiveConflictIDs = append(ownership.ActiveConflictIDs, conflict.ID)
	}
	sort.Strings(ownership.ActiveConflictIDs)

	ownership.Contested = len(open) > 0 ||
		(len(counts) >= 2 && ownership.OwnerPartnerID == "")

	return ownership, nil
}

// PartnerTerritory groups a partner's claimed systems by region.
type PartnerTerritory struct {
	DiscordTag string                   `json:"discord_tag"`
	Systems    []domain.StarSystem      `json:"systems"`
	Regions    []domain.RegionOwnership `json:"regions"`
}

// TerritoryByTag returns the claimed systems carrying a civilization tag,
// grouped by region. Used to scope negotiable item pools.
func (c *Calculator) TerritoryByTag(ctx context.Context, tag string) (*PartnerTerritory, error) {
	systems, err := c.Catalog.ListByDiscordTag(ctx, c.DB, tag)
	if err != nil {
		return nil, err
	}

	territory := &PartnerTerritory{DiscordTag: tag}
	if len(systems) == 0 {
		return territory, nil
	}

	ids := make([]string, len(systems))
	byID := make(map[string]domain.StarSystem, len(systems))
	for i, s := range systems {
		ids[i] = s.ID
		byID[s.ID] = s
	}

	claims, err := c.Claims.ListBySystemIDs(ctx, c.DB, ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.RegionKey]bool)
	for _, claim := range claims {
		system := byID[claim.SystemID]
		territory.Systems = append(territory.Systems, system)
		if !seen[system.Region] {
			seen[system.Region] = true
			ownership, err := c.RegionOwnership(ctx, system.Region)
			if err != nil {
				return nil, err
			}
			territory.Regions = append(territory.Regions, *ownership)
		}
	}
	sort.Slice(territory.Systems, func(i, j int) bool {
		return territory.Systems[i].Name < territory.Systems[j].Name
	})
	return territory, nil
}

// MapData is the aggregate payload behind the war-room map.
type MapData struct {
	Regions             []domain.RegionOwnership `json:"regions"`
	HomeRegions         []domain.HomeRegion      `json:"home_regions"`
	EnrolledCivs        []string                 `json:"enrolled_civs"`
	ActiveConflictCount int                      `json:"active_conflict_count"`
}

// MapData computes ownership for every region holding at least one claim,
// plus home regions, enrolled civilizations, and the active conflict count.
func (c *Calculator) MapData(ctx context.Context, homeRegions *store.HomeRegionRepo) (*MapData, error) {
	regions, err := c.Catalog.ListClaimedRegions(ctx, c.DB)
	if err != nil {
		return nil, err
	}

	data := &MapData{}
	for _, region := range regions {
		ownership, err := c.RegionOwnership(ctx, region)
		if err != nil {
			return nil, err
		}
		data.Regions = append(data.Regions, *ownership)
	}

	data.HomeRegions, err = homeRegions.ListAll(ctx, c.DB)
	if err != nil {
		return nil, err
	}

	counts, err := c.Claims.CountByPartner(ctx, c.DB)
	if err != nil {
		return nil, err
	}
	for partnerID := range counts {
		data.EnrolledCivs = append(data.EnrolledCivs, partnerID)
	}
	sort.Strings(data.EnrolledCivs)

	active, err := c.Conflicts.ListActive(ctx, c.DB)
	if err != nil {
		return nil, err
	}
	data.ActiveConflictCount = len(active)

	return data, nil
}
