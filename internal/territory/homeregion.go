package territory

import (
	"context"
	"database/sql"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/store"
)

// HomeRegionService owns home-region registration. A home region is exempt
// from peace-treaty territory demands, so setting one is a partner-level
// commitment rather than a claim.
type HomeRegionService struct {
	DB   *sql.DB
	Repo *store.HomeRegionRepo
}

// NewHomeRegionService wires a HomeRegionService over the shared database.
func NewHomeRegionService(db *sql.DB) *HomeRegionService {
	return &HomeRegionService{DB: db, Repo: &store.HomeRegionRepo{}}
}

// Set registers or moves the caller's home region. Setting another partner's
// home region requires super-admin.
func (s *HomeRegionService) Set(ctx context.Context, caller domain.Identity, partnerID string, region domain.RegionKey) (*domain.HomeRegion, error) {
	if partnerID == "" {
		partnerID = caller.PartnerID
	}
	if partnerID != caller.PartnerID && !caller.IsSuperAdmin {
		return nil, domain.ErrAdminOnly
	}
	if region.Galaxy == "" {
		return nil, domain.ErrInvalidRegion
	}

	hr := domain.HomeRegion{PartnerID: partnerID, Region: region}
	if err := s.Repo.Set(ctx, s.DB, hr); err != nil {
		return nil, err
	}
	return &hr, nil
}

// Get returns a partner's home region, or ErrHomeRegionNotFound.
func (s *HomeRegionService) Get(ctx context.Context, partnerID string) (*domain.HomeRegion, error) {
	return s.Repo.Get(ctx, s.DB, partnerID)
}
