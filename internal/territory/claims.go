// Package territory owns the claim record and the derived region ownership.
package territory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/feed"
	"github.com/nmscd/warroom/internal/store"
)

// ClaimService is the ClaimStore: it owns which partner claims which system.
type ClaimService struct {
	DB      *sql.DB
	Claims  *store.ClaimRepo
	Catalog *store.CatalogRepo
	Owner   *Calculator
	Feed    *feed.Publisher
	Now     func() time.Time
}

// NewClaimService wires a ClaimService over the shared database.
func NewClaimService(db *sql.DB, owner *Calculator, pub *feed.Publisher) *ClaimService {
	return &ClaimService{
		DB:      db,
		Claims:  &store.ClaimRepo{},
		Catalog: &store.CatalogRepo{},
		Owner:   owner,
		Feed:    pub,
		Now:     time.Now,
	}
}

// Claim records a claim on a system. Claiming on behalf of another partner
// requires super-admin. Two concurrent claims on one system race to exactly
// one winner; the loser gets ErrAlreadyClaimed.
func (s *ClaimService) Claim(ctx context.Context, caller domain.Identity, systemID, partnerID, notes string) (*domain.TerritoryClaim, error) {
	if partnerID == "" {
		partnerID = caller.PartnerID
	}
	if partnerID != caller.PartnerID && !caller.IsSuperAdmin {
		return nil, domain.ErrAdminOnly
	}

	system, err := s.Catalog.Get(ctx, s.DB, systemID)
	if err != nil {
		return nil, err
	}

	claim := domain.TerritoryClaim{
		ID:        uuid.NewString(),
		SystemID:  systemID,
		PartnerID: partnerID,
		Notes:     notes,
		CreatedAt: s.Now().Unix(),
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.Claims.CreateTx(ctx, tx, claim); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	s.Owner.Invalidate(system.Region)
	s.Feed.Publish(ctx, "territory_claimed",
		fmt.Sprintf("%s claimed by %s", system.Name, partnerID), notes, systemID)

	return &claim, nil
}

// Release removes a claim. Only the claimant or a super-admin may release.
func (s *ClaimService) Release(ctx context.Context, caller domain.Identity, claimID string) error {
	claim, err := s.Claims.GetByID(ctx, s.DB, claimID)
	if err != nil {
		return err
	}
	if claim.PartnerID != caller.PartnerID && !caller.IsSuperAdmin {
		return domain.ErrNotClaimant
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.Claims.DeleteTx(ctx, tx, claimID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release: %w", err)
	}

	if system, err := s.Catalog.Get(ctx, s.DB, claim.SystemID); err == nil {
		s.Owner.Invalidate(system.Region)
		s.Feed.Publish(ctx, "territory_released",
			fmt.Sprintf("%s released by %s", system.Name, claim.PartnerID), "", claim.SystemID)
	}
	return nil
}

// ListByPartner returns a partner's claims. Read path, no side effects.
func (s *ClaimService) ListByPartner(ctx context.Context, partnerID string) ([]domain.TerritoryClaim, error) {
	return s.Claims.ListByPartner(ctx, s.DB, partnerID)
}

// ListAll returns every claim. Read path, no side effects.
func (s *ClaimService) ListAll(ctx context.Context) ([]domain.TerritoryClaim, error) {
	return s.Claims.ListAll(ctx, s.DB)
}

// ListBySystemIDs returns the claims on the given systems.
func (s *ClaimService) ListBySystemIDs(ctx context.Context, systemIDs []string) ([]domain.TerritoryClaim, error) {
	return s.Claims.ListBySystemIDs(ctx, s.DB, systemIDs)
}
