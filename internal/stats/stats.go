// Package stats maintains the per-partner war statistics aggregates.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/store"
	"github.com/nmscd/warroom/internal/territory"
)

// Service recomputes and serves the leaderboard aggregates. Recalculation is
// explicit (admin action) rather than incremental; reads serve the last
// computed snapshot.
type Service struct {
	DB        *sql.DB
	Stats     *store.StatsRepo
	Claims    *store.ClaimRepo
	Conflicts *store.ConflictRepo
	Proposals *store.ProposalRepo
	Catalog   *store.CatalogRepo
	Owner     *territory.Calculator
	Now       func() time.Time
}

// NewService wires a stats Service over the shared database.
func NewService(db *sql.DB, owner *territory.Calculator) *Service {
	return &Service{
		DB:        db,
		Stats:     &store.StatsRepo{},
		Claims:    &store.ClaimRepo{},
		Conflicts: &store.ConflictRepo{},
		Proposals: &store.ProposalRepo{},
		Catalog:   &store.CatalogRepo{},
		Owner:     owner,
		Now:       time.Now,
	}
}

// Recalculate rebuilds every partner's aggregates from claims, region
// ownership, conflicts, and accepted proposals. Super-admin only.
func (s *Service) Recalculate(ctx context.Context, caller domain.Identity) ([]domain.PartnerStats, error) {
	if !caller.IsSuperAdmin {
		return nil, domain.ErrAdminOnly
	}

	byPartner := make(map[string]*domain.PartnerStats)
	get := func(partnerID string) *domain.PartnerStats {
		if st, ok := byPartner[partnerID]; ok {
			return st
		}
		st := &domain.PartnerStats{PartnerID: partnerID}
		byPartner[partnerID] = st
		return st
	}

	claimCounts, err := s.Claims.CountByPartner(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	for partnerID, n := range claimCounts {
		get(partnerID).SystemsClaimed = n
	}

	regions, err := s.Catalog.ListClaimedRegions(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	for _, region := range regions {
		ownership, err := s.Owner.RegionOwnership(ctx, region)
		if err != nil {
			return nil, err
		}
		if ownership.OwnerPartnerID != "" {
			get(ownership.OwnerPartnerID).RegionsOwned++
		}
	}

	active, err := s.Conflicts.ListActive(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	for _, c := range active {
		get(c.AttackerID).ActiveConflicts++
		get(c.DefenderID).ActiveConflicts++
	}

	resolved, err := s.Conflicts.ListResolved(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	for _, c := range resolved {
		winner, loser, ok, err := s.outcome(ctx, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		get(winner).ConflictsWon++
		get(loser).ConflictsLost++
	}

	accepted, err := s.Proposals.CountAcceptedByPartner(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	for partnerID, n := range accepted {
		get(partnerID).ProposalsAccepted = n
	}

	now := s.Now().Unix()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.Stats.ClearTx(ctx, tx); err != nil {
		return nil, err
	}
	for _, st := range byPartner {
		st.UpdatedAt = now
		if err := s.Stats.UpsertTx(ctx, tx, *st); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit stats: %w", err)
	}

	return s.Stats.ListAll(ctx, s.DB)
}

// All returns the last computed aggregates for every partner.
func (s *Service) All(ctx context.Context) ([]domain.PartnerStats, error) {
	return s.Stats.ListAll(ctx, s.DB)
}

// Leaderboard returns the top partners by systems claimed, then wars won.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]domain.PartnerStats, error) {
	return s.Stats.Leaderboard(ctx, s.DB, limit)
}

// outcome names the winner of a resolved conflict: the primary that netted
// systems under the accepted treaty. Admin resolutions and even exchanges
// count for neither side.
func (s *Service) outcome(ctx context.Context, c domain.Conflict) (winner, loser string, ok bool, err error) {
	proposal, err := s.Proposals.GetAcceptedByConflict(ctx, s.DB, c.ID)
	if err != nil {
		if err == domain.ErrProposalNotFound {
			return "", "", false, nil
		}
		return "", "", false, err
	}

	// Positive balance favors the proposal's recipient.
	balance := 0
	for _, item := range proposal.Items {
		if item.Direction == domain.DirectionGive {
			balance++
		} else {
			balance--
		}
	}
	switch {
	case balance > 0:
		return proposal.RecipientID, proposal.ProposerID, true, nil
	case balance < 0:
		return proposal.ProposerID, proposal.RecipientID, true, nil
	default:
		return "", "", false, nil
	}
}
