package conflict

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/feed"
	"github.com/nmscd/warroom/internal/store"
	"github.com/nmscd/warroom/internal/territory"
)

// NegotiationConfig bounds the proposal exchange.
type NegotiationConfig struct {
	CounterOfferCap   int
	AllowAcknowledged bool
}

// ItemInput is one requested territory movement, direction relative to the
// proposer.
type ItemInput struct {
	SystemID  string               `json:"system_id"`
	Direction domain.ItemDirection `json:"direction"`
}

// NegotiationStatus summarizes where a conflict's peace talks stand.
type NegotiationStatus struct {
	ConflictStatus       domain.ConflictStatus `json:"conflict_status"`
	PendingProposalID    string                `json:"pending_proposal_id,omitempty"`
	AttackerCountersUsed int                   `json:"attacker_counters_used"`
	DefenderCountersUsed int                   `json:"defender_counters_used"`
	CounterCap           int                   `json:"counter_cap"`
	AttackerCanCounter   bool                  `json:"attacker_can_counter"`
	DefenderCanCounter   bool                  `json:"defender_can_counter"`
}

// Engine runs the peace-proposal exchange for conflicts.
type Engine struct {
	DB          *sql.DB
	Conflicts   *store.ConflictRepo
	Proposals   *store.ProposalRepo
	Claims      *store.ClaimRepo
	Catalog     *store.CatalogRepo
	HomeRegions *store.HomeRegionRepo
	SM          *StateMachine
	Resolver    *TransferResolver
	Owner       *territory.Calculator
	Feed        *feed.Publisher
	Config      NegotiationConfig
	Now         func() time.Time
}

// NewEngine wires a negotiation Engine over the shared database.
func NewEngine(db *sql.DB, sm *StateMachine, owner *territory.Calculator, pub *feed.Publisher, cfg NegotiationConfig) *Engine {
	return &Engine{
		DB:          db,
		Conflicts:   &store.ConflictRepo{},
		Proposals:   &store.ProposalRepo{},
		Claims:      &store.ClaimRepo{},
		Catalog:     &store.CatalogRepo{},
		HomeRegions: &store.HomeRegionRepo{},
		SM:          sm,
		Resolver:    NewTransferResolver(),
		Owner:       owner,
		Feed:        pub,
		Config:      cfg,
		Now:         time.Now,
	}
}

// Propose files a peace proposal or a counter-offer. All preconditions are
// checked before any write; a counter that would exceed the side's cap fails
// with the counter-limit error and leaves negotiation state unchanged.
func (e *Engine) Propose(ctx context.Context, caller domain.Identity, conflictID string, items []ItemInput, message string, isCounter bool) (*domain.PeaceProposal, error) {
	conflict, err := e.Conflicts.GetByID(ctx, e.DB, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status.Terminal() {
		return nil, domain.ErrConflictTerminal
	}
	if !e.negotiable(conflict.Status) {
		return nil, domain.ErrNotNegotiable
	}

	side, err := e.primarySide(conflict, caller.PartnerID)
	if err != nil {
		return nil, err
	}
	recipient := conflict.DefenderID
	if side == domain.SideDefender {
		recipient = conflict.AttackerID
	}

	pending, err := e.Proposals.GetPendingByConflict(ctx, e.DB, conflictID)
	if err != nil && err != domain.ErrProposalNotFound {
		return nil, err
	}

	var superseded string
	if isCounter {
		prev := pending
		if prev == nil {
			latest, err := e.Proposals.GetLatestByConflict(ctx, e.DB, conflictID)
			if err != nil {
				if err == domain.ErrProposalNotFound {
					return nil, domain.ErrNoProposalToCounter
				}
				return nil, err
			}
			if latest.Status != domain.ProposalRejected || latest.WalkAway {
				return nil, domain.ErrNoProposalToCounter
			}
			prev = latest
		}
		if prev.RecipientID != caller.PartnerID {
			return nil, domain.ErrNotRecipient
		}
		if e.countersUsed(conflict, side) >= e.Config.CounterOfferCap {
			return nil, domain.ErrCounterLimitExceeded
		}
		superseded = prev.ID
	} else if pending != nil {
		return nil, domain.ErrPendingProposal
	}

	if err := e.validateItems(ctx, conflict, caller.PartnerID, recipient, items); err != nil {
		return nil, err
	}

	proposal := domain.PeaceProposal{
		ID:          uuid.NewString(),
		ConflictID:  conflictID,
		ProposerID:  caller.PartnerID,
		RecipientID: recipient,
		Status:      domain.ProposalPending,
		Type:        domain.ProposalInitial,
		Message:     message,
		ProposedAt:  e.Now().Unix(),
	}
	if isCounter {
		proposal.Type = domain.ProposalCounter
		proposal.CounterNumber = e.countersUsed(conflict, side) + 1
	}
	for _, item := range items {
		proposal.Items = append(proposal.Items, domain.ProposalItem{
			ProposalID: proposal.ID,
			SystemID:   item.SystemID,
			Direction:  item.Direction,
		})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if superseded != "" {
		if err := e.Proposals.SupersedeTx(ctx, tx, superseded); err != nil {
			return nil, err
		}
	}
	if err := e.Proposals.CreateTx(ctx, tx, proposal); err != nil {
		return nil, err
	}
	if isCounter {
		// Burning a counter mutates the conflict row, which also arbitrates
		// concurrent counters through the version check.
		updated := *conflict
		if side == domain.SideAttacker {
			updated.AttackerCounters++
		} else {
			updated.DefenderCounters++
		}
		if err := e.Conflicts.UpdateStateTx(ctx, tx, updated); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit proposal: %w", err)
	}

	kind := "peace_proposed"
	if isCounter {
		kind = "peace_countered"
	}
	e.Feed.Publish(ctx, kind,
		fmt.Sprintf("%s offered terms to %s", caller.PartnerID, recipient), message, conflict.TargetSystemID)
	e.Feed.Notify(ctx, []string{recipient}, "Peace proposal received", message)

	return &proposal, nil
}

// Accept applies an accepted proposal: territory transfer, proposal
// acceptance, and conflict resolution commit in one transaction. If the
// transfer fails everything rolls back — the proposal stays pending and the
// conflict stays unresolved, so the client may retry.
func (e *Engine) Accept(ctx context.Context, caller domain.Identity, proposalID string) (*domain.Conflict, *domain.TransferResult, error) {
	proposal, err := e.Proposals.GetByID(ctx, e.DB, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if proposal.Status != domain.ProposalPending {
		return nil, nil, domain.ErrProposalNotPending
	}
	if proposal.RecipientID != caller.PartnerID {
		return nil, nil, domain.ErrNotRecipient
	}

	conflict, err := e.Conflicts.GetByID(ctx, e.DB, proposal.ConflictID)
	if err != nil {
		return nil, nil, err
	}
	if conflict.Status.Terminal() {
		return nil, nil, domain.ErrConflictTerminal
	}

	planned := make([]PlannedTransfer, 0, len(proposal.Items))
	for _, item := range proposal.Items {
		from, to := proposal.ProposerID, proposal.RecipientID
		if item.Direction == domain.DirectionReceive {
			from, to = proposal.RecipientID, proposal.ProposerID
		}
		planned = append(planned, PlannedTransfer{
			SystemID:      item.SystemID,
			FromPartnerID: from,
			ToPartnerID:   to,
		})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := e.Resolver.TransferTx(ctx, tx, conflict.ID, planned)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Proposals.UpdateStatusTx(ctx, tx, proposal.ID, domain.ProposalAccepted); err != nil {
		return nil, nil, err
	}
	now := e.Now().Unix()
	resolved, err := e.SM.transitionTx(ctx, tx, conflict, domain.ConflictResolved, domain.EventResolved,
		fmt.Sprintf("peace accepted by %s", caller.PartnerID), caller.PartnerID, ResolutionNegotiatedPeace, now)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, domain.WrapWarRoomError(domain.ErrTransferFailed.Code, "commit acceptance", err)
	}

	// Transfers may touch several regions; drop the whole cache.
	e.Owner.InvalidateAll()
	e.Feed.Publish(ctx, "peace_accepted",
		fmt.Sprintf("%s and %s signed a peace treaty", conflict.AttackerID, conflict.DefenderID),
		fmt.Sprintf("%d system(s) changed hands", len(result.Reassigned)), conflict.TargetSystemID)
	e.SM.notifyParties(ctx, conflict.ID, "Peace treaty signed",
		fmt.Sprintf("the conflict over %s is resolved", conflict.TargetSystemID))

	return resolved, result, nil
}

// Reject declines a pending proposal. With walkAway the negotiation ends and
// the war continues; without it the door stays open for a counter-offer,
// subject to the cap.
func (e *Engine) Reject(ctx context.Context, caller domain.Identity, proposalID string, walkAway bool) (*domain.PeaceProposal, error) {
	proposal, err := e.Proposals.GetByID(ctx, e.DB, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != domain.ProposalPending {
		return nil, domain.ErrProposalNotPending
	}
	if proposal.RecipientID != caller.PartnerID {
		return nil, domain.ErrNotRecipient
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.Proposals.RejectTx(ctx, tx, proposalID, walkAway); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rejection: %w", err)
	}

	proposal.Status = domain.ProposalRejected
	proposal.WalkAway = walkAway

	detail := "terms rejected"
	if walkAway {
		detail = "negotiation ended, the war continues"
	}
	e.Feed.Publish(ctx, "peace_rejected",
		fmt.Sprintf("%s rejected the terms from %s", caller.PartnerID, proposal.ProposerID), detail, "")
	e.Feed.Notify(ctx, []string{proposal.ProposerID}, "Peace proposal rejected", detail)

	return proposal, nil
}

// Status reports where a conflict's negotiation stands.
func (e *Engine) Status(ctx context.Context, conflictID string) (*NegotiationStatus, error) {
	conflict, err := e.Conflicts.GetByID(ctx, e.DB, conflictID)
	if err != nil {
		return nil, err
	}

	status := &NegotiationStatus{
		ConflictStatus:       conflict.Status,
		AttackerCountersUsed: conflict.AttackerCounters,
		DefenderCountersUsed: conflict.DefenderCounters,
		CounterCap:           e.Config.CounterOfferCap,
		AttackerCanCounter:   conflict.AttackerCounters < e.Config.CounterOfferCap,
		DefenderCanCounter:   conflict.DefenderCounters < e.Config.CounterOfferCap,
	}

	pending, err := e.Proposals.GetPendingByConflict(ctx, e.DB, conflictID)
	if err != nil && err != domain.ErrProposalNotFound {
		return nil, err
	}
	if pending != nil {
		status.PendingProposalID = pending.ID
	}
	return status, nil
}

// History returns a conflict's full proposal exchange.
func (e *Engine) History(ctx context.Context, conflictID string) ([]domain.PeaceProposal, error) {
	if _, err := e.Conflicts.GetByID(ctx, e.DB, conflictID); err != nil {
		return nil, err
	}
	return e.Proposals.ListByConflict(ctx, e.DB, conflictID)
}

func (e *Engine) negotiable(status domain.ConflictStatus) bool {
	if status == domain.ConflictActive {
		return true
	}
	return status == domain.ConflictAcknowledged && e.Config.AllowAcknowledged
}

func (e *Engine) primarySide(conflict *domain.Conflict, partnerID string) (domain.Side, error) {
	switch partnerID {
	case conflict.AttackerID:
		return domain.SideAttacker, nil
	case conflict.DefenderID:
		return domain.SideDefender, nil
	default:
		return "", domain.ErrNotParticipant
	}
}

func (e *Engine) countersUsed(conflict *domain.Conflict, side domain.Side) int {
	if side == domain.SideAttacker {
		return conflict.AttackerCounters
	}
	return conflict.DefenderCounters
}

// validateItems enforces the give-item ownership rule and the home-region
// exemption for both directions of the exchange.
func (e *Engine) validateItems(ctx context.Context, conflict *domain.Conflict, proposerID, recipientID string, items []ItemInput) error {
	var protected []domain.RegionKey
	for _, partnerID := range []string{conflict.AttackerID, conflict.DefenderID} {
		hr, err := e.HomeRegions.Get(ctx, e.DB, partnerID)
		if err != nil {
			if err == domain.ErrHomeRegionNotFound {
				continue
			}
			return err
		}
		protected = append(protected, hr.Region)
	}

	for _, item := range items {
		giver := proposerID
		switch item.Direction {
		case domain.DirectionGive:
		case domain.DirectionReceive:
			giver = recipientID
		default:
			return domain.ErrInvalidDirection
		}

		claim, err := e.Claims.GetBySystem(ctx, e.DB, item.SystemID)
		if err != nil {
			if err == domain.ErrClaimNotFound {
				return domain.NewWarRoomError(domain.ErrItemNotOwned.Code,
					fmt.Sprintf("system %s is unclaimed", item.SystemID))
			}
			return err
		}
		if claim.PartnerID != giver {
			return domain.NewWarRoomError(domain.ErrItemNotOwned.Code,
				fmt.Sprintf("system %s is not claimed by %s", item.SystemID, giver))
		}

		system, err := e.Catalog.Get(ctx, e.DB, item.SystemID)
		if err != nil {
			return err
		}
		for _, region := range protected {
			if system.Region == region {
				return domain.NewWarRoomError(domain.ErrHomeRegionProtected.Code,
					fmt.Sprintf("system %s lies in a protected home region", item.SystemID))
			}
		}
	}
	return nil
}
