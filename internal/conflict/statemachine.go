// Package conflict owns the war lifecycle: declaration, the status state
// machine, peace negotiation, and territory transfer on resolution.
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

// ResolutionNegotiatedPeace marks a conflict ended by an accepted proposal.
const ResolutionNegotiatedPeace = "negotiated_peace"

// validTransitions defines the legal conflict status transitions.
// Each key is a source status, and the value is the set of valid targets.
var validTransitions = map[domain.ConflictStatus]map[domain.ConflictStatus]bool{
	domain.ConflictPending: {
		domain.ConflictAcknowledged: true,
		domain.ConflictCancelled:    true,
	},
	domain.ConflictAcknowledged: {
		domain.ConflictActive:    true,
		domain.ConflictResolved:  true, // negotiated peace before open hostilities
		domain.ConflictCancelled: true,
	},
	domain.ConflictActive: {
		domain.ConflictResolved:  true,
		domain.ConflictCancelled: true,
	},
}

// IsValidTransition checks if a status transition is legal.
func IsValidTransition(from, to domain.ConflictStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// StateMachine manages conflict lifecycle transitions. Every mutation on a
// single conflict is serialized through the state_version optimistic check.
type StateMachine struct {
	DB        *sql.DB
	Conflicts *store.ConflictRepo
	Claims    *store.ClaimRepo
	Catalog   *store.CatalogRepo
	Owner     *territory.Calculator
	Feed      *feed.Publisher
	Now       func() time.Time
}

// NewStateMachine wires a StateMachine over the shared database.
func NewStateMachine(db *sql.DB, owner *territory.Calculator, pub *feed.Publisher) *StateMachine {
	return &StateMachine{
		DB:        db,
		Conflicts: &store.ConflictRepo{},
		Claims:    &store.ClaimRepo{},
		Catalog:   &store.CatalogRepo{},
		Owner:     owner,
		Feed:      pub,
		Now:       time.Now,
	}
}

// Declare validates and creates a conflict in pending state.
// Validation order: the target must be claimed (its claimant is the computed
// defender unless a super-admin supplies an explicit pair), attacker and
// defender must differ, and no non-terminal conflict may already target the
// system. Any failure creates no state.
func (m *StateMachine) Declare(ctx context.Context, caller domain.Identity, targetSystemID, attackerID, defenderID string) (*domain.Conflict, error) {
	if (attackerID != "" && attackerID != caller.PartnerID) || defenderID != "" {
		if !caller.IsSuperAdmin {
			return nil, domain.ErrAdminOnly
		}
	}
	if attackerID == "" {
		attackerID = caller.PartnerID
	}

	system, err := m.Catalog.Get(ctx, m.DB, targetSystemID)
	if err != nil {
		return nil, err
	}

	claim, err := m.Claims.GetBySystem(ctx, m.DB, targetSystemID)
	if err != nil {
		if err == domain.ErrClaimNotFound {
			return nil, domain.ErrTargetUnclaimed
		}
		return nil, err
	}
	if defenderID == "" {
		defenderID = claim.PartnerID
	}

	if attackerID == defenderID {
		return nil, domain.ErrSelfConflict
	}

	if _, err := m.Conflicts.GetOpenByTarget(ctx, m.DB, targetSystemID); err == nil {
		return nil, domain.ErrDuplicateConflict
	} else if err != domain.ErrConflictNotFound {
		return nil, err
	}

	now := m.Now().Unix()
	conflict := domain.Conflict{
		ID:             uuid.NewString(),
		AttackerID:     attackerID,
		DefenderID:     defenderID,
		TargetSystemID: targetSystemID,
		Status:         domain.ConflictPending,
		StateVersion:   1,
		DeclaredAt:     now,
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := m.Conflicts.CreateTx(ctx, tx, conflict); err != nil {
		return nil, err
	}
	for _, party := range []domain.ConflictParty{
		{ConflictID: conflict.ID, PartnerID: attackerID, Side: domain.SideAttacker, IsPrimary: true},
		{ConflictID: conflict.ID, PartnerID: defenderID, Side: domain.SideDefender, IsPrimary: true},
	} {
		if err := m.Conflicts.AddPartyTx(ctx, tx, party); err != nil {
			return nil, err
		}
	}
	event := domain.ConflictEvent{
		ConflictID: conflict.ID,
		EventType:  domain.EventDeclared,
		Details:    fmt.Sprintf("%s declared war on %s over %s", attackerID, defenderID, system.Name),
		ActorID:    caller.PartnerID,
		CreatedAt:  now,
	}
	if err := m.Conflicts.AppendEventTx(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit declaration: %w", err)
	}

	m.Owner.Invalidate(system.Region)
	m.Feed.Publish(ctx, "war_declared",
		fmt.Sprintf("%s declared war on %s", attackerID, defenderID), event.Details, targetSystemID)
	m.Feed.Notify(ctx, []string{attackerID, defenderID},
		"War declared", event.Details)

	return &conflict, nil
}

// Acknowledge moves a pending conflict to acknowledged. Defender side only
// (or super-admin).
func (m *StateMachine) Acknowledge(ctx context.Context, caller domain.Identity, conflictID string) (*domain.Conflict, error) {
	conflict, err := m.Conflicts.GetByID(ctx, m.DB, conflictID)
	if err != nil {
		return nil, err
	}
	if !caller.IsSuperAdmin {
		side, ok, err := m.partySide(ctx, conflictID, caller.PartnerID)
		if err != nil {
			return nil, err
		}
		if !ok || side != domain.SideDefender {
			return nil, domain.ErrNotParticipant
		}
	}
	return m.transition(ctx, conflict, domain.ConflictAcknowledged, domain.EventAcknowledged,
		fmt.Sprintf("%s acknowledged the declaration", caller.PartnerID), caller.PartnerID, "")
}

// Activate moves an acknowledged conflict to active. Any primary party or a
// super-admin may open hostilities.
func (m *StateMachine) Activate(ctx context.Context, caller domain.Identity, conflictID string) (*domain.Conflict, error) {
	conflict, err := m.Conflicts.GetByID(ctx, m.DB, conflictID)
	if err != nil {
		return nil, err
	}
	if !caller.IsSuperAdmin {
		if _, ok, err := m.partySide(ctx, conflictID, caller.PartnerID); err != nil {
			return nil, err
		} else if !ok {
			return nil, domain.ErrNotParticipant
		}
	}
	return m.transition(ctx, conflict, domain.ConflictActive, domain.EventNote,
		"hostilities opened", caller.PartnerID, "")
}

// AddEvent appends a player-filed timeline entry. Rejected once the conflict
// is resolved or cancelled.
func (m *StateMachine) AddEvent(ctx context.Context, caller domain.Identity, conflictID string, eventType domain.ConflictEventType, details string) (*domain.ConflictEvent, error) {
	if !domain.PlayerEventTypes[eventType] {
		return nil, domain.ErrInvalidEventType
	}

	conflict, err := m.Conflicts.GetByID(ctx, m.DB, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status.Terminal() {
		return nil, domain.ErrConflictTerminal
	}
	if !caller.IsSuperAdmin {
		if _, ok, err := m.partySide(ctx, conflictID, caller.PartnerID); err != nil {
			return nil, err
		} else if !ok {
			return nil, domain.ErrNotParticipant
		}
	}

	event := domain.ConflictEvent{
		ConflictID: conflictID,
		EventType:  eventType,
		Details:    details,
		ActorID:    caller.PartnerID,
		CreatedAt:  m.Now().Unix(),
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Re-check under the write lock: a resolve or cancel may have committed
	// since the read above, and no event may land on a terminal conflict.
	current, err := m.Conflicts.GetByIDTx(ctx, tx, conflictID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, domain.ErrConflictTerminal
	}

	if err := m.Conflicts.AppendEventTx(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit event: %w", err)
	}
	return &event, nil
}

// AddParty enrolls an allied participant. Super-admin only.
func (m *StateMachine) AddParty(ctx context.Context, caller domain.Identity, conflictID, partnerID string, side domain.Side) error {
	if !caller.IsSuperAdmin {
		return domain.ErrAdminOnly
	}
	if side != domain.SideAttacker && side != domain.SideDefender {
		return domain.NewWarRoomError(domain.ErrInvalidDirection.Code, "side must be attacker or defender")
	}

	conflict, err := m.Conflicts.GetByID(ctx, m.DB, conflictID)
	if err != nil {
		return err
	}
	if conflict.Status.Terminal() {
		return domain.ErrConflictTerminal
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	party := domain.ConflictParty{ConflictID: conflictID, PartnerID: partnerID, Side: side}
	if err := m.Conflicts.AddPartyTx(ctx, tx, party); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit party: %w", err)
	}

	m.Feed.Notify(ctx, []string{partnerID}, "Joined conflict",
		fmt.Sprintf("enrolled on the %s side", side))
	return nil
}

// AdminResolve ends a conflict by explicit super-admin action, without
// transferring territory.
func (m *StateMachine) AdminResolve(ctx context.Context, caller domain.Identity, conflictID, resolution string) (*domain.Conflict, error) {
	if !caller.IsSuperAdmin {
		return nil, domain.ErrAdminOnly
	}
	conflict, err := m.Conflicts.GetByID(ctx, m.DB, conflictID)
	if err != nil {
		return nil, err
	}
	if resolution == "" {
		resolution = "admin_resolution"
	}
	resolved, err := m.transition(ctx, conflict, domain.ConflictResolved, domain.EventResolved,
		fmt.Sprintf("resolved by admin: %s", resolution), caller.PartnerID, resolution)
	if err != nil {
		return nil, err
	}
	m.notifyParties(ctx, conflictID, "Conflict resolved", resolved.Resolution)
	return resolved, nil
}

// Cancel is the admin-only emergency exit. No territory moves.
func (m *StateMachine) Cancel(ctx context.Context, caller domain.Identity, conflictID, reason string) (*domain.Conflict, error) {
	if !caller.IsSuperAdmin {
		return nil, domain.ErrAdminOnly
	}
	conflict, err := m.Conflicts.GetByID(ctx, m.DB, conflictID)
	if err != nil {
		return nil, err
	}
	cancelled, err := m.transition(ctx, conflict, domain.ConflictCancelled, domain.EventCancelled,
		reason, caller.PartnerID, "")
	if err != nil {
		return nil, err
	}
	m.notifyParties(ctx, conflictID, "Conflict cancelled", reason)
	return cancelled, nil
}

// Get returns one conflict.
func (m *StateMachine) Get(ctx context.Context, conflictID string) (*domain.Conflict, error) {
	return m.Conflicts.GetByID(ctx, m.DB, conflictID)
}

// ListActive returns every non-terminal conflict.
func (m *StateMachine) ListActive(ctx context.Context) ([]domain.Conflict, error) {
	return m.Conflicts.ListActive(ctx, m.DB)
}

// Events returns a conflict's timeline.
func (m *StateMachine) Events(ctx context.Context, conflictID string) ([]domain.ConflictEvent, error) {
	if _, err := m.Conflicts.GetByID(ctx, m.DB, conflictID); err != nil {
		return nil, err
	}
	return m.Conflicts.ListEvents(ctx, m.DB, conflictID)
}

// transition applies one status change with the optimistic version check,
// appending the system event in the same transaction.
func (m *StateMachine) transition(ctx context.Context, conflict *domain.Conflict, to domain.ConflictStatus, eventType domain.ConflictEventType, details, actorID, resolution string) (*domain.Conflict, error) {
	if conflict.Status.Terminal() {
		return nil, domain.ErrConflictTerminal
	}
	if !IsValidTransition(conflict.Status, to) {
		return nil, domain.NewWarRoomError(domain.ErrInvalidTransition.Code,
			fmt.Sprintf("illegal transition %s -> %s", conflict.Status, to))
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := m.Now().Unix()
	updated, err := m.transitionTx(ctx, tx, conflict, to, eventType, details, actorID, resolution, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	if system, err := m.Catalog.Get(ctx, m.DB, conflict.TargetSystemID); err == nil {
		m.Owner.Invalidate(system.Region)
	}
	return updated, nil
}

// transitionTx is the in-transaction half of transition, shared with the
// negotiation accept path so peace resolution commits atomically with the
// territory transfer.
func (m *StateMachine) transitionTx(ctx context.Context, tx *sql.Tx, conflict *domain.Conflict, to domain.ConflictStatus, eventType domain.ConflictEventType, details, actorID, resolution string, now int64) (*domain.Conflict, error) {
	updated := *conflict
	updated.Status = to
	if to == domain.ConflictResolved {
		updated.ResolvedAt = now
		updated.Resolution = resolution
	}

	event := domain.ConflictEvent{
		ConflictID: conflict.ID,
		EventType:  eventType,
		Details:    details,
		ActorID:    actorID,
		CreatedAt:  now,
	}
	if err := m.Conflicts.AppendEventTx(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := m.Conflicts.UpdateStateTx(ctx, tx, updated); err != nil {
		return nil, err
	}
	updated.StateVersion++
	return &updated, nil
}

// partySide reports which side a partner fights on, if any.
func (m *StateMachine) partySide(ctx context.Context, conflictID, partnerID string) (domain.Side, bool, error) {
	parties, err := m.Conflicts.ListParties(ctx, m.DB, conflictID)
	if err != nil {
		return "", false, err
	}
	for _, p := range parties {
		if p.PartnerID == partnerID {
			return p.Side, true, nil
		}
	}
	return "", false, nil
}

func (m *StateMachine) notifyParties(ctx context.Context, conflictID, title, message string) {
	parties, err := m.Conflicts.ListParties(ctx, m.DB, conflictID)
	if err != nil {
		return
	}
	ids := make([]string, 0, len(parties))
	for _, p := range parties {
		ids = append(ids, p.PartnerID)
	}
	m.Feed.Notify(ctx, ids, title, message)
}
