package conflict

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/feed"
	"github.com/nmscd/warroom/internal/store"
	"github.com/nmscd/warroom/internal/territory"
)

var (
	testRegion  = domain.RegionKey{X: 10, Y: 20, Z: 30, Galaxy: "Euclid"}
	otherRegion = domain.RegionKey{X: 11, Y: 20, Z: 30, Galaxy: "Euclid"}

	alpha = domain.Identity{PartnerID: "alpha-civ"}
	beta  = domain.Identity{PartnerID: "beta-civ"}
	admin = domain.Identity{PartnerID: "admin", IsSuperAdmin: true}
)

type testEnv struct {
	db   *sql.DB
	calc *territory.Calculator
	sm   *StateMachine
	eng  *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	calc := territory.NewCalculator(db)
	pub := feed.NewPublisher(db, slog.New(slog.NewTextHandler(io.Discard, nil)), 100)
	sm := NewStateMachine(db, calc, pub)
	eng := NewEngine(db, sm, calc, pub, NegotiationConfig{
		CounterOfferCap:   2,
		AllowAcknowledged: true,
	})
	return &testEnv{db: db, calc: calc, sm: sm, eng: eng}
}

func (e *testEnv) seedSystem(t *testing.T, id, name string, region domain.RegionKey) {
	t.Helper()
	repo := &store.CatalogRepo{}
	err := repo.Upsert(context.Background(), e.db, domain.StarSystem{
		ID: id, Name: name, Region: region,
	})
	if err != nil {
		t.Fatalf("seed system %s: %v", id, err)
	}
}

func (e *testEnv) seedClaim(t *testing.T, systemID, partnerID string) string {
	t.Helper()
	repo := &store.ClaimRepo{}
	tx, err := e.db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	claim := domain.TerritoryClaim{
		ID: uuid.NewString(), SystemID: systemID, PartnerID: partnerID, CreatedAt: 1,
	}
	if err := repo.CreateTx(context.Background(), tx, claim); err != nil {
		tx.Rollback()
		t.Fatalf("seed claim %s: %v", systemID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit seed claim: %v", err)
	}
	return claim.ID
}

// declareOn seeds a claimed system and declares war on it.
func (e *testEnv) declareOn(t *testing.T, systemID string) *domain.Conflict {
	t.Helper()
	e.seedSystem(t, systemID, "System "+systemID, testRegion)
	e.seedClaim(t, systemID, alpha.PartnerID)
	c, err := e.sm.Declare(context.Background(), beta, systemID, "", "")
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	return c
}

func TestDeclare_DefenderIsClaimant(t *testing.T) {
	env := newTestEnv(t)
	c := env.declareOn(t, "sys-x")

	if c.AttackerID != beta.PartnerID {
		t.Errorf("AttackerID = %q, want caller", c.AttackerID)
	}
	if c.DefenderID != alpha.PartnerID {
		t.Errorf("DefenderID = %q, want claimant", c.DefenderID)
	}
	if c.Status != domain.ConflictPending {
		t.Errorf("Status = %q, want pending", c.Status)
	}

	events, err := env.sm.Events(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != domain.EventDeclared {
		t.Errorf("expected a single declared event, got %v", events)
	}

	parties, err := env.sm.Conflicts.ListParties(context.Background(), env.db, c.ID)
	if err != nil {
		t.Fatalf("ListParties: %v", err)
	}
	if len(parties) != 2 {
		t.Errorf("expected 2 primary parties, got %d", len(parties))
	}
}

func TestDeclare_TargetUnclaimed(t *testing.T) {
	env := newTestEnv(t)
	env.seedSystem(t, "sys-free", "Free", testRegion)

	_, err := env.sm.Declare(context.Background(), beta, "sys-free", "", "")
	if err != domain.ErrTargetUnclaimed {
		t.Errorf("expected ErrTargetUnclaimed, got %v", err)
	}
}

func TestDeclare_UnknownSystem(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sm.Declare(context.Background(), beta, "ghost", "", "")
	if err != domain.ErrSystemUnknown {
		t.Errorf("expected ErrSystemUnknown, got %v", err)
	}
}

func TestDeclare_SelfConflict(t *testing.T) {
	env := newTestEnv(t)
	env.seedSystem(t, "sys-own", "Own", testRegion)
	env.seedClaim(t, "sys-own", alpha.PartnerID)

	_, err := env.sm.Declare(context.Background(), alpha, "sys-own", "", "")
	if err != domain.ErrSelfConflict {
		t.Errorf("expected ErrSelfConflict, got %v", err)
	}

	// A failed declaration creates nothing targeting the system.
	if _, err := env.sm.Conflicts.GetOpenByTarget(context.Background(), env.db, "sys-own"); err != domain.ErrConflictNotFound {
		t.Errorf("expected no open conflict, got %v", err)
	}
}

func TestDeclare_DuplicateTarget(t *testing.T) {
	env := newTestEnv(t)
	env.declareOn(t, "sys-x")

	gamma := domain.Identity{PartnerID: "gamma-civ"}
	_, err := env.sm.Declare(context.Background(), gamma, "sys-x", "", "")
	if err != domain.ErrDuplicateConflict {
		t.Errorf("expected ErrDuplicateConflict, got %v", err)
	}
}

func TestDeclare_ExplicitPairNeedsAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.seedSystem(t, "sys-x", "X", testRegion)
	env.seedClaim(t, "sys-x", alpha.PartnerID)

	_, err := env.sm.Declare(context.Background(), beta, "sys-x", "gamma-civ", alpha.PartnerID)
	if err != domain.ErrAdminOnly {
		t.Errorf("expected ErrAdminOnly, got %v", err)
	}

	c, err := env.sm.Declare(context.Background(), admin, "sys-x", "gamma-civ", alpha.PartnerID)
	if err != nil {
		t.Fatalf("admin Declare: %v", err)
	}
	if c.AttackerID != "gamma-civ" {
		t.Errorf("AttackerID = %q, want gamma-civ", c.AttackerID)
	}
}

func TestAcknowledge_DefenderOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.declareOn(t, "sys-x")
	ctx := context.Background()

	// The attacker cannot acknowledge their own declaration.
	if _, err := env.sm.Acknowledge(ctx, beta, c.ID); err != domain.ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant for attacker, got %v", err)
	}

	ack, err := env.sm.Acknowledge(ctx, alpha, c.ID)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if ack.Status != domain.ConflictAcknowledged {
		t.Errorf("Status = %q, want acknowledged", ack.Status)
	}
}

func TestActivate_RequiresAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	c := env.declareOn(t, "sys-x")
	ctx := context.Background()

	_, err := env.sm.Activate(ctx, beta, c.ID)
	if domain.CodeOf(err) != domain.ErrInvalidTransition.Code {
		t.Errorf("expected invalid-transition code, got %v", err)
	}

	if _, err := env.sm.Acknowledge(ctx, alpha, c.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	active, err := env.sm.Activate(ctx, beta, c.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if active.Status != domain.ConflictActive {
		t.Errorf("Status = %q, want active", active.Status)
	}
}

func TestAddEvent_Rules(t *testing.T) {
	env := newTestEnv(t)
	c := env.declareOn(t, "sys-x")
	ctx := context.Background()

	// Only player-filed event types are accepted.
	if _, err := env.sm.AddEvent(ctx, beta, c.ID, domain.EventResolved, "nope"); err != domain.ErrInvalidEventType {
		t.Errorf("expected ErrInvalidEventType, got %v", err)
	}

	// Non-participants are turned away.
	gamma := domain.Identity{PartnerID: "gamma-civ"}
	if _, err := env.sm.AddEvent(ctx, gamma, c.ID, domain.EventSkirmish, ""); err != domain.ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}

	ev, err := env.sm.AddEvent(ctx, beta, c.ID, domain.EventSkirmish, "raid on the outer belt")
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if ev.ActorID != beta.PartnerID {
		t.Errorf("ActorID = %q, want beta", ev.ActorID)
	}

	// Terminal conflicts accept no further events.
	if _, err := env.sm.Cancel(ctx, admin, c.ID, "drill over"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := env.sm.AddEvent(ctx, beta, c.ID, domain.EventSkirmish, ""); err != domain.ErrConflictTerminal {
		t.Errorf("expected ErrConflictTerminal, got %v", err)
	}
}

// A conflict can resolve between the initial status read and the event
// insert; the insert transaction must re-check and refuse to file on a
// terminal conflict.
func TestAddEvent_ResolvedDuringFiling(t *testing.T) {
	env := newTestEnv(t)
	c := env.declareOn(t, "sys-x")
	ctx := context.Background()

	before, err := env.sm.Events(ctx, c.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	// The clock hook runs after the first status read and before the
	// transaction opens. Resolve the conflict there, out of band.
	resolved := false
	env.sm.Now = func() time.Time {
		if !resolved {
			resolved = true
			tx, err := env.db.Begin()
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			current, err := env.sm.Conflicts.GetByIDTx(ctx, tx, c.ID)
			if err != nil {
				t.Fatalf("GetByIDTx: %v", err)
			}
			current.Status = domain.ConflictResolved
			current.ResolvedAt = 99
			current.Resolution = "admin_decree"
			if err := env.sm.Conflicts.UpdateStateTx(ctx, tx, *current); err != nil {
				t.Fatalf("UpdateStateTx: %v", err)
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("commit: %v", err)
			}
		}
		return time.Unix(1_700_000_000, 0)
	}

	if _, err := env.sm.AddEvent(ctx, beta, c.ID, domain.EventSkirmish, "late raid"); err != domain.ErrConflictTerminal {
		t.Fatalf("expected ErrConflictTerminal, got %v", err)
	}

	after, err := env.sm.Events(ctx, c.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("event count = %d, want %d: no event may land on a resolved conflict", len(after), len(before))
	}
}

func TestAdminResolve(t *testing.T) {
	env := newTestEnv(t)
	c := env.declareOn(t, "sys-x")
	ctx := context.Background()

	if _, err := env.sm.AdminResolve(ctx, beta, c.ID, ""); err != domain.ErrAdminOnly {
		t.Errorf("expected ErrAdminOnly, got %v", err)
	}

	// Resolution from pending is not a legal transition.
	if _, err := env.sm.AdminResolve(ctx, admin, c.ID, ""); domain.CodeOf(err) != domain.ErrInvalidTransition.Code {
		t.Errorf("expected invalid-transition code from pending, got %v", err)
	}

	if _, err := env.sm.Acknowledge(ctx, alpha, c.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	resolved, err := env.sm.AdminResolve(ctx, admin, c.ID, "")
	if err != nil {
		t.Fatalf("AdminResolve: %v", err)
	}
	if resolved.Status != domain.ConflictResolved {
		t.Errorf("Status = %q, want resolved", resolved.Status)
	}
	if resolved.Resolution != "admin_resolution" {
		t.Errorf("Resolution = %q, want admin_resolution", resolved.Resolution)
	}
	if resolved.ResolvedAt == 0 {
		t.Error("ResolvedAt should be stamped")
	}

	// No further transitions out of a terminal state.
	if _, err := env.sm.Cancel(ctx, admin, c.ID, ""); err != domain.ErrConflictTerminal {
		t.Errorf("expected ErrConflictTerminal, got %v", err)
	}
}

func TestAddParty_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.declareOn(t, "sys-x")
	ctx := context.Background()

	if err := env.sm.AddParty(ctx, beta, c.ID, "gamma-civ", domain.SideAttacker); err != domain.ErrAdminOnly {
		t.Errorf("expected ErrAdminOnly, got %v", err)
	}
	if err := env.sm.AddParty(ctx, admin, c.ID, "gamma-civ", domain.SideAttacker); err != nil {
		t.Fatalf("AddParty: %v", err)
	}

	// An ally may file events but is not a primary negotiator.
	gamma := domain.Identity{PartnerID: "gamma-civ"}
	if _, err := env.sm.AddEvent(ctx, gamma, c.ID, domain.EventReinforcement, "fleet arrived"); err != nil {
		t.Errorf("ally AddEvent: %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from, to domain.ConflictStatus
	}{
		{domain.ConflictPending, domain.ConflictAcknowledged},
		{domain.ConflictPending, domain.ConflictCancelled},
		{domain.ConflictAcknowledged, domain.ConflictActive},
		{domain.ConflictAcknowledged, domain.ConflictResolved},
		{domain.ConflictAcknowledged, domain.ConflictCancelled},
		{domain.ConflictActive, domain.ConflictResolved},
		{domain.ConflictActive, domain.ConflictCancelled},
	}
	for _, tr := range legal {
		if !IsValidTransition(tr.from, tr.to) {
			t.Errorf("IsValidTransition(%s, %s) = false, want true", tr.from, tr.to)
		}
	}

	illegal := []struct {
		from, to domain.ConflictStatus
	}{
		{domain.ConflictPending, domain.ConflictActive},
		{domain.ConflictPending, domain.ConflictResolved},
		{domain.ConflictActive, domain.ConflictPending},
		{domain.ConflictResolved, domain.ConflictActive},
		{domain.ConflictCancelled, domain.ConflictPending},
	}
	for _, tr := range illegal {
		if IsValidTransition(tr.from, tr.to) {
			t.Errorf("IsValidTransition(%s, %s) = true, want false", tr.from, tr.to)
		}
	}
}
