package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/store"
)

// activeConflict runs the declare/acknowledge/activate dance over sys-x,
// claimed by alpha, attacked by beta.
func (e *testEnv) activeConflict(t *testing.T) *domain.Conflict {
	t.Helper()
	ctx := context.Background()
	c := e.declareOn(t, "sys-x")
	if _, err := e.sm.Acknowledge(ctx, alpha, c.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	active, err := e.sm.Activate(ctx, beta, c.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return active
}

func receiveX() []ItemInput {
	return []ItemInput{{SystemID: "sys-x", Direction: domain.DirectionReceive}}
}

func giveX() []ItemInput {
	return []ItemInput{{SystemID: "sys-x", Direction: domain.DirectionGive}}
}

// TestNegotiation_FullWar walks a complete war: declaration, the proposal
// exchange down to the counter-offer cap, and the treaty that hands the
// contested system to the attacker.
func TestNegotiation_FullWar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeConflict(t)

	// Attacker opens: "give me sys-x".
	initial, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "surrender the system", false)
	if err != nil {
		t.Fatalf("initial Propose: %v", err)
	}
	if initial.Type != domain.ProposalInitial || initial.CounterNumber != 0 {
		t.Errorf("initial = %+v, want initial type with counter 0", initial)
	}

	// Counters alternate until both sides burn their cap of 2.
	counters := []struct {
		who   domain.Identity
		items []ItemInput
	}{
		{alpha, giveX()},    // defender counter 1
		{beta, receiveX()},  // attacker counter 1
		{alpha, giveX()},    // defender counter 2
		{beta, receiveX()},  // attacker counter 2
	}
	var last *domain.PeaceProposal
	for i, step := range counters {
		last, err = env.eng.Propose(ctx, step.who, c.ID, step.items, "", true)
		if err != nil {
			t.Fatalf("counter %d by %s: %v", i+1, step.who.PartnerID, err)
		}
		if last.Type != domain.ProposalCounter {
			t.Errorf("counter %d type = %q, want counter", i+1, last.Type)
		}
	}
	if last.CounterNumber != 2 {
		t.Errorf("final CounterNumber = %d, want 2", last.CounterNumber)
	}

	// The defender is out of counters.
	if _, err := env.eng.Propose(ctx, alpha, c.ID, giveX(), "", true); err != domain.ErrCounterLimitExceeded {
		t.Errorf("expected ErrCounterLimitExceeded, got %v", err)
	}

	status, err := env.eng.Status(ctx, c.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.AttackerCountersUsed != 2 || status.DefenderCountersUsed != 2 {
		t.Errorf("counters used = %d/%d, want 2/2", status.AttackerCountersUsed, status.DefenderCountersUsed)
	}
	if status.AttackerCanCounter || status.DefenderCanCounter {
		t.Error("neither side should be able to counter")
	}
	if status.PendingProposalID != last.ID {
		t.Errorf("PendingProposalID = %q, want %q", status.PendingProposalID, last.ID)
	}

	// Accept or walk away are all that remain; the defender accepts.
	resolved, result, err := env.eng.Accept(ctx, alpha, last.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if resolved.Status != domain.ConflictResolved {
		t.Errorf("conflict Status = %q, want resolved", resolved.Status)
	}
	if resolved.Resolution != ResolutionNegotiatedPeace {
		t.Errorf("Resolution = %q, want %q", resolved.Resolution, ResolutionNegotiatedPeace)
	}
	if len(result.Reassigned) != 1 || result.Reassigned[0].ToPartnerID != beta.PartnerID {
		t.Fatalf("Reassigned = %+v, want sys-x to beta", result.Reassigned)
	}

	claims := &store.ClaimRepo{}
	claim, err := claims.GetBySystem(ctx, env.db, "sys-x")
	if err != nil {
		t.Fatalf("GetBySystem after transfer: %v", err)
	}
	if claim.PartnerID != beta.PartnerID {
		t.Errorf("sys-x held by %q after treaty, want beta", claim.PartnerID)
	}

	history, err := env.eng.History(ctx, c.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	for _, p := range history[:4] {
		if p.Status != domain.ProposalSuperseded {
			t.Errorf("proposal %s status = %q, want superseded", p.ID, p.Status)
		}
	}
	if history[4].Status != domain.ProposalAccepted {
		t.Errorf("final proposal status = %q, want accepted", history[4].Status)
	}
}

func TestPropose_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeConflict(t)

	gamma := domain.Identity{PartnerID: "gamma-civ"}
	if _, err := env.eng.Propose(ctx, gamma, c.ID, receiveX(), "", false); err != domain.ErrNotParticipant {
		t.Errorf("outsider: expected ErrNotParticipant, got %v", err)
	}

	// Nothing on the table yet, so there is nothing to counter.
	if _, err := env.eng.Propose(ctx, alpha, c.ID, giveX(), "", true); err != domain.ErrNoProposalToCounter {
		t.Errorf("expected ErrNoProposalToCounter, got %v", err)
	}

	if _, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	// One pending proposal at a time.
	if _, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false); err != domain.ErrPendingProposal {
		t.Errorf("expected ErrPendingProposal, got %v", err)
	}
	// Only the recipient may counter a live proposal.
	if _, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", true); err != domain.ErrNotRecipient {
		t.Errorf("expected ErrNotRecipient, got %v", err)
	}
}

func TestPropose_NotNegotiableWhilePending(t *testing.T) {
	env := newTestEnv(t)
	c := env.declareOn(t, "sys-x")

	_, err := env.eng.Propose(context.Background(), beta, c.ID, receiveX(), "", false)
	if err != domain.ErrNotNegotiable {
		t.Errorf("expected ErrNotNegotiable, got %v", err)
	}
}

func TestPropose_AcknowledgedGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.declareOn(t, "sys-x")
	if _, err := env.sm.Acknowledge(ctx, alpha, c.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	strict := NewEngine(env.db, env.sm, env.calc, env.eng.Feed, NegotiationConfig{
		CounterOfferCap:   2,
		AllowAcknowledged: false,
	})
	if _, err := strict.Propose(ctx, beta, c.ID, receiveX(), "", false); err != domain.ErrNotNegotiable {
		t.Errorf("strict engine: expected ErrNotNegotiable, got %v", err)
	}

	// The permissive default lets talks start before hostilities open.
	if _, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false); err != nil {
		t.Errorf("permissive engine: %v", err)
	}
}

func TestPropose_ItemValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeConflict(t)

	// sys-y exists but beta holds no claim on it.
	env.seedSystem(t, "sys-y", "Y", testRegion)
	give := []ItemInput{{SystemID: "sys-y", Direction: domain.DirectionGive}}
	if _, err := env.eng.Propose(ctx, beta, c.ID, give, "", false); domain.CodeOf(err) != domain.ErrItemNotOwned.Code {
		t.Errorf("unowned give item: expected item-not-owned code, got %v", err)
	}

	bad := []ItemInput{{SystemID: "sys-x", Direction: "sideways"}}
	if _, err := env.eng.Propose(ctx, beta, c.ID, bad, "", false); err != domain.ErrInvalidDirection {
		t.Errorf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestPropose_HomeRegionProtected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeConflict(t)

	// The contested system sits inside the defender's declared home region.
	homeRegions := &store.HomeRegionRepo{}
	err := homeRegions.Set(ctx, env.db, domain.HomeRegion{PartnerID: alpha.PartnerID, Region: testRegion})
	if err != nil {
		t.Fatalf("Set home region: %v", err)
	}

	_, err = env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false)
	if domain.CodeOf(err) != domain.ErrHomeRegionProtected.Code {
		t.Errorf("expected home-region-protected code, got %v", err)
	}

	// Systems outside the protected region remain fair game.
	env.seedSystem(t, "sys-far", "Far", otherRegion)
	env.seedClaim(t, "sys-far", alpha.PartnerID)
	far := []ItemInput{{SystemID: "sys-far", Direction: domain.DirectionReceive}}
	if _, err := env.eng.Propose(ctx, beta, c.ID, far, "", false); err != nil {
		t.Errorf("Propose outside home region: %v", err)
	}
}

func TestRejectAndCounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeConflict(t)

	p, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// Only the recipient may act on a pending proposal.
	if _, err := env.eng.Reject(ctx, beta, p.ID, false); err != domain.ErrNotRecipient {
		t.Errorf("proposer reject: expected ErrNotRecipient, got %v", err)
	}
	if _, _, err := env.eng.Accept(ctx, beta, p.ID); err != domain.ErrNotRecipient {
		t.Errorf("proposer accept: expected ErrNotRecipient, got %v", err)
	}

	rejected, err := env.eng.Reject(ctx, alpha, p.ID, false)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != domain.ProposalRejected || rejected.WalkAway {
		t.Errorf("rejected = %+v, want rejected without walk-away", rejected)
	}
	// A plain rejection leaves the door open for a counter.
	counter, err := env.eng.Propose(ctx, alpha, c.ID, giveX(), "", true)
	if err != nil {
		t.Fatalf("counter after rejection: %v", err)
	}
	if counter.CounterNumber != 1 {
		t.Errorf("CounterNumber = %d, want 1", counter.CounterNumber)
	}
}

// TestNegotiation_SameSecondExchange runs a reject-then-counter exchange with
// a frozen clock, so every proposal row lands in the same proposed_at second.
// Counter validation must key off filing order, not timestamps.
func TestNegotiation_SameSecondExchange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeConflict(t)

	frozen := time.Unix(1_700_000_000, 0)
	env.eng.Now = func() time.Time { return frozen }

	p, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := env.eng.Reject(ctx, alpha, p.ID, false); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	counter, err := env.eng.Propose(ctx, alpha, c.ID, giveX(), "", true)
	if err != nil {
		t.Fatalf("counter after same-second reject: %v", err)
	}
	if _, err := env.eng.Reject(ctx, beta, counter.ID, false); err != nil {
		t.Fatalf("Reject counter: %v", err)
	}
	// The recipient of the just-rejected counter may still counter back.
	if _, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", true); err != nil {
		t.Fatalf("counter-back after same-second reject: %v", err)
	}
}

func TestReject_WalkAwayEndsNegotiation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeConflict(t)

	p, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := env.eng.Reject(ctx, alpha, p.ID, true); err != nil {
		t.Fatalf("Reject walk-away: %v", err)
	}

	// No counter on a walked-away exchange, and the proposal cannot be
	// acted on twice.
	if _, err := env.eng.Propose(ctx, alpha, c.ID, giveX(), "", true); err != domain.ErrNoProposalToCounter {
		t.Errorf("expected ErrNoProposalToCounter, got %v", err)
	}
	if _, _, err := env.eng.Accept(ctx, alpha, p.ID); err != domain.ErrProposalNotPending {
		t.Errorf("expected ErrProposalNotPending, got %v", err)
	}

	// The war itself continues.
	conflict, err := env.sm.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conflict.Status != domain.ConflictActive {
		t.Errorf("conflict Status = %q, want active", conflict.Status)
	}
	// A fresh initial proposal can restart talks.
	if _, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "one more try", false); err != nil {
		t.Errorf("fresh proposal after walk-away: %v", err)
	}
}

// TestAccept_TransferRollback breaks the transfer mid-acceptance and checks
// that nothing is half-applied: the proposal stays pending, the conflict
// stays active, and no claim moved.
func TestAccept_TransferRollback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedSystem(t, "sys-x", "X", testRegion)
	claimID := env.seedClaim(t, "sys-x", alpha.PartnerID)
	c, err := env.sm.Declare(ctx, beta, "sys-x", "", "")
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if _, err := env.sm.Acknowledge(ctx, alpha, c.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if _, err := env.sm.Activate(ctx, beta, c.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	p, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// The source claim vanishes between proposal and acceptance.
	claims := &store.ClaimRepo{}
	tx, err := env.db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := claims.DeleteTx(ctx, tx, claimID); err != nil {
		t.Fatalf("DeleteTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit delete: %v", err)
	}

	_, _, err = env.eng.Accept(ctx, alpha, p.ID)
	if domain.CodeOf(err) != domain.ErrTransferFailed.Code {
		t.Fatalf("expected transfer-failed code, got %v", err)
	}

	after, err := env.eng.Proposals.GetByID(ctx, env.db, p.ID)
	if err != nil {
		t.Fatalf("GetByID after failed accept: %v", err)
	}
	if after.Status != domain.ProposalPending {
		t.Errorf("proposal Status = %q, want still pending", after.Status)
	}
	conflict, err := env.sm.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conflict.Status != domain.ConflictActive {
		t.Errorf("conflict Status = %q, want still active", conflict.Status)
	}
	if _, err := claims.GetBySystem(ctx, env.db, "sys-x"); err != domain.ErrClaimNotFound {
		t.Errorf("sys-x claim state changed: %v", err)
	}
}

func TestAccept_TerminalConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.activeConflict(t)

	p, err := env.eng.Propose(ctx, beta, c.ID, receiveX(), "", false)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := env.sm.Cancel(ctx, admin, c.ID, "ceasefire imposed"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, _, err := env.eng.Accept(ctx, alpha, p.ID); err != domain.ErrConflictTerminal {
		t.Errorf("expected ErrConflictTerminal, got %v", err)
	}
}
