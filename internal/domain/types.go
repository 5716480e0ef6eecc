// Package domain defines the core types for the War Room engine.
package domain

import "fmt"

// Identity is the resolved caller passed into every service operation.
// Resolution itself (token -> identity) happens at the API boundary.
type Identity struct {
	PartnerID    string
	IsSuperAdmin bool
	DiscordTag   string
}

// RegionKey identifies a coordinate-bucketed group of systems.
// Regions are derived from the catalog, never stored.
type RegionKey struct {
	X      int64  `json:"region_x"`
	Y      int64  `json:"region_y"`
	Z      int64  `json:"region_z"`
	Galaxy string `json:"galaxy"`
}

// String renders a region key in a stable form usable as a cache key.
func (k RegionKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%s", k.X, k.Y, k.Z, k.Galaxy)
}

// StarSystem is a read-only catalog entry.
type StarSystem struct {
	ID         string    `json:"system_id"`
	Name       string    `json:"name"`
	DiscordTag string    `json:"discord_tag"`
	Region     RegionKey `json:"region"`
}

// TerritoryClaim records that a partner claims a catalog system.
// At most one claim may exist per system at any time.
type TerritoryClaim struct {
	ID        string `json:"id"`
	SystemID  string `json:"system_id"`
	PartnerID string `json:"claimant_partner_id"`
	Notes     string `json:"notes"`
	CreatedAt int64  `json:"created_at"`
}

// HomeRegion is a partner's protected headquarters region, exempt from
// peace-treaty territory demands. At most one per partner.
type HomeRegion struct {
	PartnerID string    `json:"partner_id"`
	Region    RegionKey `json:"region"`
}

// RegionOwnership is the computed ownership state of one region.
type RegionOwnership struct {
	Region            RegionKey          `json:"region"`
	OwnerPartnerID    string             `json:"owner_partner_id,omitempty"`
	OwnershipPct      float64            `json:"ownership_percentage"`
	Contested         bool               `json:"contested"`
	Shares            map[string]float64 `json:"shares"`
	TotalSystems      int                `json:"total_systems"`
	ClaimedSystems    int                `json:"claimed_systems"`
	ActiveConflictIDs []string           `json:"active_conflict_ids"`
}

// ConflictStatus represents the lifecycle state of a conflict.
type ConflictStatus string

const (
	ConflictPending      ConflictStatus = "pending"
	ConflictAcknowledged ConflictStatus = "acknowledged"
	ConflictActive       ConflictStatus = "active"
	ConflictResolved     ConflictStatus = "resolved"
	ConflictCancelled    ConflictStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ConflictStatus) Terminal() bool {
	return s == ConflictResolved || s == ConflictCancelled
}

// Conflict is a declared war between an attacker and a defender over one
// target system. StateVersion backs the per-conflict single-writer invariant.
type Conflict struct {
	ID               string         `json:"id"`
	AttackerID       string         `json:"attacker_partner_id"`
	DefenderID       string         `json:"defender_partner_id"`
	TargetSystemID   string         `json:"target_system_id"`
	Status           ConflictStatus `json:"status"`
	StateVersion     int64          `json:"-"`
	AttackerCounters int            `json:"attacker_counters"`
	DefenderCounters int            `json:"defender_counters"`
	DeclaredAt       int64          `json:"declared_at"`
	ResolvedAt       int64          `json:"resolved_at,omitempty"`
	Resolution       string         `json:"resolution,omitempty"`
}

// Side distinguishes the two camps of a conflict.
type Side string

const (
	SideAttacker Side = "attacker"
	SideDefender Side = "defender"
)

// ConflictParty is a participant in a conflict, primary or allied.
type ConflictParty struct {
	ConflictID string `json:"conflict_id"`
	PartnerID  string `json:"partner_id"`
	Side       Side   `json:"side"`
	IsPrimary  bool   `json:"is_primary"`
}

// ConflictEventType classifies timeline entries. Player-filed types are
// informational; declared/acknowledged/resolved/cancelled are system-generated.
type ConflictEventType string

const (
	EventSkirmish      ConflictEventType = "skirmish"
	EventCapture       ConflictEventType = "capture"
	EventDefense       ConflictEventType = "defense"
	EventRetreat       ConflictEventType = "retreat"
	EventReinforcement ConflictEventType = "reinforcement"
	EventNote          ConflictEventType = "note"
	EventDeclared      ConflictEventType = "declared"
	EventAcknowledged  ConflictEventType = "acknowledged"
	EventResolved      ConflictEventType = "resolved"
	EventCancelled     ConflictEventType = "cancelled"
)

// PlayerEventTypes are the types a participant may file through AddEvent.
var PlayerEventTypes = map[ConflictEventType]bool{
	EventSkirmish:      true,
	EventCapture:       true,
	EventDefense:       true,
	EventRetreat:       true,
	EventReinforcement: true,
	EventNote:          true,
}

// ConflictEvent is an append-only timeline entry.
type ConflictEvent struct {
	ID         int64             `json:"id"`
	ConflictID string            `json:"conflict_id"`
	EventType  ConflictEventType `json:"event_type"`
	Details    string            `json:"details"`
	ActorID    string            `json:"actor_id"`
	CreatedAt  int64             `json:"created_at"`
}

// ProposalStatus represents the lifecycle state of a peace proposal.
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalAccepted   ProposalStatus = "accepted"
	ProposalRejected   ProposalStatus = "rejected"
	ProposalSuperseded ProposalStatus = "superseded"
)

// ProposalType distinguishes an opening offer from a counter-offer.
type ProposalType string

const (
	ProposalInitial ProposalType = "initial"
	ProposalCounter ProposalType = "counter"
)

// ItemDirection is relative to the proposer: a give item moves from the
// proposer to the recipient, a receive item moves the other way.
type ItemDirection string

const (
	DirectionGive    ItemDirection = "give"
	DirectionReceive ItemDirection = "receive"
)

// ProposalItem is one system changing hands under a proposal.
type ProposalItem struct {
	ProposalID string        `json:"proposal_id"`
	SystemID   string        `json:"system_id"`
	Direction  ItemDirection `json:"direction"`
}

// PeaceProposal is an offer to end a conflict by exchanging territory.
// At most one pending proposal exists per conflict at any time.
type PeaceProposal struct {
	ID            string         `json:"id"`
	ConflictID    string         `json:"conflict_id"`
	ProposerID    string         `json:"proposer_partner_id"`
	RecipientID   string         `json:"recipient_partner_id"`
	Status        ProposalStatus `json:"status"`
	Type          ProposalType   `json:"proposal_type"`
	CounterNumber int            `json:"counter_number"`
	Message       string         `json:"message"`
	WalkAway      bool           `json:"walk_away"`
	ProposedAt    int64          `json:"proposed_at"`
	Items         []ProposalItem `json:"items"`
}

// ReassignedClaim records one claim movement performed by a transfer.
type ReassignedClaim struct {
	SystemID      string `json:"system_id"`
	FromPartnerID string `json:"from_partner_id"`
	ToPartnerID   string `json:"to_partner_id"`
	NewClaimID    string `json:"new_claim_id"`
}

// TransferResult summarizes an applied territory transfer.
type TransferResult struct {
	ConflictID string            `json:"conflict_id"`
	Reassigned []ReassignedClaim `json:"reassigned"`
}

// ActivityEntry is a public, append-only feed row. Never mutated.
type ActivityEntry struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Headline  string `json:"headline"`
	Details   string `json:"details"`
	SystemID  string `json:"system_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Notification is a per-recipient message. ReadAt is zero until read.
type Notification struct {
	ID        string `json:"id"`
	PartnerID string `json:"partner_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
	ReadAt    int64  `json:"read_at,omitempty"`
}

// PartnerStats holds the per-partner war statistics aggregates.
type PartnerStats struct {
	PartnerID         string `json:"partner_id"`
	SystemsClaimed    int    `json:"systems_claimed"`
	RegionsOwned      int    `json:"regions_owned"`
	ConflictsWon      int    `json:"conflicts_won"`
	ConflictsLost     int    `json:"conflicts_lost"`
	ActiveConflicts   int    `json:"active_conflicts"`
	ProposalsAccepted int    `json:"proposals_accepted"`
	UpdatedAt         int64  `json:"updated_at"`
}
