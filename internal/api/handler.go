// Package api provides the HTTP surface of the war room engine.
package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nmscd/warroom/internal/conflict"
	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/feed"
	"github.com/nmscd/warroom/internal/stats"
	"github.com/nmscd/warroom/internal/store"
	"github.com/nmscd/warroom/internal/territory"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Claims      *territory.ClaimService
	Owner       *territory.Calculator
	HomeRegions *territory.HomeRegionService
	SM          *conflict.StateMachine
	Negotiator  *conflict.Engine
	Stats       *stats.Service
	Publisher   *feed.Publisher
	DB          *sql.DB
	Catalog     *store.CatalogRepo
	HomeRepo    *store.HomeRegionRepo
	FeedRepo    *store.FeedRepo
}

// ClaimRequest is the body for POST /warroom/claims.
type ClaimRequest struct {
	SystemID  string `json:"system_id"`
	PartnerID string `json:"partner_id"`
	Notes     string `json:"notes"`
}

// DeclareRequest is the body for POST /warroom/conflicts.
type DeclareRequest struct {
	TargetSystemID string `json:"target_system_id"`
	AttackerID     string `json:"attacker_partner_id"`
	DefenderID     string `json:"defender_partner_id"`
}

// EventRequest is the body for POST /warroom/conflicts/{conflictID}/events.
type EventRequest struct {
	EventType string `json:"event_type"`
	Details   string `json:"details"`
}

// PartyRequest is the body for POST /warroom/conflicts/{conflictID}/parties.
type PartyRequest struct {
	PartnerID string `json:"partner_id"`
	Side      string `json:"side"`
}

// ResolveRequest is the body for POST /warroom/conflicts/{conflictID}/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

// CancelRequest is the body for POST /warroom/conflicts/{conflictID}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ProposeRequest is the body for POST /warroom/conflicts/{conflictID}/propose-peace.
type ProposeRequest struct {
	Items   []conflict.ItemInput `json:"items"`
	Message string               `json:"message"`
	Counter bool                 `json:"is_counter"`
}

// RejectRequest is the body for PUT /warroom/peace-proposals/{proposalID}/reject.
type RejectRequest struct {
	WalkAway bool `json:"walk_away"`
}

// HomeRegionRequest is the body for PUT /warroom/home-region.
type HomeRegionRequest struct {
	PartnerID string `json:"partner_id"`
	X         int64  `json:"region_x"`
	Y         int64  `json:"region_y"`
	Z         int64  `json:"region_z"`
	Galaxy    string `json:"galaxy"`
}

// AcceptResponse is the response for PUT /warroom/peace-proposals/{proposalID}/accept.
type AcceptResponse struct {
	Conflict *domain.Conflict       `json:"conflict"`
	Transfer *domain.TransferResult `json:"transfer"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /warroom/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateClaim handles POST /warroom/claims.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.SystemID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "system_id is required"})
		return
	}

	claim, err := h.Claims.Claim(r.Context(), caller, req.SystemID, req.PartnerID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

// ListClaims handles GET /warroom/claims?partner_id=X.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	var (
		claims []domain.TerritoryClaim
		err    error
	)
	if partnerID := r.URL.Query().Get("partner_id"); partnerID != "" {
		claims, err = h.Claims.ListByPartner(r.Context(), partnerID)
	} else {
		claims, err = h.Claims.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if claims == nil {
		claims = []domain.TerritoryClaim{}
	}
	writeJSON(w, http.StatusOK, claims)
}

// ReleaseClaim handles DELETE /warroom/claims/{claimID}.
func (h *Handler) ReleaseClaim(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)
	if err := h.Claims.Release(r.Context(), caller, r.PathValue("claimID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegionOwnership handles GET /warroom/territory/ownership?x=&y=&z=&galaxy=.
func (h *Handler) RegionOwnership(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	region := domain.RegionKey{Galaxy: q.Get("galaxy")}
	var err error
	if region.X, err = strconv.ParseInt(q.Get("x"), 10, 64); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "x must be an integer"})
		return
	}
	if region.Y, err = strconv.ParseInt(q.Get("y"), 10, 64); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "y must be an integer"})
		return
	}
	if region.Z, err = strconv.ParseInt(q.Get("z"), 10, 64); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "z must be an integer"})
		return
	}
	if region.Galaxy == "" {
		writeError(w, domain.ErrInvalidRegion)
		return
	}

	ownership, err := h.Owner.RegionOwnership(r.Context(), region)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ownership)
}

// TerritoryByTag handles GET /warroom/territory/by-tag?discord_tag=.
func (h *Handler) TerritoryByTag(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.Owner.TerritoryByTag(r.Context(), r.URL.Query().Get("discord_tag"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

// SearchTerritory handles GET /warroom/territory/search?q=&discord_tag=&limit=.
func (h *Handler) SearchTerritory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := limitParam(r, 25)
	if limit > 100 {
		limit = 100
	}
	systems, err := h.Catalog.Search(r.Context(), h.DB, q.Get("q"), q.Get("discord_tag"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if systems == nil {
		systems = []domain.StarSystem{}
	}
	writeJSON(w, http.StatusOK, systems)
}

// MapData handles GET /warroom/map-data.
func (h *Handler) MapData(w http.ResponseWriter, r *http.Request) {
	data, err := h.Owner.MapData(r.Context(), h.HomeRepo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// UpsertSystem handles POST /warroom/systems (catalog import, admin only).
func (h *Handler) UpsertSystem(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)
	if !caller.IsSuperAdmin {
		writeError(w, domain.ErrAdminOnly)
		return
	}
	var sys domain.StarSystem
	if err := json.NewDecoder(r.Body).Decode(&sys); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if sys.ID == "" || sys.Region.Galaxy == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "system_id and region galaxy are required"})
		return
	}
	if err := h.Catalog.Upsert(r.Context(), h.DB, sys); err != nil {
		writeError(w, err)
		return
	}
	h.Owner.Invalidate(sys.Region)
	writeJSON(w, http.StatusCreated, sys)
}

// SetHomeRegion handles PUT /warroom/home-region.
func (h *Handler) SetHomeRegion(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)
	var req HomeRegionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	region := domain.RegionKey{X: req.X, Y: req.Y, Z: req.Z, Galaxy: req.Galaxy}
	hr, err := h.HomeRegions.Set(r.Context(), caller, req.PartnerID, region)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hr)
}

// GetHomeRegion handles GET /warroom/home-region/{partnerID}.
func (h *Handler) GetHomeRegion(w http.ResponseWriter, r *http.Request) {
	hr, err := h.HomeRegions.Get(r.Context(), r.PathValue("partnerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hr)
}

// DeclareConflict handles POST /warroom/conflicts.
func (h *Handler) DeclareConflict(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)
	var req DeclareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.TargetSystemID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "target_system_id is required"})
		return
	}

	c, err := h.SM.Declare(r.Context(), caller, req.TargetSystemID, req.AttackerID, req.DefenderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetConflict handles GET /warroom/conflicts/{conflictID}.
func (h *Handler) GetConflict(w http.ResponseWriter, r *http.Request) {
	c, err := h.SM.Get(r.Context(), r.PathValue("conflictID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListActiveConflicts handles GET /warroom/conflicts/active.
func (h *Handler) ListActiveConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.SM.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []domain.Conflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

// AcknowledgeConflict handles POST /warroom/conflicts/{conflictID}/acknowledge.
func (h *Handler) AcknowledgeConflict(w http.ResponseWriter, r *http.Request) {
	c, err := h.SM.Acknowledge(r.Context(), identityFrom(r), r.PathValue("conflictID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ActivateConflict handles POST /warroom/conflicts/{conflictID}/activate.
func (h *Handler) ActivateConflict(w http.ResponseWriter, r *http.Request) {
	c, err := h.SM.Activate(r.Context(), identityFrom(r), r.PathValue("conflictID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ResolveConflict handles POST /warroom/conflicts/{conflictID}/resolve.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	c, err := h.SM.AdminResolve(r.Context(), identityFrom(r), r.PathValue("conflictID"), req.Resolution)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CancelConflict handles POST /warroom/conflicts/{conflictID}/cancel.
func (h *Handler) CancelConflict(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	c, err := h.SM.Cancel(r.Context(), identityFrom(r), r.PathValue("conflictID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AddConflictEvent handles POST /warroom/conflicts/{conflictID}/events.
func (h *Handler) AddConflictEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	ev, err := h.SM.AddEvent(r.Context(), identityFrom(r), r.PathValue("conflictID"), domain.ConflictEventType(req.EventType), req.Details)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// ListConflictEvents handles GET /warroom/conflicts/{conflictID}/events.
func (h *Handler) ListConflictEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.SM.Events(r.Context(), r.PathValue("conflictID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.ConflictEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// AddConflictParty handles POST /warroom/conflicts/{conflictID}/parties.
func (h *Handler) AddConflictParty(w http.ResponseWriter, r *http.Request) {
	var req PartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if err := h.SM.AddParty(r.Context(), identityFrom(r), r.PathValue("conflictID"), req.PartnerID, domain.Side(req.Side)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConflictParties handles GET /warroom/conflicts/{conflictID}/parties.
func (h *Handler) ListConflictParties(w http.ResponseWriter, r *http.Request) {
	conflictID := r.PathValue("conflictID")
	if _, err := h.SM.Get(r.Context(), conflictID); err != nil {
		writeError(w, err)
		return
	}
	parties, err := h.SM.Conflicts.ListParties(r.Context(), h.DB, conflictID)
	if err != nil {
		writeError(w, err)
		return
	}
	if parties == nil {
		parties = []domain.ConflictParty{}
	}
	writeJSON(w, http.StatusOK, parties)
}

// NegotiationStatus handles GET /warroom/conflicts/{conflictID}/negotiation-status.
func (h *Handler) NegotiationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Negotiator.Status(r.Context(), r.PathValue("conflictID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListPeaceProposals handles GET /warroom/conflicts/{conflictID}/peace-proposals.
func (h *Handler) ListPeaceProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.Negotiator.History(r.Context(), r.PathValue("conflictID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if proposals == nil {
		proposals = []domain.PeaceProposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

// ProposePeace handles POST /warroom/conflicts/{conflictID}/propose-peace.
func (h *Handler) ProposePeace(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	proposal, err := h.Negotiator.Propose(r.Context(), identityFrom(r), r.PathValue("conflictID"), req.Items, req.Message, req.Counter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

// AcceptProposal handles PUT /warroom/peace-proposals/{proposalID}/accept.
func (h *Handler) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	c, transfer, err := h.Negotiator.Accept(r.Context(), identityFrom(r), r.PathValue("proposalID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AcceptResponse{Conflict: c, Transfer: transfer})
}

// RejectProposal handles PUT /warroom/peace-proposals/{proposalID}/reject.
func (h *Handler) RejectProposal(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	proposal, err := h.Negotiator.Reject(r.Context(), identityFrom(r), r.PathValue("proposalID"), req.WalkAway)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

// ActivityFeed handles GET /warroom/activity-feed?limit=N.
func (h *Handler) ActivityFeed(w http.ResponseWriter, r *http.Request) {
	entries, err := h.FeedRepo.ListActivity(r.Context(), h.DB, limitParam(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListNotifications handles GET /warroom/notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)
	notifications, err := h.FeedRepo.ListNotifications(r.Context(), h.DB, caller.PartnerID, limitParam(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// CountNotifications handles GET /warroom/notifications/count.
func (h *Handler) CountNotifications(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)
	n, err := h.FeedRepo.CountUnread(r.Context(), h.DB, caller.PartnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

// ReadAllNotifications handles PUT /warroom/notifications/read-all.
func (h *Handler) ReadAllNotifications(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r)
	n, err := h.Publisher.MarkAllRead(r.Context(), caller.PartnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked_read": n})
}

// Statistics handles GET /warroom/statistics.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	all, err := h.Stats.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if all == nil {
		all = []domain.PartnerStats{}
	}
	writeJSON(w, http.StatusOK, all)
}

// Leaderboard handles GET /warroom/statistics/leaderboard?limit=N.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.Stats.Leaderboard(r.Context(), limitParam(r, 10))
	if err != nil {
		writeError(w, err)
		return
	}
	if board == nil {
		board = []domain.PartnerStats{}
	}
	writeJSON(w, http.StatusOK, board)
}

// RecalculateStatistics handles POST /warroom/statistics/recalculate.
func (h *Handler) RecalculateStatistics(w http.ResponseWriter, r *http.Request) {
	all, err := h.Stats.Recalculate(r.Context(), identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if all == nil {
		all = []domain.PartnerStats{}
	}
	writeJSON(w, http.StatusOK, all)
}

func limitParam(r *http.Request, def int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if wrErr, ok := err.(*domain.WarRoomError); ok {
		writeJSON(w, statusFor(wrErr.Code), APIError{Code: wrErr.Code, Message: wrErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

// statusFor maps error code bands to HTTP statuses. Codes grow more negative
// per band, so checks run from the store band upward.
func statusFor(code int) int {
	switch {
	case code <= -31160: // store / config
		return http.StatusInternalServerError
	case code <= -31130: // transfer
		return http.StatusInternalServerError
	case code == domain.ErrTokenInvalid.Code:
		return http.StatusUnauthorized
	case code <= -31100: // authorization
		return http.StatusForbidden
	case code <= -31070: // not found
		return http.StatusNotFound
	case code <= -31040: // state conflict
		return http.StatusConflict
	case code <= -31010: // validation
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
