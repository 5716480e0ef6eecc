package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nmscd/warroom/internal/auth"
	"github.com/nmscd/warroom/internal/domain"
)

// Server wraps an HTTP server with war-room routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address. Every route
// except health requires a bearer token resolvable by the given resolver.
// requestTimeout bounds each request: it caps the server read/write deadlines
// and the request context handed to the services.
func NewServer(h *Handler, resolver *auth.Resolver, listenAddr string, requestTimeout time.Duration) *Server {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /warroom/health", h.Health)

	// Claim endpoints.
	mux.HandleFunc("POST /warroom/claims", h.CreateClaim)
	mux.HandleFunc("GET /warroom/claims", h.ListClaims)
	mux.HandleFunc("DELETE /warroom/claims/{claimID}", h.ReleaseClaim)

	// Territory endpoints.
	mux.HandleFunc("GET /warroom/territory/ownership", h.RegionOwnership)
	mux.HandleFunc("GET /warroom/territory/by-tag", h.TerritoryByTag)
	mux.HandleFunc("GET /warroom/territory/search", h.SearchTerritory)
	mux.HandleFunc("GET /warroom/map-data", h.MapData)
	mux.HandleFunc("POST /warroom/systems", h.UpsertSystem)
	mux.HandleFunc("PUT /warroom/home-region", h.SetHomeRegion)
	mux.HandleFunc("GET /warroom/home-region/{partnerID}", h.GetHomeRegion)

	// Conflict endpoints.
	mux.HandleFunc("POST /warroom/conflicts", h.DeclareConflict)
	mux.HandleFunc("GET /warroom/conflicts/active", h.ListActiveConflicts)
	mux.HandleFunc("GET /warroom/conflicts/{conflictID}", h.GetConflict)
	mux.HandleFunc("POST /warroom/conflicts/{conflictID}/acknowledge", h.AcknowledgeConflict)
	mux.HandleFunc("POST /warroom/conflicts/{conflictID}/activate", h.ActivateConflict)
	mux.HandleFunc("POST /warroom/conflicts/{conflictID}/resolve", h.ResolveConflict)
	mux.HandleFunc("POST /warroom/conflicts/{conflictID}/cancel", h.CancelConflict)
	mux.HandleFunc("POST /warroom/conflicts/{conflictID}/events", h.AddConflictEvent)
	mux.HandleFunc("GET /warroom/conflicts/{conflictID}/events", h.ListConflictEvents)
	mux.HandleFunc("POST /warroom/conflicts/{conflictID}/parties", h.AddConflictParty)
	mux.HandleFunc("GET /warroom/conflicts/{conflictID}/parties", h.ListConflictParties)

	// Negotiation endpoints.
	mux.HandleFunc("GET /warroom/conflicts/{conflictID}/negotiation-status", h.NegotiationStatus)
	mux.HandleFunc("GET /warroom/conflicts/{conflictID}/peace-proposals", h.ListPeaceProposals)
	mux.HandleFunc("POST /warroom/conflicts/{conflictID}/propose-peace", h.ProposePeace)
	mux.HandleFunc("PUT /warroom/peace-proposals/{proposalID}/accept", h.AcceptProposal)
	mux.HandleFunc("PUT /warroom/peace-proposals/{proposalID}/reject", h.RejectProposal)

	// Feed endpoints.
	mux.HandleFunc("GET /warroom/activity-feed", h.ActivityFeed)
	mux.HandleFunc("GET /warroom/notifications", h.ListNotifications)
	mux.HandleFunc("GET /warroom/notifications/count", h.CountNotifications)
	mux.HandleFunc("PUT /warroom/notifications/read-all", h.ReadAllNotifications)

	// Statistics endpoints.
	mux.HandleFunc("GET /warroom/statistics", h.Statistics)
	mux.HandleFunc("GET /warroom/statistics/leaderboard", h.Leaderboard)
	mux.HandleFunc("POST /warroom/statistics/recalculate", h.RecalculateStatistics)

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      corsMiddleware(timeoutMiddleware(requestTimeout, authMiddleware(resolver, mux))),
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}

	return &Server{
		httpServer: srv,
	}
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type contextKey string

const identityKey contextKey = "warroom.identity"

// identityFrom returns the authenticated caller placed by authMiddleware.
func identityFrom(r *http.Request) domain.Identity {
	id, _ := r.Context().Value(identityKey).(domain.Identity)
	return id
}

// authMiddleware resolves the Authorization bearer token into an Identity and
// stores it on the request context. Health is exempt.
func authMiddleware(resolver *auth.Resolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/warroom/health" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, domain.ErrTokenInvalid)
			return
		}

		id, err := resolver.Resolve(token)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// timeoutMiddleware caps the request context so every store call downstream
// carries a deadline. A non-positive timeout disables the cap.
func timeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for the web map client.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
