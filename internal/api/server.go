// Package api serves the HTTP control plane and the realtime websocket
// gateway. Handlers translate between the wire and the coordinator; all
// auction semantics live behind the Coordinator interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/skovgaard/auctiond/internal/auction"
	"github.com/skovgaard/auctiond/internal/engine"
	"github.com/skovgaard/auctiond/internal/health"
	"github.com/skovgaard/auctiond/internal/hub"
	"github.com/skovgaard/auctiond/internal/identity"
	"github.com/skovgaard/auctiond/internal/store"
)

// Coordinator is the subset of coordinator operations the API serves.
type Coordinator interface {
	CreateAuction(ctx context.Context, sellerID string, items []auction.ItemInput) (*auction.StateView, error)
	StartAuction(ctx context.Context, auctionID string) (*auction.StateView, error)
	ExtendItem(ctx context.Context, auctionID, callerID string) (*auction.StateView, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64, idempotencyKey string) auction.BidResult
	GetState(ctx context.Context, auctionID string) (*auction.StateView, error)
	ListSummaries(ctx context.Context) ([]store.AuctionSummary, error)
}

// Server routes HTTP and websocket traffic to the coordinator.
type Server struct {
	coord    Coordinator
	verifier *identity.Verifier
	hub      *hub.Hub
	logger   *slog.Logger
	origins  []string
	router   chi.Router
}

// NewServer builds the router. origins is the CORS allow-list; empty allows
// any origin.
func NewServer(coord Coordinator, verifier *identity.Verifier, h *hub.Hub, healthHandler *health.Handler, logger *slog.Logger, origins []string) *Server {
	s := &Server{
		coord:    coord,
		verifier: verifier,
		hub:      h,
		logger:   logger,
		origins:  origins,
	}

	allowed := origins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/healthz", healthHandler.LivenessHandler())
	r.Get("/readyz", healthHandler.ReadinessHandler())

	r.Get("/auctions", s.handleListAuctions)
	r.Get("/auctions/{auctionID}", s.handleGetAuction)
	r.Get("/ws", s.handleWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/auctions", s.handleCreateAuction)
		r.Post("/auctions/{auctionID}/start", s.handleStartAuction)
		r.Post("/auctions/{auctionID}/extend", s.handleExtendItem)
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

type ctxKey int

const userKey ctxKey = 0

func sessionUser(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey).(*store.User)
	return u
}

// requireAuth authenticates the bearer token and stores the session user on
// the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, auction.ReasonPermissionDenied, "missing bearer token")
			return
		}
		user, err := s.verifier.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) {
				s.writeError(w, http.StatusUnauthorized, auction.ReasonPermissionDenied, "invalid bearer token")
				return
			}
			s.writeError(w, http.StatusServiceUnavailable, auction.ReasonUnavailable, "authentication unavailable")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

type createAuctionRequest struct {
	Items []auction.ItemInput `json:"items"`
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	user := sessionUser(r.Context())
	view, err := s.coord.CreateAuction(r.Context(), user.ID, req.Items)
	if err != nil {
		// An unknown seller is a bad request here, not a missing resource.
		if errors.Is(err, auction.ErrNotFound) {
			s.writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.coord.ListSummaries(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	if summaries == nil {
		summaries = []store.AuctionSummary{}
	}
	out := make([]auctionSummary, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, auctionSummary{
			ID:            sum.ID,
			SellerID:      sum.SellerID,
			SellerName:    sum.SellerName,
			Status:        sum.Status,
			FirstItemName: sum.FirstItemName,
			ItemCount:     sum.ItemCount,
			CreatedAt:     sum.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	view, err := s.coord.GetState(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStartAuction(w http.ResponseWriter, r *http.Request) {
	view, err := s.coord.StartAuction(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleExtendItem(w http.ResponseWriter, r *http.Request) {
	user := sessionUser(r.Context())
	view, err := s.coord.ExtendItem(r.Context(), chi.URLParam(r, "auctionID"), user.ID)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type auctionSummary struct {
	ID            string    `json:"id"`
	SellerID      string    `json:"sellerId"`
	SellerName    string    `json:"sellerName"`
	Status        string    `json:"status"`
	FirstItemName string    `json:"firstItemName"`
	ItemCount     int       `json:"itemCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auction.ErrNotFound):
		s.writeError(w, http.StatusNotFound, auction.ReasonNotFound, err.Error())
	case errors.Is(err, auction.ErrPermissionDenied):
		s.writeError(w, http.StatusBadRequest, auction.ReasonPermissionDenied, err.Error())
	case errors.Is(err, auction.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, engine.ErrIllegalTransition),
		errors.Is(err, engine.ErrNoItems),
		errors.Is(err, engine.ErrAlreadyExtended),
		errors.Is(err, engine.ErrNotLive),
		errors.Is(err, engine.ErrNoLiveItem):
		s.writeError(w, http.StatusBadRequest, auction.ReasonIllegalTransition, err.Error())
	case errors.Is(err, auction.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, auction.ReasonUnavailable, "backing service unavailable")
	default:
		s.logger.Error("request failed", slog.Any("error", err))
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, reason, msg string) {
	s.writeJSON(w, code, errorBody{Error: errorInfo{Code: reason, Message: msg}})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", slog.Any("error", err))
	}
}
