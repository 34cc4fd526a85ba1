// Package api provides the HTTP surface of the town: health, metrics, world
// status, the input queue and conversation transcripts.
// GET endpoints are public. Changing a world's running flag requires a
// bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/persistence"
)

// Store is the persistence the API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	WorldStatuses(ctx context.Context) ([]persistence.WorldStatus, error)
	SetRunning(ctx context.Context, worldID string, running bool) error
	SendInput(ctx context.Context, worldID string, in engine.Input, received float64) (int64, error)
	InputResult(ctx context.Context, worldID string, number int64) (*persistence.StoredResult, bool, error)
	PlayerDescriptions(ctx context.Context, worldID string) (map[agents.PlayerID]agents.PlayerDescription, error)
	History(ctx context.Context, worldID string) (map[agents.PlayerID][]byte, error)
	ListMessages(ctx context.Context, worldID string, id agents.ConversationID) ([]persistence.Message, error)
}

// Server serves the town over HTTP.
type Server struct {
	DB       Store
	Addr     string
	AdminKey string // Bearer token for admin endpoints. Empty = disabled.

	// InputRate and InputBurst limit input submissions per client.
	InputRate  float64
	InputBurst int

	now func() float64
}

// Router builds the handler tree.
func (s *Server) Router() http.Handler {
	if s.now == nil {
		s.now = engine.WallClock
	}
	inputLimiter := NewRateLimiter(max(s.InputRate, 1), max(s.InputBurst, 1))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/worlds/{world}", func(r chi.Router) {
			r.Get("/players", s.handlePlayers)
			r.Get("/history", s.handleHistory)
			r.With(inputLimiter.Middleware).Post("/inputs", s.handleSendInput)
			r.Get("/inputs/{number}", s.handleInputResult)
			r.Get("/conversations/{conversation}/messages", s.handleMessages)
			r.With(s.adminOnly).Post("/running", s.handleSetRunning)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no TOWNSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.DB.WorldStatuses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"worlds": statuses})
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	descs, err := s.DB.PlayerDescriptions(r.Context(), chi.URLParam(r, "world"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, descs)
}

// handleHistory returns each player's packed history buffer, base64 encoded.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.DB.History(r.Context(), chi.URLParam(r, "world"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, history)
}

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

type inputRequest struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	// Completions of operations come from workers, never from clients.
	if !clientInputs[req.Name] {
		http.Error(w, "unknown input "+strconv.Quote(req.Name), http.StatusBadRequest)
		return
	}
	in, err := engine.DecodeInput(req.Name, req.Args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	worldID := chi.URLParam(r, "world")
	number, err := s.DB.SendInput(r.Context(), worldID, in, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Debug("input queued", "world", worldID, "name", req.Name, "number", number)
	writeJSONStatus(w, http.StatusAccepted, map[string]int64{"number": number})
}

var clientInputs = map[string]bool{
	engine.InputJoin:                 true,
	engine.InputLeave:                true,
	engine.InputMoveTo:               true,
	engine.InputStartConversation:    true,
	engine.InputAcceptInvite:         true,
	engine.InputRejectInvite:         true,
	engine.InputLeaveConversation:    true,
	engine.InputStartTyping:          true,
	engine.InputFinishSendingMessage: true,
	engine.InputCreateAgent:          true,
	engine.InputSetWorking:           true,
}

func (s *Server) handleInputResult(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		http.Error(w, "invalid input number", http.StatusBadRequest)
		return
	}
	res, done, err := s.DB.InputResult(r.Context(), chi.URLParam(r, "world"), number)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"done": done, "result": res})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var id agents.ConversationID
	if err := id.UnmarshalText([]byte(chi.URLParam(r, "conversation"))); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msgs, err := s.DB.ListMessages(r.Context(), chi.URLParam(r, "world"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []persistence.Message{}
	}
	writeJSON(w, msgs)
}

func (s *Server) handleSetRunning(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Running bool `json:"running"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	worldID := chi.URLParam(r, "world")
	if err := s.DB.SetRunning(r.Context(), worldID, req.Running); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"world_id": worldID, "running": req.Running})
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	slog.Error("API request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
