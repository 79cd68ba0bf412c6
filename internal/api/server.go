// Package api exposes the read-only dashboard API and the manual sync
// trigger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/clusterx/voicesync/internal/model"
	"github.com/clusterx/voicesync/internal/monitoring"
	"github.com/clusterx/voicesync/internal/store"
)

// RunFunc triggers one ingestion run for a user.
type RunFunc func(ctx context.Context, userID string) (*model.SyncResult, error)

// Server wires the store and pipeline into HTTP handlers.
type Server struct {
	store     store.Store
	collector *monitoring.Collector
	run       RunFunc
}

// NewServer creates an API server. run may be nil, in which case the
// sync endpoint reports 503.
func NewServer(st store.Store, run RunFunc) *Server {
	return &Server{
		store:     st,
		collector: monitoring.NewCollector(st),
		run:       run,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sync/{userID}", s.handleSync)
		r.Get("/calls", s.handleListCalls)
		r.Get("/calls/{callID}", s.handleGetCall)
		r.Get("/bookings", s.handleListBookings)
		r.Get("/contacts", s.handleListContacts)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	lookback := queryInt(r, "lookback_hours", 24)
	snap, err := s.collector.Collect(r.Context(), lookback)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "collect metrics")
		zap.L().Error("status collection failed", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSync kicks off an ingestion run in the background and returns
// immediately. The run outlives the request, so it gets its own context.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not enabled on this server")
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		res, err := s.run(ctx, userID)
		if err != nil {
			zap.L().Error("triggered run failed",
				zap.String("user_id", userID),
				zap.Error(err))
			return
		}
		zap.L().Info("triggered run finished",
			zap.String("user_id", userID),
			zap.Int("total", res.Total),
			zap.Int("processed", res.Processed))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"user_id": userID,
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	filter := store.CallFilter{
		UserID:    r.URL.Query().Get("user_id"),
		AgentID:   r.URL.Query().Get("agent_id"),
		Direction: r.URL.Query().Get("direction"),
		Intent:    r.URL.Query().Get("intent"),
		Limit:     queryInt(r, "limit", 100),
		Offset:    queryInt(r, "offset", 0),
	}
	if p := r.URL.Query().Get("processed"); p != "" {
		v, err := strconv.ParseBool(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "processed must be true or false")
			return
		}
		filter.Processed = &v
	}

	calls, err := s.store.ListCalls(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list calls")
		zap.L().Error("list calls failed", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls, "count": len(calls)})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.store.GetCall(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	calls, err := s.store.ListCalls(r.Context(), store.CallFilter{
		UserID: r.URL.Query().Get("user_id"),
		Booked: true,
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list bookings")
		zap.L().Error("list bookings failed", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": calls, "count": len(calls)})
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	filter := store.ContactFilter{
		UserID: r.URL.Query().Get("user_id"),
		Tag:    model.ContactStatus(r.URL.Query().Get("tag")),
		Search: r.URL.Query().Get("q"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if filter.Tag != "" {
		valid := false
		for _, tag := range model.AllContactStatuses() {
			if tag == filter.Tag {
				valid = true
				break
			}
		}
		if !valid {
			writeError(w, http.StatusBadRequest, "unknown tag")
			return
		}
	}

	contacts, err := s.store.ListContacts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list contacts")
		zap.L().Error("list contacts failed", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts, "count": len(contacts)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
