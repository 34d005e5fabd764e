// Package api provides a lightweight HTTP API for querying and driving
// HiveForge's Hive/Colony/Run/Task hierarchy (SPEC_FULL.md §6).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/projection"
	"github.com/k-iijima/hiveforge/internal/scheduler"
)

// Server is the HTTP API server.
type Server struct {
	cfg            *config.Config
	vault          *akashic.Vault
	scheduler      *scheduler.Scheduler
	logger         *slog.Logger
	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, vault *akashic.Vault, sched *scheduler.Scheduler, logger *slog.Logger) (*Server, error) {
	authMiddleware, err := NewAuthMiddleware(&cfg.API.Security, logger)
	if err != nil {
		return nil, fmt.Errorf("api: initializing auth middleware: %w", err)
	}

	return &Server{
		cfg:            cfg,
		vault:          vault,
		scheduler:      sched,
		logger:         logger,
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
	}, nil
}

// Close closes the server and cleans up resources.
func (s *Server) Close() error {
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Start begins listening on the configured bind address. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	// Read-only endpoints (no auth required)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/hives", s.authMiddleware.RequireAuth(s.routeHives))
	mux.HandleFunc("/hives/", s.authMiddleware.RequireAuth(s.routeHiveDetail))
	mux.HandleFunc("/runs/", s.authMiddleware.RequireAuth(s.routeRuns))
	mux.HandleFunc("/scheduler/status", s.handleSchedulerStatus)

	// Control endpoints (write operations - require auth)
	mux.HandleFunc("/runs", s.authMiddleware.RequireAuth(s.handleStartRun))
	mux.HandleFunc("/scheduler/pause", s.authMiddleware.RequireAuth(s.handleSchedulerPause))
	mux.HandleFunc("/scheduler/resume", s.authMiddleware.RequireAuth(s.handleSchedulerResume))
	mux.HandleFunc("/scheduler/emergency_stop", s.authMiddleware.RequireAuth(s.handleEmergencyStop))

	s.httpServer = &http.Server{
		Addr:        s.cfg.API.Bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", s.cfg.API.Bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	streams, err := s.vault.ListStreams()
	if err != nil {
		s.logger.Error("status: list streams", "error", err)
	}

	writeJSON(w, map[string]any{
		"uptime_s":    time.Since(s.startTime).Seconds(),
		"paused":      s.scheduler.IsPaused(),
		"stream_count": len(streams),
		"rate_limits": map[string]any{
			"window_5h_cap": s.cfg.RateLimits.Window5hCap,
			"weekly_cap":    s.cfg.RateLimits.WeeklyCap,
		},
	})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.vault.ListStreams()
	healthy := err == nil

	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, map[string]any{
		"healthy": healthy,
	})
}

// routeHives routes GET/POST /hives to the appropriate handler.
func (s *Server) routeHives(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.handleCreateHive(w, r)
		return
	}
	s.handleHives(w, r)
}

// POST /hives — body: {"name": "..."}
func (s *Server) handleCreateHive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hiveID, err := s.scheduler.Hives.CreateHive(body.Name)
	if err != nil {
		s.logger.Error("create hive", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create hive")
		return
	}
	writeJSON(w, map[string]any{"hive_id": hiveID})
}

// GET /hives — every known Hive's folded projection.
func (s *Server) handleHives(w http.ResponseWriter, r *http.Request) {
	ids := s.scheduler.Hives.List()
	out := make([]*projection.HiveProjection, 0, len(ids))
	for _, id := range ids {
		p, err := s.scheduler.Hives.Get(id)
		if err != nil {
			s.logger.Error("hives: get", "hive_id", id, "error", err)
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, out)
}

// routeHiveDetail routes /hives/{id}[/colonies] to the appropriate handler.
func (s *Server) routeHiveDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/hives/")
	if path == "" {
		s.handleHives(w, r)
		return
	}

	if id, ok := strings.CutSuffix(path, "/colonies"); ok {
		s.handleCreateColony(w, r, id)
		return
	}

	s.handleHiveDetail(w, r, path)
}

// GET /hives/{id}
func (s *Server) handleHiveDetail(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.scheduler.Hives.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "hive not found")
		return
	}
	writeJSON(w, p)
}

// POST /hives/{id}/colonies — body: {"name": "..."}
func (s *Server) handleCreateColony(w http.ResponseWriter, r *http.Request, hiveID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	colonyID, err := s.scheduler.Hives.CreateColony(hiveID, body.Name)
	if err != nil {
		s.logger.Error("create colony", "hive_id", hiveID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create colony")
		return
	}
	writeJSON(w, map[string]any{"colony_id": colonyID})
}

// startRunRequest is the body of POST /runs.
type startRunRequest struct {
	HiveID   string           `json:"hive_id"`
	ColonyID string           `json:"colony_id"`
	Goal     string           `json:"goal"`
	Role     string           `json:"role"`
	Tasks    []taskRequestNode `json:"tasks"`
}

type taskRequestNode struct {
	ID        string   `json:"id"`
	DependsOn []string `json:"depends_on"`
	Priority  int      `json:"priority"`
}

// POST /runs — starts a new Run.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.HiveID == "" || body.ColonyID == "" || body.Goal == "" {
		writeError(w, http.StatusBadRequest, "hive_id, colony_id, and goal are required")
		return
	}

	nodes := make([]scheduler.TaskNode, len(body.Tasks))
	for i, t := range body.Tasks {
		nodes[i] = scheduler.TaskNode{ID: t.ID, DependsOn: t.DependsOn, Priority: t.Priority}
	}

	runID, err := s.scheduler.StartRun(body.HiveID, body.ColonyID, body.Goal, body.Role, nodes)
	if err != nil {
		s.logger.Error("start run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, map[string]any{"run_id": runID})
}

// routeRuns routes /runs/{id}[/abort] to the appropriate handler.
func (s *Server) routeRuns(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/runs/")
	if path == "" {
		writeError(w, http.StatusBadRequest, "run id required")
		return
	}

	if id, ok := strings.CutSuffix(path, "/abort"); ok {
		s.handleAbortRun(w, r, id)
		return
	}

	s.handleRunDetail(w, r, path)
}

// GET /runs/{id} — folds the run-level event stream into its current state.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request, runID string) {
	streamID := fmt.Sprintf("run-%s", runID)
	events, err := s.vault.Replay(streamID, nil)
	if err != nil {
		s.logger.Error("run detail: replay", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to replay run")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, projection.FoldRun(runID, events))
}

// POST /runs/{id}/abort — body: {"reason": "..."}
func (s *Server) handleAbortRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "aborted via api"
	}

	if err := s.scheduler.EmergencyStop(scheduler.ScopeRun, runID, body.Reason); err != nil {
		s.logger.Error("abort run", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to abort run")
		return
	}
	writeJSON(w, map[string]any{"run_id": runID, "aborted": true})
}

// POST /scheduler/pause
func (s *Server) handleSchedulerPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.scheduler.Pause()
	writeJSON(w, map[string]any{"paused": true})
}

// POST /scheduler/resume
func (s *Server) handleSchedulerResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.scheduler.Resume()
	writeJSON(w, map[string]any{"paused": false})
}

// GET /scheduler/status
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, map[string]any{
		"paused":        s.scheduler.IsPaused(),
		"tick_interval": s.cfg.General.TickInterval.Duration.String(),
	})
}

// POST /scheduler/emergency_stop — body: {"scope": "run|colony|hive|system", "target_id": "...", "reason": "..."}
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Scope    string `json:"scope"`
		TargetID string `json:"target_id"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scope := scheduler.EmergencyStopScope(body.Scope)
	switch scope {
	case scheduler.ScopeRun, scheduler.ScopeColony, scheduler.ScopeHive, scheduler.ScopeSystem:
	default:
		writeError(w, http.StatusBadRequest, "scope must be one of run, colony, hive, system")
		return
	}

	if err := s.scheduler.EmergencyStop(scope, body.TargetID, body.Reason); err != nil {
		s.logger.Error("emergency stop", "scope", scope, "target_id", body.TargetID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to emergency stop")
		return
	}
	writeJSON(w, map[string]any{"scope": scope, "target_id": body.TargetID, "stopped": true})
}
