// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway is the HTTP surface: task submission and queries,
// read-only memory search, live event streams, and health.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/internal/pubsub"
	"github.com/teradata-labs/warp/pkg/budget"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/memory"
	"github.com/teradata-labs/warp/pkg/scheduler"
	"github.com/teradata-labs/warp/pkg/types"
)

// DefaultAddr is the listen address when unconfigured.
const DefaultAddr = "127.0.0.1:8420"

// Config wires the gateway's collaborators. The gateway holds no state
// of its own; every read goes to the scheduler store.
type Config struct {
	Addr string

	Scheduler *scheduler.Scheduler
	Store     *scheduler.Store
	Router    *llm.Router

	// Archive serves read-only memory queries; nil disables the
	// endpoint.
	Archive  memory.Archive
	Embedder types.Embedder

	// Memory is pinged by healthz; nil skips the check.
	Memory *memory.Store

	// Ledger contributes budget state to healthz; nil skips it.
	Ledger *budget.Ledger

	// Events feeds the SSE and WebSocket streams.
	Events *pubsub.Broker[types.StepEvent]

	Logger *zap.Logger
}

// Server is the collaborator-facing HTTP server.
type Server struct {
	cfg    Config
	logger *zap.Logger
	mux    *http.ServeMux
	srv    *http.Server
	stream *eventStream
}

// NewServer builds the routing table.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{cfg: cfg, logger: logger, mux: http.NewServeMux()}
	if cfg.Events != nil {
		s.stream = newEventStream(cfg.Events, logger)
	}

	s.mux.HandleFunc("POST /v1/tasks", s.handleSubmit)
	s.mux.HandleFunc("GET /v1/tasks", s.handleList)
	s.mux.HandleFunc("GET /v1/tasks/{id}", s.handleGet)
	s.mux.HandleFunc("GET /v1/tasks/{id}/turns", s.handleTurns)
	s.mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /v1/tasks/{id}/approve", s.handleApprove)
	s.mux.HandleFunc("GET /v1/memory/records", s.handleMemoryQuery)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.stream != nil {
		s.mux.HandleFunc("GET /v1/events", s.stream.serveSSE)
		s.mux.HandleFunc("GET /v1/events/ws", s.stream.serveWS)
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving and pumping events. Non-blocking.
func (s *Server) Start(ctx context.Context) error {
	if s.stream != nil {
		go s.stream.pump(ctx)
	}

	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway server failed", zap.Error(err))
		}
	}()
	s.logger.Info("gateway listening", zap.String("addr", s.cfg.Addr))
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type submitRequest struct {
	Payload  string            `json:"payload"`
	Priority int               `json:"priority,omitempty"`
	Origin   string            `json:"origin,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Payload) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("payload is required"))
		return
	}

	origin := types.TaskOrigin(req.Origin)
	switch origin {
	case "":
		origin = types.OriginChat
	case types.OriginChat, types.OriginDashboard:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("origin must be chat or dashboard"))
		return
	}

	task := &types.Task{
		Origin:   origin,
		Payload:  req.Payload,
		Priority: req.Priority,
		Metadata: req.Metadata,
	}
	if err := s.cfg.Scheduler.Submit(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tasks, err := s.cfg.Store.ListTasks(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	task, err := s.cfg.Store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.cfg.Store.GetTask(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	turns, err := s.cfg.Store.Turns(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if turns == nil {
		turns = []types.ConversationTurn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Scheduler.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Scheduler.Approve(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

type memoryMatch struct {
	Record     types.MemoryRecord `json:"record"`
	Similarity float64            `json:"similarity,omitempty"`
}

func (s *Server) handleMemoryQuery(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Archive == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("memory is not configured"))
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("q is required"))
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))
	if k <= 0 {
		k = 5
	}

	matches := []memoryMatch{}
	if s.cfg.Embedder != nil {
		vec, err := s.cfg.Embedder.Embed(r.Context(), query)
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Errorf("embed query: %w", err))
			return
		}
		scored, err := s.cfg.Archive.Query(r.Context(), vec, k, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, rec := range scored {
			matches = append(matches, memoryMatch{Record: rec.MemoryRecord, Similarity: rec.Similarity})
		}
	} else {
		records, err := s.cfg.Archive.QueryText(r.Context(), query, k)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, rec := range records {
			matches = append(matches, memoryMatch{Record: rec})
		}
	}
	writeJSON(w, http.StatusOK, matches)
}

type healthResponse struct {
	Status     string           `json:"status"`
	QueueDepth int              `json:"queue_depth"`
	Running    int64            `json:"running"`
	Providers  map[string]bool  `json:"providers,omitempty"`
	Memory     string           `json:"memory,omitempty"`
	Budget     *budget.Snapshot `json:"budget,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		QueueDepth: s.cfg.Scheduler.QueueDepth(),
		Running:    s.cfg.Scheduler.RunningCount(),
	}

	if s.cfg.Router != nil {
		probeCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		resp.Providers = s.cfg.Router.Availability(probeCtx)
		cancel()
	}
	if s.cfg.Memory != nil {
		if err := s.cfg.Memory.Ping(r.Context()); err != nil {
			resp.Memory = err.Error()
			resp.Status = "degraded"
		} else {
			resp.Memory = "ok"
		}
	}
	if s.cfg.Ledger != nil {
		snap := s.cfg.Ledger.Status()
		resp.Budget = &snap
		if snap.Killed {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
