// Package webapi implements the Web Surface: a chi-routed REST API plus a
// /ws log stream, backed by the FIFO queue and the log hub.
package webapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/infrastructure/logstream"
)

// QueueController is the subset of orchestrator.Queue the API mutates and
// reads, narrowed to an interface so it can be faked in tests.
type QueueController interface {
	Enqueue(id int64) error
	Remove(id int64) error
	Clear() error
	Snapshot() orchestrator.QueueSnapshot
	Stats() orchestrator.QueueStats
}

// Server wires the REST handlers and the WebSocket log stream together.
type Server struct {
	queue     QueueController
	hub       *logstream.Hub
	staticDir string
	startedAt time.Time
}

// New builds a Server. staticDir may be empty, in which case static asset
// routes are not registered.
func New(queue QueueController, hub *logstream.Hub, staticDir string) *Server {
	return &Server{queue: queue, hub: hub, staticDir: staticDir, startedAt: time.Now()}
}

// Router builds the chi router for the whole Web Surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/queue", s.handleGetQueue)
		r.Get("/queue/stats", s.handleGetQueueStats)
		r.Post("/queue", s.handlePostQueue)
		r.Delete("/queue/{issueNumber}", s.handleDeleteQueue)
		r.Post("/queue/clear", s.handlePostQueueClear)
		r.Get("/logs", s.handleGetLogs)
		r.Get("/logs/issue/{issueNumber}", s.handleGetLogsByIssue)
		r.Get("/logs/agent/{name}", s.handleGetLogsByAgent)
		r.Get("/logs/stats", s.handleGetLogsStats)
	})

	r.Get("/ws", s.handleWS)

	if s.staticDir != "" {
		r.NotFound(s.handleStatic)
	}

	return r
}

type healthResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.startedAt).String(),
		Timestamp: time.Now(),
	})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handleGetQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

type postQueueRequest struct {
	IssueNumber int64 `json:"issueNumber"`
}

func (s *Server) handlePostQueue(w http.ResponseWriter, r *http.Request) {
	var req postQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IssueNumber <= 0 {
		writeError(w, http.StatusBadRequest, "issueNumber is required")
		return
	}
	if err := s.queue.Enqueue(req.IssueNumber); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.queue.Snapshot())
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	id, err := parseIssueNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.Remove(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handlePostQueueClear(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Clear(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	count := 100
	if raw := r.URL.Query().Get("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			count = n
		}
	}
	writeJSON(w, http.StatusOK, s.hub.Recent(count))
}

func (s *Server) handleGetLogsByIssue(w http.ResponseWriter, r *http.Request) {
	id, err := parseIssueNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.hub.FilterByTicket(id))
}

func (s *Server) handleGetLogsByAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, s.hub.FilterByAgent(name))
}

type logsStatsResponse struct {
	Total  int            `json:"total"`
	Levels map[string]int `json:"levels"`
}

func (s *Server) handleGetLogsStats(w http.ResponseWriter, r *http.Request) {
	all := s.hub.Recent(0)
	levels := map[string]int{}
	for _, e := range all {
		levels[string(e.Level)]++
	}
	writeJSON(w, http.StatusOK, logsStatsResponse{Total: len(all), Levels: levels})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	_ = logstream.ServeWS(s.hub, w, r)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	requested := filepath.Join(s.staticDir, filepath.Clean(r.URL.Path))
	if info, err := os.Stat(requested); err == nil && !info.IsDir() {
		http.ServeFile(w, r, requested)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

func parseIssueNumber(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "issueNumber")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return id, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
