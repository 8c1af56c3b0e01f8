// Package server exposes a running simulation over HTTP: JSON snapshots, a
// websocket snapshot stream, operator commands, the tutor and Prometheus
// metrics. It only reads published snapshots and never mutates engine state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/raylab/sim/runner"
	"github.com/inference-sim/raylab/tutor"
)

// Controller accepts operator commands, typically a *runner.Runner.
type Controller interface {
	Submit(ctx context.Context, cmd runner.Command) error
}

// Server provides HTTP endpoints for visualization and control.
type Server struct {
	mu     sync.RWMutex
	latest *runner.Snapshot
	frame  []byte

	controller Controller
	tutor      tutor.Tutor
	exporter   *Exporter
	hub        *wsHub
	mux        *http.ServeMux
	ctx        context.Context
}

// New creates a server. Call Start (or Run) before serving websocket clients.
func New(controller Controller, t tutor.Tutor) (*Server, error) {
	exporter, err := NewExporter()
	if err != nil {
		return nil, err
	}
	s := &Server{
		controller: controller,
		tutor:      t,
		exporter:   exporter,
		hub:        newHub(),
		mux:        http.NewServeMux(),
		ctx:        context.Background(),
	}
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/metrics/latest", s.handleLatestMetric)
	s.mux.HandleFunc("POST /api/control", s.handleControl)
	s.mux.HandleFunc("POST /api/tutor", s.handleTutor)
	s.mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) { s.hub.handle(s, w, r) })
	s.mux.Handle("GET /metrics", exporter.Handler())
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Exporter returns the Prometheus exporter fed by Update.
func (s *Server) Exporter() *Exporter {
	return s.exporter
}

// Start launches the websocket hub. It stops when ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	s.ctx = ctx
	go s.hub.run(ctx)
}

// Update records a published snapshot. Must be called from one goroutine.
func (s *Server) Update(snap runner.Snapshot) {
	frame, err := json.Marshal(snap)
	if err != nil {
		logrus.Errorf("failed to marshal snapshot: %v", err)
		return
	}
	s.mu.Lock()
	s.latest = &snap
	s.frame = frame
	s.mu.Unlock()

	s.exporter.Observe(snap.State)
	s.hub.publish(frame)
}

func (s *Server) latestFrame() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.frame != nil
}

// Run serves on addr and feeds snapshots into Update until ctx is cancelled,
// then shuts the HTTP server down.
func (s *Server) Run(ctx context.Context, addr string, snapshots <-chan runner.Snapshot) error {
	s.Start(ctx)
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap := <-snapshots:
				s.Update(snap)
			}
		}
	})
	g.Go(func() error {
		logrus.Infof("serving on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.latestFrame()
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(frame)
}

func (s *Server) handleLatestMetric(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.latest
	s.mu.RUnlock()
	if snap == nil || snap.State.LatestMetric() == nil {
		writeError(w, http.StatusNotFound, "no metrics available")
		return
	}
	writeJSON(w, http.StatusOK, snap.State.LatestMetric())
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var cmd runner.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command: "+err.Error())
		return
	}
	if err := s.controller.Submit(r.Context(), cmd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tutorRequest struct {
	Question string `json:"question"`
}

type tutorResponse struct {
	Answer  string `json:"answer"`
	Context string `json:"context"`
}

func (s *Server) handleTutor(w http.ResponseWriter, r *http.Request) {
	var req tutorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}

	s.mu.RLock()
	snap := s.latest
	s.mu.RUnlock()
	var clusterContext string
	if snap != nil {
		clusterContext = tutor.Summarize(snap.State, snap.Controls)
	}

	answer, err := s.tutor.Ask(r.Context(), req.Question, clusterContext)
	if err != nil {
		logrus.Warnf("tutor: %v", err)
		writeError(w, http.StatusBadGateway, "tutor unavailable")
		return
	}
	writeJSON(w, http.StatusOK, tutorResponse{Answer: answer, Context: clusterContext})
}
