// Package api is the admin HTTP surface: task registration, listing, and
// cancellation over JSON, mirroring the chat commands. Registrations made
// here still go through chat approval.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gatebot/internal/engine"
	"gatebot/internal/schedule"
	"gatebot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

type Server struct {
	cfg Config
	log logx.Logger
	eng *engine.Engine

	srv *http.Server
}

func NewServer(cfg Config, eng *engine.Engine, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8090"
	}
	s := &Server{cfg: cfg, log: log, eng: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", s.health)
	r.Post("/api/tasks", s.registerTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Delete("/api/tasks/{id}", s.cancelTask)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	go func() {
		s.log.Info("admin api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api serve failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type registerReq struct {
	Channel string `json:"channel"`
	Kind    string `json:"kind"`
	Value   string `json:"value"`
	Payload string `json:"payload"`
	Actor   int64  `json:"actor"`
}

func (s *Server) registerTask(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}
	if req.Payload == "" {
		http.Error(w, "payload is required", http.StatusBadRequest)
		return
	}

	sum, err := s.eng.RegisterTask(r.Context(), engine.RegisterRequest{
		Channel: req.Channel,
		Kind:    schedule.Kind(req.Kind),
		Value:   req.Value,
		Payload: req.Payload,
		Actor:   req.Actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sum)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.eng.ListTasks(r.URL.Query().Get("channel"))
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	sum, err := s.eng.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	status, err := s.eng.RequestCancellation(r.Context(), chi.URLParam(r, "id"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(status)})
}

func writeError(w http.ResponseWriter, err error) {
	var verr *schedule.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrAlreadyPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrCapacity):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, engine.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
