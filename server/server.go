// Package server exposes the pipeline over a small JSON HTTP API.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/aggregate"
	"github.com/rosterhq/roster/campaign"
	"github.com/rosterhq/roster/config"
	"github.com/rosterhq/roster/dedup"
	"github.com/rosterhq/roster/errors"
	"github.com/rosterhq/roster/job"
	"github.com/rosterhq/roster/lifecycle"
	"github.com/rosterhq/roster/queue"
)

// Server wires the HTTP surface to the pipeline stores.
type Server struct {
	cfg       *config.Config
	jobs      *job.Store
	queue     *queue.Queue
	agg       *aggregate.Aggregator
	pool      *dedup.Store
	campaigns *campaign.Store
	sweeper   *lifecycle.Sweeper
	log       *zap.SugaredLogger
}

// New creates a server.
func New(cfg *config.Config, jobs *job.Store, q *queue.Queue, agg *aggregate.Aggregator, pool *dedup.Store, campaigns *campaign.Store, sweeper *lifecycle.Sweeper, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:       cfg,
		jobs:      jobs,
		queue:     q,
		agg:       agg,
		pool:      pool,
		campaigns: campaigns,
		sweeper:   sweeper,
		log:       log.Named("http"),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Get("/jobs/{jobID}/results", s.handleJobResults)
		r.Post("/ingest", s.handleIngest)
		r.Post("/campaigns/run", s.handleRunCampaign)
		r.Post("/campaigns/{campaignID}/distribute", s.handleDistribute)
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/health", s.handleHealth)
	})

	return r
}

// ListenAndServe runs the server on the configured address.
func (s *Server) ListenAndServe() error {
	s.log.Infow("http server listening", "addr", s.cfg.Server.Addr)
	return http.ListenAndServe(s.cfg.Server.Addr, s.Router())
}

// respond writes a JSON body with success=true merged in.
func (s *Server) respond(w http.ResponseWriter, status int, body map[string]interface{}) {
	if body == nil {
		body = map[string]interface{}{}
	}
	if _, ok := body["success"]; !ok {
		body["success"] = true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Errorw("failed to encode response", "error", err)
	}
}

// respondError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsValidation(err):
		status = http.StatusBadRequest
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsNotReady(err), errors.IsConsistency(err):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}
