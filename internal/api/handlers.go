package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mtelegin/herald/internal/campaign"
	"github.com/mtelegin/herald/internal/engine"
	"github.com/mtelegin/herald/internal/metrics"
)

// CampaignRequest is the request body for POST /campaigns
type CampaignRequest struct {
	Name            string                   `json:"name"`
	Type            campaign.Type            `json:"type"`
	Messenger       campaign.Messenger       `json:"messenger"`
	UniversalTarget campaign.UniversalTarget `json:"universal_target,omitempty"`
	Template        string                   `json:"template"`
	TemplateID      string                   `json:"template_id,omitempty"`
	ProfileIDs      []string                 `json:"profile_ids"`
	Schedule        campaign.ScheduleConfig  `json:"schedule"`
	Filter          campaign.FilterConfig    `json:"filter"`
	Options         campaign.OptionsConfig   `json:"options"`
}

// ScheduleRequest is the request body for POST /campaigns/{id}/schedule
type ScheduleRequest struct {
	At time.Time `json:"at"`
}

// ProfileSummary is one entry of GET /profiles
type ProfileSummary struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Channels []campaign.Channel `json:"channels"`
	Enabled  bool               `json:"enabled"`
}

// HealthResponse is the response for GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.engine.List())
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// A stored template id takes the place of an inline body.
	if req.Template == "" && req.TemplateID != "" {
		tmpl, err := s.templates.Get(req.TemplateID)
		if err != nil {
			s.sendTemplateError(w, err)
			return
		}
		req.Template = tmpl.Body
	}

	c, err := s.engine.Create(&campaign.Campaign{
		Name:            req.Name,
		Type:            req.Type,
		Messenger:       req.Messenger,
		UniversalTarget: req.UniversalTarget,
		Template:        req.Template,
		ProfileIDs:      req.ProfileIDs,
		Schedule:        req.Schedule,
		Filter:          req.Filter,
		Options:         req.Options,
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(chi.URLParam(r, "id")); err != nil {
		s.sendEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProgress handles GET /api/v1/campaigns/{id}/progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Progress(chi.URLParam(r, "id"))
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, p)
}

// handleSchedule handles POST /api/v1/campaigns/{id}/schedule
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.At.IsZero() {
		s.sendError(w, http.StatusBadRequest, "schedule time is required")
		return
	}
	s.control(w, r, func(id string) error { return s.engine.Schedule(id, req.At) })
}

// handleStart handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Start)
}

// handlePause handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Pause)
}

// handleResume handles POST /api/v1/campaigns/{id}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Resume)
}

// handleCancel handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Cancel)
}

// control runs one engine lifecycle operation and returns the updated
// campaign.
func (s *Server) control(w http.ResponseWriter, r *http.Request, op func(id string) error) {
	id := chi.URLParam(r, "id")
	if err := op(id); err != nil {
		s.sendEngineError(w, err)
		return
	}
	c, err := s.engine.Get(id)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleListProfiles handles GET /api/v1/profiles
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.List(r.Context(), nil)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	out := make([]ProfileSummary, 0, len(list))
	for _, p := range list {
		out = append(out, ProfileSummary{
			ID:       p.ID,
			Name:     p.Name,
			Channels: p.Channels,
			Enabled:  p.Enabled,
		})
	}
	s.sendJSON(w, http.StatusOK, out)
}

// sendEngineError maps engine errors to HTTP status codes
func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	var ite *engine.InvalidTransitionError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ite):
		metrics.IncAPIErrors("invalid_transition")
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrValidation):
		metrics.IncAPIErrors("validation")
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrProfileUnavailable):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		metrics.IncAPIErrors("internal")
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}
