package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mtelegin/herald/internal/template"
)

// TemplateRequest is the request body for POST and PUT /templates
type TemplateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Body        string `json:"body"`
}

// PreviewRequest is the request body for POST /templates/{id}/preview
type PreviewRequest struct {
	Data map[string]string `json:"data"`
}

// PreviewResponse is the response for POST /templates/{id}/preview
type PreviewResponse struct {
	Rendered string `json:"rendered"`
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.templates.List(template.ListFilter{
		Search: r.URL.Query().Get("search"),
	})
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	s.sendJSON(w, http.StatusOK, list)
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.renderer.Validate(req.Body); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	tmpl := &template.Template{
		Name:        req.Name,
		Description: req.Description,
		Body:        req.Body,
	}
	if err := s.templates.Create(tmpl); err != nil {
		s.sendTemplateError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, tmpl)
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.templates.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.sendTemplateError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tmpl)
}

// handleUpdateTemplate handles PUT /api/v1/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.renderer.Validate(req.Body); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	tmpl := &template.Template{
		ID:          chi.URLParam(r, "id"),
		Name:        req.Name,
		Description: req.Description,
		Body:        req.Body,
	}
	if err := s.templates.Update(tmpl); err != nil {
		s.sendTemplateError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tmpl)
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Delete(chi.URLParam(r, "id")); err != nil {
		s.sendTemplateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreviewTemplate handles POST /api/v1/templates/{id}/preview. The
// console uses it to show a rendered body with sample contact data
// before a campaign goes live.
func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.templates.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.sendTemplateError(w, err)
		return
	}

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rendered, err := s.renderer.Render(tmpl.Body, req.Data)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, PreviewResponse{Rendered: rendered})
}

// sendTemplateError maps template storage errors to HTTP status codes
func (s *Server) sendTemplateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, template.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, template.ErrDuplicateName):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		s.sendError(w, http.StatusBadRequest, err.Error())
	}
}
