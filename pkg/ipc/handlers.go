package ipc

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tetherview/scadabridge/pkg/errors"
	"github.com/tetherview/scadabridge/pkg/gate"
	"github.com/tetherview/scadabridge/pkg/registry"
	"github.com/tetherview/scadabridge/pkg/telemetry"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"upstream": map[string]any{
			"base_url":  s.upstream.BaseURL().String(),
			"connected": s.upstream.Connected(),
		},
		"collector":     s.collector.Status(),
		"points":        s.registry.Snapshot().Len(),
		"subscribers":   s.hub.SubscriberCount(),
		"dashboard_url": strings.TrimSuffix(s.cfg.PublicOrigin, "/") + s.cfg.ProxyPrefix + "/",
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleListPoints(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"points": s.registry.Snapshot().Points(),
	})
}

func (s *Server) handleAddPoint(w http.ResponseWriter, r *http.Request) {
	var def registry.Definition
	if status, err := decodeJSONBody(w, r, &def, false); err != nil {
		respondErrorStatus(w, status, err)
		return
	}
	if err := validateDefinition(def); err != nil {
		respondError(w, err)
		return
	}
	if err := s.registry.Add(def); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, def)
}

func (s *Server) handleUpdatePoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var def registry.Definition
	if status, err := decodeJSONBody(w, r, &def, false); err != nil {
		respondErrorStatus(w, status, err)
		return
	}
	if err := validateDefinition(def); err != nil {
		respondError(w, err)
		return
	}
	if err := s.registry.Update(id, def); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeletePoint(w http.ResponseWriter, r *http.Request) {
	s.registry.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorderPoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Order []string `json:"order"`
	}
	if status, err := decodeJSONBody(w, r, &body, false); err != nil {
		respondErrorStatus(w, status, err)
		return
	}
	if err := s.registry.Reorder(body.Order); err != nil {
		// An unknown id in a reorder request is a malformed request, not a
		// missing resource.
		respondErrorStatus(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"points": s.registry.Snapshot().Points(),
	})
}

func validateDefinition(def registry.Definition) error {
	if def.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "point id is required")
	}
	if def.Tag == "" {
		return errors.New(errors.ErrCodeInvalidInput, "point tag is required")
	}
	if def.HasRange() && *def.SafetyMin > *def.SafetyMax {
		return errors.New(errors.ErrCodeInvalidInput, "safety_min exceeds safety_max")
	}
	return nil
}

// handlePointStats summarizes the buffered history for one point. The
// optional "last" and "window" query params bound the history considered.
func (s *Server) handlePointStats(w http.ResponseWriter, r *http.Request) {
	idOrTag := chi.URLParam(r, "id")
	def, ok := s.registry.Snapshot().Resolve(idOrTag)
	if !ok {
		respondError(w, errors.New(errors.ErrCodeUnknownIdentifier, "point "+idOrTag+" not found"))
		return
	}

	lastN := parseIntDefault(r.URL.Query().Get("last"), 0)
	windowSecs := parseIntDefault(r.URL.Query().Get("window"), 0)
	samples := s.buffer.History(lastN, time.Duration(windowSecs)*time.Second)

	respondJSON(w, http.StatusOK, map[string]any{
		"point": def.ID,
		"tag":   def.Tag,
		"unit":  def.Unit,
		"stats": telemetry.ComputeStats(samples, def.ID),
	})
}

// handleExport serves the buffered history as an xlsx download. The optional
// "last" and "window" query params bound the exported range the same way the
// stats endpoint does. An empty buffer is a 409 rather than an empty workbook.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	lastN := parseIntDefault(r.URL.Query().Get("last"), 0)
	windowSecs := parseIntDefault(r.URL.Query().Get("window"), 0)
	samples := s.buffer.History(lastN, time.Duration(windowSecs)*time.Second)

	buf, err := telemetry.ExportWorkbook(s.registry.Snapshot().Points(), samples)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeInvalidState) {
			respondErrorStatus(w, http.StatusConflict, err)
			return
		}
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="scada_data.xlsx"`)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleProposeAction(w http.ResponseWriter, r *http.Request) {
	var proposal gate.Proposal
	if status, err := decodeJSONBody(w, r, &proposal, false); err != nil {
		respondErrorStatus(w, status, err)
		return
	}
	action, err := s.gate.Propose(proposal)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, action)
}

func (s *Server) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if status, err := decodeJSONBody(w, r, &body, false); err != nil {
		respondErrorStatus(w, status, err)
		return
	}
	action, err := s.gate.Approve(r.Context(), body.ID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNoPendingAction) {
			respondError(w, err)
			return
		}
		// The action was consumed; the write failed. The terminal state and
		// upstream error ride back in the action body.
		respondJSON(w, http.StatusOK, action)
		return
	}
	respondJSON(w, http.StatusOK, action)
}

func (s *Server) handleRejectAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}
	if status, err := decodeJSONBody(w, r, &body, false); err != nil {
		respondErrorStatus(w, status, err)
		return
	}
	action, err := s.gate.Reject(body.ID, body.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, action)
}

func (s *Server) handlePendingActions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"actions": s.gate.Pending(),
	})
}
