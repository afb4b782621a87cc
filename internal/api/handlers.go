package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"

	edgederrors "git.home.luguber.info/inful/edged/internal/errors"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes into an intermediate buffer so a failed encode never
// produces a partial response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("encoding JSON response", logfields.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("writing JSON response body", logfields.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleSubmitDeployment(w http.ResponseWriter, r *http.Request) {
	var doc model.DeploymentDocument
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.runtime.SubmitDeployment(doc)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, edgederrors.ErrDeploymentRejected) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"deploymentId": id})
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Deployments())
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := s.runtime.DeploymentStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown deployment "+id))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type componentState struct {
	Name  string      `json:"name"`
	State model.State `json:"state"`
}

func (s *Server) handleListComponents(w http.ResponseWriter, r *http.Request) {
	states := s.runtime.ComponentStates()
	out := make([]componentState, 0, len(states))
	for name, st := range states {
		out = append(out, componentState{Name: name, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	detail, err := s.runtime.ComponentDetail(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type stateReport struct {
	State model.State `json:"state"`
}

// handleReportState is the self-report endpoint for managed processes whose
// run step declares requiresReport.
func (s *Server) handleReportState(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var report stateReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.runtime.ReportState(name, report.State); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.runtime.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
