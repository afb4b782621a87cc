package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/edged/internal/deployment"
	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/model"
)

type stubRuntime struct {
	submitErr   error
	submitted   []model.DeploymentDocument
	deployments map[string]deployment.Status
	states      map[string]model.State
	details     map[string]ComponentDetail
	reported    map[string]model.State
	reportErr   error
	healthy     bool
}

func newStubRuntime() *stubRuntime {
	return &stubRuntime{
		deployments: make(map[string]deployment.Status),
		states:      make(map[string]model.State),
		details:     make(map[string]ComponentDetail),
		reported:    make(map[string]model.State),
		healthy:     true,
	}
}

func (s *stubRuntime) SubmitDeployment(doc model.DeploymentDocument) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, doc)
	return "generated-id", nil
}

func (s *stubRuntime) DeploymentStatus(id string) (deployment.Status, bool) {
	st, ok := s.deployments[id]
	return st, ok
}

func (s *stubRuntime) Deployments() []deployment.Status {
	out := make([]deployment.Status, 0, len(s.deployments))
	for _, st := range s.deployments {
		out = append(out, st)
	}
	return out
}

func (s *stubRuntime) ComponentStates() map[string]model.State { return s.states }

func (s *stubRuntime) ComponentDetail(name string) (ComponentDetail, error) {
	d, ok := s.details[name]
	if !ok {
		return ComponentDetail{}, fmt.Errorf("unknown component %q", name)
	}
	return d, nil
}

func (s *stubRuntime) ReportState(name string, state model.State) error {
	if s.reportErr != nil {
		return s.reportErr
	}
	s.reported[name] = state
	return nil
}

func (s *stubRuntime) Healthy() bool { return s.healthy }

func doRequest(t *testing.T, rt *stubRuntime, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer("127.0.0.1:0", rt, nil)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitDeploymentAccepted(t *testing.T) {
	rt := newStubRuntime()
	rec := doRequest(t, rt, http.MethodPost, "/api/v1/deployments",
		`{"rootComponents":{"app":"^1.0.0"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "generated-id", resp["deploymentId"])
	require.Len(t, rt.submitted, 1)
	assert.Equal(t, "^1.0.0", rt.submitted[0].RootComponents["app"])
}

func TestSubmitDeploymentRejected(t *testing.T) {
	rt := newStubRuntime()
	rt.submitErr = fmt.Errorf("%w: unknown component", errors.ErrDeploymentRejected)
	rec := doRequest(t, rt, http.MethodPost, "/api/v1/deployments",
		`{"rootComponents":{"ghost":""}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitDeploymentBadJSON(t *testing.T) {
	rt := newStubRuntime()

	rec := doRequest(t, rt, http.MethodPost, "/api/v1/deployments", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown fields are rejected, not silently dropped.
	rec = doRequest(t, rt, http.MethodPost, "/api/v1/deployments",
		`{"rootComponents":{},"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDeployment(t *testing.T) {
	rt := newStubRuntime()
	rt.deployments["d1"] = deployment.Status{
		DeploymentID: "d1",
		State:        model.DeploymentSucceeded,
	}

	rec := doRequest(t, rt, http.MethodGet, "/api/v1/deployments/d1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st deployment.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, model.DeploymentSucceeded, st.State)

	rec = doRequest(t, rt, http.MethodGet, "/api/v1/deployments/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListComponentsSorted(t *testing.T) {
	rt := newStubRuntime()
	rt.states["zebra"] = model.StateRunning
	rt.states["alpha"] = model.StateInstalled

	rec := doRequest(t, rt, http.MethodGet, "/api/v1/components", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []componentState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "alpha", out[0].Name)
	assert.Equal(t, "zebra", out[1].Name)
}

func TestGetComponent(t *testing.T) {
	rt := newStubRuntime()
	rt.details["db"] = ComponentDetail{
		Name: "db", Version: "1.2.0", State: model.StateRunning, Kind: "generic",
	}

	rec := doRequest(t, rt, http.MethodGet, "/api/v1/components/db", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d ComponentDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "1.2.0", d.Version)

	rec = doRequest(t, rt, http.MethodGet, "/api/v1/components/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportState(t *testing.T) {
	rt := newStubRuntime()
	rec := doRequest(t, rt, http.MethodPost, "/api/v1/components/app/state",
		`{"state":"RUNNING"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, model.StateRunning, rt.reported["app"])
}

func TestReportStateRejected(t *testing.T) {
	rt := newStubRuntime()
	rt.reportErr = fmt.Errorf("component app is not awaiting a report")
	rec := doRequest(t, rt, http.MethodPost, "/api/v1/components/app/state",
		`{"state":"RUNNING"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	rt := newStubRuntime()
	rec := doRequest(t, rt, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rt.healthy = false
	rec = doRequest(t, rt, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
