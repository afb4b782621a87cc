// Package deployment reconciles a desired component set against the running
// one and drives the orchestrator (and bootstrap manager) to apply it.
package deployment

import (
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/edged/internal/model"
)

// Status is the externally visible record of one deployment activation.
type Status struct {
	DeploymentID string                 `json:"deploymentId"`
	State        model.DeploymentStatus `json:"state"`
	Detail       string                 `json:"detail,omitempty"`
	// ComponentErrors names exactly which components failed, for
	// DO_NOTHING outcomes and rollback reports.
	ComponentErrors map[string]string `json:"componentErrors,omitempty"`
	SubmittedAt     time.Time         `json:"submittedAt"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
}

// Tracker records deployment outcomes for the status API.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]*Status
	order    []string
	current  string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]*Status)}
}

// Begin registers a deployment as IN_PROGRESS.
func (t *Tracker) Begin(deploymentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.statuses[deploymentID]; !exists {
		t.order = append(t.order, deploymentID)
	}
	t.statuses[deploymentID] = &Status{
		DeploymentID: deploymentID,
		State:        model.DeploymentInProgress,
		SubmittedAt:  time.Now(),
	}
	t.current = deploymentID
}

// Complete records the terminal outcome of a deployment.
func (t *Tracker) Complete(deploymentID string, state model.DeploymentStatus, detail string, componentErrors map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.statuses[deploymentID]
	if !ok {
		st = &Status{DeploymentID: deploymentID, SubmittedAt: time.Now()}
		t.statuses[deploymentID] = st
		t.order = append(t.order, deploymentID)
	}
	now := time.Now()
	st.State = state
	st.Detail = detail
	st.ComponentErrors = componentErrors
	st.CompletedAt = &now
	if t.current == deploymentID {
		t.current = ""
	}
}

// Get returns a copy of the status for a deployment.
func (t *Tracker) Get(deploymentID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.statuses[deploymentID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// CurrentID returns the deployment currently being activated, if any.
func (t *Tracker) CurrentID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// List returns all statuses in submission order.
func (t *Tracker) List() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Status, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.statuses[id])
	}
	return out
}

// sortedKeys is a small helper for deterministic error reports.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
