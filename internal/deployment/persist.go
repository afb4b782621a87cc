package deployment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/edged/internal/model"
)

// pendingState is the activation checkpoint persisted across restarts on the
// bootstrap path.
type pendingState struct {
	Document model.DeploymentDocument `json:"document"`
	Stage    model.DeploymentStage    `json:"stage"`
}

const (
	lastDocumentFile    = "last-deployment.json"
	pendingDocumentFile = "pending-deployment.json"
)

func (r *Reconciler) lastPath() string    { return filepath.Join(r.stateDir, lastDocumentFile) }
func (r *Reconciler) pendingPath() string { return filepath.Join(r.stateDir, pendingDocumentFile) }

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

func (r *Reconciler) saveLastApplied(doc model.DeploymentDocument) error {
	return writeJSON(r.lastPath(), doc)
}

func (r *Reconciler) loadLastApplied() (*model.DeploymentDocument, error) {
	var doc model.DeploymentDocument
	ok, err := readJSON(r.lastPath(), &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc, nil
}

func (r *Reconciler) savePending(doc model.DeploymentDocument, stage model.DeploymentStage) error {
	return writeJSON(r.pendingPath(), pendingState{Document: doc, Stage: stage})
}

func (r *Reconciler) loadPending() (*pendingState, error) {
	var st pendingState
	ok, err := readJSON(r.pendingPath(), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

func (r *Reconciler) clearPending() {
	_ = os.Remove(r.pendingPath())
}
