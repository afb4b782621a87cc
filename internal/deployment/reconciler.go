package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/edged/internal/bootstrap"
	"git.home.luguber.info/inful/edged/internal/configstore"
	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/graph"
	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"
	"git.home.luguber.info/inful/edged/internal/orchestrator"
	"git.home.luguber.info/inful/edged/internal/recipe"
)

// RestartFunc is the daemon hook invoked when a bootstrap task demands a
// process or device restart. The reconciler has already persisted the pending
// deployment; the hook only has to make the restart happen.
type RestartFunc func(kind bootstrap.RestartKind) error

// Recorder receives deployment outcomes for metrics.
type Recorder interface {
	DeploymentCompleted(status model.DeploymentStatus)
}

// errRestartPending signals that activation stopped mid-flight waiting for a
// restart; the deployment stays IN_PROGRESS and resumes on the next boot.
var errRestartPending = fmt.Errorf("restart pending")

// Reconciler turns deployment documents into component set changes. One
// activation runs at a time; Submit validates synchronously and activates in
// the background.
type Reconciler struct {
	orch     *orchestrator.Orchestrator
	resolver *recipe.Resolver
	cfg      *configstore.Store
	boot     *bootstrap.Manager
	tracker  *Tracker

	stateDir       string
	defaultTimeout time.Duration
	restart        RestartFunc
	recorder       Recorder

	// activeMu serialises activations end to end.
	activeMu sync.Mutex
	// lastApplied is the rollback target: the document of the most recent
	// successful activation.
	lastApplied *model.DeploymentDocument
}

// Options wires a Reconciler.
type Options struct {
	Orchestrator   *orchestrator.Orchestrator
	Resolver       *recipe.Resolver
	Config         *configstore.Store
	Bootstrap      *bootstrap.Manager
	Tracker        *Tracker
	StateDir       string
	DefaultTimeout time.Duration
	Restart        RestartFunc
	Recorder       Recorder
}

// New creates a reconciler and loads the last applied document from the state
// directory, if one was persisted by a previous run.
func New(opts Options) (*Reconciler, error) {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Minute
	}
	r := &Reconciler{
		orch:           opts.Orchestrator,
		resolver:       opts.Resolver,
		cfg:            opts.Config,
		boot:           opts.Bootstrap,
		tracker:        opts.Tracker,
		stateDir:       opts.StateDir,
		defaultTimeout: opts.DefaultTimeout,
		restart:        opts.Restart,
		recorder:       opts.Recorder,
	}
	last, err := r.loadLastApplied()
	if err != nil {
		return nil, err
	}
	r.lastApplied = last
	return r, nil
}

// LastApplied returns the rollback target document, if any.
func (r *Reconciler) LastApplied() *model.DeploymentDocument {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	return r.lastApplied
}

// Submit validates a document and, when it is admissible, starts activation
// in the background. Validation failures are reported synchronously wrapped
// in ErrDeploymentRejected; nothing in the running state has been touched.
func (r *Reconciler) Submit(doc model.DeploymentDocument) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now()
	}
	if err := validateDocument(r.resolver, doc); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrDeploymentRejected, err)
	}
	go r.Activate(context.Background(), doc)
	return doc.ID, nil
}

// Activate applies a document synchronously and returns its final status.
func (r *Reconciler) Activate(ctx context.Context, doc model.DeploymentDocument) Status {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	return r.activateLocked(ctx, doc, false)
}

// ResumePending continues an activation interrupted by a bootstrap restart.
// It must run before the daemon accepts new deployments. When no pending
// deployment exists it is a no-op.
func (r *Reconciler) ResumePending(ctx context.Context) error {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()

	pending, err := r.loadPending()
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}
	slog.Info("resuming interrupted deployment",
		logfields.DeploymentID(pending.Document.ID),
		logfields.Stage(string(pending.Stage)))
	r.activateLocked(ctx, pending.Document, true)
	return nil
}

// activateLocked runs one activation under activeMu. resume marks the
// post-restart continuation of a bootstrap-path deployment.
func (r *Reconciler) activateLocked(ctx context.Context, doc model.DeploymentDocument, resume bool) Status {
	r.tracker.Begin(doc.ID)
	slog.Info("activating deployment",
		logfields.DeploymentID(doc.ID),
		slog.Int("roots", len(doc.RootComponents)))

	failures, err := r.apply(ctx, doc, model.StageDefault, resume)
	switch {
	case err == errRestartPending:
		// The pending document is persisted; the daemon restarts us.
		st, _ := r.tracker.Get(doc.ID)
		return st

	case err == nil && len(failures) == 0:
		r.finishSuccess(doc)
		r.tracker.Complete(doc.ID, model.DeploymentSucceeded, "", nil)
		r.record(model.DeploymentSucceeded)
		slog.Info("deployment succeeded", logfields.DeploymentID(doc.ID))

	default:
		r.finishFailure(ctx, doc, failures, err)
	}

	st, _ := r.tracker.Get(doc.ID)
	return st
}

// finishSuccess persists the document as the new rollback target and drops
// the activation checkpoint.
func (r *Reconciler) finishSuccess(doc model.DeploymentDocument) {
	if err := r.saveLastApplied(doc); err != nil {
		slog.Error("persisting applied deployment", logfields.Error(err))
	}
	copied := doc
	r.lastApplied = &copied
	r.clearPending()
	if r.boot != nil {
		if err := r.boot.Clear(context.Background(), doc.ID); err != nil {
			slog.Warn("clearing bootstrap tasks", logfields.Error(err))
		}
	}
	if err := r.cfg.Save(); err != nil {
		slog.Error("persisting configuration", logfields.Error(err))
	}
}

// finishFailure applies the document's failure policy: DO_NOTHING records the
// failure and leaves the device as-is; ROLLBACK re-applies the last
// successful document through the same activation machinery.
func (r *Reconciler) finishFailure(ctx context.Context, doc model.DeploymentDocument, failures map[string]string, cause error) {
	var detail string
	if len(failures) > 0 {
		detail = fmt.Sprintf("component failures: %v", sortedKeys(failures))
	}
	if cause != nil {
		if detail == "" {
			detail = cause.Error()
		} else {
			detail = cause.Error() + "; " + detail
		}
	}
	slog.Error("deployment failed",
		logfields.DeploymentID(doc.ID),
		slog.String("detail", detail))

	r.clearPending()

	if doc.Policy() != model.PolicyRollback || r.lastApplied == nil || r.lastApplied.ID == doc.ID {
		r.tracker.Complete(doc.ID, model.DeploymentFailed, detail, failures)
		r.record(model.DeploymentFailed)
		return
	}

	prev := *r.lastApplied
	slog.Info("rolling back to previous deployment",
		logfields.DeploymentID(doc.ID),
		slog.String("rollback_target", prev.ID))

	rbFailures, rbErr := r.apply(ctx, prev, model.StageRollback, false)
	if rbErr == nil && len(rbFailures) == 0 {
		r.tracker.Complete(doc.ID, model.DeploymentRollbackSucceeded, detail, failures)
		r.record(model.DeploymentRollbackSucceeded)
		return
	}
	if failures == nil {
		failures = make(map[string]string)
	}
	for name, msg := range rbFailures {
		failures["rollback:"+name] = msg
	}
	if rbErr != nil {
		detail += "; rollback: " + rbErr.Error()
	}
	r.tracker.Complete(doc.ID, model.DeploymentRollbackFailed, detail, failures)
	r.record(model.DeploymentRollbackFailed)
}

// apply performs one pass of the activation machinery for a document. It
// returns per-component failures (component name to message); a non-nil error
// is an activation-level failure (resolution, bootstrap, timeout).
func (r *Reconciler) apply(ctx context.Context, doc model.DeploymentDocument, stage model.DeploymentStage, resume bool) (map[string]string, error) {
	actCtx, cancel := context.WithTimeout(ctx, doc.Timeout(r.defaultTimeout))
	defer cancel()

	desired, g, err := resolveClosure(r.resolver, doc)
	if err != nil {
		return nil, err
	}
	current := r.orch.Definitions()
	diff := computeDiff(current, desired, func(name string) bool {
		if !r.configCurrent(desired[name], doc) {
			return false
		}
		if stage == model.StageRollback {
			// A component the failed activation left BROKEN (or otherwise not
			// ready) must be restarted under the restored definition even when
			// nothing about it changed on paper.
			if st, err := r.orch.GetState(name); err != nil || !st.Ready() {
				return false
			}
		}
		return true
	})
	if diff.Empty() && stage == model.StageDefault && !resume {
		slog.Info("deployment changes nothing", logfields.DeploymentID(doc.ID))
		return nil, nil
	}

	if stage != model.StageRollback && requiresBootstrap(diff, current, desired) {
		if err := r.runBootstrap(actCtx, doc, diff, current, desired, g, resume); err != nil {
			return nil, err
		}
	}

	return r.applyDefault(actCtx, doc, diff, desired, g)
}

// runBootstrap plans (first pass) or resumes the persisted bootstrap task
// sequence and handles restart demands. Returning errRestartPending leaves
// the deployment IN_PROGRESS with its checkpoint on disk.
func (r *Reconciler) runBootstrap(ctx context.Context, doc model.DeploymentDocument, diff Diff, current, desired map[string]model.ComponentDefinition, g *graph.Graph, resume bool) error {
	if !resume {
		if err := r.savePending(doc, model.StageBootstrap); err != nil {
			return err
		}
		defs := bootstrapDefs(diff, desired, g)
		if _, err := r.boot.PlanTasks(ctx, doc.ID, defs); err != nil {
			return err
		}
	}

	req, err := r.boot.Run(ctx, doc.ID)
	if err != nil {
		return err
	}
	if req != nil {
		slog.Info("bootstrap requests restart",
			logfields.DeploymentID(doc.ID),
			slog.String("kind", req.Kind.String()))
		if r.restart != nil {
			if rerr := r.restart(req.Kind); rerr != nil {
				return fmt.Errorf("trigger %s restart: %w", req.Kind, rerr)
			}
		}
		return errRestartPending
	}

	// A nucleus version change without an explicit restart demand still needs
	// a process restart so the new runtime takes over, unless we are already
	// on the post-restart leg.
	if !resume && nucleusChanged(diff, current, desired) {
		slog.Info("nucleus changed, requesting process restart", logfields.DeploymentID(doc.ID))
		if r.restart != nil {
			if rerr := r.restart(bootstrap.RestartProcess); rerr != nil {
				return fmt.Errorf("trigger process restart: %w", rerr)
			}
		}
		return errRestartPending
	}
	return nil
}

// applyDefault is the default activation path: stop what leaves, apply
// configuration, admit what arrives, and start the new set.
func (r *Reconciler) applyDefault(ctx context.Context, doc model.DeploymentDocument, diff Diff, desired map[string]model.ComponentDefinition, g *graph.Graph) (map[string]string, error) {
	if stops := diff.stopSet(); len(stops) > 0 {
		stopResults := r.orch.StopComponents(ctx, stops, "deployment "+doc.ID)
		for name, err := range stopResults {
			if err != nil {
				slog.Warn("stopping component for deployment",
					logfields.Component(name), logfields.Error(err))
			}
			r.orch.Remove(name)
		}
	}

	for _, name := range diff.startSet() {
		def := desired[name]
		r.applyComponentConfig(def, doc)
		if err := r.orch.Admit(def); err != nil {
			return map[string]string{name: err.Error()}, nil
		}
	}
	r.orch.SetGraph(g)

	startSet := diff.startSet()
	if len(startSet) == 0 {
		return nil, nil
	}
	results := r.orch.StartComponents(ctx, startSet)

	failures := make(map[string]string)
	for name, err := range results {
		if err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 && ctx.Err() == context.DeadlineExceeded {
		return failures, errors.DeploymentTimeout(doc.ID)
	}
	if len(failures) == 0 {
		return nil, nil
	}
	return failures, nil
}

// effectiveConfig is the configuration subtree an activation writes for a
// component: recipe defaults overlaid by the document's overrides, plus the
// pinned version.
func effectiveConfig(def model.ComponentDefinition, doc model.DeploymentDocument) map[string]any {
	merged := make(map[string]any, len(def.DefaultConfig)+1)
	for k, v := range def.DefaultConfig {
		merged[k] = v
	}
	for k, v := range doc.ConfigOverrides[def.Name] {
		merged[k] = v
	}
	merged["version"] = def.Version
	return merged
}

// applyComponentConfig replaces a component's configuration subtree with its
// effective configuration for doc.
func (r *Reconciler) applyComponentConfig(def model.ComponentDefinition, doc model.DeploymentDocument) {
	r.cfg.UpdateFromMap("components/"+def.Name, effectiveConfig(def, doc), configstore.ReplaceSubtree)
}

// configCurrent reports whether the live config tree already holds the
// component's effective configuration for doc. The comparison runs against
// the live tree, not the previously applied document: a failed activation
// leaves its overrides in the store, so rolling them back is a real update.
func (r *Reconciler) configCurrent(def model.ComponentDefinition, doc model.DeploymentDocument) bool {
	live, _ := r.cfg.Snapshot("components/" + def.Name)
	return jsonEqual(effectiveConfig(def, doc), live)
}

func (r *Reconciler) record(status model.DeploymentStatus) {
	if r.recorder != nil {
		r.recorder.DeploymentCompleted(status)
	}
}
