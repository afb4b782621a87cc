package recipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/edged/internal/logfields"
)

// GitSource syncs the recipe directory from a git repository, giving the
// device a pull-based recipe channel that works without cloud connectivity
// beyond the git remote.
type GitSource struct {
	URL    string
	Branch string
	Dir    string
	// Auth is nil for anonymous remotes; see BuildAuth.
	Auth transport.AuthMethod
}

// Sync clones the repository on first use and fast-forwards it afterwards.
// It returns true when the working tree changed.
func (g *GitSource) Sync(ctx context.Context) (bool, error) {
	if _, err := os.Stat(g.Dir); os.IsNotExist(err) {
		return true, g.clone(ctx)
	}

	repo, err := git.PlainOpen(g.Dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			// Recipe dir exists but is not a clone: leave local recipes alone.
			slog.Debug("recipe dir is not a git clone, skipping sync", logfields.Path(g.Dir))
			return false, nil
		}
		return false, fmt.Errorf("open recipe repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("recipe repo worktree: %w", err)
	}
	err = wt.PullContext(ctx, &git.PullOptions{
		ReferenceName: plumbing.NewBranchReferenceName(g.Branch),
		SingleBranch:  true,
		Auth:          g.Auth,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pull recipe repo: %w", err)
	}
	slog.Info("recipe channel updated", logfields.Path(g.Dir))
	return true, nil
}

func (g *GitSource) clone(ctx context.Context) error {
	_, err := git.PlainCloneContext(ctx, g.Dir, false, &git.CloneOptions{
		URL:           g.URL,
		ReferenceName: plumbing.NewBranchReferenceName(g.Branch),
		SingleBranch:  true,
		Depth:         1,
		Auth:          g.Auth,
	})
	if err != nil {
		return fmt.Errorf("clone recipe repo %s: %w", g.URL, err)
	}
	slog.Info("recipe channel cloned", logfields.Path(g.Dir))
	return nil
}
