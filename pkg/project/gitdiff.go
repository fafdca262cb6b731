package project

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// HeadCommit returns the current HEAD commit hash of the repo at repoRoot,
// used to stamp ProjectState.LastCommit after a successful run.
func HeadCommit(repoRoot string) (string, error) {
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return "", fmt.Errorf("open repo %s: %w", repoRoot, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// ChangedFilesSince returns every repo-relative path touched between
// sinceCommit and HEAD, used by an incremental update run to figure out
// which scopes need recomputing. If sinceCommit is empty, or the repo has
// no commit history at all, it returns (nil, nil) — the caller should then
// treat everything as changed.
func ChangedFilesSince(repoRoot, sinceCommit string) ([]string, error) {
	if sinceCommit == "" {
		return nil, nil
	}

	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", repoRoot, err)
	}

	head, err := repo.Head()
	if err == plumbing.ErrReferenceNotFound {
		return nil, nil // no commit history yet: everything counts as changed
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}

	sinceHash := plumbing.NewHash(sinceCommit)
	sinceCommitObj, err := repo.CommitObject(sinceHash)
	if err != nil {
		// The recorded commit no longer resolves (rebased history, shallow
		// clone, etc.) — fall back to "everything changed" rather than fail
		// the whole update.
		return nil, nil
	}

	patch, err := sinceCommitObj.Patch(headCommit)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", sinceCommit, head.Hash(), err)
	}

	seen := make(map[string]bool)
	var changed []string
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		if from != nil && !seen[from.Path()] {
			seen[from.Path()] = true
			changed = append(changed, from.Path())
		}
		if to != nil && !seen[to.Path()] {
			seen[to.Path()] = true
			changed = append(changed, to.Path())
		}
	}
	return changed, nil
}
