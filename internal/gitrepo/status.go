package gitrepo

import (
	"github.com/go-git/go-git/v5"

	"github.com/jsbattig/code-indexer-sub009/internal/coreerrors"
)

// IsDirty reports whether the working tree has any uncommitted changes
// (staged, unstaged, or untracked), the in-process equivalent of a
// non-empty `git status --porcelain`.
func (r *Repo) IsDirty() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, coreerrors.New(coreerrors.CodeGitBackendError, "failed to open worktree", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, coreerrors.New(coreerrors.CodeGitBackendError, "failed to compute worktree status", err)
	}
	return !status.IsClean(), nil
}

// IsPathDirty reports whether a specific file has uncommitted changes,
// used to decide whether a vector file stores git_blob_hash (clean) or
// chunk_text (dirty) at index time.
func (r *Repo) IsPathDirty(path string) (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, coreerrors.New(coreerrors.CodeGitBackendError, "failed to open worktree", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, coreerrors.New(coreerrors.CodeGitBackendError, "failed to compute worktree status", err)
	}
	fileStatus, ok := status[path]
	if !ok {
		return false, nil
	}
	return fileStatus.Worktree != git.Unmodified || fileStatus.Staging != git.Unmodified, nil
}
