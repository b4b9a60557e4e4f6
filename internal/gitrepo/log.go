package gitrepo

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/jsbattig/code-indexer-sub009/internal/coreerrors"
)

// CommitInfo is the subset of commit data the temporal index persists
// into its `commits` table.
type CommitInfo struct {
	Hash         plumbing.Hash
	Date         int64 // unix seconds
	AuthorName   string
	AuthorEmail  string
	Message      string
	ParentHashes []plumbing.Hash
}

// WalkCommits walks commit history starting from `from`, newest
// committer time first (the in-process equivalent of `git log <from>`),
// invoking fn for each commit until fn returns false or history is
// exhausted.
func WalkCommits(repo *Repo, from plumbing.Hash, fn func(CommitInfo) (cont bool, err error)) error {
	iter, err := repo.repo.Log(&git.LogOptions{From: from, Order: git.LogOrderCommitterTime})
	if err != nil {
		return coreerrors.New(coreerrors.CodeGitBackendError, fmt.Sprintf("failed to start log from %s", from), err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		info := CommitInfo{
			Hash:        c.Hash,
			Date:        c.Author.When.Unix(),
			AuthorName:  c.Author.Name,
			AuthorEmail: c.Author.Email,
			Message:     c.Message,
		}
		for _, p := range c.ParentHashes {
			info.ParentHashes = append(info.ParentHashes, p)
		}
		cont, err := fn(info)
		if err != nil {
			return err
		}
		if !cont {
			return errStopWalk
		}
		return nil
	})
	if err != nil && err != errStopWalk {
		return coreerrors.New(coreerrors.CodeGitBackendError, "failed while walking commit history", err)
	}
	return nil
}

// errStopWalk terminates WalkCommits' ForEach loop early without it
// being reported as a failure.
var errStopWalk = fmt.Errorf("stop walking commits")
