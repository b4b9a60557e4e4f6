package gitrepo

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/jsbattig/code-indexer-sub009/internal/coreerrors"
)

// TreeEntry is one path -> blob mapping from a recursive tree listing.
type TreeEntry struct {
	Path string
	Hash plumbing.Hash
	Mode filemode.FileMode
}

// ListTree recursively lists every blob in the tree at commit, the
// in-process equivalent of `git ls-tree -r <commit>`. A single call
// walks the whole tree rather than spawning a subprocess per
// directory, which is what keeps batch git-metadata collection inside
// the temporal index's 500ms budget for a 100-file batch.
func ListTree(repo *Repo, commit plumbing.Hash) ([]TreeEntry, error) {
	c, err := repo.repo.CommitObject(commit)
	if err != nil {
		return nil, coreerrors.New(coreerrors.CodeGitBackendError, fmt.Sprintf("failed to load commit %s", commit), err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, coreerrors.New(coreerrors.CodeGitBackendError, fmt.Sprintf("failed to load tree for commit %s", commit), err)
	}

	var entries []TreeEntry
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		name, te, err := walker.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, coreerrors.New(coreerrors.CodeGitBackendError, "failed to walk tree", err)
		}
		if !te.Mode.IsFile() {
			continue
		}
		entries = append(entries, TreeEntry{Path: name, Hash: te.Hash, Mode: te.Mode})
	}

	return entries, nil
}

// PathToBlob builds the path -> blob_hash map for commit, the data
// structure the temporal index ingests per batch.
func PathToBlob(repo *Repo, commit plumbing.Hash) (map[string]plumbing.Hash, error) {
	entries, err := ListTree(repo, commit)
	if err != nil {
		return nil, err
	}
	out := make(map[string]plumbing.Hash, len(entries))
	for _, e := range entries {
		out[e.Path] = e.Hash
	}
	return out, nil
}
