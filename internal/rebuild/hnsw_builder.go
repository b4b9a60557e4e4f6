package rebuild

import (
	"github.com/jsbattig/code-indexer-sub009/internal/config"
	"github.com/jsbattig/code-indexer-sub009/internal/store"
)

// HNSWBuilder rebuilds both the HNSW graph and the id index from
// scratch by scrolling every point currently on disk. The two are
// rebuilt together because a fresh id index assigns new dense labels
// that the fresh graph must use — rebuilding one without the other
// would desynchronize them.
func HNSWBuilder(fs *store.FSStore, cfg config.CollectionConfig) BuilderFunc {
	return func() (BuildResult, error) {
		points, _, err := fs.Scroll(store.ScrollOptions{})
		if err != nil {
			return BuildResult{}, err
		}
		if len(points) == 0 {
			return BuildResult{Aborted: true}, nil
		}

		ids := store.NewIDIndex()
		graph := store.NewHNSWIndex(fs.Collection.Config.HNSWM, cfg.EfSearch(config.AccuracyBalanced))
		for _, p := range points {
			label := ids.Add(p.ID)
			graph.Add(label, p.Vector)
		}

		if err := graph.Save(fs.Collection.HNSWPath()); err != nil {
			return BuildResult{}, err
		}
		if err := ids.Save(fs.Collection.IDIndexPath()); err != nil {
			return BuildResult{}, err
		}

		// graph.Save and ids.Save already renamed their own tmp files
		// into place; nothing left for Rebuild to rename.
		fs.IDs = ids
		return BuildResult{}, nil
	}
}
