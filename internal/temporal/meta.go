package temporal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// IndexingMode selects how much commit history a temporal index walks.
type IndexingMode string

const (
	ModeSingleBranch IndexingMode = "single-branch"
	ModeAllBranches  IndexingMode = "all-branches"
)

// MetaStats tracks the cost-saving numbers the temporal_meta.json
// surfaces to callers, primarily to justify the all-branches cost
// warning and to report the dedup win.
type MetaStats struct {
	CommitsPerBranch map[string]int `json:"commits_per_branch"`
	DedupRatio       float64        `json:"dedup_ratio"`
}

// Meta is temporal_meta.json: the incremental-indexing bookmark plus
// the mode and stats a caller needs to decide whether to re-run or
// extend indexing.
type Meta struct {
	LastIndexedCommit string       `json:"last_indexed_commit"`
	IndexingMode      IndexingMode `json:"indexing_mode"`
	IndexedBranches   []string     `json:"indexed_branches"`
	Stats             MetaStats    `json:"stats"`
}

// NewMeta returns a fresh, empty Meta for mode.
func NewMeta(mode IndexingMode) *Meta {
	return &Meta{
		IndexingMode: mode,
		Stats:        MetaStats{CommitsPerBranch: map[string]int{}},
	}
}

// MetaPath returns the temporal_meta.json path for a temporal directory.
func MetaPath(dir string) string { return filepath.Join(dir, MetaFile) }

// LoadMeta reads temporal_meta.json, or nil, nil if it doesn't exist
// yet (no temporal index has ever been built for this repository).
func LoadMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(MetaPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt temporal meta: %w", err)
	}
	return &m, nil
}

// Save writes temporal_meta.json via the same tmp+rename discipline
// every other on-disk artifact in this system uses, so a crash mid-save
// never leaves a half-written bookmark.
func (m *Meta) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create temporal directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal temporal meta: %w", err)
	}
	path := MetaPath(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp temporal meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temporal meta into place: %w", err)
	}
	return nil
}
