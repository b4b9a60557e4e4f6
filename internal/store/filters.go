package store

import (
	"path/filepath"
	"strings"

	"github.com/jsbattig/code-indexer-sub009/internal/coreerrors"
)

// Filter is the store's native predicate shape. Construct one directly
// for the simple fields, or via TranslateQdrant for the nested
// Qdrant-style form clients send over the wire.
type Filter struct {
	Language string // canonical name, e.g. "python"
	FilePath string // fnmatch-style glob against file_path
	Branch   string // exact match against metadata.branch
	Type     string // exact match against payload.type
}

// Matches reports whether point satisfies every set field of f. An
// unset (zero-value) field always matches.
func (f *Filter) Matches(p *Point) bool {
	if f == nil {
		return true
	}
	if f.Language != "" && languageForPath(p.FilePath) != f.Language {
		return false
	}
	if f.FilePath != "" {
		ok, err := filepath.Match(f.FilePath, p.FilePath)
		if err != nil || !ok {
			return false
		}
	}
	if f.Branch != "" && p.Branch != f.Branch {
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	return true
}

// extensionLanguages maps file extensions to their canonical language
// name for the `language` filter leaf.
var extensionLanguages = map[string]string{
	".py":   "python",
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".md":   "markdown",
}

func languageForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return extensionLanguages[ext]
}

// qdrantCondition is one leaf of a Qdrant-style filter: either a
// {key, match: {value}} or {key, range: {gte, lte, ...}} shape. Only
// match-on-known-keys is conforming; anything else raises
// UnsupportedFilter.
type qdrantCondition struct {
	Key   string                 `json:"key" yaml:"key"`
	Match map[string]interface{} `json:"match" yaml:"match"`
	Range map[string]interface{} `json:"range" yaml:"range"`
}

// QdrantFilter is the nested {must, must_not, should} shape accepted
// for client compatibility.
type QdrantFilter struct {
	Must    []qdrantCondition `json:"must" yaml:"must"`
	MustNot []qdrantCondition `json:"must_not" yaml:"must_not"`
	Should  []qdrantCondition `json:"should" yaml:"should"`
}

// knownFilterKeys are the only leaves this backend can translate;
// anything else (range queries, nested geo/payload keys, …) raises
// UnsupportedFilter rather than silently ignoring it.
var knownFilterKeys = map[string]bool{
	"language":  true,
	"file_path": true,
	"branch":    true,
	"type":      true,
}

// TranslateQdrant converts a Qdrant-style nested filter into the
// store's native Filter, raising UnsupportedFilter for any clause or
// leaf this backend can't express in-memory (including any should
// clause).
//
// must_not and range leaves are not representable by the flat Filter
// struct (which only expresses AND-of-equalities); a must_not or range
// condition on an otherwise-known key still raises UnsupportedFilter,
// since silently dropping a negative or range constraint would return
// more results than the caller asked for.
func TranslateQdrant(q *QdrantFilter) (*Filter, error) {
	if q == nil {
		return nil, nil
	}
	if len(q.MustNot) > 0 {
		return nil, coreerrors.UnsupportedFilter("must_not is not supported by the in-memory filter backend")
	}
	if len(q.Should) > 0 {
		return nil, coreerrors.UnsupportedFilter("should is not supported by the in-memory filter backend")
	}

	f := &Filter{}
	for _, cond := range q.Must {
		if cond.Range != nil {
			return nil, coreerrors.UnsupportedFilter("range conditions are not supported: key " + cond.Key)
		}
		if !knownFilterKeys[cond.Key] {
			return nil, coreerrors.UnsupportedFilter("unrecognized filter key: " + cond.Key)
		}
		value, ok := cond.Match["value"].(string)
		if !ok {
			return nil, coreerrors.UnsupportedFilter("match leaf for key " + cond.Key + " must have a string value")
		}
		switch cond.Key {
		case "language":
			f.Language = value
		case "file_path":
			f.FilePath = value
		case "branch":
			f.Branch = value
		case "type":
			f.Type = value
		}
	}
	return f, nil
}
