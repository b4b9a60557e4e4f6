package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Filenames fixed by the on-disk collection layout.
const (
	ProjectionMatrixFile = "projection_matrix.text"
	CollectionMetaFile   = "collection_meta.text"
	HNSWIndexFile        = "hnsw_index.bin"
	IDIndexFile          = "id_index.text"
)

// Meta is the collection_meta.text payload: the fields every collection
// persists about itself, plus the fingerprints the version-tagged index
// cache keys reads on.
type Meta struct {
	Name               string
	VectorSize         int
	CreatedAt          time.Time
	DepthFactor        int
	ReducedDimensions  int
	EmbeddingProvider  string
	EmbeddingModel     string
	IsStale            bool
	HNSWFingerprint    string
	IDFingerprint      string
	FTSFingerprint     string
}

// NewMeta builds a fresh collection metadata object for a collection
// about to be created.
func NewMeta(name string, vectorSize, depthFactor int, provider, model string) *Meta {
	return &Meta{
		Name:              name,
		VectorSize:        vectorSize,
		CreatedAt:         time.Now().UTC(),
		DepthFactor:       depthFactor,
		ReducedDimensions: 64,
		EmbeddingProvider: provider,
		EmbeddingModel:    model,
		IsStale:           true,
	}
}

// Save writes metadata to a temp file and renames it into place, so the
// fingerprint (stat mtime_ns + size) changes atomically and strictly
// after content is visible, per the collection-metadata invariant.
func (m *Meta) Save(path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", m.Name)
	fmt.Fprintf(&b, "vector_size: %d\n", m.VectorSize)
	fmt.Fprintf(&b, "created_at: %s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "depth_factor: %d\n", m.DepthFactor)
	fmt.Fprintf(&b, "reduced_dimensions: %d\n", m.ReducedDimensions)
	fmt.Fprintf(&b, "embedding_provider: %s\n", m.EmbeddingProvider)
	fmt.Fprintf(&b, "embedding_model: %s\n", m.EmbeddingModel)
	fmt.Fprintf(&b, "is_stale: %t\n", m.IsStale)
	fmt.Fprintf(&b, "fingerprints:\n")
	fmt.Fprintf(&b, "  hnsw: %s\n", m.HNSWFingerprint)
	fmt.Fprintf(&b, "  id: %s\n", m.IDFingerprint)
	fmt.Fprintf(&b, "  fts: %s\n", m.FTSFingerprint)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write temp collection meta: %w", err)
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0o644)
	if err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename collection meta into place: %w", err)
	}
	return nil
}

// LoadMeta reads a collection_meta.text file.
func LoadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Meta{}
	inFingerprints := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "name:"):
			m.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "name:"))
		case strings.HasPrefix(trimmed, "vector_size:"):
			fmt.Sscanf(trimmed, "vector_size: %d", &m.VectorSize)
		case strings.HasPrefix(trimmed, "created_at:"):
			ts := strings.TrimSpace(strings.TrimPrefix(trimmed, "created_at:"))
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				m.CreatedAt = parsed
			}
		case strings.HasPrefix(trimmed, "depth_factor:"):
			fmt.Sscanf(trimmed, "depth_factor: %d", &m.DepthFactor)
		case strings.HasPrefix(trimmed, "reduced_dimensions:"):
			fmt.Sscanf(trimmed, "reduced_dimensions: %d", &m.ReducedDimensions)
		case strings.HasPrefix(trimmed, "embedding_provider:"):
			m.EmbeddingProvider = strings.TrimSpace(strings.TrimPrefix(trimmed, "embedding_provider:"))
		case strings.HasPrefix(trimmed, "embedding_model:"):
			m.EmbeddingModel = strings.TrimSpace(strings.TrimPrefix(trimmed, "embedding_model:"))
		case strings.HasPrefix(trimmed, "is_stale:"):
			m.IsStale = strings.TrimSpace(strings.TrimPrefix(trimmed, "is_stale:")) == "true"
		case trimmed == "fingerprints:":
			inFingerprints = true
		case inFingerprints && strings.HasPrefix(trimmed, "hnsw:"):
			m.HNSWFingerprint = strings.TrimSpace(strings.TrimPrefix(trimmed, "hnsw:"))
		case inFingerprints && strings.HasPrefix(trimmed, "id:"):
			m.IDFingerprint = strings.TrimSpace(strings.TrimPrefix(trimmed, "id:"))
		case inFingerprints && strings.HasPrefix(trimmed, "fts:"):
			m.FTSFingerprint = strings.TrimSpace(strings.TrimPrefix(trimmed, "fts:"))
		}
	}
	if m.Name == "" {
		return nil, fmt.Errorf("incomplete or corrupt collection meta at %s", path)
	}
	return m, nil
}

// Fingerprint is the cache key material for the version-tagged index
// cache: (mtime_ns, size_bytes) of the metadata file. Any change to the
// file's inode produces a new fingerprint.
type Fingerprint struct {
	MtimeNS int64
	Size    int64
}

// String renders the fingerprint as a single cache-key-safe token.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%d:%d", f.MtimeNS, f.Size)
}

// StatFingerprint stats path and returns its current fingerprint.
func StatFingerprint(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{MtimeNS: info.ModTime().UnixNano(), Size: info.Size()}, nil
}

// MetaPath returns the collection_meta.text path for a collection dir.
func MetaPath(collectionDir string) string {
	return filepath.Join(collectionDir, CollectionMetaFile)
}
