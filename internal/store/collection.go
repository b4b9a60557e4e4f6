package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jsbattig/code-indexer-sub009/internal/config"
	"github.com/jsbattig/code-indexer-sub009/internal/projection"
	"github.com/jsbattig/code-indexer-sub009/internal/quantize"
)

// Collection is a single embedding model's data directory: projection
// matrix, metadata, HNSW index, id index, and the directory fanout of
// per-point vector files.
type Collection struct {
	Dir    string
	Meta   *Meta
	Matrix *quantize.Matrix
	Config config.CollectionConfig

	// Projector, when set, is tried before the in-process Matrix.Project
	// for every y = x·M this collection needs. Left nil, quantization
	// runs in-process only — the same behavior as before the Projection
	// Service existed.
	Projector *projection.Client
}

// SetProjector attaches a projection-service client to the collection;
// every subsequent quantization call prefers it, falling back to
// in-process projection on error.
func (c *Collection) SetProjector(client *projection.Client) {
	c.Projector = client
}

// quantize2Bit resolves x's quantized path string, preferring the
// projection service and falling back to the in-process matrix. The
// client itself already tries the daemon before falling back
// in-process internally; this outer fallback only triggers if even
// that attempt errors (e.g. the service can't read this collection's
// matrix file at all), in which case the matrix already held in memory
// still lets the request succeed.
func (c *Collection) quantize2Bit(x []float32) (string, error) {
	if c.Projector != nil {
		if y, err := c.Projector.Multiply(context.Background(), x, c.Dir); err == nil {
			return quantize.Quantize2Bit(y)
		}
	}
	return quantize.Quantize(x, c.Matrix)
}

// Create initializes a brand-new collection directory: writes the
// projection matrix (seeded from vectorSize, shared geometry across
// collections with the same source dimension) and the initial metadata.
func Create(dir, name string, vectorSize int, provider, model string, cfg config.CollectionConfig) (*Collection, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}

	matrix := quantize.NewMatrix(vectorSize, name)
	if err := matrix.Save(filepath.Join(dir, ProjectionMatrixFile)); err != nil {
		return nil, fmt.Errorf("save projection matrix: %w", err)
	}

	meta := NewMeta(name, vectorSize, cfg.DepthFactor, provider, model)
	if err := meta.Save(MetaPath(dir)); err != nil {
		return nil, fmt.Errorf("save collection meta: %w", err)
	}

	return &Collection{Dir: dir, Meta: meta, Matrix: matrix, Config: cfg}, nil
}

// Open loads an existing collection directory.
func Open(dir string, cfg config.CollectionConfig) (*Collection, error) {
	meta, err := LoadMeta(MetaPath(dir))
	if err != nil {
		return nil, fmt.Errorf("load collection meta: %w", err)
	}
	matrix, err := quantize.Load(filepath.Join(dir, ProjectionMatrixFile))
	if err != nil {
		return nil, fmt.Errorf("load projection matrix: %w", err)
	}
	return &Collection{Dir: dir, Meta: meta, Matrix: matrix, Config: cfg}, nil
}

// Exists reports whether dir already holds a collection.
func Exists(dir string) bool {
	_, err := os.Stat(MetaPath(dir))
	return err == nil
}

// HNSWPath returns the hnsw_index.bin path for this collection.
func (c *Collection) HNSWPath() string { return filepath.Join(c.Dir, HNSWIndexFile) }

// IDIndexPath returns the id_index.text path for this collection.
func (c *Collection) IDIndexPath() string { return filepath.Join(c.Dir, IDIndexFile) }

// VectorFilePath returns the path a point's vector file should live at,
// derived from its quantized path under this collection's matrix.
func (c *Collection) VectorFilePath(point *Point) (string, error) {
	hex, err := c.quantize2Bit(point.Vector)
	if err != nil {
		return "", err
	}
	return c.vectorFilePathForHex(hex, point.ID)
}

func (c *Collection) vectorFilePathForHex(hex, id string) (string, error) {
	dirs, suffix, err := quantize.ToPath(hex, c.Config.DepthFactor)
	if err != nil {
		return "", err
	}
	segments := append([]string{c.Dir}, dirs...)
	segments = append(segments, fmt.Sprintf("vector_%s_%s.text", sanitizeID(id), suffix))
	return filepath.Join(segments...), nil
}

// sanitizeID replaces path-unsafe characters in a point ID so it can be
// embedded in a filename; the id itself (with ':' and '/') is still the
// source of truth and is stored inside the vector file.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch c := id[i]; c {
		case '/', ':', ' ':
			out[i] = '_'
		default:
			out[i] = c
		}
	}
	return string(out)
}

// MarkStale flips is_stale on in memory and persists it; called after
// any write (upsert/delete) so the next query or explicit rebuild
// triggers a background rebuild.
func (c *Collection) MarkStale() error {
	c.Meta.IsStale = true
	return c.Meta.Save(MetaPath(c.Dir))
}
