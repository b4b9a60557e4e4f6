package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// vectorFileDoc is the YAML shape of a per-point vector file. Exactly
// one of GitBlobHash/ChunkText is populated; payload.content is never
// stored, by design (§3 invariant 4) — content is always materialized
// at read time.
type vectorFileDoc struct {
	ID          string    `yaml:"id"`
	FilePath    string    `yaml:"file_path"`
	StartLine   int       `yaml:"start_line"`
	EndLine     int       `yaml:"end_line"`
	StartOffset int       `yaml:"start_offset"`
	EndOffset   int       `yaml:"end_offset"`
	ChunkHash   string    `yaml:"chunk_hash"`
	Vector      []float32 `yaml:"vector"`
	GitBlobHash string    `yaml:"git_blob_hash,omitempty"`
	ChunkText   string    `yaml:"chunk_text,omitempty"`
	Metadata    struct {
		IndexedAt      time.Time `yaml:"indexed_at"`
		EmbeddingModel string    `yaml:"embedding_model"`
		Branch         string    `yaml:"branch,omitempty"`
		Type           string    `yaml:"type,omitempty"`
	} `yaml:"metadata"`
}

// WritePointFile serializes point as YAML and writes it atomically:
// sibling temp file, fsync, rename. Concurrent writers to distinct
// points are independent; concurrent writers to the same id are
// last-writer-wins, and either write is individually atomic.
func WritePointFile(path string, point *Point) error {
	if (point.GitBlobHash == "") == (point.ChunkText == "") {
		return fmt.Errorf("vector file for %q must set exactly one of git_blob_hash or chunk_text", point.ID)
	}

	var doc vectorFileDoc
	doc.ID = point.ID
	doc.FilePath = point.FilePath
	doc.StartLine = point.StartLine
	doc.EndLine = point.EndLine
	doc.StartOffset = point.StartOffset
	doc.EndOffset = point.EndOffset
	doc.ChunkHash = point.ChunkHash
	doc.Vector = point.Vector
	doc.GitBlobHash = point.GitBlobHash
	doc.ChunkText = point.ChunkText
	doc.Metadata.IndexedAt = point.IndexedAt
	doc.Metadata.EmbeddingModel = point.EmbeddingModel
	doc.Metadata.Branch = point.Branch
	doc.Metadata.Type = point.Type

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal vector file %q: %w", point.ID, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector file directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp vector file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp vector file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp vector file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp vector file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename vector file into place: %w", err)
	}
	return nil
}

// ReadPointFile deserializes a vector file written by WritePointFile.
func ReadPointFile(path string) (*Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc vectorFileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt vector file %q: %w", path, err)
	}
	if (doc.GitBlobHash == "") == (doc.ChunkText == "") {
		return nil, fmt.Errorf("corrupt vector file %q: must have exactly one of git_blob_hash/chunk_text", path)
	}
	return &Point{
		ID:             doc.ID,
		FilePath:       doc.FilePath,
		StartLine:      doc.StartLine,
		EndLine:        doc.EndLine,
		StartOffset:    doc.StartOffset,
		EndOffset:      doc.EndOffset,
		ChunkHash:      doc.ChunkHash,
		Vector:         doc.Vector,
		GitBlobHash:    doc.GitBlobHash,
		ChunkText:      doc.ChunkText,
		IndexedAt:      doc.Metadata.IndexedAt,
		EmbeddingModel: doc.Metadata.EmbeddingModel,
		Branch:         doc.Metadata.Branch,
		Type:           doc.Metadata.Type,
	}, nil
}
