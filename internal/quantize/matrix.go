// Package quantize derives the deterministic projection matrix used to
// collapse a full-precision embedding down to a 64-dimensional sketch,
// and the 2-bit quantization and path derivation built on top of it.
package quantize

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProjectedDims is the fixed output dimensionality of the projection,
// independent of the source embedding's dimension D.
const ProjectedDims = 64

// MatrixFileName is the on-disk name of a collection's saved projection
// matrix, shared between internal/store (which writes it) and
// internal/projection (which loads it by collection path).
const MatrixFileName = "projection_matrix.text"

// Matrix is a deterministic D×64 projection matrix, normalized by
// 1/√64 so the projected values stay in a stable numeric range
// regardless of D.
type Matrix struct {
	Rows       int         // D, the source embedding dimension
	Cols       int         // always ProjectedDims
	Data       [][]float32 // Rows x Cols
	CreatedAt  time.Time
	Collection string
}

// NewMatrix derives the projection matrix for a source dimension D,
// seeded deterministically by hash("projection_{D}_64") so every
// collection sharing the same D gets identical projection geometry.
func NewMatrix(d int, collection string) *Matrix {
	seed := seedFor(d)
	rng := rand.New(rand.NewSource(seed))

	data := make([][]float32, d)
	norm := float32(1.0 / math.Sqrt(float64(ProjectedDims)))
	for i := 0; i < d; i++ {
		row := make([]float32, ProjectedDims)
		for j := 0; j < ProjectedDims; j++ {
			row[j] = float32(rng.NormFloat64()) * norm
		}
		data[i] = row
	}

	return &Matrix{
		Rows:       d,
		Cols:       ProjectedDims,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
		Collection: collection,
	}
}

// seedFor derives a 63-bit deterministic seed from
// hash("projection_{D}_64"), matching the collection-sharing invariant:
// same D always yields the same seed.
func seedFor(d int) int64 {
	key := fmt.Sprintf("projection_%d_64", d)
	sum := sha256.Sum256([]byte(key))
	v := binary.BigEndian.Uint64(sum[:8])
	return int64(v >> 1) // clear sign bit, rand.NewSource wants a valid int64
}

// Project computes y = x · M. Returns DimensionMismatch-shaped error
// (via the caller's wrapping) when len(x) != m.Rows — callers translate
// this into coreerrors.DimensionMismatch.
func (m *Matrix) Project(x []float32) ([]float32, error) {
	if len(x) != m.Rows {
		return nil, fmt.Errorf("vector length %d does not match matrix rows %d", len(x), m.Rows)
	}
	y := make([]float32, m.Cols)
	for j := 0; j < m.Cols; j++ {
		var sum float32
		for i := 0; i < m.Rows; i++ {
			sum += x[i] * m.Data[i][j]
		}
		y[j] = sum
	}
	return y, nil
}

// Save writes the matrix to path in the human-readable text format
// (shape, dtype, data rows, created_at, collection), chosen for
// git-friendliness over a binary encoding.
func (m *Matrix) Save(path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "shape: [%d, %d]\n", m.Rows, m.Cols)
	fmt.Fprintf(&b, "dtype: float32\n")
	fmt.Fprintf(&b, "created_at: %s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "collection: %s\n", m.Collection)
	fmt.Fprintf(&b, "data:\n")
	for _, row := range m.Data {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		fmt.Fprintf(&b, "  - [%s]\n", strings.Join(parts, ", "))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// Load reads a matrix previously written by Save. Legacy binary matrix
// files are out of scope for a from-scratch implementation; any file
// that doesn't parse as the text format is reported as a parse error.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseText(string(data))
}

func parseText(text string) (*Matrix, error) {
	lines := strings.Split(text, "\n")
	m := &Matrix{}
	inData := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "shape:"):
			var rows, cols int
			raw := strings.TrimSpace(strings.TrimPrefix(trimmed, "shape:"))
			raw = strings.Trim(raw, "[]")
			parts := strings.Split(raw, ",")
			if len(parts) != 2 {
				return nil, fmt.Errorf("malformed shape line: %q", line)
			}
			if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &rows); err != nil {
				return nil, fmt.Errorf("malformed shape rows: %w", err)
			}
			if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &cols); err != nil {
				return nil, fmt.Errorf("malformed shape cols: %w", err)
			}
			m.Rows, m.Cols = rows, cols
			m.Data = make([][]float32, 0, rows)
		case strings.HasPrefix(trimmed, "collection:"):
			m.Collection = strings.TrimSpace(strings.TrimPrefix(trimmed, "collection:"))
		case strings.HasPrefix(trimmed, "created_at:"):
			ts := strings.TrimSpace(strings.TrimPrefix(trimmed, "created_at:"))
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				m.CreatedAt = parsed
			}
		case trimmed == "data:":
			inData = true
		case inData && strings.HasPrefix(trimmed, "- ["):
			raw := strings.TrimSuffix(strings.TrimPrefix(trimmed, "- ["), "]")
			fields := strings.Split(raw, ",")
			row := make([]float32, 0, len(fields))
			for _, f := range fields {
				v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
				if err != nil {
					return nil, fmt.Errorf("malformed data value %q: %w", f, err)
				}
				row = append(row, float32(v))
			}
			m.Data = append(m.Data, row)
		}
	}
	if m.Rows == 0 || m.Cols == 0 || len(m.Data) != m.Rows {
		return nil, fmt.Errorf("incomplete or corrupt matrix file")
	}
	return m, nil
}
