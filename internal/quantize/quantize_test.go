package quantize

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixProjectDimensionMismatch(t *testing.T) {
	m := NewMatrix(4, "c1")
	_, err := m.Project([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestMatrixDeterministicBySharedDimension(t *testing.T) {
	m1 := NewMatrix(8, "collection-a")
	m2 := NewMatrix(8, "collection-b")
	assert.Equal(t, m1.Data, m2.Data, "matrices for the same D must share projection geometry")
}

func TestMatrixDiffersAcrossDimensions(t *testing.T) {
	m4 := NewMatrix(4, "c")
	m8 := NewMatrix(8, "c")
	assert.NotEqual(t, m4.Rows, m8.Rows)
}

func TestQuantizeDeterministic(t *testing.T) {
	m := NewMatrix(4, "c")
	vec := []float32{1, 0, 0, 0}

	h1, err := Quantize(vec, m)
	require.NoError(t, err)
	h2, err := Quantize(vec, m)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, HexChars)
}

func TestQuantize2BitRejectsWrongLength(t *testing.T) {
	_, err := Quantize2Bit([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestToPathSplitsComponents(t *testing.T) {
	hex := "0123456789abcdef0123456789abcdef"
	dirs, suffix, err := ToPath(hex, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "23", "45", "67"}, dirs)
	assert.Equal(t, "89abcdef0123456789abcdef", suffix)
}

func TestToPathRejectsOutOfRangeDepth(t *testing.T) {
	hex := "0123456789abcdef0123456789abcdef"
	_, _, err := ToPath(hex, 17)
	assert.Error(t, err)

	_, _, err = ToPath(hex, 0)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewMatrix(4, "roundtrip")
	path := filepath.Join(t.TempDir(), "projection_matrix.txt")

	require.NoError(t, m.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, m.Rows, loaded.Rows)
	assert.Equal(t, m.Cols, loaded.Cols)
	assert.Equal(t, "roundtrip", loaded.Collection)
	require.Len(t, loaded.Data, len(m.Data))
	for i := range m.Data {
		require.Len(t, loaded.Data[i], len(m.Data[i]))
		for j := range m.Data[i] {
			assert.InDelta(t, m.Data[i][j], loaded.Data[i][j], 1e-5)
		}
	}
}

func TestEnumerateNeighborPathsIncludesOriginal(t *testing.T) {
	hex := "0123456789abcdef0123456789abcdef"
	paths, err := EnumerateNeighborPaths(hex, 2, 0)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"01", "23"}, paths[0])
}

func TestEnumerateNeighborPathsGrowsWithRadius(t *testing.T) {
	hex := "0123456789abcdef0123456789abcdef"
	r0, err := EnumerateNeighborPaths(hex, 2, 0)
	require.NoError(t, err)
	r1, err := EnumerateNeighborPaths(hex, 2, 1)
	require.NoError(t, err)
	r2, err := EnumerateNeighborPaths(hex, 2, 2)
	require.NoError(t, err)

	assert.Greater(t, len(r1), len(r0))
	assert.Greater(t, len(r2), len(r1))
}

func TestEnumerateNeighborPathsDeduplicates(t *testing.T) {
	hex := strings.Repeat("0", HexChars)
	paths, err := EnumerateNeighborPaths(hex, 1, 3)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, p := range paths {
		key := p[0]
		assert.False(t, seen[key], "duplicate path %v", p)
		seen[key] = true
	}
}

func TestEnumerateNeighborPathsRejectsBadRadius(t *testing.T) {
	hex := "0123456789abcdef0123456789abcdef"
	_, err := EnumerateNeighborPaths(hex, 2, -1)
	assert.Error(t, err)
}

func TestQuartilesMonotonic(t *testing.T) {
	y := make([]float32, ProjectedDims)
	for i := range y {
		y[i] = float32(i)
	}
	q1, q2, q3 := quartiles(y)
	assert.LessOrEqual(t, q1, q2)
	assert.LessOrEqual(t, q2, q3)
}
