package warn

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWarnPrintsGlyphAndMessage(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.Warn("Using in-process matrix multiplication (service unavailable)")

	out := buf.String()
	assert.Contains(t, out, "⚠️")
	assert.Contains(t, out, "in-process matrix multiplication")
}

func TestWarnOnceDeduplicates(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.WarnOnce("matrix-fallback", "service down")
	p.WarnOnce("matrix-fallback", "service down")

	assert.Equal(t, 1, strings.Count(buf.String(), "service down"))
}

func TestSilencedPrinterWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	p.Silence()

	p.Warn("anything")

	assert.Empty(t, buf.String())
}

func TestShouldColorFalseForNonFile(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, shouldColor(&buf))
}
