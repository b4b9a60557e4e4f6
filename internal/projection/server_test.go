package projection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsbattig/code-indexer-sub009/internal/metrics"
	"github.com/jsbattig/code-indexer-sub009/internal/quantize"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cache, err := NewMatrixCache(10, time.Hour)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	s := NewServer(cache, nil, m, nil, time.Hour, time.Hour)
	return s, httptest.NewServer(s.Mux())
}

func writeMatrix(t *testing.T, dir string) {
	t.Helper()
	m := quantize.NewMatrix(4, "test-collection")
	require.NoError(t, m.Save(filepath.Join(dir, quantize.MatrixFileName)))
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMultiplyEndpointComputesProjection(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	dir := t.TempDir()
	writeMatrix(t, dir)

	body := `{"vector":[1,0,0,0],"collection_path":"` + dir + `"}`
	resp, err := http.Post(ts.URL+"/multiply", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMultiplyEndpointMissingMatrixReturns404(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	body := `{"vector":[1,0,0,0],"collection_path":"/no/such/dir"}`
	resp, err := http.Post(ts.URL+"/multiply", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMultiplyEndpointDimensionMismatchReturns400(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	dir := t.TempDir()
	writeMatrix(t, dir)

	body := `{"vector":[1,0],"collection_path":"` + dir + `"}`
	resp, err := http.Post(ts.URL+"/multiply", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerRunHonorsContextCancellation(t *testing.T) {
	cache, err := NewMatrixCache(10, time.Hour)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	s := NewServer(cache, nil, m, nil, time.Hour, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = s.Run(ctx, 0)
	assert.NoError(t, err)
}

