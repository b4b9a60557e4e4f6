package projection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jsbattig/code-indexer-sub009/internal/quantize"
	"github.com/jsbattig/code-indexer-sub009/internal/warn"
)

// ClientConfig bundles the knobs read from internal/config's
// ProjectionServiceConfig; kept separate so this package doesn't import
// internal/config directly and create a cycle.
type ClientConfig struct {
	HealthProbeTimeout time.Duration
	StartupBackoff     []time.Duration
	RequestTimeout     time.Duration
	DaemonBinary       string // path to the matrixd executable
}

// Client is the auto-starting projection-service client: before every
// request it makes sure a daemon is reachable, spawning one and
// retrying with backoff if not, and falls back to in-process
// multiplication if the daemon still can't be reached.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	warner *warn.Printer
}

// NewClient builds a Client. warner may be nil, in which case
// warn.Default() is used.
func NewClient(cfg ClientConfig, warner *warn.Printer) *Client {
	if warner == nil {
		warner = warn.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		warner: warner,
	}
}

// Multiply computes y = x·M for the collection at collectionPath,
// preferring the resident daemon and falling back to in-process
// multiplication (loading the matrix directly) if the daemon is
// unreachable within the startup backoff budget or a request times out.
func (c *Client) Multiply(ctx context.Context, vector []float32, collectionPath string) ([]float32, error) {
	port, ok := c.ensureDaemon(ctx)
	if ok {
		result, err := c.requestMultiply(ctx, port, vector, collectionPath)
		if err == nil {
			return result, nil
		}
	}

	c.warner.WarnOnce("matrix-fallback", "Using in-process matrix multiplication (service unavailable)")
	return c.inProcessMultiply(vector, collectionPath)
}

// ensureDaemon probes /health, spawning the daemon and retrying with
// backoff if needed. Returns (port, true) once a daemon answers, or
// (0, false) once the backoff budget is exhausted.
func (c *Client) ensureDaemon(ctx context.Context) (int, bool) {
	if port, ok := LookupPort(); ok && c.probeHealth(ctx, port) {
		return port, true
	}

	c.spawnDaemon()

	for _, wait := range c.cfg.StartupBackoff {
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(wait):
		}
		if port, ok := LookupPort(); ok && c.probeHealth(ctx, port) {
			return port, true
		}
	}
	return 0, false
}

func (c *Client) probeHealth(ctx context.Context, port int) bool {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) spawnDaemon() {
	binary := c.cfg.DaemonBinary
	if binary == "" {
		binary = "matrixd"
	}
	cmd := exec.Command(binary)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachedAttr()
	_ = cmd.Start()
	if cmd.Process != nil {
		go cmd.Process.Release()
	}
}

func (c *Client) requestMultiply(ctx context.Context, port int, vector []float32, collectionPath string) ([]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(MultiplyRequest{Vector: vector, CollectionPath: collectionPath})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, fmt.Sprintf("http://127.0.0.1:%d/multiply", port), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("projection service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("projection service returned status %d", resp.StatusCode)
	}

	var out MultiplyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode projection response: %w", err)
	}
	return out.Result, nil
}

// inProcessMultiply loads the collection's matrix directly and computes
// the projection without going through the daemon at all. Correctness
// is identical to the daemon path; the only cost is per-call disk I/O.
func (c *Client) inProcessMultiply(vector []float32, collectionPath string) ([]float32, error) {
	matrixPath := filepath.Join(collectionPath, quantize.MatrixFileName)
	m, err := quantize.Load(matrixPath)
	if err != nil {
		return nil, fmt.Errorf("in-process fallback failed to load matrix: %w", err)
	}
	return m.Project(vector)
}
