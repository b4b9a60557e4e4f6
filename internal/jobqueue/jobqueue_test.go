package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, q *Queue, id string, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := q.Get(id)
		require.True(t, ok)
		if snap.Status == want {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return Snapshot{}
}

func TestRegisterRunsJobToCompletion(t *testing.T) {
	q := New(4)
	q.Run()
	defer q.Stop()

	job := q.Register("semantic", map[string]any{"repo_url": "file:///tmp/r"}, func(ctx context.Context, update func(map[string]any)) (any, error) {
		update(map[string]any{"files_processed": 1})
		return map[string]any{"commits_indexed": 3}, nil
	})

	snap := waitForStatus(t, q, job.ID, StatusCompleted)
	assert.Equal(t, "semantic", snap.Kind)
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)
	assert.Equal(t, map[string]any{"commits_indexed": 3}, snap.Result)
}

func TestRegisterCapturesFailure(t *testing.T) {
	q := New(4)
	q.Run()
	defer q.Stop()

	job := q.Register("semantic", nil, func(ctx context.Context, update func(map[string]any)) (any, error) {
		return nil, errors.New("git backend unavailable")
	})

	snap := waitForStatus(t, q, job.ID, StatusFailed)
	assert.Equal(t, "git backend unavailable", snap.Error)
}

func TestQueueRunsJobsInFIFOOrder(t *testing.T) {
	q := New(4)
	q.Run()
	defer q.Stop()

	gate := make(chan struct{})
	var order []string

	first := q.Register("a", nil, func(ctx context.Context, update func(map[string]any)) (any, error) {
		<-gate
		order = append(order, "a")
		return nil, nil
	})
	second := q.Register("b", nil, func(ctx context.Context, update func(map[string]any)) (any, error) {
		order = append(order, "b")
		return nil, nil
	})

	// second must still be queued while first blocks on gate.
	snap, ok := q.Get(second.ID)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, snap.Status)

	close(gate)
	waitForStatus(t, q, first.ID, StatusCompleted)
	waitForStatus(t, q, second.ID, StatusCompleted)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestCancelOnlyAffectsQueuedJobs(t *testing.T) {
	q := New(4)
	q.Run()
	defer q.Stop()

	gate := make(chan struct{})
	running := q.Register("a", nil, func(ctx context.Context, update func(map[string]any)) (any, error) {
		<-gate
		return nil, nil
	})
	queued := q.Register("b", nil, func(ctx context.Context, update func(map[string]any)) (any, error) {
		return nil, nil
	})

	waitForStatus(t, q, running.ID, StatusRunning)
	assert.False(t, q.Cancel(running.ID), "a running job cannot be cancelled")
	assert.True(t, q.Cancel(queued.ID))

	close(gate)
	waitForStatus(t, q, running.ID, StatusCompleted)

	snap, ok := q.Get(queued.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, snap.Status)
}

func TestGetUnknownJobReturnsFalse(t *testing.T) {
	q := New(4)
	_, ok := q.Get("does-not-exist")
	assert.False(t, ok)
}

func newTestServer(t *testing.T) (*Queue, *httptest.Server) {
	t.Helper()
	q := New(4)
	q.Run()
	t.Cleanup(q.Stop)

	h := &Handler{
		Queue: q,
		Dispatch: func(req RegisterRequest) (string, map[string]any, Func) {
			return "semantic", map[string]any{"repo_url": req.RepoURL}, func(ctx context.Context, update func(map[string]any)) (any, error) {
				return map[string]any{"repo_url": req.RepoURL}, nil
			}
		},
	}
	return q, httptest.NewServer(h.Mux())
}

func TestHTTPRegisterThenGetJob(t *testing.T) {
	_, srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/register", "application/json",
		strings.NewReader(`{"repo_url":"file:///tmp/r","index_types":["semantic"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var reg RegisterResponse
	require.NoError(t, decodeJSON(resp, &reg))
	require.NotEmpty(t, reg.JobID)

	deadline := time.Now().Add(2 * time.Second)
	var snap Snapshot
	for time.Now().Before(deadline) {
		getResp, err := http.Get(srv.URL + "/job/" + reg.JobID)
		require.NoError(t, err)
		require.NoError(t, decodeJSON(getResp, &snap))
		getResp.Body.Close()
		if snap.Status == StatusCompleted {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestHTTPDeleteUnknownJobReturns404(t *testing.T) {
	_, srv := newTestServer(t)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/job/does-not-exist", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func decodeJSON(resp *http.Response, v any) error {
	defer io.Copy(io.Discard, resp.Body)
	return json.NewDecoder(resp.Body).Decode(v)
}
