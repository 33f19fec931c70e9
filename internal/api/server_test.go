package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/calsync/internal/api"
	"github.com/ajitpratap0/calsync/internal/classifier"
	"github.com/ajitpratap0/calsync/internal/scheduler"
	"github.com/ajitpratap0/calsync/internal/syncer"
)

// stubRunner returns canned results from Trigger.
type stubRunner struct {
	report *syncer.Report
	err    error
	calls  int
}

func (r *stubRunner) Trigger(context.Context) (*syncer.Report, error) {
	r.calls++
	return r.report, r.err
}

func (r *stubRunner) Status() scheduler.Status {
	return scheduler.Status{Runs: r.calls, LastReport: r.report}
}

func newTestServer(t *testing.T, runner api.Runner, authToken string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := api.NewServer(runner, classifier.NewClassifier(logger), logger, authToken)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(b)
	}
	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(context.Background(), method, url, reader)
	} else {
		req, err = http.NewRequestWithContext(context.Background(), method, url, http.NoBody)
	}
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAPI_Healthz(t *testing.T) {
	ts := newTestServer(t, &stubRunner{}, "tok")

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_AuthRequired(t *testing.T) {
	ts := newTestServer(t, &stubRunner{}, "tok")

	for _, path := range []string{"/v1/status", "/debug/vars"} {
		resp := doRequest(t, http.MethodGet, ts.URL+path, nil, "wrong")
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/status", nil, "tok")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_SyncReturnsReport(t *testing.T) {
	runner := &stubRunner{report: &syncer.Report{RunID: "run-1"}}
	ts := newTestServer(t, runner, "")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/sync", nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Report syncer.Report `json:"report"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-1", body.Report.RunID)
	assert.Equal(t, 1, runner.calls)

	status := doRequest(t, http.MethodGet, ts.URL+"/v1/status", nil, "")
	defer status.Body.Close()
	var st scheduler.Status
	require.NoError(t, json.NewDecoder(status.Body).Decode(&st))
	assert.Equal(t, 1, st.Runs)
}

func TestAPI_SyncConflictWhileRunning(t *testing.T) {
	ts := newTestServer(t, &stubRunner{err: scheduler.ErrRunInProgress}, "")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/sync", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_SyncFailure(t *testing.T) {
	ts := newTestServer(t, &stubRunner{err: errors.New("notion down")}, "")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/sync", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "notion down", body["error"])
}

func TestAPI_Classify(t *testing.T) {
	ts := newTestServer(t, &stubRunner{}, "")

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/classify",
		map[string]string{"summary": "Mock interview @Alice_99", "description": "billable=1"}, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var c classifier.Classification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	assert.Equal(t, "alice_99", c.Handle)
	assert.True(t, c.Billable)
	assert.Equal(t, "mock", c.Type)

	bad := doRequest(t, http.MethodPost, ts.URL+"/v1/classify", map[string]string{}, "")
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAPI_DebugVars(t *testing.T) {
	ts := newTestServer(t, &stubRunner{}, "")

	resp := doRequest(t, http.MethodGet, ts.URL+"/debug/vars", nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	assert.Contains(t, vars, "memstats")
}
