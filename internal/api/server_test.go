package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/auth"
	"ChainPilot/internal/config"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/storage/mysql"
	"ChainPilot/internal/task"
)

type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, req agent.CommandRequest) (*agent.CommandResult, error) {
	return &agent.CommandResult{ID: req.ID, Input: req.Input, Summary: "echo: " + req.Input}, nil
}

type staticHistory []mysql.Entry

func (h staticHistory) History(_ context.Context, limit int) ([]mysql.Entry, error) {
	if limit < len(h) {
		return h[:limit], nil
	}
	return h, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *task.MemoryStore) {
	t.Helper()
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	svc := task.NewService(store, queue, 3)
	processor := task.NewProcessor(echoExecutor{}, store, queue, queue)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = processor.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewServer(":0", svc, opts...), store
}

func TestSubmitAndFetchCommand(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	body := bytes.NewBufferString(`{"id":"cmd-1","input":"send 1 ETH to Bob"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/commands?wait=true", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cmd-1", got.ID)
	assert.Equal(t, task.StatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "echo: send 1 ETH to Bob", got.Result.Summary)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commands/cmd-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commands?id=cmd-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commands?status=succeeded&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commands/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats task.TaskStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Succeeded)
}

func TestSubmitWithoutWaitIsAccepted(t *testing.T) {
	store := task.NewMemoryStore()
	server := NewServer(":0", task.NewService(store, task.NewMemoryQueue(4), 3))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(`{"input":"balance"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, task.StatusPending, got.Status)
	assert.NotEmpty(t, got.ID)
}

func TestCommandErrors(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"empty input", http.MethodPost, "/api/v1/commands", `{"input":"  "}`, http.StatusBadRequest, string(task.CodeTaskValidation)},
		{"bad json", http.MethodPost, "/api/v1/commands", `{`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"not found", http.MethodGet, "/api/v1/commands/missing", "", http.StatusNotFound, string(task.CodeTaskNotFound)},
		{"detail method", http.MethodDelete, "/api/v1/commands/x", "", http.StatusMethodNotAllowed, "INVALID_ARGUMENT"},
		{"collection method", http.MethodPut, "/api/v1/commands", "", http.StatusMethodNotAllowed, "INVALID_ARGUMENT"},
		{"missing id", http.MethodGet, "/api/v1/commands/", "", http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"history disabled", http.MethodGet, "/api/v1/history", "", http.StatusServiceUnavailable, "INITIALIZATION_FAILURE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, string(body.Error.Code))
		})
	}
}

func TestHistoryHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := metrics.NewWithRegistry(reg, reg)
	history := staticHistory{{ID: "a", Input: "balance", Summary: "Alice has 1 ETH"}, {ID: "b"}}

	healthy := true
	server, _ := newTestServer(t,
		WithMetrics(recorder),
		WithHistory(history),
		WithHealthCheck(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("tool provider unreachable")
		}),
		WithWaitLimit(time.Second),
	)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []mysql.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice has 1 ETH", entries[0].Summary)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chainpilot_http_requests_total")
}

func TestServerStartStopsOnCancel(t *testing.T) {
	server := NewServer("127.0.0.1:0", task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(1), 1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAuthProtectsCommandRoutes(t *testing.T) {
	svc, err := auth.NewService(config.AuthConfig{
		Mode: "token",
		Tokens: []config.APITokenConfig{
			{Name: "reader", Token: "read-token", Permissions: []string{auth.PermissionRead}},
			{Name: "operator", Token: "op-token", Permissions: []string{auth.PermissionAll}},
		},
	})
	require.NoError(t, err)
	middleware := svc.Middleware(auth.MiddlewareConfig{RequiredPermissions: map[string][]string{
		http.MethodGet:  {auth.PermissionRead},
		http.MethodPost: {auth.PermissionSubmit},
	}})
	server, _ := newTestServer(t, WithAuth(middleware), WithHistory(staticHistory{}))
	handler := server.Handler()

	do := func(method, target, token, body string) int {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/commands", "", ""))
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/commands", "wrong", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/commands", "read-token", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/history", "read-token", ""))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/api/v1/commands", "read-token", `{"input":"balance"}`))
	assert.Equal(t, http.StatusAccepted, do(http.MethodPost, "/api/v1/commands", "op-token", `{"input":"balance"}`))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/healthz", "", ""))
}
