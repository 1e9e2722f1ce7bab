package chainpilot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/commands":
			assert.Equal(t, "true", r.URL.Query().Get("wait"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			var sub Submission
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
			assert.Equal(t, "send 1 ETH to Bob", sub.Input)
			_ = json.NewEncoder(w).Encode(Command{ID: "c1", Input: sub.Input, Status: "succeeded",
				Result: &Outcome{Summary: "Transferred", TxID: "0xabc", TxState: "confirmed"}})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/commands/c1":
			_ = json.NewEncoder(w).Encode(Command{ID: "c1", Status: "succeeded"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	client.SetAccessToken("tok")

	ctx := context.Background()
	cmd, err := client.Submit(ctx, Submission{Input: "send 1 ETH to Bob", Wait: true})
	require.NoError(t, err)
	assert.True(t, cmd.Done())
	assert.Equal(t, "0xabc", cmd.Result.TxID)

	got, err := client.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)
}

func TestListQueryAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/commands":
			q := r.URL.Query()
			assert.Equal(t, "5", q.Get("limit"))
			assert.Equal(t, "failed,pending", q.Get("status"))
			assert.Equal(t, "true", q.Get("has_tx"))
			_ = json.NewEncoder(w).Encode([]Command{{ID: "a"}, {ID: "b"}})
		case "/api/v1/commands/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"TASK_NOT_FOUND","message":"task not found"}}`))
		case "/healthz":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("down"))
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", nil)
	require.NoError(t, err)
	ctx := context.Background()

	hasTx := true
	cmds, err := client.List(ctx, ListParams{Limit: 5, Statuses: []string{"failed", "pending"}, HasTx: &hasTx})
	require.NoError(t, err)
	assert.Len(t, cmds, 2)

	_, err = client.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "TASK_NOT_FOUND", apiErr.Code)

	err = client.Healthy(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "down", apiErr.Message)
}

func TestWaitPollsUntilDone(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "running"
		if calls >= 3 {
			status = "failed"
		}
		_ = json.NewEncoder(w).Encode(Command{ID: "x", Status: status, LastError: "I couldn't resolve Zed"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	cmd, err := client.Wait(context.Background(), "x", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "failed", cmd.Status)
	assert.Equal(t, 3, calls)
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient("localhost:8080", nil)
	assert.Error(t, err)
}
