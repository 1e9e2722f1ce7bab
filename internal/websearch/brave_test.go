package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ChainPilot/internal/errors"
)

func TestSearchWeb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/web/search", r.URL.Path)
		assert.Equal(t, "ens resolver", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"ENS docs","url":"https://docs.ens.domains","description":"The <strong>resolver</strong> maps names"},
			{"title":"EIP-137","url":"https://eips.ethereum.org/EIPS/eip-137","description":"ENS naming"},
			{"title":"extra","url":"https://example.com","description":"x"}]}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL + "/", MaxResults: 2})
	require.NoError(t, err)

	results, err := client.SearchWeb(context.Background(), " ens resolver ")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "ENS docs", results[0].Title)
	assert.Equal(t, "The resolver maps names", results[0].Description)
}

func TestSearchWebStatusErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", status)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.SearchWeb(context.Background(), "gas")
	require.Error(t, err)
	assert.Equal(t, CodeWebSearchUnavailable, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))

	status = http.StatusUnauthorized
	_, err = client.SearchWeb(context.Background(), "gas")
	require.Error(t, err)
	assert.False(t, xerrors.RetryableError(err))
}

func TestSearchWebRequiresKeyAndQuery(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Equal(t, CodeWebSearchUnavailable, xerrors.CodeOf(err))

	client, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)
	_, err = client.SearchWeb(context.Background(), "  ")
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = Disabled{}.SearchWeb(context.Background(), "gas")
	assert.ErrorIs(t, err, ErrDisabled)
}
