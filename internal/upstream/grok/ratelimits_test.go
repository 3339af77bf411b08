package grok

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFetchRateLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/rate-limits", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "REASONING", gjson.GetBytes(body, "requestKind").String())
		require.Equal(t, "grok-3", gjson.GetBytes(body, "modelName").String())
		w.Write([]byte(`{"remainingQueries": 5}`))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)
	res := cli.FetchRateLimits(context.Background(), "grok-3-think")
	require.True(t, res.Known)
	require.NotNil(t, res.Remaining)
	require.EqualValues(t, 5, *res.Remaining)
}

func TestFetchRateLimitsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)
	res := cli.FetchRateLimits(context.Background(), "grok-3")
	require.False(t, res.Known)
	require.Nil(t, res.Remaining)
	require.Nil(t, res.ResetAt)
}

func TestFetchRateLimitsUnknownModelPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "DEFAULT", gjson.GetBytes(body, "requestKind").String())
		require.Equal(t, "mystery-model", gjson.GetBytes(body, "modelName").String())
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)
	res := cli.FetchRateLimits(context.Background(), "mystery-model")
	require.False(t, res.Known)
}
