package grok

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cjdem/grok2api/internal/grpcweb"
)

func trailerFrame(block string) []byte {
	out := make([]byte, 5+len(block))
	out[0] = 0x80
	binary.BigEndian.PutUint32(out[1:5], uint32(len(block)))
	copy(out[5:], block)
	return out
}

func okGrpcWebBody() []byte {
	body := grpcweb.EncodeFrame([]byte{0x0a, 0x01, 0x41})
	return append(body, trailerFrame("grpc-status: 0\r\n")...)
}

func TestBootstrapAccount(t *testing.T) {
	var sessionCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/grpc-web+proto", r.Header.Get("Content-Type"))
		switch r.URL.Path {
		case "/auth.v1.Auth/CreateAnonymousUser":
			http.SetCookie(w, &http.Cookie{Name: "sso", Value: "fresh"})
		case "/auth.v1.Auth/CreateSession":
			sessionCookie = r.Header.Get("Cookie")
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/grpc-web+proto")
		w.Write(okGrpcWebBody())
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)
	res := cli.BootstrapAccount(context.Background())

	require.True(t, res.OK())
	require.Len(t, res.Steps, 2)
	require.Equal(t, "create_anonymous_user", res.Steps[0].Step)
	require.Equal(t, "create_session", res.Steps[1].Step)
	require.Contains(t, res.Cookie, "sso=fresh")
	require.Contains(t, sessionCookie, "sso=fresh")
}

func TestBootstrapShortCircuitsOnHTTPFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)
	res := cli.BootstrapAccount(context.Background())

	require.False(t, res.OK())
	require.Len(t, res.Steps, 1)
	require.Equal(t, 1, calls)
	require.Equal(t, http.StatusInternalServerError, res.Steps[0].Status)
	require.NotEmpty(t, res.Steps[0].Error)
}

func TestBootstrapShortCircuitsOnGRPCStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc-web+proto")
		w.Write(trailerFrame("grpc-status: 7\r\ngrpc-message: Permission%20denied\r\n"))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)
	res := cli.BootstrapAccount(context.Background())

	require.False(t, res.OK())
	require.Len(t, res.Steps, 1)
	require.NotNil(t, res.Steps[0].GRPCStatus)
	require.Equal(t, 7, *res.Steps[0].GRPCStatus)
	require.Equal(t, "Permission denied", res.Steps[0].Error)
}
