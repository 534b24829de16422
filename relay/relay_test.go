package relay

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oblink/outbound-relay/api"
)

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	builder := NewTLSBuilder(newTestStore(t, t.TempDir()), false, testLogger())
	return New(builder, testLogger())
}

func TestRelayGetOverTLS(t *testing.T) {
	var gotHost string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		require.Equal(t, "/ping", r.URL.Path)
		require.Equal(t, "v1", r.URL.Query().Get("q"))
		require.Equal(t, "api-key-123", r.Header.Get("Authorization"))
		w.Header().Set("X-Request-Id", "abc")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	result, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method:  http.MethodGet,
		Origin:  srv.URL,
		Path:    "/ping",
		Query:   map[string]string{"q": "v1"},
		Headers: map[string]string{"Authorization": "api-key-123"},
	}, true)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, result.Status)
	require.Equal(t, "pong", result.Response)
	require.NotEmpty(t, gotHost)
	require.Contains(t, result.Headers, api.Header{Name: "X-Request-Id", Value: "abc"})
}

func TestRelayPostDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		require.Equal(t, int64(7), r.ContentLength)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "payload", string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	result, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method: http.MethodPost,
		Origin: srv.URL,
		Path:   "/submit",
		Body:   "payload",
	}, true)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, result.Status)
}

func TestRelayPostKeepsCallerContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	_, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method:  http.MethodPost,
		Origin:  srv.URL,
		Path:    "/submit",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{}`,
	}, true)
	require.NoError(t, err)
}

func TestRelayUnwrapsArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("data.json")
	require.NoError(t, err)
	_, err = entry.Write([]byte(`{"ok":true}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	result, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method: http.MethodGet,
		Origin: srv.URL,
		Path:   "/report",
	}, true)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, result.Response)
}

func TestRelayInvalidArchivePassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("not a zip"))
	}))
	defer srv.Close()

	result, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method: http.MethodGet,
		Origin: srv.URL,
		Path:   "/report",
	}, true)
	require.NoError(t, err)
	require.Equal(t, "not a zip", result.Response)
}

func TestRelayDuplicateResponseHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
	}))
	defer srv.Close()

	result, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method: http.MethodGet,
		Origin: srv.URL,
		Path:   "/",
	}, true)
	require.NoError(t, err)

	var cookies []string
	for _, h := range result.Headers {
		if h.Name == "Set-Cookie" {
			cookies = append(cookies, h.Value)
		}
	}
	require.Equal(t, []string{"a=1", "b=2"}, cookies)
}

func TestRelayRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/final", http.StatusFound)
		case "/final":
			w.Write([]byte("done"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	relay := newTestRelay(t)

	t.Run("followed", func(t *testing.T) {
		result, err := relay.Do(context.Background(), &api.RelayRequest{
			Method: http.MethodGet,
			Origin: srv.URL,
			Path:   "/start",
		}, true)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, result.Status)
		require.Equal(t, "done", result.Response)
	})

	t.Run("not followed", func(t *testing.T) {
		result, err := relay.Do(context.Background(), &api.RelayRequest{
			Method: http.MethodGet,
			Origin: srv.URL,
			Path:   "/start",
		}, false)
		require.NoError(t, err)
		require.Equal(t, http.StatusFound, result.Status)
		require.Contains(t, result.Headers, api.Header{Name: "Location", Value: "/final"})
	})
}

func TestRelayRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	result, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method: http.MethodGet,
		Origin: srv.URL,
		Path:   "/loop",
	}, true)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, result.Status)
	require.Contains(t, result.Response, "stopped after 10 redirects")
}

func TestRelayTimeout(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	relay := newTestRelay(t).WithTimeout(150 * time.Millisecond)
	_, err := relay.Do(context.Background(), &api.RelayRequest{
		Method: http.MethodGet,
		Origin: srv.URL,
		Path:   "/slow",
	}, true)
	require.ErrorIs(t, err, ErrTimeout)
	<-started
}

func TestRelayMalformedResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("banana\r\n"))
		conn.Close()
	}()

	result, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method: http.MethodGet,
		Origin: "http://" + ln.Addr().String(),
		Path:   "/",
	}, true)
	require.NoError(t, err)
	require.Equal(t, 0, result.Status)
	require.Contains(t, result.Response, "malformed response")
}

func TestRelayHeaderInjectionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method:  http.MethodGet,
		Origin:  srv.URL,
		Path:    "/",
		Headers: map[string]string{"X-Evil": "value\r\nX-Injected: true"},
	}, true)
	require.ErrorIs(t, err, ErrHeaderInjection)
}

func TestRelayConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = newTestRelay(t).Do(context.Background(), &api.RelayRequest{
		Method: http.MethodGet,
		Origin: "http://" + addr,
		Path:   "/",
	}, true)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name string
		req  api.RelayRequest
		want string
	}{
		{
			name: "plain",
			req:  api.RelayRequest{Origin: "https://bank.example", Path: "/accounts"},
			want: "https://bank.example/accounts",
		},
		{
			name: "query merged",
			req: api.RelayRequest{
				Origin: "https://bank.example",
				Path:   "/accounts?page=2",
				Query:  map[string]string{"limit": "10"},
			},
			want: "https://bank.example/accounts?limit=10&page=2",
		},
		{
			name: "query escaped",
			req: api.RelayRequest{
				Origin: "https://bank.example",
				Path:   "/search",
				Query:  map[string]string{"q": "a b&c"},
			},
			want: "https://bank.example/search?q=a+b%26c",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := buildURL(&tc.req)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
