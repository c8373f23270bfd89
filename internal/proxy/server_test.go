package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNamedHub(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, name+" "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestProxyUnavailableBeforeFirstConfig(t *testing.T) {
	p, _, _ := newTestProvider()
	b := NewBalancer(p, zap.NewNop().Sugar())
	srv := httptest.NewServer(NewServer(b, zap.NewNop().Sugar(), ""))
	defer srv.Close()

	status, _ := get(t, srv.URL+"/v1/models")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
}

func TestProxyRoundRobinsHealthyHubs(t *testing.T) {
	hubA := newNamedHub(t, "a")
	hubB := newNamedHub(t, "b")

	p, reg, health := newTestProvider()
	reg.set(nil, hubA.URL, hubB.URL)
	health.set(hubA.URL, true)
	health.set(hubB.URL, true)

	b := NewBalancer(p, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Watch(ctx)

	srv := httptest.NewServer(NewServer(b, zap.NewNop().Sugar(), ""))
	defer srv.Close()

	require.NoError(t, p.UpdateConfig(context.Background()))
	assert.Eventually(t, func() bool { return b.Targets() == 2 }, 2*time.Second, 10*time.Millisecond)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		status, body := get(t, srv.URL+"/v1/models")
		require.Equal(t, http.StatusOK, status)
		seen[body]++
	}
	assert.Equal(t, map[string]int{"a /v1/models": 2, "b /v1/models": 2}, seen)

	// hub b fails its probe: only a stays routable
	health.set(hubB.URL, false)
	require.NoError(t, p.UpdateConfig(context.Background()))
	assert.Eventually(t, func() bool { return b.Targets() == 1 }, 2*time.Second, 10*time.Millisecond)
	for i := 0; i < 3; i++ {
		_, body := get(t, srv.URL+"/v1/chat/completions")
		assert.Equal(t, "a /v1/chat/completions", body)
	}
}

func TestProxyStreamsEventStreamRequests(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: hi\n\n")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer hub.Close()

	p, reg, health := newTestProvider()
	reg.set(nil, hub.URL)
	health.set(hub.URL, true)

	b := NewBalancer(p, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Watch(ctx)

	srv := httptest.NewServer(NewServer(b, zap.NewNop().Sugar(), ""))
	defer srv.Close()

	require.NoError(t, p.UpdateConfig(context.Background()))
	require.Eventually(t, func() bool { return b.Targets() == 1 }, 2*time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(`{"model":"llama3","stream":true}`))
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	b2, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "data: hi\n\ndata: [DONE]\n\n", string(b2))
}
