package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gridhub/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"resty.dev/v3"
)

func forwardAgainst(t *testing.T, handler http.HandlerFunc) []shared.InferenceChunk {
	t.Helper()
	srv := httptest.NewServer(handler)
	defer srv.Close()
	client := resty.New()
	defer client.Close()

	var chunks []shared.InferenceChunk
	f := NewForwarder(client, srv.URL)
	_ = f.Forward(context.Background(), shared.InferenceRequest{
		RequestID:   "req-1",
		Model:       "llama3",
		EndpointURI: "/v1/chat/completions",
		RequestBody: `{"model":"llama3","stream":true}`,
	}, func(c shared.InferenceChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	return chunks
}

func fragments(chunks []shared.InferenceChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.TokenFragment)
	}
	return out
}

func TestForwardSSEWithDone(t *testing.T) {
	chunks := forwardAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"model":"llama3","stream":true}`, string(body))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n\ndata: {\"late\":true}\n\n")
	})

	require.Len(t, chunks, 3)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, ""}, fragments(chunks))
	for _, c := range chunks {
		assert.Equal(t, "req-1", c.RequestID)
	}
	assert.False(t, chunks[0].IsFinal)
	assert.True(t, chunks[2].IsFinal)
}

func TestForwardJoinsMultiLineEvents(t *testing.T) {
	chunks := forwardAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: line one\ndata: line two\n\n\n\ndata: [DONE]\n\n")
	})
	assert.Equal(t, []string{"line one\nline two", ""}, fragments(chunks))
}

func TestForwardEOFWithoutDone(t *testing.T) {
	chunks := forwardAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "{\"id\":\"x\",\n\"choices\":[]}")
	})
	require.Len(t, chunks, 2)
	assert.Equal(t, "{\"id\":\"x\",\n\"choices\":[]}", chunks[0].TokenFragment)
	assert.False(t, chunks[0].IsFinal)
	assert.Equal(t, "", chunks[1].TokenFragment)
	assert.True(t, chunks[1].IsFinal)
}

func TestForwardNon2xxSendsErrorChunk(t *testing.T) {
	chunks := forwardAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsFinal)
	assert.True(t, strings.HasPrefix(chunks[0].TokenFragment, shared.ErrorMarker+" "))
	assert.Contains(t, chunks[0].TokenFragment, "500")
}

func TestForwardUnreachableSendsErrorChunk(t *testing.T) {
	client := resty.New()
	defer client.Close()

	var chunks []shared.InferenceChunk
	err := NewForwarder(client, "http://127.0.0.1:1").Forward(context.Background(), shared.InferenceRequest{
		RequestID:   "req-2",
		EndpointURI: "v1/chat/completions",
	}, func(c shared.InferenceChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	assert.Error(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsFinal)
	assert.True(t, strings.HasPrefix(chunks[0].TokenFragment, shared.ErrorMarker))
}
