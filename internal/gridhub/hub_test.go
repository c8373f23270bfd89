package gridhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gridhub/internal/middleware"
	"gridhub/internal/nodes"
	"gridhub/internal/responses"
	"gridhub/internal/shared"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nodes.NewRegistry(), responses.NewManager(), zap.NewNop().Sugar())
	e := echo.New()
	e.GET("/gridhub", hub.HandleConnect, middleware.RequireProviderToken)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/gridhub"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?access_token=secret", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, msgType string, args any) {
	t.Helper()
	env, err := shared.NewEnvelope(msgType, args)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func readFrame(t *testing.T, conn *websocket.Conn) shared.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env shared.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func register(t *testing.T, conn *websocket.Conn, machine string, models ...string) {
	t.Helper()
	sendFrame(t, conn, shared.MsgRegisterNode, shared.NodeRegistration{MachineName: machine, AvailableModels: models})
	env := readFrame(t, conn)
	require.Equal(t, shared.MsgRegistered, env.Type)
}

func TestRejectsMissingToken(t *testing.T) {
	_, url := newTestHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterAddsNode(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)

	register(t, conn, "gpu-box", "llama3", "phi3")

	all := hub.Registry.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "gpu-box", all[0].MachineName)
	assert.Equal(t, []string{"llama3", "phi3"}, all[0].HostedModels)
	assert.Equal(t, 1, hub.Sessions())
}

func TestReRegisterReplacesModelsKeepsLoad(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)

	register(t, conn, "gpu-box", "llama3")
	id := hub.Registry.GetAll()[0].ConnectionID
	hub.Registry.IncrementLoad(id)
	hub.Registry.IncrementLoad(id)

	register(t, conn, "gpu-box", "mistral")

	node, ok := hub.Registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, []string{"mistral"}, node.HostedModels)
	assert.Equal(t, int64(2), node.CurrentLoad)
	_, ok = hub.Registry.TryGetNodeForModel("llama3")
	assert.False(t, ok)
}

func TestDisconnectRemovesNode(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	register(t, conn, "gpu-box", "llama3")
	require.Equal(t, 1, hub.Registry.Count())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return hub.Registry.Count() == 0 && hub.Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchAndRelay(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	register(t, conn, "gpu-box", "llama3")

	node, ok := hub.Registry.TryGetNodeForModel("LLAMA3")
	require.True(t, ok)

	ch := hub.Responses.CreateChannelForRequest("req-1")
	req := shared.InferenceRequest{
		RequestID:   "req-1",
		Model:       "llama3",
		EndpointURI: shared.ChatCompletionsPath,
		RequestBody: `{"model":"llama3"}`,
	}
	require.NoError(t, hub.Dispatch(context.Background(), node.ConnectionID, req))

	env := readFrame(t, conn)
	assert.Equal(t, shared.MsgRequestOpenAI, env.Type)
	var got shared.InferenceRequest
	require.NoError(t, json.Unmarshal(env.Arguments, &got))
	assert.Equal(t, req, got)

	sendFrame(t, conn, shared.MsgStreamInferenceResponse, shared.InferenceChunk{RequestID: "req-1", TokenFragment: "Hello"})
	sendFrame(t, conn, shared.MsgStreamInferenceResponse, shared.InferenceChunk{RequestID: "req-1", TokenFragment: "", IsFinal: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chunks, err := ch.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ""}, chunks)
}

func TestChunkForUnknownRequestIsDropped(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	register(t, conn, "gpu-box", "llama3")

	sendFrame(t, conn, shared.MsgStreamInferenceResponse, shared.InferenceChunk{RequestID: "nobody", TokenFragment: "x", IsFinal: true})

	// connection stays usable after a dropped chunk
	register(t, conn, "gpu-box", "llama3")
	assert.Equal(t, 0, hub.Responses.Len())
	assert.Equal(t, 1, hub.Registry.Count())
}

func TestDispatchUnknownConnection(t *testing.T) {
	hub, _ := newTestHub(t)
	err := hub.Dispatch(context.Background(), "conn_missing", shared.InferenceRequest{RequestID: "r"})
	assert.ErrorIs(t, err, shared.ErrNodeNotConnected)
}

func TestMalformedFramesKeepSessionOpen(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	register(t, conn, "gpu-box", "llama3")

	for _, frame := range []string{
		`{not json`,
		`{"type":5}`,
		`{"type":"RegisterNode","arguments":{"machineName":7}}`,
		`{"type":"StreamInferenceResponse","arguments":"x"}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	register(t, conn, "gpu-box", "phi3")
	node := hub.Registry.GetAll()
	require.Len(t, node, 1)
	assert.Equal(t, []string{"phi3"}, node[0].HostedModels)
	assert.Equal(t, 1, hub.Sessions())
}
