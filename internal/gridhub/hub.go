// Package gridhub is the duplex endpoint worker nodes connect to. It keeps the
// node registry in sync with live connections and relays streamed chunks into
// the response manager.
package gridhub

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"gridhub/internal/ctx"
	"gridhub/internal/metrics"
	"gridhub/internal/nodes"
	"gridhub/internal/responses"
	"gridhub/internal/shared"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"go.uber.org/zap"
)

type Hub struct {
	Registry  *nodes.Registry
	Responses *responses.Manager
	Log       *zap.SugaredLogger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

func NewHub(registry *nodes.Registry, resp *responses.Manager, log *zap.SugaredLogger) *Hub {
	return &Hub{
		Registry:  registry,
		Responses: resp,
		Log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// HandleConnect upgrades the request and serves the node session until the
// connection drops. Must sit behind the provider token middleware.
func (h *Hub) HandleConnect(cc echo.Context) error {
	log := h.Log
	if c, ok := cc.(*ctx.Context); ok {
		log = c.Log
	}
	conn, err := h.upgrader.Upgrade(cc.Response(), cc.Request(), nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Warnw("websocket upgrade failed", "error", err)
		return nil
	}
	h.Serve(cc.Request().Context(), conn)
	return nil
}

// Serve runs one node session on an established connection and blocks until
// it ends.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	s := newSession("conn_"+shared.NewID(22), conn, h.Log)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.sessions[s.id] = s
	h.mu.Unlock()

	s.log.Infow("node connected", "remote_addr", conn.RemoteAddr().String())
	defer h.disconnect(s)

	go s.keepalive()
	if err := s.readLoop(ctx, h); err != nil && !isNormalClose(err) {
		s.log.Warnw("node connection ended", "error", err)
	}
}

func (h *Hub) disconnect(s *session) {
	s.close()

	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()

	h.Registry.Remove(s.id)
	metrics.NodeLoad.DeleteLabelValues(s.id)
	metrics.ConnectedNodes.Set(float64(h.Registry.Count()))
	s.log.Infow("node disconnected")
}

func (h *Hub) session(id string) (*session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Dispatch sends req to the node behind connID. There is no acknowledgement;
// a nil error only means the frame was written.
func (h *Hub) Dispatch(_ context.Context, connID string, req shared.InferenceRequest) error {
	s, ok := h.session(connID)
	if !ok {
		return shared.ErrNodeNotConnected
	}
	env, err := shared.NewEnvelope(shared.MsgRequestOpenAI, req)
	if err != nil {
		return utils.Wrap("failed encoding inference request", err)
	}
	return s.send(env)
}

// Sessions returns the number of live node connections.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close drops every node connection and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

func (h *Hub) handleRegister(s *session, raw []byte) error {
	var reg shared.NodeRegistration
	if err := unmarshalArgs(raw, &reg); err != nil {
		return err
	}

	// Registration carries no load; the in-flight count survives re-registers
	h.Registry.Register(s.id, nodes.NodeInfo{
		MachineName:   reg.MachineName,
		Models:        reg.AvailableModels,
		LastHeartbeat: timeNow(),
	})
	metrics.ConnectedNodes.Set(float64(h.Registry.Count()))
	s.log.Infow("node registered", "machine_name", reg.MachineName, "models", reg.AvailableModels)

	env, _ := shared.NewEnvelope(shared.MsgRegistered, nil)
	return s.send(env)
}

func (h *Hub) handleChunk(s *session, raw []byte) error {
	var chunk shared.InferenceChunk
	if err := unmarshalArgs(raw, &chunk); err != nil {
		return err
	}
	if !h.Responses.TryAddChunk(chunk.RequestID, chunk.TokenFragment, chunk.IsFinal) {
		metrics.DroppedChunks.Inc()
		metrics.ErrorCount.WithLabelValues(shared.ErrStreamRelayDrop.Code).Inc()
		s.log.Debugw(shared.ErrStreamRelayDrop.Msg, "inference_id", chunk.RequestID)
	}
	return nil
}

func isNormalClose(err error) bool {
	return errors.Is(err, shared.ErrConnClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
