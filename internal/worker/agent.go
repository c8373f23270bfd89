// Package worker is the agent that runs next to a local model server. It
// keeps a duplex connection to the hub, registers the locally available
// models and forwards dispatched requests to the model server.
package worker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"gridhub/internal/metrics"
	"gridhub/internal/shared"

	"github.com/gorilla/websocket"
	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"go.uber.org/zap"
	"resty.dev/v3"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Config struct {
	HubURL            string
	ProviderToken     string
	AllowInvalidCerts bool
	LocalURL          string
	MachineName       string
	RetryDelay        time.Duration
	DiscoveryInterval time.Duration
	// ReadTimeout drops a hub that sends neither frames nor pings for this long
	ReadTimeout time.Duration
}

type Agent struct {
	cfg       Config
	log       *zap.SugaredLogger
	dialer    *websocket.Dialer
	forwarder *Forwarder
	discovery *Discoverer

	state atomic.Int32

	// guards conn and serializes writes on it
	mu   sync.Mutex
	conn *websocket.Conn

	inflight sync.WaitGroup
}

func NewAgent(cfg Config, client *resty.Client, log *zap.SugaredLogger) *Agent {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = shared.ReconnectDelay
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = shared.DiscoveryInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = shared.PongWait
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: shared.WriteWait,
	}
	if cfg.AllowInvalidCerts {
		log.Warn("ALLOW_INVALID_CERTS set, untrusted TLS certificates are accepted. Development only.")
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	return &Agent{
		cfg:       cfg,
		log:       log,
		dialer:    dialer,
		forwarder: NewForwarder(client, cfg.LocalURL),
		discovery: NewDiscoverer(client, cfg.LocalURL),
	}
}

func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(s State) {
	prev := State(a.state.Swap(int32(s)))
	if prev != s {
		a.log.Debugw("connection state changed", "from", prev.String(), "to", s.String())
	}
}

// Run keeps the agent connected until ctx ends, reconnecting after every
// failure. It waits for in-flight forwards before returning.
func (a *Agent) Run(ctx context.Context) error {
	defer a.inflight.Wait()
	for {
		a.setState(Connecting)
		metrics.Reconnects.Inc()
		err := a.session(ctx)
		a.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		a.log.Warnw("hub connection lost, retrying", "error", err, "retry_in", a.cfg.RetryDelay.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.RetryDelay):
		}
	}
}

func (a *Agent) session(ctx context.Context) error {
	header := http.Header{}
	if a.cfg.ProviderToken != "" {
		header.Set("Authorization", "Bearer "+a.cfg.ProviderToken)
	}
	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.HubURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return utils.Wrap("failed dialing hub", err)
	}
	conn.SetReadLimit(shared.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(shared.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		_ = conn.Close()
	}()

	a.setState(Connected)
	a.log.Infow("connected to hub", "hub_url", a.cfg.HubURL)

	go a.registerLoop(sctx)
	go func() {
		// unblock the read below on shutdown
		<-sctx.Done()
		_ = conn.Close()
	}()

	for {
		var env shared.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		switch env.Type {
		case shared.MsgRegistered:
			a.log.Debug("registered with hub")
		case shared.MsgRequestOpenAI, shared.MsgRequestInference:
			var req shared.InferenceRequest
			if err := unmarshalArgs(env.Arguments, &req); err != nil {
				a.log.Warnw("bad inference request frame", "error", err)
				continue
			}
			a.inflight.Add(1)
			// outlives the session so chunks can flow over a reconnected socket
			go a.handleRequest(ctx, req)
		default:
			a.log.Debugw(shared.ErrUnknownMessage.Error(), "type", env.Type)
		}
	}
}

// registerLoop discovers models and registers immediately, then on every
// discovery interval for as long as the session lives.
func (a *Agent) registerLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		a.register(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Agent) register(ctx context.Context) {
	models, err := a.discovery.Discover(ctx)
	if err != nil {
		// still register so the hub knows this node, with no models
		a.log.Warnw("model discovery failed", "error", err)
		models = []string{}
	}
	a.log.Infow("discovered local models", "models", models)

	reg := shared.NodeRegistration{MachineName: a.cfg.MachineName, AvailableModels: models}
	if err := a.send(shared.MsgRegisterNode, reg); err != nil {
		a.log.Warnw("failed sending registration", "error", err)
	}
}

func (a *Agent) handleRequest(ctx context.Context, req shared.InferenceRequest) {
	defer a.inflight.Done()
	log := a.log.With("inference_id", req.RequestID, "model", req.Model)
	log.Infow("forwarding request", "endpoint", req.EndpointURI)

	err := a.forwarder.Forward(ctx, req, func(chunk shared.InferenceChunk) error {
		return a.send(shared.MsgStreamInferenceResponse, chunk)
	})
	if err != nil {
		log.Errorw("request failed", "error", err)
		return
	}
	log.Debug("request completed")
}

func (a *Agent) send(msgType string, args any) error {
	env, err := shared.NewEnvelope(msgType, args)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return shared.ErrConnClosed
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(shared.WriteWait))
	return a.conn.WriteJSON(env)
}

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return shared.ErrBadRequest
	}
	return json.Unmarshal(raw, v)
}
