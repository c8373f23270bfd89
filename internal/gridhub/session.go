package gridhub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gridhub/internal/shared"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var timeNow = time.Now

// session is one node connection. Reads happen on the serving goroutine;
// writes from any goroutine are serialized by writeMu.
type session struct {
	id   string
	conn *websocket.Conn
	log  *zap.SugaredLogger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, log *zap.SugaredLogger) *session {
	return &session{
		id:   id,
		conn: conn,
		log:  log.With("connection_id", id),
		done: make(chan struct{}),
	}
}

func (s *session) send(env *shared.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return shared.ErrConnClosed
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(shared.WriteWait))
	return s.conn.WriteJSON(env)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(shared.WriteWait))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *session) keepalive() {
	ticker := time.NewTicker(shared.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(shared.WriteWait))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debugw("ping failed", "error", err)
				s.close()
				return
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context, h *Hub) error {
	s.conn.SetReadLimit(shared.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(shared.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(shared.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var env shared.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			select {
			case <-s.done:
				return shared.ErrConnClosed
			default:
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.log.Warnw("dropping malformed frame", "error", err)
				continue
			}
			return err
		}
		// Any frame counts as liveness
		_ = s.conn.SetReadDeadline(time.Now().Add(shared.PongWait))

		var err error
		switch env.Type {
		case shared.MsgRegisterNode:
			err = h.handleRegister(s, env.Arguments)
		case shared.MsgStreamInferenceResponse:
			err = h.handleChunk(s, env.Arguments)
		default:
			s.log.Warnw(shared.ErrUnknownMessage.Error(), "type", env.Type)
			continue
		}
		if errors.Is(err, shared.ErrConnClosed) {
			return err
		}
		if err != nil {
			s.log.Warnw("failed handling frame", "type", env.Type, "error", err)
		}
	}
}

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return shared.ErrBadRequest
	}
	return json.Unmarshal(raw, v)
}
