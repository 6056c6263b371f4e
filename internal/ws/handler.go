package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doodleduel/backend/internal/hub"
	"github.com/doodleduel/backend/internal/protocol"
)

// Fighter images arrive as PNG data URLs, so frames can run well past the
// library's 32 KiB default.
const maxFrameBytes = 4 << 20

const writeTimeout = 3 * time.Second

// conn adapts a websocket to the registry's transport handle: a buffered
// outbox drained by a writer goroutine, with non-blocking sends. A full
// outbox means the peer is too slow and counts as a failed send.
type conn struct {
	outbox chan []byte

	mu     sync.Mutex
	closed bool
}

func newConn() *conn {
	return &conn{outbox: make(chan []byte, 16)}
}

func (c *conn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- payload:
		return true
	default:
		return false
	}
}

func (c *conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

// Handler accepts websocket connections, assigns each an opaque identity,
// and shuttles frames between the socket and the hub.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer sock.Close(websocket.StatusNormalClosure, "bye")
		sock.SetReadLimit(maxFrameBytes)

		playerID := uuid.NewString()
		log.Info("websocket connection established", zap.String("player", playerID))

		c := newConn()
		defer c.close()

		h.Inbox() <- hub.Register{PlayerID: playerID, Conn: c}
		defer func() { h.Inbox() <- hub.Unregister{PlayerID: playerID} }()

		// Writer goroutine: drains the outbox until close.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for payload := range c.outbox {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = sock.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		for {
			_, data, err := sock.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("websocket read ended",
						zap.String("player", playerID), zap.Error(err))
				}
				return
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Warn("malformed frame", zap.String("player", playerID), zap.Error(err))
				errEnv := protocol.NewEnvelope(protocol.KindError, playerID,
					protocol.ErrorData{Message: "Invalid message format"})
				if payload, err := json.Marshal(errEnv); err == nil {
					c.Send(payload)
				}
				continue
			}

			h.Inbox() <- hub.Frame{PlayerID: playerID, Env: env}
		}
	}
}
