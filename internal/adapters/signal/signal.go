// Package signal is the websocket adapter in front of the hub registry: it
// owns connection lifecycles, the read/write pumps and the dispatch of typed
// room-channel events.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/config"
	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/hub"
	"github.com/avoran/classcast/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

const sendQueueSize = 64

// Controller accepts websocket connections and feeds their events into the
// room registry.
type Controller struct {
	Registry *hub.Registry
	Cfg      *config.Config

	handRate *handRateLimiter
}

func NewController(reg *hub.Registry, cfg *config.Config) *Controller {
	return &Controller{
		Registry: reg,
		Cfg:      cfg,
		handRate: newHandRateLimiter(5, time.Minute),
	}
}

// wsConn wraps one websocket connection with a bounded non-blocking send
// queue. The registry only ever sees the TrySend side.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- frame:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the HTTP request and runs the connection until it
// drops. Each websocket gets a fresh connection id; the hub has no memory of
// an id across a drop, so reconnecting clients re-announce their join.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	connID := domain.ConnID(uuid.NewString())
	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, sendQueueSize),
	}
	log.Info().Str("module", "signal").Str("sid", string(connID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)

	ctl.sendEvent(conn, protocol.EventConnected, protocol.Connected{SocketID: string(connID)})

	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, connID, conn)
	}()
}

func (ctl *Controller) sendEvent(c *wsConn, t protocol.EventType, v any) {
	frame, err := protocol.Encode(t, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", string(t)).Msg("encode")
		return
	}
	_ = c.TrySend(frame)
}

func (ctl *Controller) sendError(c *wsConn, code, msg string) {
	ctl.sendEvent(c, protocol.EventError, protocol.ErrorMessage{Code: code, Message: msg})
}
