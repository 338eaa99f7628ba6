// Package transport implements the client side of the room channel: a
// persistent websocket connection to the hub with automatic reconnection and
// bounded exponential back-off.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("transport: channel closed")

// EventKind tags channel events delivered to the consumer.
type EventKind int

const (
	// EventConnected fires after every successful (re)connect. The consumer
	// must re-announce its join: the hub has no memory of a dropped
	// connection id.
	EventConnected EventKind = iota
	// EventMessage carries one inbound frame.
	EventMessage
	// EventClosed fires once, after the channel gives up or is closed.
	EventClosed
)

type Event struct {
	Kind  EventKind
	Frame []byte
}

// Options bound the reconnect behavior.
type Options struct {
	URL        string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// MaxRetries is the number of consecutive failed connection attempts
	// tolerated before the channel gives up. Zero means a single attempt.
	MaxRetries int
}

func (o *Options) withDefaults() {
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * time.Second
	}
}

// Channel is one logical connection to the hub. It survives transport drops
// by redialing; each successful dial is surfaced as EventConnected.
type Channel struct {
	opts   Options
	events chan Event
	out    chan []byte

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Dial starts the channel. The first connection attempt happens in the
// background; failures feed the same retry loop as mid-session drops.
func Dial(ctx context.Context, opts Options) *Channel {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		opts:   opts,
		events: make(chan Event, 64),
		out:    make(chan []byte, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ch.run(ctx)
	return ch
}

// Events is the single inbound stream: connects, frames, and the final close.
func (ch *Channel) Events() <-chan Event { return ch.events }

// Send enqueues one frame for delivery on the current connection. Frames
// queued while disconnected are sent after the next reconnect.
func (ch *Channel) Send(frame []byte) error {
	select {
	case <-ch.done:
		return ErrClosed
	default:
	}
	select {
	case ch.out <- frame:
		return nil
	case <-ch.done:
		return ErrClosed
	}
}

// Close tears the channel down. Idempotent.
func (ch *Channel) Close() {
	ch.closeOnce.Do(func() {
		ch.cancel()
		close(ch.done)
	})
}

// Backoff returns the delay before the attempt-th retry (0-based), doubling
// from MinBackoff and clamped to MaxBackoff.
func Backoff(min, max time.Duration, attempt int) time.Duration {
	d := min
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (ch *Channel) run(ctx context.Context) {
	defer func() {
		// Giving up counts as a close: Send must start failing immediately.
		ch.Close()
		ch.events <- Event{Kind: EventClosed}
		close(ch.events)
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, ch.opts.URL, nil)
		if err != nil {
			if attempt >= ch.opts.MaxRetries {
				log.Error().Err(err).Str("module", "transport").
					Int("attempts", attempt+1).Msg("giving up on hub")
				return
			}
			delay := Backoff(ch.opts.MinBackoff, ch.opts.MaxBackoff, attempt)
			attempt++
			log.Warn().Err(err).Str("module", "transport").
				Dur("retry_in", delay).Msg("dial failed")
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}
		attempt = 0

		log.Info().Str("module", "transport").Str("url", ch.opts.URL).Msg("connected")
		ch.events <- Event{Kind: EventConnected}

		ch.pump(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("module", "transport").Msg("connection lost, reconnecting")
	}
}

// pump runs reader and writer for one physical connection and returns when
// either side fails.
func (ch *Channel) pump(ctx context.Context, conn *websocket.Conn) {
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case ch.events <- Event{Kind: EventMessage, Frame: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case err := <-readErr:
			log.Debug().Err(err).Str("module", "transport").Msg("read ended")
			return
		case frame := <-ch.out:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("module", "transport").Msg("write failed")
				return
			}
		}
	}
}
