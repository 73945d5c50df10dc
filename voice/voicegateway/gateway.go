// Package voicegateway implements the signalling channel: a TLS WebSocket
// carrying the framed JSON voice-gateway events, with typed encode/decode
// and a backpressure-safe send path.
package voicegateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Version is the voice gateway protocol version this package speaks.
const Version = "4"

// Event is a single decoded frame, or a terminal error. Once Err is
// non-nil, no further events follow on the channel.
type Event struct {
	OP  OP
	Err error
}

// Gateway is a single voice-gateway WebSocket connection. It only knows how
// to dial, frame, send, and receive JSON events; the handshake state
// machine living in the parent voice package decides what those events
// mean.
type Gateway struct {
	conn *websocket.Conn

	sendMu      chan struct{} // 1-buffered semaphore: one outstanding send at a time
	sendLimiter *rate.Limiter

	events chan Event

	closeOnce sync.Once
}

// BuildURL normalizes an endpoint hand-off into the wss:// URL to dial,
// stripping a trailing ":80" suffix per the voice handshake contract.
func BuildURL(endpoint string) string {
	return "wss://" + strings.TrimSuffix(endpoint, ":80") + "/?v=" + Version
}

var dialer = websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 10 * time.Second,
}

// Dial opens a new voice gateway WebSocket connection to endpoint.
func Dial(ctx context.Context, endpoint string) (*Gateway, error) {
	conn, _, err := dialer.DialContext(ctx, BuildURL(endpoint), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial voice gateway")
	}

	g := &Gateway{
		conn:        conn,
		sendMu:      make(chan struct{}, 1),
		sendLimiter: rate.NewLimiter(rate.Every(time.Minute), 120),
		events:      make(chan Event, 1),
	}

	// The gorilla/websocket default ping handler already answers an
	// inbound Ping with a Pong carrying the same payload, and its default
	// pong handler is a no-op. Both satisfy the "answer Ping with Pong,
	// ignore Pongs, never surface either as an event" contract without
	// any code here.

	go g.readLoop()

	return g, nil
}

// Listen returns the channel of inbound events. The channel is closed when
// the read loop ends; the last Event before the close carries the terminal
// Err only if the channel had room for it at that moment (see terminate).
func (g *Gateway) Listen() <-chan Event {
	return g.events
}

func (g *Gateway) readLoop() {
	defer close(g.events)

	for {
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			g.terminate(errors.Wrap(err, "voice gateway read failed"))
			return
		}

		var op OP
		if err := json.Unmarshal(data, &op); err != nil {
			g.terminate(errors.Wrap(err, "failed to decode voice gateway frame"))
			return
		}

		g.events <- Event{OP: op}
	}
}

// terminate deposits the loop's final error without blocking. A consumer
// that has already walked away (a reconnect replaced this gateway) would
// otherwise pin the read goroutine forever; it still observes termination
// through the channel close.
func (g *Gateway) terminate(err error) {
	select {
	case g.events <- Event{Err: err}:
	default:
	}
}

// Send encodes v under opcode code and writes it, honoring the send rate
// limit and allowing only one outstanding send at a time.
func (g *Gateway) Send(ctx context.Context, code OPCode, v interface{}) error {
	select {
	case g.sendMu <- struct{}{}:
		defer func() { <-g.sendMu }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := g.sendLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "voice gateway send limiter")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode voice gateway payload")
	}

	b, err := json.Marshal(OP{Code: code, Data: data})
	if err != nil {
		return errors.Wrap(err, "failed to encode voice gateway envelope")
	}

	if err := g.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Wrap(err, "voice gateway write failed")
	}

	return nil
}

// Close closes the underlying WebSocket connection. Safe to call more than
// once.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = g.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = g.conn.Close()
	})
	return err
}
