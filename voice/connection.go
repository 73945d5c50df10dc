// Package voice implements a voice-gateway client and real-time audio
// transport: it performs the voice handshake, establishes an encrypted
// media path, mixes concurrent audio sources into a fixed-cadence outbound
// stream, and delivers inbound packets to an application-supplied
// Receiver.
package voice

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/relaywire/voxgate/internal/moreatomic"
)

// errReconnectInProgress guards against overlapping Reconnect calls racing
// to replace the same WS handle.
var errReconnectInProgress = errors.New("voice: reconnect already in progress")

// Connection is a single voice session. It owns the auxiliary loop and the
// mixer for the session's lifetime and survives transient WS disconnects
// via Reconnect.
type Connection struct {
	info ConnectionInfo

	session *MediaSession
	aux     *Aux
	mixer   *Mixer

	control chan Control

	reconnecting moreatomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	errOnce sync.Once
	errCh   chan error
}

// Open performs the full handshake and starts the auxiliary loop and
// mixer. The returned Connection is live immediately; Play may be called
// as soon as Open returns.
func Open(ctx context.Context, info ConnectionInfo, receiver Receiver) (*Connection, error) {
	session, err := NewSession(ctx, info)
	if err != nil {
		return nil, err
	}

	mixer, err := NewMixer(session)
	if err != nil {
		session.WS.Close()
		session.UDP.Close()
		return nil, err
	}

	control := make(chan Control)
	aux := NewAux(session, receiver, control)

	runCtx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		info:    info,
		session: session,
		aux:     aux,
		mixer:   mixer,
		control: control,
		cancel:  cancel,
		errCh:   make(chan error, 1),
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.reportErr(aux.Run(runCtx))
	}()
	go func() {
		defer c.wg.Done()
		c.reportErr(mixer.Run(runCtx))
	}()

	return c, nil
}

func (c *Connection) reportErr(err error) {
	if err == nil || err == context.Canceled {
		return
	}
	c.errOnce.Do(func() {
		c.errCh <- err
	})
}

// Err returns the channel the first fatal error from either the auxiliary
// loop or the mixer is delivered on. The caller decides whether to
// Reconnect or give up.
func (c *Connection) Err() <-chan error {
	return c.errCh
}

// Play appends src to the mixer's source list and returns a handle for
// pause/resume/volume control.
func (c *Connection) Play(src Source) *AudioHandle {
	return c.mixer.Play(src)
}

// SetBitrate changes the mixer's Opus encoder bitrate.
func (c *Connection) SetBitrate(b Bitrate) {
	c.mixer.SetBitrate(b)
}

// Reconnect recovers a dropped WebSocket via the resume protocol without
// disturbing the mixer or the UDP socket's cipher key.
func (c *Connection) Reconnect(ctx context.Context) error {
	if !c.reconnecting.CompareAndSwap(false) {
		return errReconnectInProgress
	}
	defer c.reconnecting.Set(false)

	gw, heartbeatInterval, err := Resume(ctx, c.info)
	if err != nil {
		return err
	}

	old := c.session.WS
	c.session.WS = gw

	select {
	case c.control <- Control{Kind: ControlReconnect, WS: gw, HeartbeatInterval: heartbeatInterval}:
	case <-ctx.Done():
		gw.Close()
		return ctx.Err()
	}

	c.mixer.setWS(gw)
	old.Close()
	return nil
}

// Close tears down the connection: it signals both tasks to stop, waits
// for them to exit, and closes the WS and UDP sockets. No state is
// persisted.
func (c *Connection) Close() error {
	select {
	case c.control <- Control{Kind: ControlShutdown}:
	default:
	}

	c.cancel()
	c.wg.Wait()

	wsErr := c.session.WS.Close()
	udpErr := c.session.UDP.Close()

	logDebug("voice: connection closed (ssrc=%d)", c.session.SSRC)

	if wsErr != nil {
		return wsErr
	}
	return udpErr
}
