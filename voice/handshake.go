package voice

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/relaywire/voxgate/voice/udp"
	"github.com/relaywire/voxgate/voice/voicegateway"
)

// CryptoMode is the only authenticated-symmetric-crypto mode this module
// speaks. SelectProtocol advertises it; SessionDescription must echo it.
const CryptoMode = "xsalsa20_poly1305"

// ConnectionInfo is the session hand-off from the outer control gateway.
type ConnectionInfo struct {
	Endpoint  string
	GuildID   uint64
	UserID    uint64
	SessionID string
	Token     string
}

// MediaSession is the product of a successful handshake: a connected
// signalling channel and UDP pair, the session's SSRC, and its cipher key.
// It is move-only in spirit: handed once from the handshake to the
// auxiliary and mixer tasks, never shared beyond that.
type MediaSession struct {
	SSRC              uint32
	CipherKey         [32]byte
	HeartbeatInterval time.Duration

	WS  GatewaySession
	UDP *udp.Connection
}

// handshakeAccumulator tracks the Hello/Ready pair during a new-session
// handshake (or Hello/Resumed during a resume). Neither field is ever
// overwritten once set, and completion requires both.
type handshakeAccumulator struct {
	hello *voicegateway.HelloEvent
	ready *voicegateway.ReadyEvent

	resumed bool
}

func (h *handshakeAccumulator) newSessionDone() bool {
	return h.hello != nil && h.ready != nil
}

func (h *handshakeAccumulator) resumeDone() bool {
	return h.hello != nil && h.resumed
}

// NewSession performs the full new-session handshake: Identify, wait for
// Hello+Ready (either order), verify the crypto mode, dial UDP, perform a
// single round of NAT discovery, SelectProtocol, and wait for
// SessionDescription.
func NewSession(ctx context.Context, info ConnectionInfo) (*MediaSession, error) {
	if err := validateEndpoint(info.Endpoint); err != nil {
		return nil, err
	}

	gw, err := voicegateway.Dial(ctx, info.Endpoint)
	if err != nil {
		return nil, wrapDialErr(err)
	}

	session, err := newSession(ctx, gw, info)
	if err != nil {
		gw.Close()
		return nil, err
	}

	return session, nil
}

func newSession(ctx context.Context, gw GatewaySession, info ConnectionInfo) (*MediaSession, error) {
	if err := gw.Identify(ctx, voicegateway.ID(info.GuildID), voicegateway.ID(info.UserID), info.SessionID, info.Token); err != nil {
		return nil, errors.Wrap(ErrTransport, err.Error())
	}

	var acc handshakeAccumulator
	events := gw.Listen()

	for !acc.newSessionDone() {
		ev, ok := <-events
		if !ok {
			return nil, ErrInternalQueueClosed
		}
		if ev.Err != nil {
			return nil, errors.Wrap(ErrTransport, ev.Err.Error())
		}

		switch ev.OP.Code {
		case voicegateway.ReadyOP:
			if acc.ready == nil {
				var ready voicegateway.ReadyEvent
				if err := ev.OP.UnmarshalData(&ready); err != nil {
					return nil, errors.Wrap(ErrSerde, err.Error())
				}
				acc.ready = &ready
			}
		case voicegateway.HelloOP:
			if acc.hello == nil {
				var hello voicegateway.HelloEvent
				if err := ev.OP.UnmarshalData(&hello); err != nil {
					return nil, errors.Wrap(ErrSerde, err.Error())
				}
				acc.hello = &hello
			}
		default:
			return nil, ErrExpectedHandshake
		}
	}

	if !acc.ready.SupportsMode(CryptoMode) {
		return nil, ErrCryptoModeUnavailable
	}

	udpConn, err := udp.DialConnection(ctx, acc.ready.Addr())
	if err != nil {
		return nil, errors.Wrap(ErrTransport, err.Error())
	}

	address, port, err := discoverNAT(udpConn, acc.ready.SSRC)
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	if err := gw.SendSelectProtocol(ctx, address, port, CryptoMode); err != nil {
		udpConn.Close()
		return nil, errors.Wrap(ErrTransport, err.Error())
	}

	secretKey, err := waitSessionDescription(events)
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	return &MediaSession{
		SSRC:              acc.ready.SSRC,
		CipherKey:         secretKey,
		HeartbeatInterval: time.Duration(acc.hello.HeartbeatIntervalMs) * time.Millisecond,
		WS:                gw,
		UDP:               udpConn,
	}, nil
}

// discoverNAT sends a single NAT-discovery request and waits for exactly
// one response.
func discoverNAT(conn *udp.Connection, ssrc uint32) (address string, port uint16, err error) {
	req := udp.BuildDiscoveryRequest(ssrc)
	if _, err := conn.Send(req[:]); err != nil {
		return "", 0, errors.Wrap(ErrTransport, err.Error())
	}

	if err := conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return "", 0, errors.Wrap(ErrTransport, err.Error())
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 256)
	n, err := conn.Recv(buf)
	if err != nil {
		return "", 0, errors.Wrap(ErrIllegalDiscoveryResponse, err.Error())
	}

	address, port, err = udp.ParseDiscoveryResponse(buf[:n])
	if err == udp.ErrMalformedDiscoveryAddress {
		return "", 0, errors.Wrap(ErrIllegalIP, err.Error())
	}
	if err != nil {
		return "", 0, errors.Wrap(ErrIllegalDiscoveryResponse, err.Error())
	}
	if net.ParseIP(address) == nil {
		return "", 0, ErrIllegalIP
	}

	return address, port, nil
}

// waitSessionDescription loops until a SessionDescription arrives, logging
// and continuing past any other opcode. This is deliberately laxer than the
// Hello/Ready wait, which fails on the first unexpected opcode: once
// SelectProtocol is out, the peer may interleave unrelated events.
func waitSessionDescription(events <-chan voicegateway.Event) ([32]byte, error) {
	for {
		ev, ok := <-events
		if !ok {
			return [32]byte{}, ErrInternalQueueClosed
		}
		if ev.Err != nil {
			return [32]byte{}, errors.Wrap(ErrTransport, ev.Err.Error())
		}

		if ev.OP.Code != voicegateway.SessionDescriptionOP {
			logDebug("voice: ignoring opcode %d while waiting for session description", ev.OP.Code)
			continue
		}

		var desc voicegateway.SessionDescriptionEvent
		if err := ev.OP.UnmarshalData(&desc); err != nil {
			return [32]byte{}, errors.Wrap(ErrSerde, err.Error())
		}
		if desc.Mode != CryptoMode {
			return [32]byte{}, ErrCryptoModeInvalid
		}

		return desc.SecretKey, nil
	}
}

// Resume reconnects a dropped WebSocket without touching the existing UDP
// socket, cipher key, or SSRC. The caller is responsible for handing the
// returned Gateway to the auxiliary loop via a Reconnect control message.
func Resume(ctx context.Context, info ConnectionInfo) (GatewaySession, time.Duration, error) {
	if err := validateEndpoint(info.Endpoint); err != nil {
		return nil, 0, err
	}

	gw, err := voicegateway.Dial(ctx, info.Endpoint)
	if err != nil {
		return nil, 0, wrapDialErr(err)
	}

	interval, err := resume(ctx, gw, info)
	if err != nil {
		gw.Close()
		return nil, 0, err
	}

	return gw, interval, nil
}

func resume(ctx context.Context, gw GatewaySession, info ConnectionInfo) (time.Duration, error) {
	if err := gw.SendResume(ctx, voicegateway.ID(info.GuildID), info.SessionID, info.Token); err != nil {
		return 0, errors.Wrap(ErrTransport, err.Error())
	}

	var acc handshakeAccumulator
	events := gw.Listen()

	for !acc.resumeDone() {
		ev, ok := <-events
		if !ok {
			return 0, ErrInternalQueueClosed
		}
		if ev.Err != nil {
			return 0, errors.Wrap(ErrTransport, ev.Err.Error())
		}

		switch ev.OP.Code {
		case voicegateway.HelloOP:
			if acc.hello == nil {
				var hello voicegateway.HelloEvent
				if err := ev.OP.UnmarshalData(&hello); err != nil {
					return 0, errors.Wrap(ErrSerde, err.Error())
				}
				acc.hello = &hello
			}
		case voicegateway.ResumedOP:
			acc.resumed = true
		default:
			return 0, ErrExpectedHandshake
		}
	}

	return time.Duration(acc.hello.HeartbeatIntervalMs) * time.Millisecond, nil
}

// wrapDialErr classifies a voicegateway.Dial failure: a DNS resolution
// failure surfaces as ErrHostnameResolve, anything else as ErrTransport.
func wrapDialErr(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errors.Wrap(ErrHostnameResolve, err.Error())
	}
	return errors.Wrap(ErrTransport, err.Error())
}

func validateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return ErrEndpointURL
	}
	host := strings.TrimSuffix(endpoint, ":80")
	if host == "" {
		return ErrEndpointURL
	}
	// A bare port-check is enough here; actual DNS resolution happens at
	// Dial time and surfaces as ErrHostnameResolve via the net package.
	if _, _, err := net.SplitHostPort(host); err == nil {
		return nil
	}
	if strings.Contains(host, "/") || strings.Contains(host, " ") {
		return ErrEndpointURL
	}
	return nil
}
