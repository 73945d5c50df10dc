package voice

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"layeh.com/gopus"

	"github.com/relaywire/voxgate/internal/heart"
	"github.com/relaywire/voxgate/voice/udp"
	"github.com/relaywire/voxgate/voice/voicegateway"
)

const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate * 20 / 1000 // 960 samples per channel per 20ms frame

	maxUDPPacketSize = 4096
)

// decoderKey identifies one participant's Opus decoder stream, matching the
// (ssrc, channel_count) cache key from the auxiliary loop design.
type decoderKey struct {
	ssrc     uint32
	channels int
}

// ControlKind identifies a control message sent to the auxiliary loop.
type ControlKind int

const (
	// ControlReconnect replaces the auxiliary loop's WS handle, used after
	// a successful Resume.
	ControlReconnect ControlKind = iota
	// ControlShutdown terminates the loop.
	ControlShutdown
)

// Control is a message delivered to the auxiliary loop from the connection
// orchestrator.
type Control struct {
	Kind ControlKind

	WS                GatewaySession
	HeartbeatInterval time.Duration
}

// Aux is the auxiliary loop: it owns the WS read/write halves and the UDP
// read half, sends heartbeats, and demultiplexes inbound events to a
// Receiver. The UDP write half belongs to the mixer; nothing here sends on
// the media socket.
type Aux struct {
	ws  GatewaySession
	udp *udp.Connection

	ssrc      uint32
	cipherKey [32]byte

	receiver Receiver
	control  <-chan Control

	monitor           *heart.Monitor
	heartbeatNonce    uint64
	heartbeatHasNonce bool

	decoders map[decoderKey]*gopus.Decoder
}

// NewAux builds the auxiliary loop for a freshly handshaken MediaSession.
func NewAux(session *MediaSession, receiver Receiver, control <-chan Control) *Aux {
	return &Aux{
		ws:        session.WS,
		udp:       session.UDP,
		ssrc:      session.SSRC,
		cipherKey: session.CipherKey,
		receiver:  receiver,
		control:   control,
		monitor:   heart.NewMonitor(session.HeartbeatInterval),
		decoders:  make(map[decoderKey]*gopus.Decoder),
	}
}

type udpRead struct {
	data []byte
	err  error
}

func (a *Aux) readUDP(ctx context.Context, out chan<- udpRead) {
	buf := make([]byte, maxUDPPacketSize)
	for {
		n, err := a.udp.Recv(buf)
		if err != nil {
			select {
			case out <- udpRead{err: err}:
			case <-ctx.Done():
			}
			return
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])

		select {
		case out <- udpRead{data: cp}:
		case <-ctx.Done():
			return
		}
	}
}

// Run drives the auxiliary loop until ctx is cancelled or a
// ControlShutdown message arrives.
func (a *Aux) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatInterval := a.monitor.Heartrate
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	wsEvents := a.ws.Listen()

	udpEvents := make(chan udpRead)
	go a.readUDP(ctx, udpEvents)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-wsEvents:
			if !ok {
				return ErrInternalQueueClosed
			}
			if ev.Err != nil {
				ErrorLog(errors.Wrap(ErrTransport, ev.Err.Error()))
				continue
			}
			a.dispatchWS(ctx, ev.OP)

		case pkt, ok := <-udpEvents:
			if !ok {
				return ErrInternalQueueClosed
			}
			if pkt.err != nil {
				ErrorLog(errors.Wrap(ErrTransport, pkt.err.Error()))
				continue
			}
			a.dispatchUDP(pkt.data)

		case <-heartbeatTicker.C:
			a.sendHeartbeat(ctx)

		case ctrl, ok := <-a.control:
			if !ok {
				return nil
			}
			switch ctrl.Kind {
			case ControlReconnect:
				a.ws = ctrl.WS
				wsEvents = a.ws.Listen()
				if ctrl.HeartbeatInterval > 0 {
					a.monitor.Heartrate = ctrl.HeartbeatInterval
					heartbeatTicker.Reset(ctrl.HeartbeatInterval)
				}
			case ControlShutdown:
				return nil
			}
		}
	}
}

func (a *Aux) dispatchWS(ctx context.Context, op voicegateway.OP) {
	switch op.Code {
	case voicegateway.HeartbeatAckOP:
		var ack voicegateway.HeartbeatAckEvent
		if err := op.UnmarshalData(&ack); err != nil {
			ErrorLog(errors.Wrap(ErrSerde, err.Error()))
			return
		}
		if a.heartbeatHasNonce && a.heartbeatNonce == uint64(ack) {
			a.heartbeatHasNonce = false
			a.monitor.Echo()
		} else {
			ErrorLog(errors.Errorf("voice: heartbeat ack nonce mismatch (got %d)", ack))
		}

	case voicegateway.SpeakingOP:
		var sp voicegateway.SpeakingEvent
		if err := op.UnmarshalData(&sp); err != nil {
			ErrorLog(errors.Wrap(ErrSerde, err.Error()))
			return
		}
		a.receiver.SpeakingUpdate(sp.SSRC, uint64(sp.UserID), sp.Speaking)

	case voicegateway.ClientConnectOP:
		var cc voicegateway.ClientConnectEvent
		if err := op.UnmarshalData(&cc); err != nil {
			ErrorLog(errors.Wrap(ErrSerde, err.Error()))
			return
		}
		a.receiver.ClientConnect(uint64(cc.UserID), cc.AudioSSRC, cc.VideoSSRC)

	case voicegateway.ClientDisconnectOP:
		var cd voicegateway.ClientDisconnectEvent
		if err := op.UnmarshalData(&cd); err != nil {
			ErrorLog(errors.Wrap(ErrSerde, err.Error()))
			return
		}
		a.receiver.ClientDisconnect(uint64(cd.UserID))

	default:
		logDebug("voice: aux loop ignoring opcode %d", op.Code)
	}
}

func (a *Aux) dispatchUDP(packet []byte) {
	key := a.cipherKey
	sequence, timestamp, ssrc, payload, ok := udp.OpenMedia(&key, packet)
	if !ok {
		// Decrypt/parse failures are dropped silently; the loop keeps
		// running.
		return
	}
	if len(payload) == 0 {
		return
	}

	channels := opusPacketChannels(payload)

	dec, err := a.decoderFor(ssrc, channels)
	if err != nil {
		ErrorLog(errors.Wrap(ErrOpus, err.Error()))
		return
	}

	samples, err := dec.Decode(payload, opusFrameSize, false)
	if err != nil {
		ErrorLog(errors.Wrap(ErrOpus, err.Error()))
		return
	}

	a.receiver.VoicePacket(ssrc, sequence, timestamp, channels == 2, samples)
}

// opusPacketChannels reads the channel count out of an Opus packet's TOC
// byte: bit 2 is the stereo flag.
func opusPacketChannels(packet []byte) int {
	if packet[0]&0x04 != 0 {
		return 2
	}
	return 1
}

func (a *Aux) decoderFor(ssrc uint32, channels int) (*gopus.Decoder, error) {
	key := decoderKey{ssrc: ssrc, channels: channels}
	if dec, ok := a.decoders[key]; ok {
		return dec, nil
	}

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, err
	}
	a.decoders[key] = dec
	return dec, nil
}

func (a *Aux) sendHeartbeat(ctx context.Context) {
	nonce := randomNonce()
	a.heartbeatNonce = nonce
	a.heartbeatHasNonce = true
	a.monitor.Sent()

	if err := a.ws.SendHeartbeat(ctx, nonce); err != nil {
		ErrorLog(errors.Wrap(ErrTransport, err.Error()))
	}

	if a.monitor.Dead() {
		ErrorLog(errors.New("voice: peer has not acked a heartbeat in over two intervals"))
	}
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read failing means the system RNG is broken; a
		// heartbeat nonce collision here is the least of the caller's
		// problems, so fall back to a fixed value rather than panic.
		return 1
	}
	return binary.BigEndian.Uint64(b[:])
}
