package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaywire/voxgate/voice/udp"
	"github.com/relaywire/voxgate/voice/voicegateway"
)

// fakeReceiver records every callback it gets, standing in for an
// application's Receiver implementation. mu guards the slices so a test
// driving Aux.Run in a background goroutine can poll them safely.
type fakeReceiver struct {
	NopReceiver

	mu       sync.Mutex
	speaking []speakingCall
	connects []connectCall
	disconns []uint64
	packets  []packetCall
}

func (r *fakeReceiver) speakingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.speaking)
}

type speakingCall struct {
	ssrc     uint32
	userID   uint64
	speaking bool
}

type connectCall struct {
	userID               uint64
	audioSSRC, videoSSRC uint32
}

type packetCall struct {
	ssrc      uint32
	sequence  uint16
	timestamp uint32
	stereo    bool
	samples   []int16
}

func (r *fakeReceiver) SpeakingUpdate(ssrc uint32, userID uint64, speaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaking = append(r.speaking, speakingCall{ssrc, userID, speaking})
}

func (r *fakeReceiver) ClientConnect(userID uint64, audioSSRC, videoSSRC uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, connectCall{userID, audioSSRC, videoSSRC})
}

func (r *fakeReceiver) ClientDisconnect(userID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconns = append(r.disconns, userID)
}

func (r *fakeReceiver) VoicePacket(ssrc uint32, sequence uint16, timestamp uint32, stereo bool, samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, packetCall{ssrc, sequence, timestamp, stereo, samples})
}

func newTestAux(t *testing.T) (*Aux, *fakeGateway, *fakeReceiver) {
	t.Helper()

	addr, _ := startUDPRecorder(t)
	udpConn, err := udp.DialConnection(context.Background(), addr)
	if err != nil {
		t.Fatalf("DialConnection: %v", err)
	}
	t.Cleanup(func() { udpConn.Close() })

	gw := &fakeGateway{events: make(chan voicegateway.Event, 16)}
	recv := &fakeReceiver{}

	session := &MediaSession{
		SSRC:              7,
		CipherKey:         [32]byte{1, 2, 3},
		HeartbeatInterval: 20 * time.Millisecond,
		WS:                gw,
		UDP:               udpConn,
	}

	aux := NewAux(session, recv, nil)
	return aux, gw, recv
}

// TestHeartbeatAckNonceEcho checks that a HeartbeatAck carrying the nonce
// of the most recent Heartbeat clears the pending nonce and records an
// echo.
func TestHeartbeatAckNonceEcho(t *testing.T) {
	aux, gw, _ := newTestAux(t)

	aux.sendHeartbeat(context.Background())
	if len(gw.heartbeatNonces) != 1 {
		t.Fatalf("expected exactly one heartbeat send, got %d", len(gw.heartbeatNonces))
	}
	sent := gw.heartbeatNonces[0]

	if !aux.heartbeatHasNonce || aux.heartbeatNonce != sent {
		t.Fatal("expected aux to track the nonce it just sent")
	}

	beforeEcho := aux.monitor.EchoBeat.Get()

	ack := voicegateway.HeartbeatAckEvent(sent)
	op := opEvent(t, voicegateway.HeartbeatAckOP, ack)
	aux.dispatchWS(context.Background(), op.OP)

	if aux.heartbeatHasNonce {
		t.Fatal("expected heartbeatHasNonce to clear on a matching ack")
	}
	if aux.monitor.EchoBeat.Get() == beforeEcho {
		t.Fatal("expected the monitor to record an echo")
	}
}

// TestHeartbeatAckNonceMismatch checks that a stale or wrong nonce is
// ignored rather than crashing the loop or recording an echo.
func TestHeartbeatAckNonceMismatch(t *testing.T) {
	aux, _, _ := newTestAux(t)

	aux.sendHeartbeat(context.Background())
	beforeEcho := aux.monitor.EchoBeat.Get()

	wrong := voicegateway.HeartbeatAckEvent(aux.heartbeatNonce + 1)
	op := opEvent(t, voicegateway.HeartbeatAckOP, wrong)
	aux.dispatchWS(context.Background(), op.OP)

	if !aux.heartbeatHasNonce {
		t.Fatal("a mismatched ack must not clear the pending nonce")
	}
	if aux.monitor.EchoBeat.Get() != beforeEcho {
		t.Fatal("a mismatched ack must not record an echo")
	}
}

// TestDecoderForCachesByKey is the insertion-only (ssrc, channels) decoder
// cache shape from the auxiliary loop design.
func TestDecoderForCachesByKey(t *testing.T) {
	aux, _, _ := newTestAux(t)

	d1, err := aux.decoderFor(111, opusChannels)
	if err != nil {
		t.Fatalf("decoderFor: %v", err)
	}
	d2, err := aux.decoderFor(111, opusChannels)
	if err != nil {
		t.Fatalf("decoderFor: %v", err)
	}
	if d1 != d2 {
		t.Fatal("expected the same decoder instance for a repeated (ssrc, channels) key")
	}

	d3, err := aux.decoderFor(222, opusChannels)
	if err != nil {
		t.Fatalf("decoderFor: %v", err)
	}
	if d3 == d1 {
		t.Fatal("expected a distinct decoder instance for a different ssrc")
	}

	if len(aux.decoders) != 2 {
		t.Fatalf("len(decoders) = %d, want 2", len(aux.decoders))
	}
}

// TestDispatchWSSpeakingUpdate covers SpeakingOP dispatch to the Receiver.
func TestDispatchWSSpeakingUpdate(t *testing.T) {
	aux, _, recv := newTestAux(t)

	op := opEvent(t, voicegateway.SpeakingOP, voicegateway.SpeakingEvent{
		Speaking: true, SSRC: 55, UserID: 9,
	})
	aux.dispatchWS(context.Background(), op.OP)

	if len(recv.speaking) != 1 {
		t.Fatalf("expected one SpeakingUpdate, got %d", len(recv.speaking))
	}
	got := recv.speaking[0]
	if got.ssrc != 55 || got.userID != 9 || !got.speaking {
		t.Fatalf("SpeakingUpdate = %+v, want {55 9 true}", got)
	}
}

// TestDispatchWSClientConnectDisconnect is the supplemented-feature coverage
// for resolving the "which opcodes reach the application" open question:
// both client-presence opcodes reach the Receiver.
func TestDispatchWSClientConnectDisconnect(t *testing.T) {
	aux, _, recv := newTestAux(t)

	connectOP := opEvent(t, voicegateway.ClientConnectOP, voicegateway.ClientConnectEvent{
		UserID: 3, AudioSSRC: 30, VideoSSRC: 31,
	})
	aux.dispatchWS(context.Background(), connectOP.OP)

	disconnectOP := opEvent(t, voicegateway.ClientDisconnectOP, voicegateway.ClientDisconnectEvent{
		UserID: 3,
	})
	aux.dispatchWS(context.Background(), disconnectOP.OP)

	if len(recv.connects) != 1 || recv.connects[0] != (connectCall{3, 30, 31}) {
		t.Fatalf("connects = %+v, want one {3 30 31}", recv.connects)
	}
	if len(recv.disconns) != 1 || recv.disconns[0] != 3 {
		t.Fatalf("disconns = %v, want [3]", recv.disconns)
	}
}

// TestDispatchUDPDropsUnopenable checks that a packet failing decrypt/parse
// is dropped silently rather than surfaced to the Receiver.
func TestDispatchUDPDropsUnopenable(t *testing.T) {
	aux, _, recv := newTestAux(t)

	garbage := make([]byte, udp.HeaderLen+16)
	garbage[0] = 0x80
	aux.dispatchUDP(garbage)

	if len(recv.packets) != 0 {
		t.Fatalf("expected no VoicePacket calls for an unopenable packet, got %d", len(recv.packets))
	}
}

// TestAuxReconnectSwitchesWS checks that a ControlReconnect message
// replaces the WS handle the Run loop listens on without disturbing the
// SSRC or cipher key the loop was built with. A
// Speaking event fed through the new gateway's channel (and not the old
// one) reaching the Receiver is the only observable proof the loop actually
// switched which channel it selects on.
func TestAuxReconnectSwitchesWS(t *testing.T) {
	addr, _ := startUDPRecorder(t)
	udpConn, err := udp.DialConnection(context.Background(), addr)
	if err != nil {
		t.Fatalf("DialConnection: %v", err)
	}
	t.Cleanup(func() { udpConn.Close() })

	gw1 := &fakeGateway{events: make(chan voicegateway.Event, 4)}
	recv := &fakeReceiver{}
	ctrl := make(chan Control, 1)

	session := &MediaSession{
		SSRC:              7,
		CipherKey:         [32]byte{9, 9, 9},
		HeartbeatInterval: time.Hour, // long enough not to fire during the test
		WS:                gw1,
		UDP:               udpConn,
	}
	aux := NewAux(session, recv, ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- aux.Run(ctx) }()

	gw2 := &fakeGateway{events: make(chan voicegateway.Event, 4)}
	ctrl <- Control{Kind: ControlReconnect, WS: gw2}

	// The event goes through gw2 only, so it can reach the Receiver only
	// once the loop has switched to selecting on gw2.events.
	gw2.events <- opEvent(t, voicegateway.SpeakingOP, voicegateway.SpeakingEvent{
		SSRC: 7, UserID: 3, Speaking: true,
	})

	deadline := time.After(2 * time.Second)
	for recv.speakingLen() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the post-reconnect event to reach the Receiver")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if aux.ssrc != 7 || aux.cipherKey != ([32]byte{9, 9, 9}) {
		t.Fatal("Reconnect must not disturb the SSRC or cipher key")
	}
}
