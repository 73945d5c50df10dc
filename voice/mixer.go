package voice

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"layeh.com/gopus"

	"github.com/relaywire/voxgate/voice/udp"
)

// tickInterval is the mixer's fixed cadence: 20ms of 48kHz stereo audio.
const tickInterval = 20 * time.Millisecond

// keepaliveInterval is how long the media path may sit idle before the mixer
// sends an SSRC-only UDP keepalive. Every real media send pushes the
// deadline back out.
const keepaliveInterval = 4 * time.Minute

// samplesPerChannel and frameSamples describe the shape of one 20ms tick's
// worth of PCM: 960 samples per channel, 1920 interleaved stereo samples.
const (
	samplesPerChannel = opusSampleRate * 20 / 1000
	frameSamples      = samplesPerChannel * 2
)

// autoFrameCapacity is the frame-size preallocation, in bytes, used when
// Bitrate is Auto: a 5120-byte budget plus the same 16-byte margin that an
// explicit bitrate's bits/50 gets.
const autoFrameCapacity = 5136

// Bitrate selects the Opus encoder bitrate applied at the start of every
// tick. Use AutoBitrate for the encoder's own bitrate control, or
// BitsPerSecond for an explicit value.
type Bitrate struct {
	auto bool
	bits int
}

// AutoBitrate leaves bitrate control to the encoder.
var AutoBitrate = Bitrate{auto: true}

// BitsPerSecond selects an explicit encoder bitrate.
func BitsPerSecond(b int) Bitrate {
	return Bitrate{bits: b}
}

func (b Bitrate) frameCapacity() int {
	if b.auto {
		return autoFrameCapacity
	}
	return b.bits/50 + 16
}

// Mixer is the 20ms-paced tick loop: it sums all live sources into a
// stereo float buffer, soft-clips, Opus-encodes, RTP-frames, seals, and
// transmits over the UDP send half. It is the only task that writes to the
// media socket, which also makes it the owner of the idle keepalive.
type Mixer struct {
	udp *udp.Connection

	wsMu sync.Mutex
	ws   GatewaySession

	ssrc      uint32
	cipherKey [32]byte

	mu      sync.Mutex
	sources []*AudioHandle

	sequence               uint16
	rtpTimestamp           uint32
	silenceFramesRemaining uint8
	speaking               bool

	keepaliveDeadline time.Time

	encoder       *gopus.Encoder
	encoderStereo bool

	bitrate Bitrate

	buf     [frameSamples]float32
	scratch [frameSamples]int16
	pcmOut  [frameSamples]int16
}

// NewMixer builds the mixer half of a freshly handshaken MediaSession. The
// encoder starts stereo; today's policy keeps it that way, but setStereo
// remains live so a future caller can flip it.
func NewMixer(session *MediaSession) (*Mixer, error) {
	enc, err := newOpusEncoder(true)
	if err != nil {
		return nil, errors.Wrap(ErrOpus, err.Error())
	}

	return &Mixer{
		udp:               session.UDP,
		ws:                session.WS,
		ssrc:              session.SSRC,
		cipherKey:         session.CipherKey,
		encoder:           enc,
		encoderStereo:     true,
		bitrate:           AutoBitrate,
		keepaliveDeadline: time.Now().Add(keepaliveInterval),
	}, nil
}

func newOpusEncoder(stereo bool) (*gopus.Encoder, error) {
	channels := 1
	if stereo {
		channels = 2
	}
	return gopus.NewEncoder(opusSampleRate, channels, gopus.Audio)
}

// SetBitrate changes the bitrate applied at the start of every subsequent
// tick.
func (m *Mixer) SetBitrate(b Bitrate) {
	m.bitrate = b
}

// setWS installs the gateway handle used for Speaking sends. Safe to call
// concurrently with Run, since Gateway.Send already gates itself to one
// outstanding send at a time.
func (m *Mixer) setWS(gw GatewaySession) {
	m.wsMu.Lock()
	m.ws = gw
	m.wsMu.Unlock()
}

func (m *Mixer) currentWS() GatewaySession {
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	return m.ws
}

// setStereo rebuilds the encoder if the effective output channel count
// changed. Current policy always calls this with true, but the hook stays
// live per the channel-count switching design.
func (m *Mixer) setStereo(stereo bool) error {
	if stereo == m.encoderStereo {
		return nil
	}
	enc, err := newOpusEncoder(stereo)
	if err != nil {
		return errors.Wrap(ErrOpus, err.Error())
	}
	m.encoder = enc
	m.encoderStereo = stereo
	return nil
}

// Play appends src to the tail of the source list and returns a handle the
// application can use to control it.
func (m *Mixer) Play(src Source) *AudioHandle {
	h := NewAudioHandle(src)
	m.mu.Lock()
	m.sources = append(m.sources, h)
	m.mu.Unlock()
	return h
}

// Run drives the mixer tick loop until ctx is cancelled, advancing the
// schedule deadline by exactly one tick interval every iteration so jitter
// never accumulates.
func (m *Mixer) Run(ctx context.Context) error {
	deadline := time.Now().Add(tickInterval)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := m.tick(ctx); err != nil {
			return err
		}

		sleepUntil(deadline)
		deadline = deadline.Add(tickInterval)
	}
}

func sleepUntil(deadline time.Time) {
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
}

func (m *Mixer) tick(ctx context.Context) error {
	if !m.keepaliveDeadline.After(time.Now()) {
		if err := m.sendKeepalive(); err != nil {
			return err
		}
	}

	// Output is always stereo today; setStereo rebuilds the encoder only
	// if that ever changes.
	if err := m.setStereo(true); err != nil {
		return err
	}

	for i := range m.buf {
		m.buf[i] = 0
	}

	totalLen := m.mixSources()

	softClip(m.buf[:])

	var payload []byte

	if totalLen == 0 {
		if m.silenceFramesRemaining == 0 {
			m.setSpeaking(ctx, false)
			return nil
		}
		m.silenceFramesRemaining--
		payload = udp.SilenceFrame
	} else {
		m.silenceFramesRemaining = 5
	}

	m.setSpeaking(ctx, true)

	if payload == nil {
		var err error
		payload, err = m.encode()
		if err != nil {
			return err
		}
	}

	return m.sendFrame(payload)
}

// sendKeepalive sends the SSRC-only packet that keeps the NAT binding for
// the media path alive across long stretches of silence.
func (m *Mixer) sendKeepalive() error {
	packet := udp.BuildKeepalive(m.ssrc)
	if _, err := m.udp.Send(packet[:]); err != nil {
		return errors.Wrap(ErrTransport, err.Error())
	}
	m.keepaliveDeadline = time.Now().Add(keepaliveInterval)
	return nil
}

// mixSources drives every live source's 20ms frame into m.buf, removing
// terminal sources, and returns the total number of samples any source
// contributed this tick.
func (m *Mixer) mixSources() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalLen := 0
	live := m.sources[:0]

	for _, h := range m.sources {
		h.Mu.Lock()

		if !h.Playing {
			h.Mu.Unlock()
			live = append(live, h)
			continue
		}

		var n int
		var ok bool

		switch h.source.Kind() {
		case Opus:
			n, ok = h.source.DecodeAndMixOpus(m.buf[:], h.Volume)
		default:
			ns, readOK := h.source.ReadPCMFrame(m.scratch[:])
			if readOK {
				mixPCM(m.buf[:], m.scratch[:ns], ns, !h.source.IsStereo(), h.Volume)
			}
			n, ok = ns, readOK
		}

		totalLen += n

		if !ok {
			h.Finished = true
			h.Mu.Unlock()
			continue
		}

		h.Position += tickInterval
		h.Mu.Unlock()
		live = append(live, h)
	}

	m.sources = live
	return totalLen
}

// mixPCM adds one source's PCM frame into the stereo mix buffer: for every
// output sample index i, the source sample index is i/2 when mono
// (duplicating each mono sample into both output channels) or i when
// stereo, with volume applied per sample.
func mixPCM(buf []float32, scratch []int16, n int, mono bool, volume float32) {
	for i := range buf {
		srcIdx := i
		if mono {
			srcIdx = i / 2
		}
		if srcIdx >= n {
			continue
		}
		buf[i] += float32(scratch[srcIdx]) / 32768 * volume
	}
}

// softClip applies a tanh-based nonlinear compressor to keep the mixed
// buffer within +-1.0 without hard-clipping. gopus exposes no equivalent to
// libopus's SoftClip helper, so this is implemented directly.
func softClip(buf []float32) {
	for i, v := range buf {
		if v > 1 || v < -1 {
			buf[i] = float32(math.Tanh(float64(v)))
		}
	}
}

func (m *Mixer) encode() ([]byte, error) {
	if !m.bitrate.auto {
		m.encoder.SetBitrate(m.bitrate.bits)
	}

	for i, v := range m.buf {
		m.pcmOut[i] = int16(clampFloat(v) * 32767)
	}

	out, err := m.encoder.Encode(m.pcmOut[:], samplesPerChannel, m.bitrate.frameCapacity())
	if err != nil {
		return nil, errors.Wrap(ErrOpus, err.Error())
	}
	return out, nil
}

func clampFloat(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// setSpeaking sends a Speaking transition when the state actually changes.
// A failed send is logged rather than returned: the signalling channel dying
// is the auxiliary loop's problem to surface, and the media loop must keep
// its cadence through a WS reconnect.
func (m *Mixer) setSpeaking(ctx context.Context, speaking bool) {
	if m.speaking == speaking {
		return
	}
	m.speaking = speaking

	if err := m.currentWS().SendSpeaking(ctx, speaking, m.ssrc); err != nil {
		ErrorLog(errors.Wrap(ErrTransport, err.Error()))
	}
}

func (m *Mixer) sendFrame(payload []byte) error {
	header := udp.BuildHeader(m.sequence, m.rtpTimestamp, m.ssrc)
	key := m.cipherKey
	packet := udp.SealMedia(&key, header, payload)

	if _, err := m.udp.Send(packet); err != nil {
		return errors.Wrap(ErrTransport, err.Error())
	}

	m.sequence++
	m.rtpTimestamp += uint32(samplesPerChannel)
	m.keepaliveDeadline = time.Now().Add(keepaliveInterval)

	return nil
}
