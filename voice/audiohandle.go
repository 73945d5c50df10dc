package voice

import (
	"sync"
	"time"
)

// SourceKind tags which read method a Source expects to be called.
type SourceKind int

const (
	// Opus sources produce already-encoded Opus frames and must be decoded
	// and mixed into the shared float buffer by the mixer.
	Opus SourceKind = iota
	// Pcm sources produce raw interleaved int16 PCM frames.
	Pcm
)

// Source is the application-supplied audio producer, polymorphic over
// {Opus, Pcm}. A source returning ok=false from either read method is
// terminal and is removed by the mixer on that tick.
type Source interface {
	// IsStereo reports whether this source produces interleaved stereo
	// samples (false means mono, and PCM mono samples are duplicated into
	// both output channels).
	IsStereo() bool

	// Kind reports which of ReadPCMFrame / ReadOpusFrame /
	// DecodeAndMixOpus this source expects to be driven through.
	Kind() SourceKind

	// ReadPCMFrame reads up to one 20ms frame (at most 1920 interleaved
	// int16 samples) into buf, returning the number of samples written.
	// ok is false once the source is exhausted.
	ReadPCMFrame(buf []int16) (n int, ok bool)

	// ReadOpusFrame reads one already-encoded Opus frame. Unused by the
	// mixer today (DecodeAndMixOpus covers the Opus path end to end) but
	// kept for sources that want to pass frames through unmodified.
	ReadOpusFrame() (frame []byte, ok bool)

	// DecodeAndMixOpus decodes one Opus frame and mixes it directly into
	// buf (a 1920-sample stereo float buffer) at the given volume,
	// returning the number of samples mixed in.
	DecodeAndMixOpus(buf []float32, volume float32) (n int, ok bool)
}

// AudioHandle is a mixer-managed reference to one playing Source, shared
// between the application (which controls Playing/Volume) and the mixer
// (which advances Position and sets Finished). All mutable fields are
// guarded by Mu; the mixer holds the lock only for the duration of mixing
// one tick's worth of this source, never across a suspension point.
type AudioHandle struct {
	Mu sync.Mutex

	Playing  bool
	Volume   float32
	Finished bool
	Position time.Duration

	source Source
}

// NewAudioHandle wraps src in a playing handle at unit volume.
func NewAudioHandle(src Source) *AudioHandle {
	return &AudioHandle{
		Playing: true,
		Volume:  1.0,
		source:  src,
	}
}

// Pause stops the mixer from advancing this source without removing it.
func (h *AudioHandle) Pause() {
	h.Mu.Lock()
	h.Playing = false
	h.Mu.Unlock()
}

// Resume lets the mixer advance this source again.
func (h *AudioHandle) Resume() {
	h.Mu.Lock()
	h.Playing = true
	h.Mu.Unlock()
}

// SetVolume sets the per-source mix volume. Negative volumes are clamped to
// zero; there is no upper bound, though [0, 1] is the sane range.
func (h *AudioHandle) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	h.Mu.Lock()
	h.Volume = v
	h.Mu.Unlock()
}

// Done reports whether the mixer has retired this source.
func (h *AudioHandle) Done() bool {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	return h.Finished
}
