package voice

// Receiver is the application-supplied sink for events the auxiliary loop
// demultiplexes off the inbound WebSocket and UDP streams. Callbacks are
// invoked from the auxiliary task and MUST NOT block; an implementation
// that needs to do real work should hand the data off to its own queue.
type Receiver interface {
	// SpeakingUpdate reports that ssrc (owned by userID) started or
	// stopped speaking.
	SpeakingUpdate(ssrc uint32, userID uint64, speaking bool)

	// VoicePacket delivers one decoded inbound frame. samples are
	// interleaved L/R when stereo is true, mono otherwise.
	VoicePacket(ssrc uint32, sequence uint16, timestamp uint32, stereo bool, samples []int16)

	// ClientConnect reports that userID started sending audio (and
	// optionally video) in the channel.
	ClientConnect(userID uint64, audioSSRC, videoSSRC uint32)

	// ClientDisconnect reports that userID left the channel.
	ClientDisconnect(userID uint64)
}

// NopReceiver is a Receiver whose callbacks do nothing. Embed it to satisfy
// the interface while only overriding the callbacks an application cares
// about.
type NopReceiver struct{}

func (NopReceiver) SpeakingUpdate(ssrc uint32, userID uint64, speaking bool)                {}
func (NopReceiver) VoicePacket(ssrc uint32, sequence uint16, ts uint32, stereo bool, s []int16) {}
func (NopReceiver) ClientConnect(userID uint64, audioSSRC, videoSSRC uint32)                 {}
func (NopReceiver) ClientDisconnect(userID uint64)                                           {}
