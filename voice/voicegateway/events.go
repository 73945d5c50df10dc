package voicegateway

import "strconv"

// HelloEvent is op 8, sent by the peer right after the WebSocket connects.
type HelloEvent struct {
	HeartbeatIntervalMs uint32 `json:"heartbeat_interval"`
}

// ReadyEvent is op 2, the response to Identify.
type ReadyEvent struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  uint16   `json:"port"`
	Modes []string `json:"modes"`
}

// Addr returns the "ip:port" address to dial the media UDP socket to.
func (r ReadyEvent) Addr() string {
	return r.IP + ":" + strconv.Itoa(int(r.Port))
}

// SupportsMode reports whether mode is one of the crypto modes the peer
// advertised in Ready.
func (r ReadyEvent) SupportsMode(mode string) bool {
	for _, m := range r.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// SessionDescriptionEvent is op 4, delivering the crypto mode and secret key
// once SelectProtocol and NAT discovery are done.
type SessionDescriptionEvent struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// SpeakingEvent is op 5 as received from the peer (someone else started or
// stopped speaking).
type SpeakingEvent struct {
	Speaking bool   `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
	UserID   ID     `json:"user_id"`
}

// HeartbeatAckEvent is op 6: the nonce echoed back from the most recently
// sent Heartbeat.
type HeartbeatAckEvent uint64

func (e *HeartbeatAckEvent) UnmarshalJSON(b []byte) error {
	var id ID
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	*e = HeartbeatAckEvent(id)
	return nil
}

// ResumedEvent is op 9, an empty acknowledgement that a Resume succeeded.
type ResumedEvent struct{}

// ClientConnectEvent is op 12, announcing that another client started
// sending audio/video in this channel.
type ClientConnectEvent struct {
	UserID    ID     `json:"user_id"`
	AudioSSRC uint32 `json:"audio_ssrc"`
	VideoSSRC uint32 `json:"video_ssrc"`
}

// ClientDisconnectEvent is op 13, announcing that another client left.
type ClientDisconnectEvent struct {
	UserID ID `json:"user_id"`
}
