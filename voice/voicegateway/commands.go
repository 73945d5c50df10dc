package voicegateway

import "context"

// IdentifyData is op 0, sent once right after the WebSocket connects for a
// brand new session.
type IdentifyData struct {
	GuildID   ID     `json:"server_id"` // yes, this is "server_id" on the wire
	UserID    ID     `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// Identify sends an Identify (op 0) frame.
func (g *Gateway) Identify(ctx context.Context, guildID, userID ID, sessionID, token string) error {
	return g.Send(ctx, IdentifyOP, IdentifyData{
		GuildID:   guildID,
		UserID:    userID,
		SessionID: sessionID,
		Token:     token,
	})
}

// SelectProtocolData is the "data" payload of a SelectProtocol frame.
type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SelectProtocol is op 1, telling the peer our discovered UDP address and
// the crypto mode we'll use.
type SelectProtocol struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

// SendSelectProtocol sends a SelectProtocol (op 1) frame.
func (g *Gateway) SendSelectProtocol(ctx context.Context, address string, port uint16, mode string) error {
	return g.Send(ctx, SelectProtocolOP, SelectProtocol{
		Protocol: "udp",
		Data: SelectProtocolData{
			Address: address,
			Port:    port,
			Mode:    mode,
		},
	})
}

// HeartbeatData is op 3: the nonce the peer must echo back in a
// HeartbeatAck.
type HeartbeatData struct {
	Nonce ID `json:"nonce"`
}

// SendHeartbeat sends a Heartbeat (op 3) frame carrying nonce.
func (g *Gateway) SendHeartbeat(ctx context.Context, nonce uint64) error {
	return g.Send(ctx, HeartbeatOP, HeartbeatData{Nonce: ID(nonce)})
}

// SpeakingData is op 5 as sent by us.
type SpeakingData struct {
	Speaking bool   `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}

// SendSpeaking sends a Speaking (op 5) frame announcing a speaking-state
// transition for ssrc.
func (g *Gateway) SendSpeaking(ctx context.Context, speaking bool, ssrc uint32) error {
	return g.Send(ctx, SpeakingOP, SpeakingData{
		Speaking: speaking,
		Delay:    0,
		SSRC:     ssrc,
	})
}

// ResumeData is op 7, sent once right after the WebSocket reconnects to
// recover a prior session without renegotiating the media key.
type ResumeData struct {
	GuildID   ID     `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// SendResume sends a Resume (op 7) frame.
func (g *Gateway) SendResume(ctx context.Context, guildID ID, sessionID, token string) error {
	return g.Send(ctx, ResumeOP, ResumeData{
		GuildID:   guildID,
		SessionID: sessionID,
		Token:     token,
	})
}
