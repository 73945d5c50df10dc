package voice

import (
	"context"

	"github.com/relaywire/voxgate/voice/voicegateway"
)

// GatewaySession is the subset of voicegateway.Gateway the handshake, the
// auxiliary loop, and the mixer depend on. *voicegateway.Gateway satisfies
// it structurally; tests substitute a scripted fake instead of dialing a
// real WebSocket.
type GatewaySession interface {
	Identify(ctx context.Context, guildID, userID voicegateway.ID, sessionID, token string) error
	SendSelectProtocol(ctx context.Context, address string, port uint16, mode string) error
	SendResume(ctx context.Context, guildID voicegateway.ID, sessionID, token string) error
	SendHeartbeat(ctx context.Context, nonce uint64) error
	SendSpeaking(ctx context.Context, speaking bool, ssrc uint32) error
	Listen() <-chan voicegateway.Event
	Close() error
}

var _ GatewaySession = (*voicegateway.Gateway)(nil)
