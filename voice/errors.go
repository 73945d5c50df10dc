package voice

import "github.com/pkg/errors"

// Error kinds. These are sentinel values, not types: callers branch with
// errors.Is against one of these, while the wrapped error chain (via
// github.com/pkg/errors) retains the underlying cause for logging.
var (
	// ErrEndpointURL is returned when a ConnectionInfo's endpoint does not
	// form a valid wss:// URL.
	ErrEndpointURL = errors.New("voice: invalid endpoint URL")

	// ErrExpectedHandshake is returned when an unexpected opcode arrives
	// during the Hello/Ready or Hello/Resumed wait.
	ErrExpectedHandshake = errors.New("voice: unexpected opcode during handshake")

	// ErrCryptoModeUnavailable is returned when the peer's Ready event does
	// not advertise the crypto mode this module speaks.
	ErrCryptoModeUnavailable = errors.New("voice: peer does not advertise our crypto mode")

	// ErrCryptoModeInvalid is returned when a SessionDescription names a
	// crypto mode other than the one we selected.
	ErrCryptoModeInvalid = errors.New("voice: session description crypto mode mismatch")

	// ErrIllegalDiscoveryResponse is returned when the NAT-discovery
	// response has the wrong type, the wrong length, or never arrives.
	ErrIllegalDiscoveryResponse = errors.New("voice: illegal NAT discovery response")

	// ErrIllegalIP is returned when a discovery response's address field is
	// not a NUL-terminated parseable IP.
	ErrIllegalIP = errors.New("voice: illegal IP address in discovery response")

	// ErrHostnameResolve is returned when the endpoint hostname fails DNS
	// resolution.
	ErrHostnameResolve = errors.New("voice: failed to resolve endpoint hostname")

	// ErrTransport is returned when a WS or UDP I/O operation fails.
	ErrTransport = errors.New("voice: transport error")

	// ErrSerde is returned on a JSON parse/serialize failure.
	ErrSerde = errors.New("voice: serialization error")

	// ErrOpus is returned on an Opus encoder/decoder failure.
	ErrOpus = errors.New("voice: opus codec error")

	// ErrInternalQueueClosed is returned when a peer task has exited and a
	// channel send/recv can no longer proceed.
	ErrInternalQueueClosed = errors.New("voice: internal queue closed")
)
