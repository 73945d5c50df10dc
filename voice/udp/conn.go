package udp

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Dialer is the dialer used for all UDP dials in this package. It may be
// overridden in tests.
var Dialer = net.Dialer{Timeout: 10 * time.Second}

// Connection is a thin wrapper around a connected UDP socket. It holds no
// sequence/timestamp state of its own (the mixer owns that) and performs no
// NAT discovery itself; the handshake orchestrates discovery over Send/Recv
// using the BuildDiscoveryRequest/ParseDiscoveryResponse helpers in this
// package.
//
// Connection is split in spirit into a send half and a receive half per the
// concurrency model: the mixer task calls Send exclusively and the
// auxiliary task calls Recv exclusively, so neither method needs to
// synchronize against the other.
type Connection struct {
	conn net.Conn
}

// DialConnection binds an ephemeral local UDP socket and connects it to
// addr (host:port).
func DialConnection(ctx context.Context, addr string) (*Connection, error) {
	conn, err := Dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial UDP voice endpoint")
	}

	return &Connection{conn: conn}, nil
}

// Send writes a fully-built packet (as produced by SealMedia,
// BuildDiscoveryRequest, or BuildKeepalive) to the peer.
func (c *Connection) Send(b []byte) (int, error) {
	return c.conn.Write(b)
}

// Recv reads a single inbound UDP datagram into buf, returning the number of
// bytes read.
func (c *Connection) Recv(buf []byte) (int, error) {
	return c.conn.Read(buf)
}

// SetReadDeadline sets the read deadline used by Recv, primarily so the
// handshake can bound its wait for a single NAT-discovery response.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.conn.Close()
}
