// Package udp implements the wire codec and UDP transport for the voice
// media path: RTP-style media packets, NAT-discovery packets, keepalive
// packets, and their authenticated-symmetric-crypto sealing/opening.
//
// This package is deliberately stateless with respect to sequence numbers
// and timestamps: those belong to the mixer, which is the only task that
// advances them. Packet building here only ever embeds the values it is
// given.
package udp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

// HeaderLen is the size in bytes of the fixed media packet header, which
// also forms the first HeaderLen bytes of the 24-byte crypto nonce.
const HeaderLen = 12

// NonceLen is the size in bytes of the secretbox nonce.
const NonceLen = 24

// SilenceFrame is the literal Opus payload used to quiesce the jitter buffer
// before a speaking transition to false.
var SilenceFrame = []byte{0xF8, 0xFF, 0xFE}

// Sentinel errors for malformed wire data. Higher layers (voice.Connection's
// handshake) translate these into the package-level named error kinds.
var (
	ErrMalformedDiscoveryResponse = errors.New("udp: malformed NAT discovery response")
	ErrMalformedDiscoveryAddress  = errors.New("udp: NAT discovery address is not a NUL-terminated string")
)

// BuildHeader builds the 12-byte media packet header: version/flags byte
// 0x80, payload type byte 0x78, then sequence, timestamp, and SSRC in
// network byte order.
func BuildHeader(sequence uint16, timestamp uint32, ssrc uint32) [HeaderLen]byte {
	var h [HeaderLen]byte
	h[0] = 0x80
	h[1] = 0x78
	binary.BigEndian.PutUint16(h[2:4], sequence)
	binary.BigEndian.PutUint32(h[4:8], timestamp)
	binary.BigEndian.PutUint32(h[8:12], ssrc)
	return h
}

// HeaderNonce expands a 12-byte media packet header into the 24-byte nonce
// used to seal/open its payload: the header followed by 12 zero bytes.
func HeaderNonce(header [HeaderLen]byte) [NonceLen]byte {
	var nonce [NonceLen]byte
	copy(nonce[:HeaderLen], header[:])
	return nonce
}

// SealMedia builds a full media packet: the 12-byte header followed by the
// sealed (encrypted + authenticated) payload. The header doubles as the
// leading 12 bytes of the nonce.
func SealMedia(key *[32]byte, header [HeaderLen]byte, payload []byte) []byte {
	nonce := HeaderNonce(header)
	packet := make([]byte, 0, HeaderLen+len(payload)+secretbox.Overhead)
	packet = append(packet, header[:]...)
	return secretbox.Seal(packet, payload, &nonce, key)
}

// OpenMedia parses and decrypts an inbound media packet per the inbound
// parse rules: the nonce is built from the first HeaderLen bytes of the
// packet (including the leading 0x80 byte, which is part of the nonce but
// not of the extracted fields), while sequence/timestamp/SSRC are read
// starting two bytes in. Returns ok=false for any malformed nonce, tag, or
// truncated packet; callers MUST drop the packet silently in that case.
func OpenMedia(key *[32]byte, packet []byte) (sequence uint16, timestamp uint32, ssrc uint32, payload []byte, ok bool) {
	if len(packet) < HeaderLen {
		return 0, 0, 0, nil, false
	}

	var nonce [NonceLen]byte
	copy(nonce[:HeaderLen], packet[:HeaderLen])

	sequence = binary.BigEndian.Uint16(packet[2:4])
	timestamp = binary.BigEndian.Uint32(packet[4:8])
	ssrc = binary.BigEndian.Uint32(packet[8:12])

	opened, valid := secretbox.Open(nil, packet[HeaderLen:], &nonce, key)
	if !valid {
		return 0, 0, 0, nil, false
	}

	return sequence, timestamp, ssrc, stripExtension(opened), true
}

// stripExtension removes a leading RTP one-byte-header extension block
// (marked by the 0xBE 0xDE profile bytes) and any trailing zero padding, per
// the one-byte header extension format in RFC 3550/5285.
func stripExtension(payload []byte) []byte {
	if len(payload) < 4 || payload[0] != 0xBE || payload[1] != 0xDE {
		return payload
	}

	count := int(binary.BigEndian.Uint16(payload[2:4]))
	offset := 4

	for i := 0; i < count && offset < len(payload); i++ {
		b := payload[offset]
		offset++

		if b == 0 {
			// Padding byte within the extension block; no length to skip.
			continue
		}

		offset += 1 + int(b&0x0F)
	}

	for offset < len(payload) && payload[offset] == 0 {
		offset++
	}

	if offset > len(payload) {
		offset = len(payload)
	}

	return payload[offset:]
}

// discoveryRequestType and discoveryResponseType are the NAT-discovery
// packet type field values.
const (
	discoveryRequestType  = 1
	discoveryResponseType = 2
	discoveryBodyLength   = 70
	discoveryPacketLen    = 4 + discoveryBodyLength // type + length + body
)

// BuildDiscoveryRequest builds a NAT-discovery request packet: type=1,
// length=70, the given SSRC, a zeroed 64-byte address field, and a zeroed
// port.
func BuildDiscoveryRequest(ssrc uint32) [discoveryPacketLen]byte {
	var b [discoveryPacketLen]byte
	binary.BigEndian.PutUint16(b[0:2], discoveryRequestType)
	binary.BigEndian.PutUint16(b[2:4], discoveryBodyLength)
	binary.BigEndian.PutUint32(b[4:8], ssrc)
	// b[8:72] address field left zeroed; b[72:74] port left zeroed.
	return b
}

// ParseDiscoveryResponse parses a NAT-discovery response packet, returning
// the NUL-terminated ASCII address and the big-endian port. It fails with
// ErrMalformedDiscoveryResponse if the type or length fields don't match a
// response, and ErrMalformedDiscoveryAddress if the address field has no
// NUL terminator.
func ParseDiscoveryResponse(b []byte) (address string, port uint16, err error) {
	if len(b) != discoveryPacketLen {
		return "", 0, ErrMalformedDiscoveryResponse
	}

	typ := binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint16(b[2:4])
	if typ != discoveryResponseType || length != discoveryBodyLength {
		return "", 0, ErrMalformedDiscoveryResponse
	}

	addrField := b[8:72]

	nullPos := bytes.IndexByte(addrField, 0)
	if nullPos < 0 {
		return "", 0, ErrMalformedDiscoveryAddress
	}

	address = string(addrField[:nullPos])
	port = binary.BigEndian.Uint16(b[72:74])
	return address, port, nil
}

// BuildKeepalive builds a minimal UDP keepalive packet containing only the
// SSRC as a big-endian uint32.
func BuildKeepalive(ssrc uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ssrc)
	return b
}
