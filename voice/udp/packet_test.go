package udp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], "this-is-a-32-byte-test-secret!!!")

	cases := []struct {
		name      string
		seq       uint16
		ts        uint32
		ssrc      uint32
		payload   []byte
	}{
		{"empty payload", 0, 0, 0, nil},
		{"silence frame", 65535, 4294967295, 99, SilenceFrame},
		{"opus-ish payload", 1234, 9999999, 42, bytes.Repeat([]byte{0xAB}, 200)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := BuildHeader(tc.seq, tc.ts, tc.ssrc)
			packet := SealMedia(&key, header, tc.payload)

			gotSeq, gotTS, gotSSRC, gotPayload, ok := OpenMedia(&key, packet)
			if !ok {
				t.Fatalf("OpenMedia failed to open a packet we just sealed")
			}
			if gotSeq != tc.seq || gotTS != tc.ts || gotSSRC != tc.ssrc {
				t.Fatalf("got (seq=%d ts=%d ssrc=%d), want (seq=%d ts=%d ssrc=%d)",
					gotSeq, gotTS, gotSSRC, tc.seq, tc.ts, tc.ssrc)
			}
			if !bytes.Equal(gotPayload, tc.payload) {
				t.Fatalf("payload mismatch: got %v want %v", gotPayload, tc.payload)
			}
		})
	}
}

func TestHeaderDoublesAsNoncePrefix(t *testing.T) {
	header := BuildHeader(7, 6720, 555)
	var key [32]byte
	packet := SealMedia(&key, header, []byte("hello"))

	nonce := HeaderNonce(header)

	if !bytes.Equal(packet[:HeaderLen], nonce[:HeaderLen]) {
		t.Fatalf("packet header bytes do not match nonce prefix")
	}
	if !bytes.Equal(packet[:HeaderLen], header[:]) {
		t.Fatalf("packet header bytes do not match built header")
	}
}

func TestOpenMediaRejectsTamperedTag(t *testing.T) {
	var key [32]byte
	header := BuildHeader(1, 960, 10)
	packet := SealMedia(&key, header, []byte("payload"))
	packet[len(packet)-1] ^= 0xFF

	if _, _, _, _, ok := OpenMedia(&key, packet); ok {
		t.Fatalf("expected OpenMedia to reject a tampered tag")
	}
}

func TestStripExtension(t *testing.T) {
	// One extension: id/len byte 0x10 (id=1, len nibble=0 -> 1 data byte),
	// followed by padding.
	payload := []byte{0xBE, 0xDE, 0x00, 0x01, 0x10, 0xAA, 0x00, 0x00, 'h', 'i'}
	got := stripExtension(payload)
	if !bytes.Equal(got, []byte("hi")) {
		t.Fatalf("stripExtension() = %v, want %q", got, "hi")
	}
}

func TestStripExtensionNoMarker(t *testing.T) {
	payload := []byte("plain opus data")
	if got := stripExtension(payload); !bytes.Equal(got, payload) {
		t.Fatalf("stripExtension() modified a payload with no extension marker")
	}
}

func TestDiscoveryRoundTrip(t *testing.T) {
	req := BuildDiscoveryRequest(0xDEADBEEF)
	if binary.BigEndian.Uint16(req[0:2]) != discoveryRequestType {
		t.Fatalf("request type mismatch")
	}

	var resp [discoveryPacketLen]byte
	binary.BigEndian.PutUint16(resp[0:2], discoveryResponseType)
	binary.BigEndian.PutUint16(resp[2:4], discoveryBodyLength)
	binary.BigEndian.PutUint32(resp[4:8], 0xDEADBEEF)
	copy(resp[8:], "192.0.2.17")
	binary.BigEndian.PutUint16(resp[72:74], 50000)

	ip, port, err := ParseDiscoveryResponse(resp[:])
	if err != nil {
		t.Fatalf("ParseDiscoveryResponse() error = %v", err)
	}
	if ip != "192.0.2.17" || port != 50000 {
		t.Fatalf("got (%q, %d), want (192.0.2.17, 50000)", ip, port)
	}
}

func TestDiscoveryResponseWrongType(t *testing.T) {
	var resp [discoveryPacketLen]byte
	binary.BigEndian.PutUint16(resp[0:2], discoveryRequestType) // wrong: request, not response
	binary.BigEndian.PutUint16(resp[2:4], discoveryBodyLength)

	if _, _, err := ParseDiscoveryResponse(resp[:]); err != ErrMalformedDiscoveryResponse {
		t.Fatalf("ParseDiscoveryResponse() error = %v, want ErrMalformedDiscoveryResponse", err)
	}
}

func TestDiscoveryResponseNoNullTerminator(t *testing.T) {
	var resp [discoveryPacketLen]byte
	binary.BigEndian.PutUint16(resp[0:2], discoveryResponseType)
	binary.BigEndian.PutUint16(resp[2:4], discoveryBodyLength)
	for i := 8; i < 72; i++ {
		resp[i] = 'a'
	}

	if _, _, err := ParseDiscoveryResponse(resp[:]); err != ErrMalformedDiscoveryAddress {
		t.Fatalf("ParseDiscoveryResponse() error = %v, want ErrMalformedDiscoveryAddress", err)
	}
}

func TestBuildKeepalive(t *testing.T) {
	b := BuildKeepalive(0x01020304)
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(b[:], want) {
		t.Fatalf("BuildKeepalive() = %v, want %v", b[:], want)
	}
}
