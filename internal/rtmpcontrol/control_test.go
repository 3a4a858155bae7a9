package rtmpcontrol

import "testing"

func TestEncodeDecodeSetChunkSize(t *testing.T) {
	msg := EncodeSetChunkSize(65536)
	if msg.CSID != controlCSID || msg.TypeID != TypeSetChunkSize || msg.MessageStreamID != 0 {
		t.Fatalf("unexpected control message shape: %+v", msg)
	}
	v, err := Decode(msg.TypeID, msg.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	scs, ok := v.(*SetChunkSize)
	if !ok || scs.Size != 65536 {
		t.Fatalf("unexpected decode: %#v", v)
	}
}

func TestEncodeDecodeAcknowledgement(t *testing.T) {
	msg := EncodeAcknowledgement(500_001)
	v, err := Decode(msg.TypeID, msg.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ack, ok := v.(*Acknowledgement)
	if !ok || ack.SequenceNumber != 500_001 {
		t.Fatalf("unexpected decode: %#v", v)
	}
}

// TestWindowAckSizeWithHardLimit_WireShape pins the non-canonical 5-byte
// payload this client sends after the handshake: a 4-byte ack size
// immediately followed by a 1-byte hard-limit-type, under the same message
// type id (5) canonical RTMP reserves for a 4-byte-only payload.
func TestWindowAckSizeWithHardLimit_WireShape(t *testing.T) {
	msg := EncodeWindowAckSizeWithHardLimit(1<<30, 2)
	if msg.TypeID != TypeWindowAcknowledgement {
		t.Fatalf("expected type id %d, got %d", TypeWindowAcknowledgement, msg.TypeID)
	}
	if len(msg.Payload) != 5 {
		t.Fatalf("expected 5-byte payload, got %d", len(msg.Payload))
	}
	if msg.Payload[4] != 2 {
		t.Fatalf("expected trailing hard-limit-type byte 2, got %d", msg.Payload[4])
	}
	// A compliant decoder expecting the canonical 4-byte form must reject
	// this payload outright rather than silently accept or truncate it.
	if _, err := Decode(TypeWindowAcknowledgement, msg.Payload); err == nil {
		t.Fatal("expected canonical decode to reject a 5-byte window-ack-size payload")
	}
}

func TestDecodeSetPeerBandwidth(t *testing.T) {
	payload := []byte{0x00, 0x26, 0x25, 0xA0, 0x02}
	v, err := Decode(TypeSetPeerBandwidth, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	spb, ok := v.(*SetPeerBandwidth)
	if !ok || spb.Bandwidth != 2_500_000 || spb.LimitType != 2 {
		t.Fatalf("unexpected decode: %#v", v)
	}
}

func TestDecode_RejectsUnsupportedType(t *testing.T) {
	if _, err := Decode(99, []byte{0x00}); err == nil {
		t.Fatal("expected error for unsupported control type")
	}
}

func TestDecode_RejectsMalformedSetChunkSize(t *testing.T) {
	cases := [][]byte{
		{0x00, 0x00, 0x10},                   // wrong length
		{0x00, 0x00, 0x00, 0x00},             // zero
		{0x80, 0x00, 0x00, 0x01},             // high bit set
	}
	for _, c := range cases {
		if _, err := Decode(TypeSetChunkSize, c); err == nil {
			t.Fatalf("expected error for payload % X", c)
		}
	}
}
