package rtmpchunk

import (
	"bytes"
	"errors"
	"testing"
)

func TestFeed_NeedsMoreLeavesBytesUnconsumed(t *testing.T) {
	w := NewWriter(128)
	msg := &Message{CSID: 3, TypeID: 20, Payload: []byte("hello")}
	var buf bytes.Buffer
	if err := w.WriteMessage(&buf, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	full := buf.Bytes()

	r := NewReader(128)
	// Feed everything but the last byte: the reader must report it needs
	// more and must not consume the truncated chunk.
	msgs, consumed, err := r.Feed(full[:len(full)-1])
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no complete messages yet, got %d", len(msgs))
	}
	if consumed != 0 {
		t.Fatalf("expected 0 bytes consumed while payload is incomplete, got %d", consumed)
	}

	// Now feed the whole thing: the message must reassemble with no
	// duplicated timestamp delta from the earlier partial attempt.
	msgs, consumed, err = r.Feed(full)
	if err != nil {
		t.Fatalf("feed full: %v", err)
	}
	if consumed != len(full) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(full), consumed)
	}
	if len(msgs) != 1 || string(msgs[0].Payload) != "hello" {
		t.Fatalf("unexpected reassembly result: %+v", msgs)
	}
}

func TestFeed_InterleavedCSIDs(t *testing.T) {
	w := NewWriter(4)
	videoMsg := &Message{CSID: 5, TypeID: 9, MessageStreamID: 1, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	audioMsg := &Message{CSID: 4, TypeID: 8, MessageStreamID: 1, Payload: []byte{9, 10, 11, 12, 13, 14}}

	var vbuf, abuf bytes.Buffer
	if err := w.WriteMessage(&vbuf, videoMsg); err != nil {
		t.Fatalf("write video: %v", err)
	}
	if err := w.WriteMessage(&abuf, audioMsg); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	// Interleave: first video chunk, first audio chunk, remaining video
	// chunks, remaining audio chunks — fmt=3 continuations for csid 5 must
	// not be confused with the unrelated in-flight message on csid 4.
	// Both messages are the first ever written on their csid, so both use a
	// 12-byte fmt0 header (1 basic + 11 message header) for the first
	// chunk; continuations use a 1-byte basic header (fmt3, csid < 64).
	vChunks := splitChunks(t, vbuf.Bytes(), 12+4, 4)
	aChunks := splitChunks(t, abuf.Bytes(), 12+4, 2)

	var stream bytes.Buffer
	stream.Write(vChunks[0])
	stream.Write(aChunks[0])
	for _, c := range vChunks[1:] {
		stream.Write(c)
	}
	for _, c := range aChunks[1:] {
		stream.Write(c)
	}

	r := NewReader(4)
	msgs, consumed, err := r.Feed(stream.Bytes())
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if consumed != stream.Len() {
		t.Fatalf("expected full consumption, got %d of %d", consumed, stream.Len())
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 reassembled messages, got %d", len(msgs))
	}
	byCSID := map[uint32]*Message{}
	for _, m := range msgs {
		byCSID[m.CSID] = m
	}
	if !bytes.Equal(byCSID[5].Payload, videoMsg.Payload) {
		t.Fatalf("video payload mismatch: got %v", byCSID[5].Payload)
	}
	if !bytes.Equal(byCSID[4].Payload, audioMsg.Payload) {
		t.Fatalf("audio payload mismatch: got %v", byCSID[4].Payload)
	}
}

// splitChunks splits a writer's output into its constituent wire chunks: a
// firstHeaderAndPayload-sized first chunk followed by basicHeaderLen+payload
// sized continuations, assuming a single-byte basic header throughout (csid
// < 64) as this framer always emits.
func splitChunks(t *testing.T, data []byte, firstLen int, contPayloadLen int) [][]byte {
	t.Helper()
	var out [][]byte
	out = append(out, data[:firstLen])
	rest := data[firstLen:]
	for len(rest) > 0 {
		n := 1 + contPayloadLen
		if n > len(rest) {
			n = len(rest)
		}
		out = append(out, rest[:n])
		rest = rest[n:]
	}
	return out
}

func TestFeed_RejectsCSIDAboveLimit(t *testing.T) {
	// Hand-build a minimal fmt0 header on an out-of-range 2-byte-form csid
	// (raw=0 -> csid = byte+64 = 64, already above the 63 ceiling).
	data := []byte{0x00, 0x00}
	data = append(data, make([]byte, 11)...) // fmt0 message header, zeroed
	r := NewReader(128)
	_, _, err := r.Feed(data)
	if err == nil {
		t.Fatal("expected error for csid above 63")
	}
}

func TestFeed_RejectsFmt3WithoutPriorHeader(t *testing.T) {
	// fmt=3, csid=5: (3<<6)|5 = 0xC5
	data := []byte{0xC5, 1, 2, 3, 4}
	r := NewReader(128)
	_, _, err := r.Feed(data)
	if err == nil {
		t.Fatal("expected error for fmt3 continuation without an active message")
	}
	var unwrappable interface{ Unwrap() error }
	if !errors.As(err, &unwrappable) {
		t.Fatalf("expected a wrapped ChunkError, got %v", err)
	}
}

func TestSetChunkSizeAppliedFromControlMessage(t *testing.T) {
	w := NewWriter(128)
	setChunkSize := &Message{CSID: 2, TypeID: 1, Payload: []byte{0, 0, 2, 0}} // 512
	var buf bytes.Buffer
	if err := w.WriteMessage(&buf, setChunkSize); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := NewReader(128)
	if _, _, err := r.Feed(buf.Bytes()); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if r.chunkSize != 512 {
		t.Fatalf("expected reader chunk size updated to 512, got %d", r.chunkSize)
	}
}
