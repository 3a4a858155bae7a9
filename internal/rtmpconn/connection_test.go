package rtmpconn

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/arlobyte/rtmpcast/internal/amf0"
	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
	"github.com/arlobyte/rtmpcast/internal/flvtag"
	"github.com/arlobyte/rtmpcast/internal/logger"
	"github.com/arlobyte/rtmpcast/internal/ringbuf"
	"github.com/arlobyte/rtmpcast/internal/rtmpchunk"
)

// newReadyTestConnection builds a Connection already in StateStreamReady,
// bypassing Open/dial entirely, to exercise producer-side staging logic
// without a real socket.
func newReadyTestConnection(t *testing.T, ringSize int) *Connection {
	t.Helper()
	ring, err := ringbuf.New(ringSize)
	if err != nil {
		t.Fatalf("ringbuf.New: %v", err)
	}
	return &Connection{
		st:       StateStreamReady,
		sendRing: ring,
		writer:   rtmpchunk.NewWriter(65536),
		streamID: 1,
		kick:     make(chan struct{}, 1),
		log:      logger.Logger(),
	}
}

// fakeServerHandshake performs the server side of the zeroed handshake this
// client speaks: read C0+C1, write an all-zero S0+S1+S2, read C2.
func fakeServerHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	var c0c1 [1 + 1536]byte
	if _, err := io.ReadFull(conn, c0c1[:]); err != nil {
		t.Fatalf("read c0c1: %v", err)
	}
	var s0s1s2 [1 + 1536 + 1536]byte
	s0s1s2[0] = 0x03
	if _, err := conn.Write(s0s1s2[:]); err != nil {
		t.Fatalf("write s0s1s2: %v", err)
	}
	var c2 [1536]byte
	if _, err := io.ReadFull(conn, c2[:]); err != nil {
		t.Fatalf("read c2: %v", err)
	}
}

// fakeServerReadMessage blocks until the reassembler produces one message.
func fakeServerReadMessage(t *testing.T, conn net.Conn, reader *rtmpchunk.Reader, pending *[]byte) *rtmpchunk.Message {
	t.Helper()
	buf := make([]byte, 4096)
	for {
		msgs, consumed, err := reader.Feed(*pending)
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		*pending = (*pending)[consumed:]
		if len(msgs) > 0 {
			return msgs[0]
		}
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		*pending = append(*pending, buf[:n]...)
	}
}

func fakeServerWriteCommand(t *testing.T, conn net.Conn, writer *rtmpchunk.Writer, msid uint32, values ...interface{}) {
	t.Helper()
	payload, err := amf0.EncodeAll(values...)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := &rtmpchunk.Message{CSID: 3, TypeID: 20, MessageStreamID: msid, Payload: payload}
	if err := writer.WriteMessage(conn, msg); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func listenerAddrURL(t *testing.T, ln net.Listener, app string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	return "rtmp://127.0.0.1:" + port + "/" + app
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpen_HappyPathReachesStreamReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fakeServerHandshake(t, conn)

		reader := rtmpchunk.NewReader(128)
		writer := rtmpchunk.NewWriter(128)
		var pending []byte

		connectMsg := fakeServerReadMessage(t, conn, reader, &pending)
		vals, err := amf0.DecodeAll(connectMsg.Payload)
		if err != nil || vals[0] != "connect" {
			t.Errorf("expected connect command, got %#v err=%v", vals, err)
			return
		}
		fakeServerWriteCommand(t, conn, writer, 0, "_result", vals[1], map[string]interface{}{}, map[string]interface{}{"level": "status"})

		csMsg := fakeServerReadMessage(t, conn, reader, &pending)
		vals, err = amf0.DecodeAll(csMsg.Payload)
		if err != nil || vals[0] != "createStream" {
			t.Errorf("expected createStream, got %#v err=%v", vals, err)
			return
		}
		fakeServerWriteCommand(t, conn, writer, 0, "_result", vals[1], nil, float64(1))

		pubMsg := fakeServerReadMessage(t, conn, reader, &pending)
		vals, err = amf0.DecodeAll(pubMsg.Payload)
		if err != nil || vals[0] != "publish" || vals[3] != "mykey" {
			t.Errorf("expected publish mykey, got %#v err=%v", vals, err)
			return
		}
		fakeServerWriteCommand(t, conn, writer, 1, "onStatus", float64(0), nil, map[string]interface{}{
			"level": "status",
			"code":  "NetStream.Publish.Start",
		})

		// Keep the connection open long enough to observe a video frame.
		fakeServerReadMessage(t, conn, reader, &pending)
	}()

	url := listenerAddrURL(t, ln, "live")
	c, err := Open(url, "mykey", 64*1024)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	waitFor(t, c.IsStreaming, 2*time.Second, "stream ready")
	if c.IsError() {
		t.Fatalf("unexpected error: %v", c.Err())
	}
	if c.StreamID() != 1 {
		t.Fatalf("expected stream id 1, got %d", c.StreamID())
	}

	if !c.SendVideo(0, 0, 1000, []byte{0xAA, 0xBB}, true) {
		t.Fatal("expected SendVideo to stage successfully once ready")
	}

	<-serverDone
}

func TestOpen_ConnectRejectedIsProtocolReject(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fakeServerHandshake(t, conn)

		reader := rtmpchunk.NewReader(128)
		writer := rtmpchunk.NewWriter(128)
		var pending []byte

		connectMsg := fakeServerReadMessage(t, conn, reader, &pending)
		vals, _ := amf0.DecodeAll(connectMsg.Payload)
		fakeServerWriteCommand(t, conn, writer, 0, "_error", vals[1], nil, map[string]interface{}{
			"code": "NetConnection.Connect.Rejected",
		})
		// Give the client time to observe the error before we close.
		time.Sleep(100 * time.Millisecond)
	}()

	url := listenerAddrURL(t, ln, "live")
	c, err := Open(url, "mykey", 64*1024)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	waitFor(t, c.IsError, 2*time.Second, "connection error")
	if c.IsStreaming() {
		t.Fatal("expected not streaming after connect rejection")
	}
	if kind, ok := protoerr.KindOf(c.Err()); !ok || kind != protoerr.KindProtocolReject {
		t.Fatalf("expected KindProtocolReject, got %v (ok=%v), err=%v", kind, ok, c.Err())
	}
}

func TestOpen_BadUrlRejectedSynchronously(t *testing.T) {
	if _, err := Open("http://example.com/live", "key", 1024); err == nil {
		t.Fatal("expected error for non-rtmp scheme")
	}
}

func TestSendVideo_BackpressureDropsWhenRingFull(t *testing.T) {
	c := newReadyTestConnection(t, 64*1024)
	frame := make([]byte, 40*1024)

	if !c.SendVideo(0, 0, 1000, frame, true) {
		t.Fatal("expected first 40KiB frame to fit in a 64KiB ring")
	}
	if c.SendVideo(1, 1, 1000, frame, true) {
		t.Fatal("expected second 40KiB frame to be dropped (BackpressureDrop)")
	}
}

func TestSendVideo_RejectsWhenNotReady(t *testing.T) {
	c := newReadyTestConnection(t, 64*1024)
	c.st = StateStreamConnecting
	if c.SendVideo(0, 0, 1000, []byte{1, 2, 3}, true) {
		t.Fatal("expected SendVideo to reject before StreamReady")
	}
}

func TestSendConfig_OnlyAppliesOnce(t *testing.T) {
	c := newReadyTestConnection(t, 64*1024)
	video := &flvtag.VideoConfig{Width: 1280, Height: 720, DecoderConfigRecord: []byte{1, 2, 3}}
	if !c.SendConfig("rtmpcast", video, nil) {
		t.Fatal("expected first SendConfig to succeed")
	}
	if c.SendConfig("rtmpcast", video, nil) {
		t.Fatal("expected second SendConfig to be a no-op")
	}
}

func TestSendVideo_DeltaTimestampIsMonotonic(t *testing.T) {
	c := newReadyTestConnection(t, 64*1024)
	if !c.SendVideo(100, 100, 1000, []byte{1}, true) {
		t.Fatal("expected first frame at 100ms to stage")
	}
	if !c.SendVideo(133, 133, 1000, []byte{2}, false) {
		t.Fatal("expected second frame at 133ms to stage")
	}
	if c.lastVideoPresentMs != 133 {
		t.Fatalf("expected lastVideoPresentMs=133, got %d", c.lastVideoPresentMs)
	}
	// The first frame is a fmt0 chunk (1+11 header bytes, 5+1 payload bytes);
	// the second is a fmt1 chunk on csid 5 whose timestamp field is the delta.
	staged := c.sendRing.BeginRead()
	second := staged[1+11+6:]
	if second[0] != (1<<6)|videoCSID {
		t.Fatalf("expected fmt1/csid5 basic header byte, got 0x%02x", second[0])
	}
	if delta := uint32(second[1])<<16 | uint32(second[2])<<8 | uint32(second[3]); delta != 33 {
		t.Fatalf("expected timestamp delta 33, got %d", delta)
	}
}
