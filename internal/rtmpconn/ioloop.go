package rtmpconn

import (
	"fmt"

	"github.com/arlobyte/rtmpcast/internal/bufpool"
	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
	"github.com/arlobyte/rtmpcast/internal/rtmpchunk"
	"github.com/arlobyte/rtmpcast/internal/rtmpcontrol"
)

// ringWriter adapts a ringbuf.Buffer's write side to io.Writer, so the
// chunk-stream Writer can stage framed bytes directly into the send ring
// instead of an arbitrary destination.
type ringWriter struct{ ring interface {
	Free() uint64
	BeginWrite() []byte
	EndWrite(uint64) error
} }

func (rw ringWriter) Write(p []byte) (int, error) {
	if uint64(len(p)) > rw.ring.Free() {
		return 0, fmt.Errorf("rtmpconn: write exceeds free ring space")
	}
	dst := rw.ring.BeginWrite()
	n := copy(dst, p)
	if err := rw.ring.EndWrite(uint64(n)); err != nil {
		return 0, err
	}
	return n, nil
}

// stageMessage frames msg and writes it into the send ring if there is
// room, returning false (BackpressureDrop) without mutating writer state on
// failure. Callers hold c.mu.
func (c *Connection) stageMessage(msg *rtmpchunk.Message) bool {
	size, err := c.writer.EncodedSize(msg)
	if err != nil {
		c.log.Warn("drop message: encode size", "error", err)
		return false
	}
	if uint64(size) > c.sendRing.Free() {
		return false
	}
	if err := c.writer.WriteMessage(ringWriter{c.sendRing}, msg); err != nil {
		c.log.Warn("drop message: stage", "error", err)
		return false
	}
	return true
}

func (c *Connection) signalKick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

type readResult struct {
	n   int
	err error
}

// ioLoop is the steady-state event loop: a read pump and a write pump each
// run one blocking net.Conn call at a time, and this goroutine multiplexes
// their completions against producer kicks, mirroring how the connection's
// read/write loops never share a goroutine with the socket calls they wait
// on.
func (c *Connection) ioLoop() {
	recvBuf := bufpool.Get(4096)
	defer bufpool.Put(recvBuf)
	recvCh := make(chan readResult, 1)
	readReq := make(chan struct{}, 1)
	sendCh := make(chan []byte, 1)
	sendDoneCh := make(chan readResult, 1)

	c.wg.Add(2)
	go c.readPump(recvBuf, recvCh, readReq)
	go c.writePump(sendCh, sendDoneCh)

	readReq <- struct{}{}
	sending := false

	for {
		select {
		case <-c.ctx.Done():
			return
		case res := <-recvCh:
			if res.err != nil {
				c.fail(protoerr.NewCoreError(protoerr.KindTransport, "io.recv", res.err))
				return
			}
			if err := c.onBytesReceived(recvBuf[:res.n]); err != nil {
				c.fail(protoerr.NewCoreError(protoerr.KindInternalInvariant, "io.reassemble", err))
				return
			}
			select {
			case readReq <- struct{}{}:
			case <-c.ctx.Done():
				return
			}
		case res := <-sendDoneCh:
			sending = false
			if res.err != nil {
				c.fail(protoerr.NewCoreError(protoerr.KindTransport, "io.send", res.err))
				return
			}
			if err := c.sendRing.EndRead(uint64(res.n)); err != nil {
				c.fail(protoerr.NewCoreError(protoerr.KindInternalInvariant, "io.send.endread", err))
				return
			}
			if chunk := c.sendRing.BeginRead(); chunk != nil {
				sending = true
				sendCh <- chunk
			}
		case <-c.kick:
			if !sending {
				if chunk := c.sendRing.BeginRead(); chunk != nil {
					sending = true
					sendCh <- chunk
				}
			}
		}
	}
}

func (c *Connection) readPump(buf []byte, out chan<- readResult, req <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case _, ok := <-req:
			if !ok {
				return
			}
			n, err := c.conn.Read(buf)
			select {
			case out <- readResult{n: n, err: err}:
			case <-c.ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}
}

func (c *Connection) writePump(in <-chan []byte, out chan<- readResult) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data, ok := <-in:
			if !ok {
				return
			}
			n, err := c.conn.Write(data)
			select {
			case out <- readResult{n: n, err: err}:
			case <-c.ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// onBytesReceived copies data into the receive ring, reassembles complete
// messages, dispatches them, and emits an Acknowledgement once unacked
// bytes cross half the peer's advertised window.
func (c *Connection) onBytesReceived(data []byte) error {
	for len(data) > 0 {
		free := c.recvRing.Free()
		if free == 0 {
			return fmt.Errorf("rtmpconn: receive ring full")
		}
		dst := c.recvRing.BeginWrite()
		n := copy(dst, data)
		if uint64(n) > free {
			n = int(free)
		}
		if err := c.recvRing.EndWrite(uint64(n)); err != nil {
			return err
		}
		data = data[n:]
		c.receivedBytes += uint64(n)
		c.bytesSinceAck += uint64(n)
	}
	if err := c.drainReassembler(); err != nil {
		return err
	}
	c.maybeEmitAck()
	return nil
}

func (c *Connection) drainReassembler() error {
	for {
		buf := c.recvRing.BeginRead()
		if buf == nil {
			return nil
		}
		msgs, consumed, err := c.reader.Feed(buf)
		if err != nil {
			return err
		}
		if consumed > 0 {
			if err := c.recvRing.EndRead(uint64(consumed)); err != nil {
				return err
			}
		}
		for _, m := range msgs {
			c.handleInboundMessage(m)
		}
		if consumed == 0 {
			return nil
		}
	}
}

func (c *Connection) handleInboundMessage(m *rtmpchunk.Message) {
	switch m.TypeID {
	case rtmpcontrol.TypeWindowAcknowledgement:
		v, err := rtmpcontrol.Decode(m.TypeID, m.Payload)
		if err != nil {
			return
		}
		if w, ok := v.(*rtmpcontrol.WindowAcknowledgementSize); ok {
			c.peerWindowAckSize = w.Size
		}
	case rtmpcontrol.TypeSetPeerBandwidth:
		c.log.Debug("peer bandwidth advertised, ignoring")
	case rtmpcontrol.TypeAcknowledgement:
		// Peer acking bytes we sent; nothing to do.
	case commandMessageAMF0TypeID:
		c.pendingCmds = append(c.pendingCmds, m)
	default:
		c.log.Debug("unexpected inbound message, ignoring", "type_id", m.TypeID)
	}
}

func (c *Connection) maybeEmitAck() {
	if c.peerWindowAckSize == 0 {
		return
	}
	if c.bytesSinceAck <= uint64(c.peerWindowAckSize)/2 {
		return
	}
	ackMsg := rtmpcontrol.EncodeAcknowledgement(uint32(c.receivedBytes))
	c.mu.Lock()
	staged := c.stageMessage(ackMsg)
	c.mu.Unlock()
	if staged {
		c.bytesSinceAck = 0
		c.signalKick()
	}
}

// commandMessageAMF0TypeID mirrors rtmpcommand's unexported constant: AMF0
// command messages (NetConnection/NetStream invocations and their replies).
const commandMessageAMF0TypeID = 20
