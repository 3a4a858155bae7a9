// Package rtmpconn implements the client connection state machine: resolve,
// connect, handshake, the connect/createStream/publish command sequence, and
// the steady-state producer/I-O loop that frames and sends audio/video/config
// messages once the stream is ready. The root package's rtmp.Open is a thin
// wrapper over Open here, the way cmd/deskcast keeps its flag parsing
// separate from main.
package rtmpconn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
	"github.com/arlobyte/rtmpcast/internal/logger"
	"github.com/arlobyte/rtmpcast/internal/ringbuf"
	"github.com/arlobyte/rtmpcast/internal/rtmpchunk"
	"github.com/arlobyte/rtmpcast/internal/rtmpcommand"
	"github.com/arlobyte/rtmpcast/internal/rtmpcontrol"
	"github.com/arlobyte/rtmpcast/internal/urlparse"
)

const (
	outgoingChunkSize    = 65536
	outgoingWindowAck    = 1 << 30
	outgoingHardLimit    = 2
	recvRingSize         = 1 << 16
	connectTimeout       = 10 * time.Second
	closeDrainGrace      = 250 * time.Millisecond
	handshakeReadTimeout = 10 * time.Second
	flashVerTag          = "FMLE/3.0 (compatible; rtmpcast)"
)

// Connection drives one published RTMP stream from dial through teardown.
// Fields above the blank line are guarded by mu and touched by producer
// goroutines (SendVideo/SendAudio/SendConfig/Close) as well as the worker;
// fields below it are worker-private, touched only by the goroutine spawned
// in Open.
type Connection struct {
	mu                 sync.Mutex
	st                 State
	sendRing           *ringbuf.Buffer
	writer             *rtmpchunk.Writer
	streamID           uint32
	coreErr            error
	lastVideoPresentMs int64
	lastAudioPresentMs int64
	configSent         bool

	conn              net.Conn
	recvRing          *ringbuf.Buffer
	reader            *rtmpchunk.Reader
	pendingCmds       []*rtmpchunk.Message
	receivedBytes     uint64
	bytesSinceAck     uint64
	peerWindowAckSize uint32

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// Open parses rawURL, allocates a send ring of at least sendCapacityBytes,
// and spawns the worker goroutine that dials, handshakes, and negotiates
// connect/createStream/publish(streamKey) before the connection becomes
// usable. Open itself never blocks on the network; callers poll IsStreaming
// or IsError, or simply start calling SendVideo/SendAudio (which return
// false until the stream is ready).
func Open(rawURL, streamKey string, sendCapacityBytes int) (*Connection, error) {
	target, err := urlparse.Parse(rawURL)
	if err != nil {
		return nil, protoerr.NewCoreError(protoerr.KindBadUrl, "open.parse_url", err)
	}

	sendRing, err := ringbuf.New(sendCapacityBytes)
	if err != nil {
		return nil, protoerr.NewCoreError(protoerr.KindInternalInvariant, "open.send_ring", err)
	}
	recvRing, err := ringbuf.New(recvRingSize)
	if err != nil {
		sendRing.Close()
		return nil, protoerr.NewCoreError(protoerr.KindInternalInvariant, "open.recv_ring", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		st:       StateNotConnected,
		sendRing: sendRing,
		writer:   rtmpchunk.NewWriter(128),
		recvRing: recvRing,
		reader:   rtmpchunk.NewReader(128),
		kick:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Logger().With("component", "rtmpconn", "stream_key", streamKey),
	}

	c.wg.Add(1)
	go c.run(target, streamKey)
	return c, nil
}

func (c *Connection) run(target *urlparse.Target, streamKey string) {
	defer c.wg.Done()

	if err := c.dial(target); err != nil {
		return
	}

	c.setState(StateHandshake)
	if err := c.handshake(); err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindTransport, "handshake", err))
		return
	}

	c.setState(StateStreamConnecting)
	if err := c.sendBootstrap(target); err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindTransport, "bootstrap", err))
		return
	}
	if err := c.negotiateCommandSequence(streamKey); err != nil {
		return
	}

	c.ioLoop()
}

func (c *Connection) dial(target *urlparse.Target) error {
	c.setState(StateResolving)
	host, port, err := net.SplitHostPort(target.Addr)
	if err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindBadUrl, "resolve.split_host_port", err))
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, connectTimeout)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindResolve, "resolve", err))
		return err
	}

	c.setState(StateConnecting)
	dialer := net.Dialer{Timeout: connectTimeout}
	var lastErr error
	for _, addr := range addrs {
		conn, dialErr := dialer.DialContext(c.ctx, "tcp", net.JoinHostPort(addr, port))
		if dialErr == nil {
			c.conn = conn
			return nil
		}
		lastErr = dialErr
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses resolved for %s", host)
	}
	c.fail(protoerr.NewCoreError(protoerr.KindConnect, "connect", lastErr))
	return lastErr
}

// handshake performs the C0/C1 → S0/S1/S2 → C2 exchange. C1 is sent as an
// all-zero timestamp+random field: the reference implementation this wire
// behavior is grounded on treats the random bytes as immaterial ("can be
// zero too") and never stamps a real clock value, unlike a server-facing
// handshake that tracks round-trip timing.
func (c *Connection) handshake() error {
	_ = c.conn.SetDeadline(time.Now().Add(handshakeReadTimeout))
	defer c.conn.SetDeadline(time.Time{})

	var c0c1 [1 + 1536]byte
	c0c1[0] = 0x03
	if err := writeFull(c.conn, c0c1[:]); err != nil {
		return err
	}

	var s0s1s2 [1 + 1536 + 1536]byte
	if _, err := io.ReadFull(c.conn, s0s1s2[:]); err != nil {
		return err
	}
	if s0s1s2[0] != 0x03 {
		return fmt.Errorf("unsupported handshake version 0x%02x", s0s1s2[0])
	}

	c2 := make([]byte, 1536)
	copy(c2, s0s1s2[1:1+1536])
	return writeFull(c.conn, c2)
}

func writeFull(w io.Writer, p []byte) error {
	_, err := w.Write(p)
	return err
}

// sendBootstrap writes the post-handshake control burst and the connect
// invocation directly to the socket, ahead of the steady-state send ring.
func (c *Connection) sendBootstrap(target *urlparse.Target) error {
	scs := rtmpcontrol.EncodeSetChunkSize(outgoingChunkSize)
	if err := c.writer.WriteMessage(c.conn, scs); err != nil {
		return err
	}
	c.writer.SetChunkSize(outgoingChunkSize)

	wak := rtmpcontrol.EncodeWindowAckSizeWithHardLimit(outgoingWindowAck, outgoingHardLimit)
	if err := c.writer.WriteMessage(c.conn, wak); err != nil {
		return err
	}

	connectMsg, err := rtmpcommand.EncodeConnect(target.App, target.TcURL, flashVerTag)
	if err != nil {
		return err
	}
	return c.writer.WriteMessage(c.conn, connectMsg)
}

// negotiateCommandSequence blocks on the socket (no pumps are running yet)
// until connect, createStream, and publish have each been answered, or a
// rejection/transport failure sets the connection to StateError.
func (c *Connection) negotiateCommandSequence(streamKey string) error {
	if err := c.awaitReply(rtmpcommand.TransactionConnect, "negotiate.connect"); err != nil {
		return err
	}

	c.setState(StateStreamCreating)
	csMsg, err := rtmpcommand.EncodeCreateStream()
	if err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindInternalInvariant, "negotiate.createstream.encode", err))
		return c.coreErr
	}
	if err := c.writer.WriteMessage(c.conn, csMsg); err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindTransport, "negotiate.createstream.write", err))
		return c.coreErr
	}
	reply, err := c.waitForReply(rtmpcommand.TransactionCreateStream, "negotiate.createstream")
	if err != nil {
		return err
	}
	streamID, err := rtmpcommand.CreateStreamID(reply)
	if err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindProtocolReject, "negotiate.createstream.streamid", err))
		return c.coreErr
	}
	c.streamID = streamID

	c.setState(StateStreamPublishing)
	pubMsg, err := rtmpcommand.EncodePublish(streamKey, streamID)
	if err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindInternalInvariant, "negotiate.publish.encode", err))
		return c.coreErr
	}
	if err := c.writer.WriteMessage(c.conn, pubMsg); err != nil {
		c.fail(protoerr.NewCoreError(protoerr.KindTransport, "negotiate.publish.write", err))
		return c.coreErr
	}

	for {
		m, err := c.waitForCommand()
		if err != nil {
			c.fail(protoerr.NewCoreError(protoerr.KindTransport, "negotiate.publish.read", err))
			return c.coreErr
		}
		status, err := rtmpcommand.ParseOnStatus(m)
		if err != nil {
			c.fail(protoerr.NewCoreError(protoerr.KindProtocolReject, "negotiate.publish.onstatus", err))
			return c.coreErr
		}
		if !rtmpcommand.IsPublishStart(status) {
			c.fail(protoerr.NewCoreError(protoerr.KindProtocolReject, "negotiate.publish.onstatus",
				fmt.Errorf("unexpected onStatus level=%q code=%q", status.Level, status.Code)))
			return c.coreErr
		}
		break
	}

	c.setState(StateStreamReady)
	return nil
}

// awaitReply drains replies until it sees txnID answered and discards it;
// callers that need the reply's values use waitForReply instead.
func (c *Connection) awaitReply(txnID float64, op string) error {
	_, err := c.waitForReply(txnID, op)
	return err
}

func (c *Connection) waitForReply(txnID float64, op string) (*rtmpcommand.Reply, error) {
	for {
		m, err := c.waitForCommand()
		if err != nil {
			c.fail(protoerr.NewCoreError(protoerr.KindTransport, op+".read", err))
			return nil, c.coreErr
		}
		reply, err := rtmpcommand.ParseReply(m)
		if err != nil || reply.TransactionID != txnID {
			continue
		}
		if reply.IsError {
			c.fail(protoerr.NewCoreError(protoerr.KindProtocolReject, op, fmt.Errorf("server returned _error")))
			return nil, c.coreErr
		}
		return reply, nil
	}
}

// waitForCommand blocks on the socket, reassembling inbound bytes, until a
// command message (AMF0 type 20) is available.
func (c *Connection) waitForCommand() (*rtmpchunk.Message, error) {
	buf := make([]byte, 4096)
	for len(c.pendingCmds) == 0 {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		if err := c.onBytesReceived(buf[:n]); err != nil {
			return nil, err
		}
	}
	m := c.pendingCmds[0]
	c.pendingCmds = c.pendingCmds[1:]
	return m, nil
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.st = s
	c.mu.Unlock()
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.st != StateError {
		c.st = StateError
		c.coreErr = err
	}
	c.mu.Unlock()
	c.log.Error("connection failed", "error", err)
	c.cancel()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// IsStreaming reports whether the connection has completed negotiation and
// can accept SendVideo/SendAudio/SendConfig calls.
func (c *Connection) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == StateStreamReady
}

// IsError reports whether the connection has entered the terminal Error
// state.
func (c *Connection) IsError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == StateError
}

// Err returns the terminal error, or nil if the connection has not failed.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coreErr
}

// StreamID returns the server-allocated NetStream id, valid once IsStreaming
// reports true.
func (c *Connection) StreamID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

// Close stages a best-effort deleteStream, gives it a short grace period to
// drain, then tears down the worker and blocks until it exits. Close never
// reports deleteStream delivery failure: by the time a caller is closing,
// any transport error is moot.
func (c *Connection) Close() {
	c.mu.Lock()
	ready := c.st == StateStreamReady
	streamID := c.streamID
	c.mu.Unlock()

	if ready {
		if msg, err := rtmpcommand.EncodeDeleteStream(streamID); err == nil {
			c.mu.Lock()
			if c.stageMessage(msg) {
				c.st = StateStreamDeleted
			}
			c.mu.Unlock()
			c.signalKick()
			select {
			case <-time.After(closeDrainGrace):
			case <-c.ctx.Done():
			}
		}
	}

	c.cancel()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.wg.Wait()
	c.sendRing.Close()
	c.recvRing.Close()
}
