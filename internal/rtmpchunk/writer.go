package rtmpchunk

import (
	"fmt"
	"io"

	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
)

const (
	fmt0 = 0
	fmt1 = 1
	fmt3 = 3
)

// controlCsid and commandCsid always encode fmt=0 (their timestamp is
// always zero), per the distilled framing rule: "fmt=0 ... used for all
// control messages and initial commands". Audio/video csids bootstrap with
// fmt=0 on first use, then switch to fmt=1 once a stream id is established.
const (
	controlCsid = 2
	commandCsid = 3
)

// Writer fragments outbound Messages into fmt=0/1 chunks plus fmt=3
// continuations. Not concurrency-safe; callers serialize access (the root
// connection does so via its producer lock).
type Writer struct {
	chunkSize   uint32
	lastHeaders map[uint32]*ChunkHeader
}

// NewWriter creates a Writer with the given outgoing chunk payload size.
func NewWriter(chunkSize uint32) *Writer {
	if chunkSize == 0 {
		chunkSize = 128
	}
	return &Writer{chunkSize: chunkSize, lastHeaders: make(map[uint32]*ChunkHeader)}
}

// SetChunkSize updates the outgoing chunk payload size.
func (w *Writer) SetChunkSize(size uint32) {
	if size >= 1 && size <= 65536 {
		w.chunkSize = size
	}
}

func validateCSID(csid uint32) error {
	switch csid {
	case 2, 3, 4, 5:
		return nil
	default:
		return fmt.Errorf("csid %d not in {2,3,4,5}", csid)
	}
}

// selectFmt picks fmt=0 for the control/command channels (always absolute,
// zero timestamp) or for the first message ever written on a csid, and
// fmt=1 otherwise (established audio/video stream, delta timestamp).
func (w *Writer) selectFmt(msg *Message) (uint8, uint32, *ChunkHeader) {
	prev := w.lastHeaders[msg.CSID]
	if msg.CSID == controlCsid || msg.CSID == commandCsid || prev == nil {
		return fmt0, msg.Timestamp, prev
	}
	return fmt1, msg.Timestamp - prev.Timestamp, prev
}

// planChunks returns the fmt/timestamp-field pair for the first chunk and
// the number of fmt=3 continuation chunks the message requires, without
// writing anything or mutating writer state.
func (w *Writer) planChunks(msg *Message) (firstFmt uint8, tsField uint32, numContinuations int, err error) {
	if err = validateCSID(msg.CSID); err != nil {
		return 0, 0, 0, protoerr.NewChunkError("writer.plan", err)
	}
	if uint32(len(msg.Payload)) > maxMessageLength {
		return 0, 0, 0, protoerr.NewChunkError("writer.plan", fmt.Errorf("message length %d exceeds %d", len(msg.Payload), maxMessageLength))
	}
	firstFmt, tsField, _ = w.selectFmt(msg)
	if tsField >= extendedTimestampMarker {
		return 0, 0, 0, protoerr.NewChunkError("writer.plan", fmt.Errorf("timestamp delta %d is at or above %d, extended form not supported", tsField, extendedTimestampMarker))
	}
	cs := w.chunkSize
	first := cs
	if uint32(len(msg.Payload)) < first {
		first = uint32(len(msg.Payload))
	}
	remaining := uint32(len(msg.Payload)) - first
	numContinuations = 0
	for remaining > 0 {
		step := cs
		if remaining < step {
			step = remaining
		}
		remaining -= step
		numContinuations++
	}
	return firstFmt, tsField, numContinuations, nil
}

// EncodedSize returns the exact number of bytes WriteMessage would write for
// msg, without mutating any writer state — callers use this to check
// available ring space before committing to the write.
func (w *Writer) EncodedSize(msg *Message) (int, error) {
	firstFmt, _, numContinuations, err := w.planChunks(msg)
	if err != nil {
		return 0, err
	}
	basicLen := 1
	if msg.CSID >= 64 {
		basicLen = 2
	}
	firstHeaderLen := basicLen
	if firstFmt == fmt0 {
		firstHeaderLen += 11
	} else {
		firstHeaderLen += 7
	}
	contHeaderLen := basicLen // fmt=3 carries the basic header only
	return firstHeaderLen + contHeaderLen*numContinuations + len(msg.Payload), nil
}

// WriteMessage fragments msg into fmt=0/1 + fmt=3 chunks and writes them to
// w. The caller must have already confirmed (via EncodedSize) that the
// destination has room; WriteMessage itself performs a single best-effort
// sequence of io.Writer.Write calls and does not roll back partial writes
// on error.
func (w *Writer) WriteMessage(dst io.Writer, msg *Message) error {
	if msg.MessageLength == 0 {
		msg.MessageLength = uint32(len(msg.Payload))
	}
	if int(msg.MessageLength) != len(msg.Payload) {
		return protoerr.NewChunkError("writer.write", fmt.Errorf("payload length %d != declared %d", len(msg.Payload), msg.MessageLength))
	}
	firstFmt, tsField, _, err := w.planChunks(msg)
	if err != nil {
		return err
	}
	cs := w.chunkSize

	first := &ChunkHeader{
		FMT:             firstFmt,
		CSID:            msg.CSID,
		Timestamp:       tsField,
		MessageLength:   msg.MessageLength,
		MessageTypeID:   msg.TypeID,
		MessageStreamID: msg.MessageStreamID,
	}
	hdr, err := EncodeChunkHeader(first)
	if err != nil {
		return protoerr.NewChunkError("writer.encode_first", err)
	}
	firstLen := uint32(len(msg.Payload))
	if firstLen > cs {
		firstLen = cs
	}
	if err := writeChunk(dst, hdr, msg.Payload[:firstLen]); err != nil {
		return protoerr.NewChunkError("writer.write_first", err)
	}

	w.lastHeaders[msg.CSID] = &ChunkHeader{
		FMT:             firstFmt,
		CSID:            msg.CSID,
		Timestamp:       msg.Timestamp,
		MessageLength:   msg.MessageLength,
		MessageTypeID:   msg.TypeID,
		MessageStreamID: msg.MessageStreamID,
	}

	written := firstLen
	contHdr, err := EncodeChunkHeader(&ChunkHeader{FMT: fmt3, CSID: msg.CSID})
	if err != nil {
		return protoerr.NewChunkError("writer.encode_continuation", err)
	}
	for written < uint32(len(msg.Payload)) {
		remain := uint32(len(msg.Payload)) - written
		sz := remain
		if sz > cs {
			sz = cs
		}
		if err := writeChunk(dst, contHdr, msg.Payload[written:written+sz]); err != nil {
			return protoerr.NewChunkError("writer.write_continuation", err)
		}
		written += sz
	}
	return nil
}

func writeChunk(dst io.Writer, header, payload []byte) error {
	buf := make([]byte, 0, len(header)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	_, err := dst.Write(buf)
	return err
}
