package rtmpchunk

import (
	"encoding/binary"
	"errors"
	"fmt"

	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
)

// errNeedMore signals that buf does not yet contain a full header or a full
// chunk payload; Feed stops and leaves those bytes unconsumed.
var errNeedMore = errors.New("rtmpchunk: need more bytes")

// maxCSID bounds the chunk-stream-ids this connection will accept from a
// peer. The wire format itself permits csid up to 65599 via the 3-byte
// basic header form, but this connection only ever negotiates csid ∈
// {2,3,4,5}; anything above 63 from a peer is treated as malformed input
// rather than a legitimate but unused csid.
const maxCSID = 63

// Reader reassembles a byte stream of interleaved fmt=0/1/2/3 chunks into
// complete Messages. Unlike a blocking io.Reader-based dechunker, Feed never
// blocks: it consumes as many complete chunks as buf currently contains and
// reports how many bytes it used, leaving any trailing partial chunk for the
// next call once more bytes have arrived.
type Reader struct {
	chunkSize  uint32
	states     map[uint32]*streamState
	prevHeader map[uint32]*ChunkHeader
}

// NewReader creates a Reader with the given initial inbound chunk payload
// size (RTMP default 128 before negotiation).
func NewReader(chunkSize uint32) *Reader {
	if chunkSize == 0 {
		chunkSize = 128
	}
	return &Reader{
		chunkSize:  chunkSize,
		states:     make(map[uint32]*streamState),
		prevHeader: make(map[uint32]*ChunkHeader),
	}
}

// SetChunkSize overrides the inbound chunk payload size, applied to
// subsequently parsed chunks.
func (r *Reader) SetChunkSize(size uint32) {
	if size >= 1 && size <= 65536 {
		r.chunkSize = size
	}
}

// Feed parses as many complete messages as buf currently supports, in
// order, keyed across interleaved csids. It returns the messages found and
// the number of leading bytes of buf that were consumed; the caller (the
// ring buffer's read side) must only advance its read cursor by that many
// bytes, since the remainder may be a partial chunk awaiting more data.
func (r *Reader) Feed(buf []byte) ([]*Message, int, error) {
	var msgs []*Message
	pos := 0
	for {
		h, n, err := r.parseHeaderAt(buf[pos:])
		if err == errNeedMore {
			break
		}
		if err != nil {
			return msgs, pos, err
		}

		need, err := r.neededPayloadLen(h)
		if err != nil {
			return msgs, pos, err
		}
		readLen := need
		if readLen > r.chunkSize {
			readLen = r.chunkSize
		}
		if uint32(len(buf[pos+n:])) < readLen {
			break // header parsed, but payload isn't fully here yet: don't commit.
		}

		payload := buf[pos+n : pos+n+int(readLen)]
		st := r.states[h.CSID]
		if st == nil {
			st = &streamState{csid: h.CSID}
			r.states[h.CSID] = st
		}
		if err := st.applyHeader(h); err != nil {
			return msgs, pos, err
		}
		complete, msg, err := st.appendChunkData(payload)
		if err != nil {
			return msgs, pos, err
		}
		r.prevHeader[h.CSID] = h
		pos += n + int(readLen)
		if complete {
			r.maybeHandleControl(msg)
			msgs = append(msgs, msg)
		}
	}
	return msgs, pos, nil
}

// neededPayloadLen computes how many payload bytes the chunk just parsed by
// h must carry, without mutating any reader state — used to decide whether
// buf holds enough bytes to commit the chunk.
func (r *Reader) neededPayloadLen(h *ChunkHeader) (uint32, error) {
	if h.FMT != 3 {
		return h.MessageLength, nil
	}
	st := r.states[h.CSID]
	if st == nil || !st.inProgress {
		return 0, protoerr.NewChunkError("reader.need_payload", fmt.Errorf("fmt3 on csid %d without an active message", h.CSID))
	}
	return st.bytesRemaining(), nil
}

// parseHeaderAt parses one chunk header (basic + message header + extended
// timestamp, if present) starting at buf[0]. It reads r.prevHeader for
// fmt=1/2/3 field inheritance but does not mutate any reader state, so a
// caller can retry with a longer buf after errNeedMore without side effects.
func (r *Reader) parseHeaderAt(buf []byte) (*ChunkHeader, int, error) {
	if len(buf) < 1 {
		return nil, 0, errNeedMore
	}
	first := buf[0]
	fmtVal := first >> 6
	raw := first & 0x3F
	pos := 1
	var csid uint32
	switch raw {
	case 0:
		if len(buf) < pos+1 {
			return nil, 0, errNeedMore
		}
		csid = uint32(buf[pos]) + 64
		pos++
	case 1:
		if len(buf) < pos+2 {
			return nil, 0, errNeedMore
		}
		csid = uint32(buf[pos]) + 64 + uint32(buf[pos+1])<<8
		pos += 2
	default:
		csid = uint32(raw)
	}
	if csid > maxCSID {
		return nil, 0, protoerr.NewChunkError("reader.basic_header", fmt.Errorf("csid %d exceeds %d", csid, maxCSID))
	}

	h := &ChunkHeader{FMT: fmtVal, CSID: csid}
	switch fmtVal {
	case 0:
		if len(buf) < pos+11 {
			return nil, 0, errNeedMore
		}
		mh := buf[pos : pos+11]
		ts := readUint24(mh[0:3])
		h.MessageLength = readUint24(mh[3:6])
		h.MessageTypeID = mh[6]
		h.MessageStreamID = binary.LittleEndian.Uint32(mh[7:11])
		pos += 11
		h.Timestamp = ts
		if ts == extendedTimestampMarker {
			if len(buf) < pos+4 {
				return nil, 0, errNeedMore
			}
			val := binary.BigEndian.Uint32(buf[pos : pos+4])
			pos += 4
			h.HasExtendedTimestamp = true
			h.ExtendedTimestampValue = val
			h.Timestamp = val
		}
	case 1:
		if len(buf) < pos+7 {
			return nil, 0, errNeedMore
		}
		mh := buf[pos : pos+7]
		delta := readUint24(mh[0:3])
		h.Timestamp = delta
		h.IsDelta = true
		h.MessageLength = readUint24(mh[3:6])
		h.MessageTypeID = mh[6]
		pos += 7
		if prev := r.prevHeader[csid]; prev != nil {
			h.MessageStreamID = prev.MessageStreamID
		}
		if delta == extendedTimestampMarker {
			if len(buf) < pos+4 {
				return nil, 0, errNeedMore
			}
			val := binary.BigEndian.Uint32(buf[pos : pos+4])
			pos += 4
			h.HasExtendedTimestamp = true
			h.ExtendedTimestampValue = val
			h.Timestamp = val
		}
	case 2:
		if len(buf) < pos+3 {
			return nil, 0, errNeedMore
		}
		mh := buf[pos : pos+3]
		delta := readUint24(mh[0:3])
		h.Timestamp = delta
		h.IsDelta = true
		pos += 3
		if prev := r.prevHeader[csid]; prev != nil {
			h.MessageLength = prev.MessageLength
			h.MessageTypeID = prev.MessageTypeID
			h.MessageStreamID = prev.MessageStreamID
		}
		if delta == extendedTimestampMarker {
			if len(buf) < pos+4 {
				return nil, 0, errNeedMore
			}
			val := binary.BigEndian.Uint32(buf[pos : pos+4])
			pos += 4
			h.HasExtendedTimestamp = true
			h.ExtendedTimestampValue = val
			h.Timestamp = val
		}
	case 3:
		prev := r.prevHeader[csid]
		if prev == nil {
			return nil, 0, protoerr.NewChunkError("reader.message_header", fmt.Errorf("fmt3 without previous header on csid %d", csid))
		}
		*h = *prev
		h.FMT = 3
		if prev.HasExtendedTimestamp {
			if len(buf) < pos+4 {
				return nil, 0, errNeedMore
			}
			val := binary.BigEndian.Uint32(buf[pos : pos+4])
			pos += 4
			h.ExtendedTimestampValue = val
			h.Timestamp = val
		}
	}
	h.headerBytes = pos
	return h, pos, nil
}

// maybeHandleControl applies a Set Chunk Size (type id 1) control message
// to this reader's inbound chunk size the moment it is reassembled.
func (r *Reader) maybeHandleControl(msg *Message) {
	if msg == nil || msg.TypeID != 1 || msg.MessageStreamID != 0 || len(msg.Payload) < 4 {
		return
	}
	v := binary.BigEndian.Uint32(msg.Payload[:4])
	if v >= 1 && v <= 65536 {
		r.SetChunkSize(v)
	}
}
