package rtmpchunk

import (
	"encoding/binary"
	"fmt"
)

// extendedTimestampMarker is the sentinel timestamp/delta value (2^24 - 1)
// that signals a following 4-byte extended timestamp field.
const extendedTimestampMarker = 0xFFFFFF

// maxMessageLength is the largest message length this framer will encode or
// accept: 16 MiB - 1, the ceiling of the 3-byte message length field.
const maxMessageLength = 1<<24 - 1

// ChunkHeader is a parsed or to-be-encoded chunk header, excluding the
// chunk's payload bytes.
type ChunkHeader struct {
	FMT                    uint8
	CSID                   uint32
	Timestamp              uint32 // absolute (fmt0) or delta (fmt1/2), or inherited (fmt3)
	MessageLength          uint32
	MessageTypeID          uint8
	MessageStreamID        uint32
	HasExtendedTimestamp   bool
	ExtendedTimestampValue uint32
	IsDelta                bool
	headerBytes            int
}

// HeaderBytes returns the number of bytes this header occupied on the wire
// (basic header + message header + extended timestamp, if any).
func (h *ChunkHeader) HeaderBytes() int { return h.headerBytes }

func readUint24(b []byte) uint32 { return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]) }

func writeUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// encodeBasicHeader appends the 1-3 byte basic header for fmt/csid to dst.
func encodeBasicHeader(dst []byte, fmtVal uint8, csid uint32) ([]byte, error) {
	if fmtVal > 3 {
		return nil, fmt.Errorf("invalid fmt %d", fmtVal)
	}
	switch {
	case csid >= 2 && csid <= 63:
		dst = append(dst, byte(fmtVal<<6)|byte(csid))
	case csid >= 64 && csid <= 319:
		dst = append(dst, byte(fmtVal<<6), byte(csid-64))
	case csid >= 320 && csid <= 65599:
		val := csid - 64
		dst = append(dst, byte(fmtVal<<6)|1, byte(val&0xFF), byte(val>>8))
	default:
		return nil, fmt.Errorf("csid %d out of encodable range", csid)
	}
	return dst, nil
}

// EncodeChunkHeader serializes h (basic + message header, no payload) for
// fmt 0, 1 or 3; fmt=3 emits the basic header only. A timestamp/delta at or
// above the extended-timestamp marker is rejected, never encoded.
func EncodeChunkHeader(h *ChunkHeader) ([]byte, error) {
	buf := make([]byte, 0, 1+11+4)
	buf, err := encodeBasicHeader(buf, h.FMT, h.CSID)
	if err != nil {
		return nil, err
	}

	if h.Timestamp >= extendedTimestampMarker {
		return nil, fmt.Errorf("rtmpchunk: timestamp/delta %d requires extended-timestamp form, never emitted", h.Timestamp)
	}

	switch h.FMT {
	case 0:
		mh := make([]byte, 11)
		writeUint24(mh[0:3], h.Timestamp)
		writeUint24(mh[3:6], h.MessageLength)
		mh[6] = h.MessageTypeID
		binary.LittleEndian.PutUint32(mh[7:11], h.MessageStreamID)
		buf = append(buf, mh...)
	case 1:
		mh := make([]byte, 7)
		writeUint24(mh[0:3], h.Timestamp)
		writeUint24(mh[3:6], h.MessageLength)
		mh[6] = h.MessageTypeID
		buf = append(buf, mh...)
	case 3:
		// no message header bytes.
	default:
		return nil, fmt.Errorf("rtmpchunk: outgoing fmt %d not supported", h.FMT)
	}
	return buf, nil
}
