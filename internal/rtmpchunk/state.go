package rtmpchunk

import (
	"fmt"

	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
)

// streamState holds rolling per-csid state needed to decode header-
// compressed chunks (fmt=1/2/3) and to reassemble a message's payload
// across however many chunks it was split into.
type streamState struct {
	csid            uint32
	lastTimestamp   uint32
	lastMsgLength   uint32
	lastMsgTypeID   uint8
	lastMsgStreamID uint32

	buffer        []byte
	bytesReceived uint32
	inProgress    bool
}

func (s *streamState) resetBuffer() {
	s.buffer = s.buffer[:0]
	s.bytesReceived = 0
	s.inProgress = false
}

// applyHeader commits a parsed header to the state: for fmt=0/1/2 it starts
// a new message (updating header-compression fields); for fmt=3 it only
// validates that a message is currently in progress.
func (s *streamState) applyHeader(h *ChunkHeader) error {
	if s.csid == 0 {
		s.csid = h.CSID
	}
	if s.csid != h.CSID {
		return protoerr.NewChunkError("state.apply_header", fmt.Errorf("csid mismatch: have %d want %d", s.csid, h.CSID))
	}
	switch h.FMT {
	case 0:
		s.lastTimestamp = h.Timestamp
		s.lastMsgLength = h.MessageLength
		s.lastMsgTypeID = h.MessageTypeID
		s.lastMsgStreamID = h.MessageStreamID
		s.resetBuffer()
		s.inProgress = true
	case 1:
		s.lastTimestamp += h.Timestamp
		s.lastMsgLength = h.MessageLength
		s.lastMsgTypeID = h.MessageTypeID
		s.lastMsgStreamID = h.MessageStreamID
		s.resetBuffer()
		s.inProgress = true
	case 2:
		if s.lastMsgLength == 0 {
			return protoerr.NewChunkError("state.apply_header", fmt.Errorf("fmt2 without prior state on csid %d", h.CSID))
		}
		s.lastTimestamp += h.Timestamp
		s.resetBuffer()
		s.inProgress = true
	case 3:
		if !s.inProgress || s.lastMsgLength == 0 {
			return protoerr.NewChunkError("state.apply_header", fmt.Errorf("fmt3 without active message on csid %d", h.CSID))
		}
	default:
		return protoerr.NewChunkError("state.apply_header", fmt.Errorf("unsupported fmt %d", h.FMT))
	}
	return nil
}

// appendChunkData appends payload bytes for the in-progress message,
// returning the reassembled Message once the declared length is reached.
func (s *streamState) appendChunkData(data []byte) (bool, *Message, error) {
	if !s.inProgress {
		return false, nil, protoerr.NewChunkError("state.append", fmt.Errorf("no active message on csid %d", s.csid))
	}
	if s.buffer == nil {
		capHint := s.lastMsgLength
		if capHint == 0 {
			capHint = uint32(len(data))
		}
		s.buffer = make([]byte, 0, capHint)
	}
	if s.bytesReceived+uint32(len(data)) > s.lastMsgLength {
		return false, nil, protoerr.NewChunkError("state.append", fmt.Errorf("overflow on csid %d: have %d + %d > %d", s.csid, s.bytesReceived, len(data), s.lastMsgLength))
	}
	s.buffer = append(s.buffer, data...)
	s.bytesReceived += uint32(len(data))
	if s.bytesReceived == s.lastMsgLength {
		msg := &Message{
			CSID:            s.csid,
			Timestamp:       s.lastTimestamp,
			MessageLength:   s.lastMsgLength,
			TypeID:          s.lastMsgTypeID,
			MessageStreamID: s.lastMsgStreamID,
			Payload:         append([]byte(nil), s.buffer...),
		}
		s.resetBuffer()
		return true, msg, nil
	}
	return false, nil, nil
}

// bytesRemaining returns how many more payload bytes the in-progress
// message needs, or 0 if none is in progress.
func (s *streamState) bytesRemaining() uint32 {
	if !s.inProgress || s.bytesReceived >= s.lastMsgLength {
		return 0
	}
	return s.lastMsgLength - s.bytesReceived
}
