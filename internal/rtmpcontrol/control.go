// Package rtmpcontrol encodes and decodes the protocol control messages
// carried on chunk-stream id 2: Set Chunk Size, Acknowledgement, Window
// Acknowledgement Size, and Set Peer Bandwidth. User Control (type 4) and
// Abort Message (type 2) are outside this connection's wire constants and
// are not handled here.
package rtmpcontrol

import (
	"encoding/binary"
	"fmt"

	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
	"github.com/arlobyte/rtmpcast/internal/rtmpchunk"
)

// Protocol control message type ids.
const (
	TypeSetChunkSize          uint8 = 1
	TypeAcknowledgement       uint8 = 3
	TypeWindowAcknowledgement uint8 = 5
	TypeSetPeerBandwidth      uint8 = 6
)

const controlCSID = 2

// SetChunkSize is a decoded Type 1 message.
type SetChunkSize struct{ Size uint32 }

// Acknowledgement is a decoded Type 3 message.
type Acknowledgement struct{ SequenceNumber uint32 }

// WindowAcknowledgementSize is a decoded Type 5 message, accepted in its
// canonical 4-byte form (what a compliant RTMP server sends).
type WindowAcknowledgementSize struct{ Size uint32 }

// SetPeerBandwidth is a decoded Type 6 message. The connection logs and
// otherwise ignores it, per the distilled control-handling rule.
type SetPeerBandwidth struct {
	Bandwidth uint32
	LimitType uint8
}

func newControlMessage(typeID uint8, payload []byte) *rtmpchunk.Message {
	return &rtmpchunk.Message{
		CSID:            controlCSID,
		Timestamp:       0,
		MessageLength:   uint32(len(payload)),
		TypeID:          typeID,
		MessageStreamID: 0,
		Payload:         payload,
	}
}

// EncodeSetChunkSize builds a Type 1 Set Chunk Size control message.
func EncodeSetChunkSize(size uint32) *rtmpchunk.Message {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], size)
	return newControlMessage(TypeSetChunkSize, p[:])
}

// EncodeAcknowledgement builds a Type 3 Acknowledgement control message
// carrying the low 32 bits of the total received-byte counter.
func EncodeAcknowledgement(totalReceived uint32) *rtmpchunk.Message {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], totalReceived)
	return newControlMessage(TypeAcknowledgement, p[:])
}

// EncodeWindowAckSizeWithHardLimit builds the post-handshake "WindowAckSize"
// message this client actually sends: a 5-byte payload folding a trailing
// hard-limit-type byte into message type id 5, rather than the canonical
// 4-byte Window Acknowledgement Size followed by a separate Set Peer
// Bandwidth message. This shape was confirmed against the reference
// implementation's handshake-completion sequence, which never calls its
// peer-bandwidth writer at all — see DESIGN.md.
func EncodeWindowAckSizeWithHardLimit(size uint32, hardLimitType uint8) *rtmpchunk.Message {
	var p [5]byte
	binary.BigEndian.PutUint32(p[0:4], size)
	p[4] = hardLimitType
	return newControlMessage(TypeWindowAcknowledgement, p[:])
}

// Decode decodes a control message payload (types 1, 3, 5, 6) into a
// structured value.
func Decode(typeID uint8, payload []byte) (interface{}, error) {
	switch typeID {
	case TypeSetChunkSize:
		if len(payload) != 4 {
			return nil, protoerr.NewChunkError("control.decode.set_chunk_size", fmt.Errorf("expected 4 bytes, got %d", len(payload)))
		}
		v := binary.BigEndian.Uint32(payload)
		if v == 0 || v&0x80000000 != 0 {
			return nil, protoerr.NewChunkError("control.decode.set_chunk_size", fmt.Errorf("invalid size %d", v))
		}
		return &SetChunkSize{Size: v}, nil
	case TypeAcknowledgement:
		if len(payload) != 4 {
			return nil, protoerr.NewChunkError("control.decode.acknowledgement", fmt.Errorf("expected 4 bytes, got %d", len(payload)))
		}
		return &Acknowledgement{SequenceNumber: binary.BigEndian.Uint32(payload)}, nil
	case TypeWindowAcknowledgement:
		if len(payload) != 4 {
			return nil, protoerr.NewChunkError("control.decode.window_ack_size", fmt.Errorf("expected 4 bytes, got %d", len(payload)))
		}
		v := binary.BigEndian.Uint32(payload)
		if v == 0 {
			return nil, protoerr.NewChunkError("control.decode.window_ack_size", fmt.Errorf("size must be > 0"))
		}
		return &WindowAcknowledgementSize{Size: v}, nil
	case TypeSetPeerBandwidth:
		if len(payload) != 5 {
			return nil, protoerr.NewChunkError("control.decode.set_peer_bandwidth", fmt.Errorf("expected 5 bytes, got %d", len(payload)))
		}
		return &SetPeerBandwidth{Bandwidth: binary.BigEndian.Uint32(payload[0:4]), LimitType: payload[4]}, nil
	default:
		return nil, protoerr.NewChunkError("control.decode", fmt.Errorf("unsupported control type id %d", typeID))
	}
}
