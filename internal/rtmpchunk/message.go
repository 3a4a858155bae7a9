// Package rtmpchunk implements RTMP chunk-stream framing: splitting an
// outbound message into fmt=0/1 chunks plus fmt=3 continuations, and
// reassembling an inbound byte stream of fmt=0/1/2/3 chunks back into
// complete messages.
package rtmpchunk

// Message is a fully reassembled (or fully-formed, pre-fragmentation) RTMP
// message: one command, one data/control frame, or one audio/video payload.
type Message struct {
	CSID            uint32
	Timestamp       uint32
	MessageLength   uint32
	TypeID          uint8
	MessageStreamID uint32
	Payload         []byte
}
