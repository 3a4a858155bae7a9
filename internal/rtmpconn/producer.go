package rtmpconn

import (
	"github.com/arlobyte/rtmpcast/internal/bufpool"
	"github.com/arlobyte/rtmpcast/internal/flvtag"
	"github.com/arlobyte/rtmpcast/internal/rtmpchunk"
)

// Chunk-stream ids and message type ids for the media/data channels this
// connection ever sends on, per the connection's csid∈{2,3,4,5} convention:
// 3 carries commands and the onMetaData data message, 4 carries audio, 5
// carries video.
const (
	dataCSID  = 3
	audioCSID = 4
	videoCSID = 5

	dataTypeID  uint8 = 18
	audioTypeID uint8 = 8
	videoTypeID uint8 = 9
)

func newMediaMessage(csid uint32, typeID uint8, streamID, timestamp uint32, payload []byte) *rtmpchunk.Message {
	return &rtmpchunk.Message{
		CSID:            csid,
		Timestamp:       timestamp,
		MessageLength:   uint32(len(payload)),
		TypeID:          typeID,
		MessageStreamID: streamID,
		Payload:         payload,
	}
}

// SendVideo stages one video frame. decodeT and presentT are caller clock
// ticks in units of timeBase per second; composition_offset_ms is derived
// as present − decode after both are rescaled to milliseconds. Returns
// false without blocking if the stream is not ready or the send ring has no
// room for the frame (BackpressureDrop).
func (c *Connection) SendVideo(decodeT, presentT, timeBase int64, data []byte, isKeyframe bool) bool {
	decodeMs := decodeT * 1000 / timeBase
	presentMs := presentT * 1000 / timeBase
	compositionOffset := int32(presentMs - decodeMs)
	header := flvtag.VideoFrameHeader(isKeyframe, compositionOffset)

	payload := bufpool.Get(len(header) + len(data))
	copy(payload, header[:])
	copy(payload[len(header):], data)
	defer bufpool.Put(payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != StateStreamReady {
		return false
	}
	msg := newMediaMessage(videoCSID, videoTypeID, c.streamID, uint32(decodeMs), payload)
	if !c.stageMessage(msg) {
		return false
	}
	c.lastVideoPresentMs = presentMs
	c.signalKick()
	return true
}

// SendAudio stages one audio frame, analogous to SendVideo but with no
// composition offset (audio carries no B-frame-style reordering).
func (c *Connection) SendAudio(decodeT, timeBase int64, data []byte) bool {
	decodeMs := decodeT * 1000 / timeBase
	header := flvtag.AudioFrameHeader()

	payload := bufpool.Get(len(header) + len(data))
	copy(payload, header[:])
	copy(payload[len(header):], data)
	defer bufpool.Put(payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != StateStreamReady {
		return false
	}
	msg := newMediaMessage(audioCSID, audioTypeID, c.streamID, uint32(decodeMs), payload)
	if !c.stageMessage(msg) {
		return false
	}
	c.lastAudioPresentMs = decodeMs
	c.signalKick()
	return true
}

// SendConfig stages the onMetaData data message plus the AVC/AAC decoder
// sequence-header packets for whichever of video/audio are non-nil. It may
// only be called once; subsequent calls are no-ops returning false.
func (c *Connection) SendConfig(encoderTag string, video *flvtag.VideoConfig, audio *flvtag.AudioConfig) bool {
	metaPayload, err := flvtag.EncodeOnMetaData(encoderTag, video, audio)
	if err != nil {
		c.log.Error("send config: encode metadata", "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != StateStreamReady || c.configSent {
		return false
	}

	msgs := []*rtmpchunk.Message{newMediaMessage(dataCSID, dataTypeID, c.streamID, 0, metaPayload)}
	if video != nil {
		msgs = append(msgs, newMediaMessage(videoCSID, videoTypeID, c.streamID, 0, flvtag.VideoConfigPacket(*video)))
	}
	if audio != nil {
		msgs = append(msgs, newMediaMessage(audioCSID, audioTypeID, c.streamID, 0, flvtag.AudioConfigPacket(*audio)))
	}
	for _, m := range msgs {
		if !c.stageMessage(m) {
			return false
		}
	}
	c.configSent = true
	c.signalKick()
	return true
}
