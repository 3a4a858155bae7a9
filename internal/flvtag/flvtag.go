// Package flvtag builds the FLV-style AVC/AAC tag headers and the
// onMetaData data-channel payload this client emits: frame type, codec id,
// and AVC/AAC packet type bits assembled from scratch for frames about to
// be sent, rather than parsed from an inbound tag.
package flvtag

import (
	"github.com/arlobyte/rtmpcast/internal/amf0"
	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
)

// Codec ids, matching the teacher's media package detection constants
// (AVCPacketType*, AudioCodecAAC's soundFormat 10) but used here to build
// rather than classify a header byte.
const (
	videoCodecIDAVC = 7
	audioCodecIDAAC = 10

	avcPacketTypeSequenceHeader = 0x00
	avcPacketTypeNALU           = 0x01

	aacPacketTypeSequenceHeader = 0x00
	aacPacketTypeRaw            = 0x01

	frameTypeKey   = 1
	frameTypeInter = 2

	// Audio header sound rate/size/type bits fixed for the AAC profile this
	// client always emits: 44kHz (3<<2), 16-bit samples (1<<1), stereo (1).
	aacSoundRateSizeTypeBits = (3 << 2) | (1 << 1) | 1
)

// VideoConfig describes the negotiated H.264 stream shape announced in
// onMetaData; every field is written to the metadata object, zero values
// included.
type VideoConfig struct {
	Width, Height       int
	FrameRate           float64
	VideoDataRateKbps   float64
	DecoderConfigRecord []byte // AVCDecoderConfigurationRecord
}

// AudioConfig describes the negotiated AAC stream shape announced in
// onMetaData; every field is written to the metadata object, zero values
// included.
type AudioConfig struct {
	SampleRate        int
	Channels          int
	AudioDataRateKbps float64
	SpecificConfig    []byte // AudioSpecificConfig
}

// VideoConfigPacket builds the video sequence-header payload sent once on
// csid=5, type=9 after send_config: [(1<<4)|7, 0x00, 0x00,0x00,0x00,
// AVCDecoderConfigurationRecord].
func VideoConfigPacket(cfg VideoConfig) []byte {
	out := make([]byte, 0, 5+len(cfg.DecoderConfigRecord))
	out = append(out, byte(frameTypeKey<<4)|videoCodecIDAVC, avcPacketTypeSequenceHeader, 0, 0, 0)
	return append(out, cfg.DecoderConfigRecord...)
}

// AudioConfigPacket builds the audio sequence-header payload sent once on
// csid=4, type=8 after send_config: [(10<<4)|(3<<2)|(1<<1)|1, 0x00,
// AudioSpecificConfig].
func AudioConfigPacket(cfg AudioConfig) []byte {
	out := make([]byte, 0, 2+len(cfg.SpecificConfig))
	out = append(out, byte(audioCodecIDAAC<<4)|aacSoundRateSizeTypeBits, aacPacketTypeSequenceHeader)
	return append(out, cfg.SpecificConfig...)
}

// VideoFrameHeader builds the 5-byte FLV AVC header send_video prepends to
// the NALU bytes: [(keyframe?1:2)<<4|7, 0x01, compositionOffset(BE24)].
func VideoFrameHeader(isKeyframe bool, compositionOffsetMs int32) [5]byte {
	frameType := byte(frameTypeInter)
	if isKeyframe {
		frameType = frameTypeKey
	}
	var h [5]byte
	h[0] = frameType<<4 | videoCodecIDAVC
	h[1] = avcPacketTypeNALU
	putInt24BE(h[2:5], compositionOffsetMs)
	return h
}

// AudioFrameHeader builds the 2-byte header send_audio prepends to the raw
// AAC payload: [(10<<4)|(3<<2)|(1<<1)|1, 0x01].
func AudioFrameHeader() [2]byte {
	return [2]byte{byte(audioCodecIDAAC<<4) | aacSoundRateSizeTypeBits, aacPacketTypeRaw}
}

func putInt24BE(dst []byte, v int32) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

// EncodeOnMetaData builds the @setDataFrame/onMetaData data-channel payload
// this client emits exactly once during send_config: a string
// "@setDataFrame", a string "onMetaData", and a strict AMF0 ECMA array
// carrying duration=0, filesize=0, encoder, and whichever of the
// video/audio fields apply.
func EncodeOnMetaData(encoderTag string, video *VideoConfig, audio *AudioConfig) ([]byte, error) {
	props := amf0.EcmaArray{
		{Key: "duration", Value: float64(0)},
		{Key: "filesize", Value: float64(0)},
		{Key: "encoder", Value: encoderTag},
	}
	if video != nil {
		props = append(props,
			amf0.Property{Key: "videocodecid", Value: float64(videoCodecIDAVC)},
			amf0.Property{Key: "videodatarate", Value: video.VideoDataRateKbps},
			amf0.Property{Key: "framerate", Value: video.FrameRate},
			amf0.Property{Key: "width", Value: float64(video.Width)},
			amf0.Property{Key: "height", Value: float64(video.Height)},
		)
	}
	if audio != nil {
		props = append(props,
			amf0.Property{Key: "audiocodecid", Value: float64(audioCodecIDAAC)},
			amf0.Property{Key: "audiodatarate", Value: audio.AudioDataRateKbps},
			amf0.Property{Key: "audiosamplerate", Value: float64(audio.SampleRate)},
			amf0.Property{Key: "audiosamplesize", Value: float64(16)},
			amf0.Property{Key: "audiochannels", Value: float64(audio.Channels)},
			amf0.Property{Key: "stereo", Value: audio.Channels >= 2},
		)
	}
	payload, err := amf0.EncodeAll("@setDataFrame", "onMetaData", props)
	if err != nil {
		return nil, protoerr.NewAMFError("flvtag.onmetadata.encode", err)
	}
	return payload, nil
}
