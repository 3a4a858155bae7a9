// Package rtmp is the public surface of this module: a non-blocking RTMP
// publishing client. Open spawns a connection that resolves, connects,
// handshakes, and drives the connect/createStream/publish sequence on a
// background goroutine; callers poll Connection.IsStreaming / IsError and
// push media with SendVideo/SendAudio once the stream is ready. All the
// actual state-machine and I/O-loop logic lives in internal/rtmpconn — this
// file stays a thin orchestrator, the way cmd/deskcast keeps its flag
// parsing separate from main.
package rtmp

import (
	"github.com/arlobyte/rtmpcast/internal/flvtag"
	"github.com/arlobyte/rtmpcast/internal/rtmpconn"
)

// Connection is one published RTMP stream, from dial through teardown.
type Connection = rtmpconn.Connection

// VideoConfig describes the AVC decoder configuration record and display
// geometry carried once, up front, via SendConfig.
type VideoConfig = flvtag.VideoConfig

// AudioConfig describes the AAC specific configuration carried once, up
// front, via SendConfig.
type AudioConfig = flvtag.AudioConfig

// Open parses rawURL (rtmp://host[:port]/app[/...]), allocates a send ring
// of at least sendCapacityBytes, and starts publishing under streamKey. It
// returns immediately; the connection negotiates in the background.
func Open(rawURL, streamKey string, sendCapacityBytes int) (*Connection, error) {
	return rtmpconn.Open(rawURL, streamKey, sendCapacityBytes)
}
