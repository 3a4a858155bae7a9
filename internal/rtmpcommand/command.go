// Package rtmpcommand encodes the outbound AMF0 command invocations this
// client drives over the lifetime of a connection — connect, createStream,
// publish, deleteStream — and parses the server's _result/_error/onStatus
// replies to them. This is the client-side mirror of an RTMP server's
// inbound command dispatch: where a server parses connect/createStream/
// publish and answers with _result, this client builds the invocation and
// parses the answer.
package rtmpcommand

import (
	"fmt"

	"github.com/arlobyte/rtmpcast/internal/amf0"
	protoerr "github.com/arlobyte/rtmpcast/internal/errors"
	"github.com/arlobyte/rtmpcast/internal/rtmpchunk"
)

// commandMessageAMF0TypeID is the RTMP message type id for AMF0 command
// messages (NetConnection/NetStream commands and their replies).
const commandMessageAMF0TypeID = 20

// Transaction ids this client ever invokes with, in invocation order.
const (
	TransactionConnect      float64 = 1
	TransactionCreateStream float64 = 2
	TransactionPublish      float64 = 3
	TransactionDeleteStream float64 = 4
)

func commandMessage(csid, msid uint32, payload []byte) *rtmpchunk.Message {
	return &rtmpchunk.Message{
		CSID:            csid,
		TypeID:          commandMessageAMF0TypeID,
		MessageStreamID: msid,
		Payload:         payload,
		MessageLength:   uint32(len(payload)),
	}
}

// EncodeConnect builds the connect invocation sent once per connection, on
// csid=3/msid=0/transaction id=1:
// ["connect", 1, {app, flashVer, tcUrl, type:"nonprivate", objectEncoding:0}]
func EncodeConnect(app, tcURL, flashVer string) (*rtmpchunk.Message, error) {
	commandObject := map[string]interface{}{
		"app":            app,
		"flashVer":       flashVer,
		"tcUrl":          tcURL,
		"type":           "nonprivate",
		"objectEncoding": float64(0),
	}
	payload, err := amf0.EncodeAll("connect", TransactionConnect, commandObject)
	if err != nil {
		return nil, protoerr.NewAMFError("command.connect.encode", err)
	}
	return commandMessage(3, 0, payload), nil
}

// EncodeCreateStream builds the createStream invocation sent on csid=3,
// msid=0, transaction id=2: ["createStream", 2, null]
func EncodeCreateStream() (*rtmpchunk.Message, error) {
	payload, err := amf0.EncodeAll("createStream", TransactionCreateStream, nil)
	if err != nil {
		return nil, protoerr.NewAMFError("command.createstream.encode", err)
	}
	return commandMessage(3, 0, payload), nil
}

// EncodePublish builds the publish invocation sent once the server has
// allocated streamID, on csid=3, msid=streamID, transaction id=3:
// ["publish", 3, null, streamKey, "live"]
func EncodePublish(streamKey string, streamID uint32) (*rtmpchunk.Message, error) {
	payload, err := amf0.EncodeAll("publish", TransactionPublish, nil, streamKey, "live")
	if err != nil {
		return nil, protoerr.NewAMFError("command.publish.encode", err)
	}
	return commandMessage(3, streamID, payload), nil
}

// EncodeDeleteStream builds the best-effort deleteStream invocation staged
// during shutdown, transaction id=4: ["deleteStream", 4, null, streamID]
func EncodeDeleteStream(streamID uint32) (*rtmpchunk.Message, error) {
	payload, err := amf0.EncodeAll("deleteStream", TransactionDeleteStream, nil, float64(streamID))
	if err != nil {
		return nil, protoerr.NewAMFError("command.deletestream.encode", err)
	}
	return commandMessage(3, streamID, payload), nil
}

// Reply is a parsed _result/_error response, keyed by the transaction id it
// answers. Values holds whatever values followed the transaction id —
// callers extract what they need (e.g. the numeric stream id from
// createStream's _result).
type Reply struct {
	TransactionID float64
	IsError       bool
	Values        []interface{}
}

// ParseReply parses a command message assumed to carry a _result or _error
// reply: ["_result"|"_error", transactionID, ...].
func ParseReply(msg *rtmpchunk.Message) (*Reply, error) {
	if msg == nil {
		return nil, protoerr.NewProtocolError("command.reply.parse", fmt.Errorf("nil message"))
	}
	if msg.TypeID != commandMessageAMF0TypeID {
		return nil, protoerr.NewProtocolError("command.reply.parse", fmt.Errorf("unexpected message type %d", msg.TypeID))
	}
	vals, err := amf0.DecodeAll(msg.Payload)
	if err != nil {
		return nil, protoerr.NewProtocolError("command.reply.parse.decode", err)
	}
	if len(vals) < 2 {
		return nil, protoerr.NewProtocolError("command.reply.parse", fmt.Errorf("expected >=2 AMF values, got %d", len(vals)))
	}
	name, ok := vals[0].(string)
	if !ok {
		return nil, protoerr.NewProtocolError("command.reply.parse", fmt.Errorf("first value must be a string command name"))
	}
	var isError bool
	switch name {
	case "_result":
		isError = false
	case "_error":
		isError = true
	default:
		return nil, protoerr.NewProtocolError("command.reply.parse", fmt.Errorf("unexpected reply command %q", name))
	}
	trx, ok := vals[1].(float64)
	if !ok {
		return nil, protoerr.NewProtocolError("command.reply.parse", fmt.Errorf("second value must be a number transaction id"))
	}
	return &Reply{TransactionID: trx, IsError: isError, Values: vals[2:]}, nil
}

// CreateStreamID extracts the numeric stream id a createStream _result
// carries: ["_result", 2, null, streamID].
func CreateStreamID(reply *Reply) (uint32, error) {
	if reply.IsError {
		return 0, protoerr.NewProtocolError("command.reply.createstream", fmt.Errorf("server returned _error for createStream"))
	}
	if len(reply.Values) < 2 {
		return 0, protoerr.NewProtocolError("command.reply.createstream", fmt.Errorf("expected >=2 values after transaction id, got %d", len(reply.Values)))
	}
	id, ok := reply.Values[1].(float64)
	if !ok {
		return 0, protoerr.NewProtocolError("command.reply.createstream", fmt.Errorf("stream id value is not a number"))
	}
	if id < 0 {
		return 0, protoerr.NewProtocolError("command.reply.createstream", fmt.Errorf("negative stream id %v", id))
	}
	return uint32(id), nil
}

// OnStatus is a parsed onStatus command sent on the publish NetStream.
type OnStatus struct {
	Level string
	Code  string
}

// ParseOnStatus parses an onStatus command message: ["onStatus", 0, null,
// {level, code, description}].
func ParseOnStatus(msg *rtmpchunk.Message) (*OnStatus, error) {
	if msg == nil {
		return nil, protoerr.NewProtocolError("command.onstatus.parse", fmt.Errorf("nil message"))
	}
	if msg.TypeID != commandMessageAMF0TypeID {
		return nil, protoerr.NewProtocolError("command.onstatus.parse", fmt.Errorf("unexpected message type %d", msg.TypeID))
	}
	vals, err := amf0.DecodeAll(msg.Payload)
	if err != nil {
		return nil, protoerr.NewProtocolError("command.onstatus.parse.decode", err)
	}
	if len(vals) < 4 {
		return nil, protoerr.NewProtocolError("command.onstatus.parse", fmt.Errorf("expected >=4 AMF values, got %d", len(vals)))
	}
	name, ok := vals[0].(string)
	if !ok || name != "onStatus" {
		return nil, protoerr.NewProtocolError("command.onstatus.parse", fmt.Errorf("first value must be string 'onStatus'"))
	}
	info, ok := vals[3].(map[string]interface{})
	if !ok {
		return nil, protoerr.NewProtocolError("command.onstatus.parse", fmt.Errorf("fourth value must be the info object"))
	}
	level, _ := info["level"].(string)
	code, _ := info["code"].(string)
	if level == "" || code == "" {
		return nil, protoerr.NewProtocolError("command.onstatus.parse", fmt.Errorf("info object missing level/code"))
	}
	return &OnStatus{Level: level, Code: code}, nil
}

// IsPublishStart reports whether status is the strict publish-ready signal
// this client requires: level="status" and code="NetStream.Publish.Start".
// Any other level/code combination — including other legitimate NetStream
// statuses — is a protocol reject, per the documented divergence from the
// permissive "any onStatus is success" behavior.
func IsPublishStart(status *OnStatus) bool {
	return status.Level == "status" && status.Code == "NetStream.Publish.Start"
}
