package rtmpcommand

import (
	"testing"

	"github.com/arlobyte/rtmpcast/internal/amf0"
	"github.com/arlobyte/rtmpcast/internal/rtmpchunk"
)

func commandMsg(payload []byte) *rtmpchunk.Message {
	return &rtmpchunk.Message{TypeID: commandMessageAMF0TypeID, Payload: payload}
}

func TestEncodeConnect_Shape(t *testing.T) {
	msg, err := EncodeConnect("live", "rtmp://example.com/live", "FMLE/3.0")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.CSID != 3 || msg.MessageStreamID != 0 {
		t.Fatalf("unexpected message shape: %+v", msg)
	}
	vals, err := amf0.DecodeAll(msg.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("expected 3 AMF values, got %d", len(vals))
	}
	if vals[0] != "connect" || vals[1] != TransactionConnect {
		t.Fatalf("unexpected command name/transaction: %#v %#v", vals[0], vals[1])
	}
	obj, ok := vals[2].(map[string]interface{})
	if !ok {
		t.Fatalf("expected command object, got %#v", vals[2])
	}
	if obj["app"] != "live" || obj["tcUrl"] != "rtmp://example.com/live" || obj["type"] != "nonprivate" {
		t.Fatalf("unexpected command object: %#v", obj)
	}
}

func TestEncodeCreateStream_Shape(t *testing.T) {
	msg, err := EncodeCreateStream()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	vals, err := amf0.DecodeAll(msg.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(vals) != 3 || vals[0] != "createStream" || vals[1] != TransactionCreateStream || vals[2] != nil {
		t.Fatalf("unexpected createStream payload: %#v", vals)
	}
}

func TestEncodePublish_Shape(t *testing.T) {
	msg, err := EncodePublish("live/mykey", 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.MessageStreamID != 1 {
		t.Fatalf("expected msid=streamID, got %d", msg.MessageStreamID)
	}
	vals, err := amf0.DecodeAll(msg.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(vals) != 5 || vals[0] != "publish" || vals[1] != TransactionPublish || vals[3] != "live/mykey" || vals[4] != "live" {
		t.Fatalf("unexpected publish payload: %#v", vals)
	}
}

func TestEncodeDeleteStream_Shape(t *testing.T) {
	msg, err := EncodeDeleteStream(1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	vals, err := amf0.DecodeAll(msg.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(vals) != 4 || vals[0] != "deleteStream" || vals[1] != TransactionDeleteStream || vals[3] != float64(1) {
		t.Fatalf("unexpected deleteStream payload: %#v", vals)
	}
}

func TestParseReply_Result(t *testing.T) {
	payload, _ := amf0.EncodeAll("_result", TransactionConnect, map[string]interface{}{}, map[string]interface{}{"level": "status"})
	reply, err := ParseReply(commandMsg(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reply.IsError || reply.TransactionID != TransactionConnect || len(reply.Values) != 2 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestParseReply_Error(t *testing.T) {
	payload, _ := amf0.EncodeAll("_error", TransactionConnect, nil, map[string]interface{}{"code": "NetConnection.Connect.Rejected"})
	reply, err := ParseReply(commandMsg(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reply.IsError {
		t.Fatal("expected IsError true")
	}
}

func TestParseReply_RejectsUnexpectedCommandName(t *testing.T) {
	payload, _ := amf0.EncodeAll("onStatus", float64(0))
	if _, err := ParseReply(commandMsg(payload)); err == nil {
		t.Fatal("expected error for non _result/_error command name")
	}
}

func TestCreateStreamID_ExtractsNumericID(t *testing.T) {
	payload, _ := amf0.EncodeAll("_result", TransactionCreateStream, nil, float64(1))
	reply, err := ParseReply(commandMsg(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	id, err := CreateStreamID(reply)
	if err != nil {
		t.Fatalf("createstreamid: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected stream id 1, got %d", id)
	}
}

func TestCreateStreamID_RejectsErrorReply(t *testing.T) {
	payload, _ := amf0.EncodeAll("_error", TransactionCreateStream, nil, map[string]interface{}{})
	reply, _ := ParseReply(commandMsg(payload))
	if _, err := CreateStreamID(reply); err == nil {
		t.Fatal("expected error for _error reply")
	}
}

func TestParseOnStatus_PublishStart(t *testing.T) {
	payload, _ := amf0.EncodeAll("onStatus", float64(0), nil, map[string]interface{}{
		"level": "status",
		"code":  "NetStream.Publish.Start",
	})
	status, err := ParseOnStatus(commandMsg(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !IsPublishStart(status) {
		t.Fatalf("expected publish start, got %+v", status)
	}
}

func TestIsPublishStart_RejectsOtherStatuses(t *testing.T) {
	cases := []*OnStatus{
		{Level: "status", Code: "NetStream.Publish.BadName"},
		{Level: "error", Code: "NetStream.Publish.Start"},
		{Level: "", Code: ""},
	}
	for _, c := range cases {
		if IsPublishStart(c) {
			t.Fatalf("expected rejection for %+v", c)
		}
	}
}

func TestParseOnStatus_RejectsMissingInfoFields(t *testing.T) {
	payload, _ := amf0.EncodeAll("onStatus", float64(0), nil, map[string]interface{}{"description": "x"})
	if _, err := ParseOnStatus(commandMsg(payload)); err == nil {
		t.Fatal("expected error for info object missing level/code")
	}
}
