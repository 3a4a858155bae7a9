// Package amf0 implements the subset of Action Message Format v0 used on an
// RTMP connection's command and data channels: number, boolean, string,
// null, typed object, and the 0x08 "ECMA array" used by onMetaData.
package amf0

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	amferrors "github.com/arlobyte/rtmpcast/internal/errors"
)

// ErrTooLong is the cause wrapped into an AMFError when a string (or object
// key) exceeds AMF0's 16-bit length field.
var ErrTooLong = errors.New("amf0: value exceeds 65535 bytes")

// EncodeValue encodes a single AMF0 value to w using dynamic dispatch based
// on the Go type:
//
//	nil                 -> Null (0x05)
//	float64             -> Number (0x00)
//	bool                -> Boolean (0x01)
//	string              -> String (0x02)
//	map[string]any      -> Object (0x03)
//	EcmaArray           -> ECMA Array (0x08)
//
// Any other type results in an *errors.AMFError.
func EncodeValue(w io.Writer, v interface{}) error {
	if err := encodeAny(w, v); err != nil {
		return amferrors.NewAMFError("encode.value", err)
	}
	return nil
}

// EncodeAll encodes a sequence of AMF0 values in order and returns the
// concatenated bytes — the shape of an RTMP command or data message payload.
func EncodeAll(values ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := EncodeValue(&buf, v); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a single AMF0 value from r, dispatching on the leading
// marker byte.
func DecodeValue(r io.Reader) (interface{}, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.value.marker.read", err)
	}
	switch marker[0] {
	case markerNumber, markerBoolean, markerString, markerNull, markerObject, markerEcmaArray:
		v, err := decodeValueWithMarker(marker[0], r)
		if err != nil {
			return nil, amferrors.NewAMFError("decode.value.dispatch", err)
		}
		return v, nil
	default:
		return nil, amferrors.NewAMFError("decode.value.unsupported", fmt.Errorf("unsupported marker 0x%02x", marker[0]))
	}
}

// DecodeAll decodes a concatenated sequence of AMF0 values until the input is
// exhausted.
func DecodeAll(data []byte) ([]interface{}, error) {
	r := bytes.NewReader(data)
	var out []interface{}
	for r.Len() > 0 {
		v, err := DecodeValue(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Marshal is a convenience alias for encoding a single value.
func Marshal(v interface{}) ([]byte, error) { return EncodeAll(v) }

// Unmarshal decodes a single AMF0 value from data, ignoring any trailing
// bytes.
func Unmarshal(data []byte) (interface{}, error) {
	r := bytes.NewReader(data)
	return DecodeValue(r)
}

// encodeAny dispatches on the dynamic Go type of v.
func encodeAny(w io.Writer, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		return EncodeNull(w)
	case float64:
		return EncodeNumber(w, vv)
	case bool:
		return EncodeBoolean(w, vv)
	case string:
		return EncodeString(w, vv)
	case map[string]interface{}:
		return EncodeObject(w, vv)
	case EcmaArray:
		return EncodeEcmaArray(w, vv)
	default:
		return fmt.Errorf("unsupported AMF0 value type %T", v)
	}
}

// decodeValueWithMarker dispatches on an already-consumed marker byte,
// replaying it ahead of r so the type-specific decoders (which each expect
// to read their own marker) can be reused unmodified.
func decodeValueWithMarker(marker byte, r io.Reader) (interface{}, error) {
	prefixed := io.MultiReader(bytes.NewReader([]byte{marker}), r)
	switch marker {
	case markerNumber:
		return DecodeNumber(prefixed)
	case markerBoolean:
		return DecodeBoolean(prefixed)
	case markerString:
		return DecodeString(prefixed)
	case markerNull:
		return DecodeNull(prefixed)
	case markerObject:
		return DecodeObject(prefixed)
	case markerEcmaArray:
		return DecodeEcmaArray(prefixed)
	default:
		return nil, fmt.Errorf("unsupported marker 0x%02x", marker)
	}
}
