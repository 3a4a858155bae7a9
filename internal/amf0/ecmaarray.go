package amf0

import (
	"encoding/binary"
	"fmt"
	"io"

	amferrors "github.com/arlobyte/rtmpcast/internal/errors"
)

// markerEcmaArray is the wire marker the command channel calls "strict
// array": 0x08 followed by a 4-byte pair count, that many (key, value)
// entries, and a terminating 0x00 0x00 0x09 sentinel identical to Object's.
// The reference onMetaData builder this core replaces calls its object-end
// writer once after the pair loop (AMF_OBJ_END following AMF_OBJ_ARRAY),
// so the sentinel is required here too even though the leading count
// already makes the pair loop self-delimiting.
const markerEcmaArray = 0x08

// Property is one (key, value) entry of an EcmaArray. A slice rather than a
// map preserves the field order onMetaData is conventionally emitted in.
type Property struct {
	Key   string
	Value interface{}
}

// EcmaArray is the ordered key/value payload used for AMF0 data messages
// such as onMetaData.
type EcmaArray []Property

// EncodeEcmaArray writes marker 0x08, a 4-byte big-endian pair count, then
// each property as a bare key (2-byte length + bytes, no type marker,
// matching Object key encoding) followed by a fully-marked AMF0 value, and
// finishes with the 0x00 0x00 0x09 object-end sentinel.
func EncodeEcmaArray(w io.Writer, arr EcmaArray) error {
	var hdr [1 + 4]byte
	hdr[0] = markerEcmaArray
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(arr)))
	if _, err := w.Write(hdr[:]); err != nil {
		return amferrors.NewAMFError("encode.ecmaarray.header.write", err)
	}

	var klen [2]byte
	for i, p := range arr {
		kb := []byte(p.Key)
		if len(kb) > 0xFFFF {
			return amferrors.NewAMFError("encode.ecmaarray.key.length", fmt.Errorf("%w: key %q length %d", ErrTooLong, p.Key, len(kb)))
		}
		binary.BigEndian.PutUint16(klen[:], uint16(len(kb)))
		if _, err := w.Write(klen[:]); err != nil {
			return amferrors.NewAMFError("encode.ecmaarray.key.length.write", err)
		}
		if len(kb) > 0 {
			if _, err := w.Write(kb); err != nil {
				return amferrors.NewAMFError("encode.ecmaarray.key.write", err)
			}
		}
		if err := encodeAny(w, p.Value); err != nil {
			return amferrors.NewAMFError("encode.ecmaarray.value", fmt.Errorf("index %d (%q): %w", i, p.Key, err))
		}
	}
	if _, err := w.Write([]byte{0x00, 0x00, markerObjectEnd}); err != nil {
		return amferrors.NewAMFError("encode.ecmaarray.end.write", err)
	}
	return nil
}

// DecodeEcmaArray decodes an EcmaArray from r, reading exactly count pairs
// off the leading count field and then requiring the trailing 0x00 0x00
// 0x09 object-end sentinel.
func DecodeEcmaArray(r io.Reader) (EcmaArray, error) {
	var m [1]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.ecmaarray.marker.read", err)
	}
	if m[0] != markerEcmaArray {
		return nil, amferrors.NewAMFError("decode.ecmaarray.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerEcmaArray, m[0]))
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.ecmaarray.count.read", err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	out := make(EcmaArray, 0, count)
	for i := uint32(0); i < count; i++ {
		var klen [2]byte
		if _, err := io.ReadFull(r, klen[:]); err != nil {
			return nil, amferrors.NewAMFError("decode.ecmaarray.key.length.read", err)
		}
		l := binary.BigEndian.Uint16(klen[:])
		keyBytes := make([]byte, l)
		if l > 0 {
			if _, err := io.ReadFull(r, keyBytes); err != nil {
				return nil, amferrors.NewAMFError("decode.ecmaarray.key.read", err)
			}
		}
		var valMarker [1]byte
		if _, err := io.ReadFull(r, valMarker[:]); err != nil {
			return nil, amferrors.NewAMFError("decode.ecmaarray.value.marker.read", err)
		}
		val, err := decodeValueWithMarker(valMarker[0], r)
		if err != nil {
			return nil, amferrors.NewAMFError("decode.ecmaarray.value", fmt.Errorf("index %d: %w", i, err))
		}
		out = append(out, Property{Key: string(keyBytes), Value: val})
	}

	var end [3]byte
	if _, err := io.ReadFull(r, end[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.ecmaarray.end.read", err)
	}
	if end[0] != 0x00 || end[1] != 0x00 || end[2] != markerObjectEnd {
		return nil, amferrors.NewAMFError("decode.ecmaarray.end.marker", fmt.Errorf("expected 00 00 %02x got %02x %02x %02x", markerObjectEnd, end[0], end[1], end[2]))
	}
	return out, nil
}
