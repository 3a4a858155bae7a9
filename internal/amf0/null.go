package amf0

import (
	"fmt"
	"io"

	amferrors "github.com/arlobyte/rtmpcast/internal/errors"
)

const markerNull = 0x05

// EncodeNull writes an AMF0 Null value (a single marker byte).
func EncodeNull(w io.Writer) error {
	if _, err := w.Write([]byte{markerNull}); err != nil {
		return amferrors.NewAMFError("encode.null.write", err)
	}
	return nil
}

// DecodeNull reads an AMF0 Null value from r, returning nil on success.
func DecodeNull(r io.Reader) (interface{}, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.null.marker.read", err)
	}
	if b[0] != markerNull {
		return nil, amferrors.NewAMFError("decode.null.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerNull, b[0]))
	}
	return nil, nil
}
