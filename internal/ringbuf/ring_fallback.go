//go:build !linux

package ringbuf

import "errors"

// tryDoubleMap reports the host as unable to satisfy the double-mapping
// placeholder-reservation trick; New falls back to the linear backing.
func tryDoubleMap(size uint64) (backing, error) {
	return nil, errors.New("ringbuf: double-mapped backing requires linux")
}
