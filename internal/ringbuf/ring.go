// Package ringbuf provides a fixed-capacity byte ring whose read and write
// windows are always addressable as a single contiguous slice, regardless of
// where the window crosses the wrap boundary. On Linux this is achieved by
// mapping one physical region into two adjacent virtual ranges; elsewhere it
// falls back to a single buffer plus a wrap-and-linearize copy, which keeps
// the external contract identical at the cost of an extra memmove on writes
// that straddle the wrap.
package ringbuf

import (
	"fmt"
	"os"
	"sync/atomic"
)

// backing supplies the addressable memory region behind a Buffer.
type backing interface {
	// slice returns the raw region: length 2*size when doubled() is true,
	// length size otherwise.
	slice() []byte
	doubled() bool
	Close() error
}

// Buffer is a single-producer/single-consumer byte ring. Callers are
// responsible for their own cross-goroutine synchronization around the
// sequence BeginWrite/EndWrite and BeginRead/EndRead respectively; the
// cursors themselves are atomic so a writer and the reader can run on
// different goroutines without a shared lock, matching how the rest of this
// module treats monotonic counters (see internal/logger's dynamicLevel).
type Buffer struct {
	size   uint64
	mask   uint64
	region backing
	read   atomic.Uint64
	write  atomic.Uint64

	// scratch buffers used only when region is not double-mapped, i.e. the
	// active window straddles the wrap boundary.
	readScratch  []byte
	writeScratch []byte
}

// New returns a Buffer whose capacity is the smallest power of two, rounded
// up to a multiple of the OS allocation granularity, that is >= minSize.
func New(minSize int) (*Buffer, error) {
	if minSize <= 0 {
		return nil, fmt.Errorf("ringbuf: minSize must be positive, got %d", minSize)
	}
	granularity := uint64(os.Getpagesize())
	size := nextPow2(uint64(minSize))
	if size < granularity {
		size = nextPow2(granularity)
	}

	region, err := tryDoubleMap(size)
	if err != nil {
		region = newLinearFallback(size)
	}

	return &Buffer{
		size:   size,
		mask:   size - 1,
		region: region,
	}, nil
}

func nextPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// Size returns the buffer capacity in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Used returns the number of unread bytes currently staged.
func (b *Buffer) Used() uint64 { return b.write.Load() - b.read.Load() }

// Free returns the number of bytes that can still be written.
func (b *Buffer) Free() uint64 { return b.size - b.Used() }

// Doubled reports whether the underlying region is truly double-mapped
// (Linux) or running the wrap-and-linearize fallback.
func (b *Buffer) Doubled() bool { return b.region.doubled() }

// BeginRead returns a contiguous view of the next Used() unread bytes, or
// nil if the buffer is empty. The slice is only valid until the matching
// EndRead call.
func (b *Buffer) BeginRead() []byte {
	used := b.Used()
	if used == 0 {
		return nil
	}
	off := b.read.Load() & b.mask
	region := b.region.slice()
	if b.region.doubled() {
		return region[off : off+used]
	}
	if off+used <= b.size {
		return region[off : off+used]
	}
	// Wraps: linearize into scratch.
	if uint64(cap(b.readScratch)) < used {
		b.readScratch = make([]byte, used)
	}
	scratch := b.readScratch[:used]
	first := b.size - off
	copy(scratch, region[off:])
	copy(scratch[first:], region[:used-first])
	return scratch
}

// EndRead advances the read cursor past n bytes previously returned by
// BeginRead. It requires n <= Used().
func (b *Buffer) EndRead(n uint64) error {
	if n > b.Used() {
		return fmt.Errorf("ringbuf: EndRead(%d) exceeds used %d", n, b.Used())
	}
	b.read.Add(n)
	return nil
}

// BeginWrite returns a contiguous view of at least Free() writable bytes.
// For the fallback backing, a write that would straddle the wrap is staged
// into scratch memory and copied into place by EndWrite; callers must not
// assume the slice aliases the buffer's storage.
func (b *Buffer) BeginWrite() []byte {
	free := b.Free()
	if free == 0 {
		return nil
	}
	off := b.write.Load() & b.mask
	region := b.region.slice()
	if b.region.doubled() {
		return region[off : off+free]
	}
	if off+free <= b.size {
		return region[off : off+free]
	}
	if uint64(cap(b.writeScratch)) < free {
		b.writeScratch = make([]byte, free)
	}
	return b.writeScratch[:free]
}

// EndWrite commits n bytes previously written into the slice returned by
// BeginWrite and advances the write cursor. It requires n <= Free().
func (b *Buffer) EndWrite(n uint64) error {
	if n > b.Free() {
		return fmt.Errorf("ringbuf: EndWrite(%d) exceeds free %d", n, b.Free())
	}
	if n == 0 {
		return nil
	}
	off := b.write.Load() & b.mask
	if !b.region.doubled() && off+n > b.size {
		region := b.region.slice()
		first := b.size - off
		copy(region[off:], b.writeScratch[:first])
		copy(region[:n-first], b.writeScratch[first:n])
	}
	b.write.Add(n)
	return nil
}

// Close releases the underlying mapping. The Buffer must not be used
// afterwards.
func (b *Buffer) Close() error { return b.region.Close() }

// linearFallback is the platform-independent backing used whenever a true
// double mapping is unavailable.
type linearFallback struct {
	buf []byte
}

func newLinearFallback(size uint64) backing { return &linearFallback{buf: make([]byte, size)} }
func (f *linearFallback) slice() []byte     { return f.buf }
func (f *linearFallback) doubled() bool     { return false }
func (f *linearFallback) Close() error      { return nil }
