//go:build linux

package ringbuf

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// doubleMapped maps one memfd-backed region into two adjacent virtual
// ranges so any window of up to size bytes is contiguous regardless of
// where it crosses the wrap boundary.
type doubleMapped struct {
	mem []byte // length 2*size; mem[i] and mem[i+size] alias the same page
}

// tryDoubleMap reserves a 2*size placeholder, releases it, then maps the
// same memfd twice into the freed range. This has a narrow TOCTOU window
// between releasing the placeholder and re-mapping it fixed; on failure the
// caller falls back to the linear backing, so a lost race just costs a copy
// on wrapped writes rather than correctness.
func tryDoubleMap(size uint64) (backing, error) {
	fd, err := unix.MemfdCreate("rtmpcast-ring", 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	placeholder, err := unix.Mmap(-1, 0, int(2*size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("reserve placeholder: %w", err)
	}
	base := uintptr(unsafe.Pointer(&placeholder[0]))
	if err := unix.Munmap(placeholder); err != nil {
		return nil, fmt.Errorf("release placeholder: %w", err)
	}

	if err := mmapFixed(base, fd, size); err != nil {
		return nil, fmt.Errorf("map first half: %w", err)
	}
	if err := mmapFixed(base+uintptr(size), fd, size); err != nil {
		unix.Munmap(unsafe.Slice((*byte)(unsafe.Pointer(base)), size))
		return nil, fmt.Errorf("map second half: %w", err)
	}

	mem := unsafe.Slice((*byte)(unsafe.Pointer(base)), 2*size)
	return &doubleMapped{mem: mem}, nil
}

func mmapFixed(addr uintptr, fd int, length uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED), uintptr(fd), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *doubleMapped) slice() []byte { return d.mem }
func (d *doubleMapped) doubled() bool { return true }
func (d *doubleMapped) Close() error  { return unix.Munmap(d.mem) }
