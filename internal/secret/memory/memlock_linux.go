//go:build linux

package memory

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

// mlock works on whole pages and does not nest, while small secrets share
// pages. A page is unlocked only when the last locked buffer on it goes.
var locked = struct {
	sync.Mutex
	pages   map[uintptr]int // page address -> locked buffers on it
	buffers map[uintptr]int // buffer address -> length
}{
	pages:   make(map[uintptr]int),
	buffers: make(map[uintptr]int),
}

// span returns the first and last page addresses covered by b.
func span(b []byte) (first, last uintptr) {
	start := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	first = start &^ (pageSize - 1)
	last = (start + uintptr(len(b)) - 1) &^ (pageSize - 1)
	return first, last
}

// lock keeps b out of swap. Failure (usually RLIMIT_MEMLOCK) is not fatal.
func lock(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	locked.Lock()
	defer locked.Unlock()

	if err := unix.Mlock(b); err != nil {
		return err
	}
	locked.buffers[uintptr(unsafe.Pointer(unsafe.SliceData(b)))] = len(b)
	first, last := span(b)
	for p := first; p <= last; p += pageSize {
		locked.pages[p]++
	}
	return nil
}

func unlock(b []byte) {
	if len(b) == 0 {
		return
	}
	locked.Lock()
	defer locked.Unlock()

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if _, ok := locked.buffers[addr]; !ok {
		return
	}
	delete(locked.buffers, addr)

	first, last := span(b)
	for p := first; p <= last; p += pageSize {
		if n := locked.pages[p]; n > 1 {
			locked.pages[p] = n - 1
			continue
		}
		delete(locked.pages, p)
		_, _, _ = unix.Syscall(unix.SYS_MUNLOCK, p, pageSize, 0)
	}
}
