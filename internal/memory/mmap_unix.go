//go:build linux || darwin || freebsd

package memory

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func allocPages(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

func protectExec(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

func freePages(mem []byte) error {
	return unix.Munmap(mem)
}

func baseAddr(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
}
