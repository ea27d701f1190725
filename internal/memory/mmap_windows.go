//go:build windows

package memory

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func allocPages(size int) ([]byte, error) {
	base, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size), nil
}

func protectExec(mem []byte) error {
	var old uint32
	return windows.VirtualProtect(baseAddr(mem), uintptr(len(mem)),
		windows.PAGE_EXECUTE_READ, &old)
}

func freePages(mem []byte) error {
	return windows.VirtualFree(baseAddr(mem), 0, windows.MEM_RELEASE)
}

func baseAddr(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
}
