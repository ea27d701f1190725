//go:build darwin && arm64

package memory

import (
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// macOS exposes the cache maintenance sequence as a libSystem call;
// using it keeps the engine inside Apple's supported JIT surface.
var (
	icacheOnce       sync.Once
	icacheInvalidate func(start unsafe.Pointer, size uintptr)
)

// FlushICache makes freshly written instructions visible to the fetch
// unit via sys_icache_invalidate.
func FlushICache(b []byte) {
	if len(b) == 0 {
		return
	}
	icacheOnce.Do(func() {
		lib, err := purego.Dlopen("/usr/lib/libSystem.B.dylib",
			purego.RTLD_GLOBAL|purego.RTLD_LAZY)
		if err != nil {
			panic("memory: libSystem unavailable: " + err.Error())
		}
		purego.RegisterLibFunc(&icacheInvalidate, lib, "sys_icache_invalidate")
	})
	icacheInvalidate(unsafe.Pointer(&b[0]), uintptr(len(b)))
}
