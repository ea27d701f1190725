//go:build !arm64

package memory

// FlushICache is a no-op: x86-64 keeps instruction fetch coherent with
// data writes, so publication needs no explicit maintenance.
func FlushICache(b []byte) {}
