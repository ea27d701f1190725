// Package memory is the platform memory service for the trampoline
// engine: page-granular executable allocations, their release, and
// instruction-cache maintenance.
//
// Regions follow the write-xor-execute lifecycle: Alloc maps pages
// read/write, the caller emits code into Bytes(), and Publish remaps the
// region read/execute and flushes the instruction cache. After Publish
// the region is immutable until Free.
package memory

import (
	"os"
)

// Region is one page-granular allocation.
type Region struct {
	mem []byte
}

// PageSize returns the host page granularity.
func PageSize() int {
	return os.Getpagesize()
}

// roundToPages rounds n up to page granularity.
func roundToPages(n int) int {
	page := PageSize()
	return (n + page - 1) &^ (page - 1)
}

// Alloc maps at least size bytes of read/write memory. The returned
// region's capacity is size rounded up to page granularity. The error is
// the OS refusal, which the caller surfaces as an out-of-memory
// construction failure.
func Alloc(size int) (*Region, error) {
	mem, err := allocPages(roundToPages(size))
	if err != nil {
		return nil, err
	}
	return &Region{mem: mem}, nil
}

// Cap returns the usable capacity in bytes.
func (r *Region) Cap() int { return len(r.mem) }

// Bytes returns the writable view of the region. Writing through it
// after Publish is a programmer error.
func (r *Region) Bytes() []byte { return r.mem }

// Base returns the address of the first byte.
func (r *Region) Base() uintptr { return baseAddr(r.mem) }

// Publish remaps the region read/execute and flushes the instruction
// cache over the first n bytes. The region must not be written
// afterwards.
func (r *Region) Publish(n int) error {
	if err := protectExec(r.mem); err != nil {
		return err
	}
	FlushICache(r.mem[:n])
	return nil
}

// Free releases the pages. The region must not be used afterwards; the
// caller guarantees no in-flight execution.
func (r *Region) Free() error {
	mem := r.mem
	r.mem = nil
	if mem == nil {
		return nil
	}
	return freePages(mem)
}
