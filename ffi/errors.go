package ffi

import (
	"fmt"

	"github.com/sanko/fictional-sloth/types"
)

// OutOfMemoryError indicates the OS refused an executable-memory
// operation during trampoline construction.
//
// Example:
//
//	var oomErr *OutOfMemoryError
//	if errors.As(err, &oomErr) {
//	    fmt.Printf("allocation of %d bytes failed: %v\n", oomErr.Size, oomErr.Err)
//	}
type OutOfMemoryError struct {
	Size int   // Requested size in bytes
	Err  error // Underlying OS error
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("executable allocation of %d bytes failed: %v", e.Size, e.Err)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *OutOfMemoryError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is().
func (e *OutOfMemoryError) Is(target error) bool {
	_, ok := target.(*OutOfMemoryError)
	return ok
}

// UnsupportedTypeError indicates the host generator cannot encode a
// TypeKind in the signature.
type UnsupportedTypeError struct {
	ABI  string         // Generator name, e.g. "sysv-amd64"
	Kind types.TypeKind // Offending kind
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("type %s cannot be encoded for %s", e.Kind, e.ABI)
}

// Is implements error equality for errors.Is().
func (e *UnsupportedTypeError) Is(target error) bool {
	_, ok := target.(*UnsupportedTypeError)
	return ok
}

// EncodingOverflowError indicates the generator needed more bytes than
// the allocated region holds; construction was rolled back and nothing
// was published.
type EncodingOverflowError struct {
	ABI      string
	Need     int // Bytes the trampoline requires
	Capacity int // Bytes the region holds
}

func (e *EncodingOverflowError) Error() string {
	return fmt.Sprintf("%s trampoline needs %d bytes, region holds %d",
		e.ABI, e.Need, e.Capacity)
}

// Is implements error equality for errors.Is().
func (e *EncodingOverflowError) Is(target error) bool {
	_, ok := target.(*EncodingOverflowError)
	return ok
}

// ArityError indicates the dispatcher received an argument count
// different from the signature's parameter count. The return slot was
// not written.
type ArityError struct {
	Name string // Signature debug name
	Want int    // Signature parameter count
	Got  int    // Argument vector length
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s takes %d arguments, got %d", e.Name, e.Want, e.Got)
}

// Is implements error equality for errors.Is().
func (e *ArityError) Is(target error) bool {
	_, ok := target.(*ArityError)
	return ok
}

// MissingReturnSlotError indicates a non-void signature was invoked with
// a nil return slot.
type MissingReturnSlotError struct {
	Name string         // Signature debug name
	Kind types.TypeKind // Return kind that needed the slot
}

func (e *MissingReturnSlotError) Error() string {
	return fmt.Sprintf("%s returns %s but no return slot was supplied", e.Name, e.Kind)
}

// Is implements error equality for errors.Is().
func (e *MissingReturnSlotError) Is(target error) bool {
	_, ok := target.(*MissingReturnSlotError)
	return ok
}

// UnsupportedPlatformError indicates the current platform has no
// trampoline generator.
type UnsupportedPlatformError struct {
	OS   string // Operating system (e.g., "linux", "windows", "darwin")
	Arch string // Architecture (e.g., "amd64", "arm64")
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s/%s (no trampoline generator for this host)",
		e.OS, e.Arch)
}

// Is implements error equality for errors.Is().
func (e *UnsupportedPlatformError) Is(target error) bool {
	_, ok := target.(*UnsupportedPlatformError)
	return ok
}

// LibraryError wraps dynamic library loading and symbol resolution
// errors with the operation and name that failed.
type LibraryError struct {
	Operation string // "load", "symbol", or "free"
	Name      string // Library path or symbol name
	Err       error  // Underlying OS error (can be nil)
}

func (e *LibraryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("library %s failed for %q: %v", e.Operation, e.Name, e.Err)
	}
	return fmt.Sprintf("library %s failed for %q", e.Operation, e.Name)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *LibraryError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is().
func (e *LibraryError) Is(target error) bool {
	_, ok := target.(*LibraryError)
	return ok
}
