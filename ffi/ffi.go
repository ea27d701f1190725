// Package ffi synthesizes machine-code trampolines at runtime that bridge
// a generic, type-erased argument vector onto the native calling
// convention of the host, call a target function, and store its result
// through a caller-supplied buffer.
//
// # Overview
//
// This package allows you to:
//   - Load dynamic libraries and resolve symbols (LoadLibrary, GetSymbol)
//   - Describe a native function (types.NewSignature)
//   - Compile a trampoline for it (NewTrampoline)
//   - Call it through a uniform argument vector (Invoke)
//
// # Basic Usage
//
//	handle, err := ffi.LoadLibrary("libm.so.6")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cbrt, err := ffi.GetSymbol(handle, "cbrt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sig, err := types.NewSignature("cbrt", types.F64,
//	    []types.TypeKind{types.F64}, cbrt)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tramp, err := ffi.NewTrampoline(sig)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tramp.Close()
//
//	arg := 27.0
//	var result float64
//	err = tramp.Invoke(
//	    []unsafe.Pointer{unsafe.Pointer(&arg)},
//	    unsafe.Pointer(&result),
//	)
//	// result is now 3.0
//
// # Supported Platforms
//
//   - Linux, macOS, FreeBSD on AMD64 (System V ABI)
//   - Windows AMD64 (Win64 ABI)
//   - Linux, macOS on ARM64 (AAPCS64)
//
// # Safety
//
// The argument vector contains pointers TO the argument values; each
// pointee must be at least as aligned as its TypeKind's natural alignment
// and must stay valid for the duration of the call. The return buffer
// must hold at least Signature.Return().Size() bytes. The dispatcher
// validates arity and the presence of the return slot, never the
// pointees themselves.
//
// # Thread Safety
//
// A published trampoline has no hidden state: the generated code reads
// only the caller's argument storage and the target address baked into
// the code, and writes only the caller's return slot. The same trampoline
// may therefore be invoked from multiple goroutines concurrently when the
// target function itself is thread-safe and each caller uses its own
// argument and return storage. Close must not race with an in-flight
// invocation; that discipline is the caller's.
package ffi

import (
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/sanko/fictional-sloth/types"
)

// Invoke validates the argument vector against t's signature and
// transfers control to the trampoline. It is equivalent to t.Invoke.
func Invoke(t *Trampoline, args []unsafe.Pointer, ret unsafe.Pointer) error {
	return t.Invoke(args, ret)
}

// Invoke calls the target function. args holds one pointer per
// parameter, in declaration order; ret points at the return buffer and
// may be nil for void signatures. On error the return buffer has not
// been written.
func (t *Trampoline) Invoke(args []unsafe.Pointer, ret unsafe.Pointer) error {
	if got, want := len(args), t.sig.ParamCount(); got != want {
		err := &ArityError{Name: t.sig.Name(), Want: want, Got: got}
		t.log.WithField("signature", t.sig.Name()).Warn(err.Error())
		return err
	}
	if t.sig.Return() != types.Void && ret == nil {
		err := &MissingReturnSlotError{Name: t.sig.Name(), Kind: t.sig.Return()}
		t.log.WithField("signature", t.sig.Name()).Warn(err.Error())
		return err
	}

	// Entry contract shared by every generator: fn(args_base, num_args,
	// return_slot). The vector reference is ignored for zero arity.
	var base unsafe.Pointer
	if len(args) > 0 {
		base = unsafe.Pointer(&args[0])
	}
	purego.SyscallN(t.entry, uintptr(base), uintptr(len(args)), uintptr(ret))
	runtime.KeepAlive(args)
	runtime.KeepAlive(t)
	return nil
}
