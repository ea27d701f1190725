// Package sysv encodes trampolines for the System V AMD64 calling
// convention (Linux, macOS, FreeBSD on x86-64).
//
// The trampoline itself is entered as fn(args_base, num_args, return_slot)
// under the same convention, so RDI holds the argument-pointer array, RSI
// the count and RDX the return slot on entry. args_base and return_slot
// are moved into RBX and R12 immediately because the marshalling loop
// clobbers every argument register.
package sysv

import (
	"github.com/sanko/fictional-sloth/internal/emit/x86"
	"github.com/sanko/fictional-sloth/types"
)

// Register roles inside the generated code. RAX holds the current
// argument's pointee address while marshalling and the AL variadic marker
// at the call; R10 stages values spilled to the stack; R11 holds the
// target address at the call.
const (
	argsBase   = x86.RBX
	returnSlot = x86.R12
	argPtr     = x86.RAX
	spillTmp   = x86.R10
	callTarget = x86.R11
)

var intRegs = [6]x86.Reg{x86.RDI, x86.RSI, x86.RDX, x86.RCX, x86.R8, x86.R9}

var fltRegs = [8]x86.Xmm{x86.XMM0, x86.XMM1, x86.XMM2, x86.XMM3, x86.XMM4, x86.XMM5, x86.XMM6, x86.XMM7}

// Generator implements arch.Generator for SysV AMD64.
type Generator struct{}

// New returns the SysV AMD64 generator.
func New() *Generator { return &Generator{} }

func (*Generator) Name() string { return "sysv-amd64" }

// MaxSize bounds the trampoline size: prologue/epilogue plus the widest
// per-parameter sequence (pointer fetch plus a two-slot spill).
func (*Generator) MaxSize(paramCount int) int {
	return 96 + 48*paramCount
}

// placement of one parameter after register allocation.
type placement struct {
	kind     types.TypeKind
	reg      int  // first integer register index, -1 if none
	xmm      int  // float register index, -1 if none
	stackOff int32 // byte offset into the outgoing argument area, -1 if none
}

// allocate runs the left-to-right register allocation from the ABI: six
// integer registers, eight XMM registers, 128-bit pairs in two adjacent
// integer registers, and no backfilling once a class has spilled (indices
// only ever advance). ok is false when a kind cannot be encoded.
func allocate(sig *types.Signature) (places []placement, stackBytes int32, ok bool) {
	intIdx, fltIdx := 0, 0
	intSpilled, fltSpilled := false, false
	places = make([]placement, sig.ParamCount())
	for i := range places {
		k := sig.Param(i)
		p := placement{kind: k, reg: -1, xmm: -1, stackOff: -1}
		switch k.Class() {
		case types.ClassInteger:
			if !intSpilled && intIdx < len(intRegs) {
				p.reg = intIdx
				intIdx++
			} else {
				intSpilled = true
				p.stackOff = stackBytes
				stackBytes += 8
			}
		case types.ClassFloat:
			if !fltSpilled && fltIdx < len(fltRegs) {
				p.xmm = fltIdx
				fltIdx++
			} else {
				fltSpilled = true
				p.stackOff = stackBytes
				stackBytes += 8
			}
		case types.ClassIntegerPair:
			if !intSpilled && intIdx+2 <= len(intRegs) {
				p.reg = intIdx
				intIdx += 2
			} else {
				intSpilled = true
				p.stackOff = stackBytes
				stackBytes += 16
			}
		default:
			return nil, 0, false
		}
		places[i] = p
	}
	return places, stackBytes, true
}

// Emit writes the trampoline for sig and returns the bytes needed, or 0
// if a kind in the signature has no SysV encoding.
func (g *Generator) Emit(buf []byte, sig *types.Signature) int {
	if !returnSupported(sig.Return()) {
		return 0
	}
	places, stackBytes, ok := allocate(sig)
	if !ok {
		return 0
	}

	// The frame pointer push plus the two callee-saved pushes keep RSP
	// 16-byte aligned, so the reservation only needs to round the
	// outgoing argument area itself.
	reserve := (stackBytes + 15) &^ 15

	a := x86.New(buf)
	a.EndBr64()
	a.Push(x86.RBP)
	a.MovRR(x86.RBP, x86.RSP)
	a.Push(argsBase)
	a.Push(returnSlot)
	a.MovRR(argsBase, x86.RDI)
	a.MovRR(returnSlot, x86.RDX)
	if reserve > 0 {
		a.SubRSP(reserve)
	}

	for i, p := range places {
		a.LoadQ(argPtr, argsBase, int32(i)*8)
		emitParam(a, p)
	}

	// AL holds the XMM count convention for variadic callees; fixed
	// signatures pass zero.
	a.XorEaxEax()
	a.MovImm64(callTarget, uint64(uintptr(sig.Target())))
	a.CallReg(callTarget)

	emitReturnStore(a, sig.Return())

	if reserve > 0 {
		a.AddRSP(reserve)
	}
	a.Pop(returnSlot)
	a.Pop(argsBase)
	a.Pop(x86.RBP)
	a.Ret()

	return a.Len()
}

func returnSupported(k types.TypeKind) bool {
	return k.Valid()
}

// emitParam moves the pointee of argPtr into the parameter's assigned
// register or stack slot with the extension rule of its kind.
func emitParam(a *x86.Assembler, p placement) {
	switch {
	case p.xmm >= 0:
		x := fltRegs[p.xmm]
		if p.kind == types.F32 {
			a.LoadSS(x, argPtr, 0)
		} else {
			a.LoadSD(x, argPtr, 0)
		}
	case p.reg >= 0 && p.kind.Class() == types.ClassIntegerPair:
		a.LoadQ(intRegs[p.reg], argPtr, 0)
		a.LoadQ(intRegs[p.reg+1], argPtr, 8)
	case p.reg >= 0:
		loadInt(a, intRegs[p.reg], p.kind)
	case p.kind.Class() == types.ClassIntegerPair:
		a.LoadQ(spillTmp, argPtr, 0)
		a.StoreQ(x86.RSP, p.stackOff, spillTmp)
		a.LoadQ(spillTmp, argPtr, 8)
		a.StoreQ(x86.RSP, p.stackOff+8, spillTmp)
	case p.kind == types.F32:
		// A spilled float32 occupies an 8-byte slot; the upper half is
		// never read by the callee.
		a.LoadL(spillTmp, argPtr, 0)
		a.StoreQ(x86.RSP, p.stackOff, spillTmp)
	case p.kind == types.F64:
		a.LoadQ(spillTmp, argPtr, 0)
		a.StoreQ(x86.RSP, p.stackOff, spillTmp)
	default:
		loadInt(a, spillTmp, p.kind)
		a.StoreQ(x86.RSP, p.stackOff, spillTmp)
	}
}

// loadInt emits the type-directed load of an integer-class value from
// [argPtr] into dst. Widths follow the LP64 data model: Wchar is a signed
// 32-bit int and Long is 64-bit under SysV.
func loadInt(a *x86.Assembler, dst x86.Reg, k types.TypeKind) {
	switch k {
	case types.Bool, types.U8:
		a.LoadZxB(dst, argPtr, 0)
	case types.I8:
		a.LoadSxB(dst, argPtr, 0)
	case types.U16:
		a.LoadZxW(dst, argPtr, 0)
	case types.I16:
		a.LoadSxW(dst, argPtr, 0)
	case types.I32, types.Wchar:
		a.LoadSxD(dst, argPtr, 0)
	case types.U32:
		a.LoadL(dst, argPtr, 0)
	default: // I64, U64, Long, ULong, Size, Pointer
		a.LoadQ(dst, argPtr, 0)
	}
}

// emitReturnStore writes the return registers through returnSlot with the
// width of the return kind. Integer returns arrive in RAX, floats in
// XMM0, and 128-bit integers in RAX:RDX.
func emitReturnStore(a *x86.Assembler, k types.TypeKind) {
	switch k {
	case types.Void:
	case types.Bool, types.I8, types.U8:
		a.StoreB(returnSlot, 0, x86.RAX)
	case types.I16, types.U16:
		a.StoreW(returnSlot, 0, x86.RAX)
	case types.I32, types.U32, types.Wchar:
		a.StoreL(returnSlot, 0, x86.RAX)
	case types.F32:
		a.StoreSS(returnSlot, 0, x86.XMM0)
	case types.F64:
		a.StoreSD(returnSlot, 0, x86.XMM0)
	case types.I128, types.U128:
		a.StoreQ(returnSlot, 0, x86.RAX)
		a.StoreQ(returnSlot, 8, x86.RDX)
	default: // I64, U64, Long, ULong, Size, Pointer
		a.StoreQ(returnSlot, 0, x86.RAX)
	}
}
