// Package win64 encodes trampolines for the Microsoft x64 calling
// convention.
//
// Win64 assigns registers by parameter position rather than by class: the
// first four positions map onto RCX/RDX/R8/R9 for integers and XMM0-XMM3
// for floats, later positions live on the stack at RSP+8*position above
// the 32-byte shadow space. A 128-bit integer return travels through a
// hidden pointer passed in RCX, shifting every argument by one position.
//
// The trampoline is entered as fn(args_base, num_args, return_slot), so
// RCX holds the argument-pointer array, RDX the count and R8 the return
// slot on entry; args_base and return_slot move into RBX and RSI before
// the marshalling loop clobbers the argument registers.
package win64

import (
	"github.com/sanko/fictional-sloth/internal/emit/x86"
	"github.com/sanko/fictional-sloth/types"
)

const (
	argsBase   = x86.RBX
	returnSlot = x86.RSI
	argPtr     = x86.RAX
	spillTmp   = x86.R10
	callTarget = x86.RAX // free again once all pointers are fetched
)

var intRegs = [4]x86.Reg{x86.RCX, x86.RDX, x86.R8, x86.R9}

var fltRegs = [4]x86.Xmm{x86.XMM0, x86.XMM1, x86.XMM2, x86.XMM3}

const shadowBytes = 32

// Generator implements arch.Generator for Win64.
type Generator struct{}

// New returns the Win64 generator.
func New() *Generator { return &Generator{} }

func (*Generator) Name() string { return "win64-amd64" }

func (*Generator) MaxSize(paramCount int) int {
	return 96 + 48*paramCount
}

type placement struct {
	kind     types.TypeKind
	reg      int // positional integer register, -1 if none
	xmm      int // positional float register, -1 if none
	stackOff int32
}

// allocate assigns positions left to right. A 128-bit pair takes two
// adjacent positions when both are register positions, otherwise both
// halves go to the stack and the register file is not backfilled.
func allocate(sig *types.Signature) (places []placement, stackTop int32, ok bool) {
	pos := 0
	if sig.Return().Class() == types.ClassIntegerPair {
		pos = 1 // hidden return pointer occupies RCX
	}
	places = make([]placement, sig.ParamCount())
	for i := range places {
		k := sig.Param(i)
		p := placement{kind: k, reg: -1, xmm: -1, stackOff: -1}
		switch k.Class() {
		case types.ClassInteger:
			if pos < len(intRegs) {
				p.reg = pos
			} else {
				p.stackOff = int32(pos) * 8
			}
			pos++
		case types.ClassFloat:
			if pos < len(fltRegs) {
				p.xmm = pos
			} else {
				p.stackOff = int32(pos) * 8
			}
			pos++
		case types.ClassIntegerPair:
			if pos+2 <= len(intRegs) {
				p.reg = pos
				pos += 2
			} else {
				// Both halves spill past the shadow space even when one
				// register position remains.
				if pos < 4 {
					pos = 4
				}
				p.stackOff = int32(pos) * 8
				pos += 2
			}
		default:
			return nil, 0, false
		}
		places[i] = p
	}
	if pos < 4 {
		pos = 4
	}
	return places, int32(pos) * 8, true
}

// Emit writes the trampoline for sig and returns the bytes needed, or 0
// if a kind in the signature has no Win64 encoding.
func (g *Generator) Emit(buf []byte, sig *types.Signature) int {
	if !sig.Return().Valid() {
		return 0
	}
	places, stackTop, ok := allocate(sig)
	if !ok {
		return 0
	}

	// The reservation covers the shadow space and every stack position,
	// rounded so the call site stays 16-byte aligned after the three
	// prologue pushes. It is never below the 32-byte shadow floor.
	reserve := (stackTop + 15) &^ 15
	if reserve < shadowBytes {
		reserve = shadowBytes
	}

	a := x86.New(buf)
	a.EndBr64()
	a.Push(x86.RBP)
	a.MovRR(x86.RBP, x86.RSP)
	a.Push(argsBase)
	a.Push(returnSlot)
	a.MovRR(argsBase, x86.RCX)
	a.MovRR(returnSlot, x86.R8)
	a.SubRSP(reserve)

	pairReturn := sig.Return().Class() == types.ClassIntegerPair
	if pairReturn {
		// Hidden pointer: the callee writes the 128-bit result straight
		// into the return slot.
		a.MovRR(x86.RCX, returnSlot)
	}

	for i, p := range places {
		a.LoadQ(argPtr, argsBase, int32(i)*8)
		emitParam(a, p)
	}

	a.MovImm64(callTarget, uint64(uintptr(sig.Target())))
	a.CallReg(callTarget)

	if !pairReturn {
		emitReturnStore(a, sig.Return())
	}

	a.AddRSP(reserve)
	a.Pop(returnSlot)
	a.Pop(argsBase)
	a.Pop(x86.RBP)
	a.Ret()

	return a.Len()
}

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

// loadInt emits the type-directed load for the LLP64 data model: Wchar is
// an unsigned 16-bit wchar_t and Long stays 32-bit on Windows.
func loadInt(a *x86.Assembler, dst x86.Reg, k types.TypeKind) {
	switch k {
	case types.Bool, types.U8:
		a.LoadZxB(dst, argPtr, 0)
	case types.I8:
		a.LoadSxB(dst, argPtr, 0)
	case types.U16, types.Wchar:
		a.LoadZxW(dst, argPtr, 0)
	case types.I16:
		a.LoadSxW(dst, argPtr, 0)
	case types.I32, types.Long:
		a.LoadSxD(dst, argPtr, 0)
	case types.U32, types.ULong:
		a.LoadL(dst, argPtr, 0)
	default: // I64, U64, Size, Pointer
		a.LoadQ(dst, argPtr, 0)
	}
}

func emitReturnStore(a *x86.Assembler, k types.TypeKind) {
	switch k {
	case types.Void:
	case types.Bool, types.I8, types.U8:
		a.StoreB(returnSlot, 0, x86.RAX)
	case types.I16, types.U16, types.Wchar:
		a.StoreW(returnSlot, 0, x86.RAX)
	case types.I32, types.U32, types.Long, types.ULong:
		a.StoreL(returnSlot, 0, x86.RAX)
	case types.F32:
		a.StoreSS(returnSlot, 0, x86.XMM0)
	case types.F64:
		a.StoreSD(returnSlot, 0, x86.XMM0)
	default: // I64, U64, Size, Pointer
		a.StoreQ(returnSlot, 0, x86.RAX)
	}
}
