// Package aapcs encodes trampolines for the AArch64 procedure call
// standard (Linux and macOS on ARM64).
//
// The trampoline is entered as fn(args_base, num_args, return_slot) with
// X0/X1/X2 holding the three values; args_base and return_slot move into
// X19 and X20 before the marshalling loop clobbers the argument
// registers. The call target is materialized into X16 (IP0), which the
// standard reserves for exactly this kind of veneer.
package aapcs

import (
	"github.com/sanko/fictional-sloth/internal/emit/a64"
	"github.com/sanko/fictional-sloth/types"
)

const (
	argsBase   = a64.X19
	returnSlot = a64.X20
	argPtr     = a64.X9
	spillTmp   = a64.X10
	callTarget = a64.X16
)

const numIntRegs = 8 // X0-X7
const numFltRegs = 8 // V0-V7

// Generator implements arch.Generator for AAPCS64.
type Generator struct{}

// New returns the AAPCS64 generator.
func New() *Generator { return &Generator{} }

func (*Generator) Name() string { return "aapcs-arm64" }

func (*Generator) MaxSize(paramCount int) int {
	return 96 + 32*paramCount
}

type placement struct {
	kind     types.TypeKind
	reg      int // first X register, -1 if none
	vreg     int // V register, -1 if none
	stackOff int32
}

// allocate runs the left-to-right allocation: eight X registers, eight V
// registers, pairs in two adjacent X registers, and no backfilling once
// a class has spilled.
func allocate(sig *types.Signature) (places []placement, stackBytes int32, ok bool) {
	intIdx, fltIdx := 0, 0
	intSpilled, fltSpilled := false, false
	places = make([]placement, sig.ParamCount())
	for i := range places {
		k := sig.Param(i)
		p := placement{kind: k, reg: -1, vreg: -1, stackOff: -1}
		switch k.Class() {
		case types.ClassInteger:
			if !intSpilled && intIdx < numIntRegs {
				p.reg = intIdx
				intIdx++
			} else {
				intSpilled = true
				p.stackOff = stackBytes
				stackBytes += 8
			}
		case types.ClassFloat:
			if !fltSpilled && fltIdx < numFltRegs {
				p.vreg = fltIdx
				fltIdx++
			} else {
				fltSpilled = true
				p.stackOff = stackBytes
				stackBytes += 8
			}
		case types.ClassIntegerPair:
			if !intSpilled && intIdx+2 <= numIntRegs {
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
// if a kind in the signature has no AAPCS64 encoding.
func (g *Generator) Emit(buf []byte, sig *types.Signature) int {
	if !sig.Return().Valid() {
		return 0
	}
	places, stackBytes, ok := allocate(sig)
	if !ok {
		return 0
	}

	// SP stays 16-byte aligned throughout: both register pairs are saved
	// with pre-indexed 16-byte pushes and the outgoing area is rounded.
	reserve := uint32(stackBytes+15) &^ 15

	a := a64.New(buf)
	a.BtiC()
	a.StpPre(a64.X29, a64.X30, a64.SP, -16)
	a.AddImm(a64.X29, a64.SP, 0)
	a.StpPre(argsBase, returnSlot, a64.SP, -16)
	a.MovRR(argsBase, a64.X0)
	a.MovRR(returnSlot, a64.X2)
	if reserve > 0 {
		a.SubImm(a64.SP, a64.SP, reserve)
	}

	for i, p := range places {
		a.LdrX(argPtr, argsBase, uint32(i)*8)
		emitParam(a, p)
	}

	a.MovImm64(callTarget, uint64(uintptr(sig.Target())))
	a.Blr(callTarget)

	emitReturnStore(a, sig.Return())

	if reserve > 0 {
		a.AddImm(a64.SP, a64.SP, reserve)
	}
	a.LdpPost(argsBase, returnSlot, a64.SP, 16)
	a.LdpPost(a64.X29, a64.X30, a64.SP, 16)
	a.Ret()

	return a.Len()
}

func emitParam(a *a64.Assembler, p placement) {
	switch {
	case p.vreg >= 0:
		if p.kind == types.F32 {
			a.LdrS(a64.VReg(p.vreg), argPtr, 0)
		} else {
			a.LdrD(a64.VReg(p.vreg), argPtr, 0)
		}
	case p.reg >= 0 && p.kind.Class() == types.ClassIntegerPair:
		a.LdrX(a64.Reg(p.reg), argPtr, 0)
		a.LdrX(a64.Reg(p.reg+1), argPtr, 8)
	case p.reg >= 0:
		loadInt(a, a64.Reg(p.reg), p.kind)
	case p.kind.Class() == types.ClassIntegerPair:
		a.LdrX(spillTmp, argPtr, 0)
		a.StrX(spillTmp, a64.SP, uint32(p.stackOff))
		a.LdrX(spillTmp, argPtr, 8)
		a.StrX(spillTmp, a64.SP, uint32(p.stackOff)+8)
	case p.kind == types.F32:
		// A spilled float32 occupies an 8-byte slot; the callee only
		// reads the low word.
		a.LdrW(spillTmp, argPtr, 0)
		a.StrX(spillTmp, a64.SP, uint32(p.stackOff))
	case p.kind == types.F64:
		a.LdrX(spillTmp, argPtr, 0)
		a.StrX(spillTmp, a64.SP, uint32(p.stackOff))
	default:
		loadInt(a, spillTmp, p.kind)
		a.StrX(spillTmp, a64.SP, uint32(p.stackOff))
	}
}

// loadInt emits the type-directed load for the LP64 data model (Wchar is
// a signed 32-bit int, Long is 64-bit).
func loadInt(a *a64.Assembler, dst a64.Reg, k types.TypeKind) {
	switch k {
	case types.Bool, types.U8:
		a.LdrB(dst, argPtr, 0)
	case types.I8:
		a.LdrSB(dst, argPtr, 0)
	case types.U16:
		a.LdrH(dst, argPtr, 0)
	case types.I16:
		a.LdrSH(dst, argPtr, 0)
	case types.I32, types.Wchar:
		a.LdrSW(dst, argPtr, 0)
	case types.U32:
		a.LdrW(dst, argPtr, 0)
	default: // I64, U64, Long, ULong, Size, Pointer
		a.LdrX(dst, argPtr, 0)
	}
}

// emitReturnStore writes the return registers through returnSlot. Integer
// returns arrive in X0, floats in V0, and 128-bit integers in X0:X1.
func emitReturnStore(a *a64.Assembler, k types.TypeKind) {
	switch k {
	case types.Void:
	case types.Bool, types.I8, types.U8:
		a.StrB(a64.X0, returnSlot, 0)
	case types.I16, types.U16:
		a.StrH(a64.X0, returnSlot, 0)
	case types.I32, types.U32, types.Wchar:
		a.StrW(a64.X0, returnSlot, 0)
	case types.F32:
		a.StrS(a64.V0, returnSlot, 0)
	case types.F64:
		a.StrD(a64.V0, returnSlot, 0)
	case types.I128, types.U128:
		a.StrX(a64.X0, returnSlot, 0)
		a.StrX(a64.X1, returnSlot, 8)
	default: // I64, U64, Long, ULong, Size, Pointer
		a.StrX(a64.X0, returnSlot, 0)
	}
}
