// Package x86 is a small x86-64 instruction encoder covering the forms the
// trampoline generators need: register/memory moves with the type-directed
// extension rules, scalar SSE moves, stack adjustment, and an absolute
// indirect call. Generators compose these emitters instead of writing
// opcode bytes themselves.
package x86

// Reg is a general-purpose 64-bit register. The value is the hardware
// encoding; registers 8-15 set the relevant REX extension bit.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Xmm is an SSE register. The trampoline generators only ever allocate
// XMM0-XMM7, but the encoder handles the REX.R form for completeness.
type Xmm uint8

const (
	XMM0 Xmm = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
)

// Assembler writes instructions into a caller-supplied buffer. Emission
// past the end of the buffer is counted but not written, so Len() always
// reports the bytes the full sequence needs; the caller compares Len()
// against cap to detect overflow.
type Assembler struct {
	buf []byte
	n   int
}

// New returns an Assembler writing into buf.
func New(buf []byte) *Assembler {
	return &Assembler{buf: buf}
}

// Len returns the number of bytes emitted so far, whether or not they fit.
func (a *Assembler) Len() int { return a.n }

// Fits reports whether everything emitted so far fit in the buffer.
func (a *Assembler) Fits() bool { return a.n <= len(a.buf) }

func (a *Assembler) put(bs ...byte) {
	for _, b := range bs {
		if a.n < len(a.buf) {
			a.buf[a.n] = b
		}
		a.n++
	}
}

func (a *Assembler) put32(v uint32) {
	a.put(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *Assembler) put64(v uint64) {
	a.put32(uint32(v))
	a.put32(uint32(v >> 32))
}

// rex emits a REX prefix when any bit is required.
func (a *Assembler) rex(w bool, reg, base uint8) {
	b := uint8(0x40)
	if w {
		b |= 0x08
	}
	if reg >= 8 {
		b |= 0x04
	}
	if base >= 8 {
		b |= 0x01
	}
	if b != 0x40 {
		a.put(b)
	}
}

// rexW always emits REX with W set.
func (a *Assembler) rexW(reg, base uint8) {
	b := uint8(0x48)
	if reg >= 8 {
		b |= 0x04
	}
	if base >= 8 {
		b |= 0x01
	}
	a.put(b)
}

// mem emits the ModRM (and SIB/displacement) bytes for [base+disp] with the
// given value in the reg field. RSP and R12 as base need a SIB byte; RBP
// and R13 cannot use the no-displacement form.
func (a *Assembler) mem(reg uint8, base Reg, disp int32) {
	lo := uint8(base) & 7
	rm := lo
	sib := false
	if lo == 4 { // RSP/R12
		sib = true
	}
	var mod uint8
	switch {
	case disp == 0 && lo != 5: // RBP/R13 always need a displacement
		mod = 0
	case disp >= -128 && disp <= 127:
		mod = 1
	default:
		mod = 2
	}
	a.put(mod<<6 | (reg&7)<<3 | rm)
	if sib {
		a.put(0x24)
	}
	switch mod {
	case 1:
		a.put(byte(disp))
	case 2:
		a.put32(uint32(disp))
	}
}

// regrm emits a register-direct ModRM byte.
func (a *Assembler) regrm(reg, rm uint8) {
	a.put(0xC0 | (reg&7)<<3 | rm&7)
}

// EndBr64 emits the CET end-branch marker.
func (a *Assembler) EndBr64() { a.put(0xF3, 0x0F, 0x1E, 0xFA) }

// Push emits push r64.
func (a *Assembler) Push(r Reg) {
	if r >= 8 {
		a.put(0x41)
	}
	a.put(0x50 + uint8(r)&7)
}

// Pop emits pop r64.
func (a *Assembler) Pop(r Reg) {
	if r >= 8 {
		a.put(0x41)
	}
	a.put(0x58 + uint8(r)&7)
}

// MovRR emits mov dst, src (64-bit).
func (a *Assembler) MovRR(dst, src Reg) {
	a.rexW(uint8(src), uint8(dst))
	a.put(0x89)
	a.regrm(uint8(src), uint8(dst))
}

// MovImm64 emits mov r64, imm64.
func (a *Assembler) MovImm64(dst Reg, v uint64) {
	a.rexW(0, uint8(dst))
	a.put(0xB8 + uint8(dst)&7)
	a.put64(v)
}

// LoadQ emits mov dst, qword [base+disp].
func (a *Assembler) LoadQ(dst, base Reg, disp int32) {
	a.rexW(uint8(dst), uint8(base))
	a.put(0x8B)
	a.mem(uint8(dst), base, disp)
}

// LoadL emits mov dst32, dword [base+disp], zero-extending into the full
// register.
func (a *Assembler) LoadL(dst, base Reg, disp int32) {
	a.rex(false, uint8(dst), uint8(base))
	a.put(0x8B)
	a.mem(uint8(dst), base, disp)
}

// LoadSxD emits movsxd dst, dword [base+disp].
func (a *Assembler) LoadSxD(dst, base Reg, disp int32) {
	a.rexW(uint8(dst), uint8(base))
	a.put(0x63)
	a.mem(uint8(dst), base, disp)
}

// LoadZxB emits movzx dst32, byte [base+disp].
func (a *Assembler) LoadZxB(dst, base Reg, disp int32) {
	a.rex(false, uint8(dst), uint8(base))
	a.put(0x0F, 0xB6)
	a.mem(uint8(dst), base, disp)
}

// LoadSxB emits movsx dst, byte [base+disp] (64-bit destination).
func (a *Assembler) LoadSxB(dst, base Reg, disp int32) {
	a.rexW(uint8(dst), uint8(base))
	a.put(0x0F, 0xBE)
	a.mem(uint8(dst), base, disp)
}

// LoadZxW emits movzx dst32, word [base+disp].
func (a *Assembler) LoadZxW(dst, base Reg, disp int32) {
	a.rex(false, uint8(dst), uint8(base))
	a.put(0x0F, 0xB7)
	a.mem(uint8(dst), base, disp)
}

// LoadSxW emits movsx dst, word [base+disp] (64-bit destination).
func (a *Assembler) LoadSxW(dst, base Reg, disp int32) {
	a.rexW(uint8(dst), uint8(base))
	a.put(0x0F, 0xBF)
	a.mem(uint8(dst), base, disp)
}

// StoreQ emits mov qword [base+disp], src.
func (a *Assembler) StoreQ(base Reg, disp int32, src Reg) {
	a.rexW(uint8(src), uint8(base))
	a.put(0x89)
	a.mem(uint8(src), base, disp)
}

// StoreL emits mov dword [base+disp], src32.
func (a *Assembler) StoreL(base Reg, disp int32, src Reg) {
	a.rex(false, uint8(src), uint8(base))
	a.put(0x89)
	a.mem(uint8(src), base, disp)
}

// StoreW emits mov word [base+disp], src16.
func (a *Assembler) StoreW(base Reg, disp int32, src Reg) {
	a.put(0x66)
	a.rex(false, uint8(src), uint8(base))
	a.put(0x89)
	a.mem(uint8(src), base, disp)
}

// StoreB emits mov byte [base+disp], src8. Only AL/CL/DL/BL and the
// REX-extended registers are addressable without a mandatory prefix; the
// generators only store AL.
func (a *Assembler) StoreB(base Reg, disp int32, src Reg) {
	a.rex(false, uint8(src), uint8(base))
	a.put(0x88)
	a.mem(uint8(src), base, disp)
}

// LoadSS emits movss x, dword [base+disp].
func (a *Assembler) LoadSS(x Xmm, base Reg, disp int32) {
	a.put(0xF3)
	a.rex(false, uint8(x), uint8(base))
	a.put(0x0F, 0x10)
	a.mem(uint8(x), base, disp)
}

// LoadSD emits movsd x, qword [base+disp].
func (a *Assembler) LoadSD(x Xmm, base Reg, disp int32) {
	a.put(0xF2)
	a.rex(false, uint8(x), uint8(base))
	a.put(0x0F, 0x10)
	a.mem(uint8(x), base, disp)
}

// StoreSS emits movss dword [base+disp], x.
func (a *Assembler) StoreSS(base Reg, disp int32, x Xmm) {
	a.put(0xF3)
	a.rex(false, uint8(x), uint8(base))
	a.put(0x0F, 0x11)
	a.mem(uint8(x), base, disp)
}

// StoreSD emits movsd qword [base+disp], x.
func (a *Assembler) StoreSD(base Reg, disp int32, x Xmm) {
	a.put(0xF2)
	a.rex(false, uint8(x), uint8(base))
	a.put(0x0F, 0x11)
	a.mem(uint8(x), base, disp)
}

// SubRSP emits sub rsp, imm32.
func (a *Assembler) SubRSP(v int32) {
	a.put(0x48, 0x81, 0xEC)
	a.put32(uint32(v))
}

// AddRSP emits add rsp, imm32.
func (a *Assembler) AddRSP(v int32) {
	a.put(0x48, 0x81, 0xC4)
	a.put32(uint32(v))
}

// XorEaxEax emits xor eax, eax, clearing RAX.
func (a *Assembler) XorEaxEax() { a.put(0x31, 0xC0) }

// CallReg emits call r64.
func (a *Assembler) CallReg(r Reg) {
	if r >= 8 {
		a.put(0x41)
	}
	a.put(0xFF)
	a.regrm(2, uint8(r))
}

// Ret emits ret.
func (a *Assembler) Ret() { a.put(0xC3) }
