package types

import (
	"fmt"
	"math"
	"unsafe"
)

// Scalar is a type-indexed value buffer: 16 bytes of storage, 8-byte
// aligned on 64-bit hosts, tagged with the TypeKind it holds. It replaces the C-style union
// return buffer. A Scalar is large enough for any supported kind, so one
// can be sized without consulting the Signature, and its accessors are
// checked against the tag.
//
// A Scalar works on both sides of a call: Ptr() is a valid argument slot
// for the dispatcher and a valid return slot for any kind.
type Scalar struct {
	kind TypeKind
	_    uint64 // padding before buf
	buf  [2]uint64
}

// NewScalar returns a zeroed Scalar tagged with kind.
func NewScalar(kind TypeKind) *Scalar {
	return &Scalar{kind: kind}
}

// Kind returns the tag.
func (s *Scalar) Kind() TypeKind { return s.kind }

// Ptr returns the address of the underlying storage.
func (s *Scalar) Ptr() unsafe.Pointer { return unsafe.Pointer(&s.buf[0]) }

func (s *Scalar) check(want ...TypeKind) {
	for _, k := range want {
		if s.kind == k {
			return
		}
	}
	panic(fmt.Sprintf("types: scalar holds %s, not %s", s.kind, want[0]))
}

// SetBool stores v. Panics unless the tag is Bool.
func (s *Scalar) SetBool(v bool) {
	s.check(Bool)
	s.buf[0] = 0
	if v {
		s.buf[0] = 1
	}
}

// Bool reads the value. Panics unless the tag is Bool.
func (s *Scalar) Bool() bool {
	s.check(Bool)
	return *(*uint8)(s.Ptr()) != 0
}

func (s *Scalar) SetI8(v int8) {
	s.check(I8)
	*(*int8)(s.Ptr()) = v
}

func (s *Scalar) I8() int8 {
	s.check(I8)
	return *(*int8)(s.Ptr())
}

func (s *Scalar) SetU8(v uint8) {
	s.check(U8)
	*(*uint8)(s.Ptr()) = v
}

func (s *Scalar) U8() uint8 {
	s.check(U8)
	return *(*uint8)(s.Ptr())
}

func (s *Scalar) SetI16(v int16) {
	s.check(I16)
	*(*int16)(s.Ptr()) = v
}

func (s *Scalar) I16() int16 {
	s.check(I16)
	return *(*int16)(s.Ptr())
}

func (s *Scalar) SetU16(v uint16) {
	s.check(U16, Wchar)
	*(*uint16)(s.Ptr()) = v
}

func (s *Scalar) U16() uint16 {
	s.check(U16, Wchar)
	return *(*uint16)(s.Ptr())
}

func (s *Scalar) SetI32(v int32) {
	s.check(I32, Wchar, Long)
	*(*int32)(s.Ptr()) = v
}

func (s *Scalar) I32() int32 {
	s.check(I32, Wchar, Long)
	return *(*int32)(s.Ptr())
}

func (s *Scalar) SetU32(v uint32) {
	s.check(U32, ULong)
	*(*uint32)(s.Ptr()) = v
}

func (s *Scalar) U32() uint32 {
	s.check(U32, ULong)
	return *(*uint32)(s.Ptr())
}

func (s *Scalar) SetI64(v int64) {
	s.check(I64, Long)
	*(*int64)(s.Ptr()) = v
}

func (s *Scalar) I64() int64 {
	s.check(I64, Long)
	return *(*int64)(s.Ptr())
}

func (s *Scalar) SetU64(v uint64) {
	s.check(U64, Size, ULong)
	s.buf[0] = v
}

func (s *Scalar) U64() uint64 {
	s.check(U64, Size, ULong)
	return s.buf[0]
}

func (s *Scalar) SetF32(v float32) {
	s.check(F32)
	*(*uint32)(s.Ptr()) = math.Float32bits(v)
}

func (s *Scalar) F32() float32 {
	s.check(F32)
	return math.Float32frombits(*(*uint32)(s.Ptr()))
}

func (s *Scalar) SetF64(v float64) {
	s.check(F64)
	s.buf[0] = math.Float64bits(v)
}

func (s *Scalar) F64() float64 {
	s.check(F64)
	return math.Float64frombits(s.buf[0])
}

// SetPointer stores a machine pointer. Panics unless the tag is Pointer.
func (s *Scalar) SetPointer(v unsafe.Pointer) {
	s.check(Pointer)
	*(*unsafe.Pointer)(s.Ptr()) = v
}

func (s *Scalar) Pointer() unsafe.Pointer {
	s.check(Pointer)
	return *(*unsafe.Pointer)(s.Ptr())
}

// SetPair stores a 128-bit integer as (low, high) halves in memory order.
func (s *Scalar) SetPair(lo, hi uint64) {
	s.check(I128, U128)
	s.buf[0] = lo
	s.buf[1] = hi
}

// Pair reads a 128-bit integer as (low, high) halves.
func (s *Scalar) Pair() (lo, hi uint64) {
	s.check(I128, U128)
	return s.buf[0], s.buf[1]
}
