//go:build arm64 && (linux || darwin)

package ffi

import (
	"encoding/binary"
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/sanko/fictional-sloth/internal/memory"
	"github.com/sanko/fictional-sloth/types"
)

// jit publishes hand-assembled AAPCS64 machine code and returns its
// entry. Publish performs the instruction-cache flush the architecture
// requires before first execution.
func jit(t *testing.T, words []uint32) unsafe.Pointer {
	t.Helper()
	r, err := memory.Alloc(len(words) * 4)
	require.NoError(t, err)
	code := r.Bytes()
	for i, w := range words {
		binary.LittleEndian.PutUint32(code[i*4:], w)
	}
	require.NoError(t, r.Publish(len(words)*4))
	t.Cleanup(func() { r.Free() })
	return unsafe.Pointer(r.Base())
}

func tramp(t *testing.T, name string, ret types.TypeKind, params []types.TypeKind, words []uint32) *Trampoline {
	t.Helper()
	sig, err := types.NewSignature(name, ret, params, jit(t, words))
	require.NoError(t, err)
	tr, err := NewTrampoline(sig)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

// int add(int a, int b) { return a + b; }
var addI32 = []uint32{
	0x0B010000, // add w0, w0, w1
	0xD65F03C0, // ret
}

// long sum9(long x 9): eight register args plus one stack arg.
var sumI64x9 = []uint32{
	0x8B010000, // add x0, x0, x1
	0x8B020000, // add x0, x0, x2
	0x8B030000, // add x0, x0, x3
	0x8B040000, // add x0, x0, x4
	0x8B050000, // add x0, x0, x5
	0x8B060000, // add x0, x0, x6
	0x8B070000, // add x0, x0, x7
	0xF94003E9, // ldr x9, [sp]
	0x8B090000, // add x0, x0, x9
	0xD65F03C0, // ret
}

// double add(double, double)
var addF64 = []uint32{
	0x1E612800, // fadd d0, d0, d1
	0xD65F03C0, // ret
}

var retOnly = []uint32{0xD65F03C0} // identity for x0/x1/d0 pass-through

func TestAddI32(t *testing.T) {
	tr := tramp(t, "add", types.I32,
		[]types.TypeKind{types.I32, types.I32}, addI32)
	a, b := int32(10), int32(20)
	var got int32
	require.NoError(t, tr.Invoke(
		[]unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b)},
		unsafe.Pointer(&got)))
	require.Equal(t, int32(30), got)
}

func TestNinthArgSpillsToStack(t *testing.T) {
	params := make([]types.TypeKind, 9)
	for i := range params {
		params[i] = types.I64
	}
	tr := tramp(t, "sum9", types.I64, params, sumI64x9)

	vals := [9]int64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	args := make([]unsafe.Pointer, 9)
	for i := range vals {
		args[i] = unsafe.Pointer(&vals[i])
	}
	var got int64
	require.NoError(t, tr.Invoke(args, unsafe.Pointer(&got)))
	require.Equal(t, int64(45), got)
}

func TestFloatRegisters(t *testing.T) {
	tr := tramp(t, "addf", types.F64,
		[]types.TypeKind{types.F64, types.F64}, addF64)
	a, b := 1.5, 2.25
	var got float64
	require.NoError(t, tr.Invoke(
		[]unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b)},
		unsafe.Pointer(&got)))
	require.Equal(t, 3.75, got)
}

func TestIdentityRoundTrips(t *testing.T) {
	t.Run("i64 extremes", func(t *testing.T) {
		tr := tramp(t, "ident_i64", types.I64, []types.TypeKind{types.I64}, retOnly)
		for _, v := range []int64{0, math.MinInt64, math.MaxInt64} {
			in := v
			var out int64
			require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
			require.Equal(t, v, out)
		}
	})

	t.Run("f64", func(t *testing.T) {
		tr := tramp(t, "ident_f64", types.F64, []types.TypeKind{types.F64}, retOnly)
		in := 2.2250738585072014e-308
		var out float64
		require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
		require.Equal(t, in, out)
	})

	t.Run("i128 in X0:X1", func(t *testing.T) {
		tr := tramp(t, "ident_i128", types.I128, []types.TypeKind{types.I128}, retOnly)
		in := types.NewScalar(types.I128)
		in.SetPair(0xFEDCBA9876543210, 0x1234567890ABCDEF)
		out := types.NewScalar(types.I128)
		require.NoError(t, tr.Invoke([]unsafe.Pointer{in.Ptr()}, out.Ptr()))
		lo, hi := out.Pair()
		require.Equal(t, uint64(0xFEDCBA9876543210), lo)
		require.Equal(t, uint64(0x1234567890ABCDEF), hi)
	})
}
