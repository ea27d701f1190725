//go:build amd64 && (linux || darwin || freebsd)

package ffi

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/sanko/fictional-sloth/internal/memory"
	"github.com/sanko/fictional-sloth/types"
)

// jit publishes hand-assembled SysV machine code and returns its entry,
// giving the tests real native targets without any C fixtures.
func jit(t *testing.T, code []byte) unsafe.Pointer {
	t.Helper()
	r, err := memory.Alloc(len(code))
	require.NoError(t, err)
	copy(r.Bytes(), code)
	require.NoError(t, r.Publish(len(code)))
	t.Cleanup(func() { r.Free() })
	return unsafe.Pointer(r.Base())
}

func tramp(t *testing.T, name string, ret types.TypeKind, params []types.TypeKind, code []byte) *Trampoline {
	t.Helper()
	sig, err := types.NewSignature(name, ret, params, jit(t, code))
	require.NoError(t, err)
	tr, err := NewTrampoline(sig)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

// int add(int a, int b) { return a + b; }
var addI32 = []byte{
	0x89, 0xF8, // mov eax, edi
	0x01, 0xF0, // add eax, esi
	0xC3, // ret
}

// int sum7(int x 7): six register args plus one stack arg.
var sumI32x7 = []byte{
	0x89, 0xF8, // mov eax, edi
	0x01, 0xF0, // add eax, esi
	0x01, 0xD0, // add eax, edx
	0x01, 0xC8, // add eax, ecx
	0x44, 0x01, 0xC0, // add eax, r8d
	0x44, 0x01, 0xC8, // add eax, r9d
	0x03, 0x44, 0x24, 0x08, // add eax, [rsp+8]
	0xC3, // ret
}

// int sum8(int x 8): two stack args.
var sumI32x8 = []byte{
	0x89, 0xF8, // mov eax, edi
	0x01, 0xF0, // add eax, esi
	0x01, 0xD0, // add eax, edx
	0x01, 0xC8, // add eax, ecx
	0x44, 0x01, 0xC0, // add eax, r8d
	0x44, 0x01, 0xC8, // add eax, r9d
	0x03, 0x44, 0x24, 0x08, // add eax, [rsp+8]
	0x03, 0x44, 0x24, 0x10, // add eax, [rsp+16]
	0xC3, // ret
}

// double sum9(double x 9): eight XMM args plus one stack arg.
var sumF64x9 = []byte{
	0xF2, 0x0F, 0x58, 0xC1, // addsd xmm0, xmm1
	0xF2, 0x0F, 0x58, 0xC2, // addsd xmm0, xmm2
	0xF2, 0x0F, 0x58, 0xC3, // addsd xmm0, xmm3
	0xF2, 0x0F, 0x58, 0xC4, // addsd xmm0, xmm4
	0xF2, 0x0F, 0x58, 0xC5, // addsd xmm0, xmm5
	0xF2, 0x0F, 0x58, 0xC6, // addsd xmm0, xmm6
	0xF2, 0x0F, 0x58, 0xC7, // addsd xmm0, xmm7
	0xF2, 0x0F, 0x58, 0x44, 0x24, 0x08, // addsd xmm0, [rsp+8]
	0xC3, // ret
}

// int mixed(int x 6, float x 8, int, double): both classes spill; the
// stack holds the int at [rsp+8] and the double at [rsp+16]. Returns the
// integer sum plus the truncated float sum.
var mixedFixture = []byte{
	0x89, 0xF8, // mov eax, edi
	0x01, 0xF0, // add eax, esi
	0x01, 0xD0, // add eax, edx
	0x01, 0xC8, // add eax, ecx
	0x44, 0x01, 0xC0, // add eax, r8d
	0x44, 0x01, 0xC8, // add eax, r9d
	0x03, 0x44, 0x24, 0x08, // add eax, [rsp+8]
	0xF3, 0x0F, 0x58, 0xC1, // addss xmm0, xmm1
	0xF3, 0x0F, 0x58, 0xC2, // addss xmm0, xmm2
	0xF3, 0x0F, 0x58, 0xC3, // addss xmm0, xmm3
	0xF3, 0x0F, 0x58, 0xC4, // addss xmm0, xmm4
	0xF3, 0x0F, 0x58, 0xC5, // addss xmm0, xmm5
	0xF3, 0x0F, 0x58, 0xC6, // addss xmm0, xmm6
	0xF3, 0x0F, 0x58, 0xC7, // addss xmm0, xmm7
	0xF3, 0x0F, 0x5A, 0xC0, // cvtss2sd xmm0, xmm0
	0xF2, 0x0F, 0x58, 0x44, 0x24, 0x10, // addsd xmm0, [rsp+16]
	0xF2, 0x0F, 0x2C, 0xC8, // cvttsd2si ecx, xmm0
	0x01, 0xC8, // add eax, ecx
	0xC3, // ret
}

var identRAX = []byte{0x48, 0x89, 0xF8, 0xC3}      // mov rax, rdi; ret
var identEAX = []byte{0x89, 0xF8, 0xC3}            // mov eax, edi; ret
var identXMM = []byte{0xC3}                        // value already in xmm0
var identI128 = []byte{0x48, 0x89, 0xF8, 0x48, 0x89, 0xF2, 0xC3} // mov rax, rdi; mov rdx, rsi; ret
var retOnly = []byte{0xC3}

func i32s(n int) []types.TypeKind {
	out := make([]types.TypeKind, n)
	for i := range out {
		out[i] = types.I32
	}
	return out
}

func f64s(n int) []types.TypeKind {
	out := make([]types.TypeKind, n)
	for i := range out {
		out[i] = types.F64
	}
	return out
}

func TestAddI32(t *testing.T) {
	tr := tramp(t, "add", types.I32, i32s(2), addI32)
	a, b := int32(10), int32(20)
	var got int32
	require.NoError(t, tr.Invoke(
		[]unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b)},
		unsafe.Pointer(&got)))
	require.Equal(t, int32(30), got)
}

func TestSum7(t *testing.T) {
	tr := tramp(t, "sum7", types.I32, i32s(7), sumI32x7)

	vals := [7]int32{1, 2, 3, 4, 5, 6, 7}
	args := make([]unsafe.Pointer, 7)
	for i := range vals {
		args[i] = unsafe.Pointer(&vals[i])
	}
	var got int32
	require.NoError(t, tr.Invoke(args, unsafe.Pointer(&got)))
	require.Equal(t, int32(28), got)

	vals = [7]int32{}
	got = -1
	require.NoError(t, tr.Invoke(args, unsafe.Pointer(&got)))
	require.Equal(t, int32(0), got)
}

func TestSum8ForcesGPRSpill(t *testing.T) {
	tr := tramp(t, "sum8", types.I32, i32s(8), sumI32x8)

	vals := [8]int32{1, 2, 3, 4, 5, 6, 7, 8}
	args := make([]unsafe.Pointer, 8)
	for i := range vals {
		args[i] = unsafe.Pointer(&vals[i])
	}
	var got int32
	require.NoError(t, tr.Invoke(args, unsafe.Pointer(&got)))
	require.Equal(t, int32(36), got)
}

func TestSum9ForcesXMMSpill(t *testing.T) {
	tr := tramp(t, "sum9", types.F64, f64s(9), sumF64x9)

	vals := [9]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	args := make([]unsafe.Pointer, 9)
	for i := range vals {
		args[i] = unsafe.Pointer(&vals[i])
	}
	var got float64
	require.NoError(t, tr.Invoke(args, unsafe.Pointer(&got)))
	require.Equal(t, 45.0, got)

	for i := range vals {
		vals[i] = float64(i+1) * 10
	}
	require.NoError(t, tr.Invoke(args, unsafe.Pointer(&got)))
	require.Equal(t, 450.0, got)
}

func TestMixedClassSpill(t *testing.T) {
	params := append(append(i32s(6),
		types.F32, types.F32, types.F32, types.F32,
		types.F32, types.F32, types.F32, types.F32),
		types.I32, types.F64)
	tr := tramp(t, "mixed", types.I32, params, mixedFixture)

	ints := [7]int32{1, 2, 3, 4, 5, 6, 7}
	floats := [8]float32{1, 2, 3, 4, 5, 6, 7, 8}
	d := 9.0
	var args []unsafe.Pointer
	for i := 0; i < 6; i++ {
		args = append(args, unsafe.Pointer(&ints[i]))
	}
	for i := 0; i < 8; i++ {
		args = append(args, unsafe.Pointer(&floats[i]))
	}
	args = append(args, unsafe.Pointer(&ints[6]), unsafe.Pointer(&d))

	var got int32
	require.NoError(t, tr.Invoke(args, unsafe.Pointer(&got)))
	require.Equal(t, int32(73), got)
}

func TestVoidNoArgs(t *testing.T) {
	tr := tramp(t, "noop", types.Void, nil, retOnly)
	require.NoError(t, tr.Invoke(nil, nil))
}

func TestIdentityRoundTrips(t *testing.T) {
	t.Run("i32 extremes", func(t *testing.T) {
		tr := tramp(t, "ident_i32", types.I32, []types.TypeKind{types.I32}, identEAX)
		for _, v := range []int32{0, 1, -1, math.MinInt32, math.MaxInt32} {
			in := v
			var out int32
			require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
			require.Equal(t, v, out)
		}
	})

	t.Run("i64 extremes", func(t *testing.T) {
		tr := tramp(t, "ident_i64", types.I64, []types.TypeKind{types.I64}, identRAX)
		for _, v := range []int64{0, math.MinInt64, math.MaxInt64} {
			in := v
			var out int64
			require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
			require.Equal(t, v, out)
		}
	})

	t.Run("narrow ints extend correctly", func(t *testing.T) {
		tr := tramp(t, "ident_i8", types.I8, []types.TypeKind{types.I8}, identEAX)
		in := int8(-128)
		var out int8
		require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
		require.Equal(t, int8(-128), out)

		tu := tramp(t, "ident_u16", types.U16, []types.TypeKind{types.U16}, identEAX)
		uin := uint16(0xFFFF)
		var uout uint16
		require.NoError(t, tu.Invoke([]unsafe.Pointer{unsafe.Pointer(&uin)}, unsafe.Pointer(&uout)))
		require.Equal(t, uint16(0xFFFF), uout)
	})

	t.Run("bool", func(t *testing.T) {
		tr := tramp(t, "ident_bool", types.Bool, []types.TypeKind{types.Bool}, identEAX)
		in := true
		var out bool
		require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
		require.True(t, out)
	})

	t.Run("f32 max", func(t *testing.T) {
		tr := tramp(t, "ident_f32", types.F32, []types.TypeKind{types.F32}, identXMM)
		in := float32(math.MaxFloat32)
		var out float32
		require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
		require.Equal(t, in, out)
	})

	t.Run("f64 min normal", func(t *testing.T) {
		tr := tramp(t, "ident_f64", types.F64, []types.TypeKind{types.F64}, identXMM)
		in := 2.2250738585072014e-308
		var out float64
		require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
		require.Equal(t, in, out)
	})

	t.Run("null pointer", func(t *testing.T) {
		tr := tramp(t, "ident_ptr", types.Pointer, []types.TypeKind{types.Pointer}, identRAX)
		var in unsafe.Pointer
		out := unsafe.Pointer(t)
		require.NoError(t, tr.Invoke([]unsafe.Pointer{unsafe.Pointer(&in)}, unsafe.Pointer(&out)))
		require.Nil(t, out)
	})

	t.Run("i128 spans both halves", func(t *testing.T) {
		tr := tramp(t, "ident_i128", types.I128, []types.TypeKind{types.I128}, identI128)
		in := types.NewScalar(types.I128)
		in.SetPair(0xFEDCBA9876543210, 0x1234567890ABCDEF)
		out := types.NewScalar(types.I128)
		require.NoError(t, tr.Invoke([]unsafe.Pointer{in.Ptr()}, out.Ptr()))
		lo, hi := out.Pair()
		require.Equal(t, uint64(0xFEDCBA9876543210), lo)
		require.Equal(t, uint64(0x1234567890ABCDEF), hi)
	})
}

// Repeated invocation through one trampoline yields f(v1)..f(vn).
func TestSequentialReentrancy(t *testing.T) {
	tr := tramp(t, "add", types.I32, i32s(2), addI32)
	for i := int32(0); i < 100; i++ {
		a, b := i, i*3
		var got int32
		require.NoError(t, tr.Invoke(
			[]unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b)},
			unsafe.Pointer(&got)))
		require.Equal(t, i*4, got)
	}
}

// One trampoline invoked from many goroutines with goroutine-local
// argument and return storage stays correct: the generated code has no
// hidden state.
func TestConcurrentInvocations(t *testing.T) {
	tr := tramp(t, "add", types.I32, i32s(2), addI32)

	const workers = 8
	const rounds = 200
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := int32(0); i < rounds; i++ {
				a, b := int32(w), i
				var got int32
				if err := tr.Invoke(
					[]unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b)},
					unsafe.Pointer(&got)); err != nil {
					errs[w] = err
					return
				}
				if got != int32(w)+i {
					errs[w] = fmt.Errorf("add(%d, %d) = %d", w, i, got)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	for w, err := range errs {
		require.NoError(t, err, "worker %d", w)
	}
}

func BenchmarkInvokeAdd(b *testing.B) {
	sig, err := types.NewSignature("add", types.I32, i32s(2), jitBench(b, addI32))
	if err != nil {
		b.Fatal(err)
	}
	tr, err := NewTrampoline(sig)
	if err != nil {
		b.Fatal(err)
	}
	defer tr.Close()

	x, y := int32(2), int32(3)
	args := []unsafe.Pointer{unsafe.Pointer(&x), unsafe.Pointer(&y)}
	var out int32

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tr.Invoke(args, unsafe.Pointer(&out)); err != nil {
			b.Fatal(err)
		}
	}
}

func jitBench(b *testing.B, code []byte) unsafe.Pointer {
	b.Helper()
	r, err := memory.Alloc(len(code))
	if err != nil {
		b.Fatal(err)
	}
	copy(r.Bytes(), code)
	if err := r.Publish(len(code)); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { r.Free() })
	return unsafe.Pointer(r.Base())
}
