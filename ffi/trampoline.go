package ffi

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/sanko/fictional-sloth/internal/arch"
	"github.com/sanko/fictional-sloth/internal/memory"
	"github.com/sanko/fictional-sloth/types"
)

// Trampoline owns one published executable region holding the generated
// adapter for a single signature. It is immutable after construction;
// see the package documentation for the concurrency contract.
type Trampoline struct {
	sig    *types.Signature
	region *memory.Region
	size   int
	entry  uintptr
	log    logrus.FieldLogger
}

// Option configures trampoline construction.
type Option func(*config)

type config struct {
	log      logrus.FieldLogger
	capacity int
}

// WithLogger injects the diagnostic sink used for construction
// diagnostics and non-fatal OS failures. The default is
// logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) { c.log = l }
}

// WithCapacity raises the executable-region size floor to n. An n at or
// below the default floor (512 bytes, or the generator's worst-case
// estimate when that is larger) has no effect. The region is still
// rounded up to page granularity.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// The worst-case floor keeps tiny signatures from re-deriving capacity
// per arity.
const minCapacity = 512

// NewTrampoline allocates an executable region, generates the host-ABI
// adapter for sig, publishes it, and returns the invocable trampoline.
//
// Errors: *UnsupportedPlatformError when the host has no generator,
// *OutOfMemoryError when the OS refuses the pages, *UnsupportedTypeError
// when a kind has no encoding on this ABI, *EncodingOverflowError when
// the emitted code would not fit (construction is rolled back and
// nothing is published).
func NewTrampoline(sig *types.Signature, opts ...Option) (*Trampoline, error) {
	cfg := config{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	gen := arch.Registry.Host
	if gen == nil {
		return nil, &UnsupportedPlatformError{OS: runtime.GOOS, Arch: runtime.GOARCH}
	}

	capacity := gen.MaxSize(sig.ParamCount())
	if capacity < minCapacity {
		capacity = minCapacity
	}
	if cfg.capacity > capacity {
		capacity = cfg.capacity
	}

	region, err := memory.Alloc(capacity)
	if err != nil {
		return nil, &OutOfMemoryError{Size: capacity, Err: err}
	}

	n := gen.Emit(region.Bytes(), sig)
	if n == 0 {
		freeRegion(region, cfg.log)
		return nil, &UnsupportedTypeError{ABI: gen.Name(), Kind: unsupportedKind(sig)}
	}
	if n > region.Cap() {
		freeRegion(region, cfg.log)
		return nil, &EncodingOverflowError{ABI: gen.Name(), Need: n, Capacity: region.Cap()}
	}

	if err := region.Publish(n); err != nil {
		freeRegion(region, cfg.log)
		return nil, &OutOfMemoryError{Size: region.Cap(), Err: err}
	}

	t := &Trampoline{
		sig:    sig,
		region: region,
		size:   n,
		entry:  region.Base(),
		log:    cfg.log,
	}
	cfg.log.WithFields(logrus.Fields{
		"signature": sig.Name(),
		"abi":       gen.Name(),
		"bytes":     n,
		"entry":     t.entry,
	}).Debug("trampoline published")
	return t, nil
}

// Signature returns the signature the trampoline was built for.
func (t *Trampoline) Signature() *types.Signature { return t.sig }

// Entry returns the address of the generated code. It is valid until
// Close.
func (t *Trampoline) Entry() uintptr { return t.entry }

// CodeSize returns the number of machine-code bytes actually emitted.
func (t *Trampoline) CodeSize() int { return t.size }

// Code returns a copy of the generated machine code.
func (t *Trampoline) Code() []byte {
	if t.region == nil {
		return nil
	}
	return append([]byte(nil), t.region.Bytes()[:t.size]...)
}

// Close releases the executable region and scrubs the entry point. The
// caller guarantees no invocation is in flight. OS release failures are
// logged and returned, but the trampoline is unusable either way.
func (t *Trampoline) Close() error {
	if t.region == nil {
		return nil
	}
	region := t.region
	t.region = nil
	t.entry = 0
	if err := region.Free(); err != nil {
		t.log.WithError(err).WithField("signature", t.sig.Name()).
			Warn("releasing executable region failed")
		return err
	}
	return nil
}

func freeRegion(r *memory.Region, log logrus.FieldLogger) {
	if err := r.Free(); err != nil {
		log.WithError(err).Warn("releasing executable region failed")
	}
}

// unsupportedKind picks the kind to report when a generator rejects a
// signature: the first kind that is not a member of the enumeration, or
// the return kind when every member looks valid.
func unsupportedKind(sig *types.Signature) types.TypeKind {
	if !sig.Return().Valid() {
		return sig.Return()
	}
	for i := 0; i < sig.ParamCount(); i++ {
		if !sig.Param(i).Valid() {
			return sig.Param(i)
		}
	}
	return sig.Return()
}
