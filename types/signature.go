package types

import (
	"fmt"
	"unsafe"
)

// Signature is the typed description of a native target function: a debug
// name, the return kind, the ordered parameter kinds, and the address of
// the function itself. A Signature is immutable once constructed; the
// generators and the dispatcher read it concurrently without locking.
type Signature struct {
	name   string
	ret    TypeKind
	params []TypeKind
	target unsafe.Pointer
}

// NewSignature builds a Signature. The parameter list is copied. Void is a
// valid return kind but never a valid parameter kind; unknown kinds are
// rejected in either position.
func NewSignature(name string, ret TypeKind, params []TypeKind, target unsafe.Pointer) (*Signature, error) {
	if !ret.Valid() {
		return nil, fmt.Errorf("signature %q: unknown return kind %d", name, ret)
	}
	for i, p := range params {
		if !p.Valid() {
			return nil, fmt.Errorf("signature %q: unknown kind %d for parameter %d", name, p, i)
		}
		if p == Void {
			return nil, fmt.Errorf("signature %q: parameter %d is void", name, i)
		}
	}
	sig := &Signature{
		name:   name,
		ret:    ret,
		params: append([]TypeKind(nil), params...),
		target: target,
	}
	return sig, nil
}

// Name returns the debug name the Signature was constructed with.
func (s *Signature) Name() string { return s.name }

// Return returns the return kind.
func (s *Signature) Return() TypeKind { return s.ret }

// ParamCount returns the number of parameters.
func (s *Signature) ParamCount() int { return len(s.params) }

// Param returns the kind of parameter i.
func (s *Signature) Param(i int) TypeKind { return s.params[i] }

// Params returns a copy of the parameter kinds.
func (s *Signature) Params() []TypeKind {
	return append([]TypeKind(nil), s.params...)
}

// Target returns the address of the native function.
func (s *Signature) Target() unsafe.Pointer { return s.target }
