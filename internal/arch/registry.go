// Package arch selects the trampoline code generator for the host ABI.
// The generators themselves are pure byte-writers with no build
// constraints so that every ABI is unit-testable on every host; only the
// registration files in this package are build-tagged.
package arch

import (
	"github.com/sanko/fictional-sloth/types"
)

// Generator is the contract for one ABI's trampoline encoder.
type Generator interface {
	// Name identifies the ABI, e.g. "sysv-amd64".
	Name() string

	// Emit writes the trampoline for sig into buf and returns the number
	// of bytes the full trampoline needs. A return of 0 means a TypeKind
	// in the signature cannot be encoded for this ABI. A return larger
	// than len(buf) means the buffer was too small; the contents of buf
	// are then unspecified and nothing may be published.
	Emit(buf []byte, sig *types.Signature) int

	// MaxSize returns an upper bound on the trampoline size for a
	// signature with the given parameter count.
	MaxSize(paramCount int) int
}

// Registry contains the registered host implementation. Host is nil on
// platforms with no generator.
var Registry struct {
	Host Generator
}

// Register installs the generator for the current host. Called from the
// build-tagged registration files' init functions.
func Register(g Generator) {
	Registry.Host = g
}
