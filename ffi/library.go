package ffi

import "unsafe"

// Library is an opaque handle to a loaded dynamic library.
type Library uintptr

// LoadLibrary loads a dynamic library by path or soname and returns a
// handle for symbol resolution.
func LoadLibrary(name string) (Library, error) {
	h, err := dlOpen(name)
	if err != nil {
		return 0, &LibraryError{Operation: "load", Name: name, Err: err}
	}
	return Library(h), nil
}

// GetSymbol resolves a symbol to its address, suitable as the target of
// a types.Signature.
func GetSymbol(lib Library, name string) (unsafe.Pointer, error) {
	addr, err := dlSym(uintptr(lib), name)
	if err != nil {
		return nil, &LibraryError{Operation: "symbol", Name: name, Err: err}
	}
	return unsafe.Pointer(addr), nil
}

// FreeLibrary releases a library handle. Symbols resolved from it must
// no longer be called.
func FreeLibrary(lib Library) error {
	if err := dlClose(uintptr(lib)); err != nil {
		return &LibraryError{Operation: "free", Name: "", Err: err}
	}
	return nil
}
