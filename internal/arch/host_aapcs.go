//go:build arm64 && (linux || darwin)

package arch

import "github.com/sanko/fictional-sloth/internal/arch/aapcs"

func init() {
	Register(aapcs.New())
}
