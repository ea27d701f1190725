//go:build amd64 && windows

package arch

import "github.com/sanko/fictional-sloth/internal/arch/win64"

func init() {
	Register(win64.New())
}
