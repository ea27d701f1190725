//go:build amd64 && (linux || darwin || freebsd)

package arch

import "github.com/sanko/fictional-sloth/internal/arch/sysv"

func init() {
	Register(sysv.New())
}
