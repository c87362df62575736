//go:build !unix

package relay

import "syscall"

func detachedProcAttr() *syscall.SysProcAttr {
	return nil
}
