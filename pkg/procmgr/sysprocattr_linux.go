//go:build linux

package procmgr

import "syscall"

// sysProcAttr puts each child in its own process group and kills it if the
// supervisor dies first
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
