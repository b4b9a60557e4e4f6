//go:build unix

package projection

import "syscall"

// detachedAttr starts the daemon in its own session so it survives the
// parent client exiting.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
