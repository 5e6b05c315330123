//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package proxy

import "syscall"

const ReusePortSupported = false

func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
