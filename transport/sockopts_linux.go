//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneVoiceSocket applies the Linux-specific socket options the teacher's
// transport layer uses for low-latency voice/video traffic: SO_REUSEPORT
// for multi-listener load spreading, SO_PRIORITY for interactive traffic,
// and a larger receive buffer to absorb jitter-buffer bursts.
func tuneVoiceSocket(sc syscallConn) error {
	var opErr error
	err := sc.Control(func(fd uintptr) {
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			opErr = err
			return
		}
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_PRIORITY, 6); err != nil {
			// not fatal: containers and restricted namespaces may reject this
			opErr = nil
		}
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, 1<<20); err != nil {
			opErr = nil
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
