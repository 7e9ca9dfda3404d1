// Package transport implements the §6 NetworkInterface collaborator: a
// thin abstraction the core sends RTP/RTCP bytes through and receives
// incoming datagrams from. Socket I/O itself is deliberately out of scope
// of the core's algorithms (§1); this package supplies the reference
// UDP and DTLS-terminated implementations the rest of the pack's
// transport-layer examples use, in the teacher's platform-specific
// socket-tuning style.
package transport

import (
	"context"
	"net"
)

// NetworkInterface is the contract RtpSession sends packets through and
// receives incoming datagrams from, per §6.
type NetworkInterface interface {
	// Send writes a raw RTP or RTCP datagram.
	Send(ctx context.Context, data []byte) error
	// Recv blocks until a datagram arrives or ctx is cancelled.
	Recv(ctx context.Context) ([]byte, error)
	// Secure reports whether this interface is terminated over DTLS. The
	// core never performs key exchange itself (non-goal); it only reads
	// this flag.
	Secure() bool
	// LocalAddr and RemoteAddr identify the interface's endpoints, used
	// to tag incoming packets with their originating flow.
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}
