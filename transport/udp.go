package transport

import (
	"context"
	"net"

	"github.com/arzzra/rtpcore/rtperrors"
)

// UDPInterface is the reference NetworkInterface: a connected UDP socket,
// grounded on the teacher's pkg/rtp transport layer's connected-socket
// model.
type UDPInterface struct {
	conn *net.UDPConn
	mtu  int
}

// NewUDPInterface dials a connected UDP socket to remoteAddr, optionally
// bound to localAddr, and applies the platform socket-option tuning from
// sockopts_linux.go when available.
func NewUDPInterface(localAddr, remoteAddr *net.UDPAddr) (*UDPInterface, error) {
	conn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		return nil, rtperrors.Wrap(rtperrors.KindNetworkError, err, "dial udp")
	}

	if sc, err := conn.SyscallConn(); err == nil {
		_ = tuneVoiceSocket(sc)
	}

	return &UDPInterface{conn: conn, mtu: 1400}, nil
}

// Send implements NetworkInterface.
func (u *UDPInterface) Send(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = u.conn.SetWriteDeadline(deadline)
	}
	_, err := u.conn.Write(data)
	if err != nil {
		return rtperrors.Wrap(rtperrors.KindNetworkError, err, "udp write")
	}
	return nil
}

// Recv implements NetworkInterface.
func (u *UDPInterface) Recv(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = u.conn.SetReadDeadline(deadline)
	}
	buf := make([]byte, u.mtu+200)
	n, err := u.conn.Read(buf)
	if err != nil {
		return nil, rtperrors.Wrap(rtperrors.KindNetworkError, err, "udp read")
	}
	return buf[:n], nil
}

// Secure implements NetworkInterface: plain UDP is never secure.
func (u *UDPInterface) Secure() bool { return false }

// LocalAddr implements NetworkInterface.
func (u *UDPInterface) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// RemoteAddr implements NetworkInterface.
func (u *UDPInterface) RemoteAddr() net.Addr { return u.conn.RemoteAddr() }

// Close implements NetworkInterface.
func (u *UDPInterface) Close() error { return u.conn.Close() }
