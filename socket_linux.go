package fluxio

import (
	"golang.org/x/sys/unix"
)

// newNonblockingSocket opens a SOCK_STREAM socket with O_NONBLOCK and
// CLOEXEC set atomically, the same socket(2) flag combination the
// teacher's socket constructor uses.
func newNonblockingSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Socket is an owned, nonblocking TCP stream socket.
type Socket struct {
	fd     *FD
	local  Endpoint
	remote Endpoint
}

// Fd returns the raw descriptor; the socket remains its owner.
func (s *Socket) Fd() int { return s.fd.Int() }

func (s *Socket) Close() error { return s.fd.Close() }

func (s *Socket) LocalEndpoint() Endpoint  { return s.local }
func (s *Socket) RemoteEndpoint() Endpoint { return s.remote }

// readSome is the nonblocking read primitive every async read builds
// on: it returns (n, nil) on data, (0, EAGAIN) when the caller must
// wait for readability, and any other error verbatim.
func (s *Socket) readSome(buf []byte) (int, error) {
	n, err := unix.Read(s.fd.Int(), buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// writeSome is the nonblocking write primitive every async write
// builds on.
func (s *Socket) writeSome(buf []byte) (int, error) {
	n, err := unix.Write(s.fd.Int(), buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// shutdownWrite half-closes the send side, signalling EOF to the peer
// without tearing down the read side.
func (s *Socket) shutdownWrite() error {
	return unix.Shutdown(s.fd.Int(), unix.SHUT_WR)
}

// startConnect issues a nonblocking connect(). The caller must treat
// EINPROGRESS/EALREADY as "await writable, then call finishConnect".
func startConnect(ep Endpoint) (*Socket, error) {
	fd, err := newNonblockingSocket()
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(fd, ep.sockaddr()); err != nil && !isInProgress(err) {
		closeFD(fd)
		return nil, err
	}
	return &Socket{fd: newFD(fd), remote: ep}, nil
}

// finishConnect checks whether a previously-started nonblocking
// connect has completed, returning the pending SO_ERROR if any, or
// EINPROGRESS while the handshake is still under way.
func (s *Socket) finishConnect() error {
	errno, err := unix.GetsockoptInt(s.fd.Int(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	if _, err := unix.Getpeername(s.fd.Int()); err != nil {
		if err == unix.ENOTCONN {
			return unix.EINPROGRESS
		}
		return err
	}
	if sa, err := unix.Getsockname(s.fd.Int()); err == nil {
		if ep, err := endpointFromSockaddr(sa); err == nil {
			s.local = ep
		}
	}
	return nil
}

// Listener is an owned, nonblocking TCP listening socket.
type Listener struct {
	fd    *FD
	local Endpoint
}

// Listen creates, binds, and listens on ep. Grounded on the teacher's
// listenTCP: SO_REUSEADDR, TCP_DEFER_ACCEPT, then bind/listen.
func Listen(ep Endpoint, backlog int) (*Listener, error) {
	fd, err := newNonblockingSocket()
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		closeFD(fd)
		return nil, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1)
	if err := unix.Bind(fd, ep.sockaddr()); err != nil {
		closeFD(fd)
		return nil, err
	}
	if backlog <= 0 {
		backlog = 1024
	}
	if err := unix.Listen(fd, backlog); err != nil {
		closeFD(fd)
		return nil, err
	}
	local := ep
	if sa, err := unix.Getsockname(fd); err == nil {
		if resolved, err := endpointFromSockaddr(sa); err == nil {
			local = resolved
		}
	}
	return &Listener{fd: newFD(fd), local: local}, nil
}

func (l *Listener) Fd() int { return l.fd.Int() }

func (l *Listener) Close() error { return l.fd.Close() }

func (l *Listener) LocalEndpoint() Endpoint { return l.local }

// acceptSome is the nonblocking accept primitive AsyncAccept builds
// on.
func (l *Listener) acceptSome() (*Socket, error) {
	fd, sa, err := unix.Accept4(l.fd.Int(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, err
	}
	sock := &Socket{fd: newFD(fd), local: l.local}
	if ep, err := endpointFromSockaddr(sa); err == nil {
		sock.remote = ep
	}
	return sock, nil
}
