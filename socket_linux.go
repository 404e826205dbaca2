//go:build linux

package nbserver

import (
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// UnixSocket implements Socket with plain descriptor syscalls.
type UnixSocket struct{}

func NewUnixSocket() *UnixSocket {
	return &UnixSocket{}
}

func (s *UnixSocket) Accept(listener Handle) (Handle, error) {
	fd, _, err := unix.Accept4(int(listener), unix.SOCK_CLOEXEC)
	if err != nil {
		// the peer gave up before we got to it
		if err == unix.ECONNABORTED {
			return InvalidHandle, unix.EAGAIN
		}
		if IsTransient(err) {
			return InvalidHandle, err
		}
		return InvalidHandle, os.NewSyscallError("accept4", err)
	}
	return Handle(fd), nil
}

func (s *UnixSocket) Recv(h Handle, buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(int(h), buf, 0)
	if err != nil {
		if IsTransient(err) {
			return 0, err
		}
		return 0, os.NewSyscallError("recvfrom", err)
	}
	return n, nil
}

func (s *UnixSocket) Send(h Handle, buf []byte) (int, error) {
	n, err := unix.SendmsgN(int(h), buf, nil, nil, unix.MSG_NOSIGNAL)
	if err != nil {
		if IsTransient(err) {
			return 0, err
		}
		return 0, os.NewSyscallError("sendmsg", err)
	}
	return n, nil
}

func (s *UnixSocket) SetBlocking(h Handle, block bool) error {
	return os.NewSyscallError("fcntl", unix.SetNonblock(int(h), !block))
}

func (s *UnixSocket) SetOption(h Handle, opt Option, value int) error {
	switch opt {
	case OptionRecvBuffer:
		return os.NewSyscallError("setsockopt SO_RCVBUF", unix.SetsockoptInt(int(h), unix.SOL_SOCKET, unix.SO_RCVBUF, value))
	case OptionSendBuffer:
		return os.NewSyscallError("setsockopt SO_SNDBUF", unix.SetsockoptInt(int(h), unix.SOL_SOCKET, unix.SO_SNDBUF, value))
	case OptionReuseAddr:
		return os.NewSyscallError("setsockopt SO_REUSEADDR", unix.SetsockoptInt(int(h), unix.SOL_SOCKET, unix.SO_REUSEADDR, value))
	case OptionNoDelay:
		return os.NewSyscallError("setsockopt TCP_NODELAY", unix.SetsockoptInt(int(h), unix.IPPROTO_TCP, unix.TCP_NODELAY, value))
	}
	return os.NewSyscallError("setsockopt", unix.ENOPROTOOPT)
}

// Close shuts the socket down in both directions and releases the descriptor.
// A shutdown on a socket the peer already dropped is not an error.
func (s *UnixSocket) Close(h Handle) error {
	err := unix.Shutdown(int(h), unix.SHUT_RDWR)
	if err != nil && err != unix.ENOTCONN {
		if log.Debug().Enabled() {
			log.Debug().Msgf("[%d] shutdown: %v", h, err)
		}
	}
	return os.NewSyscallError("close", unix.Close(int(h)))
}
