//go:build linux

package nbserver

import (
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

type ListenerConfig struct {
	Address   string
	Port      int
	ReuseAddr bool
	Backlog   int
}

// Listen creates a non-blocking listening TCP socket.
func Listen(config ListenerConfig) (h Handle, err error) {
	sockaddr, family, err := resolveSockaddr(config.Address, config.Port)
	if err != nil {
		return InvalidHandle, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return InvalidHandle, os.NewSyscallError("socket", err)
	}

	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	if config.ReuseAddr {
		if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)); err != nil {
			return InvalidHandle, err
		}
	}

	if err = os.NewSyscallError("bind", unix.Bind(fd, sockaddr)); err != nil {
		return InvalidHandle, err
	}

	backlog := config.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, backlog)); err != nil {
		return InvalidHandle, err
	}

	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] listening on %s", fd, net.JoinHostPort(config.Address, strconv.Itoa(config.Port)))
	}
	return Handle(fd), nil
}

// LocalPort returns the port a listening socket is bound to.
func LocalPort(h Handle) (int, error) {
	sa, err := unix.Getsockname(int(h))
	if err != nil {
		return 0, os.NewSyscallError("getsockname", err)
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return addr.Port, nil
	case *unix.SockaddrInet6:
		return addr.Port, nil
	}
	return 0, unix.EAFNOSUPPORT
}

// Connect starts a non-blocking connect. A transient error (EINPROGRESS) means
// the connection completes once the handle reports write readiness.
func Connect(address string, port int) (Handle, error) {
	sockaddr, family, err := resolveSockaddr(address, port)
	if err != nil {
		return InvalidHandle, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return InvalidHandle, os.NewSyscallError("socket", err)
	}
	err = unix.Connect(fd, sockaddr)
	if err != nil {
		if IsTransient(err) {
			return Handle(fd), err
		}
		_ = unix.Close(fd)
		return InvalidHandle, os.NewSyscallError("connect", err)
	}
	return Handle(fd), nil
}

func resolveSockaddr(address string, port int) (sockaddr unix.Sockaddr, family int, err error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, 0, err
	}

	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		return sa4, unix.AF_INET, nil
	}

	sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa6.Addr[:], tcpAddr.IP.To16())
	if tcpAddr.Zone != "" {
		iface, err := net.InterfaceByName(tcpAddr.Zone)
		if err != nil {
			return nil, 0, err
		}
		sa6.ZoneId = uint32(iface.Index)
	}
	return sa6, unix.AF_INET6, nil
}
