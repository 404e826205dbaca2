package nbserver

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Handle identifies an open socket. It is unique while the socket is open.
type Handle int

const InvalidHandle = Handle(-1)

func (h Handle) String() string {
	return fmt.Sprintf("fd:%d", int(h))
}

type Option int

const (
	OptionRecvBuffer Option = iota
	OptionSendBuffer
	OptionReuseAddr
	OptionNoDelay
)

// Socket is the set of non-blocking socket operations the reactor depends on.
// None of the methods may block once SetBlocking(h, false) succeeded.
type Socket interface {
	// Accept takes one pending connection from the listener. A transient error
	// (see IsTransient) means nothing is pending.
	Accept(listener Handle) (Handle, error)
	// Recv returns 0 and a nil error on orderly peer shutdown.
	Recv(h Handle, buf []byte) (int, error)
	// Send may transfer fewer bytes than len(buf).
	Send(h Handle, buf []byte) (int, error)
	SetBlocking(h Handle, block bool) error
	SetOption(h Handle, opt Option, value int) error
	Close(h Handle) error
}

// applySocketOptions sets the configured buffer sizes on a freshly accepted
// socket. Failures only degrade throughput, so they are logged.
func applySocketOptions(sock Socket, h Handle, recvBuffer, sendBuffer int) {
	if recvBuffer > 0 {
		if err := sock.SetOption(h, OptionRecvBuffer, recvBuffer); err != nil {
			log.Error().Msgf("[%d] got error while setting socket options SO_RCVBUF: %+v", h, err)
		}
	}
	if sendBuffer > 0 {
		if err := sock.SetOption(h, OptionSendBuffer, sendBuffer); err != nil {
			log.Error().Msgf("[%d] got error while setting socket options SO_SNDBUF: %+v", h, err)
		}
	}
}
