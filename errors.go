package nbserver

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	ErrCapacityExceeded  = errors.New("connection table is full")
	ErrDuplicateHandle   = errors.New("handle already present in connection table")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrOversizedPayload  = errors.New("payload exceeds chunk size")
	ErrEmptyPayload      = errors.New("empty payload")
	ErrOutboundBusy      = errors.New("outbound buffer is still draining")
	ErrSendOvershoot     = errors.New("sent more bytes than were queued")
	ErrHandleOutOfRange  = errors.New("handle out of multiplexer range")
	ErrAllocation        = errors.New("can't allocate connection buffers")
	ErrInvalidChunkSize  = errors.New("chunk size must be positive")
	ErrReactorRunning    = errors.New("reactor is already running")
	ErrUnknownPoller     = errors.New("unknown poller name")
)

// IsTransient reports whether err only means "not ready yet".
func IsTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.EINPROGRESS)
}
