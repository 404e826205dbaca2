//go:build linux

package nbserver

import (
	"math"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const defEventsBufferSize = 128

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT
	errorEvents = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
)

// EpollPoller keeps the interest sets as level-triggered epoll registrations.
type EpollPoller struct {
	fd         int
	events     []unix.EpollEvent
	registered map[Handle]Interest
	maxHandles int
}

func NewEpollPoller(eventsBufferSize int) (*EpollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	maxHandles, err := OpenFilesLimit()
	if err != nil {
		log.Warn().Msgf("can't read open files limit, using %d: %+v", fdSetSize, err)
		maxHandles = fdSetSize
	}
	bufferSize := int(math.Max(float64(eventsBufferSize), defEventsBufferSize))
	return &EpollPoller{
		fd:         fd,
		events:     make([]unix.EpollEvent, bufferSize),
		registered: make(map[Handle]Interest),
		maxHandles: maxHandles,
	}, nil
}

func epollMask(interest Interest) uint32 {
	var mask uint32
	if interest.Readable() {
		mask |= readEvents
	}
	if interest.Writable() {
		mask |= writeEvents
	}
	return mask
}

func (p *EpollPoller) Watch(h Handle, interest Interest) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] epoll interest: %s", h, interest)
	}
	fd := int(h)
	current, ok := p.registered[h]
	switch {
	case interest == InterestNone:
		if !ok {
			return nil
		}
		delete(p.registered, h)
		if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return os.NewSyscallError("epoll_ctl del", err)
		}
	case !ok:
		err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: epollMask(interest)})
		if err != nil {
			return os.NewSyscallError("epoll_ctl add", err)
		}
		p.registered[h] = interest
	case current != interest:
		err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: epollMask(interest)})
		if err != nil {
			return os.NewSyscallError("epoll_ctl mod", err)
		}
		p.registered[h] = interest
	}
	return nil
}

func (p *EpollPoller) Wait(ready map[Handle]Interest) (int, error) {
	clear(ready)
	n, err := unix.EpollWait(p.fd, p.events, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, err
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	count := 0
	for i := 0; i < n; i++ {
		event := p.events[i]
		h := Handle(event.Fd)
		interest, ok := p.registered[h]
		if !ok {
			continue
		}
		var ev Interest
		if event.Events&readEvents != 0 {
			ev |= InterestRead
		}
		if event.Events&writeEvents != 0 {
			ev |= InterestWrite
		}
		// errors surface through the next recv or send
		if event.Events&errorEvents != 0 {
			ev |= interest
		}
		ev &= interest
		if ev != InterestNone {
			ready[h] = ev
			count += ev.count()
		}
	}
	return count, nil
}

func (p *EpollPoller) MaxHandles() int {
	return p.maxHandles
}

func (p *EpollPoller) Close() error {
	clear(p.registered)
	return os.NewSyscallError("close", unix.Close(p.fd))
}

// NewPoller opens the poller backend registered under name.
func NewPoller(name string) (Poller, error) {
	switch name {
	case "", PollerSelect:
		return NewSelectPoller(), nil
	case PollerEpoll:
		return NewEpollPoller(defEventsBufferSize)
	}
	return nil, ErrUnknownPoller
}
