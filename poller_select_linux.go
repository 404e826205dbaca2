//go:build linux

package nbserver

import (
	"os"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const fdSetSize = int(unsafe.Sizeof(unix.FdSet{})) * 8

// SelectPoller keeps the interest sets as fd_set bitmaps and waits with select(2).
type SelectPoller struct {
	readSet  unix.FdSet
	writeSet unix.FdSet
	maxFd    int
	watched  map[Handle]Interest
}

func NewSelectPoller() *SelectPoller {
	return &SelectPoller{
		maxFd:   -1,
		watched: make(map[Handle]Interest),
	}
}

func (p *SelectPoller) Watch(h Handle, interest Interest) error {
	fd := int(h)
	if fd < 0 || fd >= fdSetSize {
		return ErrHandleOutOfRange
	}
	if interest.Readable() {
		p.readSet.Set(fd)
	} else {
		p.readSet.Clear(fd)
	}
	if interest.Writable() {
		p.writeSet.Set(fd)
	} else {
		p.writeSet.Clear(fd)
	}
	if interest == InterestNone {
		delete(p.watched, h)
		if fd == p.maxFd {
			p.recomputeMaxFd()
		}
	} else {
		p.watched[h] = interest
		if fd > p.maxFd {
			p.maxFd = fd
		}
	}
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] select interest: %s", fd, interest)
	}
	return nil
}

func (p *SelectPoller) recomputeMaxFd() {
	p.maxFd = -1
	for h := range p.watched {
		if int(h) > p.maxFd {
			p.maxFd = int(h)
		}
	}
}

func (p *SelectPoller) Wait(ready map[Handle]Interest) (int, error) {
	clear(ready)
	rset := p.readSet
	wset := p.writeSet
	n, err := unix.Select(p.maxFd+1, &rset, &wset, nil, nil)
	if err != nil {
		if err == unix.EINTR {
			return 0, err
		}
		return 0, os.NewSyscallError("select", err)
	}
	for h := range p.watched {
		fd := int(h)
		var ev Interest
		if rset.IsSet(fd) {
			ev |= InterestRead
		}
		if wset.IsSet(fd) {
			ev |= InterestWrite
		}
		if ev != InterestNone {
			ready[h] = ev
		}
	}
	return n, nil
}

func (p *SelectPoller) MaxHandles() int {
	return fdSetSize
}

func (p *SelectPoller) Close() error {
	p.readSet.Zero()
	p.writeSet.Zero()
	p.maxFd = -1
	clear(p.watched)
	return nil
}
