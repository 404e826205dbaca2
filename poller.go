package nbserver

import "strings"

// Interest is the readiness a handle is registered for.
type Interest uint8

const (
	InterestNone  Interest = 0
	InterestRead  Interest = 1 << 0
	InterestWrite Interest = 1 << 1
)

func (i Interest) Readable() bool { return i&InterestRead != 0 }
func (i Interest) Writable() bool { return i&InterestWrite != 0 }

// count is the number of readiness events i stands for.
func (i Interest) count() int {
	n := 0
	if i.Readable() {
		n++
	}
	if i.Writable() {
		n++
	}
	return n
}

func (i Interest) String() string {
	if i == InterestNone {
		return "none"
	}
	var parts []string
	if i.Readable() {
		parts = append(parts, "read")
	}
	if i.Writable() {
		parts = append(parts, "write")
	}
	return strings.Join(parts, "|")
}

// Poller holds the read and write interest sets and waits on them.
type Poller interface {
	// Watch replaces the interest registered for h. InterestNone removes h.
	Watch(h Handle, interest Interest) error
	// Wait blocks until at least one registered handle is ready and fills ready
	// with the ready handles. The returned count is the number of readiness
	// events, a handle ready for both read and write counts twice.
	Wait(ready map[Handle]Interest) (int, error)
	// MaxHandles is the largest number of handles the poller can track.
	MaxHandles() int
	Close() error
}

const (
	PollerSelect = "select"
	PollerEpoll  = "epoll"
)
