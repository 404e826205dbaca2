package nbserver

type connState uint8

const (
	stateIdle connState = iota
	stateDraining
	stateClosing
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDraining:
		return "draining"
	case stateClosing:
		return "closing"
	}
	return "unknown"
}

// outbound stages one chunk of data for a connection. remaining is zero
// exactly when nothing is queued.
type outbound struct {
	buf       []byte
	data      []byte
	cursor    int
	remaining int
}

func newOutbound(buf []byte) outbound {
	return outbound{buf: buf}
}

func (o *outbound) submit(p []byte) error {
	if len(p) == 0 {
		return ErrEmptyPayload
	}
	if len(p) > len(o.buf) {
		return ErrOversizedPayload
	}
	o.data = o.buf[:copy(o.buf, p)]
	o.cursor = 0
	o.remaining = len(p)
	return nil
}

// pending returns the bytes not sent yet.
func (o *outbound) pending() []byte {
	return o.data[o.cursor : o.cursor+o.remaining]
}

// advance consumes n sent bytes and returns the region they occupied.
func (o *outbound) advance(n int) (sent []byte, drained bool, err error) {
	if n < 0 || n > o.remaining {
		return nil, false, ErrSendOvershoot
	}
	sent = o.data[o.cursor : o.cursor+n]
	o.cursor += n
	o.remaining -= n
	return sent, o.remaining == 0, nil
}

func (o *outbound) reset() {
	o.data = nil
	o.cursor = 0
	o.remaining = 0
}

func (o *outbound) empty() bool {
	return o.remaining == 0
}
