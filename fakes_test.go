package nbserver

import (
	"bytes"
	"errors"
	"testing"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

var errStop = errors.New("script finished")

const testListener = Handle(3)

type acceptResult struct {
	h   Handle
	err error
}

type recvResult struct {
	data []byte
	err  error
}

type sendResult struct {
	// limit is the most bytes the send takes, -1 means all of them
	limit int
	// n overrides the returned count when set
	n   int
	err error
}

// fakeSocket replays queued results per handle. An empty recv queue means
// EAGAIN, an empty send queue means the whole buffer is taken.
type fakeSocket struct {
	accepts     *queue.Queue
	recvs       map[Handle]*queue.Queue
	sends       map[Handle]*queue.Queue
	sent        map[Handle]*bytes.Buffer
	blocking    map[Handle]bool
	blockingErr map[Handle]error
	closed      []Handle
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		accepts:     queue.New(),
		recvs:       make(map[Handle]*queue.Queue),
		sends:       make(map[Handle]*queue.Queue),
		sent:        make(map[Handle]*bytes.Buffer),
		blocking:    make(map[Handle]bool),
		blockingErr: make(map[Handle]error),
	}
}

func (s *fakeSocket) queueAccept(h Handle, err error) {
	s.accepts.Add(acceptResult{h: h, err: err})
}

func (s *fakeSocket) queueRecv(h Handle, data []byte, err error) {
	if s.recvs[h] == nil {
		s.recvs[h] = queue.New()
	}
	s.recvs[h].Add(recvResult{data: data, err: err})
}

func (s *fakeSocket) queueSend(h Handle, result sendResult) {
	if s.sends[h] == nil {
		s.sends[h] = queue.New()
	}
	s.sends[h].Add(result)
}

func (s *fakeSocket) sentTo(h Handle) string {
	if b, ok := s.sent[h]; ok {
		return b.String()
	}
	return ""
}

func (s *fakeSocket) isClosed(h Handle) bool {
	for _, c := range s.closed {
		if c == h {
			return true
		}
	}
	return false
}

func (s *fakeSocket) Accept(listener Handle) (Handle, error) {
	if s.accepts.Length() == 0 {
		return InvalidHandle, unix.EAGAIN
	}
	r := s.accepts.Remove().(acceptResult)
	return r.h, r.err
}

func (s *fakeSocket) Recv(h Handle, buf []byte) (int, error) {
	q := s.recvs[h]
	if q == nil || q.Length() == 0 {
		return 0, unix.EAGAIN
	}
	r := q.Remove().(recvResult)
	if r.err != nil {
		return 0, r.err
	}
	return copy(buf, r.data), nil
}

func (s *fakeSocket) Send(h Handle, buf []byte) (int, error) {
	n := len(buf)
	if q := s.sends[h]; q != nil && q.Length() > 0 {
		r := q.Remove().(sendResult)
		if r.err != nil {
			return 0, r.err
		}
		if r.n != 0 {
			return r.n, nil
		}
		if r.limit >= 0 && r.limit < n {
			n = r.limit
		}
	}
	if s.sent[h] == nil {
		s.sent[h] = &bytes.Buffer{}
	}
	s.sent[h].Write(buf[:n])
	return n, nil
}

func (s *fakeSocket) SetBlocking(h Handle, block bool) error {
	if err := s.blockingErr[h]; err != nil {
		return err
	}
	s.blocking[h] = block
	return nil
}

func (s *fakeSocket) SetOption(h Handle, opt Option, value int) error {
	return nil
}

func (s *fakeSocket) Close(h Handle) error {
	s.closed = append(s.closed, h)
	return nil
}

// cycle is one Wait result. check runs before the readiness is returned and
// sees the state the previous cycle left behind.
type cycle struct {
	check func()
	ready map[Handle]Interest
	err   error
}

// fakePoller replays cycles and fails with errStop once they run out.
type fakePoller struct {
	t          *testing.T
	cycles     *queue.Queue
	watched    map[Handle]Interest
	maxHandles int
	watchErr   map[Handle]error
	both       []Handle
	// restored counts write to read interest switches per handle
	restored map[Handle]int
}

func newFakePoller(t *testing.T, maxHandles int) *fakePoller {
	return &fakePoller{
		t:          t,
		cycles:     queue.New(),
		watched:    make(map[Handle]Interest),
		maxHandles: maxHandles,
		watchErr:   make(map[Handle]error),
		restored:   make(map[Handle]int),
	}
}

func (p *fakePoller) add(c cycle) {
	p.cycles.Add(c)
}

func (p *fakePoller) acceptCycle() {
	p.add(cycle{ready: map[Handle]Interest{testListener: InterestRead}})
}

func (p *fakePoller) readCycle(hs ...Handle) {
	ready := make(map[Handle]Interest)
	for _, h := range hs {
		ready[h] = InterestRead
	}
	p.add(cycle{ready: ready})
}

func (p *fakePoller) writeCycle(hs ...Handle) {
	ready := make(map[Handle]Interest)
	for _, h := range hs {
		ready[h] = InterestWrite
	}
	p.add(cycle{ready: ready})
}

func (p *fakePoller) Watch(h Handle, interest Interest) error {
	if err := p.watchErr[h]; err != nil {
		return err
	}
	if h != testListener && interest.Readable() && interest.Writable() {
		p.both = append(p.both, h)
	}
	if p.watched[h] == InterestWrite && interest == InterestRead {
		p.restored[h]++
	}
	if interest == InterestNone {
		delete(p.watched, h)
	} else {
		p.watched[h] = interest
	}
	return nil
}

func (p *fakePoller) Wait(ready map[Handle]Interest) (int, error) {
	clear(ready)
	if p.cycles.Length() == 0 {
		return 0, errStop
	}
	c := p.cycles.Remove().(cycle)
	if c.check != nil {
		c.check()
	}
	if c.err != nil {
		return 0, c.err
	}
	n := 0
	for h, ev := range c.ready {
		// only registered interest can become ready
		ev &= p.watched[h]
		if ev != InterestNone {
			ready[h] = ev
			n += ev.count()
		}
	}
	return n, nil
}

func (p *fakePoller) MaxHandles() int {
	return p.maxHandles
}

func (p *fakePoller) Close() error {
	return nil
}

type event struct {
	kind string
	h    Handle
	data string
	err  error
}

// recordingHandler records every callback and optionally reacts to reads.
type recordingHandler struct {
	events   []event
	onRecv   func(s Submitter, h Handle, data []byte)
	onSent   func(s Submitter, h Handle, sent []byte)
	onConn   func(h Handle)
	submitEr []error
}

func (r *recordingHandler) OnConnect(h Handle) {
	r.events = append(r.events, event{kind: "connect", h: h})
	if r.onConn != nil {
		r.onConn(h)
	}
}

func (r *recordingHandler) OnDisconnect(h Handle) {
	r.events = append(r.events, event{kind: "disconnect", h: h})
}

func (r *recordingHandler) OnRecvError(h Handle, err error) {
	r.events = append(r.events, event{kind: "recv_error", h: h, err: err})
}

func (r *recordingHandler) OnRecvOk(s Submitter, h Handle, data []byte) {
	r.events = append(r.events, event{kind: "recv", h: h, data: string(data)})
	if r.onRecv != nil {
		r.onRecv(s, h, data)
	}
}

func (r *recordingHandler) OnSentError(h Handle, err error) {
	r.events = append(r.events, event{kind: "sent_error", h: h, err: err})
}

func (r *recordingHandler) OnSentOk(s Submitter, h Handle, sent []byte) {
	r.events = append(r.events, event{kind: "sent", h: h, data: string(sent)})
	if r.onSent != nil {
		r.onSent(s, h, sent)
	}
}

func (r *recordingHandler) count(kind string, h Handle) int {
	n := 0
	for _, e := range r.events {
		if e.kind == kind && e.h == h {
			n++
		}
	}
	return n
}

func (r *recordingHandler) kinds() []string {
	var kinds []string
	for _, e := range r.events {
		kinds = append(kinds, e.kind)
	}
	return kinds
}

// echoSelf submits every read back to its sender and remembers failures.
func echoSelf(r *recordingHandler) func(s Submitter, h Handle, data []byte) {
	return func(s Submitter, h Handle, data []byte) {
		if err := s.Submit(h, data); err != nil {
			r.submitEr = append(r.submitEr, err)
		}
	}
}
