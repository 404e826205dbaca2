package nbserver

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

const DefaultChunkSize = 512

type ReactorConfig struct {
	Name string
	// ChunkSize is the most bytes moved by one recv or send.
	ChunkSize int
	// MaxConnections caps the slot table below the poller limit. Zero means
	// the poller limit.
	MaxConnections int
	LockOSThread   bool
	RecvBuffer     int
	SendBuffer     int
}

// Reactor drives a non-blocking TCP server from a single goroutine. Run is the
// only blocking call; everything else happens inside it.
type Reactor struct {
	name         string
	lockOSThread bool
	recvBuffer   int
	sendBuffer   int
	sock         Socket
	poller       Poller
	handler      Handler
	table        *slotTable
	scratch      []byte
	ready        map[Handle]Interest
	listener     Handle
	isRunning    *atomic.Bool
	stats        *Stats
}

func NewReactor(config ReactorConfig, sock Socket, poller Poller, handler Handler) (*Reactor, error) {
	if config.ChunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	capacity := poller.MaxHandles()
	if config.MaxConnections > 0 && config.MaxConnections < capacity {
		capacity = config.MaxConnections
	}
	table, err := newSlotTable(capacity, config.ChunkSize)
	if err != nil {
		return nil, errors.Wrapf(err, "can't build connection table for %d slots of %d bytes", capacity, config.ChunkSize)
	}
	if log.Debug().Enabled() {
		log.Debug().Msgf("init reactor:%+v capacity:%d", config, capacity)
	} else {
		log.Info().Msgf("init reactor:%s capacity:%d chunk:%d", config.Name, capacity, config.ChunkSize)
	}
	return &Reactor{
		name:         config.Name,
		lockOSThread: config.LockOSThread,
		recvBuffer:   config.RecvBuffer,
		sendBuffer:   config.SendBuffer,
		sock:         sock,
		poller:       poller,
		handler:      handler,
		table:        table,
		scratch:      make([]byte, config.ChunkSize),
		ready:        make(map[Handle]Interest),
		listener:     InvalidHandle,
		isRunning:    atomic.NewBool(false),
		stats:        NewStats(),
	}, nil
}

// MaxConnections is the number of connections the reactor admits at once.
func (r *Reactor) MaxConnections() int {
	return r.table.capacity()
}

func (r *Reactor) ChunkSize() int {
	return len(r.scratch)
}

func (r *Reactor) Stats() *Stats {
	return r.stats
}

// Submit queues data on h and switches h from read to write interest. It fails
// without touching the connection when data does not fit one chunk, when h is
// not an open connection, or when h still has output pending.
func (r *Reactor) Submit(h Handle, data []byte) error {
	c, err := r.table.lookup(h)
	if err != nil {
		return err
	}
	switch {
	case c.state == stateClosing:
		return ErrUnknownConnection
	case c.state == stateDraining:
		return ErrOutboundBusy
	case len(data) == 0:
		return ErrEmptyPayload
	case len(data) > r.ChunkSize():
		return ErrOversizedPayload
	}
	if err := r.setInterest(c, InterestWrite); err != nil {
		return err
	}
	// size was checked above
	_ = c.out.submit(data)
	c.state = stateDraining
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] queued %d bytes", h, len(data))
	}
	return nil
}

func (r *Reactor) setInterest(c *conn, interest Interest) error {
	if c.interest == interest {
		return nil
	}
	if err := r.poller.Watch(c.handle, interest); err != nil {
		return err
	}
	c.interest = interest
	return nil
}

// Run serves connections accepted on listener until the readiness wait fails
// or a connection can't be switched to non-blocking mode. All connections are
// closed before it returns. The listener stays open.
func (r *Reactor) Run(listener Handle) error {
	if !r.isRunning.CAS(false, true) {
		return ErrReactorRunning
	}
	defer r.isRunning.Store(false)
	if r.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	if err := r.sock.SetBlocking(listener, false); err != nil {
		return errors.Wrapf(err, "can't set listener %d to non-blocking", listener)
	}
	if err := r.poller.Watch(listener, InterestRead); err != nil {
		return errors.Wrapf(err, "can't watch listener %d", listener)
	}
	r.listener = listener
	defer func() {
		if err := r.poller.Watch(listener, InterestNone); err != nil {
			log.Error().Msgf("[%d] error occurs while detaching listener: %v", listener, err)
		}
		r.listener = InvalidHandle
	}()
	log.Info().Msgf("reactor %s started on listener %d", r.name, listener)

	err := r.loop()
	r.closeAll()
	log.Error().Msgf("reactor %s stopped: %+v", r.name, err)
	return err
}

func (r *Reactor) loop() error {
	for {
		nready, err := r.poller.Wait(r.ready)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrap(err, "readiness wait failed")
		}
		r.stats.Cycles.Inc()
		if log.Debug().Enabled() {
			log.Debug().Msgf("nready= %d", nready)
		}

		if r.ready[r.listener].Readable() {
			if err := r.accept(); err != nil {
				return err
			}
			nready--
		}
		if nready <= 0 {
			continue
		}

		r.table.each(func(c *conn) bool {
			ev := r.ready[c.handle]
			if ev == InterestNone {
				return true
			}
			nready -= ev.count()
			if ev.Readable() && c.interest == InterestRead {
				r.read(c)
			}
			if ev.Writable() && c.interest == InterestWrite {
				r.write(c)
			}
			return nready > 0
		})
	}
}

// accept admits at most one pending connection. Only a failure to make the
// new socket non-blocking is returned; it stops the reactor.
func (r *Reactor) accept() error {
	h, err := r.sock.Accept(r.listener)
	if err != nil {
		if IsTransient(err) {
			return nil
		}
		log.Error().Msgf("[%d] got error while accepting connection: %v", r.listener, err)
		return nil
	}

	if err := r.sock.SetBlocking(h, false); err != nil {
		r.closeHandle(h)
		return errors.Wrapf(err, "can't set connection %d to non-blocking", h)
	}

	c, err := r.table.allocate(h)
	if err != nil {
		log.Warn().Msgf("[%d] connection rejected: %v (capacity %d)", h, err, r.table.capacity())
		r.reject(h)
		return nil
	}
	if err := r.setInterest(c, InterestRead); err != nil {
		log.Warn().Msgf("[%d] connection rejected: %v", h, err)
		_ = r.table.release(c)
		r.reject(h)
		return nil
	}
	applySocketOptions(r.sock, h, r.recvBuffer, r.sendBuffer)

	r.stats.Accepted.Inc()
	r.stats.Active.Inc()
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] accepted into slot %d", h, c.slot)
	}
	r.handler.OnConnect(h)
	return nil
}

func (r *Reactor) reject(h Handle) {
	r.stats.Rejected.Inc()
	r.closeHandle(h)
}

func (r *Reactor) read(c *conn) {
	h := c.handle
	n, err := r.sock.Recv(h, r.scratch)
	switch {
	case err != nil && IsTransient(err):
		return
	case err != nil:
		log.Debug().Msgf("[%d] recv: %v", h, err)
		r.stats.Failed.Inc()
		r.teardown(c, func() { r.handler.OnRecvError(h, err) })
	case n == 0:
		r.stats.Disconnected.Inc()
		r.teardown(c, func() { r.handler.OnDisconnect(h) })
	default:
		r.stats.BytesReceived.Add(uint64(n))
		if log.Debug().Enabled() {
			log.Debug().Msgf("[%d] received %d bytes", h, n)
		}
		r.handler.OnRecvOk(r, h, r.scratch[:n])
	}
}

func (r *Reactor) write(c *conn) {
	h := c.handle
	n, err := r.sock.Send(h, c.out.pending())
	switch {
	case err != nil && IsTransient(err):
		return
	case err != nil:
		log.Debug().Msgf("[%d] send: %v", h, err)
		r.stats.Failed.Inc()
		r.teardown(c, func() { r.handler.OnSentError(h, err) })
		return
	case n == 0:
		return
	}

	sent, drained, err := c.out.advance(n)
	if err != nil {
		log.Error().Msgf("[%d] send reported %d bytes with %d queued", h, n, c.out.remaining)
		r.stats.Failed.Inc()
		r.teardown(c, func() { r.handler.OnSentError(h, err) })
		return
	}
	r.stats.BytesSent.Add(uint64(n))
	if drained {
		if err := r.setInterest(c, InterestRead); err != nil {
			r.stats.Failed.Inc()
			r.teardown(c, func() { r.handler.OnSentError(h, err) })
			return
		}
		c.state = stateIdle
		if log.Debug().Enabled() {
			log.Debug().Msgf("[%d] outbound drained", h)
		}
	}
	r.handler.OnSentOk(r, h, sent)
}

// teardown removes c from the interest sets, lets notify run, then closes the
// handle and frees the slot. Submit on c fails from here on.
func (r *Reactor) teardown(c *conn, notify func()) {
	h := c.handle
	c.state = stateClosing
	if err := r.setInterest(c, InterestNone); err != nil {
		log.Error().Msgf("[%d] error occurs while detaching fd from poller: %v", h, err)
		c.interest = InterestNone
	}
	notify()
	r.closeHandle(h)
	if err := r.table.release(c); err != nil {
		log.Error().Msgf("[%d] error occurs while releasing slot: %v", h, err)
	}
	r.stats.Active.Dec()
}

func (r *Reactor) closeHandle(h Handle) {
	if err := r.sock.Close(h); err != nil {
		log.Debug().Msgf("[%d] close: %v", h, err)
	}
}

func (r *Reactor) closeAll() {
	var open []*conn
	r.table.each(func(c *conn) bool {
		open = append(open, c)
		return true
	})
	for _, c := range open {
		c.state = stateClosing
		if err := r.setInterest(c, InterestNone); err != nil {
			log.Debug().Msgf("[%d] detach on shutdown: %v", c.handle, err)
		}
		r.closeHandle(c.handle)
		_ = r.table.release(c)
		r.stats.Active.Dec()
	}
	clear(r.ready)
}
