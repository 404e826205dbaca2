package nbserver

import (
	"errors"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

type Mode string

const (
	// ModeEcho sends received bytes back to the sender only.
	ModeEcho Mode = "echo"
	// ModeBroadcast sends received bytes to every connected peer, sender included.
	ModeBroadcast Mode = "broadcast"
)

const DefaultMaxBacklog = 16

type session struct {
	handle             Handle
	connectedAt        int64
	lastActivityTime   int64
	totalSentBytes     uint64
	totalReceivedBytes uint64
	// chunks waiting for the outbound buffer to drain
	backlog *queue.Queue
}

// BroadcastHandler is the sample application: an echo or broadcast server.
// It keeps its own table of sessions keyed by handle, in connect order.
type BroadcastHandler struct {
	mode       Mode
	maxBacklog int
	router     EventRouter
	sessions   map[Handle]*session
	order      []Handle
	dropped    *atomic.Uint64
}

func NewBroadcastHandler(mode Mode, maxBacklog int, router EventRouter) *BroadcastHandler {
	if mode == "" {
		mode = ModeBroadcast
	}
	if maxBacklog < 0 {
		maxBacklog = 0
	}
	if router == nil {
		router = LogEventRouter{}
	}
	return &BroadcastHandler{
		mode:       mode,
		maxBacklog: maxBacklog,
		router:     router,
		sessions:   make(map[Handle]*session),
		dropped:    atomic.NewUint64(0),
	}
}

// Sessions returns the number of known sessions. Call it from the reactor
// goroutine only.
func (b *BroadcastHandler) Sessions() int {
	return len(b.sessions)
}

// ReportTo makes the handler count dropped chunks in stats. Call it before the
// reactor runs.
func (b *BroadcastHandler) ReportTo(stats *Stats) {
	stats.Dropped.Add(b.dropped.Load())
	b.dropped = stats.Dropped
}

// Dropped counts chunks discarded because a peer's backlog was full.
func (b *BroadcastHandler) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *BroadcastHandler) OnConnect(h Handle) {
	now := time.Now().UnixMilli()
	b.sessions[h] = &session{
		handle:           h,
		connectedAt:      now,
		lastActivityTime: now,
		backlog:          queue.New(),
	}
	b.order = append(b.order, h)
	b.route(newEvent(EventConnected, h, ""))
}

func (b *BroadcastHandler) OnDisconnect(h Handle) {
	b.remove(h, newEvent(EventDisconnected, h, ""))
}

func (b *BroadcastHandler) OnRecvError(h Handle, err error) {
	b.remove(h, newEvent(EventRecvError, h, err.Error()))
}

func (b *BroadcastHandler) OnSentError(h Handle, err error) {
	b.remove(h, newEvent(EventSentError, h, err.Error()))
}

func (b *BroadcastHandler) OnRecvOk(s Submitter, h Handle, data []byte) {
	src, ok := b.sessions[h]
	if !ok {
		log.Warn().Msgf("[%d] received %d bytes for unknown session", h, len(data))
		return
	}
	src.lastActivityTime = time.Now().UnixMilli()
	src.totalReceivedBytes += uint64(len(data))

	if b.mode == ModeEcho {
		b.deliver(s, src, data)
		return
	}
	for _, target := range b.order {
		b.deliver(s, b.sessions[target], data)
	}
}

func (b *BroadcastHandler) OnSentOk(s Submitter, h Handle, sent []byte) {
	sess, ok := b.sessions[h]
	if !ok {
		return
	}
	sess.totalSentBytes += uint64(len(sent))
	b.flush(s, sess)
}

// flush submits the head of the backlog. A failed submit keeps the chunk for
// the next delivery attempt.
func (b *BroadcastHandler) flush(s Submitter, sess *session) {
	if sess.backlog.Length() == 0 {
		return
	}
	err := s.Submit(sess.handle, sess.backlog.Peek().([]byte))
	switch {
	case err == nil:
		sess.backlog.Remove()
	case errors.Is(err, ErrOutboundBusy):
		// still draining the previous chunk
	default:
		log.Error().Msgf("[%d] can't submit backlog: %v", sess.handle, err)
	}
}

func (b *BroadcastHandler) deliver(s Submitter, target *session, data []byte) {
	b.flush(s, target)
	if target.backlog.Length() == 0 {
		err := s.Submit(target.handle, data)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrOutboundBusy) {
			log.Error().Msgf("[%d] can't submit %d bytes: %v", target.handle, len(data), err)
			return
		}
	}
	if target.backlog.Length() >= b.maxBacklog {
		b.dropped.Inc()
		log.Warn().Msgf("[%d] backlog full, dropped %d bytes", target.handle, len(data))
		b.route(newEvent(EventDropped, target.handle, "backlog full"))
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	target.backlog.Add(chunk)
}

func (b *BroadcastHandler) remove(h Handle, event *Event) {
	sess, ok := b.sessions[h]
	if !ok {
		log.Warn().Msgf("[%d] %s for unknown session", h, event.Type)
		return
	}
	delete(b.sessions, h)
	for i, handle := range b.order {
		if handle == h {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] session closed, sent: %d received: %d pending: %d", h, sess.totalSentBytes, sess.totalReceivedBytes, sess.backlog.Length())
	}
	event.MetaData = map[string]interface{}{
		"sent":     sess.totalSentBytes,
		"received": sess.totalReceivedBytes,
		"duration": time.Now().UnixMilli() - sess.connectedAt,
	}
	b.route(event)
}

func (b *BroadcastHandler) route(event *Event) {
	if err := b.router.Process(event.Key(), event); err != nil {
		log.Error().Msgf("[%d] got error while routing %s event: %v", event.Handle, event.Type, err)
	}
}
