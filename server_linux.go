//go:build linux

package nbserver

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server wires a listening socket, a poller, the reactor and the sample
// application together from a Config.
type Server struct {
	ctx      context.Context
	config   *Config
	listener Handle
	poller   Poller
	reactor  *Reactor
	handler  *BroadcastHandler
	router   EventRouter
}

func NewServer(ctx context.Context, config *Config) (*Server, error) {
	if config.Server.RaiseNoFile {
		RaiseOpenFilesLimit()
	}
	router, err := newEventRouter(ctx, config.Events)
	if err != nil {
		return nil, err
	}
	poller, err := NewPoller(config.Server.Poller)
	if err != nil {
		_ = router.Close()
		return nil, errors.Wrapf(err, "can't open poller %q", config.Server.Poller)
	}
	handler := NewBroadcastHandler(config.Server.Mode, config.Server.MaxBacklog, router)
	reactor, err := NewReactor(config.ReactorConfig(), NewUnixSocket(), poller, handler)
	if err != nil {
		_ = poller.Close()
		_ = router.Close()
		return nil, err
	}
	handler.ReportTo(reactor.Stats())
	listener, err := Listen(ListenerConfig{
		Address:   config.Server.Address,
		Port:      config.Server.Port,
		ReuseAddr: config.Server.ReuseAddr,
	})
	if err != nil {
		_ = poller.Close()
		_ = router.Close()
		return nil, errors.Wrapf(err, "can't listen on %s:%d", config.Server.Address, config.Server.Port)
	}
	return &Server{
		ctx:      ctx,
		config:   config,
		listener: listener,
		poller:   poller,
		reactor:  reactor,
		handler:  handler,
		router:   router,
	}, nil
}

func newEventRouter(ctx context.Context, config EventsConfig) (EventRouter, error) {
	if config.KafkaBrokers == "" {
		return LogEventRouter{}, nil
	}
	return NewKafkaEventRouter(ctx, config)
}

func (s *Server) Reactor() *Reactor {
	return s.reactor
}

func (s *Server) Port() (int, error) {
	return LocalPort(s.listener)
}

// Serve blocks for the lifetime of the reactor and releases everything the
// server opened before returning the reactor's error. The listener is owned by
// the server; closing it from outside only stops the reactor at its next wait
// and the close in Serve then reports EBADF.
func (s *Server) Serve() error {
	monitorCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go MonitorStats(monitorCtx, s.reactor.Stats(), time.Duration(s.config.Stats.IntervalSec)*time.Second)

	err := s.reactor.Run(s.listener)

	if cerr := NewUnixSocket().Close(s.listener); cerr != nil {
		log.Error().Msgf("[%d] got error while closing listener: %+v", s.listener, cerr)
	}
	if cerr := s.poller.Close(); cerr != nil {
		log.Error().Msgf("got error while closing poller: %+v", cerr)
	}
	if cerr := s.router.Close(); cerr != nil {
		log.Error().Msgf("got error while closing event router: %+v", cerr)
	}
	return err
}

// MaxConcurrentConnections is the slot capacity of a reactor on the default
// select poller. A running server reports its own through
// Reactor().MaxConnections().
func MaxConcurrentConnections() int {
	return NewSelectPoller().MaxHandles()
}

// Run serves handler on listener with the default select poller and chunkSize
// byte chunks. It blocks until the reactor stops.
func Run(listener Handle, chunkSize int, handler Handler) error {
	poller := NewSelectPoller()
	defer poller.Close()
	reactor, err := NewReactor(ReactorConfig{Name: "main", ChunkSize: chunkSize}, NewUnixSocket(), poller, handler)
	if err != nil {
		return err
	}
	return reactor.Run(listener)
}
