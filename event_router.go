package nbserver

import "github.com/rs/zerolog/log"

// EventRouter forwards lifecycle events somewhere outside the process.
// Process is called from the reactor goroutine and must not block.
type EventRouter interface {
	Process(key string, event *Event) error
	Close() error
}

// LogEventRouter writes events to the debug log.
type LogEventRouter struct{}

func (LogEventRouter) Process(key string, event *Event) error {
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%s] event %s: %s", key, event.Type, event.Msg)
	}
	return nil
}

func (LogEventRouter) Close() error {
	return nil
}
