package nbserver

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// Stats are updated by the reactor goroutine and may be read from any other.
type Stats struct {
	Accepted      *atomic.Uint64
	Rejected      *atomic.Uint64
	Active        *atomic.Int64
	Disconnected  *atomic.Uint64
	Failed        *atomic.Uint64
	BytesReceived *atomic.Uint64
	BytesSent     *atomic.Uint64
	Cycles        *atomic.Uint64
	// Dropped is fed by the application, see BroadcastHandler.ReportTo.
	Dropped *atomic.Uint64
}

type StatsSnapshot struct {
	Accepted      uint64 `json:"accepted"`
	Rejected      uint64 `json:"rejected"`
	Active        int64  `json:"active"`
	Disconnected  uint64 `json:"disconnected"`
	Failed        uint64 `json:"failed"`
	BytesReceived uint64 `json:"bytesReceived"`
	BytesSent     uint64 `json:"bytesSent"`
	Cycles        uint64 `json:"cycles"`
	Dropped       uint64 `json:"dropped"`
}

func NewStats() *Stats {
	return &Stats{
		Accepted:      atomic.NewUint64(0),
		Rejected:      atomic.NewUint64(0),
		Active:        atomic.NewInt64(0),
		Disconnected:  atomic.NewUint64(0),
		Failed:        atomic.NewUint64(0),
		BytesReceived: atomic.NewUint64(0),
		BytesSent:     atomic.NewUint64(0),
		Cycles:        atomic.NewUint64(0),
		Dropped:       atomic.NewUint64(0),
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:      s.Accepted.Load(),
		Rejected:      s.Rejected.Load(),
		Active:        s.Active.Load(),
		Disconnected:  s.Disconnected.Load(),
		Failed:        s.Failed.Load(),
		BytesReceived: s.BytesReceived.Load(),
		BytesSent:     s.BytesSent.Load(),
		Cycles:        s.Cycles.Load(),
		Dropped:       s.Dropped.Load(),
	}
}

// MonitorStats logs a snapshot every period until ctx is done.
func MonitorStats(ctx context.Context, stats *Stats, period time.Duration) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := stats.Snapshot()
			log.Info().
				Uint64("accepted", s.Accepted).
				Uint64("rejected", s.Rejected).
				Int64("active", s.Active).
				Uint64("disconnected", s.Disconnected).
				Uint64("failed", s.Failed).
				Uint64("received", s.BytesReceived).
				Uint64("sent", s.BytesSent).
				Uint64("dropped", s.Dropped).
				Msg("reactor stats")
		}
	}
}
