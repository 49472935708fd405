// Package supervisor keeps exactly one live push subscription per
// session, reconnecting with bounded attempts and doubling backoff.  It
// never touches the seat map: decoded events are forwarded to a Sink.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/metrics"
)

// ErrGaveUp is returned by Run once automatic reconnection stopped.
var ErrGaveUp = errors.New("push channel persistently disconnected")

// Source opens push subscriptions.  The returned channel delivers raw
// payloads in arrival order and is closed when the subscription ends.
type Source interface {
	Subscribe(ctx context.Context, showtimeID uint64) (<-chan []byte, error)
}

// Sink receives normalized events in arrival order.
type Sink interface {
	ApplyEvent(ev model.Event)
}

// Config tunes reconnection.  Zero values fall back to the defaults
// below.
type Config struct {
	MaxAttempts    int           // consecutive failed attempts before giving up
	InitialBackoff time.Duration // delay after the first failure
	MaxBackoff     time.Duration // backoff cap
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Supervisor owns the push subscription of one showtime session.
type Supervisor struct {
	src        Source
	sink       Sink
	showtimeID uint64
	cfg        Config
	log        *zap.Logger

	mu      sync.Mutex
	status  model.ConnStatus
	changes chan model.ConnStatus
}

// New returns a supervisor in the Disconnected state.
func New(src Source, sink Sink, showtimeID uint64, cfg Config) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
		if cfg.MaxBackoff < cfg.InitialBackoff {
			cfg.MaxBackoff = cfg.InitialBackoff
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	return &Supervisor{
		src:        src,
		sink:       sink,
		showtimeID: showtimeID,
		cfg:        cfg,
		log:        cfg.Logger.With(zap.Uint64("showtime_id", showtimeID)),
		status:     model.ConnDisconnected,
		changes:    make(chan model.ConnStatus, 16),
	}
}

// Status returns the current connectivity.
func (s *Supervisor) Status() model.ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StatusChanges delivers every connectivity transition.  Transitions are
// dropped when the reader falls behind; Status is always current.
func (s *Supervisor) StatusChanges() <-chan model.ConnStatus {
	return s.changes
}

func (s *Supervisor) setStatus(st model.ConnStatus) {
	s.mu.Lock()
	if s.status == st {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()

	select {
	case s.changes <- st:
	default:
	}
}

// Run keeps the subscription alive until ctx is cancelled or reconnection
// gives up.  Consecutive failures back off 1s, 2s, 4s ... up to
// MaxBackoff; every successful subscription resets the count.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.cfg.InitialBackoff
	failures := 0

	for {
		s.setStatus(model.ConnConnecting)
		msgs, err := s.src.Subscribe(ctx, s.showtimeID)
		if err == nil {
			failures = 0
			backoff = s.cfg.InitialBackoff
			s.setStatus(model.ConnConnected)
			s.log.Info("push channel connected")
			s.sink.ApplyEvent(model.Event{Type: model.EventConnected})

			s.forward(ctx, msgs)
			s.sink.ApplyEvent(model.Event{Type: model.EventDisconnected})
			if ctx.Err() != nil {
				s.setStatus(model.ConnDisconnected)
				return ctx.Err()
			}
			err = errors.New("subscription closed")
		}
		if ctx.Err() != nil {
			s.setStatus(model.ConnDisconnected)
			return ctx.Err()
		}

		failures++
		s.cfg.Metrics.IncReconnect()
		if failures >= s.cfg.MaxAttempts {
			s.setStatus(model.ConnGaveUp)
			s.log.Warn("push channel gave up, selections continue through lock calls",
				zap.Int("attempts", failures),
				zap.Error(err),
			)
			return ErrGaveUp
		}
		s.setStatus(model.ConnDisconnected)
		s.log.Warn("push channel lost, retrying",
			zap.Int("attempt", failures),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setStatus(model.ConnDisconnected)
			return ctx.Err()
		case <-t.C:
		}
		if backoff < s.cfg.MaxBackoff {
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}
	}
}

// forward decodes and hands frames to the sink until the subscription
// ends.
func (s *Supervisor) forward(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := Decode(raw)
			if errors.Is(err, ErrIgnored) {
				continue
			}
			if err != nil {
				s.log.Debug("push frame dropped", zap.Error(err), zap.ByteString("payload", raw))
				continue
			}
			s.cfg.Metrics.IncPushEvent(string(ev.Type))
			s.sink.ApplyEvent(ev)
		}
	}
}
