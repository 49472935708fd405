// Package session owns everything one seat-selection session needs: the
// reconciliation engine holding the seat map and lease, the coordinator
// talking to the authority, the push supervisor and the lease ticker.
// All state is scoped to a Session value; nothing is process-wide.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/coordinator"
	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/metrics"
	"github.com/iliyamo/cinema-seat-sync/internal/reconcile"
	"github.com/iliyamo/cinema-seat-sync/internal/repository"
	"github.com/iliyamo/cinema-seat-sync/internal/supervisor"
)

const (
	DefaultTickInterval = time.Second
	DefaultNoticeBuffer = 64
	fetchTimeout        = 10 * time.Second
)

// Authority is the full authority contract a session needs: the seat-map
// fetch plus the calls made by the coordinator.
type Authority interface {
	coordinator.Authority
	FetchSeatMap(ctx context.Context, showtimeID uint64) ([]model.RemoteSeat, error)
}

// LeaseStore persists the confirmed lease across process restarts.
type LeaseStore interface {
	Save(ctx context.Context, sc model.SessionContext, l model.Lease) error
	Load(ctx context.Context, sc model.SessionContext) (repository.StoredLease, bool, error)
	Delete(ctx context.Context, sc model.SessionContext) error
}

// Config tunes a Session.  Zero durations select the defaults of the
// package owning the setting.
//
// Fields:
//
//	LockTTL, ProvisionalTTL, Debounce – forwarded to the coordinator.
//	RenewThreshold                    – forwarded to the lease tracker.
//	TickInterval                      – period of expiry and renewal checks.
//	Source, Push                      – push transport and its reconnect policy; nil Source disables push.
//	Store                             – lease persistence; nil disables it.
//	Handoff                           – checkout handoff publisher; nil disables it.
type Config struct {
	LockTTL        time.Duration
	RenewThreshold time.Duration
	ProvisionalTTL time.Duration
	Debounce       time.Duration
	TickInterval   time.Duration
	NoticeBuffer   int

	Source  supervisor.Source
	Push    supervisor.Config
	Store   LeaseStore
	Handoff coordinator.HandoffPublisher

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Session is one user's seat-selection session for one showtime.
type Session struct {
	sc      model.SessionContext
	cfg     Config
	auth    Authority
	log     *zap.Logger
	metrics *metrics.Metrics

	engine *reconcile.Engine
	coord  *coordinator.Coordinator
	sup    *supervisor.Supervisor

	notices   chan model.Notice
	refreshMu sync.Mutex // serializes seat-map fetches
	wg        sync.WaitGroup

	mu       sync.Mutex // guards the fields below
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	closed   bool
	saved    *model.Lease // last lease written to the store
}

// New builds a session.  Nothing touches the network until Start.
func New(sc model.SessionContext, auth Authority, cfg Config) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.NoticeBuffer <= 0 {
		cfg.NoticeBuffer = DefaultNoticeBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	s := &Session{
		sc:      sc,
		cfg:     cfg,
		auth:    auth,
		metrics: cfg.Metrics,
		notices: make(chan model.Notice, cfg.NoticeBuffer),
		log: cfg.Logger.With(
			zap.Uint64("showtime_id", sc.ShowtimeID),
			zap.String("owner", sc.Owner),
		),
	}
	s.engine = reconcile.NewEngine(sc, reconcile.Options{
		RenewThreshold: cfg.RenewThreshold,
		PendingTTL:     cfg.LockTTL,
		Logger:         cfg.Logger,
	})
	s.coord = coordinator.New(s.engine, auth, sc, coordinator.Config{
		LockTTL:        cfg.LockTTL,
		ProvisionalTTL: cfg.ProvisionalTTL,
		Debounce:       cfg.Debounce,
		Now:            cfg.Now,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		Notify:         s.notify,
		Handoff:        cfg.Handoff,
	})
	if cfg.Source != nil {
		push := cfg.Push
		if push.Logger == nil {
			push.Logger = cfg.Logger
		}
		if push.Metrics == nil {
			push.Metrics = cfg.Metrics
		}
		s.sup = supervisor.New(cfg.Source, s, sc.ShowtimeID, push)
	}
	return s
}

// Context returns the session's identity.
func (s *Session) Context() model.SessionContext { return s.sc }

// Start recovers a lease left behind by a previous process, loads the
// seat map and starts the push supervisor and the lease ticker.  The
// background work runs until Close.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	bg := s.ctx
	s.mu.Unlock()

	s.recoverOrphan(ctx)
	if err := s.Refresh(ctx); err != nil {
		return fmt.Errorf("initial seat map fetch: %w", err)
	}

	if s.sup != nil {
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			if err := s.sup.Run(bg); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("push supervisor stopped", zap.Error(err))
			}
		}()
		go func() {
			defer s.wg.Done()
			s.watchConnectivity(bg)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(bg)
	}()
	s.log.Info("session started", zap.Int("seats", s.engine.Seats().Len()))
	return nil
}

// recoverOrphan releases a lease persisted by an earlier process for the
// same showtime and owner.  Failures are logged; the authority's TTL
// reclaims the seats eventually anyway.
func (s *Session) recoverOrphan(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	sl, ok, err := s.cfg.Store.Load(ctx, s.sc)
	if err != nil {
		s.log.Warn("load stored lease", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	log := s.log.With(zap.String("lease_id", sl.LeaseID), zap.Uint64s("seat_ids", sl.SeatIDs))
	err = s.auth.ReleaseLease(ctx, model.ReleaseRequest{
		ShowtimeID: s.sc.ShowtimeID,
		Owner:      s.sc.Owner,
		LeaseID:    sl.LeaseID,
		SeatIDs:    sl.SeatIDs,
	})
	if err != nil {
		log.Warn("orphaned lease release failed", zap.Error(err))
	} else {
		log.Info("orphaned lease released")
	}
	if err := s.cfg.Store.Delete(ctx, s.sc); err != nil {
		log.Warn("delete stored lease", zap.Error(err))
	}
}

// Refresh fetches the full seat map and merges it into the local one.
func (s *Session) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	started := time.Now()
	seats, err := s.auth.FetchSeatMap(ctx, s.sc.ShowtimeID)
	s.metrics.ObserveAuthorityCall("fetch", fetchStatus(err), started)
	if err != nil {
		return err
	}
	s.report(s.engine.Load(seats, s.cfg.Now()))
	s.persist(ctx)
	return nil
}

// Select selects a seat; see coordinator.Coordinator.Select.
func (s *Session) Select(ctx context.Context, seatID uint64) error {
	err := s.coord.Select(ctx, seatID)
	s.persist(ctx)
	return err
}

// Deselect frees a seat; see coordinator.Coordinator.Deselect.
func (s *Session) Deselect(ctx context.Context, seatID uint64) error {
	err := s.coord.Deselect(ctx, seatID)
	s.persist(ctx)
	return err
}

// Checkout validates the lease and creates an order.  A successful
// checkout hands the lease off: it is no longer persisted for recovery.
func (s *Session) Checkout(ctx context.Context) (model.Order, error) {
	order, err := s.coord.Checkout(ctx)
	s.persist(ctx)
	return order, err
}

// HandOffToCheckout suppresses the release on Close.
func (s *Session) HandOffToCheckout(ctx context.Context) {
	s.coord.HandOffToCheckout()
	s.persist(ctx)
}

// Reset drops the current selection and releases the lease.
func (s *Session) Reset(ctx context.Context) error {
	if s.coord.HandingOff() {
		return model.ErrHandedOff
	}
	err := s.coord.Release(ctx)
	s.persist(ctx)
	return err
}

// Snapshot returns the read-only view of the session.
func (s *Session) Snapshot() model.Snapshot {
	snap := s.engine.Snapshot(s.cfg.Now())
	snap.HandingOff = s.coord.HandingOff()
	snap.Connectivity = s.Connectivity()
	return snap
}

// Seats returns the current seat map.
func (s *Session) Seats() *reconcile.SeatMap { return s.engine.Seats() }

// SeatStates returns every seat with its status, in fetch order.
func (s *Session) SeatStates() []model.SeatState { return s.engine.Seats().All() }

// Order returns the order created by checkout, if any.
func (s *Session) Order() (model.Order, bool) { return s.coord.Order() }

// Connectivity reports the push channel state.
func (s *Session) Connectivity() model.ConnStatus {
	if s.sup == nil {
		return model.ConnDisconnected
	}
	return s.sup.Status()
}

// Notices returns the stream of user-facing notices.  When nobody reads
// it, the oldest notices are dropped.
func (s *Session) Notices() <-chan model.Notice { return s.notices }

// DrainNotices returns every buffered notice without blocking.
func (s *Session) DrainNotices() []model.Notice {
	var out []model.Notice
	for {
		select {
		case n := <-s.notices:
			out = append(out, n)
		default:
			return out
		}
	}
}

// ApplyEvent receives normalized push events from the supervisor.
func (s *Session) ApplyEvent(ev model.Event) {
	switch ev.Type {
	case model.EventConnected, model.EventRefreshHint:
		// Events may have been missed while disconnected, and a refresh
		// hint carries no seat data at all.
		ctx, cancel := context.WithTimeout(s.background(), fetchTimeout)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn("seat map refresh failed", zap.String("trigger", string(ev.Type)), zap.Error(err))
		}
	case model.EventDisconnected:
	case model.EventError:
		s.log.Warn("push channel error", zap.String("message", ev.Message))
	default:
		s.report(s.engine.ApplyEvent(ev, s.cfg.Now()))
		s.persist(s.background())
	}
}

// Tick runs one round of lease housekeeping: local expiry, renewal when
// due, gauges and persistence.
func (s *Session) Tick(ctx context.Context) {
	now := s.cfg.Now()
	s.report(s.engine.Expire(now))
	if err := s.coord.Renew(ctx); err != nil {
		s.log.Debug("renew", zap.Error(err))
	}
	now = s.cfg.Now()
	secs, _ := s.engine.SecondsRemaining(now)
	s.metrics.SetLease(secs, len(s.engine.SelfSeatIDs(now)))
	s.persist(ctx)
}

// Close stops the background work and releases the lease unless it was
// handed off to checkout.  Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	err := s.coord.Teardown(ctx)
	if !s.coord.HandingOff() && s.cfg.Store != nil {
		if derr := s.cfg.Store.Delete(ctx, s.sc); derr != nil {
			s.log.Warn("delete stored lease", zap.Error(derr))
		}
	}
	s.log.Info("session closed", zap.Bool("handed_off", s.coord.HandingOff()))
	return err
}

func (s *Session) loop(ctx context.Context) {
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

func (s *Session) watchConnectivity(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-s.sup.StatusChanges():
			s.metrics.SetPushConnected(st == model.ConnConnected)
			s.log.Info("push connectivity changed", zap.String("status", string(st)))
			s.notify(model.Notice{Kind: model.NoticeConnectivity, Message: string(st)})
		}
	}
}

// persist mirrors the confirmed lease into the store.  Provisional and
// handed-off leases are never stored.
func (s *Session) persist(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	now := s.cfg.Now()
	l, ok := s.engine.Lease(now)
	keep := ok && !l.Provisional && len(l.SeatIDs) > 0 && !s.coord.HandingOff()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !keep {
		if s.saved == nil {
			return
		}
		if err := s.cfg.Store.Delete(ctx, s.sc); err != nil {
			s.log.Warn("delete stored lease", zap.Error(err))
			return
		}
		s.saved = nil
		return
	}
	if sameLease(s.saved, l) {
		return
	}
	if err := s.cfg.Store.Save(ctx, s.sc, l); err != nil {
		s.log.Warn("save lease", zap.String("lease_id", l.ID), zap.Error(err))
		return
	}
	saved := l.Clone()
	s.saved = &saved
}

func sameLease(saved *model.Lease, l model.Lease) bool {
	return saved != nil && saved.ID == l.ID && saved.ExpiresAt.Equal(l.ExpiresAt) && saved.SeatIDs.Equal(l.SeatIDs)
}

func (s *Session) background() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Session) report(out reconcile.Outcome) {
	coordinator.Report(out, s.notify, s.metrics)
}

// notify queues n, dropping the oldest notice when the buffer is full.
func (s *Session) notify(n model.Notice) {
	if n.At.IsZero() {
		n.At = s.cfg.Now()
	}
	for {
		select {
		case s.notices <- n:
			return
		default:
		}
		select {
		case <-s.notices:
		default:
		}
	}
}

func fetchStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrNetworkUnavailable):
		return "network"
	case errors.Is(err, model.ErrServiceUnavailable):
		return "service"
	}
	return "error"
}
