package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/queue"
	"github.com/iliyamo/cinema-seat-sync/internal/reconcile"
)

const self = "owner-self"

var t0 = time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC)

type MockAuthority struct {
	mock.Mock
}

func (m *MockAuthority) LockSeats(ctx context.Context, req model.LockRequest) (model.LockGrant, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.LockGrant), args.Error(1)
}

func (m *MockAuthority) ExtendLease(ctx context.Context, req model.ExtendRequest) (model.ExtendResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.ExtendResult), args.Error(1)
}

func (m *MockAuthority) ReleaseLease(ctx context.Context, req model.ReleaseRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockAuthority) ValidateLease(ctx context.Context, req model.ValidateRequest) (model.Validation, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Validation), args.Error(1)
}

func (m *MockAuthority) CreateOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.Order), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishCheckoutHandoff(ctx context.Context, ev queue.CheckoutHandoffEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// fakeClock is advanced by hand; every call to Now returns the same
// instant until the test moves it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine  *reconcile.Engine
	auth    *MockAuthority
	pub     *MockPublisher
	clock   *fakeClock
	coord   *Coordinator
	notices []model.Notice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc := model.SessionContext{ShowtimeID: 7, Owner: self}
	f := &fixture{
		auth:  new(MockAuthority),
		pub:   new(MockPublisher),
		clock: &fakeClock{now: t0},
	}
	f.engine = reconcile.NewEngine(sc, reconcile.Options{PendingTTL: 3 * time.Minute, Logger: zap.NewNop()})
	seats := make([]model.RemoteSeat, 0, 4)
	for id := uint64(1); id <= 4; id++ {
		seats = append(seats, model.RemoteSeat{
			Seat:   model.Seat{ID: id, Row: "A", Column: uint32(id), Category: model.CategoryPremium, PriceCents: 35000},
			Status: model.StatusAvailable,
		})
	}
	f.engine.Load(seats, t0)
	f.coord = New(f.engine, f.auth, sc, Config{
		LockTTL:        3 * time.Minute,
		ProvisionalTTL: time.Minute,
		Debounce:       400 * time.Millisecond,
		Now:            f.clock.Now,
		Logger:         zap.NewNop(),
		Notify:         func(n model.Notice) { f.notices = append(f.notices, n) },
		Handoff:        f.pub,
	})
	return f
}

func (f *fixture) status(t *testing.T, id uint64) model.SeatStatus {
	t.Helper()
	st, ok := f.engine.Seats().Status(id)
	require.True(t, ok)
	return st
}

func lockFor(ids ...uint64) interface{} {
	want := model.NewSeatSet(ids...)
	return mock.MatchedBy(func(req model.LockRequest) bool {
		return req.Owner == self && req.ShowtimeID == 7 && model.NewSeatSet(req.SeatIDs...).Equal(want)
	})
}

func grant(ids ...uint64) model.LockGrant {
	return model.LockGrant{
		LeaseID:   "lease-1",
		ExpiresAt: t0.Add(3 * time.Minute),
		Granted:   model.NewSeatSet(ids...),
	}
}

// lock selects the seats one by one (past the debounce window) with the
// authority granting everything asked.
func (f *fixture) lock(t *testing.T, ids ...uint64) {
	t.Helper()
	for i := range ids {
		f.auth.On("LockSeats", mock.Anything, lockFor(ids[:i+1]...)).Return(grant(ids[:i+1]...), nil).Once()
		require.NoError(t, f.coord.Select(context.Background(), ids[i]))
	}
}

func TestCoordinator_SelectConfirmsLease(t *testing.T) {
	f := newFixture(t)
	f.auth.On("LockSeats", mock.Anything, lockFor(1)).Return(grant(1), nil).Once()

	require.NoError(t, f.coord.Select(context.Background(), 1))

	l, ok := f.engine.Lease(f.clock.Now())
	require.True(t, ok)
	assert.Equal(t, "lease-1", l.ID)
	assert.False(t, l.Provisional)
	_, pending := f.coord.Pending()
	assert.False(t, pending)
	f.auth.AssertExpectations(t)
}

func TestCoordinator_LockSendsFullSelection(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1, 2, 3)

	f.auth.AssertNumberOfCalls(t, "LockSeats", 3)
	assert.Equal(t, []uint64{1, 2, 3}, f.engine.SelfSeatIDs(f.clock.Now()).Sorted())
}

func TestCoordinator_LocalRejectionMakesNoCall(t *testing.T) {
	f := newFixture(t)
	f.engine.ApplyEvent(model.Event{Type: model.EventSeatLocked, SeatID: 2, Owner: "owner-b"}, t0)

	err := f.coord.Select(context.Background(), 2)

	assert.ErrorIs(t, err, model.ErrSeatUnavailable)
	f.auth.AssertNotCalled(t, "LockSeats", mock.Anything, mock.Anything)
}

func TestCoordinator_Debounce(t *testing.T) {
	f := newFixture(t)
	f.auth.On("LockSeats", mock.Anything, lockFor(1)).Return(grant(1), nil).Once()
	f.auth.On("ReleaseLease", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.coord.Select(context.Background(), 1))
	require.NoError(t, f.coord.Deselect(context.Background(), 1))

	err := f.coord.Select(context.Background(), 1)
	assert.ErrorIs(t, err, model.ErrDuplicateAction)

	f.clock.Advance(time.Second)
	f.auth.On("LockSeats", mock.Anything, lockFor(1)).Return(grant(1), nil).Once()
	assert.NoError(t, f.coord.Select(context.Background(), 1))
}

func TestCoordinator_PartialGrant(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1, 2)
	f.clock.Advance(time.Second)

	f.auth.On("LockSeats", mock.Anything, lockFor(1, 2, 3)).Return(model.LockGrant{
		LeaseID:   "lease-1",
		ExpiresAt: t0.Add(3 * time.Minute),
		Granted:   model.NewSeatSet(1, 2),
		Conflicts: []model.LockConflict{{SeatID: 3, Owner: "owner-b", Reason: "taken"}},
	}, nil).Once()

	err := f.coord.Select(context.Background(), 3)

	var cerr *model.LockConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []uint64{3}, cerr.SeatIDs)
	assert.Equal(t, model.LockedBySelf, f.status(t, 1))
	assert.Equal(t, model.LockedBySelf, f.status(t, 2))
	assert.Equal(t, model.LockedByOther("owner-b"), f.status(t, 3))

	var conflicts []model.Notice
	for _, n := range f.notices {
		if n.Kind == model.NoticeConflict {
			conflicts = append(conflicts, n)
		}
	}
	require.Len(t, conflicts, 1)
	assert.Equal(t, []uint64{3}, conflicts[0].SeatIDs)
}

func TestCoordinator_RefusedLockKeepsHeldSeats(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1)
	f.clock.Advance(time.Second)

	// Locking is all or nothing: the refusal grants nothing new.
	f.auth.On("LockSeats", mock.Anything, lockFor(1, 2)).Return(model.LockGrant{
		LeaseID:   self + ":0",
		ExpiresAt: t0.Add(10 * time.Minute),
		Conflicts: []model.LockConflict{{SeatID: 2, Owner: "owner-b"}},
	}, nil).Once()

	err := f.coord.Select(context.Background(), 2)

	var cerr *model.LockConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []uint64{2}, cerr.SeatIDs)
	assert.Equal(t, model.LockedBySelf, f.status(t, 1))
	assert.Equal(t, model.LockedByOther("owner-b"), f.status(t, 2))

	l, ok := f.engine.Lease(f.clock.Now())
	require.True(t, ok)
	assert.Equal(t, "lease-1", l.ID)
	assert.Equal(t, t0.Add(3*time.Minute), l.ExpiresAt)
	assert.Equal(t, []uint64{1}, l.SeatIDs.Sorted())
}

func TestCoordinator_UngrantedSeatIsNotKept(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1)
	f.clock.Advance(time.Second)

	f.auth.On("LockSeats", mock.Anything, lockFor(1, 2)).Return(model.LockGrant{
		LeaseID:   self + ":0",
		ExpiresAt: t0.Add(10 * time.Minute),
	}, nil).Once()

	err := f.coord.Select(context.Background(), 2)

	var cerr *model.LockConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []uint64{2}, cerr.SeatIDs)
	assert.Equal(t, model.Available, f.status(t, 2))
	assert.Equal(t, []uint64{1}, f.engine.SelfSeatIDs(f.clock.Now()).Sorted())
	f.auth.AssertNotCalled(t, "ReleaseLease", mock.Anything, mock.Anything)
}

func TestCoordinator_NetworkFailureRevertsAndFallsBack(t *testing.T) {
	f := newFixture(t)
	f.auth.On("LockSeats", mock.Anything, lockFor(1)).Return(model.LockGrant{}, model.ErrNetworkUnavailable).Once()

	err := f.coord.Select(context.Background(), 1)

	assert.ErrorIs(t, err, model.ErrNetworkUnavailable)
	assert.True(t, model.IsRetryable(err))
	assert.Equal(t, model.Available, f.status(t, 1))
	_, ok := f.engine.Lease(f.clock.Now())
	assert.False(t, ok, "a provisional lease over no seats is dropped")
}

func TestCoordinator_FailureKeepsEarlierProvisionalSeats(t *testing.T) {
	f := newFixture(t)
	f.auth.On("LockSeats", mock.Anything, mock.Anything).Return(model.LockGrant{}, model.ErrServiceUnavailable)

	require.Error(t, f.coord.Select(context.Background(), 1))
	// seat 1 reverted; select 2 fails the same way
	f.clock.Advance(time.Second)
	_, _, err := f.engine.Select(3, f.clock.Now())
	require.NoError(t, err)
	err = f.coord.Select(context.Background(), 2)
	require.ErrorIs(t, err, model.ErrServiceUnavailable)

	l, ok := f.engine.Lease(f.clock.Now())
	require.True(t, ok)
	assert.True(t, l.Provisional)
	assert.Equal(t, []uint64{3}, l.SeatIDs.Sorted())
	assert.Equal(t, f.clock.Now().Add(time.Minute), l.ExpiresAt)
	assert.Equal(t, model.Available, f.status(t, 2))
}

func TestCoordinator_DeselectToEmptyReleasesLease(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1)
	f.auth.On("ReleaseLease", mock.Anything, model.ReleaseRequest{
		ShowtimeID: 7, Owner: self, LeaseID: "lease-1",
	}).Return(nil).Once()

	require.NoError(t, f.coord.Deselect(context.Background(), 1))

	assert.Equal(t, model.Available, f.status(t, 1))
	_, ok := f.engine.Lease(f.clock.Now())
	assert.False(t, ok)
	f.auth.AssertExpectations(t)
}

func TestCoordinator_DeselectReleasesSeat(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1, 2)
	f.auth.On("ReleaseLease", mock.Anything, model.ReleaseRequest{
		ShowtimeID: 7, Owner: self, LeaseID: "lease-1", SeatIDs: []uint64{2},
	}).Return(nil).Once()

	require.NoError(t, f.coord.Deselect(context.Background(), 2))

	assert.Equal(t, []uint64{1}, f.engine.SelfSeatIDs(f.clock.Now()).Sorted())
	f.auth.AssertExpectations(t)
}

func TestCoordinator_DeselectFailureReverts(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1, 2)
	f.auth.On("ReleaseLease", mock.Anything, mock.Anything).Return(model.ErrNetworkUnavailable).Once()

	err := f.coord.Deselect(context.Background(), 2)

	assert.ErrorIs(t, err, model.ErrNetworkUnavailable)
	assert.Equal(t, model.LockedBySelf, f.status(t, 2))
}

func TestCoordinator_SameSeatRejectedWhileInFlight(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	unblock := make(chan struct{})
	f.auth.On("LockSeats", mock.Anything, lockFor(1)).
		Run(func(mock.Arguments) { close(started); <-unblock }).
		Return(grant(1), nil).Once()
	f.auth.On("LockSeats", mock.Anything, lockFor(1, 2)).Return(grant(1, 2), nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.coord.Select(context.Background(), 1) }()
	<-started

	pa, ok := f.coord.Pending()
	require.True(t, ok)
	assert.Equal(t, model.ActionSelect, pa.Kind)

	err := f.coord.Deselect(context.Background(), 1)
	assert.ErrorIs(t, err, model.ErrActionInFlight)

	// an unrelated seat is accepted and synchronized by one follow-up call
	require.NoError(t, f.coord.Select(context.Background(), 2))
	assert.Equal(t, model.LockedBySelf, f.status(t, 2))

	close(unblock)
	require.NoError(t, <-done)

	assert.Equal(t, []uint64{1, 2}, f.engine.SelfSeatIDs(f.clock.Now()).Sorted())
	_, ok = f.coord.Pending()
	assert.False(t, ok)
	f.auth.AssertNumberOfCalls(t, "LockSeats", 2)
}

func TestCoordinator_HeldSeatsRejectedWhileLockInFlight(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1)
	f.clock.Advance(time.Second)

	started := make(chan struct{})
	unblock := make(chan struct{})
	f.auth.On("LockSeats", mock.Anything, lockFor(1, 2)).
		Run(func(mock.Arguments) { close(started); <-unblock }).
		Return(grant(1, 2), nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.coord.Select(context.Background(), 2) }()
	<-started

	// seat 1 is not the one being selected but is part of the lock request
	assert.ErrorIs(t, f.coord.Deselect(context.Background(), 1), model.ErrActionInFlight)

	close(unblock)
	require.NoError(t, <-done)
	assert.Equal(t, []uint64{1, 2}, f.engine.SelfSeatIDs(f.clock.Now()).Sorted())
}

func TestCoordinator_Renew(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1)

	// nothing to do while far from expiry
	require.NoError(t, f.coord.Renew(context.Background()))
	f.auth.AssertNotCalled(t, "ExtendLease", mock.Anything, mock.Anything)

	f.clock.Advance(2*time.Minute + 40*time.Second)
	newExp := f.clock.Now().Add(3 * time.Minute)
	f.auth.On("ExtendLease", mock.Anything, mock.MatchedBy(func(req model.ExtendRequest) bool {
		return req.LeaseID == "lease-1" && len(req.SeatIDs) == 1
	})).Return(model.ExtendResult{ExpiresAt: newExp}, nil).Once()

	require.NoError(t, f.coord.Renew(context.Background()))

	l, ok := f.engine.Lease(f.clock.Now())
	require.True(t, ok)
	assert.Equal(t, newExp, l.ExpiresAt)
}

func TestCoordinator_RenewFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1, 2)
	f.clock.Advance(2*time.Minute + 40*time.Second)
	f.auth.On("ExtendLease", mock.Anything, mock.Anything).Return(model.ExtendResult{}, model.ErrNetworkUnavailable)

	err := f.coord.Renew(context.Background())
	assert.ErrorIs(t, err, model.ErrNetworkUnavailable)

	secs, ok := f.engine.SecondsRemaining(f.clock.Now())
	require.True(t, ok)
	assert.Equal(t, 20, secs)
	assert.Equal(t, model.NoticeRenewFailed, f.notices[len(f.notices)-1].Kind)

	// the countdown continues and the seats are freed at expiry
	f.clock.Advance(20 * time.Second)
	out := f.engine.Expire(f.clock.Now())
	assert.Equal(t, []uint64{1, 2}, out.Expired)
	assert.Equal(t, model.Available, f.status(t, 1))
}

func TestCoordinator_RenewNotOwned(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1, 2)
	f.clock.Advance(2*time.Minute + 40*time.Second)
	f.auth.On("ExtendLease", mock.Anything, mock.Anything).
		Return(model.ExtendResult{ExpiresAt: f.clock.Now().Add(3 * time.Minute), NotOwned: []uint64{2}}, nil)

	err := f.coord.Renew(context.Background())

	var cerr *model.LockConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []uint64{1}, f.engine.SelfSeatIDs(f.clock.Now()).Sorted())
}

func TestCoordinator_RenewSkipsProvisional(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.engine.Select(1, t0)
	require.NoError(t, err)
	f.clock.Advance(2*time.Minute + 50*time.Second)

	require.NoError(t, f.coord.Renew(context.Background()))
	f.auth.AssertNotCalled(t, "ExtendLease", mock.Anything, mock.Anything)
}

func TestCoordinator_ReleaseIsGuarded(t *testing.T) {
	f := newFixture(t)
	f.lock(t, 1)

	started := make(chan struct{})
	unblock := make(chan struct{})
	f.auth.On("ReleaseLease", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { close(started); <-unblock }).
		Return(nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.coord.Release(context.Background()) }()
	<-started

	assert.NoError(t, f.coord.Release(context.Background()))
	close(unblock)
	require.NoError(t, <-done)

	// released lease: a further release has nothing to do
	require.NoError(t, f.coord.Release(context.Background()))
	f.auth.AssertNumberOfCalls(t, "ReleaseLease", 1)
	assert.Equal(t, model.Available, f.status(t, 1))
}
