package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"
	"github.com/jgriss/fusionsolar2mqtt/pkg/fusionsolar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testCreds = config.Credentials{Username: "user", Password: "secret", Subdomain: "region03eu5"}

type fakeSource struct {
	mu      sync.Mutex
	today   float64
	err     error
	block   chan struct{}
	closed  bool
	fetches int
}

func (s *fakeSource) check(ctx context.Context) error {
	s.mu.Lock()
	s.fetches++
	block := s.block
	err := s.err
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeSource) GetPlantIds(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return []string{"NE=1"}, nil
}

func (s *fakeSource) GetPowerStatus(ctx context.Context) (*fusionsolar.PowerStatus, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &fusionsolar.PowerStatus{
		CurrentPowerKW:      1.5,
		TotalPowerTodayKWh:  s.today,
		CurrentPowerPresent: true,
		TodayPresent:        true,
	}, nil
}

func (s *fakeSource) GetPlantData(ctx context.Context, plantId string) (fusionsolar.PlantData, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return fusionsolar.PlantData{
		fusionsolar.SERIES_PRODUCT_POWER: {Value: 0.4},
		fusionsolar.SERIES_USE_POWER:     {Value: 0.8},
		fusionsolar.SERIES_BUY_POWER:     {Value: 0.4},
	}, nil
}

func (s *fakeSource) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) set(today float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.today = today
	s.err = err
}

type fakeFactory struct {
	mu      sync.Mutex
	sources []*fakeSource
	err     error
	next    func() *fakeSource
}

func (f *fakeFactory) create(_ context.Context, _ config.Credentials) (port.ReadingsSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var s *fakeSource
	if f.next != nil {
		s = f.next()
	} else {
		s = &fakeSource{today: 1}
	}
	f.sources = append(f.sources, s)
	return s, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

func (f *fakeFactory) last() *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[len(f.sources)-1]
}

type fakeStore struct {
	mu      sync.Mutex
	states  map[string]domain.MetricState
	saveErr error
	loadErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]domain.MetricState)}
}

func (s *fakeStore) Load(_ context.Context, id string) (domain.MetricState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok, nil
}

func (s *fakeStore) LoadAll(_ context.Context) (map[string]domain.MetricState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]domain.MetricState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) Save(ctx context.Context, id string, st domain.MetricState) error {
	return s.SaveAll(ctx, map[string]domain.MetricState{id: st})
}

func (s *fakeStore) SaveAll(_ context.Context, states map[string]domain.MetricState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	for k, v := range states {
		s.states[k] = v
	}
	return nil
}

func (s *fakeStore) Close() error {
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestReconciler(factory *fakeFactory, store *fakeStore, clk *clock) *Reconciler {
	return NewReconciler(ReconcilerConfig{
		Credentials:            testCreds,
		FetchTimeout:           200 * time.Millisecond,
		MaxConsecutiveFailures: 2,
	}, factory.create, store, zap.NewNop(), WithClock(clk.Now))
}

func todayId() string {
	return domain.MetricUniqueId(domain.AccountHash(testCreds), "", domain.SENSOR_KEY_TOTAL_ENERGY_TODAY)
}

func TestPollDetectsResetAndPersists(t *testing.T) {
	factory := &fakeFactory{}
	store := newFakeStore()
	clk := &clock{now: t0}
	r := newTestReconciler(factory, store, clk)
	ctx := context.Background()

	res, err := r.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, res.SensorsChanged)
	assert.Len(t, res.Readings, 5)
	assert.Empty(t, res.Resets)

	factory.last().set(7.5, nil)
	clk.Advance(4 * time.Minute)
	res, err = r.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, res.SensorsChanged)
	assert.Empty(t, res.Resets)

	factory.last().set(0.2, nil)
	resetAt := clk.Advance(4 * time.Minute)
	res, err = r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{todayId()}, res.Resets)

	for _, reading := range res.Readings {
		if reading.UniqueId == todayId() {
			require.NotNil(t, reading.LastReset)
			assert.Equal(t, resetAt, *reading.LastReset)
		}
	}

	persisted, ok, err := store.Load(ctx, todayId())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.2, *persisted.LastValue)
	assert.Equal(t, resetAt, *persisted.LastReset)
}

func TestRestoreSurvivesRestart(t *testing.T) {
	store := newFakeStore()
	store.states[todayId()] = domain.MetricState{LastValue: fp(9), LastReset: tp(t0.Add(-time.Hour))}

	factory := &fakeFactory{}
	clk := &clock{now: t0}
	r := newTestReconciler(factory, store, clk)
	require.NoError(t, r.Restore(context.Background()))

	// the restored value is higher, so the first poll after restart resets
	res, err := r.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{todayId()}, res.Resets)

	st, ok := r.MetricState(todayId())
	require.True(t, ok)
	assert.Equal(t, t0, *st.LastReset)
}

func TestRestoreWithUnreadableStore(t *testing.T) {
	store := newFakeStore()
	store.loadErr = errors.New("corrupt")
	r := newTestReconciler(&fakeFactory{}, store, &clock{now: t0})

	assert.Error(t, r.Restore(context.Background()))
	_, err := r.Poll(context.Background())
	assert.NoError(t, err, "polling continues with empty state")
}

func TestFailedPollLeavesStateUntouched(t *testing.T) {
	factory := &fakeFactory{}
	store := newFakeStore()
	r := newTestReconciler(factory, store, &clock{now: t0})
	ctx := context.Background()

	_, err := r.Poll(ctx)
	require.NoError(t, err)
	before, _ := r.MetricState(todayId())
	saves := store.saves

	factory.last().set(0.1, errors.New("bad gateway"))
	_, err = r.Poll(ctx)
	var updateErr *UpdateFailedError
	require.ErrorAs(t, err, &updateErr)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.Equal(t, 1, updateErr.ConsecutiveFailures)

	after, _ := r.MetricState(todayId())
	assert.True(t, before.Equal(after))
	assert.Equal(t, saves, store.saves)
}

func TestSessionRecreatedAfterConsecutiveFailures(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestReconciler(factory, newFakeStore(), &clock{now: t0})
	ctx := context.Background()

	_, err := r.Poll(ctx)
	require.NoError(t, err)
	first := factory.last()
	first.set(1, errors.New("unreachable"))

	_, err = r.Poll(ctx)
	require.Error(t, err)
	_, err = r.Poll(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, r.ConsecutiveFailures())
	assert.Equal(t, 1, factory.created(), "no recreation before the budget is exhausted")

	_, err = r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.created(), "exactly one recreation before the third attempt")
	assert.True(t, first.closed)
	assert.Equal(t, 0, r.ConsecutiveFailures())
}

func TestRecreatedSessionFailingAgain(t *testing.T) {
	factory := &fakeFactory{next: func() *fakeSource {
		return &fakeSource{today: 1, err: errors.New("unreachable")}
	}}
	r := newTestReconciler(factory, newFakeStore(), &clock{now: t0})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := r.Poll(ctx)
		require.Error(t, err)
	}
	// created on poll 1, recreated before poll 3 and poll 5
	assert.Equal(t, 3, factory.created())
	assert.Equal(t, 1, r.ConsecutiveFailures())
}

func TestAuthFailureHaltsPolling(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestReconciler(factory, newFakeStore(), &clock{now: t0})
	ctx := context.Background()

	_, err := r.Poll(ctx)
	require.NoError(t, err)
	source := factory.last()
	source.set(1, fusionsolar.ErrAuthentication)

	_, err = r.Poll(ctx)
	var authErr *AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.ErrorIs(t, err, fusionsolar.ErrAuthentication)
	assert.True(t, r.AuthRequired())

	source.set(1, nil)
	fetches := source.fetches
	for i := 0; i < 3; i++ {
		_, err = r.Poll(ctx)
		assert.ErrorIs(t, err, ErrAuthRequired)
	}
	assert.Equal(t, fetches, source.fetches, "no fetch while authentication is required")
	assert.Equal(t, 1, factory.created(), "auth failures never recreate the session")

	require.NoError(t, r.Reauthenticate(ctx, testCreds))
	assert.False(t, r.AuthRequired())
	assert.True(t, source.closed)

	_, err = r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.created())
}

func TestAuthFailureOnSessionCreate(t *testing.T) {
	factory := &fakeFactory{err: errors.Join(fusionsolar.ErrAuthentication, errors.New("470"))}
	r := newTestReconciler(factory, newFakeStore(), &clock{now: t0})

	_, err := r.Poll(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, 0, r.ConsecutiveFailures())
}

func TestFetchTimeout(t *testing.T) {
	factory := &fakeFactory{next: func() *fakeSource {
		return &fakeSource{today: 1, block: make(chan struct{})}
	}}
	r := newTestReconciler(factory, newFakeStore(), &clock{now: t0})

	start := time.Now()
	_, err := r.Poll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, r.ConsecutiveFailures())
}

func TestPollInFlight(t *testing.T) {
	block := make(chan struct{})
	factory := &fakeFactory{next: func() *fakeSource {
		return &fakeSource{today: 1, block: block}
	}}
	r := NewReconciler(ReconcilerConfig{
		Credentials:  testCreds,
		FetchTimeout: 5 * time.Second,
	}, factory.create, newFakeStore(), zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := r.Poll(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return factory.created() == 1 }, time.Second, 5*time.Millisecond)
	_, err := r.Poll(context.Background())
	assert.ErrorIs(t, err, ErrPollInFlight)

	close(block)
	assert.NoError(t, <-done)
}

func TestPersistenceFailureDoesNotFailPoll(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("disk full")
	r := newTestReconciler(&fakeFactory{}, store, &clock{now: t0})

	res, err := r.Poll(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Readings)
	_, ok := r.MetricState(todayId())
	assert.True(t, ok)
}

func TestFailedSaveIsRetriedNextCycle(t *testing.T) {
	factory := &fakeFactory{}
	store := newFakeStore()
	clk := &clock{now: t0}
	r := newTestReconciler(factory, store, clk)
	ctx := context.Background()

	factory.next = func() *fakeSource { return &fakeSource{today: 7} }
	_, err := r.Poll(ctx)
	require.NoError(t, err)

	// counter drops while the store rejects writes
	store.mu.Lock()
	store.saveErr = errors.New("disk full")
	store.mu.Unlock()
	factory.last().set(0.2, nil)
	resetAt := clk.Advance(time.Hour)
	res, err := r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{todayId()}, res.Resets)

	// same value again: nothing changes in memory, the pending reset is still written
	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	clk.Advance(time.Hour)
	_, err = r.Poll(ctx)
	require.NoError(t, err)

	persisted, ok, err := store.Load(ctx, todayId())
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, persisted.LastReset)
	assert.True(t, resetAt.Equal(*persisted.LastReset))
	require.NotNil(t, persisted.LastValue)
	assert.InDelta(t, 0.2, *persisted.LastValue, 1e-9)

	// written once, not retried forever
	store.mu.Lock()
	saves := store.saves
	store.mu.Unlock()
	clk.Advance(time.Hour)
	_, err = r.Poll(ctx)
	require.NoError(t, err)
	store.mu.Lock()
	assert.Equal(t, saves, store.saves)
	store.mu.Unlock()
}
