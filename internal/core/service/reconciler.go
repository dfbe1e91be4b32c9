package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"
	"github.com/jgriss/fusionsolar2mqtt/pkg/fusionsolar"

	"go.uber.org/zap"
)

const (
	DEFAULT_FETCH_TIMEOUT            = 60 * time.Second
	DEFAULT_MAX_CONSECUTIVE_FAILURES = 2

	FAILURE_REASON_AUTH    = "auth"
	FAILURE_REASON_TIMEOUT = "timeout"
	FAILURE_REASON_UPDATE  = "update"
)

type ReconcilerConfig struct {
	Credentials            config.Credentials
	FetchTimeout           time.Duration
	MaxConsecutiveFailures int
}

// PollResult is the outcome of a successful poll cycle.
type PollResult struct {
	Readings []domain.Reading
	// set when the set of sensors differs from the previous successful cycle
	SensorsChanged bool
	// metric ids whose reset timestamp moved forward in this cycle
	Resets []string
}

// Reconciler fetches readings from the cloud session, tracks counter resets
// per metric and persists the resulting state. Poll cycles never overlap.
type Reconciler struct {
	poll sync.Mutex
	mu   sync.Mutex

	creds        config.Credentials
	accountHash  string
	fetchTimeout time.Duration
	maxFailures  int

	factory port.SourceFactory
	source  port.ReadingsSource
	store   port.StateStore
	metrics port.PollMetrics
	now     func() time.Time
	logger  *zap.Logger

	consecutiveFailures int
	authRequired        bool
	lastError           error
	plantIds            []string
	sensorSignature     string
	states              map[string]domain.MetricState
	// states whose save failed, retried with the next cycle
	dirty map[string]domain.MetricState
}

type ReconcilerOption func(*Reconciler)

func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

func WithPollMetrics(metrics port.PollMetrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = metrics
	}
}

func NewReconciler(cfg ReconcilerConfig, factory port.SourceFactory, store port.StateStore, logger *zap.Logger, opts ...ReconcilerOption) *Reconciler {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DEFAULT_FETCH_TIMEOUT
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DEFAULT_MAX_CONSECUTIVE_FAILURES
	}
	r := &Reconciler{
		creds:        cfg.Credentials,
		accountHash:  domain.AccountHash(cfg.Credentials),
		fetchTimeout: cfg.FetchTimeout,
		maxFailures:  cfg.MaxConsecutiveFailures,
		factory:      factory,
		store:        store,
		metrics:      port.NopPollMetrics{},
		now:          time.Now,
		logger:       logger,
		states:       make(map[string]domain.MetricState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) AccountHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accountHash
}

// Restore loads the persisted metric states. Unreadable state is dropped so
// that a damaged store never prevents polling.
func (r *Reconciler) Restore(ctx context.Context) error {
	states, err := r.store.LoadAll(ctx)
	if err != nil {
		r.logger.Warn("reconciler: could not load metric state, starting empty", zap.Error(err))
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range states {
		r.states[id] = st
	}
	r.logger.Debug("reconciler: metric state restored", zap.Int("metrics", len(states)))
	return nil
}

// Poll runs one poll cycle. It returns *AuthRequiredError when the account
// rejects the credentials and *UpdateFailedError for any other failure.
func (r *Reconciler) Poll(ctx context.Context) (*PollResult, error) {
	if !r.poll.TryLock() {
		return nil, ErrPollInFlight
	}
	defer r.poll.Unlock()

	r.mu.Lock()
	authRequired := r.authRequired
	lastErr := r.lastError
	r.mu.Unlock()
	if authRequired {
		return nil, &AuthRequiredError{Err: lastErr}
	}

	if err := r.ensureSource(ctx); err != nil {
		return nil, r.fail(err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	snap, err := r.fetch(fetchCtx)
	if err != nil {
		return nil, r.fail(err)
	}

	readings := DeriveReadings(r.accountHash, snap.status, snap.plantIds, snap.plants)
	result := &PollResult{Readings: readings}

	// detection works on a scratch copy, committed only once the whole
	// snapshot has been processed
	now := r.now()
	r.mu.Lock()
	changed := make(map[string]domain.MetricState)
	for i := range readings {
		id := readings[i].UniqueId
		prev := r.states[id]
		next := DetectReset(prev, readings[i].Value, now)
		if resetAdvanced(prev, next) {
			result.Resets = append(result.Resets, id)
		}
		if !next.Equal(prev) {
			changed[id] = next
		}
		readings[i].LastReset = next.LastReset
	}
	for id, st := range changed {
		r.states[id] = st
	}
	r.plantIds = snap.plantIds
	signature := sensorSignature(readings)
	result.SensorsChanged = signature != r.sensorSignature
	r.sensorSignature = signature
	r.consecutiveFailures = 0
	r.lastError = nil
	r.mu.Unlock()

	for _, id := range result.Resets {
		r.logger.Info("reconciler: counter reset detected", zap.String("metric", id))
		r.metrics.ResetDetected(id)
	}
	r.persist(ctx, changed)
	r.metrics.PollSucceeded()
	r.metrics.ConsecutiveFailures(0)
	r.logger.Debug("reconciler: poll succeeded", zap.Int("readings", len(readings)), zap.Int("changed", len(changed)))

	return result, nil
}

// persist saves the states changed in this cycle together with those a
// previous save failed to write. Nothing is dropped until a save succeeds.
func (r *Reconciler) persist(ctx context.Context, changed map[string]domain.MetricState) {
	if len(changed) == 0 && len(r.dirty) == 0 {
		return
	}
	pending := make(map[string]domain.MetricState, len(r.dirty)+len(changed))
	for id, st := range r.dirty {
		pending[id] = st
	}
	for id, st := range changed {
		pending[id] = st
	}
	if err := r.store.SaveAll(ctx, pending); err != nil {
		r.logger.Error("reconciler: could not persist metric state, retrying next cycle",
			zap.Int("pending", len(pending)), zap.Error(err))
		r.metrics.StateSaveFailed()
		r.dirty = pending
		return
	}
	r.dirty = nil
}

// Reauthenticate replaces the credentials and clears a pending authentication
// failure. The next poll opens a new session.
func (r *Reconciler) Reauthenticate(ctx context.Context, creds config.Credentials) error {
	r.poll.Lock()
	defer r.poll.Unlock()

	r.mu.Lock()
	source := r.source
	r.source = nil
	r.creds = creds
	r.accountHash = domain.AccountHash(creds)
	r.authRequired = false
	r.lastError = nil
	r.consecutiveFailures = 0
	r.plantIds = nil
	r.sensorSignature = ""
	r.mu.Unlock()

	r.metrics.ConsecutiveFailures(0)
	r.logger.Info("reconciler: credentials updated", zap.String("username", creds.Username))
	if source != nil {
		return source.Close(ctx)
	}
	return nil
}

func (r *Reconciler) AuthRequired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authRequired
}

func (r *Reconciler) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures
}

func (r *Reconciler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// MetricState returns the in-memory state of a metric.
func (r *Reconciler) MetricState(metricId string) (domain.MetricState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[metricId]
	return st, ok
}

// Close ends the cloud session without waiting for a poll in flight, which
// then fails. The state store is owned by the caller.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	source := r.source
	r.source = nil
	r.mu.Unlock()
	if source == nil {
		return nil
	}
	return source.Close(ctx)
}

// ensureSource opens the session on first use and replaces it once the
// failure budget is exhausted.
func (r *Reconciler) ensureSource(ctx context.Context) error {
	r.mu.Lock()
	old := r.source
	failures := r.consecutiveFailures
	creds := r.creds
	r.mu.Unlock()

	if old != nil && failures < r.maxFailures {
		return nil
	}
	if old != nil {
		r.logger.Warn("reconciler: too many consecutive failures, recreating session", zap.Int("failures", failures))
		if err := old.Close(ctx); err != nil {
			r.logger.Debug("reconciler: error closing session", zap.Error(err))
		}
		r.mu.Lock()
		r.source = nil
		r.plantIds = nil
		r.mu.Unlock()
	}

	source, err := r.factory(ctx, creds)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.source = source
	r.consecutiveFailures = 0
	r.mu.Unlock()
	if old != nil {
		r.metrics.SessionRecreated()
	}
	r.metrics.ConsecutiveFailures(0)
	return nil
}

type snapshot struct {
	status   *fusionsolar.PowerStatus
	plantIds []string
	plants   map[string]fusionsolar.PlantData
}

func (r *Reconciler) fetch(ctx context.Context) (*snapshot, error) {
	r.mu.Lock()
	source := r.source
	plantIds := r.plantIds
	r.mu.Unlock()

	if plantIds == nil {
		ids, err := source.GetPlantIds(ctx)
		if err != nil {
			return nil, err
		}
		plantIds = ids
		if plantIds == nil {
			plantIds = []string{}
		}
	}

	status, err := source.GetPowerStatus(ctx)
	if err != nil {
		return nil, err
	}

	plants := make(map[string]fusionsolar.PlantData, len(plantIds))
	for _, plantId := range plantIds {
		data, err := source.GetPlantData(ctx, plantId)
		if err != nil {
			return nil, err
		}
		plants[plantId] = data
	}

	return &snapshot{
		status:   status,
		plantIds: plantIds,
		plants:   plants,
	}, nil
}

func (r *Reconciler) fail(err error) error {
	if errors.Is(err, fusionsolar.ErrAuthentication) {
		r.mu.Lock()
		r.authRequired = true
		r.lastError = err
		r.mu.Unlock()
		r.metrics.PollFailed(FAILURE_REASON_AUTH)
		r.logger.Error("reconciler: authentication failed, polling halted until credentials change", zap.Error(err))
		return &AuthRequiredError{Err: err}
	}

	reason := FAILURE_REASON_UPDATE
	if errors.Is(err, context.DeadlineExceeded) {
		reason = FAILURE_REASON_TIMEOUT
	}

	r.mu.Lock()
	r.consecutiveFailures++
	failures := r.consecutiveFailures
	r.lastError = err
	r.mu.Unlock()

	r.metrics.PollFailed(reason)
	r.metrics.ConsecutiveFailures(failures)
	r.logger.Warn("reconciler: poll failed", zap.String("reason", reason), zap.Int("failures", failures), zap.Error(err))
	return &UpdateFailedError{Err: err, ConsecutiveFailures: failures}
}

func sensorSignature(readings []domain.Reading) string {
	ids := make([]string, 0, len(readings))
	for _, r := range readings {
		ids = append(ids, r.UniqueId)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
