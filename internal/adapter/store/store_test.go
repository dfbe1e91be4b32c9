package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fp(v float64) *float64 {
	return &v
}

func tp(t time.Time) *time.Time {
	return &t
}

var resetAt = time.Date(2024, 5, 2, 0, 4, 0, 123000000, time.UTC)

func openStores(t *testing.T) map[string]func(dir string) port.StateStore {
	return map[string]func(dir string) port.StateStore{
		config.STATE_BACKEND_FILE: func(dir string) port.StateStore {
			return NewFileStore(filepath.Join(dir, "state.json"), zap.NewNop())
		},
		config.STATE_BACKEND_SQLITE: func(dir string) port.StateStore {
			s, err := OpenSQLiteStore(context.Background(), filepath.Join(dir, "state.db"), zap.NewNop())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreRoundTripAcrossReopen(t *testing.T) {
	for name, open := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s := open(dir)
			all, err := s.LoadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)

			require.NoError(t, s.SaveAll(ctx, map[string]domain.MetricState{
				"acc-day": {LastValue: fp(0.2), LastReset: tp(resetAt)},
				"acc-cur": {LastValue: fp(2.35)},
			}))
			require.NoError(t, s.Save(ctx, "acc-cur", domain.MetricState{LastValue: fp(1.1)}))
			require.NoError(t, s.Close())

			s = open(dir)
			defer s.Close()

			st, ok, err := s.Load(ctx, "acc-day")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 0.2, *st.LastValue)
			assert.True(t, resetAt.Equal(*st.LastReset))

			st, ok, err = s.Load(ctx, "acc-cur")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 1.1, *st.LastValue)
			assert.Nil(t, st.LastReset)

			_, ok, err = s.Load(ctx, "unknown")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewFileStore(path, zap.NewNop())
	all, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	// the next save replaces the damaged document
	require.NoError(t, s.Save(context.Background(), "acc-day", domain.MetricState{LastValue: fp(1)}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 1`)
}

func TestFileStoreUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":7,"metrics":{"acc-day":{"last_value":3}}}`), 0o600))

	s := NewFileStore(path, zap.NewNop())
	_, ok, err := s.Load(context.Background(), "acc-day")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreUnreadableFileIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	// a directory in place of the document fails the read
	require.NoError(t, os.Mkdir(path, 0o750))

	s := NewFileStore(path, zap.NewNop())
	_, err := s.LoadAll(ctx)
	require.Error(t, err)
	require.Error(t, s.Save(ctx, "acc-cur", domain.MetricState{LastValue: fp(1)}))

	// once readable, the existing metrics survive the next save
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"metrics":{"acc-day":{"last_value":3}}}`), 0o600))
	require.NoError(t, s.Save(ctx, "acc-cur", domain.MetricState{LastValue: fp(1)}))

	reopened := NewFileStore(path, zap.NewNop())
	all, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	require.Contains(t, all, "acc-day")
	assert.InDelta(t, 3, *all["acc-day"].LastValue, 1e-9)
	assert.Contains(t, all, "acc-cur")
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "state.json"), zap.NewNop())
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(context.Background(), "acc-day", domain.MetricState{LastValue: fp(float64(i))}))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestSQLiteStoreSkipsUnreadableTimestamp(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "state.db"), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, "ok", domain.MetricState{LastValue: fp(1)}))
	_, err = s.db.ExecContext(ctx, `INSERT INTO metric_state (metric_id, last_value, last_reset, updated_at) VALUES ('bad', 1, 'yesterday', 'x')`)
	require.NoError(t, err)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "ok")
	assert.NotContains(t, all, "bad")
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Save(ctx, "acc-day", domain.MetricState{LastValue: fp(1), LastReset: tp(resetAt)}))

	st, ok, err := s.Load(ctx, "acc-day")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, resetAt, *st.LastReset)

	require.NoError(t, s.Save(ctx, "acc-day", domain.MetricState{}))
	_, ok, _ = s.Load(ctx, "acc-day")
	assert.False(t, ok, "empty state removes the entry")
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StateConfig{Backend: config.STATE_BACKEND_MEMORY}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), config.StateConfig{Backend: "redis"}, zap.NewNop())
	assert.Error(t, err)
}
