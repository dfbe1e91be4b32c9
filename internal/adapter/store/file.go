package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"

	"go.uber.org/zap"
)

const FILE_FORMAT_VERSION = 1

type fileDocument struct {
	Version int                           `json:"version"`
	Metrics map[string]domain.MetricState `json:"metrics"`
}

// FileStore keeps all metric states in a single JSON document. Every write
// replaces the document atomically.
type FileStore struct {
	path   string
	mu     sync.Mutex
	cache  map[string]domain.MetricState
	logger *zap.Logger
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

func (s *FileStore) Load(ctx context.Context, metricId string) (domain.MetricState, bool, error) {
	states, err := s.LoadAll(ctx)
	if err != nil {
		return domain.MetricState{}, false, err
	}
	st, ok := states[metricId]
	return st, ok, nil
}

func (s *FileStore) LoadAll(_ context.Context) (map[string]domain.MetricState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.MetricState, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) Save(ctx context.Context, metricId string, state domain.MetricState) error {
	return s.SaveAll(ctx, map[string]domain.MetricState{metricId: state})
}

func (s *FileStore) SaveAll(_ context.Context, states map[string]domain.MetricState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	next := make(map[string]domain.MetricState, len(s.cache)+len(states))
	for k, v := range s.cache {
		next[k] = v
	}
	for k, v := range states {
		if v.IsEmpty() {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	if err := writeJSONAtomic(s.path, fileDocument{Version: FILE_FORMAT_VERSION, Metrics: next}); err != nil {
		return err
	}
	s.cache = next
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// load reads the document once. A missing, corrupt or foreign document is
// treated as empty and overwritten on the next save. Any other read error is
// returned and retried on the next call, so a save never replaces a document
// it could not read.
func (s *FileStore) load() error {
	if s.cache != nil {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.cache = make(map[string]domain.MetricState)
			return nil
		}
		return fmt.Errorf("read state: %w", err)
	}

	cache := make(map[string]domain.MetricState)
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("store: state file is corrupt, starting empty", zap.String("path", s.path), zap.Error(err))
	} else if doc.Version != FILE_FORMAT_VERSION {
		s.logger.Warn("store: unsupported state file version, starting empty",
			zap.String("path", s.path), zap.Int("version", doc.Version))
	} else {
		for k, v := range doc.Metrics {
			cache[k] = v
		}
	}
	s.cache = cache
	return nil
}

func writeJSONAtomic(path string, doc fileDocument) (retErr error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".fusionsolar-state-*")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	closed := false
	defer func() {
		if !closed {
			if cerr := tmp.Close(); cerr != nil && retErr == nil {
				retErr = fmt.Errorf("close tmp: %w", cerr)
			}
		}
		if cleanup {
			if err := os.Remove(tmpName); err != nil && retErr == nil {
				retErr = fmt.Errorf("remove tmp: %w", err)
			}
		}
	}()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close tmp: %w", err)
	}
	closed = true
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	cleanup = false
	return nil
}

// ensure interface compliance
var _ port.StateStore = (*FileStore)(nil)
