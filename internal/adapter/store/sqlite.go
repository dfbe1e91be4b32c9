package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/port"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const SQLITE_DRIVER = "sqlite"

//go:embed migrations/*.sql
var embedMigrations embed.FS

type metricStateRow struct {
	MetricId  string          `db:"metric_id"`
	LastValue sql.NullFloat64 `db:"last_value"`
	LastReset sql.NullString  `db:"last_reset"`
	UpdatedAt string          `db:"updated_at"`
}

// SQLiteStore keeps one row per metric.
type SQLiteStore struct {
	db     *sqlx.DB
	now    func() time.Time
	logger *zap.Logger
}

func OpenSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sqlx.ConnectContext(ctx, SQLITE_DRIVER, dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		now:    time.Now,
		logger: logger,
	}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, metricId string) (domain.MetricState, bool, error) {
	var row metricStateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT metric_id, last_value, last_reset, updated_at
		FROM metric_state
		WHERE metric_id = ?
	`, metricId)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MetricState{}, false, nil
	}
	if err != nil {
		return domain.MetricState{}, false, err
	}
	st, ok := s.fromRow(row)
	return st, ok, nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) (map[string]domain.MetricState, error) {
	var rows []metricStateRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT metric_id, last_value, last_reset, updated_at
		FROM metric_state
	`); err != nil {
		return nil, err
	}
	out := make(map[string]domain.MetricState, len(rows))
	for _, row := range rows {
		if st, ok := s.fromRow(row); ok {
			out[row.MetricId] = st
		}
	}
	return out, nil
}

func (s *SQLiteStore) Save(ctx context.Context, metricId string, state domain.MetricState) error {
	return s.SaveAll(ctx, map[string]domain.MetricState{metricId: state})
}

// SaveAll writes all states in one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, states map[string]domain.MetricState) (retErr error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	updatedAt := s.now().UTC().Format(time.RFC3339Nano)
	for id, st := range states {
		if st.IsEmpty() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM metric_state WHERE metric_id = ?`, id); err != nil {
				return err
			}
			continue
		}
		row := toRow(id, st, updatedAt)
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO metric_state (metric_id, last_value, last_reset, updated_at)
			VALUES (:metric_id, :last_value, :last_reset, :updated_at)
			ON CONFLICT (metric_id) DO UPDATE
			SET last_value = excluded.last_value,
				last_reset = excluded.last_reset,
				updated_at = excluded.updated_at
		`, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toRow(id string, st domain.MetricState, updatedAt string) metricStateRow {
	row := metricStateRow{
		MetricId:  id,
		UpdatedAt: updatedAt,
	}
	if st.LastValue != nil {
		row.LastValue = sql.NullFloat64{Float64: *st.LastValue, Valid: true}
	}
	if st.LastReset != nil {
		row.LastReset = sql.NullString{String: st.LastReset.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	return row
}

// fromRow drops rows whose timestamp cannot be parsed.
func (s *SQLiteStore) fromRow(row metricStateRow) (domain.MetricState, bool) {
	var st domain.MetricState
	if row.LastValue.Valid {
		v := row.LastValue.Float64
		st.LastValue = &v
	}
	if row.LastReset.Valid {
		ts, err := time.Parse(time.RFC3339Nano, row.LastReset.String)
		if err != nil {
			s.logger.Warn("store: unreadable reset timestamp, ignoring metric",
				zap.String("metric", row.MetricId), zap.Error(err))
			return domain.MetricState{}, false
		}
		st.LastReset = &ts
	}
	return st, true
}

// ensure interface compliance
var _ port.StateStore = (*SQLiteStore)(nil)
