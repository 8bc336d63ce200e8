// internal/history/store.go
// Package history persists repair outcomes per problem category and turns
// them into a calibration signal for later decisions. Recent outcomes count
// more than old ones: each record's weight decays by a configurable factor
// the further back it sits.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

// recentLimit bounds how many records feed a single adjustment. Beyond this
// the decay factor has driven the weights to noise anyway.
const recentLimit = 100

// Store is a SQLite-backed implementation of schemas.HistoryStore.
type Store struct {
	db     *sql.DB
	cfg    config.HistoryConfig
	logger *zap.Logger
}

var _ schemas.HistoryStore = (*Store)(nil)

// NewStore opens (or creates) the history database at cfg.Path and ensures
// the schema exists. Pass ":memory:" as the path for an ephemeral store.
func NewStore(cfg config.HistoryConfig, logger *zap.Logger) (*Store, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		dbPath = ":memory:"
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// The pure-Go driver serializes writes itself, but a busy timeout keeps
	// concurrent writers from surfacing SQLITE_BUSY to callers.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger.Named("HistoryStore"),
	}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repair_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_repair_events_category ON repair_events(category, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Record appends one repair outcome. Records are never updated or deleted;
// the decay weighting makes old entries irrelevant over time instead.
func (s *Store) Record(ctx context.Context, rec schemas.HistoryRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	success := 0
	if rec.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repair_events (category, model, success, created_at) VALUES (?, ?, ?, ?)`,
		string(rec.Category), rec.Model, success, ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record repair event: %w", err)
	}

	s.logger.Debug("Recorded repair outcome",
		zap.String("category", string(rec.Category)),
		zap.Bool("success", rec.Success),
	)
	return nil
}

// Adjustment returns the calibration adjustment for a category, centered on
// zero: positive means the category has repaired better than even odds,
// negative means worse. Until MinSamples outcomes exist the store refuses to
// extrapolate and returns 0. The magnitude is capped by MaxBonus so a run of
// luck cannot dominate the capability score.
func (s *Store) Adjustment(ctx context.Context, category schemas.ProblemCategory) (float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT success FROM repair_events WHERE category = ? ORDER BY id DESC LIMIT ?`,
		string(category), recentLimit,
	)
	if err != nil {
		return 0, fmt.Errorf("query repair events: %w", err)
	}
	defer rows.Close()

	var weightedSum, weightTotal float64
	weight := 1.0
	samples := 0
	for rows.Next() {
		var success int
		if err := rows.Scan(&success); err != nil {
			return 0, fmt.Errorf("scan repair event: %w", err)
		}
		weightedSum += weight * float64(success)
		weightTotal += weight
		weight *= s.cfg.DecayFactor
		samples++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate repair events: %w", err)
	}

	if samples < s.cfg.MinSamples || weightTotal == 0 {
		return 0, nil
	}

	adjustment := weightedSum/weightTotal - 0.5
	if s.cfg.MaxBonus > 0 {
		if adjustment > s.cfg.MaxBonus {
			adjustment = s.cfg.MaxBonus
		} else if adjustment < -s.cfg.MaxBonus {
			adjustment = -s.cfg.MaxBonus
		}
	}
	return adjustment, nil
}

// Stats returns aggregate counts per category, ordered by category name.
func (s *Store) Stats(ctx context.Context) ([]schemas.CategoryStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*), SUM(success) FROM repair_events GROUP BY category ORDER BY category`,
	)
	if err != nil {
		return nil, fmt.Errorf("query category stats: %w", err)
	}
	defer rows.Close()

	var stats []schemas.CategoryStats
	for rows.Next() {
		var (
			category string
			total    int
			success  int
		)
		if err := rows.Scan(&category, &total, &success); err != nil {
			return nil, fmt.Errorf("scan category stats: %w", err)
		}
		stats = append(stats, schemas.CategoryStats{
			Category: schemas.ProblemCategory(category),
			Total:    total,
			Success:  success,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category stats: %w", err)
	}
	return stats, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
