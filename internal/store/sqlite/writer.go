package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chart-rsi/internal/model"
)

// ErrNotFound is returned by Get for an unknown analysis id.
var ErrNotFound = fmt.Errorf("sqlite: %w", model.ErrNotFound)

// Journal stores finished analyses. Writes go through a single connection;
// WAL mode lets readers proceed concurrently.
type Journal struct {
	db *sql.DB
}

var _ model.AnalysisJournal = (*Journal)(nil)

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Open opens (creating if needed) the journal at path with WAL mode and schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite journal opened", "path", path)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS analyses (
			id           TEXT    PRIMARY KEY,
			created_at   INTEGER NOT NULL,
			file_name    TEXT    NOT NULL,
			price_min    REAL    NOT NULL,
			price_max    REAL    NOT NULL,
			chart_height INTEGER NOT NULL,
			period       INTEGER NOT NULL,
			method       TEXT    NOT NULL,
			point_count  INTEGER NOT NULL,
			samples      INTEGER NOT NULL,
			latest       REAL    NOT NULL,
			zone         TEXT    NOT NULL,
			rsi          TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses (created_at);
	`)
	return err
}

// Save inserts a finished analysis.
func (j *Journal) Save(ctx context.Context, a *model.Analysis) error {
	rsi, err := json.Marshal(a.RSI)
	if err != nil {
		return fmt.Errorf("sqlite marshal rsi: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO analyses
			(id, created_at, file_name, price_min, price_max, chart_height,
			 period, method, point_count, samples, latest, zone, rsi)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.CreatedAt.UnixNano(), a.FileName, a.PriceMin, a.PriceMax, a.ChartHeight,
		a.Period, a.Method, a.PointCount, len(a.RSI), a.Latest, string(a.Zone), string(rsi))
	if err != nil {
		return fmt.Errorf("sqlite insert analysis %s: %w", a.ID, err)
	}
	return nil
}

// Prune deletes analyses created before cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM analyses WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
