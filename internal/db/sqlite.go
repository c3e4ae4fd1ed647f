package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"hypstar-handler/internal/model"
)

const captureColumns = `id, started_at, duration_ms, kind, path, entrance, radiometer,
	it_vnir, it_swir, observed_it_vnir, observed_it_swir, count, spectra, bytes,
	outcome, error, instrument_sn, vnir_sn, swir_sn`

// DB wraps the sqlite capture history.
type DB struct {
	SQL  *sql.DB
	path string
}

// Open opens (or creates) the history database at path and ensures the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "db: create dir %s failed", dir)
		}
	}
	s, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "db: open sqlite database failed")
	}
	if err := configure(s); err != nil {
		s.Close()
		return nil, err
	}
	if err := migrate(s); err != nil {
		s.Close()
		return nil, err
	}
	return &DB{SQL: s, path: path}, nil
}

func configure(s *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := s.Exec(pragma); err != nil {
			return errors.Wrapf(err, "db: execute %s failed", pragma)
		}
	}
	s.SetMaxOpenConns(1)
	s.SetMaxIdleConns(1)
	return nil
}

func migrate(s *sql.DB) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + model.Capture{}.TableName() + ` (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		path TEXT,
		entrance TEXT,
		radiometer TEXT,
		it_vnir INTEGER,
		it_swir INTEGER,
		observed_it_vnir INTEGER,
		observed_it_swir INTEGER,
		count INTEGER,
		spectra INTEGER,
		bytes INTEGER,
		outcome TEXT NOT NULL,
		error TEXT,
		instrument_sn INTEGER,
		vnir_sn INTEGER,
		swir_sn INTEGER
	);`
	if _, err := s.Exec(stmt); err != nil {
		return errors.Wrap(err, "db: init schema failed")
	}
	if _, err := s.Exec(`CREATE INDEX IF NOT EXISTS idx_captures_started_at ON captures(started_at);`); err != nil {
		return errors.Wrap(err, "db: create index failed")
	}
	return nil
}

func (d *DB) Path() string { return d.path }

func (d *DB) Close() error { return d.SQL.Close() }

// SaveCapture inserts a history row, replacing any row with the same id.
func (d *DB) SaveCapture(ctx context.Context, c *model.Capture) error {
	if c.ID == "" {
		return errors.New("db: capture id is empty")
	}
	_, err := d.SQL.ExecContext(ctx,
		`INSERT OR REPLACE INTO captures (`+captureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt.UnixMilli(), c.Duration.Milliseconds(), c.Kind, c.Path, c.Entrance, c.Radiometer,
		c.ITVNIR, c.ITSWIR, c.ObservedITVNIR, c.ObservedITSWIR, c.Count, c.Spectra, c.Bytes,
		c.Outcome, c.Error, c.InstrumentSerial, c.VNIRSerial, c.SWIRSerial,
	)
	return errors.Wrap(err, "db: insert capture failed")
}

// ListCaptures returns the newest captures first. limit <= 0 returns all rows.
func (d *DB) ListCaptures(ctx context.Context, limit int) ([]model.Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "db: query captures failed")
	}
	defer rows.Close()

	var out []model.Capture
	for rows.Next() {
		var (
			c          model.Capture
			startedAt  int64
			durationMs int64
			path, ent  sql.NullString
			rad, msg   sql.NullString
		)
		if err := rows.Scan(&c.ID, &startedAt, &durationMs, &c.Kind, &path, &ent, &rad,
			&c.ITVNIR, &c.ITSWIR, &c.ObservedITVNIR, &c.ObservedITSWIR, &c.Count, &c.Spectra, &c.Bytes,
			&c.Outcome, &msg, &c.InstrumentSerial, &c.VNIRSerial, &c.SWIRSerial); err != nil {
			return nil, errors.Wrap(err, "db: scan capture failed")
		}
		c.StartedAt = time.UnixMilli(startedAt).UTC()
		c.Duration = time.Duration(durationMs) * time.Millisecond
		c.Path, c.Entrance, c.Radiometer, c.Error = path.String, ent.String, rad.String, msg.String
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "db: iterate captures failed")
}

// Stats summarises the history per kind and outcome.
type Stats struct {
	CaptureCount int                       `json:"capture_count"`
	ByKind       map[string]map[string]int `json:"by_kind"`
	Bytes        int64                     `json:"bytes"`
	Last         *model.Capture            `json:"last,omitempty"`
}

func (d *DB) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByKind: map[string]map[string]int{}}
	rows, err := d.SQL.QueryContext(ctx, `SELECT kind, outcome, COUNT(*), COALESCE(SUM(bytes), 0) FROM captures GROUP BY kind, outcome`)
	if err != nil {
		return st, errors.Wrap(err, "db: query stats failed")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind, outcome string
			n             int
			b             int64
		)
		if err := rows.Scan(&kind, &outcome, &n, &b); err != nil {
			return st, errors.Wrap(err, "db: scan stats failed")
		}
		if st.ByKind[kind] == nil {
			st.ByKind[kind] = map[string]int{}
		}
		st.ByKind[kind][outcome] = n
		st.CaptureCount += n
		st.Bytes += b
	}
	if err := rows.Err(); err != nil {
		return st, errors.Wrap(err, "db: iterate stats failed")
	}
	last, err := d.ListCaptures(ctx, 1)
	if err != nil {
		return st, err
	}
	if len(last) == 1 {
		st.Last = &last[0]
	}
	return st, nil
}

// StatsJSON returns Stats encoded as JSON.
func (d *DB) StatsJSON(ctx context.Context) ([]byte, error) {
	st, err := d.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}
