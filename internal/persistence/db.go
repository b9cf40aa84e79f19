// Package persistence provides SQLite-based run history: every generated world is
// recorded with its seed and configuration so it can be regenerated later.
// Worlds themselves are never restored into a session.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/JohnReedV/Shoyu/internal/world"
)

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sqlx.DB
}

// Run is one generation run as stored in the runs table.
type Run struct {
	ID          string  `db:"id" json:"id"`
	Seed        int64   `db:"seed" json:"seed"`
	WorldSize   int     `db:"world_size" json:"world_size"`
	ChunkSize   int     `db:"chunk_size" json:"chunk_size"`
	TileSize    float64 `db:"tile_size" json:"tile_size"`
	ConfigJSON  string  `db:"config_json" json:"-"`
	TerrainJSON string  `db:"terrain_json" json:"-"`
	Trees       int     `db:"trees" json:"trees"`
	StartedAt   int64   `db:"started_at" json:"started_at"` // Unix millis
	EndedAt     *int64  `db:"ended_at" json:"ended_at,omitempty"`
}

// NewRun summarises a generated world for the runs table.
func NewRun(id string, w *world.World, startedAt time.Time) Run {
	cfgJSON, _ := json.Marshal(w.Config)

	counts := make(map[string]int)
	for t, n := range world.TerrainCounts(w) {
		counts[world.TerrainName(t)] = n
	}
	terrainJSON, _ := json.Marshal(counts)

	return Run{
		ID:          id,
		Seed:        w.Seed,
		WorldSize:   w.Config.WorldSize,
		ChunkSize:   w.Config.ChunkSize,
		TileSize:    w.Config.TileSize,
		ConfigJSON:  string(cfgJSON),
		TerrainJSON: string(terrainJSON),
		Trees:       world.StructureCount(w, world.StructureTree),
		StartedAt:   startedAt.UnixMilli(),
	}
}

// Config decodes the generation config the run was started with.
func (r Run) Config() (world.GenConfig, error) {
	var cfg world.GenConfig
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return cfg, fmt.Errorf("decode run %s config: %w", r.ID, err)
	}
	cfg.Seed = r.Seed
	return cfg, nil
}

// TerrainCounts decodes the per-terrain tile counts recorded for the run.
func (r Run) TerrainCounts() (map[string]int, error) {
	counts := make(map[string]int)
	if err := json.Unmarshal([]byte(r.TerrainJSON), &counts); err != nil {
		return nil, fmt.Errorf("decode run %s terrain: %w", r.ID, err)
	}
	return counts, nil
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		world_size INTEGER NOT NULL,
		chunk_size INTEGER NOT NULL,
		tile_size REAL NOT NULL,
		config_json TEXT NOT NULL,
		terrain_json TEXT NOT NULL,
		trees INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// RecordRun inserts a run and remembers its seed as the most recent one.
func (db *DB) RecordRun(ctx context.Context, run Run) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `INSERT INTO runs
		(id, seed, world_size, chunk_size, tile_size, config_json, terrain_json, trees, started_at, ended_at)
		VALUES (:id, :seed, :world_size, :chunk_size, :tile_size, :config_json, :terrain_json, :trees, :started_at, :ended_at)`,
		run)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		"last_seed", fmt.Sprintf("%d", run.Seed),
	); err != nil {
		return fmt.Errorf("save last seed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("run recorded", "id", run.ID, "seed", run.Seed)
	return nil
}

// EndRun stamps the teardown time of a run.
func (db *DB) EndRun(ctx context.Context, id string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE runs SET ended_at = ? WHERE id = ?", at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("end run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end run %s: no such run", id)
	}
	return nil
}

// GetRun returns a single run by ID. Missing runs yield sql.ErrNoRows.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	err := db.conn.GetContext(ctx, &run, "SELECT * FROM runs WHERE id = ?", id)
	return run, err
}

// RecentRuns returns the most recent N runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	runs := []Run{}
	err := db.conn.SelectContext(ctx, &runs,
		"SELECT * FROM runs ORDER BY started_at DESC, id DESC LIMIT ?",
		limit,
	)
	return runs, err
}

// GetMeta retrieves a metadata value. Missing keys yield sql.ErrNoRows.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}
