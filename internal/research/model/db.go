package model

import (
	"context"
	"database/sql"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	_ "github.com/mattn/go-sqlite3"

	"github.com/contentstudio/research-engine/library/log"
)

var DB *sql.DB

func Initialize(ctx context.Context) {
	var err error
	if DB, err = New(ctx,
		gconfig.Shared.GetString("settings.db.research.path"),
	); err != nil {
		log.Logger.Panic("connect to research db", zap.Error(err))
	}
}

// New opens the sqlite database at dbpath and ensures the schema exists.
func New(ctx context.Context, dbpath string) (*sql.DB, error) {
	if dbpath == "" {
		return nil, errors.New("db path is required")
	}

	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite db %q", dbpath)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	return db, nil
}

// runMigrations ensures required research tables exist. The cache table is
// owned by the kv package and created there.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("sql db is required")
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS research_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_text TEXT NOT NULL,
	filters TEXT,
	user_id TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return errors.Wrap(err, "create research_queries table")
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS research_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	content TEXT,
	source TEXT,
	url TEXT,
	relevance_score REAL,
	data_type TEXT,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (query_id) REFERENCES research_queries (id)
)`); err != nil {
		return errors.Wrap(err, "create research_results table")
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS data_sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	url TEXT,
	api_key TEXT,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	rate_limit INTEGER NOT NULL DEFAULT 100,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return errors.Wrap(err, "create data_sources table")
	}

	if _, err := db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_data_sources_name ON data_sources (name)`); err != nil {
		return errors.Wrap(err, "create idx_data_sources_name")
	}

	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_research_results_query ON research_results (query_id, relevance_score)`); err != nil {
		return errors.Wrap(err, "create idx_research_results_query")
	}

	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_research_queries_user ON research_queries (user_id, created_at)`); err != nil {
		return errors.Wrap(err, "create idx_research_queries_user")
	}

	return nil
}
