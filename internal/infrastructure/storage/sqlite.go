package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"FeedPublisher/internal/domain"
	"FeedPublisher/internal/ports"
)

// SQLiteLedger persists published-post records for deduplication and audit.
// Rows are append-only; the (account_name, link) pair is the primary dedup
// key, with a non-unique (account_name, title) index kept for rows recorded
// before canonical links were tracked.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ports.Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (creating if needed) the ledger at path, bootstraps
// the schema, and applies idempotent migrations for stores written by
// earlier layouts.
func NewSQLiteLedger(path string, logger *slog.Logger) (*SQLiteLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	l := &SQLiteLedger{db: db, logger: logger}

	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("ledger opened", "path", path)
	return l, nil
}

func (l *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_name TEXT NOT NULL DEFAULT 'default',
			link TEXT NOT NULL,
			title TEXT NOT NULL,
			published_date TEXT,
			remote_uri TEXT,
			remote_url TEXT,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account_name, link)
		);

		CREATE INDEX IF NOT EXISTS idx_posts_account_title
			ON posts(account_name, title);
	`
	_, err := l.db.Exec(schema)
	return err
}

// migrate upgrades stores created by earlier layouts. Safe to run on an
// already-migrated store.
func (l *SQLiteLedger) migrate() error {
	hasLink, err := l.columnExists("link")
	if err != nil {
		return err
	}

	if !hasLink {
		// Legacy layout: (id, account_name, title, published_date) with
		// UNIQUE(account_name, title). SQLite cannot rewrite a unique
		// constraint in place, so recreate the table, falling back to
		// title-as-link for rows that never recorded a link.
		steps := []string{
			`CREATE TABLE posts_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				account_name TEXT NOT NULL DEFAULT 'default',
				link TEXT NOT NULL,
				title TEXT NOT NULL,
				published_date TEXT,
				remote_uri TEXT,
				remote_url TEXT,
				created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(account_name, link)
			)`,
			`INSERT INTO posts_new (id, account_name, link, title, published_date)
				SELECT id, account_name, title, title, published_date FROM posts`,
			`DROP TABLE posts`,
			`ALTER TABLE posts_new RENAME TO posts`,
			`CREATE INDEX IF NOT EXISTS idx_posts_account_title
				ON posts(account_name, title)`,
		}

		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("begin link migration: %w", err)
		}
		for _, step := range steps {
			if _, err := tx.Exec(step); err != nil {
				tx.Rollback()
				return fmt.Errorf("link migration: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit link migration: %w", err)
		}
		l.logger.Info("migrated ledger to canonical-link layout")
	}

	// Column additions are individually guarded so the loop is idempotent.
	additions := []struct {
		column string
		apply  string
	}{
		{"remote_uri", `ALTER TABLE posts ADD COLUMN remote_uri TEXT`},
		{"remote_url", `ALTER TABLE posts ADD COLUMN remote_url TEXT`},
		{"created_at", `ALTER TABLE posts ADD COLUMN created_at TEXT NOT NULL DEFAULT ''`},
	}
	for _, m := range additions {
		exists, err := l.columnExists(m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := l.db.Exec(m.apply); err != nil {
			return fmt.Errorf("add column %s: %w", m.column, err)
		}
		l.logger.Info("added ledger column", "column", m.column)
	}

	return nil
}

func (l *SQLiteLedger) columnExists(name string) (bool, error) {
	var one int
	err := l.db.QueryRow(
		`SELECT 1 FROM pragma_table_info('posts') WHERE name = ?`, name,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect posts schema: %w", err)
	}
	return true, nil
}

// HasLink reports whether the account already published the canonical link.
func (l *SQLiteLedger) HasLink(ctx context.Context, account, link string) (bool, error) {
	return l.exists(ctx, sq.Eq{"account_name": account, "link": link})
}

// HasTitle reports whether the account already published the title. This is
// the legacy fallback path; it never participates in uniqueness.
func (l *SQLiteLedger) HasTitle(ctx context.Context, account, title string) (bool, error) {
	return l.exists(ctx, sq.Eq{"account_name": account, "title": title})
}

func (l *SQLiteLedger) exists(ctx context.Context, where sq.Eq) (bool, error) {
	query, args, err := sq.Select("1").From("posts").Where(where).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build lookup: %w", err)
	}

	var one int
	err = l.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup post: %w", err)
	}
	return true, nil
}

// Save appends one record. Re-saving the same (account, link) is a no-op so
// replays after a crash cannot corrupt the store.
func (l *SQLiteLedger) Save(ctx context.Context, rec domain.PostRecord) error {
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	var published string
	if !rec.PublishedAt.IsZero() {
		published = rec.PublishedAt.UTC().Format(time.RFC3339)
	}

	query, args, err := sq.Insert("posts").
		Columns("account_name", "link", "title", "published_date",
			"remote_uri", "remote_url", "created_at").
		Values(rec.AccountName, rec.Link, rec.Title, published,
			rec.RemoteURI, rec.RemoteURL, recordedAt.Format(time.RFC3339)).
		Suffix("ON CONFLICT(account_name, link) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert post record: %w", err)
	}
	return nil
}

// List returns up to limit records for the account, newest first. Used by
// the audit listing; the pipeline itself only ever appends and probes.
func (l *SQLiteLedger) List(ctx context.Context, account string, limit int) ([]domain.PostRecord, error) {
	builder := sq.Select("id", "account_name", "link", "title",
		"published_date", "remote_uri", "remote_url", "created_at").
		From("posts").
		Where(sq.Eq{"account_name": account}).
		OrderBy("id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var records []domain.PostRecord
	for rows.Next() {
		var (
			rec        domain.PostRecord
			published  sql.NullString
			remoteURI  sql.NullString
			remoteURL  sql.NullString
			recordedAt sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.AccountName, &rec.Link, &rec.Title,
			&published, &remoteURI, &remoteURL, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan post record: %w", err)
		}
		if published.Valid {
			rec.PublishedAt, _ = time.Parse(time.RFC3339, published.String)
		}
		rec.RemoteURI = remoteURI.String
		rec.RemoteURL = remoteURL.String
		if recordedAt.Valid {
			rec.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt.String)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post records: %w", err)
	}
	return records, nil
}

// Close releases the underlying database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
