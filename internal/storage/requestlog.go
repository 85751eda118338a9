// Package storage keeps a local SQLite log of built business logic requests.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/httprunner/bizlogic/internal/config"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	// EnvDBPath overrides the request log location.
	EnvDBPath         = "BUSINESS_LOGIC_DB_PATH"
	defaultDBDirName  = ".bizlogic"
	defaultDBFileName = "requests.sqlite"
	requestTable      = "business_logic_requests"
	redactedKey       = "REDACTED"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RequestRecord is one built request.
type RequestRecord struct {
	ID         string
	Serial     string
	Suite      string
	Module     string
	URL        string
	ParamCount int
	CreatedAt  time.Time
}

// RequestLog persists RequestRecords.
type RequestLog struct {
	db   *sql.DB
	path string
}

// ResolveDatabasePath returns $BUSINESS_LOGIC_DB_PATH or ~/.bizlogic/requests.sqlite,
// creating the parent directory.
func ResolveDatabasePath() (string, error) {
	if custom := config.String(EnvDBPath, ""); custom != "" {
		if err := ensureDirExists(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "storage: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

// OpenDefault opens the log at ResolveDatabasePath.
func OpenDefault() (*RequestLog, error) {
	path, err := ResolveDatabasePath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Open opens (and migrates) the request log at path.
func Open(path string) (*RequestLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &RequestLog{db: db, path: path}, nil
}

// Path returns the database file path.
func (l *RequestLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record stores rec with its api key redacted, filling ID and CreatedAt when
// unset, and returns the stored record.
func (l *RequestLog) Record(ctx context.Context, rec RequestRecord) (RequestRecord, error) {
	if l == nil || l.db == nil {
		return rec, pkgerrors.New("storage: request log is not open")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.URL = RedactKey(rec.URL)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO `+requestTable+` (id, serial, suite, module, url, param_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Serial, rec.Suite, rec.Module, rec.URL, rec.ParamCount,
		rec.CreatedAt.Format(timeLayout))
	if err != nil {
		return rec, pkgerrors.Wrap(err, "storage: insert request record failed")
	}
	log.Debug().Str("id", rec.ID).Str("serial", rec.Serial).Msg("business logic request recorded")
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (l *RequestLog) Recent(ctx context.Context, limit int) ([]RequestRecord, error) {
	if l == nil || l.db == nil {
		return nil, pkgerrors.New("storage: request log is not open")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, serial, suite, module, url, param_count, created_at
		FROM `+requestTable+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: query request records failed")
	}
	defer rows.Close()

	var records []RequestRecord
	for rows.Next() {
		var (
			rec     RequestRecord
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.Serial, &rec.Suite, &rec.Module, &rec.URL, &rec.ParamCount, &created); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: scan request record failed")
		}
		if rec.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, pkgerrors.Wrapf(err, "storage: parse created_at %q", created)
		}
		records = append(records, rec)
	}
	return records, pkgerrors.Wrap(rows.Err(), "storage: iterate request records failed")
}

// Close releases the database handle.
func (l *RequestLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RedactKey replaces the value of every key parameter of a request URL.
func RedactKey(raw string) string {
	base, query, ok := strings.Cut(raw, "?")
	if !ok {
		return raw
	}
	parts := strings.Split(query, "&")
	for i, part := range parts {
		if strings.HasPrefix(part, "key=") {
			parts[i] = "key=" + redactedKey
		}
	}
	return base + "?" + strings.Join(parts, "&")
}

func ensureDirExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "storage: create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + requestTable + ` (
			id TEXT PRIMARY KEY,
			serial TEXT NOT NULL,
			suite TEXT NOT NULL,
			module TEXT,
			url TEXT NOT NULL,
			param_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + requestTable + `_created ON ` + requestTable + `(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "storage: prepare request log schema failed")
		}
	}
	return nil
}
