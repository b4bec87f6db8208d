package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const captureColumns = `id, COALESCE(session_id, 0), kind, timestamp_ns, x, y, COALESCE(strategy, ''), cached,
	COALESCE(window_id, 0), COALESCE(button, ''), COALESCE(key_char, ''), COALESCE(path, ''),
	COALESCE(digest, ''), COALESCE(width, 0), COALESCE(height, 0), COALESCE(bytes, 0), status, COALESCE(reason, '')`

// Store represents the SQLite capture index.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping() error {
	if s.db == nil {
		return errors.New("store closed")
	}
	return s.db.Ping()
}

// StartSession records the start of a collector run and returns its ID.
func (s *Store) StartSession(sess *Session) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO sessions (started_ns, host, platform, camera, strategies)
		VALUES (?, ?, ?, ?, ?)`,
		sess.StartedAt.UnixNano(), sess.Host, sess.Platform, sess.Camera, sess.Strategies,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	sess.ID = id
	return id, nil
}

// EndSession stamps the end time of a session.
func (s *Store) EndSession(id int64, at time.Time) error {
	result, err := s.db.Exec(`UPDATE sessions SET ended_ns = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %d not found", id)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id int64) (*Session, error) {
	var sess Session
	var started int64
	var ended sql.NullInt64
	var host, platform, camera, strategies sql.NullString

	err := s.db.QueryRow(`
		SELECT id, started_ns, ended_ns, host, platform, camera, strategies
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &started, &ended, &host, &platform, &camera, &strategies)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.StartedAt = time.Unix(0, started)
	if ended.Valid {
		sess.EndedAt = time.Unix(0, ended.Int64)
	}
	sess.Host = host.String
	sess.Platform = platform.String
	sess.Camera = camera.String
	sess.Strategies = strategies.String
	return &sess, nil
}

// Insert adds a capture record and returns its ID.
func (s *Store) Insert(c *Capture) (int64, error) {
	var sessionID any
	if c.SessionID != 0 {
		sessionID = c.SessionID
	}
	result, err := s.db.Exec(`
		INSERT INTO captures (session_id, kind, timestamp_ns, x, y, strategy, cached, window_id, button,
			key_char, path, digest, width, height, bytes, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, c.Kind, c.Timestamp.UnixNano(), c.X, c.Y, nullString(c.Strategy), c.Cached,
		int64(c.Window), nullString(c.Button), nullString(c.Key), nullString(c.Path),
		nullString(c.Digest), c.Width, c.Height, c.Bytes, string(c.Status), nullString(c.Reason),
	)
	if err != nil {
		return 0, fmt.Errorf("insert capture: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

// Get retrieves a capture by ID.
func (s *Store) Get(id int64) (*Capture, error) {
	row := s.db.QueryRow(`SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get capture: %w", err)
	}
	return c, nil
}

// Recent returns up to limit captures, newest first.
func (s *Store) Recent(limit int) ([]Capture, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT `+captureColumns+`
		FROM captures
		ORDER BY timestamp_ns DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent captures: %w", err)
	}
	defer rows.Close()

	return scanCaptures(rows)
}

// Range returns captures with startNs <= timestamp <= endNs, oldest first.
func (s *Store) Range(start, end time.Time) ([]Capture, error) {
	rows, err := s.db.Query(`
		SELECT `+captureColumns+`
		FROM captures
		WHERE timestamp_ns >= ? AND timestamp_ns <= ?
		ORDER BY timestamp_ns ASC, id ASC`, start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query capture range: %w", err)
	}
	defer rows.Close()

	return scanCaptures(rows)
}

// Summary counts captures by kind, status and strategy.
func (s *Store) Summary() (*Summary, error) {
	sum := &Summary{
		ByKind:     make(map[string]int64),
		ByStatus:   make(map[Status]int64),
		ByStrategy: make(map[string]int64),
	}

	var first, last sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), MIN(timestamp_ns), MAX(timestamp_ns) FROM captures`).
		Scan(&sum.Total, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("count captures: %w", err)
	}
	if first.Valid {
		sum.First = time.Unix(0, first.Int64)
	}
	if last.Valid {
		sum.Last = time.Unix(0, last.Int64)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sum.Sessions); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	groups := []struct {
		column string
		add    func(key string, n int64)
	}{
		{"kind", func(k string, n int64) { sum.ByKind[k] = n }},
		{"status", func(k string, n int64) { sum.ByStatus[Status(k)] = n }},
		{"strategy", func(k string, n int64) { sum.ByStrategy[k] = n }},
	}
	for _, g := range groups {
		rows, err := s.db.Query(`SELECT ` + g.column + `, COUNT(*) FROM captures WHERE ` +
			g.column + ` IS NOT NULL GROUP BY ` + g.column)
		if err != nil {
			return nil, fmt.Errorf("group captures by %s: %w", g.column, err)
		}
		for rows.Next() {
			var key string
			var n int64
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s group: %w", g.column, err)
			}
			g.add(key, n)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate %s groups: %w", g.column, err)
		}
	}

	return sum, nil
}

// ExportJSONL writes every capture as one JSON object per line, oldest
// first, and returns the number of records written.
func (s *Store) ExportJSONL(w io.Writer) (int, error) {
	rows, err := s.db.Query(`SELECT ` + captureColumns + ` FROM captures ORDER BY timestamp_ns ASC, id ASC`)
	if err != nil {
		return 0, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	n := 0
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return n, fmt.Errorf("scan capture: %w", err)
		}
		if err := enc.Encode(c); err != nil {
			return n, fmt.Errorf("write capture %d: %w", c.ID, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate captures: %w", err)
	}
	return n, nil
}

// ExportRangeJSONL writes the captures between start and end, inclusive,
// as JSON lines and returns the number written.
func (s *Store) ExportRangeJSONL(w io.Writer, start, end time.Time) (int, error) {
	caps, err := s.Range(start, end)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range caps {
		if err := enc.Encode(&caps[i]); err != nil {
			return i, fmt.Errorf("write capture %d: %w", caps[i].ID, err)
		}
	}
	return len(caps), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapture(row scanner) (*Capture, error) {
	var c Capture
	var ts, window int64
	var status string
	err := row.Scan(&c.ID, &c.SessionID, &c.Kind, &ts, &c.X, &c.Y, &c.Strategy, &c.Cached,
		&window, &c.Button, &c.Key, &c.Path, &c.Digest, &c.Width, &c.Height, &c.Bytes, &status, &c.Reason)
	if err != nil {
		return nil, err
	}
	c.Timestamp = time.Unix(0, ts)
	c.Window = uint64(window)
	c.Status = Status(status)
	return &c, nil
}

func scanCaptures(rows *sql.Rows) ([]Capture, error) {
	var out []Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
