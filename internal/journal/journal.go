// Package journal keeps a SQLite record of submitted keyboard sessions.
//
// Typed text never reaches the database. Each entry stores the value's
// length and a keyed commitment (HMAC-SHA256 under a key derived from a
// per-journal secret), so a known value can later be checked against an
// entry without the journal revealing it. Every row carries its own MAC,
// which Verify uses to detect edits made outside this package.
package journal

import (
	"context"
	"crypto/hmac"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rivo/uniseg"

	"vkbd/internal/keyboard"
)

// ErrTampered is returned by Verify when a row's MAC does not match.
var ErrTampered = errors.New("journal: entry modified outside the journal")

// Entry is one recorded session.
type Entry struct {
	ID          string
	ShownAt     time.Time
	SubmittedAt time.Time

	ReturnKeyLabel string
	AccentColor    string
	SoundEnabled   bool
	Prefilled      bool

	// ValueLength counts user-perceived characters.
	ValueLength int
	Commitment  []byte

	Keystrokes int
	Backspaces int
	Dictations int

	mac []byte
}

// Duration is how long the session was on screen.
func (e *Entry) Duration() time.Duration {
	return e.SubmittedAt.Sub(e.ShownAt)
}

// Journal is a session journal backed by SQLite.
type Journal struct {
	db   *sql.DB
	path string
	keys keys

	mu sync.Mutex
}

// Open opens or creates the journal at path and runs migrations.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	secret, err := loadSecret(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	k, err := deriveKeys(secret)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db, path: path, keys: k}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// RecordSession implements keyboard.Recorder.
func (j *Journal) RecordSession(ctx context.Context, rec keyboard.SessionRecord) error {
	e := &Entry{
		ID:             rec.ID,
		ShownAt:        rec.ShownAt,
		SubmittedAt:    rec.SubmittedAt,
		ReturnKeyLabel: rec.Settings.ReturnKeyLabel,
		AccentColor:    rec.Settings.AccentColor,
		SoundEnabled:   rec.Settings.SoundEnabled,
		Prefilled:      rec.Settings.InitialValue != "",
		ValueLength:    uniseg.GraphemeClusterCount(rec.Value),
		Commitment:     j.keys.commit(rec.Value),
		Keystrokes:     rec.Keystrokes,
		Backspaces:     rec.Backspaces,
		Dictations:     rec.Dictations,
	}
	return j.insert(ctx, e)
}

func (j *Journal) insert(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		return errors.New("journal: entry has no id")
	}
	e.mac = j.keys.entryMAC(e)

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, shown_ns, submitted_ns, return_label, accent_color, sound_enabled,
		                      prefilled, value_length, value_commit, keystrokes, backspaces, dictations, hmac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ShownAt.UnixNano(), e.SubmittedAt.UnixNano(), e.ReturnKeyLabel, e.AccentColor,
		e.SoundEnabled, e.Prefilled, e.ValueLength, e.Commitment,
		e.Keystrokes, e.Backspaces, e.Dictations, e.mac,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", e.ID, err)
	}
	return nil
}

const entryColumns = `id, shown_ns, submitted_ns, return_label, accent_color, sound_enabled,
	prefilled, value_length, value_commit, keystrokes, backspaces, dictations, hmac`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                 Entry
		shownNs, submitNs int64
	)
	err := row.Scan(&e.ID, &shownNs, &submitNs, &e.ReturnKeyLabel, &e.AccentColor, &e.SoundEnabled,
		&e.Prefilled, &e.ValueLength, &e.Commitment, &e.Keystrokes, &e.Backspaces, &e.Dictations, &e.mac)
	if err != nil {
		return nil, err
	}
	e.ShownAt = time.Unix(0, shownNs)
	e.SubmittedAt = time.Unix(0, submitNs)
	return &e, nil
}

// Get returns the entry with the given id, or nil if there is none.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sessions WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns every entry.
func (j *Journal) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM sessions ORDER BY submitted_ns DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Count returns the number of entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Prune deletes entries submitted before cutoff and returns how many were
// removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE submitted_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// Verify checks the MAC of every entry.
func (j *Journal) Verify(ctx context.Context) error {
	entries, err := j.List(ctx, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !hmac.Equal(e.mac, j.keys.entryMAC(e)) {
			return fmt.Errorf("%w: session %s", ErrTampered, e.ID)
		}
	}
	return nil
}

// Matches reports whether value is the value submitted in session id.
func (j *Journal) Matches(ctx context.Context, id, value string) (bool, error) {
	e, err := j.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, fmt.Errorf("journal: no session %s", id)
	}
	return hmac.Equal(e.Commitment, j.keys.commit(value)), nil
}

var _ keyboard.Recorder = (*Journal)(nil)
