package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for journal entries, tags,
// preferences, and the enrichment job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "lifeledger.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Entries ---

const entryColumns = `id, title, content, mood, ai_quote,
	ai_quote_task_id, ai_mood_task_id, ai_tags_task_id,
	ai_quote_processed, ai_mood_processed, ai_tags_processed,
	created_at, updated_at`

func (s *Store) SaveEntry(e Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Content, e.Mood, e.AIQuote,
		e.QuoteTaskID, e.MoodTaskID, e.TagsTaskID,
		e.QuoteProcessed, e.MoodProcessed, e.TagsProcessed,
		e.CreatedAt.UTC().Format(time.RFC3339), e.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetEntry(id string) (Entry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, err
	}
	tags, err := s.GetEntryTags(id)
	if err != nil {
		return Entry{}, fmt.Errorf("loading tags for entry %s: %w", id, err)
	}
	e.Tags = tags
	return e, nil
}

func (s *Store) ListEntries(limit, offset int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT `+entryColumns+` FROM entries
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range results {
		tags, err := s.GetEntryTags(results[i].ID)
		if err != nil {
			return nil, fmt.Errorf("loading tags for entry %s: %w", results[i].ID, err)
		}
		results[i].Tags = tags
	}
	return results, nil
}

// ListEntriesSince returns entries created at or after since, oldest
// first. A zero since returns all entries. Tags are not loaded; callers
// that need them use GetEntry.
func (s *Store) ListEntriesSince(since time.Time) ([]Entry, error) {
	var cutoff string
	if !since.IsZero() {
		cutoff = since.UTC().Format(time.RFC3339)
	}
	rows, err := s.db.Query(`
		SELECT `+entryColumns+` FROM entries
		WHERE created_at >= ?
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// UpdateEntryContent persists the user-editable fields of an entry.
// Ledger fields are updated separately through the narrower setters below.
func (s *Store) UpdateEntryContent(id, title, content, mood string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE entries SET title = ?, content = ?, mood = ?, updated_at = ? WHERE id = ?`,
		title, content, mood, now, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteEntry(id string) error {
	res, err := s.db.Exec(`DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var createdAt, updatedAt string
	err := row.Scan(
		&e.ID, &e.Title, &e.Content, &e.Mood, &e.AIQuote,
		&e.QuoteTaskID, &e.MoodTaskID, &e.TagsTaskID,
		&e.QuoteProcessed, &e.MoodProcessed, &e.TagsProcessed,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Entry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}

// --- Enrichment ledger ---

// ledgerColumns whitelists the per-kind ledger column pairs. Kind strings
// from elsewhere in the codebase must pass through this map before being
// interpolated into SQL.
var ledgerColumns = map[string]struct{ taskID, processed string }{
	"quote": {"ai_quote_task_id", "ai_quote_processed"},
	"mood":  {"ai_mood_task_id", "ai_mood_processed"},
	"tags":  {"ai_tags_task_id", "ai_tags_processed"},
}

// SetEntryDispatch records a fresh dispatch for a kind: stores the task id
// and clears the processed flag.
func (s *Store) SetEntryDispatch(id, kind, taskID string) error {
	cols, ok := ledgerColumns[kind]
	if !ok {
		return fmt.Errorf("unknown enrichment kind %q", kind)
	}
	res, err := s.db.Exec(
		`UPDATE entries SET `+cols.taskID+` = ?, `+cols.processed+` = 0 WHERE id = ?`,
		taskID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkEntryProcessed sets the processed flag for the given kinds in a
// single write. Used when dispatch is skipped and by the status
// aggregator's batched reconciliation.
func (s *Store) MarkEntryProcessed(id string, kinds ...string) error {
	if len(kinds) == 0 {
		return nil
	}
	sets := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		cols, ok := ledgerColumns[kind]
		if !ok {
			return fmt.Errorf("unknown enrichment kind %q", kind)
		}
		sets = append(sets, cols.processed+" = 1")
	}
	res, err := s.db.Exec(`UPDATE entries SET `+strings.Join(sets, ", ")+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ResetEntryLedger clears all three kinds' flags and task ids. Called
// when a content-changing update starts a new enrichment cycle.
func (s *Store) ResetEntryLedger(id string) error {
	res, err := s.db.Exec(`
		UPDATE entries SET
			ai_quote_task_id = '', ai_mood_task_id = '', ai_tags_task_id = '',
			ai_quote_processed = 0, ai_mood_processed = 0, ai_tags_processed = 0
		WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetEntryQuote finalizes the quote kind: stores the quote text and sets
// the processed flag in one write.
func (s *Store) SetEntryQuote(id, quote string) error {
	res, err := s.db.Exec(`UPDATE entries SET ai_quote = ?, ai_quote_processed = 1 WHERE id = ?`, quote, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ClearEntryQuote empties the stored quote and marks the kind processed.
// Used when the user has quote generation disabled.
func (s *Store) ClearEntryQuote(id string) error {
	res, err := s.db.Exec(`UPDATE entries SET ai_quote = '', ai_quote_processed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetEntryMood finalizes the mood kind: stores the detected mood and sets
// the processed flag in one write.
func (s *Store) SetEntryMood(id, mood string) error {
	res, err := s.db.Exec(`UPDATE entries SET mood = ?, ai_mood_processed = 1 WHERE id = ?`, mood, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tags ---

func (s *Store) CreateTag(t Tag) error {
	_, err := s.db.Exec(`INSERT INTO tags (id, name, emoji) VALUES (?, ?, ?)`, t.ID, t.Name, t.Emoji)
	return err
}

// GetTagByName looks a tag up by name, case-insensitively.
func (s *Store) GetTagByName(name string) (Tag, error) {
	var t Tag
	err := s.db.QueryRow(`SELECT id, name, emoji FROM tags WHERE name = ? COLLATE NOCASE`, name).
		Scan(&t.ID, &t.Name, &t.Emoji)
	if err == sql.ErrNoRows {
		return Tag{}, ErrNotFound
	}
	return t, err
}

// GetOrCreateTag returns the existing tag matching name case-insensitively,
// or creates it with the given id and emoji.
func (s *Store) GetOrCreateTag(id, name, emoji string) (Tag, error) {
	t, err := s.GetTagByName(name)
	if err == nil {
		return t, nil
	}
	if err != ErrNotFound {
		return Tag{}, err
	}
	t = Tag{ID: id, Name: name, Emoji: emoji}
	if err := s.CreateTag(t); err != nil {
		return Tag{}, err
	}
	return t, nil
}

func (s *Store) ListTags() ([]Tag, error) {
	rows, err := s.db.Query(`SELECT id, name, emoji FROM tags ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Emoji); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// SetEntryTags replaces the entry's tag set.
func (s *Store) SetEntryTags(entryID string, tagIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning tag transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entry_tags WHERE entry_id = ?`, entryID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		if _, err := tx.Exec(`INSERT INTO entry_tags (entry_id, tag_id) VALUES (?, ?)`, entryID, tagID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddEntryTags attaches tags to an entry, ignoring ones already attached.
func (s *Store) AddEntryTags(entryID string, tagIDs []string) error {
	for _, tagID := range tagIDs {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO entry_tags (entry_id, tag_id) VALUES (?, ?)`, entryID, tagID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetEntryTags(entryID string) ([]Tag, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.name, t.emoji FROM tags t
		JOIN entry_tags et ON et.tag_id = t.id
		WHERE et.entry_id = ?
		ORDER BY t.name ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Emoji); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// --- Preferences ---

func (s *Store) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetPreference(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) GetAllPreferences() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM preferences")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}
