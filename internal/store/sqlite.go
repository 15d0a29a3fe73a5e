package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/somnus/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

var (
	_ BlobStore             = (*SQLiteStore)(nil)
	_ CascadingHistoryStore = (*SQLiteStore)(nil)
)

// SQLiteStore is the SQLite-backed journal database. It holds the journal
// history tables and, when configured as the blob backend, the state blobs.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Blobs ---

// GetBlob returns the stored blob or ErrNotFound.
func (s *SQLiteStore) GetBlob(ctx context.Context, userID, name string) (*types.Blob, error) {
	return getBlob(ctx, s.db, userID, name)
}

// PutBlob writes the blob when its version matches the stored one.
func (s *SQLiteStore) PutBlob(ctx context.Context, blob types.Blob) (*types.Blob, error) {
	return putBlob(ctx, s.db, blob)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getBlob(ctx context.Context, q queryer, userID, name string) (*types.Blob, error) {
	var blob types.Blob
	var updatedAt string

	err := q.QueryRowContext(ctx, `
		SELECT user_id, name, version, schema_version, data, updated_at
		FROM state_blobs
		WHERE user_id = ? AND name = ?
	`, userID, name).Scan(&blob.UserID, &blob.Name, &blob.Version, &blob.SchemaVersion, &blob.Data, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan blob: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		blob.UpdatedAt = t
	}
	return &blob, nil
}

func putBlob(ctx context.Context, q queryer, blob types.Blob) (*types.Blob, error) {
	if blob.UpdatedAt.IsZero() {
		blob.UpdatedAt = time.Now().UTC()
	}
	if blob.Data == nil {
		blob.Data = []byte{}
	}
	updatedAt := blob.UpdatedAt.UTC().Format(time.RFC3339Nano)
	next := blob.Version + 1

	var (
		result sql.Result
		err    error
	)
	if blob.Version == 0 {
		result, err = q.ExecContext(ctx, `
			INSERT INTO state_blobs (user_id, name, version, schema_version, data, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, name) DO NOTHING
		`, blob.UserID, blob.Name, next, blob.SchemaVersion, blob.Data, updatedAt)
	} else {
		result, err = q.ExecContext(ctx, `
			UPDATE state_blobs
			SET version = ?, schema_version = ?, data = ?, updated_at = ?
			WHERE user_id = ? AND name = ? AND version = ?
		`, next, blob.SchemaVersion, blob.Data, updatedAt, blob.UserID, blob.Name, blob.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	blob.Version = next
	return &blob, nil
}

// --- Journal history ---

// AddDream stores a new dream entry with a generated ULID.
func (s *SQLiteStore) AddDream(ctx context.Context, dream types.Dream) (*types.Dream, error) {
	dream.ID = ulid.Make().String()
	if dream.CreatedAt.IsZero() {
		dream.CreatedAt = s.now().UTC()
	}

	emotions, themes, symbols, err := marshalLists(dream.Emotions, dream.Themes, dream.Symbols)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dreams (id, user_id, date, content, emotions, themes, symbols, intensity, interpretation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dream.ID, dream.UserID, dream.Date, dream.Content, emotions, themes, symbols,
		nullFloat(dream.Intensity), dream.Interpretation, dream.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert dream: %w", err)
	}

	return &dream, nil
}

// UpsertCheckIn stores the check-in for (user, date), replacing any earlier one.
// The original ID and creation time survive a replacement.
func (s *SQLiteStore) UpsertCheckIn(ctx context.Context, checkIn types.CheckIn) (*types.CheckIn, error) {
	checkIn.ID = ulid.Make().String()
	if checkIn.CreatedAt.IsZero() {
		checkIn.CreatedAt = s.now().UTC()
	}

	emotions, _, _, err := marshalLists(checkIn.Emotions, nil, nil)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO check_ins (id, user_id, date, condition, stress_level, sleep_duration_minutes, emotions, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, date) DO UPDATE SET
			condition = excluded.condition,
			stress_level = excluded.stress_level,
			sleep_duration_minutes = excluded.sleep_duration_minutes,
			emotions = excluded.emotions,
			note = excluded.note
	`, checkIn.ID, checkIn.UserID, checkIn.Date,
		nullFloat(checkIn.Condition), nullFloat(checkIn.StressLevel), nullFloat(checkIn.SleepDurationMinutes),
		emotions, checkIn.Note, checkIn.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("upsert check-in: %w", err)
	}

	return s.CheckInByDate(ctx, checkIn.UserID, checkIn.Date)
}

// RecentDreams returns the user's dreams dated on or after since, newest first.
func (s *SQLiteStore) RecentDreams(ctx context.Context, userID, since string) ([]types.Dream, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, content, emotions, themes, symbols, intensity, interpretation, created_at
		FROM dreams
		WHERE user_id = ? AND date >= ?
		ORDER BY date DESC, created_at DESC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query dreams: %w", err)
	}
	defer rows.Close()

	dreams := []types.Dream{}
	for rows.Next() {
		d, err := scanDream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dream: %w", err)
		}
		dreams = append(dreams, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return dreams, nil
}

// RecentCheckIns returns the user's check-ins dated on or after since, newest first.
func (s *SQLiteStore) RecentCheckIns(ctx context.Context, userID, since string) ([]types.CheckIn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, condition, stress_level, sleep_duration_minutes, emotions, note, created_at
		FROM check_ins
		WHERE user_id = ? AND date >= ?
		ORDER BY date DESC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query check-ins: %w", err)
	}
	defer rows.Close()

	checkIns := []types.CheckIn{}
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		checkIns = append(checkIns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return checkIns, nil
}

// CheckInByDate returns the user's check-in for date or ErrNotFound.
func (s *SQLiteStore) CheckInByDate(ctx context.Context, userID, date string) (*types.CheckIn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, condition, stress_level, sleep_duration_minutes, emotions, note, created_at
		FROM check_ins
		WHERE user_id = ? AND date = ?
	`, userID, date)

	c, err := scanCheckIn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan check-in: %w", err)
	}
	return c, nil
}

// DeleteCheckIn removes the user's check-in for date.
func (s *SQLiteStore) DeleteCheckIn(ctx context.Context, userID, date string) error {
	return s.DeleteCheckInCascade(ctx, userID, date, "", nil)
}

// DeleteCheckInCascade removes the user's check-in for date and, in the same
// transaction, applies mutate to the user's blobName blob when it exists.
func (s *SQLiteStore) DeleteCheckInCascade(ctx context.Context, userID, date, blobName string, mutate BlobMutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM check_ins WHERE user_id = ? AND date = ?`, userID, date)
	if err != nil {
		return fmt.Errorf("delete check-in: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if mutate != nil && blobName != "" {
		blob, err := getBlob(ctx, tx, userID, blobName)
		switch {
		case errors.Is(err, ErrNotFound):
			// nothing derived yet
		case err != nil:
			return err
		default:
			data, changed, err := mutate(blob.Data)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", blobName, err)
			}
			if changed {
				blob.Data = data
				blob.UpdatedAt = s.now().UTC()
				if _, err := putBlob(ctx, tx, *blob); err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ActiveUsers returns users with a dream or check-in dated on or after since.
func (s *SQLiteStore) ActiveUsers(ctx context.Context, since string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM check_ins WHERE date >= ?
		UNION
		SELECT user_id FROM dreams WHERE date >= ?
		ORDER BY user_id
	`, since, since)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return users, nil
}

// --- Backups ---

// BackupGlob matches the files written by GenerateBackup. Names sort
// chronologically.
const BackupGlob = "somnus-*.db"

// GenerateBackup writes a consistent copy of the database into dir using
// VACUUM INTO and returns the file path.
func (s *SQLiteStore) GenerateBackup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("somnus-%s.db", s.now().UTC().Format("20060102T150405.000000000")))
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("vacuum into backup: %w", err)
	}
	return path, nil
}

// --- Row helpers ---

func scanDream(scanner interface{ Scan(...any) error }) (*types.Dream, error) {
	var d types.Dream
	var emotions, themes, symbols, createdAt string
	var intensity sql.NullFloat64

	if err := scanner.Scan(&d.ID, &d.UserID, &d.Date, &d.Content, &emotions, &themes, &symbols,
		&intensity, &d.Interpretation, &createdAt); err != nil {
		return nil, err
	}

	d.Emotions = parseList(emotions)
	d.Themes = parseList(themes)
	d.Symbols = parseList(symbols)
	if intensity.Valid {
		v := intensity.Float64
		d.Intensity = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		d.CreatedAt = t
	}
	return &d, nil
}

func scanCheckIn(scanner interface{ Scan(...any) error }) (*types.CheckIn, error) {
	var c types.CheckIn
	var emotions, createdAt string
	var condition, stress, sleep sql.NullFloat64

	if err := scanner.Scan(&c.ID, &c.UserID, &c.Date, &condition, &stress, &sleep,
		&emotions, &c.Note, &createdAt); err != nil {
		return nil, err
	}

	c.Condition = floatPtr(condition)
	c.StressLevel = floatPtr(stress)
	c.SleepDurationMinutes = floatPtr(sleep)
	c.Emotions = parseList(emotions)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

// parseList tolerates malformed JSON lists written by older clients.
func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func marshalLists(lists ...[]string) (string, string, string, error) {
	out := make([]string, 3)
	for i := 0; i < len(out) && i < len(lists); i++ {
		list := lists[i]
		if list == nil {
			list = []string{}
		}
		b, err := json.Marshal(list)
		if err != nil {
			return "", "", "", fmt.Errorf("marshal list: %w", err)
		}
		out[i] = string(b)
	}
	return out[0], out[1], out[2], nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
