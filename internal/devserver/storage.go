package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for missing rows.
var ErrNotFound = errors.New("not found")

// Storage is the devserver's embedded store for candidates, tests, and
// submitted answers. SQLite keeps the e2e suite hermetic: no external
// database to stand up.
type Storage struct {
	db *sql.DB
}

// OpenStorage opens (and migrates) the SQLite database at path.
// ":memory:" is supported for tests.
func OpenStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes itself; a single conn avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS candidates (
			user_id       TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			password_hash TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tests (
			id    TEXT PRIMARY KEY,
			title TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS questions (
			test_id TEXT NOT NULL REFERENCES tests(id),
			ordinal INTEGER NOT NULL,
			text    TEXT NOT NULL,
			PRIMARY KEY (test_id, ordinal)
		);
		CREATE TABLE IF NOT EXISTS answers (
			test_id        TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			question_index INTEGER NOT NULL,
			transcript     TEXT NOT NULL,
			attempt        INTEGER NOT NULL DEFAULT 1,
			updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (test_id, user_id, question_index)
		);
		CREATE TABLE IF NOT EXISTS pose_images (
			test_id  TEXT NOT NULL,
			user_id  TEXT NOT NULL,
			position TEXT NOT NULL,
			bytes    BLOB NOT NULL,
			PRIMARY KEY (test_id, user_id, position)
		);
	`)
	return err
}

// Close releases the database handle.
func (s *Storage) Close() error { return s.db.Close() }

// ─── Candidates ─────────────────────────────────────────────────────

// CreateCandidate inserts or replaces a candidate account.
func (s *Storage) CreateCandidate(ctx context.Context, userID, name, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO candidates (user_id, name, password_hash) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET name = excluded.name, password_hash = excluded.password_hash`,
		userID, name, passwordHash)
	return err
}

// CandidateHash returns the stored password hash for a candidate.
func (s *Storage) CandidateHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM candidates WHERE user_id = ?`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return hash, err
}

// ─── Tests ──────────────────────────────────────────────────────────

// StoredTest is a test row plus its ordered questions.
type StoredTest struct {
	ID        string
	Title     string
	Questions []string
}

// SeedTest inserts a test with its questions, replacing any previous
// content.
func (s *Storage) SeedTest(ctx context.Context, t StoredTest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tests (id, title) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = excluded.title`, t.ID, t.Title); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id = ?`, t.ID); err != nil {
		return err
	}
	for i, q := range t.Questions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (test_id, ordinal, text) VALUES (?, ?, ?)`, t.ID, i+1, q); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTest loads a test and its questions in ordinal order.
func (s *Storage) GetTest(ctx context.Context, id string) (*StoredTest, error) {
	t := &StoredTest{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT title FROM tests WHERE id = ?`, id).Scan(&t.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT text FROM questions WHERE test_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		t.Questions = append(t.Questions, text)
	}
	return t, rows.Err()
}

// ─── Answers ────────────────────────────────────────────────────────

// SaveAnswer upserts a submitted answer, bumping the attempt counter on
// resubmission.
func (s *Storage) SaveAnswer(ctx context.Context, testID, userID string, index int, transcript string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (test_id, user_id, question_index, transcript)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (test_id, user_id, question_index) DO UPDATE
		 SET transcript = excluded.transcript,
		     attempt = answers.attempt + 1,
		     updated_at = CURRENT_TIMESTAMP`,
		testID, userID, index, transcript)
	return err
}

// GetAnswer returns the stored transcript for one question, or "" when
// none exists.
func (s *Storage) GetAnswer(ctx context.Context, testID, userID string, index int) (string, error) {
	var transcript string
	err := s.db.QueryRowContext(ctx,
		`SELECT transcript FROM answers WHERE test_id = ? AND user_id = ? AND question_index = ?`,
		testID, userID, index).Scan(&transcript)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return transcript, err
}

// DeleteAnswer discards a draft answer (reanswer flow).
func (s *Storage) DeleteAnswer(ctx context.Context, testID, userID string, index int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM answers WHERE test_id = ? AND user_id = ? AND question_index = ?`,
		testID, userID, index)
	return err
}

// ListAnswers returns all submitted answers keyed by question index.
func (s *Storage) ListAnswers(ctx context.Context, testID, userID string) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_index, transcript FROM answers WHERE test_id = ? AND user_id = ?`,
		testID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var idx int
		var transcript string
		if err := rows.Scan(&idx, &transcript); err != nil {
			return nil, err
		}
		out[idx] = transcript
	}
	return out, rows.Err()
}

// ─── Pose images ────────────────────────────────────────────────────

// SavePoseImage stores one uploaded verification frame.
func (s *Storage) SavePoseImage(ctx context.Context, testID, userID, position string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pose_images (test_id, user_id, position, bytes) VALUES (?, ?, ?, ?)
		 ON CONFLICT (test_id, user_id, position) DO UPDATE SET bytes = excluded.bytes`,
		testID, userID, position, data)
	return err
}

// CountPoseImages reports how many poses a candidate has uploaded.
func (s *Storage) CountPoseImages(ctx context.Context, testID, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pose_images WHERE test_id = ? AND user_id = ?`,
		testID, userID).Scan(&n)
	return n, err
}
