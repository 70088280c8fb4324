package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/quizwire/quizwire/internal/game"
)

// Open creates a SQLite connection via libSQL and configures it for
// concurrent use: WAL journal mode, 5 s busy timeout, foreign keys enabled.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// libSQL rejects Exec for PRAGMAs that return rows. Use QueryContext and
	// drain rows to handle both kinds uniformly.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		rows, err := db.QueryContext(ctx, p)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %s: %w", p, err)
		}
		rows.Close()
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// SQLiteStore persists quizzes and finished-game records. It implements
// both game.QuizLookup and game.Persistence.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quizzes (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			quiz_id        TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
			position       INTEGER NOT NULL,
			prompt         TEXT NOT NULL,
			correct_answer TEXT NOT NULL,
			distractors    TEXT NOT NULL,
			PRIMARY KEY (quiz_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS game_records (
			id           TEXT PRIMARY KEY,
			host_user_id TEXT NOT NULL,
			quiz_id      TEXT NOT NULL,
			completed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS player_scores (
			record_id TEXT NOT NULL REFERENCES game_records(id) ON DELETE CASCADE,
			user_id   TEXT NOT NULL,
			score     INTEGER NOT NULL,
			PRIMARY KEY (record_id, user_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// CreateQuiz stores a quiz with its ordered question list and returns its id.
func (s *SQLiteStore) CreateQuiz(ctx context.Context, name string, questions []game.Question) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO quizzes (id, name) VALUES (?, ?)`, id, name); err != nil {
		return "", fmt.Errorf("inserting quiz: %w", err)
	}
	for i, q := range questions {
		distractors, err := json.Marshal(q.Distractors)
		if err != nil {
			return "", err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO questions (quiz_id, position, prompt, correct_answer, distractors)
			VALUES (?, ?, ?, ?, ?)
		`, id, i, q.Prompt, q.CorrectAnswer, string(distractors))
		if err != nil {
			return "", fmt.Errorf("inserting question %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

type QuizSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	QuestionCount int    `json:"questionCount"`
}

func (s *SQLiteStore) ListQuizzes(ctx context.Context) ([]QuizSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.name, COUNT(qs.quiz_id)
		FROM quizzes q
		LEFT JOIN questions qs ON qs.quiz_id = q.id
		GROUP BY q.id, q.name
		ORDER BY q.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuizSummary
	for rows.Next() {
		var qs QuizSummary
		if err := rows.Scan(&qs.ID, &qs.Name, &qs.QuestionCount); err != nil {
			return nil, err
		}
		out = append(out, qs)
	}
	return out, rows.Err()
}

// GetQuizWithQuestions returns the quiz with its question list frozen at
// call time, or (nil, nil) when the quiz does not exist.
func (s *SQLiteStore) GetQuizWithQuestions(ctx context.Context, quizID string) (*game.Quiz, error) {
	quiz := &game.Quiz{ID: quizID}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM quizzes WHERE id = ?`, quizID).Scan(&quiz.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT prompt, correct_answer, distractors
		FROM questions
		WHERE quiz_id = ?
		ORDER BY position
	`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q game.Question
		var distractors string
		if err := rows.Scan(&q.Prompt, &q.CorrectAnswer, &distractors); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(distractors), &q.Distractors); err != nil {
			return nil, fmt.Errorf("decoding distractors: %w", err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	return quiz, rows.Err()
}

func (s *SQLiteStore) CreateGameRecord(ctx context.Context, hostUserID, quizID string, completedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_records (id, host_user_id, quiz_id, completed_at)
		VALUES (?, ?, ?, ?)
	`, id, hostUserID, quizID, completedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("inserting game record: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) RecordPlayerScore(ctx context.Context, recordID, userID string, score int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO player_scores (record_id, user_id, score)
		VALUES (?, ?, ?)
	`, recordID, userID, score)
	if err != nil {
		return fmt.Errorf("inserting player score: %w", err)
	}
	return nil
}

type GameRecordSummary struct {
	ID          string `json:"id"`
	QuizID      string `json:"quizId"`
	QuizName    string `json:"quizName"`
	HostUserID  string `json:"hostUserId"`
	CompletedAt string `json:"completedAt"`
	PlayerCount int    `json:"playerCount"`
}

// RecentGames lists the latest finished games, newest first.
func (s *SQLiteStore) RecentGames(ctx context.Context, limit int) ([]GameRecordSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.quiz_id, COALESCE(q.name, ''), g.host_user_id, g.completed_at, COUNT(p.record_id)
		FROM game_records g
		LEFT JOIN quizzes q ON q.id = g.quiz_id
		LEFT JOIN player_scores p ON p.record_id = g.id
		GROUP BY g.id
		ORDER BY g.completed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GameRecordSummary
	for rows.Next() {
		var rec GameRecordSummary
		if err := rows.Scan(&rec.ID, &rec.QuizID, &rec.QuizName, &rec.HostUserID, &rec.CompletedAt, &rec.PlayerCount); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
