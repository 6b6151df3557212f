package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/RichardoC/goblin/internal/models"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a transcript id is unknown.
	ErrNotFound = errors.New("transcript not found")

	// ErrInvalidQuery is returned for search text that is not a valid
	// full-text query, such as an unbalanced quote.
	ErrInvalidQuery = errors.New("invalid search query")
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    personas TEXT NOT NULL DEFAULT '[]',
    path TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    transcript_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    FOREIGN KEY (transcript_id) REFERENCES transcripts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS messages_transcript ON messages(transcript_id, seq);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts4(
    content,
    tokenize=porter
);

-- Triggers to keep the FTS index up to date
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(docid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    DELETE FROM messages_fts WHERE docid = old.id;
END;`

// Database archives saved chat transcripts.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// SaveTranscript stores tr and its messages, replacing any earlier copy with
// the same id.
func (db *Database) SaveTranscript(tr models.Transcript) error {
	personas, err := json.Marshal(nonNil(tr.Personas))
	if err != nil {
		return err
	}

	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE transcript_id = ?", tr.ID); err != nil {
		return err
	}

	_, err = tx.Exec(`
        INSERT INTO transcripts (id, model, personas, path, started_at, ended_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            model = excluded.model,
            personas = excluded.personas,
            path = excluded.path,
            started_at = excluded.started_at,
            ended_at = excluded.ended_at`,
		tr.ID, tr.Model, string(personas), tr.Path, tr.StartedAt, tr.EndedAt)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO messages (transcript_id, seq, role, content) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range tr.Messages {
		if _, err := stmt.Exec(tr.ID, i, string(m.Role), m.Content); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetTranscripts lists archived transcripts, newest first, without messages.
func (db *Database) GetTranscripts() ([]models.Transcript, error) {
	rows, err := db.db.Query(`
        SELECT id, model, personas, path, started_at, ended_at
        FROM transcripts
        ORDER BY started_at DESC`)
	if err != nil {
		return []models.Transcript{}, err
	}
	defer rows.Close()

	transcripts := make([]models.Transcript, 0)
	for rows.Next() {
		tr, err := scanTranscript(rows)
		if err != nil {
			return []models.Transcript{}, err
		}
		transcripts = append(transcripts, tr)
	}
	return transcripts, rows.Err()
}

// GetTranscript returns one transcript with its messages in order.
func (db *Database) GetTranscript(id string) (*models.Transcript, error) {
	row := db.db.QueryRow(`
        SELECT id, model, personas, path, started_at, ended_at
        FROM transcripts
        WHERE id = ?`, id)
	tr, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.db.Query(`
        SELECT role, content
        FROM messages
        WHERE transcript_id = ?
        ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tr.Messages = make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		tr.Messages = append(tr.Messages, m)
	}
	return &tr, rows.Err()
}

// SearchTranscripts runs an FTS4 match over message content.
func (db *Database) SearchTranscripts(query string, limit int) ([]models.TranscriptMatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.Query(`
		SELECT t.id, t.model, m.role, m.content, t.started_at
		FROM messages m
		JOIN messages_fts fts ON m.id = fts.docid
		JOIN transcripts t ON t.id = m.transcript_id
		WHERE messages_fts MATCH ?
		ORDER BY t.started_at DESC, m.seq
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, searchError(err)
	}
	defer rows.Close()

	results := make([]models.TranscriptMatch, 0)
	for rows.Next() {
		var r models.TranscriptMatch
		if err := rows.Scan(&r.TranscriptID, &r.Model, &r.Role, &r.Content, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, searchError(err)
	}
	return results, nil
}

// searchError separates FTS query syntax errors from storage failures. The
// parse error surfaces on the first step, so it can come from Query or Next.
func searchError(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrError {
		msg := sqlErr.Error()
		if strings.Contains(msg, "malformed MATCH") || strings.Contains(msg, "syntax error") {
			return fmt.Errorf("%w: %s", ErrInvalidQuery, msg)
		}
	}
	return fmt.Errorf("failed to search transcripts: %w", err)
}

func (db *Database) DeleteTranscript(id string) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Delete messages first so the FTS trigger fires
	if _, err := tx.Exec("DELETE FROM messages WHERE transcript_id = ?", id); err != nil {
		return err
	}

	res, err := tx.Exec("DELETE FROM transcripts WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(s scanner) (models.Transcript, error) {
	var (
		tr       models.Transcript
		personas string
	)
	if err := s.Scan(&tr.ID, &tr.Model, &personas, &tr.Path, &tr.StartedAt, &tr.EndedAt); err != nil {
		return tr, err
	}
	if err := json.Unmarshal([]byte(personas), &tr.Personas); err != nil {
		return tr, fmt.Errorf("transcript %s: bad personas column: %w", tr.ID, err)
	}
	return tr, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
