// Package msglog keeps an optional sqlite-backed log of inbound messages so
// operators can inspect recent traffic per session.
package msglog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type Entry struct {
	Session      string `json:"session"`
	From         string `json:"from"`
	Body         string `json:"body"`
	ReceivedAtMs int64  `json:"receivedAtMs"`
}

type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("message log: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			session TEXT NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			received_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_session ON messages(session, received_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "message log: migrate")
		}
	}
	return nil
}

// Append records one inbound message.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return errors.New("message log: db is nil")
	}
	if strings.TrimSpace(e.Session) == "" {
		return errors.New("message log: session is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if e.ReceivedAtMs <= 0 {
		e.ReceivedAtMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(session, sender, body, received_at_ms)
		VALUES(?, ?, ?, ?)
	`, e.Session, e.From, e.Body, e.ReceivedAtMs)
	if err != nil {
		return errors.Wrap(err, "message log: insert")
	}
	return nil
}

// List returns the most recent entries for one session, newest first.
func (s *Store) List(ctx context.Context, session string, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("message log: db is nil")
	}
	if strings.TrimSpace(session) == "" {
		return nil, errors.New("message log: session is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, sender, body, received_at_ms
		FROM messages
		WHERE session = ?
		ORDER BY received_at_ms DESC
		LIMIT ?
	`, session, limit)
	if err != nil {
		return nil, errors.Wrap(err, "message log: query")
	}
	defer func() { _ = rows.Close() }()

	items := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Session, &e.From, &e.Body, &e.ReceivedAtMs); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// DSNForFile derives a sqlite DSN with sane defaults from a file path.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("message log: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}
