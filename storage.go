package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// comment is one immutable entry in an issue's comment log. The id and
// timestamp are assigned by the store, never by the client.
type comment struct {
	ID         int64
	IssueID    string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

// commentStore is the durable comment log, keyed by issue id. An append is
// atomic: the comment is either fully persisted or absent. Implementations
// must be safe for concurrent use.
type commentStore interface {
	append(ctx context.Context, issueID, authorID, authorName, body string) (comment, error)
	readAll(ctx context.Context, issueID string) ([]comment, error)
}

func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	const usersTable = `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        email TEXT NOT NULL UNIQUE,
        display_name TEXT NOT NULL,
        password_hash BLOB NOT NULL,
        created_at TIMESTAMP NOT NULL
    );`
	if _, err := db.ExecContext(ctx, usersTable); err != nil {
		return err
	}

	const tokensTable = `
    CREATE TABLE IF NOT EXISTS tokens (
        token TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        origin_hint TEXT NOT NULL,
        expires_at TIMESTAMP NOT NULL,
        created_at TIMESTAMP NOT NULL,
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
    );`
	if _, err := db.ExecContext(ctx, tokensTable); err != nil {
		return err
	}

	// Comments carry the author id and display name as captured at post
	// time; no foreign key, the identity contract is external to the log.
	const commentsTable = `
    CREATE TABLE IF NOT EXISTS comments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        issue_id TEXT NOT NULL,
        author_id TEXT NOT NULL,
        author_name TEXT NOT NULL,
        body TEXT NOT NULL,
        created_at TIMESTAMP NOT NULL
    );`
	if _, err := db.ExecContext(ctx, commentsTable); err != nil {
		return err
	}

	const commentsIndex = `
    CREATE INDEX IF NOT EXISTS comments_issue_idx ON comments(issue_id, id);`
	if _, err := db.ExecContext(ctx, commentsIndex); err != nil {
		return err
	}

	return nil
}

type sqliteCommentStore struct {
	db *sql.DB
}

func newSQLiteCommentStore(db *sql.DB) *sqliteCommentStore {
	return &sqliteCommentStore{db: db}
}

func (s *sqliteCommentStore) append(ctx context.Context, issueID, authorID, authorName, body string) (comment, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO comments (issue_id, author_id, author_name, body, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, issueID, authorID, authorName, body, now)
	if err != nil {
		return comment{}, fmt.Errorf("insert comment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return comment{}, fmt.Errorf("comment id: %w", err)
	}

	return comment{
		ID:         id,
		IssueID:    issueID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Body:       body,
		CreatedAt:  now,
	}, nil
}

func (s *sqliteCommentStore) readAll(ctx context.Context, issueID string) ([]comment, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, issue_id, author_id, author_name, body, created_at
        FROM comments
        WHERE issue_id = ?
        ORDER BY id ASC
    `, issueID)
	if err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}
	defer rows.Close()

	var cms []comment
	for rows.Next() {
		var cm comment
		if err := rows.Scan(&cm.ID, &cm.IssueID, &cm.AuthorID, &cm.AuthorName, &cm.Body, &cm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		cms = append(cms, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}

	return cms, nil
}
