package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	store := newSQLiteCommentStore(newTestDB(t))
	ctx := context.Background()

	cm, err := store.append(ctx, "issue-42", "u-alice", "Alice", "a perfectly fine comment")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if cm.ID == 0 {
		t.Error("append did not assign an id")
	}
	if cm.CreatedAt.IsZero() {
		t.Error("append did not assign a timestamp")
	}
	if cm.IssueID != "issue-42" || cm.AuthorID != "u-alice" || cm.AuthorName != "Alice" {
		t.Errorf("comment fields wrong: %+v", cm)
	}

	next, err := store.append(ctx, "issue-42", "u-bob", "Bob", "another perfectly fine comment")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if next.ID <= cm.ID {
		t.Errorf("ids not increasing: %d then %d", cm.ID, next.ID)
	}
}

func TestReadAllReturnsCommentsInAppendOrder(t *testing.T) {
	store := newSQLiteCommentStore(newTestDB(t))
	ctx := context.Background()

	bodies := []string{"the first comment body", "the second comment body", "the third comment body"}
	for _, body := range bodies {
		if _, err := store.append(ctx, "issue-7", "u-alice", "Alice", body); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	cms, err := store.readAll(ctx, "issue-7")
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(cms) != len(bodies) {
		t.Fatalf("readAll = %d comments, want %d", len(cms), len(bodies))
	}
	for i, cm := range cms {
		if cm.Body != bodies[i] {
			t.Errorf("comment %d body = %q, want %q", i, cm.Body, bodies[i])
		}
	}
}

func TestReadAllIsScopedToIssue(t *testing.T) {
	store := newSQLiteCommentStore(newTestDB(t))
	ctx := context.Background()

	if _, err := store.append(ctx, "issue-1", "u-alice", "Alice", "a comment on the first issue"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.append(ctx, "issue-2", "u-bob", "Bob", "a comment on the second issue"); err != nil {
		t.Fatalf("append: %v", err)
	}

	cms, err := store.readAll(ctx, "issue-1")
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(cms) != 1 {
		t.Fatalf("readAll = %d comments, want 1", len(cms))
	}
	if cms[0].IssueID != "issue-1" {
		t.Errorf("comment issue = %q, want issue-1", cms[0].IssueID)
	}
}

func TestReadAllEmptyIssue(t *testing.T) {
	store := newSQLiteCommentStore(newTestDB(t))

	cms, err := store.readAll(context.Background(), "issue-404")
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(cms) != 0 {
		t.Errorf("readAll = %d comments, want 0", len(cms))
	}
}
