package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkloud/liteq/liteqerr"
)

func TestOpenCreatesFileAndSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath, time.Second, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file not created")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %s, want %s", s.Path(), dbPath)
	}

	tables := []string{"messages", "dlq"}
	for _, table := range tables {
		var name string
		err := s.WithReadTxn(context.Background(), func(tx *sql.Tx) error {
			return tx.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		})
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestWithWriteTxnCommitsAndRollsBack(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, time.Second, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	err = s.WithWriteTxn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO messages (id, queue_name, data, visible_after, retry_count, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
			"id-1", "default", []byte("x"), 0, 0)
		return err
	})
	if err != nil {
		t.Fatalf("WithWriteTxn commit path: %v", err)
	}

	boom := errors.New("boom")
	err = s.WithWriteTxn(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO messages (id, queue_name, data, visible_after, retry_count, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
			"id-2", "default", []byte("y"), 0, 0); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithWriteTxn rollback path returned %v, want %v", err, boom)
	}

	var count int
	err = s.WithReadTxn(ctx, func(tx *sql.Tx) error {
		return tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = 'id-2'`).Scan(&count)
	})
	if err != nil {
		t.Fatalf("WithReadTxn: %v", err)
	}
	if count != 0 {
		t.Errorf("rolled-back insert is visible: count = %d, want 0", count)
	}
}

func TestClassifyTxnErrMapsBusyToContention(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, time.Second, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	err = s.classifyTxnErr(errors.New("database is locked"))
	if !errors.Is(err, liteqerr.ErrContention) {
		t.Errorf("classifyTxnErr(locked) = %v, want ErrContention", err)
	}

	other := errors.New("syntax error")
	if got := s.classifyTxnErr(other); !errors.Is(got, other) {
		t.Errorf("classifyTxnErr(other) = %v, want unchanged %v", got, other)
	}
}
