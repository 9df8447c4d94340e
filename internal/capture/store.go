// Package capture persists pipe traffic to SQLite so sessions can be
// inspected or replayed later.
package capture

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/mitchellh/go-homedir"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Direction records which way a packet travelled.
type Direction string

const (
	Inbound  Direction = "rx"
	Outbound Direction = "tx"
)

// Record is one captured packet.
type Record struct {
	Seq        int64
	SessionID  string
	Direction  Direction
	Packet     protocol.Packet
	CapturedAt time.Time
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the capture database at path. A leading ~ is
// expanded.
func Open(path string) (*Store, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("capture: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	return newStore(db)
}

// OpenMemory opens a throwaway in-memory store.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("capture: open memory: %w", err)
	}
	// every pooled connection would otherwise get its own empty database
	db.SetMaxOpenConns(1)
	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("capture: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// migrate applies every embedded migration newer than the database's
// user_version, in file name order.
func migrate(db *sql.DB) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	var current int
	if err := db.QueryRow("pragma user_version").Scan(&current); err != nil {
		return err
	}
	for i, name := range names {
		version := i + 1
		if version <= current {
			continue
		}
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("pragma user_version = %d", version)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores p under sessionID.
func (s *Store) Append(ctx context.Context, sessionID string, dir Direction, p protocol.Packet) error {
	_, err := s.db.ExecContext(ctx,
		`insert into packets(session_id, direction, header, family, packet_id, length, payload, captured_at)
		 values (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(dir), int64(p.Header), int64(p.Family()), int64(p.ID()), int64(p.Length), p.Payload,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("capture: append: %w", err)
	}
	return nil
}

// List returns every packet captured for sessionID in capture order.
func (s *Store) List(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`select seq, session_id, direction, header, length, payload, captured_at
		 from packets where session_id = ? order by seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("capture: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			dir        string
			header     int64
			length     int64
			payload    []byte
			capturedAt int64
		)
		if err := rows.Scan(&r.Seq, &r.SessionID, &dir, &header, &length, &payload, &capturedAt); err != nil {
			return nil, fmt.Errorf("capture: scan: %w", err)
		}
		if payload == nil {
			payload = []byte{}
		}
		r.Direction = Direction(dir)
		r.Packet = protocol.Packet{Header: uint32(header), Length: uint32(length), Payload: payload}
		r.CapturedAt = time.Unix(0, capturedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions lists the distinct session ids in first-seen order.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select session_id from packets group by session_id order by min(seq)`)
	if err != nil {
		return nil, fmt.Errorf("capture: sessions: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
