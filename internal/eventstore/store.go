package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-bouyomi/internal/config"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so created_at orders correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Outcome values recorded for a command.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Command is one recorded exchange with BouyomiChan.
type Command struct {
	ID        string
	SessionID string
	TraceID   string
	Name      string
	Text      string
	Voice     []byte
	Outcome   string
	Error     string
	CreatedAt time.Time
}

// Store wraps a SQLite-backed command history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. In ephemeral mode no
// database is opened and every call is a no-op.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS commands (
    id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    session_id TEXT,
    trace_id TEXT,
    command TEXT NOT NULL,
    text TEXT,
    voice BLOB,
    outcome TEXT NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_seq ON commands(seq);
CREATE INDEX IF NOT EXISTS idx_commands_created ON commands(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record writes a command into the history and returns its ID.
func (s *Store) Record(ctx context.Context, cmd Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return cmd.ID, nil
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands(id, seq, session_id, trace_id, command, text, voice, outcome, error, created_at)
		 VALUES(?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM commands), ?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.SessionID, cmd.TraceID, cmd.Name, cmd.Text, cmd.Voice, cmd.Outcome, cmd.Error, cmd.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return cmd.ID, fmt.Errorf("record command: %w", err)
	}
	return cmd.ID, nil
}

// List returns up to limit commands, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Command, error) {
	if s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, trace_id, command, text, voice, outcome, error, created_at
		 FROM commands ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		var (
			c       Command
			created string
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.TraceID, &c.Name, &c.Text, &c.Voice, &c.Outcome, &c.Error, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(timeLayout, created); err == nil {
			c.CreatedAt = ts
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM commands WHERE created_at < ?`, cutoff.UTC().Format(timeLayout)); err != nil {
			return err
		}
	}
	if s.cfg.MaxCommands > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM commands WHERE id IN (
			SELECT id FROM commands ORDER BY seq DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxCommands)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
