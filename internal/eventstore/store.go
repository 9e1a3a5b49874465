// Package eventstore persists the presentation timeline: per-session
// rows of what was navigated to, asked, answered and spoken. Retention
// is configurable from fully ephemeral (no database at all) to
// persistent with day and session caps.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/elexicoai/elexico-core/internal/config"
	_ "modernc.org/sqlite"
)

// Timeline event types recorded per presentation session.
const (
	EventSlideChange     = "deck.slide_change"
	EventTranscriptFinal = "speech.transcript_final"
	EventChatQuestion    = "chat.question"
	EventChatReply       = "chat.reply"
	EventPlaybackDone    = "speech.playback_done"
)

// ConversationTypes selects the question/answer exchange out of a
// session timeline.
var ConversationTypes = []string{EventChatQuestion, EventChatReply}

// Event is one recorded timeline entry; Type is one of the Event*
// constants. Payload holds the bus message that produced the entry, so
// the timeline replays exactly what the surfaces saw.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	TraceID   string          `json:"trace_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// TimelineQuery narrows a timeline read. Zero values mean "everything,
// up to the default limit".
type TimelineQuery struct {
	Types []string
	Limit int
}

const defaultTimelineLimit = 200

// Store is the SQLite-backed session timeline. In ephemeral retention
// mode it holds no database and every write is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the timeline store according to config.
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

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
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
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("timeline vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("timeline prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    last_event_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS timeline (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    trace_id TEXT,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_timeline_session_created ON timeline(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_timeline_type ON timeline(event_type);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartSession ensures a session row exists; a repeat call for the same
// session is a no-op, so reconnecting viewers keep their timeline.
func (s *Store) StartSession(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, s.clock().UTC())
	return err
}

// Append writes one event and advances the session's last activity.
func (s *Store) Append(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timeline(session_id, trace_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.SessionID, evt.TraceID, evt.Type, []byte(evt.Payload), evt.CreatedAt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET last_event_at = ? WHERE session_id = ?`,
		evt.CreatedAt, evt.SessionID)
	return err
}

// Timeline reads a session's events oldest first, optionally narrowed
// to the given event types.
func (s *Store) Timeline(ctx context.Context, sessionID string, q TimelineQuery) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if q.Limit <= 0 {
		q.Limit = defaultTimelineLimit
	}

	query := `SELECT id, session_id, trace_id, event_type, payload, created_at
	 FROM timeline WHERE session_id = ?`
	args := []any{sessionID}
	if len(q.Types) > 0 {
		query += ` AND event_type IN (?` + strings.Repeat(",?", len(q.Types)-1) + `)`
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload []byte
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.TraceID, &e.Type, &payload, &created); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Conversation reads only the question/answer exchange of a session.
func (s *Store) Conversation(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	return s.Timeline(ctx, sessionID, TimelineQuery{Types: ConversationTypes, Limit: limit})
}

// Prune applies configured retention: events and sessions older than
// the day cap go first, then the oldest sessions past the session cap.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
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
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM timeline WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		stale := `SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?`
		if _, err = tx.ExecContext(ctx, `DELETE FROM timeline WHERE session_id IN (`+stale+`)`, s.cfg.MaxSessions); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (`+stale+`)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
