package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flowwatch/internal/event"
	logx "flowwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrations)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const eventColumns = `id, workflow_id, name, description, severity, tags, payload, services, count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*event.Event, error) {
	var (
		e                  event.Event
		desc, tags, svcs   sql.NullString
		payload, severity  string
		createdAt, updated int64
	)
	if err := r.Scan(&e.ID, &e.WorkflowID, &e.Name, &desc, &severity, &tags, &payload, &svcs, &e.Count, &createdAt, &updated); err != nil {
		return nil, err
	}
	e.Config.Description = desc.String
	e.Config.Severity = event.Severity(severity)
	if err := decodeList(tags, &e.Config.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := decodeList(svcs, &e.Services); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	e.Payload = json.RawMessage(payload)
	e.CreatedAt = time.Unix(0, createdAt)
	e.UpdatedAt = time.Unix(0, updated)
	return &e, nil
}

func (s *sqliteStore) FindLatest(ctx context.Context, workflowID, name string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE workflow_id = ? AND name = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		workflowID, name)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *sqliteStore) Insert(ctx context.Context, e *event.Event) (*event.Event, error) {
	cp := e.Clone()
	cp.Count = 1
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	if len(cp.Payload) == 0 {
		cp.Payload = json.RawMessage("null")
	}
	tags, err := encodeList(cp.Config.Tags)
	if err != nil {
		return nil, err
	}
	svcs, err := encodeList(cp.Services)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, workflow_id, name, description, severity, tags, payload, services, count, created_at, updated_at)
		 VALUES(NULLIF(?, 0),?,?,?,?,?,?,?,?,?,?)`,
		cp.ID, cp.WorkflowID, cp.Name, nullStr(cp.Config.Description), string(cp.Config.Severity), tags,
		string(cp.Payload), svcs, cp.Count, cp.CreatedAt.UnixNano(), cp.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	if cp.ID == 0 {
		if cp.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

func (s *sqliteStore) IncrementCount(ctx context.Context, id int64) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE events SET count = count + 1, updated_at = ? WHERE id = ? RETURNING `+eventColumns,
		s.now().UnixNano(), id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *sqliteStore) UpsertMapping(ctx context.Context, m event.ChannelMapping) error {
	m.ProjectID = strings.TrimSpace(m.ProjectID)
	if m.ProjectID == "" {
		return nil
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_mappings(project_id, chat_id, api_key, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(project_id) DO UPDATE SET chat_id=excluded.chat_id, api_key=excluded.api_key, created_at=excluded.created_at`,
		m.ProjectID, m.ChatID, m.APIKey, m.CreatedAt.UnixNano(),
	)
	return err
}

func (s *sqliteStore) ListMappings(ctx context.Context) ([]event.ChannelMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project_id, chat_id, api_key, created_at FROM channel_mappings ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []event.ChannelMapping
	for rows.Next() {
		var (
			m  event.ChannelMapping
			at int64
		)
		if err := rows.Scan(&m.ProjectID, &m.ChatID, &m.APIKey, &at); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(0, at)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteMapping(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_mappings WHERE project_id = ?`, projectID)
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, chatID int64) (event.Session, bool, error) {
	var (
		sess event.Session
		cmd  sql.NullString
		at   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, ephemeral_reply_id, last_command, last_command_at FROM sessions WHERE chat_id = ?`, chatID,
	).Scan(&sess.ChatID, &sess.EphemeralReplyID, &cmd, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Session{}, false, nil
	}
	if err != nil {
		return event.Session{}, false, err
	}
	sess.LastCommand = cmd.String
	if at != 0 {
		sess.LastCommandAt = time.Unix(0, at)
	}
	return sess, true, nil
}

func (s *sqliteStore) PutSession(ctx context.Context, sess event.Session) error {
	var at int64
	if !sess.LastCommandAt.IsZero() {
		at = sess.LastCommandAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(chat_id, ephemeral_reply_id, last_command, last_command_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET ephemeral_reply_id=excluded.ephemeral_reply_id,
		   last_command=excluded.last_command, last_command_at=excluded.last_command_at`,
		sess.ChatID, sess.EphemeralReplyID, nullStr(sess.LastCommand), at,
	)
	return err
}

func encodeList(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeList(v sql.NullString, out *[]string) error {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(v.String), out)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
