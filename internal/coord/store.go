package coord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultLockTTL is how long a file lock lives without a renewing heartbeat.
const DefaultLockTTL = 15 * time.Minute

var (
	// ErrUnknownTodo is returned when a todo id does not exist for the session.
	ErrUnknownTodo = errors.New("unknown todo id")
	// ErrUnknownInterface is returned when an interface name is not registered.
	ErrUnknownInterface = errors.New("unknown interface")
	// ErrNoResponse is returned when a query receives no response before its deadline.
	ErrNoResponse = errors.New("no response before timeout")
	// ErrUnknownQuery is returned when responding to a query id that was never
	// sent or whose response window expired.
	ErrUnknownQuery = errors.New("unknown or expired query")
)

// queryWindow is how long a query id stays routable for responses.
const queryWindow = 2 * time.Minute

// SessionConflictError is returned when a session name is already registered
// under a different task.
type SessionConflictError struct {
	SessionName string
	TaskID      string
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("session %s already registered for task %s", e.SessionName, e.TaskID)
}

// LockHeldError is returned when a path is already locked by another session.
type LockHeldError struct {
	Lock models.FileLock
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("file %s locked by %s", e.Lock.FilePath, e.Lock.SessionName)
}

// InterfaceTakenError is returned when an interface name was registered by
// another session. It carries the existing definition for the caller.
type InterfaceTakenError struct {
	Existing models.InterfaceDef
}

func (e *InterfaceTakenError) Error() string {
	return fmt.Sprintf("interface %s already registered by %s", e.Existing.Name, e.Existing.SessionName)
}

// Options configures a Store.
type Options struct {
	// HeartbeatWindow overrides how long a heartbeat counts as alive.
	HeartbeatWindow time.Duration
	// LockTTL overrides how long file locks live without renewal.
	LockTTL time.Duration
	// Logger receives sweep and maintenance diagnostics.
	Logger *log.Logger
}

// Store is the coordination store. Durable aspects live in SQLite; heartbeats
// and file locks live in TTL caches keyed project:<id>:<aspect>:<subkey> so
// expiry needs no bookkeeping.
type Store struct {
	db         *DB
	heartbeats *cache.Cache
	locks      *cache.Cache
	queries    *cache.Cache
	hbWindow   time.Duration
	lockTTL    time.Duration
	logger     *log.Logger

	// lockMu serializes check-and-set sequences on the lock cache.
	lockMu sync.Mutex
}

// NewStore creates a coordination store over the given database.
func NewStore(db *DB, opts Options) *Store {
	hbWindow := opts.HeartbeatWindow
	if hbWindow <= 0 {
		hbWindow = models.HeartbeatWindow
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		db:         db,
		heartbeats: cache.New(hbWindow, time.Minute),
		locks:      cache.New(lockTTL, time.Minute),
		queries:    cache.New(queryWindow, time.Minute),
		hbWindow:   hbWindow,
		lockTTL:    lockTTL,
		logger:     logger,
	}
}

func heartbeatKey(projectID, session string) string {
	return fmt.Sprintf("project:%s:heartbeat:%s", projectID, session)
}

func lockKey(projectID, path string) string {
	return fmt.Sprintf("project:%s:lock:%s", projectID, path)
}

func lockKeyPrefix(projectID string) string {
	return fmt.Sprintf("project:%s:lock:", projectID)
}

func queryKey(projectID, queryID string) string {
	return fmt.Sprintf("project:%s:query:%s", projectID, queryID)
}

// RegisterAgent creates or refreshes an agent record and writes the initial
// heartbeat. A session may re-register for the same task (the record and
// started-at reset); registering under a different task is rejected.
func (s *Store) RegisterAgent(projectID, session, taskID, branch, description string) (*models.AgentRecord, error) {
	rec := &models.AgentRecord{
		SessionName: session,
		ProjectID:   projectID,
		TaskID:      taskID,
		Branch:      branch,
		Description: description,
		Status:      models.AgentStatusActive,
		StartedAt:   time.Now().UTC(),
	}

	err := s.db.Transaction(func(tx *sql.Tx) error {
		var existingTask string
		row := tx.QueryRow(`SELECT task_id FROM agents WHERE project_id = ? AND session_name = ?`, projectID, session)
		err := row.Scan(&existingTask)
		switch {
		case err == nil:
			if existingTask != taskID {
				return &SessionConflictError{SessionName: session, TaskID: existingTask}
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("look up agent %s: %w", session, err)
		}

		_, err = tx.Exec(`
			INSERT INTO agents (project_id, session_name, task_id, branch, description, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, session_name) DO UPDATE SET
				task_id = excluded.task_id,
				branch = excluded.branch,
				description = excluded.description,
				status = excluded.status,
				started_at = excluded.started_at
		`, projectID, session, taskID, branch, description, string(rec.Status), formatTime(rec.StartedAt))
		if err != nil {
			return fmt.Errorf("register agent %s: %w", session, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.heartbeats.Set(heartbeatKey(projectID, session), time.Now(), s.hbWindow)
	return rec, nil
}

// UnregisterAgent deletes the agent record, its todos, and its inbox, and
// releases its locks. Idempotent: unknown sessions are a no-op.
func (s *Store) UnregisterAgent(projectID, session string) error {
	err := s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM agents WHERE project_id = ? AND session_name = ?`, projectID, session); err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM todos WHERE project_id = ? AND session_name = ?`, projectID, session); err != nil {
			return fmt.Errorf("delete todos: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE project_id = ? AND to_session = ?`, projectID, session); err != nil {
			return fmt.Errorf("delete inbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unregister agent %s: %w", session, err)
	}

	s.heartbeats.Delete(heartbeatKey(projectID, session))
	s.ReleaseAllLocks(projectID, session)
	return nil
}

// Heartbeat refreshes the session's liveness timestamp and renews the TTL on
// every lock it holds. Unknown sessions are accepted; registration may race
// the first heartbeat.
func (s *Store) Heartbeat(projectID, session string) {
	s.heartbeats.Set(heartbeatKey(projectID, session), time.Now(), s.hbWindow)
	s.renewLocks(projectID, session)
}

func (s *Store) renewLocks(projectID, session string) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	prefix := lockKeyPrefix(projectID)
	for key, item := range s.locks.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		lock, ok := item.Object.(models.FileLock)
		if !ok || lock.SessionName != session {
			continue
		}
		s.locks.Set(key, lock, s.lockTTL)
	}
}

// Alive reports whether the session has a heartbeat inside the liveness window.
func (s *Store) Alive(projectID, session string) bool {
	_, ok := s.heartbeats.Get(heartbeatKey(projectID, session))
	return ok
}

// ListAgents returns every registered agent record for the project.
func (s *Store) ListAgents(projectID string) ([]models.AgentRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_name, task_id, branch, description, status, started_at
		FROM agents WHERE project_id = ? ORDER BY session_name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.AgentRecord
	for rows.Next() {
		var rec models.AgentRecord
		var status, startedAt string
		if err := rows.Scan(&rec.SessionName, &rec.TaskID, &rec.Branch, &rec.Description, &status, &startedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		rec.ProjectID = projectID
		rec.Status = models.AgentStatus(status)
		if t, perr := parseTime(startedAt); perr == nil {
			rec.StartedAt = t
		}
		agents = append(agents, rec)
	}
	return agents, rows.Err()
}

// ListActiveAgents returns registered agents whose heartbeat is alive.
func (s *Store) ListActiveAgents(projectID string) ([]models.AgentRecord, error) {
	all, err := s.ListAgents(projectID)
	if err != nil {
		return nil, err
	}
	var active []models.AgentRecord
	for _, a := range all {
		if s.Alive(projectID, a.SessionName) {
			active = append(active, a)
		}
	}
	return active, nil
}

// GetAgent returns the registration for one session, if present.
func (s *Store) GetAgent(projectID, session string) (*models.AgentRecord, bool, error) {
	row := s.db.QueryRow(`
		SELECT session_name, task_id, branch, description, status, started_at
		FROM agents WHERE project_id = ? AND session_name = ?
	`, projectID, session)

	var rec models.AgentRecord
	var status, startedAt string
	err := row.Scan(&rec.SessionName, &rec.TaskID, &rec.Branch, &rec.Description, &status, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get agent %s: %w", session, err)
	}
	rec.ProjectID = projectID
	rec.Status = models.AgentStatus(status)
	if t, perr := parseTime(startedAt); perr == nil {
		rec.StartedAt = t
	}
	return &rec, true, nil
}

// UpdateAgentStatus sets the agent record status. Unknown sessions are a no-op.
func (s *Store) UpdateAgentStatus(projectID, session string, status models.AgentStatus) error {
	_, err := s.db.Exec(`UPDATE agents SET status = ? WHERE project_id = ? AND session_name = ?`,
		string(status), projectID, session)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return nil
}

// AddTodo appends a todo to the session's list and returns it with its id.
func (s *Store) AddTodo(projectID, session, text string, priority int) (*models.Todo, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO todos (project_id, session_name, text, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, projectID, session, text, string(models.TodoStatusPending), priority, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("add todo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("todo id: %w", err)
	}
	return &models.Todo{
		ID:          strconv.FormatInt(id, 10),
		SessionName: session,
		Text:        text,
		Status:      models.TodoStatusPending,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// UpdateTodo sets the status of one of the session's todos.
func (s *Store) UpdateTodo(projectID, session, todoID string, status models.TodoStatus) error {
	id, err := strconv.ParseInt(todoID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownTodo, todoID)
	}
	res, err := s.db.Exec(`
		UPDATE todos SET status = ?, updated_at = ?
		WHERE id = ? AND project_id = ? AND session_name = ?
	`, string(status), formatTime(time.Now()), id, projectID, session)
	if err != nil {
		return fmt.Errorf("update todo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update todo: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTodo, todoID)
	}
	return nil
}

// SessionTodos returns the session's todos in creation order.
func (s *Store) SessionTodos(projectID, session string) ([]models.Todo, error) {
	return s.queryTodos(`
		SELECT id, session_name, text, status, priority, created_at, updated_at
		FROM todos WHERE project_id = ? AND session_name = ? ORDER BY id
	`, projectID, session)
}

// AllTodos returns every session's todos for the project.
func (s *Store) AllTodos(projectID string) ([]models.Todo, error) {
	return s.queryTodos(`
		SELECT id, session_name, text, status, priority, created_at, updated_at
		FROM todos WHERE project_id = ? ORDER BY session_name, id
	`, projectID)
}

func (s *Store) queryTodos(query string, args ...any) ([]models.Todo, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var todos []models.Todo
	for rows.Next() {
		var t models.Todo
		var id int64
		var status, createdAt, updatedAt string
		if err := rows.Scan(&id, &t.SessionName, &t.Text, &status, &t.Priority, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		t.ID = strconv.FormatInt(id, 10)
		t.Status = models.TodoStatus(status)
		if ts, perr := parseTime(createdAt); perr == nil {
			t.CreatedAt = ts
		}
		if ts, perr := parseTime(updatedAt); perr == nil {
			t.UpdatedAt = ts
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// AcquireLock claims a path for the session. Re-acquiring by the holder
// refreshes the TTL; a claim on a path held by another session fails with
// LockHeldError carrying the current holder.
func (s *Store) AcquireLock(projectID, session, path string, op models.FileOperation, description string) (*models.FileLock, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	key := lockKey(projectID, path)
	if v, ok := s.locks.Get(key); ok {
		held := v.(models.FileLock)
		if held.SessionName != session {
			return nil, &LockHeldError{Lock: held}
		}
	}

	lock := models.FileLock{
		FilePath:    path,
		SessionName: session,
		Operation:   op,
		Description: description,
		AcquiredAt:  time.Now().UTC(),
	}
	s.locks.Set(key, lock, s.lockTTL)
	return &lock, nil
}

// AnnounceFileChange acquires the lock and appends to the change log.
func (s *Store) AnnounceFileChange(projectID, session, path string, op models.FileOperation, description string) (*models.FileLock, error) {
	lock, err := s.AcquireLock(projectID, session, path, op, description)
	if err != nil {
		return nil, err
	}
	if err := s.RecordChange(projectID, session, path, op, description); err != nil {
		return nil, err
	}
	return lock, nil
}

// ReleaseLock releases the lock on path if held by session. Returns true if
// a lock was released; holder mismatches and absent locks are a no-op.
func (s *Store) ReleaseLock(projectID, session, path string) bool {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	key := lockKey(projectID, path)
	v, ok := s.locks.Get(key)
	if !ok {
		return false
	}
	if lock, ok := v.(models.FileLock); !ok || lock.SessionName != session {
		return false
	}
	s.locks.Delete(key)
	return true
}

// ReleaseAllLocks releases every lock held by the session and returns the count.
func (s *Store) ReleaseAllLocks(projectID, session string) int {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	prefix := lockKeyPrefix(projectID)
	released := 0
	for key, item := range s.locks.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		lock, ok := item.Object.(models.FileLock)
		if !ok || lock.SessionName != session {
			continue
		}
		s.locks.Delete(key)
		released++
	}
	return released
}

// CheckLock returns the current lock on path, if any.
func (s *Store) CheckLock(projectID, path string) (models.FileLock, bool) {
	v, ok := s.locks.Get(lockKey(projectID, path))
	if !ok {
		return models.FileLock{}, false
	}
	lock, ok := v.(models.FileLock)
	return lock, ok
}

// ProjectLocks returns every held lock for the project, sorted by path.
func (s *Store) ProjectLocks(projectID string) []models.FileLock {
	prefix := lockKeyPrefix(projectID)
	var locks []models.FileLock
	for key, item := range s.locks.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if lock, ok := item.Object.(models.FileLock); ok {
			locks = append(locks, lock)
		}
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].FilePath < locks[j].FilePath })
	return locks
}

// RecordChange appends one entry to the project's change log.
func (s *Store) RecordChange(projectID, session, path string, op models.FileOperation, description string) error {
	_, err := s.db.Exec(`
		INSERT INTO changes (project_id, session_name, file_path, operation, description, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, projectID, session, path, string(op), description, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	return nil
}

// RecentChanges returns change log entries inside the window, newest first.
func (s *Store) RecentChanges(projectID string, window time.Duration) ([]models.FileChange, error) {
	cutoff := formatTime(time.Now().Add(-window))
	rows, err := s.db.Query(`
		SELECT session_name, file_path, operation, description, changed_at
		FROM changes WHERE project_id = ? AND changed_at > ?
		ORDER BY changed_at DESC, seq DESC
	`, projectID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("recent changes: %w", err)
	}
	defer rows.Close()

	var changes []models.FileChange
	for rows.Next() {
		var c models.FileChange
		var op, changedAt string
		if err := rows.Scan(&c.SessionName, &c.FilePath, &op, &c.Description, &changedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Operation = models.FileOperation(op)
		if t, perr := parseTime(changedAt); perr == nil {
			c.ChangedAt = t
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// RegisterInterface stores a shared definition. The author session may
// redefine its own interface; any other session gets InterfaceTakenError
// carrying the existing definition.
func (s *Store) RegisterInterface(projectID, session, name, definition, description string) (*models.InterfaceDef, error) {
	now := time.Now().UTC()
	def := &models.InterfaceDef{
		Name:         name,
		Definition:   definition,
		Description:  description,
		SessionName:  session,
		RegisteredAt: now,
	}

	err := s.db.Transaction(func(tx *sql.Tx) error {
		var existing models.InterfaceDef
		var registeredAt string
		row := tx.QueryRow(`
			SELECT definition, description, session_name, registered_at
			FROM interfaces WHERE project_id = ? AND name = ?
		`, projectID, name)
		err := row.Scan(&existing.Definition, &existing.Description, &existing.SessionName, &registeredAt)
		switch {
		case err == nil:
			if existing.SessionName != session {
				existing.Name = name
				if t, perr := parseTime(registeredAt); perr == nil {
					existing.RegisteredAt = t
				}
				return &InterfaceTakenError{Existing: existing}
			}
			_, err := tx.Exec(`
				UPDATE interfaces SET definition = ?, description = ?, registered_at = ?
				WHERE project_id = ? AND name = ?
			`, definition, description, formatTime(now), projectID, name)
			return err
		case errors.Is(err, sql.ErrNoRows):
			_, err := tx.Exec(`
				INSERT INTO interfaces (project_id, name, definition, description, session_name, registered_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, projectID, name, definition, description, session, formatTime(now))
			return err
		default:
			return fmt.Errorf("look up interface %s: %w", name, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

// GetInterface returns the definition registered under name.
func (s *Store) GetInterface(projectID, name string) (*models.InterfaceDef, error) {
	row := s.db.QueryRow(`
		SELECT name, definition, description, session_name, registered_at
		FROM interfaces WHERE project_id = ? AND name = ?
	`, projectID, name)

	var def models.InterfaceDef
	var registeredAt string
	err := row.Scan(&def.Name, &def.Definition, &def.Description, &def.SessionName, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get interface %s: %w", name, err)
	}
	if t, perr := parseTime(registeredAt); perr == nil {
		def.RegisteredAt = t
	}
	return &def, nil
}

// ListInterfaces returns every registered definition, sorted by name.
func (s *Store) ListInterfaces(projectID string) ([]models.InterfaceDef, error) {
	rows, err := s.db.Query(`
		SELECT name, definition, description, session_name, registered_at
		FROM interfaces WHERE project_id = ? ORDER BY name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	defer rows.Close()

	var defs []models.InterfaceDef
	for rows.Next() {
		var def models.InterfaceDef
		var registeredAt string
		if err := rows.Scan(&def.Name, &def.Definition, &def.Description, &def.SessionName, &registeredAt); err != nil {
			return nil, fmt.Errorf("scan interface: %w", err)
		}
		if t, perr := parseTime(registeredAt); perr == nil {
			def.RegisteredAt = t
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// SendMessage enqueues a message in the recipient's inbox.
func (s *Store) SendMessage(projectID, from, to string, typ models.MessageType, body, replyTo string) (*models.Message, error) {
	msg := &models.Message{
		ID:          uuid.New().String(),
		FromSession: from,
		ToSession:   to,
		Type:        typ,
		Body:        body,
		ReplyTo:     replyTo,
		SentAt:      time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (message_id, project_id, from_session, to_session, type, body, reply_to, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, projectID, from, to, string(typ), body, replyTo, formatTime(msg.SentAt))
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// SendQuery enqueues a query in the target's inbox and records its routing so
// a response can find its way back to the asker.
func (s *Store) SendQuery(projectID, from, target, body string) (*models.Message, error) {
	msg, err := s.SendMessage(projectID, from, target, models.MessageTypeQuery, body, "")
	if err != nil {
		return nil, err
	}
	s.queries.Set(queryKey(projectID, msg.ID), from, cache.DefaultExpiration)
	return msg, nil
}

// RespondToQuery enqueues a response in the asker's inbox, correlated to the
// query id. Fails with ErrUnknownQuery when the routing entry has expired.
func (s *Store) RespondToQuery(projectID, from, queryID, body string) (*models.Message, error) {
	v, ok := s.queries.Get(queryKey(projectID, queryID))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, queryID)
	}
	asker, _ := v.(string)
	return s.SendMessage(projectID, from, asker, models.MessageTypeResponse, body, queryID)
}

// Broadcast enqueues the message to every other registered session.
// Returns the number of recipients.
func (s *Store) Broadcast(projectID, from string, typ models.MessageType, body string) (int, error) {
	agents, err := s.ListAgents(projectID)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, a := range agents {
		if a.SessionName == from {
			continue
		}
		if _, err := s.SendMessage(projectID, from, a.SessionName, typ, body, ""); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// DrainMessages removes and returns the session's inbox in FIFO order.
func (s *Store) DrainMessages(projectID, session string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT seq, message_id, from_session, to_session, type, body, reply_to, sent_at
			FROM messages WHERE project_id = ? AND to_session = ? ORDER BY seq
		`, projectID, session)
		if err != nil {
			return err
		}

		var maxSeq int64
		for rows.Next() {
			var seq int64
			var m models.Message
			var typ, sentAt string
			if err := rows.Scan(&seq, &m.ID, &m.FromSession, &m.ToSession, &typ, &m.Body, &m.ReplyTo, &sentAt); err != nil {
				rows.Close()
				return err
			}
			m.Type = models.MessageType(typ)
			if t, perr := parseTime(sentAt); perr == nil {
				m.SentAt = t
			}
			msgs = append(msgs, m)
			maxSeq = seq
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(msgs) == 0 {
			return nil
		}
		_, err = tx.Exec(`DELETE FROM messages WHERE project_id = ? AND to_session = ? AND seq <= ?`,
			projectID, session, maxSeq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("drain messages for %s: %w", session, err)
	}
	return msgs, nil
}

// TakeResponse removes and returns the first message in the session's inbox
// correlated to queryID, if one has arrived.
func (s *Store) TakeResponse(projectID, session, queryID string) (*models.Message, bool, error) {
	var msg models.Message
	found := false
	err := s.db.Transaction(func(tx *sql.Tx) error {
		var seq int64
		var typ, sentAt string
		row := tx.QueryRow(`
			SELECT seq, message_id, from_session, to_session, type, body, reply_to, sent_at
			FROM messages WHERE project_id = ? AND to_session = ? AND reply_to = ?
			ORDER BY seq LIMIT 1
		`, projectID, session, queryID)
		err := row.Scan(&seq, &msg.ID, &msg.FromSession, &msg.ToSession, &typ, &msg.Body, &msg.ReplyTo, &sentAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		msg.Type = models.MessageType(typ)
		if t, perr := parseTime(sentAt); perr == nil {
			msg.SentAt = t
		}
		found = true
		_, err = tx.Exec(`DELETE FROM messages WHERE seq = ?`, seq)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("take response: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &msg, true, nil
}

// WaitResponse polls the session's inbox for a response correlated to queryID
// until one arrives or the timeout passes.
func (s *Store) WaitResponse(ctx context.Context, projectID, session, queryID string, timeout time.Duration) (*models.Message, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		msg, ok, err := s.TakeResponse(projectID, session, queryID)
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNoResponse
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// MarkTaskCompleted writes the completion notice for the task. Re-announcing
// overwrites the notice.
func (s *Store) MarkTaskCompleted(projectID, session, taskID string) error {
	_, err := s.db.Exec(`
		INSERT INTO completions (project_id, task_id, session_name, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, task_id) DO UPDATE SET
			session_name = excluded.session_name,
			completed_at = excluded.completed_at
	`, projectID, taskID, session, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	return nil
}

// TakeCompletion consumes the completion notice for the task, if present.
func (s *Store) TakeCompletion(projectID, taskID string) (*models.CompletionNotice, bool, error) {
	var notice models.CompletionNotice
	found := false
	err := s.db.Transaction(func(tx *sql.Tx) error {
		var completedAt string
		row := tx.QueryRow(`
			SELECT session_name, completed_at FROM completions
			WHERE project_id = ? AND task_id = ?
		`, projectID, taskID)
		err := row.Scan(&notice.SessionName, &completedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		notice.TaskID = taskID
		if t, perr := parseTime(completedAt); perr == nil {
			notice.CompletedAt = t
		}
		found = true
		_, err = tx.Exec(`DELETE FROM completions WHERE project_id = ? AND task_id = ?`, projectID, taskID)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("take completion: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &notice, true, nil
}

// ClearProject removes every durable and cached record for the project.
func (s *Store) ClearProject(projectID string) error {
	err := s.db.Transaction(func(tx *sql.Tx) error {
		for _, table := range []string{"agents", "todos", "interfaces", "messages", "completions", "changes"} {
			if _, err := tx.Exec("DELETE FROM "+table+" WHERE project_id = ?", projectID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear project %s: %w", projectID, err)
	}

	prefix := fmt.Sprintf("project:%s:", projectID)
	for key := range s.heartbeats.Items() {
		if strings.HasPrefix(key, prefix) {
			s.heartbeats.Delete(key)
		}
	}
	for key := range s.queries.Items() {
		if strings.HasPrefix(key, prefix) {
			s.queries.Delete(key)
		}
	}
	s.lockMu.Lock()
	for key := range s.locks.Items() {
		if strings.HasPrefix(key, prefix) {
			s.locks.Delete(key)
		}
	}
	s.lockMu.Unlock()
	return nil
}

// Stats assembles a point-in-time coordination snapshot for the project.
func (s *Store) Stats(projectID string) (*models.CoordinationStats, error) {
	stats := &models.CoordinationStats{
		ProjectID: projectID,
		TakenAt:   time.Now().UTC(),
	}

	active, err := s.ListActiveAgents(projectID)
	if err != nil {
		return nil, err
	}
	stats.ActiveAgents = len(active)

	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0)
		FROM todos WHERE project_id = ?
	`, projectID)
	if err := row.Scan(&stats.TotalTodos, &stats.CompletedTodos); err != nil {
		return nil, fmt.Errorf("count todos: %w", err)
	}

	row = s.db.QueryRow(`SELECT COUNT(*) FROM interfaces WHERE project_id = ?`, projectID)
	if err := row.Scan(&stats.Interfaces); err != nil {
		return nil, fmt.Errorf("count interfaces: %w", err)
	}

	stats.FileLocks = s.ProjectLocks(projectID)
	return stats, nil
}
