// Package localstore keeps the agent's mirror of server tasks in a local
// SQLite database so a task is executed at most once per agent, even across
// overlapping runs and restarts.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fleetsync/inventory/internal/logging"
	"github.com/fleetsync/inventory/pkg/api"
)

var log = logging.L("localstore")

const schema = `
CREATE TABLE IF NOT EXISTS task (
	id            INTEGER PRIMARY KEY,
	task          TEXT    NOT NULL,
	time_start    INTEGER,
	time_download INTEGER NOT NULL,
	status        INTEGER NOT NULL,
	result        TEXT,
	finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_task_status ON task (status);
`

// ErrNotFound is returned for an id the queue does not hold.
var ErrNotFound = errors.New("task not in local queue")

// Entry is one mirrored task.
type Entry struct {
	ID           int64           `json:"id" yaml:"id"`
	Task         json.RawMessage `json:"task" yaml:"-"`
	Name         string          `json:"name" yaml:"name"`
	TimeStart    *time.Time      `json:"time_start,omitempty" yaml:"time_start,omitempty"`
	TimeDownload time.Time       `json:"time_download" yaml:"time_download"`
	Status       api.TaskStatus  `json:"status" yaml:"status"`
	Result       json.RawMessage `json:"result,omitempty" yaml:"-"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Queue is the agent's local task table.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the queue database at path.
func Open(path string) (*Queue, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open task queue: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task queue tables: %w", err)
	}

	log.Debug("task queue opened", "path", path)
	return &Queue{db: db, now: time.Now}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue mirrors a fetched task in state Downloaded. It reports false when
// the id is already known, whatever its local state.
func (q *Queue) Enqueue(ctx context.Context, t api.Task) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO task (id, task, time_start, time_download, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, string(t.Task), unixOrNil(t.TimeStart), q.now().Unix(), int(api.TaskDownloaded))
	if err != nil {
		return false, fmt.Errorf("enqueue task %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue task %d: %w", t.ID, err)
	}
	return n == 1, nil
}

// Pending returns Downloaded tasks whose start time has passed, oldest id
// first.
func (q *Queue) Pending(ctx context.Context, now time.Time) ([]Entry, error) {
	return q.query(ctx, `
		WHERE status = ? AND (time_start IS NULL OR time_start <= ?)
		ORDER BY id`, int(api.TaskDownloaded), now.Unix())
}

// Claim moves a task from Downloaded to Running. Only one caller can win a
// claim; the others get false.
func (q *Queue) Claim(ctx context.Context, id int64) (bool, error) {
	return q.transition(ctx, id, api.TaskDownloaded, api.TaskRunning)
}

// Release undoes a claim for a task that never started.
func (q *Queue) Release(ctx context.Context, id int64) error {
	released, err := q.transition(ctx, id, api.TaskRunning, api.TaskDownloaded)
	if err != nil {
		return err
	}
	if !released {
		log.Warn("release of unclaimed task ignored", logging.KeyTaskID, id)
	}
	return nil
}

func (q *Queue) transition(ctx context.Context, id int64, from, to api.TaskStatus) (bool, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE task SET status = ? WHERE id = ? AND status = ?`, int(to), id, int(from))
	if err != nil {
		return false, fmt.Errorf("task %d %s -> %s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("task %d %s -> %s: %w", id, from, to, err)
	}
	return n == 1, nil
}

// Finish records the terminal outcome of a Running task.
func (q *Queue) Finish(ctx context.Context, id int64, status api.TaskStatus, result json.RawMessage) error {
	if !status.Terminal() {
		return fmt.Errorf("finish task %d: %s is not terminal", id, status)
	}
	var res any
	if len(result) > 0 {
		res = string(result)
	}
	r, err := q.db.ExecContext(ctx, `
		UPDATE task SET status = ?, result = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		int(status), res, q.now().Unix(), id, int(api.TaskRunning))
	if err != nil {
		return fmt.Errorf("finish task %d: %w", id, err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("finish task %d: %w", id, ErrNotFound)
	}
	return nil
}

// Interrupted returns tasks left Running, which only happens when the agent
// stopped mid-execution.
func (q *Queue) Interrupted(ctx context.Context) ([]Entry, error) {
	return q.query(ctx, `WHERE status = ? ORDER BY id`, int(api.TaskRunning))
}

// List returns every mirrored task.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	return q.query(ctx, `ORDER BY id`)
}

// Get returns one task by id.
func (q *Queue) Get(ctx context.Context, id int64) (Entry, error) {
	entries, err := q.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return entries[0], nil
}

// Prune deletes finished tasks older than before. Their ids stay known to
// the server, which never hands out a terminal task again.
func (q *Queue) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM task WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		int(api.TaskSuccessful), int(api.TaskFailed), before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	return res.RowsAffected()
}

func (q *Queue) query(ctx context.Context, tail string, args ...any) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, task, time_start, time_download, status, result, finished_at
		FROM task `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var task string
		var start, finished sql.NullInt64
		var download int64
		var status int
		var result sql.NullString
		if err := rows.Scan(&e.ID, &task, &start, &download, &status, &result, &finished); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		e.Task = json.RawMessage(task)
		var p api.TaskPayload
		if json.Unmarshal(e.Task, &p) == nil {
			e.Name = p.Name
		}
		e.TimeStart = fromUnix(start)
		e.TimeDownload = time.Unix(download, 0).UTC()
		e.Status = api.TaskStatus(status)
		if result.Valid {
			e.Result = json.RawMessage(result.String)
		}
		e.FinishedAt = fromUnix(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
