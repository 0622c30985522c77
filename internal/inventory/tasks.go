package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetsync/inventory/pkg/api"
)

// TaskRecord is a stored task as operators see it.
type TaskRecord struct {
	ID           int64           `json:"id" yaml:"id"`
	EndpointID   int64           `json:"endpoint_id" yaml:"endpoint_id"`
	EndpointUUID string          `json:"endpoint_uuid" yaml:"endpoint_uuid"`
	Payload      json.RawMessage `json:"payload" yaml:"-"`
	Name         string          `json:"name" yaml:"name"`
	CreatedAt    time.Time       `json:"created_at" yaml:"created_at"`
	TimeStart    *time.Time      `json:"time_start,omitempty" yaml:"time_start,omitempty"`
	DownloadedAt *time.Time      `json:"downloaded_at,omitempty" yaml:"downloaded_at,omitempty"`
	Status       api.TaskStatus  `json:"status" yaml:"status"`
	Result       json.RawMessage `json:"result,omitempty" yaml:"-"`
	UpdatedAt    time.Time       `json:"updated_at" yaml:"updated_at"`
}

// CreateTask queues an operator task for an endpoint in state Created.
func (s *Store) CreateTask(ctx context.Context, endpointID int64, payload api.TaskPayload, timeStart *time.Time) (TaskRecord, error) {
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		return TaskRecord{}, fmt.Errorf("task name is empty: %w", ErrInvalidInput)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("encode task payload: %w", err)
	}

	now := s.now()
	var id int64
	err = s.withTx(ctx, func(tx *dbtx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM endpoint WHERE id = ?`, endpointID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEndpointNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup endpoint: %w", err)
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO task (endpoint_id, payload, created_at, time_start, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`,
			endpointID, string(raw), now, nullTime(timeStart), int64(api.TaskCreated), now).Scan(&id)
	})
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			return TaskRecord{}, err
		}
		return TaskRecord{}, fmt.Errorf("create task: %w", err)
	}

	log.Info("task created", "taskId", id, "taskName", payload.Name, "endpointId", endpointID)
	return s.GetTask(ctx, id)
}

// CreateDeleteProfileTask queues removal of the profile for sid.
func (s *Store) CreateDeleteProfileTask(ctx context.Context, endpointID int64, sid string) (TaskRecord, error) {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return TaskRecord{}, fmt.Errorf("sid is empty: %w", ErrInvalidInput)
	}
	return s.CreateTask(ctx, endpointID, api.TaskPayload{
		Name:       api.TaskDeleteUserProfile,
		Parameters: map[string]any{"sid": sid},
	}, nil)
}

// FetchPending returns the endpoint's tasks still in Created, oldest first.
// It does not change their state; the agent's Downloaded report does.
func (s *Store) FetchPending(ctx context.Context, endpointID int64) ([]api.Task, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, payload, time_start FROM task
		WHERE endpoint_id = ? AND status = ?
		ORDER BY id`, endpointID, int64(api.TaskCreated))
	if err != nil {
		return nil, fmt.Errorf("fetch pending tasks: %w", err)
	}
	defer rows.Close()

	out := []api.Task{}
	for rows.Next() {
		var t api.Task
		var payload string
		var start sql.NullTime
		if err := rows.Scan(&t.ID, &payload, &start); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Task = json.RawMessage(payload)
		t.TimeStart = timePtr(start)
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus applies a reported transition. Status only moves forward
// along Created < Downloaded < Running < {Successful, Failed}; terminal rows
// never change again. The first download time sticks and the result is only
// written with the terminal status.
//
// A repeated report of the current non-terminal status succeeds without
// changes. Anything else that cannot apply returns ErrStaleTransition, and
// an id that does not belong to the endpoint returns ErrTaskNotFound.
func (s *Store) UpdateTaskStatus(ctx context.Context, endpointID int64, update api.TaskUpdate) error {
	if !update.TaskStatus.Valid() || update.TaskStatus == api.TaskCreated {
		return fmt.Errorf("cannot report status %s: %w", update.TaskStatus, ErrInvalidInput)
	}

	now := s.now()
	// Any report past Created proves the download; the first time sticks.
	downloaded := now
	if update.TimeDownloaded != nil {
		downloaded = update.TimeDownloaded.UTC()
	}

	var result any
	if update.TaskStatus.Terminal() && len(update.TaskResult) > 0 && string(update.TaskResult) != "null" {
		if !json.Valid(update.TaskResult) {
			return fmt.Errorf("task result is not valid JSON: %w", ErrInvalidInput)
		}
		result = string(update.TaskResult)
	}

	// Result is written only together with the terminal status.
	setResult := ""
	args := []any{int64(update.TaskStatus), downloaded, now}
	if update.TaskStatus.Terminal() {
		setResult = ", result = ?"
		args = append(args, result)
	}
	args = append(args, update.ID, endpointID, int64(update.TaskStatus.Rank()))

	// Failed (4) shares the terminal rank of Successful (3).
	res, err := s.conn().ExecContext(ctx, `
		UPDATE task SET status = ?, downloaded_at = COALESCE(downloaded_at, ?), updated_at = ?`+setResult+`
		WHERE id = ? AND endpoint_id = ?
		  AND (CASE WHEN status = 4 THEN 3 ELSE status END) < ?`, args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", update.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %d: %w", update.ID, err)
	}
	if n == 1 {
		log.Info("task status updated", "taskId", update.ID, "endpointId", endpointID, "status", update.TaskStatus.String())
		return nil
	}

	var current int64
	err = s.conn().QueryRowContext(ctx, `SELECT status FROM task WHERE id = ? AND endpoint_id = ?`, update.ID, endpointID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %d: %w", update.ID, ErrTaskNotFound)
	}
	if err != nil {
		return fmt.Errorf("read task %d: %w", update.ID, err)
	}
	if api.TaskStatus(current) == update.TaskStatus && !update.TaskStatus.Terminal() {
		log.Debug("duplicate task status report ignored", "taskId", update.ID, "status", update.TaskStatus.String())
		return nil
	}
	log.Warn("stale task transition rejected", "taskId", update.ID,
		"current", api.TaskStatus(current).String(), "reported", update.TaskStatus.String())
	return fmt.Errorf("task %d is %s, cannot move to %s: %w",
		update.ID, api.TaskStatus(current), update.TaskStatus, ErrStaleTransition)
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	EndpointID int64
	Status     *api.TaskStatus
	Limit      int
}

func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]TaskRecord, error) {
	var where []string
	var args []any
	if f.EndpointID != 0 {
		where = append(where, "t.endpoint_id = ?")
		args = append(args, f.EndpointID)
	}
	if f.Status != nil {
		where = append(where, "t.status = ?")
		args = append(args, int64(*f.Status))
	}
	query := taskSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id int64) (TaskRecord, error) {
	rows, err := s.conn().QueryContext(ctx, taskSelect+" WHERE t.id = ?", id)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("get task: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return TaskRecord{}, err
		}
		return TaskRecord{}, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return scanTask(rows)
}

const taskSelect = `
	SELECT t.id, t.endpoint_id, e.uuid, t.payload, t.created_at, t.time_start,
	       t.downloaded_at, t.status, t.result, t.updated_at
	FROM task t
	JOIN endpoint e ON e.id = t.endpoint_id`

func scanTask(rows *sql.Rows) (TaskRecord, error) {
	var t TaskRecord
	var payload string
	var result sql.NullString
	var start, downloaded sql.NullTime
	var status int64
	if err := rows.Scan(&t.ID, &t.EndpointID, &t.EndpointUUID, &payload, &t.CreatedAt, &start,
		&downloaded, &status, &result, &t.UpdatedAt); err != nil {
		return t, fmt.Errorf("scan task: %w", err)
	}
	t.Payload = json.RawMessage(payload)
	var p api.TaskPayload
	if json.Unmarshal(t.Payload, &p) == nil {
		t.Name = p.Name
	}
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	t.TimeStart, t.DownloadedAt = timePtr(start), timePtr(downloaded)
	t.Status = api.TaskStatus(status)
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	return t, nil
}
