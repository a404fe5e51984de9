package dispatch

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/chimeworks/chime/errors"
)

// timeFormat is fixed-width so lexicographic order in SQLite matches
// chronological order; RFC3339Nano trims trailing zeros and does not
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store handles persistence of the execution ledger
type Store struct {
	db *sql.DB
}

// NewStore creates a new execution store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const executionColumns = `id, owner_service, job_name, target, args, kwargs,
	       status, enqueued_at, started_at, finished_at,
	       result, error_type, error_message, updated_at`

// CreateExecution inserts a new ledger row
func (s *Store) CreateExecution(exec *Execution) error {
	args, err := json.Marshal(exec.Args)
	if err != nil {
		return errors.Wrapf(err, "marshal args for execution %s", exec.ID)
	}
	kwargs, err := json.Marshal(exec.Kwargs)
	if err != nil {
		return errors.Wrapf(err, "marshal kwargs for execution %s", exec.ID)
	}

	query := `
		INSERT INTO executions (
			id, owner_service, job_name, target, args, kwargs,
			status, enqueued_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		exec.ID,
		exec.OwnerService,
		exec.JobName,
		exec.Target,
		string(args),
		string(kwargs),
		string(exec.Status),
		exec.EnqueuedAt.Format(timeFormat),
		exec.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create execution %s", exec.ID)
	}
	return nil
}

// GetExecution retrieves an execution by ID
func (s *Store) GetExecution(id string) (*Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE id = ?
	`
	exec, err := scanExecution(s.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundf("execution %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get execution %s", id)
	}
	return exec, nil
}

// UpdateExecution writes an execution's mutable fields back to the ledger
func (s *Store) UpdateExecution(exec *Execution) error {
	result, err := json.Marshal(exec.Result)
	if err != nil {
		return errors.Wrapf(err, "marshal result for execution %s", exec.ID)
	}

	var startedAt, finishedAt, errType, errMessage any
	if exec.StartedAt != nil {
		startedAt = exec.StartedAt.Format(timeFormat)
	}
	if exec.FinishedAt != nil {
		finishedAt = exec.FinishedAt.Format(timeFormat)
	}
	if exec.Error != nil {
		errType = exec.Error.Type
		errMessage = exec.Error.Message
	}

	query := `
		UPDATE executions
		SET status = ?, started_at = ?, finished_at = ?,
		    result = ?, error_type = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.Exec(query,
		string(exec.Status),
		startedAt,
		finishedAt,
		string(result),
		errType,
		errMessage,
		time.Now().UTC().Format(timeFormat),
		exec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update execution %s", exec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundf("execution %s", exec.ID)
	}
	return nil
}

// ExecutionFilter narrows ListExecutions results. Zero values match all.
type ExecutionFilter struct {
	OwnerService string
	JobName      string
	Status       Status
	Limit        int
	Offset       int
}

// ListExecutions returns ledger rows newest first
func (s *Store) ListExecutions(filter ExecutionFilter) ([]*Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE 1=1
	`
	var args []any
	if filter.OwnerService != "" {
		query += ` AND owner_service = ?`
		args = append(args, filter.OwnerService)
	}
	if filter.JobName != "" {
		query += ` AND job_name = ?`
		args = append(args, filter.JobName)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY enqueued_at DESC`
	if filter.Limit > 0 || filter.Offset > 0 {
		// SQLite needs a LIMIT clause before OFFSET; -1 means unbounded
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// OldestQueued returns the queued execution with the earliest enqueued_at,
// or ErrNotFound when the queue is empty
func (s *Store) OldestQueued() (*Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE status = ?
		ORDER BY enqueued_at ASC
		LIMIT 1
	`
	exec, err := scanExecution(s.db.QueryRow(query, string(StatusQueued)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundf("no queued executions")
		}
		return nil, errors.Wrap(err, "failed to get oldest queued execution")
	}
	return exec, nil
}

// LatestForJob returns the most recently enqueued execution for a job,
// or ErrNotFound when the job has never been dispatched
func (s *Store) LatestForJob(ownerService, jobName string) (*Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE owner_service = ? AND job_name = ?
		ORDER BY enqueued_at DESC
		LIMIT 1
	`
	exec, err := scanExecution(s.db.QueryRow(query, ownerService, jobName))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundf("executions for job %s:%s", ownerService, jobName)
		}
		return nil, errors.Wrapf(err, "failed to get latest execution for %s:%s", ownerService, jobName)
	}
	return exec, nil
}

// CancelIfQueued transitions an execution to cancelled only if it is
// still queued. Returns true when this call performed the transition.
// StartIfQueued transitions an execution to running only if it is
// still queued, reporting whether the row flipped. The conditional
// update keeps the claim single-owner even when another process shares
// the database file.
func (s *Store) StartIfQueued(exec *Execution) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE executions SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(exec.Status), exec.StartedAt.UTC().Format(timeFormat), exec.UpdatedAt.UTC().Format(timeFormat),
		exec.ID, string(StatusQueued),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim execution %s", exec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// The conditional update makes cancellation race-safe against a worker
// claiming the same row.
func (s *Store) CancelIfQueued(id string) (bool, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.Exec(
		`UPDATE executions SET status = ?, finished_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusCancelled), now, now, id, string(StatusQueued),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to cancel execution %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// ReapStale fails running executions whose worker has not touched them
// since cutoff. Returns the IDs that were reaped.
func (s *Store) ReapStale(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM executions WHERE status = ? AND updated_at < ?`,
		string(StatusRunning), cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stale executions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan stale execution id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(timeFormat)
	for _, id := range ids {
		_, err := s.db.Exec(
			`UPDATE executions SET status = ?, error_type = ?, error_message = ?, finished_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(StatusFailed), "WorkerLost", "worker stopped reporting before this execution finished",
			now, now, id, string(StatusRunning),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to reap execution %s", id)
		}
	}
	return ids, nil
}

// PruneFinished deletes terminal executions beyond the newest keep rows
// per job. keep <= 0 is a no-op.
func (s *Store) PruneFinished(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`
		DELETE FROM executions WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY owner_service, job_name
					ORDER BY enqueued_at DESC
				) AS rn
				FROM executions
				WHERE status IN (?, ?, ?)
			) WHERE rn > ?
		)
	`, string(StatusSuccess), string(StatusFailed), string(StatusCancelled), keep)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune executions")
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*Execution, error) {
	var exec Execution
	var status, enqueuedAt, updatedAt string
	var args, kwargs, startedAt, finishedAt, result, errType, errMessage sql.NullString

	err := row.Scan(
		&exec.ID,
		&exec.OwnerService,
		&exec.JobName,
		&exec.Target,
		&args,
		&kwargs,
		&status,
		&enqueuedAt,
		&startedAt,
		&finishedAt,
		&result,
		&errType,
		&errMessage,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = Status(status)
	if args.Valid && args.String != "" && args.String != "null" {
		if err := json.Unmarshal([]byte(args.String), &exec.Args); err != nil {
			return nil, errors.Wrapf(err, "parse args for execution %s", exec.ID)
		}
	}
	if kwargs.Valid && kwargs.String != "" && kwargs.String != "null" {
		if err := json.Unmarshal([]byte(kwargs.String), &exec.Kwargs); err != nil {
			return nil, errors.Wrapf(err, "parse kwargs for execution %s", exec.ID)
		}
	}
	if result.Valid && result.String != "" && result.String != "null" {
		if err := json.Unmarshal([]byte(result.String), &exec.Result); err != nil {
			return nil, errors.Wrapf(err, "parse result for execution %s", exec.ID)
		}
	}
	if errType.Valid || errMessage.Valid {
		exec.Error = &ExecutionError{Type: errType.String, Message: errMessage.String}
	}

	exec.EnqueuedAt, err = time.Parse(timeFormat, enqueuedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse enqueued_at for execution %s", exec.ID)
	}
	exec.UpdatedAt, err = time.Parse(timeFormat, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for execution %s", exec.ID)
	}
	if startedAt.Valid {
		t, err := time.Parse(timeFormat, startedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse started_at for execution %s", exec.ID)
		}
		exec.StartedAt = &t
	}
	if finishedAt.Valid {
		t, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse finished_at for execution %s", exec.ID)
		}
		exec.FinishedAt = &t
	}

	return &exec, nil
}
