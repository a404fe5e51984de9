package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/chimeworks/chime/errors"
)

// Store handles persistence of job definitions
type Store struct {
	db *sql.DB
}

// NewStore creates a new job definition store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const definitionColumns = `owner_service, job_name, description, enabled,
	       schedule_kind, schedule_spec, target, args, kwargs,
	       created_at, updated_at`

// Register persists a new job definition.
// Fails with ErrInvalidSchedule when the spec does not parse under the
// declared kind, and with ErrDuplicateJob when (owner_service, job_name)
// already exists; the existing registration is left intact.
func (s *Store) Register(def *JobDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	args, err := json.Marshal(def.Args)
	if err != nil {
		return errors.Wrapf(err, "marshal args for %s", def.Key())
	}
	kwargs, err := json.Marshal(def.Kwargs)
	if err != nil {
		return errors.Wrapf(err, "marshal kwargs for %s", def.Key())
	}

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	query := `
		INSERT INTO job_definitions (
			owner_service, job_name, description, enabled,
			schedule_kind, schedule_spec, target, args, kwargs,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		def.OwnerService,
		def.Name,
		def.Description,
		def.Enabled,
		string(def.Kind),
		def.Spec,
		def.Target,
		string(args),
		string(kwargs),
		def.CreatedAt.Format(time.RFC3339),
		def.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return errors.Wrapf(errors.ErrDuplicateJob, "%s", def.Key())
		}
		return errors.Wrapf(err, "failed to register job %s", def.Key())
	}

	return nil
}

// Get retrieves a job definition by its composite key
func (s *Store) Get(ownerService, name string) (*JobDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM job_definitions
		WHERE owner_service = ? AND job_name = ?
	`
	row := s.db.QueryRow(query, ownerService, name)
	def, err := scanDefinition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundf("job %s:%s", ownerService, name)
		}
		return nil, errors.Wrapf(err, "failed to get job %s:%s", ownerService, name)
	}
	return def, nil
}

// List returns job definitions ordered by key. An empty ownerService
// returns definitions for all services.
func (s *Store) List(ownerService string) ([]*JobDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM job_definitions
	`
	var queryArgs []any
	if ownerService != "" {
		query += ` WHERE owner_service = ?`
		queryArgs = append(queryArgs, ownerService)
	}
	query += ` ORDER BY owner_service, job_name`

	rows, err := s.db.Query(query, queryArgs...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var defs []*JobDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// ListEnabled returns all enabled job definitions across services
func (s *Store) ListEnabled() ([]*JobDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM job_definitions
		WHERE enabled = 1
		ORDER BY owner_service, job_name
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enabled jobs")
	}
	defer rows.Close()

	var defs []*JobDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// SetEnabled flips the enabled flag for a job definition
func (s *Store) SetEnabled(ownerService, name string, enabled bool) error {
	result, err := s.db.Exec(
		`UPDATE job_definitions SET enabled = ?, updated_at = ? WHERE owner_service = ? AND job_name = ?`,
		enabled, time.Now().UTC().Format(time.RFC3339), ownerService, name,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s:%s", ownerService, name)
	}
	return requireOneRow(result, ownerService, name)
}

// UpdateSchedule replaces a job's schedule after validating the new spec
func (s *Store) UpdateSchedule(ownerService, name string, kind ScheduleKind, spec string) error {
	if err := ValidateSpec(kind, spec); err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE job_definitions SET schedule_kind = ?, schedule_spec = ?, updated_at = ? WHERE owner_service = ? AND job_name = ?`,
		string(kind), spec, time.Now().UTC().Format(time.RFC3339), ownerService, name,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule for %s:%s", ownerService, name)
	}
	return requireOneRow(result, ownerService, name)
}

// Unregister deletes a job definition
func (s *Store) Unregister(ownerService, name string) error {
	result, err := s.db.Exec(
		`DELETE FROM job_definitions WHERE owner_service = ? AND job_name = ?`,
		ownerService, name,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to unregister job %s:%s", ownerService, name)
	}
	return requireOneRow(result, ownerService, name)
}

func requireOneRow(result sql.Result, ownerService, name string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundf("job %s:%s", ownerService, name)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanDefinition
type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row scanner) (*JobDefinition, error) {
	var def JobDefinition
	var kind, createdAt, updatedAt string
	var description, args, kwargs sql.NullString

	err := row.Scan(
		&def.OwnerService,
		&def.Name,
		&description,
		&def.Enabled,
		&kind,
		&def.Spec,
		&def.Target,
		&args,
		&kwargs,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.Kind = ScheduleKind(kind)
	if description.Valid {
		def.Description = description.String
	}
	if args.Valid && args.String != "" && args.String != "null" {
		if err := json.Unmarshal([]byte(args.String), &def.Args); err != nil {
			return nil, errors.Wrapf(err, "parse args for job %s", def.Key())
		}
	}
	if kwargs.Valid && kwargs.String != "" && kwargs.String != "null" {
		if err := json.Unmarshal([]byte(kwargs.String), &def.Kwargs); err != nil {
			return nil, errors.Wrapf(err, "parse kwargs for job %s", def.Key())
		}
	}

	def.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at for job %s", def.Key())
	}
	def.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for job %s", def.Key())
	}

	return &def, nil
}
