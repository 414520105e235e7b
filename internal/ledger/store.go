package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store is the concrete sqlite-backed ledger. All methods are safe for
// concurrent use; sqlite itself serializes writers.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open, already-migrated *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(TimeLayout, v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

const jobColumns = `id, state, created_at, done_at, category_path, nzb_name,
	full_path, dl_id, dl_folder_id, dl_retry_count, cld_dl_timeout_time,
	cld_dl_move_retry_c, state_retry_count, message`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var state string
	var createdAt string
	var doneAt, dlID, dlFolderID, cldTimeout, message sql.NullString

	err := row.Scan(
		&j.ID, &state, &createdAt, &doneAt, &j.CategoryPath, &j.NZBName,
		&j.FullPath, &dlID, &dlFolderID, &j.DLRetryCount, &cldTimeout,
		&j.CldDLMoveRetryC, &j.StateRetryCount, &message,
	)
	if err != nil {
		return Job{}, err
	}

	j.State = State(state)
	ts, err := parseTime(createdAt)
	if err != nil {
		return Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	j.CreatedAt = ts

	if doneAt.Valid {
		t, err := parseTime(doneAt.String)
		if err != nil {
			return Job{}, fmt.Errorf("parsing done_at: %w", err)
		}
		j.DoneAt = &t
	}
	if dlID.Valid {
		v := dlID.String
		j.DLID = &v
	}
	if dlFolderID.Valid {
		v := dlFolderID.String
		j.DLFolderID = &v
	}
	if cldTimeout.Valid {
		t, err := parseTime(cldTimeout.String)
		if err != nil {
			return Job{}, fmt.Errorf("parsing cld_dl_timeout_time: %w", err)
		}
		j.CldDLTimeoutTime = &t
	}
	if message.Valid {
		v := message.String
		j.Message = &v
	}

	return j, nil
}

// Insert records a newly observed descriptor in state found. It returns
// ErrDuplicatePath if a non-terminal row already tracks fullPath (P1).
func (s *Store) Insert(ctx context.Context, fullPath, categoryPath, nzbName string, createdAt time.Time) (int64, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM data WHERE full_path = ? AND state NOT IN (?, ?)`,
		fullPath, string(StateDone), string(StateFailed),
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("checking for duplicate full_path: %w", err)
	}
	if exists > 0 {
		return 0, ErrDuplicatePath
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO data (state, created_at, category_path, nzb_name, full_path)
		 VALUES (?, ?, ?, ?, ?)`,
		string(StateFound), formatTime(createdAt), categoryPath, nzbName, fullPath,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting job: %w", err)
	}
	return res.LastInsertId()
}

// GetByID fetches a single job by id.
func (s *Store) GetByID(ctx context.Context, id int64) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM data WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	return j, nil
}

func (s *Store) listByState(ctx context.Context, states ...State) ([]Job, error) {
	placeholders := ""
	args := make([]any, len(states))
	for i, st := range states {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM data WHERE state IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs by state: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CurrentWork returns every non-terminal row, listed by the dashboard's
// /api/current_state. Restart recovery reads the per-state views (Found,
// Uploaded, InCloud) instead.
func (s *Store) CurrentWork(ctx context.Context) ([]Job, error) {
	return s.listByState(ctx, StateFound, StateUploaded, StateInCloud, StateDownloaded, StateCleaned)
}

// Found returns rows in state found, the Stage A upload queue's source.
func (s *Store) Found(ctx context.Context) ([]Job, error) {
	return s.listByState(ctx, StateFound)
}

// Uploaded returns rows in state uploaded, the Stage C watch set's source.
func (s *Store) Uploaded(ctx context.Context) ([]Job, error) {
	return s.listByState(ctx, StateUploaded)
}

// InCloud returns rows in state in_cloud, the Stage D fetch queue's source.
func (s *Store) InCloud(ctx context.Context) ([]Job, error) {
	return s.listByState(ctx, StateInCloud)
}

// Downloaded returns rows in state downloaded, Stage E's working set.
func (s *Store) Downloaded(ctx context.Context) ([]Job, error) {
	return s.listByState(ctx, StateDownloaded)
}

// Cleaned returns rows in state cleaned, Stage F's working set.
func (s *Store) Cleaned(ctx context.Context) ([]Job, error) {
	return s.listByState(ctx, StateCleaned)
}

// TerminalPage returns a paged slice of done/failed rows for the dashboard.
func (s *Store) TerminalPage(ctx context.Context, limit, offset int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM data WHERE state IN (?, ?)
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		string(StateDone), string(StateFailed), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing terminal jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkUploaded records a successful Stage B upload.
func (s *Store) MarkUploaded(ctx context.Context, id int64, dlID string, timeout time.Time) error {
	return s.exec(ctx,
		`UPDATE data SET state = ?, dl_id = ?, cld_dl_timeout_time = ? WHERE id = ?`,
		string(StateUploaded), dlID, formatTime(timeout), id)
}

// MarkInCloud records a Stage C transition once the remote transfer finishes.
func (s *Store) MarkInCloud(ctx context.Context, id int64, dlFolderID string) error {
	return s.exec(ctx,
		`UPDATE data SET state = ?, dl_folder_id = ? WHERE id = ?`,
		string(StateInCloud), dlFolderID, id)
}

// MarkDownloaded records a successful Stage D fetch of every file.
func (s *Store) MarkDownloaded(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE data SET state = ? WHERE id = ?`, string(StateDownloaded), id)
}

// MarkCleaned records a successful Stage E remote cleanup.
func (s *Store) MarkCleaned(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE data SET state = ? WHERE id = ?`, string(StateCleaned), id)
}

// MarkDone records a successful Stage F final move.
func (s *Store) MarkDone(ctx context.Context, id int64, doneAt time.Time) error {
	return s.exec(ctx,
		`UPDATE data SET state = ?, done_at = ? WHERE id = ?`,
		string(StateDone), formatTime(doneAt), id)
}

// MarkFailed forces a job into the terminal failed state from any stage.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE data SET state = ? WHERE id = ?`, string(StateFailed), id)
}

// IncrementDLRetry bumps dl_retry_count by one and returns the new value.
func (s *Store) IncrementDLRetry(ctx context.Context, id int64) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE data SET dl_retry_count = dl_retry_count + 1 WHERE id = ?`, id,
	); err != nil {
		return 0, fmt.Errorf("incrementing dl_retry_count: %w", err)
	}
	j, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return j.DLRetryCount, nil
}

// SetMessageAndTimeout records the last observed remote message and resets
// the stuck-detection deadline (Stage C progress handling).
func (s *Store) SetMessageAndTimeout(ctx context.Context, id int64, message string, timeout time.Time) error {
	return s.exec(ctx,
		`UPDATE data SET message = ?, cld_dl_timeout_time = ? WHERE id = ?`,
		message, formatTime(timeout), id)
}

// ResetToFound degrades a job back to found, bumping cld_dl_move_retry_c and
// clearing every per-upload-episode field in one unambiguous multi-column
// UPDATE (REDESIGN FLAG (c): never a `SET a = 'x' AND b = ?` comparison).
func (s *Store) ResetToFound(ctx context.Context, id int64) error {
	return s.exec(ctx,
		`UPDATE data SET
			state = ?,
			dl_id = NULL,
			dl_folder_id = NULL,
			dl_retry_count = 0,
			cld_dl_timeout_time = NULL,
			message = NULL,
			cld_dl_move_retry_c = cld_dl_move_retry_c + 1
		 WHERE id = ?`,
		string(StateFound), id)
}

// IncrementStateRetry bumps state_retry_count and returns the new value,
// used by the file integrator's degrade contract (spec §4.3).
func (s *Store) IncrementStateRetry(ctx context.Context, id int64) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE data SET state_retry_count = state_retry_count + 1 WHERE id = ?`, id,
	); err != nil {
		return 0, fmt.Errorf("incrementing state_retry_count: %w", err)
	}
	j, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return j.StateRetryCount, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing ledger update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Aggregate counts for the dashboard.

// CountsByState returns the number of rows per state.
func (s *Store) CountsByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM data GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scanning state count: %w", err)
		}
		counts[State(st)] = n
	}
	return counts, rows.Err()
}

// RetrySums returns the sum of each retry counter across all rows, used by
// the dashboard's /metrics endpoint.
func (s *Store) RetrySums(ctx context.Context) (dlRetry, stateRetry, moveRetry int, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(dl_retry_count), 0),
		        COALESCE(SUM(state_retry_count), 0),
		        COALESCE(SUM(cld_dl_move_retry_c), 0)
		 FROM data`)
	if err := row.Scan(&dlRetry, &stateRetry, &moveRetry); err != nil {
		return 0, 0, 0, fmt.Errorf("summing retry counters: %w", err)
	}
	return dlRetry, stateRetry, moveRetry, nil
}

// TotalCount returns the total number of tracked jobs, ever.
func (s *Store) TotalCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return n, nil
}

// LastAdded returns the most recently inserted job, if any.
func (s *Store) LastAdded(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM data ORDER BY created_at DESC, id DESC LIMIT 1`)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

// LastDone returns the most recently completed job, if any.
func (s *Store) LastDone(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM data WHERE state = ? ORDER BY done_at DESC, id DESC LIMIT 1`,
		string(StateDone))
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

// SizeKB returns the on-disk size, in kilobytes, of the ledger's backing
// database file (sourced from sqlite's page accounting, mirroring
// original_source's get_db_size_in_KB).
func (s *Store) SizeKB(ctx context.Context) (float64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("reading page_size: %w", err)
	}
	return float64(pageCount*pageSize) / 1024.0, nil
}
