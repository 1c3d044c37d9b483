package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/workflow-notifier/internal/models"
)

type jobRow struct {
	ID                string `db:"id"`
	Channel           string `db:"channel"`
	Recipient         string `db:"recipient"`
	TemplateID        string `db:"template_id"`
	Data              string `db:"data"`
	Attempts          int    `db:"attempts"`
	Status            string `db:"status"`
	CorrelationID     string `db:"correlation_id"`
	PartitionKey      string `db:"partition_key"`
	LastError         string `db:"last_error"`
	ProviderMessageID string `db:"provider_message_id"`
	NextAttemptAt     *int64 `db:"next_attempt_at"`
	CreatedAt         int64  `db:"created_at"`
	UpdatedAt         int64  `db:"updated_at"`
}

func (r jobRow) model() (*models.DispatchJob, error) {
	job := &models.DispatchJob{
		ID:                r.ID,
		Channel:           models.Channel(r.Channel),
		Recipient:         r.Recipient,
		TemplateID:        r.TemplateID,
		Attempts:          r.Attempts,
		Status:            models.JobStatus(r.Status),
		CorrelationID:     r.CorrelationID,
		PartitionKey:      r.PartitionKey,
		LastError:         r.LastError,
		ProviderMessageID: r.ProviderMessageID,
		NextAttemptAt:     fromNullUnix(r.NextAttemptAt),
		CreatedAt:         fromUnix(r.CreatedAt),
		UpdatedAt:         fromUnix(r.UpdatedAt),
	}
	if r.Data != "" {
		if err := json.Unmarshal([]byte(r.Data), &job.Data); err != nil {
			return nil, fmt.Errorf("unmarshaling data of job %s: %w", r.ID, err)
		}
	}
	return job, nil
}

func newJobRow(job *models.DispatchJob) (jobRow, error) {
	data, err := marshalJSON(job.Data, "{}")
	if err != nil {
		return jobRow{}, fmt.Errorf("marshaling data of job %s: %w", job.ID, err)
	}
	return jobRow{
		ID:                job.ID,
		Channel:           string(job.Channel),
		Recipient:         job.Recipient,
		TemplateID:        job.TemplateID,
		Data:              data,
		Attempts:          job.Attempts,
		Status:            string(job.Status),
		CorrelationID:     job.CorrelationID,
		PartitionKey:      job.PartitionKey,
		LastError:         job.LastError,
		ProviderMessageID: job.ProviderMessageID,
		NextAttemptAt:     toNullUnix(job.NextAttemptAt),
		CreatedAt:         toUnix(job.CreatedAt),
		UpdatedAt:         toUnix(job.UpdatedAt),
	}, nil
}

// InsertJob persists a new dispatch job.
func (s *SQLiteStore) InsertJob(ctx context.Context, job *models.DispatchJob) error {
	row, err := newJobRow(job)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO dispatch_jobs (
			id, channel, recipient, template_id, data, attempts, status,
			correlation_id, partition_key, last_error, provider_message_id,
			next_attempt_at, created_at, updated_at
		) VALUES (
			:id, :channel, :recipient, :template_id, :data, :attempts, :status,
			:correlation_id, :partition_key, :last_error, :provider_message_id,
			:next_attempt_at, :created_at, :updated_at
		)`, row)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// SaveJob writes the mutable state of a job owned by the caller.
func (s *SQLiteStore) SaveJob(ctx context.Context, job *models.DispatchJob) error {
	row, err := newJobRow(job)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE dispatch_jobs SET
			attempts = :attempts, status = :status, last_error = :last_error,
			provider_message_id = :provider_message_id, next_attempt_at = :next_attempt_at,
			updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return expectOne(res, job.ID)
}

// TransitionJob moves a job from one status to another only if its current
// status is from. It reports whether the transition happened.
func (s *SQLiteStore) TransitionJob(ctx context.Context, id string, from, to models.JobStatus, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE dispatch_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), toUnix(at), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transitioning job %s from %s to %s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for job %s: %w", id, err)
	}
	return n == 1, nil
}

// GetJob loads a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.DispatchJob, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM dispatch_jobs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return row.model()
}

// PendingJobs returns every non-terminal job in creation order.
func (s *SQLiteStore) PendingJobs(ctx context.Context) ([]*models.DispatchJob, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM dispatch_jobs
		WHERE status NOT IN (?, ?)
		ORDER BY created_at ASC, rowid ASC`,
		string(models.JobSent), string(models.JobDead),
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending jobs: %w", err)
	}
	jobs := make([]*models.DispatchJob, 0, len(rows))
	for _, row := range rows {
		job, err := row.model()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// JobStats counts jobs per channel and status.
func (s *SQLiteStore) JobStats(ctx context.Context) (models.QueueStats, error) {
	var rows []struct {
		Channel string `db:"channel"`
		Status  string `db:"status"`
		Count   int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT channel, status, COUNT(*) AS n FROM dispatch_jobs GROUP BY channel, status",
	)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}

	stats := make(models.QueueStats, len(models.Channels()))
	for _, ch := range models.Channels() {
		stats[ch] = models.ChannelStats{}
	}
	for _, r := range rows {
		ch := models.Channel(r.Channel)
		cs := stats[ch]
		cs.Add(models.JobStatus(r.Status), r.Count)
		stats[ch] = cs
	}
	return stats, nil
}

type deadRow struct {
	JobID         string `db:"job_id"`
	Channel       string `db:"channel"`
	Recipient     string `db:"recipient"`
	TemplateID    string `db:"template_id"`
	CorrelationID string `db:"correlation_id"`
	Data          string `db:"data"`
	Attempts      int    `db:"attempts"`
	FailureType   string `db:"failure_type"`
	LastError     string `db:"last_error"`
	FirstFailedAt int64  `db:"first_failed_at"`
	LastAttemptAt int64  `db:"last_attempt_at"`
}

// RecordDeadJob stores a dead job record. A job is recorded at most once; the
// return value reports whether this call inserted it.
func (s *SQLiteStore) RecordDeadJob(ctx context.Context, rec models.DeadJobRecord) (bool, error) {
	data, err := marshalJSON(rec.Data, "{}")
	if err != nil {
		return false, fmt.Errorf("marshaling data of dead job %s: %w", rec.JobID, err)
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO dead_jobs (
			job_id, channel, recipient, template_id, correlation_id, data,
			attempts, failure_type, last_error, first_failed_at, last_attempt_at
		) VALUES (
			:job_id, :channel, :recipient, :template_id, :correlation_id, :data,
			:attempts, :failure_type, :last_error, :first_failed_at, :last_attempt_at
		)`, deadRow{
		JobID:         rec.JobID,
		Channel:       string(rec.Channel),
		Recipient:     rec.Recipient,
		TemplateID:    rec.TemplateID,
		CorrelationID: rec.CorrelationID,
		Data:          data,
		Attempts:      rec.Attempts,
		FailureType:   rec.FailureType,
		LastError:     rec.LastError,
		FirstFailedAt: toUnix(rec.FirstFailedAt),
		LastAttemptAt: toUnix(rec.LastAttemptAt),
	})
	if err != nil {
		return false, fmt.Errorf("recording dead job %s: %w", rec.JobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for dead job %s: %w", rec.JobID, err)
	}
	return n == 1, nil
}

// DeadJobs lists dead job records, most recent first. A non-positive limit
// returns all of them.
func (s *SQLiteStore) DeadJobs(ctx context.Context, limit int) ([]models.DeadJobRecord, error) {
	query := "SELECT * FROM dead_jobs ORDER BY last_attempt_at DESC, job_id ASC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []deadRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing dead jobs: %w", err)
	}
	out := make([]models.DeadJobRecord, 0, len(rows))
	for _, r := range rows {
		rec := models.DeadJobRecord{
			JobID:         r.JobID,
			Channel:       models.Channel(r.Channel),
			Recipient:     r.Recipient,
			TemplateID:    r.TemplateID,
			CorrelationID: r.CorrelationID,
			Attempts:      r.Attempts,
			FailureType:   r.FailureType,
			LastError:     r.LastError,
			FirstFailedAt: fromUnix(r.FirstFailedAt),
			LastAttemptAt: fromUnix(r.LastAttemptAt),
		}
		if r.Data != "" {
			if err := json.Unmarshal([]byte(r.Data), &rec.Data); err != nil {
				return nil, fmt.Errorf("unmarshaling data of dead job %s: %w", r.JobID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
