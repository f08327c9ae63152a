package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagevault/extractor/internal/extraction"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func TestDeadLetterEnqueueInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewDeadLetterStoreWithPool(mock, fixedClock{now: now})
	require.NoError(t, err)

	entry := extraction.DeadLetterEntry{
		JobID:    "job-1",
		Job:      extraction.Job{ID: "job-1", Status: extraction.JobStatusFailed},
		Attempts: []extraction.Attempt{{Strategy: "readability", Error: "empty document", At: now}},
		FailedAt: now,
	}

	mock.ExpectExec("INSERT INTO dead_letters").
		WithArgs(entry.JobID, pgxmock.AnyArg(), pgxmock.AnyArg(), entry.FailedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Enqueue(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLetterListScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewDeadLetterStoreWithPool(mock, fixedClock{now: now})
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"job_id", "job", "attempts", "failed_at"}).
		AddRow("job-1", []byte(`{"id":"job-1","type":"content-extraction","priority":2,"status":"failed","parameters":{},"scheduled_at":"2023-11-14T22:13:20Z","progress":0,"retry_count":3,"max_retries":3,"estimated_memory":0,"estimated_duration":0}`),
			[]byte(`[{"strategy":"dom","error":"no content","at":"2023-11-14T22:13:20Z"}]`), now)
	mock.ExpectQuery("SELECT job_id, job, attempts, failed_at").
		WithArgs(5, 10).
		WillReturnRows(rows)

	entries, err := store.List(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job-1", entries[0].JobID)
	assert.Equal(t, extraction.JobStatusFailed, entries[0].Job.Status)
	require.Len(t, entries[0].Attempts, 1)
	assert.Equal(t, "dom", entries[0].Attempts[0].Strategy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLetterPurgeOlderThan(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewDeadLetterStoreWithPool(mock, fixedClock{now: now})
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM dead_letters WHERE failed_at").
		WithArgs(now.Add(-24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	removed, err := store.PurgeOlderThan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 7, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
