package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveContext_CommitClearsActions(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sc := NewSaveContext(db)
	sc.TrackInsert("candidates", "id-1")
	sc.TrackUpdate("candidates", "id-2", map[string]any{"is_latest": true})
	assert.Equal(t, 2, sc.Pending())

	sc.Commit()
	assert.Zero(t, sc.Pending())
}

func TestSaveContext_RollbackReplaysInReverse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sc := NewSaveContext(db)
	sc.TrackUpdate("candidates", "parent-id", map[string]any{"is_latest": true})
	sc.TrackInsert("candidates", "new-id")
	sc.TrackInsert("candidate_chunks", "chunk-1")

	// Reverse order: chunk delete, candidate delete, parent restore.
	mock.ExpectExec(`DELETE FROM candidate_chunks WHERE id = \$1`).
		WithArgs("chunk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM candidates WHERE id = \$1`).
		WithArgs("new-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE candidates SET is_latest = \$1 WHERE id = \$2`).
		WithArgs(true, "parent-id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sc.Rollback(context.Background())
	assert.Zero(t, sc.Pending())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveContext_RollbackContinuesPastFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sc := NewSaveContext(db)
	sc.TrackInsert("candidates", "id-a")
	sc.TrackInsert("candidate_chunks", "id-b")

	mock.ExpectExec(`DELETE FROM candidate_chunks`).
		WithArgs("id-b").
		WillReturnError(assert.AnError)
	mock.ExpectExec(`DELETE FROM candidates`).
		WithArgs("id-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sc.Rollback(context.Background())
	require.NoError(t, mock.ExpectationsWereMet(), "later inverses still run after a failure")
}
