package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAuditRepository(db), mock
}

func TestRecordInsertsAuditRow(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	finished := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO document_audit").
		WithArgs("doc-1", "batch-1", "scan.png", "error", 0, "HTTP 502: Bad Gateway", int64(1500), finished).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Record(context.Background(), domain.AuditEntry{
		DocumentID:   "doc-1",
		BatchID:      "batch-1",
		Filename:     "scan.png",
		Status:       domain.StatusError,
		ErrorMessage: "HTTP 502: Bad Gateway",
		Duration:     1500 * time.Millisecond,
		FinishedAt:   finished,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWrapsDatabaseErrorsAsTemporary(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec("INSERT INTO document_audit").WillReturnError(errors.New("connection reset"))

	err := repo.Record(context.Background(), domain.AuditEntry{DocumentID: "doc-1", Status: domain.StatusCompleted})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))
}

func TestEnsureSchemaRunsUnderAdvisoryLock(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS document_audit").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
