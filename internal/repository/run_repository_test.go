package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"go-receipt-forensics/pkg/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		DriverName:           "postgres",
		Conn:                 db,
		PreferSimpleProtocol: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}
	return gormDB, mock
}

var runColumns = []string{"run_id", "receipt_id", "state", "manipulation_score", "verdict_band",
	"error_kind", "message", "payload", "created_at", "completed_at"}

func TestSaveResult_Upserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormRunRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "verification_runs" .* ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.SaveResult(context.Background(), &models.VerificationResult{
		RunID: "run-1", ReceiptID: "r-1", ManipulationScore: 91, VerdictBand: "fraudulent",
		Timestamp: time.Now().UTC(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFailure_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormRunRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "verification_runs"`).
		WillReturnError(errors.New("db error"))
	mock.ExpectRollback()

	err := repo.SaveFailure(context.Background(), &models.FailureResult{RunID: "run-2", ErrorKind: "decode_error"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save run run-2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_DecodesPayload(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormRunRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT \* FROM "verification_runs" WHERE run_id = \$1`).
		WillReturnRows(sqlmock.NewRows(runColumns).AddRow(
			"run-1", "r-1", "complete", 91, "fraudulent", "", "",
			`{"run_id":"run-1","manipulation_score":91,"verdict_band":"fraudulent","heatmap":[[0.5]],"suspicious_regions":[],"findings":[]}`,
			now, now))

	st, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "complete", st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, 91, st.Result.ManipulationScore)
	assert.Nil(t, st.Failure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormRunRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "verification_runs"`).
		WillReturnRows(sqlmock.NewRows(runColumns))

	_, err := repo.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListByReceipt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormRunRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT \* FROM "verification_runs" WHERE receipt_id = \$1 ORDER BY completed_at desc`).
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow("run-2", "r-1", "failed", nil, "", "decode_error", "bad image",
				`{"run_id":"run-2","error_kind":"decode_error","message":"bad image"}`, now, now).
			AddRow("run-1", "r-1", "complete", 10, "authentic", "", "",
				`{"run_id":"run-1","manipulation_score":10}`, now, now))

	runs, err := repo.ListByReceipt(context.Background(), "r-1", 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "decode_error", runs[0].Failure.ErrorKind)
	assert.Equal(t, 10, runs[1].Result.ManipulationScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("sqlite", "file::memory:")
	assert.Error(t, err)
}

func TestMemoryRunRepository(t *testing.T) {
	repo := NewMemoryRunRepository()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveResult(ctx, &models.VerificationResult{RunID: "a", ReceiptID: "r", Timestamp: t0}))
	require.NoError(t, repo.SaveFailure(ctx, &models.FailureResult{RunID: "b", ReceiptID: "r", Timestamp: t0.Add(time.Minute)}))

	st, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "complete", st.State)

	_, err = repo.Get(ctx, "zzz")
	assert.ErrorIs(t, err, ErrRunNotFound)

	runs, err := repo.ListByReceipt(ctx, "r", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].RunID, "newest first")

	runs, _ = repo.ListByReceipt(ctx, "r", 1)
	assert.Len(t, runs, 1)
}
