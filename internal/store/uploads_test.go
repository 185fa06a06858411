package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func TestCreateUpload_DefaultsStatus(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectExec("INSERT INTO uploads").
		WithArgs(pgxmock.AnyArg(), "proj-1", "transactions", "uploaded",
			"/data/uploads/abc.csv", "sales.csv", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgresWithPool(pool)
	upload := &model.Upload{
		ProjectID:        "proj-1",
		Type:             model.UploadTransactions,
		FilePath:         "/data/uploads/abc.csv",
		OriginalFilename: "sales.csv",
	}
	require.NoError(t, s.CreateUpload(context.Background(), upload))
	assert.NotEmpty(t, upload.ID)
	assert.Equal(t, model.UploadStatusUploaded, upload.Status)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestGetUpload_DeletedInvisible(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectQuery("FROM uploads u JOIN projects p").
		WithArgs("up-1", "user-1").
		WillReturnError(pgx.ErrNoRows)

	s := NewPostgresWithPool(pool)
	upload, err := s.GetUpload(context.Background(), "up-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, upload)
}

func TestSetUploadStatus_NotFound(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectExec("UPDATE uploads SET status").
		WithArgs("imported", "up-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s := NewPostgresWithPool(pool)
	err = s.SetUploadStatus(context.Background(), "up-x", model.UploadStatusImported)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload not found")
}

func TestSaveMapping_Upserts(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectExec("INSERT INTO column_mappings").
		WithArgs("up-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgresWithPool(pool)
	mapping, err := s.SaveMapping(context.Background(), "up-1", model.MappingConfig{
		Mapping:                map[string]string{"Дата оплаты": "paid_at", "Сумма": "amount", "Тип": "operation_type"},
		UnknownOperationPolicy: "ignore",
	})
	require.NoError(t, err)
	assert.Equal(t, "up-1", mapping.UploadID)
	assert.Equal(t, "ignore", mapping.Config.UnknownOperationPolicy)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestCleanupUploads_SkipsBound(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	cutoff := time.Now().Add(-24 * time.Hour)
	pool.ExpectExec("UPDATE uploads SET status = 'deleted'").
		WithArgs("proj-1", cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	s := NewPostgresWithPool(pool)
	n, err := s.CleanupUploads(context.Background(), "proj-1", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, pool.ExpectationsWereMet())
}
