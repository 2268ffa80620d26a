package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"lecture-ingest/internal/model"
	mysqlClient "lecture-ingest/internal/platform/mysql"
)

// Requires a disposable MySQL database:
// TEST_MYSQL_DSN="root:pw@tcp(localhost:3306)/ingest_test?charset=utf8mb4&parseTime=True&loc=UTC" go test ./internal/repository/...
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	db, err := mysqlClient.New(context.Background(), dsn, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable(&model.LectureMaterial{}, &model.IndexTask{}))
	require.NoError(t, db.AutoMigrate(&model.LectureMaterial{}, &model.IndexTask{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestLectureMaterialLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewLectureMaterialRepository(db)
	ctx := context.Background()

	first := &model.LectureMaterial{FileName: "week1.pdf", FileType: "application/pdf"}
	second := &model.LectureMaterial{FileName: "notes.md", FileType: "text/markdown"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.Less(t, first.ID, second.ID)
	assert.False(t, first.UploadedAt.IsZero())

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "week1.pdf", list[0].FileName)

	found, err := repo.Replace(ctx, first.ID, "week1-v2.pdf", "application/pdf")
	require.NoError(t, err)
	assert.True(t, found)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "week1-v2.pdf", got.FileName)
	assert.WithinDuration(t, first.UploadedAt, got.UploadedAt, time.Second)

	found, err = repo.Replace(ctx, 9999, "x", "y")
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err := repo.DeleteByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	got, err = repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// ids are not reused after delete
	third := &model.LectureMaterial{FileName: "lecture.mp4", FileType: "video/mp4"}
	require.NoError(t, repo.Create(ctx, third))
	assert.Greater(t, third.ID, second.ID)
}

func TestIndexTaskStatusTransitions(t *testing.T) {
	db := openTestDB(t)
	repo := NewIndexTaskRepository(db)
	ctx := context.Background()

	a := &model.IndexTask{Operation: model.IndexOperationDelete, MaterialID: 1, Status: model.IndexTaskPending}
	b := &model.IndexTask{Operation: model.IndexOperationDelete, MaterialID: 2, Status: model.IndexTaskPending}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	require.NoError(t, repo.RecordFailure(ctx, a.ID, model.IndexTaskPending, "timeout"))
	require.NoError(t, repo.MarkCompleted(ctx, b.ID))

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "timeout", pending[0].LastError)

	done, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, model.IndexTaskCompleted, done.Status)

	missing, err := repo.GetByID(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
