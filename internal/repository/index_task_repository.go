package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"lecture-ingest/internal/model"
)

type IndexTaskRepository struct {
	db *gorm.DB
}

func NewIndexTaskRepository(db *gorm.DB) *IndexTaskRepository {
	return &IndexTaskRepository{db: db}
}

func (r *IndexTaskRepository) Create(ctx context.Context, task *model.IndexTask) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create index task failed: %w", err)
	}
	return nil
}

func (r *IndexTaskRepository) GetByID(ctx context.Context, id uint) (*model.IndexTask, error) {
	var task model.IndexTask
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query index task failed: %w", err)
	}
	return &task, nil
}

// ListPending returns pending tasks, oldest first.
func (r *IndexTaskRepository) ListPending(ctx context.Context, limit int) ([]model.IndexTask, error) {
	var list []model.IndexTask
	q := r.db.WithContext(ctx).Where("status = ?", model.IndexTaskPending).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list pending index tasks failed: %w", err)
	}
	return list, nil
}

func (r *IndexTaskRepository) MarkCompleted(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&model.IndexTask{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     model.IndexTaskCompleted,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": "",
	}).Error
	if err != nil {
		return fmt.Errorf("mark index task completed failed: %w", err)
	}
	return nil
}

// RecordFailure bumps the attempt counter and stores the error; status is
// either pending (retry later) or failed (give up).
func (r *IndexTaskRepository) RecordFailure(ctx context.Context, id uint, status, lastError string) error {
	err := r.db.WithContext(ctx).Model(&model.IndexTask{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastError,
	}).Error
	if err != nil {
		return fmt.Errorf("record index task failure failed: %w", err)
	}
	return nil
}
