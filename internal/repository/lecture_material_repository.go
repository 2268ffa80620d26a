package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"lecture-ingest/internal/model"
)

type LectureMaterialRepository struct {
	db *gorm.DB
}

func NewLectureMaterialRepository(db *gorm.DB) *LectureMaterialRepository {
	return &LectureMaterialRepository{db: db}
}

// List returns every material in insertion order.
func (r *LectureMaterialRepository) List(ctx context.Context) ([]model.LectureMaterial, error) {
	var list []model.LectureMaterial
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list lecture materials failed: %w", err)
	}
	return list, nil
}

func (r *LectureMaterialRepository) GetByID(ctx context.Context, id uint) (*model.LectureMaterial, error) {
	var material model.LectureMaterial
	if err := r.db.WithContext(ctx).First(&material, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query lecture material by id failed: %w", err)
	}
	return &material, nil
}

func (r *LectureMaterialRepository) Create(ctx context.Context, material *model.LectureMaterial) error {
	if err := r.db.WithContext(ctx).Create(material).Error; err != nil {
		return fmt.Errorf("create lecture material failed: %w", err)
	}
	return nil
}

// Replace overwrites name and type of an existing row. It reports false when
// the row does not exist.
func (r *LectureMaterialRepository) Replace(ctx context.Context, id uint, fileName, fileType string) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var material model.LectureMaterial
		if err := tx.First(&material, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true
		return tx.Model(&material).Updates(map[string]interface{}{
			"file_name": fileName,
			"file_type": fileType,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("update lecture material failed: %w", err)
	}
	return found, nil
}

// DeleteByID removes the row and reports whether one existed.
func (r *LectureMaterialRepository) DeleteByID(ctx context.Context, id uint) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&model.LectureMaterial{}, id)
	if result.Error != nil {
		return false, fmt.Errorf("delete lecture material failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
