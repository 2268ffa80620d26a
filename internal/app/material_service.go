package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"lecture-ingest/internal/model"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrMaterialNotFound = errors.New("lecture material not found")
)

type MaterialStore interface {
	List(ctx context.Context) ([]model.LectureMaterial, error)
	GetByID(ctx context.Context, id uint) (*model.LectureMaterial, error)
	Create(ctx context.Context, material *model.LectureMaterial) error
	Replace(ctx context.Context, id uint, fileName, fileType string) (bool, error)
	DeleteByID(ctx context.Context, id uint) (bool, error)
}

// UploadStore keeps original file bytes keyed by material id. Save returns
// the key of the stored copy; DeleteAll removes every copy except keep.
type UploadStore interface {
	Save(ctx context.Context, materialID uint, filename, contentType string, data []byte) (string, error)
	DeleteAll(ctx context.Context, materialID uint, keep ...string) error
}

type VectorDeleter interface {
	DeleteByMaterial(ctx context.Context, materialID uint) error
}

// MaterialService owns the lecture_materials records and the bytes and
// vectors that hang off them.
type MaterialService struct {
	repo    MaterialStore
	uploads UploadStore
	index   VectorDeleter
	logger  *logrus.Logger
}

type UpdateInput struct {
	FileName string
	FileType string
	// Data replaces the stored bytes when non-nil.
	Data []byte
}

// DeleteResult carries the outcome of the vector index cleanup. The record
// is gone even when IndexErr is set.
type DeleteResult struct {
	IndexErr error
}

func NewMaterialService(repo MaterialStore, uploads UploadStore, index VectorDeleter, logger *logrus.Logger) *MaterialService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MaterialService{
		repo:    repo,
		uploads: uploads,
		index:   index,
		logger:  logger,
	}
}

func (s *MaterialService) List(ctx context.Context) ([]model.LectureMaterial, error) {
	return s.repo.List(ctx)
}

func (s *MaterialService) Get(ctx context.Context, id uint) (*model.LectureMaterial, error) {
	material, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if material == nil {
		return nil, ErrMaterialNotFound
	}
	return material, nil
}

// Register writes the record and stores the bytes. If the bytes cannot be
// stored the record is removed again so no row points at missing content.
// Name and content type are persisted exactly as submitted.
func (s *MaterialService) Register(ctx context.Context, name, contentType string, data []byte) (uint, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrInvalidInput
	}

	material := &model.LectureMaterial{FileName: name, FileType: contentType}
	if err := s.repo.Create(ctx, material); err != nil {
		return 0, err
	}

	if _, err := s.uploads.Save(ctx, material.ID, name, contentType, data); err != nil {
		if _, derr := s.repo.DeleteByID(context.WithoutCancel(ctx), material.ID); derr != nil {
			s.logger.WithError(derr).WithField("material_id", material.ID).Error("roll back material record failed")
		}
		return 0, fmt.Errorf("store upload %s failed: %w", name, err)
	}

	s.logger.WithFields(logrus.Fields{
		"material_id": material.ID,
		"filename":    name,
		"file_type":   contentType,
	}).Info("lecture material registered")
	return material.ID, nil
}

// Update replaces name and type. With a payload the new bytes are stored
// before the record changes, and older stored copies are removed last.
func (s *MaterialService) Update(ctx context.Context, id uint, input UpdateInput) error {
	if strings.TrimSpace(input.FileName) == "" || strings.TrimSpace(input.FileType) == "" {
		return ErrInvalidInput
	}

	var key string
	if input.Data != nil {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		saved, err := s.uploads.Save(ctx, id, input.FileName, input.FileType, input.Data)
		if err != nil {
			return fmt.Errorf("store replacement upload failed: %w", err)
		}
		key = saved
	}

	found, err := s.repo.Replace(ctx, id, input.FileName, input.FileType)
	if err != nil {
		return err
	}
	if !found {
		return ErrMaterialNotFound
	}

	if key != "" {
		if err := s.uploads.DeleteAll(ctx, id, key); err != nil {
			s.logger.WithError(err).WithField("material_id", id).Warn("remove previous upload failed")
		}
	}
	return nil
}

// Delete removes the record first. A missing record touches nothing else;
// otherwise stored bytes are dropped and the index is asked exactly once to
// forget the material.
func (s *MaterialService) Delete(ctx context.Context, id uint) (*DeleteResult, error) {
	found, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrMaterialNotFound
	}

	entry := s.logger.WithField("material_id", id)
	if err := s.uploads.DeleteAll(ctx, id); err != nil {
		entry.WithError(err).Warn("remove stored upload failed")
	}

	result := &DeleteResult{}
	if err := s.index.DeleteByMaterial(ctx, id); err != nil {
		entry.WithError(err).Warn("vector index delete failed")
		result.IndexErr = err
	}
	entry.Info("lecture material deleted")
	return result, nil
}
