package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"lecture-ingest/internal/ai"
	"lecture-ingest/internal/ingest"
	"lecture-ingest/internal/metrics"
	"lecture-ingest/internal/model"
)

const (
	defaultEmbedBatchSize = 10
	defaultMaxAttempts    = 5
	resumeLimit           = 500
)

var vectorNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:lecture-ingest:vector"))

// locatorKeys identify a document's position inside its source file.
var locatorKeys = []string{"chunk", "segment", "page", "image", "frame"}

type Embedder interface {
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error)
}

type Index interface {
	Upsert(ctx context.Context, vectors []Vector) error
	DeleteByFilter(ctx context.Context, filter map[string]any) error
}

type TaskStore interface {
	Create(ctx context.Context, task *model.IndexTask) error
	GetByID(ctx context.Context, id uint) (*model.IndexTask, error)
	ListPending(ctx context.Context, limit int) ([]model.IndexTask, error)
	MarkCompleted(ctx context.Context, id uint) error
	RecordFailure(ctx context.Context, id uint, status, lastError string) error
}

type TaskPublisher interface {
	Publish(ctx context.Context, msg model.IndexTaskMessage) error
}

// Synchronizer keeps the vector index in step with the material registry.
// Deletes go through the index_tasks log so a failed call is retried later.
type Synchronizer struct {
	embedder    Embedder
	embedCfg    ai.EmbeddingConfig
	index       Index
	tasks       TaskStore
	publisher   TaskPublisher
	logger      *logrus.Logger
	batchSize   int
	maxAttempts int
}

type Option func(*Synchronizer)

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithEmbedBatchSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func NewSynchronizer(embedder Embedder, embedCfg ai.EmbeddingConfig, index Index, tasks TaskStore, publisher TaskPublisher, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		embedder:    embedder,
		embedCfg:    embedCfg,
		index:       index,
		tasks:       tasks,
		publisher:   publisher,
		logger:      logrus.StandardLogger(),
		batchSize:   defaultEmbedBatchSize,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert embeds docs and writes them to the index. An empty corpus is a no-op.
func (s *Synchronizer) Upsert(ctx context.Context, docs []ingest.Document) error {
	usable := make([]ingest.Document, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Text) != "" {
			usable = append(usable, d)
		}
	}
	if len(usable) == 0 {
		return nil
	}

	for start := 0; start < len(usable); start += s.batchSize {
		end := start + s.batchSize
		if end > len(usable) {
			end = len(usable)
		}
		batch := usable[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Text
		}
		embeddings, err := s.embedder.EmbedBatch(ctx, s.embedCfg, texts)
		if err != nil {
			metrics.IndexOperations.WithLabelValues("upsert", "error").Inc()
			return fmt.Errorf("embed documents %d-%d failed: %w", start, end, err)
		}
		if len(embeddings) != len(batch) {
			metrics.IndexOperations.WithLabelValues("upsert", "error").Inc()
			return fmt.Errorf("embed documents %d-%d returned %d vectors", start, end, len(embeddings))
		}

		vectors := make([]Vector, len(batch))
		for i, d := range batch {
			vectors[i] = Vector{ID: VectorID(d), Values: embeddings[i], Metadata: vectorMetadata(d)}
		}
		if err := s.index.Upsert(ctx, vectors); err != nil {
			metrics.IndexOperations.WithLabelValues("upsert", "error").Inc()
			return err
		}
	}
	metrics.IndexOperations.WithLabelValues("upsert", "ok").Inc()
	s.logger.WithField("documents", len(usable)).Info("vector index upserted")
	return nil
}

// VectorID is stable for a given material, modality, position and text, so
// re-ingesting the same content overwrites instead of duplicating.
func VectorID(d ingest.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v|%v|%s", d.Metadata[ingest.MetaMaterialID], d.Metadata[ingest.MetaModality], d.Source)
	for _, k := range locatorKeys {
		if v, ok := d.Metadata[k]; ok {
			fmt.Fprintf(&b, "|%s=%v", k, v)
		}
	}
	b.WriteString("|")
	b.WriteString(d.Text)
	return uuid.NewSHA1(vectorNamespace, []byte(b.String())).String()
}

func vectorMetadata(d ingest.Document) map[string]any {
	meta := make(map[string]any, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	meta["text"] = d.Text
	meta["source"] = d.Source
	return meta
}

// MaterialFilter matches every vector derived from one material.
func MaterialFilter(materialID uint) map[string]any {
	return map[string]any{
		ingest.MetaMaterialID: map[string]any{"$eq": materialID},
	}
}

// DeleteByMaterial removes the material's vectors. On failure the operation
// stays pending in the task log, is queued for retry and the error is returned.
func (s *Synchronizer) DeleteByMaterial(ctx context.Context, materialID uint) error {
	filter := MaterialFilter(materialID)
	raw, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("marshal delete filter failed: %w", err)
	}
	task := &model.IndexTask{
		Operation:  model.IndexOperationDelete,
		MaterialID: materialID,
		Status:     model.IndexTaskPending,
		Filter:     datatypes.JSON(raw),
	}
	entry := s.logger.WithField("material_id", materialID)

	if err := s.tasks.Create(ctx, task); err != nil {
		entry.WithError(err).Warn("index task log unavailable, deleting without retry")
		if derr := s.index.DeleteByFilter(ctx, filter); derr != nil {
			metrics.IndexOperations.WithLabelValues("delete", "error").Inc()
			return fmt.Errorf("delete vectors for material %d failed: %w", materialID, derr)
		}
		metrics.IndexOperations.WithLabelValues("delete", "ok").Inc()
		return nil
	}

	if err := s.index.DeleteByFilter(ctx, filter); err != nil {
		metrics.IndexOperations.WithLabelValues("delete", "error").Inc()
		entry.WithError(err).WithField("task_id", task.ID).Warn("vector delete failed, queued for retry")
		s.recordFailure(ctx, task, err)
		return fmt.Errorf("delete vectors for material %d failed: %w", materialID, err)
	}

	metrics.IndexOperations.WithLabelValues("delete", "ok").Inc()
	if err := s.tasks.MarkCompleted(ctx, task.ID); err != nil {
		entry.WithError(err).Warn("mark index task completed failed")
	}
	return nil
}

// Retry re-runs one logged task. Tasks already completed or failed are ignored.
func (s *Synchronizer) Retry(ctx context.Context, taskID uint) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil || task.Status != model.IndexTaskPending {
		return nil
	}
	if task.Operation != model.IndexOperationDelete {
		return s.tasks.RecordFailure(ctx, task.ID, model.IndexTaskFailed, "unsupported operation "+task.Operation)
	}

	filter := MaterialFilter(task.MaterialID)
	if len(task.Filter) > 0 {
		var stored map[string]any
		if err := json.Unmarshal(task.Filter, &stored); err == nil && len(stored) > 0 {
			filter = stored
		}
	}

	entry := s.logger.WithFields(logrus.Fields{"task_id": task.ID, "material_id": task.MaterialID, "attempt": task.Attempts + 1})
	if err := s.index.DeleteByFilter(ctx, filter); err != nil {
		metrics.IndexOperations.WithLabelValues("delete_retry", "error").Inc()
		entry.WithError(err).Warn("vector delete retry failed")
		s.recordFailure(ctx, task, err)
		return nil
	}
	metrics.IndexOperations.WithLabelValues("delete_retry", "ok").Inc()
	entry.Info("vector delete retry succeeded")
	return s.tasks.MarkCompleted(ctx, task.ID)
}

// recordFailure counts the attempt and either requeues the task or gives up.
func (s *Synchronizer) recordFailure(ctx context.Context, task *model.IndexTask, cause error) {
	status := model.IndexTaskPending
	if task.Attempts+1 >= s.maxAttempts {
		status = model.IndexTaskFailed
	}
	entry := s.logger.WithFields(logrus.Fields{"task_id": task.ID, "material_id": task.MaterialID})
	if err := s.tasks.RecordFailure(ctx, task.ID, status, cause.Error()); err != nil {
		entry.WithError(err).Error("record index task failure failed")
		return
	}
	if status == model.IndexTaskFailed {
		entry.Error("index task exhausted its attempts")
		return
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, model.IndexTaskMessage{TaskID: task.ID}); err != nil {
		entry.WithError(err).Warn("publish index task retry failed, will resume on restart")
	}
}

// ResumePending republishes every pending task, typically at startup.
func (s *Synchronizer) ResumePending(ctx context.Context) (int, error) {
	if s.publisher == nil {
		return 0, nil
	}
	pending, err := s.tasks.ListPending(ctx, resumeLimit)
	if err != nil {
		return 0, err
	}
	for i, task := range pending {
		if err := s.publisher.Publish(ctx, model.IndexTaskMessage{TaskID: task.ID}); err != nil {
			return i, fmt.Errorf("republish index task %d failed: %w", task.ID, err)
		}
	}
	if len(pending) > 0 {
		s.logger.WithField("tasks", len(pending)).Info("resumed pending index tasks")
	}
	return len(pending), nil
}
