package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"lecture-ingest/internal/metrics"
	"lecture-ingest/internal/workspace"
)

const (
	defaultFrameInterval = 1
	statusRecordTimeout  = 3 * time.Second
)

// Orchestrator drives one upload batch through classification, registration,
// extraction, aggregation and indexing, and always releases the request's
// workspace before returning.
type Orchestrator struct {
	registry   Registry
	workspaces *workspace.Manager
	procs      Processors
	indexer    Indexer
	tracker    StatusTracker
	logger     *logrus.Logger

	processorTimeout time.Duration
	frameInterval    int
	pool             *ants.Pool
	newRequestID     func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

func WithLogger(logger *logrus.Logger) Option {
	return func(o *Orchestrator) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

func WithStatusTracker(tracker StatusTracker) Option {
	return func(o *Orchestrator) error {
		if tracker != nil {
			o.tracker = tracker
		}
		return nil
	}
}

// WithProcessorTimeout bounds each modality processor run. Zero disables the bound.
func WithProcessorTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.processorTimeout = d
		return nil
	}
}

func WithFrameInterval(seconds int) Option {
	return func(o *Orchestrator) error {
		if seconds <= 0 {
			return fmt.Errorf("frame interval must be positive, got %d", seconds)
		}
		o.frameInterval = seconds
		return nil
	}
}

// WithParallelProcessors runs independent modality processors concurrently
// on a pool of the given size.
func WithParallelProcessors(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			size = 1
		}
		if o.pool != nil {
			o.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		o.pool = pool
		return nil
	}
}

func WithRequestIDFunc(fn func() string) Option {
	return func(o *Orchestrator) error {
		if fn != nil {
			o.newRequestID = fn
		}
		return nil
	}
}

func NewOrchestrator(registry Registry, workspaces *workspace.Manager, procs Processors, indexer Indexer, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if workspaces == nil {
		return nil, ErrWorkspaceRequired
	}
	if indexer == nil {
		return nil, ErrIndexerRequired
	}
	if err := procs.validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		registry:      registry,
		workspaces:    workspaces,
		procs:         procs,
		indexer:       indexer,
		tracker:       noopTracker{},
		logger:        logrus.StandardLogger(),
		frameInterval: defaultFrameInterval,
		newRequestID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			o.Release()
			return nil, err
		}
	}
	return o, nil
}

// Release frees the worker pool, if any.
func (o *Orchestrator) Release() {
	if o.pool != nil {
		o.pool.Release()
		o.pool = nil
	}
}

// run carries the mutable state of one request.
type run struct {
	id        string
	batch     Batch
	status    Status
	queues    Queues
	echoes    []FileEcho
	committed []CommittedRecord
	logger    *logrus.Entry
}

// Ingest processes batch end to end. On failure the returned error is an
// *IngestError and the result still lists every registered file.
func (o *Orchestrator) Ingest(ctx context.Context, batch Batch) (*Result, error) {
	if err := validateBatch(batch); err != nil {
		return nil, err
	}

	r := &run{
		id:     o.newRequestID(),
		batch:  batch,
		status: Status{Files: len(batch.Files)},
	}
	r.status.RequestID = r.id
	r.logger = o.logger.WithFields(logrus.Fields{
		"request_id": r.id,
		"course":     batch.Course,
		"subject":    batch.Subject,
	})
	o.transition(ctx, r, StateReceived)

	ws, err := o.workspaces.Acquire(r.id)
	if err != nil {
		return o.finish(ctx, r, &IngestError{Stage: StageWorkspace, Err: err})
	}
	defer ws.Release()

	docs, ingestErr := o.execute(ctx, r, ws)
	r.status.Documents = len(docs)

	if err := ws.Release(); err != nil {
		r.logger.WithError(err).Warn("workspace cleanup failed")
	}
	o.transition(ctx, r, StateCleaned)

	return o.finish(ctx, r, ingestErr)
}

func (o *Orchestrator) execute(ctx context.Context, r *run, ws *workspace.Workspace) ([]Document, *IngestError) {
	if err := o.classifyAndRegister(ctx, r); err != nil {
		return nil, err
	}
	o.transition(ctx, r, StateClassified)

	if err := stageFiles(r, ws); err != nil {
		return nil, err
	}

	outputs, err := o.process(ctx, r, ws)
	if err != nil {
		return nil, err
	}
	o.transition(ctx, r, StateProcessed)

	docs, aggErr := Aggregate(AggregateInput{
		Course:  r.batch.Course,
		Subject: r.batch.Subject,
		Files:   r.queues.All(),
		Outputs: outputs,
	})
	if aggErr != nil {
		return nil, &IngestError{Stage: StageAggregate, Err: aggErr}
	}
	r.status.Documents = len(docs)
	o.transition(ctx, r, StateAggregated)

	if err := o.indexer.Upsert(ctx, docs); err != nil {
		r.logger.WithError(err).WithField("documents", len(docs)).Error("vector index upsert failed")
		return docs, &IngestError{Stage: StageIndex, Err: fmt.Errorf("%w: %w", ErrIndexSync, err)}
	}
	o.transition(ctx, r, StateIndexed)
	return docs, nil
}

// classifyAndRegister writes one registry row per file, in batch order,
// whether or not the file has a processing path.
func (o *Orchestrator) classifyAndRegister(ctx context.Context, r *run) *IngestError {
	for _, file := range r.batch.Files {
		modality := Classify(file.Name)

		id, err := o.registry.Register(ctx, file.Name, file.ContentType, file.Data)
		if err != nil {
			r.logger.WithError(err).WithField("filename", file.Name).Error("register material failed")
			return &IngestError{Stage: StageRegister, Files: []string{file.Name}, Err: err}
		}
		r.committed = append(r.committed, CommittedRecord{MaterialID: id, Filename: file.Name})

		cf := ClassifiedFile{
			File:       file,
			Modality:   modality,
			MaterialID: id,
			StagedName: stagedName(id, file.Name),
		}
		echo := FileEcho{
			Filename:   file.Name,
			Course:     r.batch.Course,
			Subject:    r.batch.Subject,
			MaterialID: id,
			Modality:   modality,
			Status:     FileStatusAccepted,
		}
		if !cf.Accepted() {
			echo.Status = FileStatusSkipped
			echo.Reason = skipReason(file.Name)
			r.logger.WithFields(logrus.Fields{
				"filename":    file.Name,
				"material_id": id,
			}).Warn("file skipped: " + echo.Reason)
		} else {
			r.queues.Add(cf)
		}
		r.echoes = append(r.echoes, echo)
	}
	return nil
}

var stagingDirs = map[Modality]string{
	ModalityPDF:   workspace.DirPDFs,
	ModalityVideo: workspace.DirVideos,
	ModalityText:  workspace.DirTextFiles,
}

// stageFiles writes disk-based modalities into the workspace. Audio is
// decoded from memory and needs no staging.
func stageFiles(r *run, ws *workspace.Workspace) *IngestError {
	for modality, dirName := range stagingDirs {
		dir := ws.Dir(dirName)
		for _, cf := range r.queues.Of(modality) {
			path := filepath.Join(dir, cf.StagedName)
			if err := os.WriteFile(path, cf.File.Data, 0o644); err != nil {
				return &IngestError{
					Stage:    StageStaging,
					Modality: modality,
					Files:    []string{cf.File.Name},
					Err:      fmt.Errorf("stage %s failed: %w", cf.StagedName, err),
				}
			}
		}
	}
	return nil
}

type modalityJob struct {
	modality Modality
	files    []ClassifiedFile
	run      func(ctx context.Context) ([]Document, *ProcessorFailure)
}

type jobOutcome struct {
	docs    []Document
	failure *ProcessorFailure
}

// process runs every non-empty modality queue through its processor. Each job
// owns one result slot, so the merge below is the only writer of outputs.
func (o *Orchestrator) process(ctx context.Context, r *run, ws *workspace.Workspace) (map[Modality][]Document, *IngestError) {
	jobs := o.jobsFor(r, ws)
	results := make([]jobOutcome, len(jobs))

	if o.pool == nil || len(jobs) < 2 {
		for i, job := range jobs {
			results[i] = o.runJob(ctx, r, job)
		}
	} else {
		var wg sync.WaitGroup
		for i, job := range jobs {
			i, job := i, job
			wg.Add(1)
			if err := o.pool.Submit(func() {
				defer wg.Done()
				results[i] = o.runJob(ctx, r, job)
			}); err != nil {
				wg.Done()
				results[i] = jobOutcome{failure: newFailure(job.modality, job.files, err)}
			}
		}
		wg.Wait()
	}

	outputs := make(map[Modality][]Document, len(jobs))
	var failures []error
	var first *ProcessorFailure
	for i, res := range results {
		if res.failure != nil {
			if first == nil {
				first = res.failure
			}
			failures = append(failures, res.failure)
			continue
		}
		outputs[jobs[i].modality] = res.docs
	}
	if first != nil {
		return nil, &IngestError{
			Stage:    StageProcess,
			Modality: first.Modality,
			Files:    first.Files,
			Err:      errors.Join(failures...),
		}
	}
	return outputs, nil
}

func (o *Orchestrator) runJob(ctx context.Context, r *run, job modalityJob) jobOutcome {
	jobCtx := ctx
	if o.processorTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, o.processorTimeout)
		defer cancel()
	}

	start := time.Now()
	var docs []Document
	var failure *ProcessorFailure
	if err := jobCtx.Err(); err != nil {
		failure = newFailure(job.modality, job.files, err)
	} else {
		docs, failure = job.run(jobCtx)
	}
	elapsed := time.Since(start)

	entry := r.logger.WithFields(logrus.Fields{
		"modality": job.modality,
		"files":    len(job.files),
		"elapsed":  elapsed.String(),
	})
	if failure != nil {
		metrics.ObserveProcessor(string(job.modality), "failed", elapsed)
		entry.WithError(failure.Err).WithFields(logrus.Fields{
			"filename":    strings.Join(failure.Files, ","),
			"material_id": failure.MaterialIDs,
		}).Error("modality processor failed")
		return jobOutcome{failure: failure}
	}
	metrics.ObserveProcessor(string(job.modality), "completed", elapsed)
	entry.WithField("documents", len(docs)).Info("modality processed")
	return jobOutcome{docs: docs}
}

// jobsFor returns one job per non-empty queue, in aggregation order.
func (o *Orchestrator) jobsFor(r *run, ws *workspace.Workspace) []modalityJob {
	var jobs []modalityJob
	if files := r.queues.Text; len(files) > 0 {
		jobs = append(jobs, modalityJob{modality: ModalityText, files: files, run: func(ctx context.Context) ([]Document, *ProcessorFailure) {
			docs, err := o.procs.Text.NormalizeText(ctx, ws.Dir(workspace.DirTextFiles))
			if err != nil {
				return nil, newFailure(ModalityText, files, err)
			}
			return docs, nil
		}})
	}
	if files := r.queues.Audio; len(files) > 0 {
		jobs = append(jobs, modalityJob{modality: ModalityAudio, files: files, run: func(ctx context.Context) ([]Document, *ProcessorFailure) {
			return o.transcribeAll(ctx, files)
		}})
	}
	if files := r.queues.PDF; len(files) > 0 {
		jobs = append(jobs, modalityJob{modality: ModalityPDF, files: files, run: func(ctx context.Context) ([]Document, *ProcessorFailure) {
			docs, err := o.procs.Images.ExtractAndCaptionImages(ctx, ws.Dir(workspace.DirPDFs), ws.Dir(workspace.DirExtractedImages))
			if err != nil {
				return nil, newFailure(ModalityPDF, files, err)
			}
			return docs, nil
		}})
	}
	if files := r.queues.Video; len(files) > 0 {
		jobs = append(jobs, modalityJob{modality: ModalityVideo, files: files, run: func(ctx context.Context) ([]Document, *ProcessorFailure) {
			docs, err := o.procs.Frames.ExtractAndCaptionFrames(ctx, ws.Dir(workspace.DirVideos), ws.Dir(workspace.DirVideoFrames), o.frameInterval)
			if err != nil {
				return nil, newFailure(ModalityVideo, files, err)
			}
			return docs, nil
		}})
	}
	return jobs
}

// transcribeAll decodes and transcribes audio files one by one so a failure
// names the exact file.
func (o *Orchestrator) transcribeAll(ctx context.Context, files []ClassifiedFile) ([]Document, *ProcessorFailure) {
	var docs []Document
	for _, cf := range files {
		one := []ClassifiedFile{cf}
		waveform, err := o.procs.Decoder.Decode(ctx, cf.File.Data)
		if err != nil {
			return nil, newFailure(ModalityAudio, one, fmt.Errorf("decode audio: %w", err))
		}
		segments, err := o.procs.Transcriber.Transcribe(ctx, waveform.Samples, waveform.SampleRate, cf.StagedName)
		if err != nil {
			return nil, newFailure(ModalityAudio, one, err)
		}
		docs = append(docs, segments...)
	}
	return docs, nil
}

func newFailure(modality Modality, files []ClassifiedFile, err error) *ProcessorFailure {
	f := &ProcessorFailure{Modality: modality, Err: err}
	for _, cf := range files {
		f.Files = append(f.Files, cf.File.Name)
		f.MaterialIDs = append(f.MaterialIDs, cf.MaterialID)
	}
	return f
}

// transition records state on a context detached from the request, so a
// client disconnect still leaves the terminal state behind.
func (o *Orchestrator) transition(ctx context.Context, r *run, state State) {
	r.status.State = state
	r.status.UpdatedAt = time.Now().UTC()
	r.logger.WithField("state", state).Debug("ingestion state changed")

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusRecordTimeout)
	defer cancel()
	if err := o.tracker.Record(recordCtx, r.status); err != nil {
		r.logger.WithError(err).Warn("record ingestion status failed")
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, ingestErr *IngestError) (*Result, error) {
	result := &Result{
		RequestID: r.id,
		Files:     r.echoes,
		Documents: r.status.Documents,
	}
	if ingestErr == nil {
		o.transition(ctx, r, StateCompleted)
		metrics.IngestionsTotal.WithLabelValues(string(StateCompleted)).Inc()
		result.State = StateCompleted
		r.logger.WithField("documents", result.Documents).Info("ingestion completed")
		return result, nil
	}

	ingestErr.RequestID = r.id
	ingestErr.Committed = r.committed
	r.status.FailedStage = ingestErr.Stage
	r.status.Error = ingestErr.Error()
	o.transition(ctx, r, StateFailed)
	metrics.IngestionsTotal.WithLabelValues(string(StateFailed)).Inc()
	result.State = StateFailed
	r.logger.WithError(ingestErr).WithField("committed", len(r.committed)).Error("ingestion failed")
	return result, ingestErr
}

func validateBatch(batch Batch) error {
	if strings.TrimSpace(batch.Course) == "" {
		return fmt.Errorf("%w: course is required", ErrInvalidBatch)
	}
	if strings.TrimSpace(batch.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidBatch)
	}
	if len(batch.Files) == 0 {
		return fmt.Errorf("%w: at least one file is required", ErrInvalidBatch)
	}
	for i, f := range batch.Files {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: file %d has an empty name", ErrInvalidBatch, i)
		}
	}
	return nil
}
