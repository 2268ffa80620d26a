package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lecture-ingest/internal/workspace"
)

type harness struct {
	root     string
	registry *fakeRegistry
	procs    *fakeProcessors
	indexer  *fakeIndexer
	tracker  *fakeTracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		root:     t.TempDir(),
		registry: &fakeRegistry{},
		procs:    newFakeProcessors(),
		indexer:  &fakeIndexer{},
		tracker:  &fakeTracker{},
	}
}

func (h *harness) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	base := []Option{WithLogger(logger), WithStatusTracker(h.tracker), WithProcessorTimeout(time.Minute)}
	o, err := NewOrchestrator(h.registry, workspace.NewManager(h.root), h.procs.processors(), h.indexer, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(o.Release)
	return o
}

func batchOf(names ...string) Batch {
	b := Batch{Course: "CS101", Subject: "Algorithms"}
	for _, n := range names {
		b.Files = append(b.Files, File{Name: n, ContentType: "application/octet-stream", Data: []byte("data of " + n)})
	}
	return b
}

func TestIngestScenarioA(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	result, err := o.Ingest(context.Background(), batchOf("lecture.pdf", "lecture.mp3", "notes.txt"))
	require.NoError(t, err)

	require.Len(t, result.Files, 3)
	for i, name := range []string{"lecture.pdf", "lecture.mp3", "notes.txt"} {
		assert.Equal(t, name, result.Files[i].Filename)
		assert.Equal(t, "CS101", result.Files[i].Course)
		assert.Equal(t, "Algorithms", result.Files[i].Subject)
		assert.Equal(t, FileStatusAccepted, result.Files[i].Status)
	}

	// 2 pdf captions + 3 audio segments + 1 text chunk.
	assert.Equal(t, 6, result.Documents)
	assert.Equal(t, StateCompleted, result.State)
	require.Equal(t, 1, h.indexer.calls)
	require.Len(t, h.indexer.docs, 6)

	wantModalities := []string{"text", "audio", "audio", "audio", "pdf", "pdf"}
	for i, doc := range h.indexer.docs {
		assert.Equal(t, "CS101", doc.Metadata[MetaCourse])
		assert.Equal(t, "Algorithms", doc.Metadata[MetaSubject])
		assert.Equal(t, wantModalities[i], doc.Metadata[MetaModality])
		filename := doc.Metadata[MetaFilename].(string)
		assert.Equal(t, h.registry.idOf(filename), doc.Metadata[MetaMaterialID])
	}
}

func TestIngestScenarioB(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	result, err := o.Ingest(context.Background(), batchOf("slides.pptx"))
	require.NoError(t, err)

	assert.Len(t, result.Files, 1)
	assert.Equal(t, 1, h.procs.count("text"))
	assert.Zero(t, h.procs.count("decode"))
	assert.Zero(t, h.procs.count("transcribe"))
	assert.Zero(t, h.procs.count("images"))
	assert.Zero(t, h.procs.count("frames"))
}

func TestIngestSkipsAudioWhenNoAudioFiles(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	_, err := o.Ingest(context.Background(), batchOf("a.pdf", "b.mov", "c.md"))
	require.NoError(t, err)

	assert.Zero(t, h.procs.count("transcribe"))
	assert.Zero(t, h.procs.count("decode"))
	assert.Equal(t, 1, h.procs.count("images"))
	assert.Equal(t, 1, h.procs.count("frames"))
}

func TestIngestRegistersAndEchoesUnsupportedFiles(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	result, err := o.Ingest(context.Background(), batchOf("photo.jpg", "notes.txt", "Makefile"))
	require.NoError(t, err)

	assert.Len(t, h.registry.rows, 3)
	require.Len(t, result.Files, 3)
	assert.Equal(t, FileStatusSkipped, result.Files[0].Status)
	assert.Equal(t, ModalityUnsupported, result.Files[0].Modality)
	assert.Contains(t, result.Files[0].Reason, ".jpg")
	assert.Equal(t, FileStatusAccepted, result.Files[1].Status)
	assert.Equal(t, FileStatusSkipped, result.Files[2].Status)
	assert.Equal(t, 1, result.Documents)
}

func TestIngestOnlyUnsupportedStillIndexesOnce(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	result, err := o.Ingest(context.Background(), batchOf("a.bin"))
	require.NoError(t, err)

	assert.Len(t, result.Files, 1)
	assert.Zero(t, result.Documents)
	assert.Equal(t, 1, h.indexer.calls)
	assert.Zero(t, h.procs.count("text"))
}

func TestIngestProcessorFailureReleasesWorkspace(t *testing.T) {
	h := newHarness(t)
	h.procs.fail[ModalityPDF] = errors.New("poppler crashed")
	o := h.orchestrator(t, WithRequestIDFunc(func() string { return "req-fail" }))

	result, err := o.Ingest(context.Background(), batchOf("notes.txt", "lecture.pdf"))
	require.Error(t, err)

	var ingestErr *IngestError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, StageProcess, ingestErr.Stage)
	assert.Equal(t, ModalityPDF, ingestErr.Modality)
	assert.Equal(t, []string{"lecture.pdf"}, ingestErr.Files)
	assert.Equal(t, "req-fail", ingestErr.RequestID)
	assert.Len(t, ingestErr.Committed, 2)
	assert.ErrorIs(t, err, ErrProcessorFailure)

	var failure *ProcessorFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, []uint{h.registry.idOf("lecture.pdf")}, failure.MaterialIDs)

	assert.Zero(t, h.indexer.calls)
	assert.Equal(t, StateFailed, result.State)
	assert.Len(t, result.Files, 2)

	_, statErr := os.Stat(filepath.Join(h.root, "req-fail"))
	assert.True(t, os.IsNotExist(statErr))

	assert.Contains(t, h.tracker.states, StateCleaned)
	assert.Equal(t, StateFailed, h.tracker.states[len(h.tracker.states)-1])
	assert.Equal(t, StageProcess, h.tracker.last.FailedStage)
}

func TestIngestAudioFailureNamesTheFile(t *testing.T) {
	h := newHarness(t)
	h.procs.fail[ModalityAudio] = errors.New("model unavailable")
	o := h.orchestrator(t)

	_, err := o.Ingest(context.Background(), batchOf("week1.mp3", "week2.mp3"))

	var ingestErr *IngestError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, ModalityAudio, ingestErr.Modality)
	assert.Equal(t, []string{"week1.mp3"}, ingestErr.Files)
	assert.Equal(t, 1, h.procs.count("transcribe"))
}

func TestIngestIndexFailureBlocksSuccess(t *testing.T) {
	h := newHarness(t)
	h.indexer.err = errors.New("index unreachable")
	o := h.orchestrator(t, WithRequestIDFunc(func() string { return "req-index" }))

	result, err := o.Ingest(context.Background(), batchOf("notes.txt"))

	var ingestErr *IngestError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, StageIndex, ingestErr.Stage)
	assert.ErrorIs(t, err, ErrIndexSync)
	assert.Equal(t, StateFailed, result.State)

	_, statErr := os.Stat(filepath.Join(h.root, "req-index"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestIngestRegistryFailureStopsBeforeProcessing(t *testing.T) {
	h := newHarness(t)
	h.registry.failOn = "b.txt"
	o := h.orchestrator(t)

	_, err := o.Ingest(context.Background(), batchOf("a.txt", "b.txt", "c.txt"))

	var ingestErr *IngestError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, StageRegister, ingestErr.Stage)
	assert.Equal(t, []CommittedRecord{{MaterialID: 1, Filename: "a.txt"}}, ingestErr.Committed)
	assert.Zero(t, h.procs.count("text"))
}

func TestIngestRejectsInvalidBatch(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	cases := map[string]Batch{
		"empty name":    {Course: "c", Subject: "s", Files: []File{{Name: ""}}},
		"no files":      {Course: "c", Subject: "s"},
		"blank course":  {Course: " ", Subject: "s", Files: []File{{Name: "a.txt"}}},
		"blank subject": {Course: "c", Files: []File{{Name: "a.txt"}}},
	}
	for name, batch := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := o.Ingest(context.Background(), batch)
			assert.ErrorIs(t, err, ErrInvalidBatch)
		})
	}
	assert.Empty(t, h.registry.rows)
}

func TestIngestUnresolvedSourceFailsAggregation(t *testing.T) {
	h := newHarness(t)
	h.procs.ghostText = true
	o := h.orchestrator(t)

	_, err := o.Ingest(context.Background(), batchOf("notes.txt"))

	var ingestErr *IngestError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, StageAggregate, ingestErr.Stage)
	assert.ErrorIs(t, err, ErrUnresolvedSource)
	assert.Zero(t, h.indexer.calls)
}

func TestIngestWorkspaceIsFreshPerRequest(t *testing.T) {
	h := newHarness(t)
	stale := filepath.Join(h.root, "req-fixed", workspace.DirTextFiles, "0-previous.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	o := h.orchestrator(t, WithRequestIDFunc(func() string { return "req-fixed" }))
	result, err := o.Ingest(context.Background(), batchOf("notes.txt"))
	require.NoError(t, err)

	// Only the newly staged file produced a chunk.
	assert.Equal(t, 1, result.Documents)
	assert.Equal(t, "1-notes.txt", h.indexer.docs[0].Source)

	dirs := h.procs.seenDir("text")
	require.Len(t, dirs, 1)
	assert.Equal(t, filepath.Join(h.root, "req-fixed", workspace.DirTextFiles), dirs[0])

	_, statErr := os.Stat(filepath.Join(h.root, "req-fixed"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestIngestParallelKeepsDeterministicOrder(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, WithParallelProcessors(4))

	_, err := o.Ingest(context.Background(), batchOf("v.mp4", "p.pdf", "a.mp3", "t.txt"))
	require.NoError(t, err)

	var order []string
	for _, doc := range h.indexer.docs {
		m := doc.Metadata[MetaModality].(string)
		if len(order) == 0 || order[len(order)-1] != m {
			order = append(order, m)
		}
	}
	assert.Equal(t, []string{"text", "audio", "pdf", "video"}, order)
	assert.Len(t, h.indexer.docs, 1+3+2+2)
}

func TestIngestTracksStateSequence(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	_, err := o.Ingest(context.Background(), batchOf("notes.txt"))
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateReceived, StateClassified, StateProcessed, StateAggregated,
		StateIndexed, StateCleaned, StateCompleted,
	}, h.tracker.states)
	assert.Equal(t, 1, h.tracker.last.Documents)
}

func TestIngestRecordsTerminalStateAfterCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.tracker.onRecord = func(s State) {
		if s == StateClassified {
			cancel()
		}
	}
	o := h.orchestrator(t)

	result, err := o.Ingest(ctx, batchOf("notes.txt", "lecture.mp3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, result.State)

	assert.Equal(t, []State{StateReceived, StateClassified, StateCleaned, StateFailed}, h.tracker.states)
	assert.Equal(t, StageProcess, h.tracker.last.FailedStage)
	assert.Zero(t, h.procs.count("text"), "no processor starts after the client is gone")
	assert.Zero(t, h.indexer.calls)
}

func TestNewOrchestratorRequiresCollaborators(t *testing.T) {
	procs := newFakeProcessors().processors()
	m := workspace.NewManager(t.TempDir())

	_, err := NewOrchestrator(nil, m, procs, &fakeIndexer{})
	assert.ErrorIs(t, err, ErrRegistryRequired)

	_, err = NewOrchestrator(&fakeRegistry{}, nil, procs, &fakeIndexer{})
	assert.ErrorIs(t, err, ErrWorkspaceRequired)

	_, err = NewOrchestrator(&fakeRegistry{}, m, procs, nil)
	assert.ErrorIs(t, err, ErrIndexerRequired)

	procs.Frames = nil
	_, err = NewOrchestrator(&fakeRegistry{}, m, procs, &fakeIndexer{})
	assert.ErrorIs(t, err, ErrProcessorsRequired)

	_, err = NewOrchestrator(&fakeRegistry{}, m, newFakeProcessors().processors(), &fakeIndexer{}, WithFrameInterval(0))
	assert.Error(t, err)
}
