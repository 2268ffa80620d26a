package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

type registeredRow struct {
	id          uint
	name        string
	contentType string
}

type fakeRegistry struct {
	mu     sync.Mutex
	nextID uint
	rows   []registeredRow
	failOn string
}

func (f *fakeRegistry) Register(_ context.Context, name, contentType string, _ []byte) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failOn {
		return 0, fmt.Errorf("insert %s: connection reset", name)
	}
	f.nextID++
	f.rows = append(f.rows, registeredRow{id: f.nextID, name: name, contentType: contentType})
	return f.nextID, nil
}

func (f *fakeRegistry) idOf(name string) uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.name == name {
			return row.id
		}
	}
	return 0
}

// fakeProcessors implements every capability deterministically and counts calls.
type fakeProcessors struct {
	mu    sync.Mutex
	calls map[string]int
	dirs  map[string][]string

	segmentsPerAudio int
	imagesPerPDF     int
	framesPerVideo   int
	chunksPerText    int

	fail map[Modality]error
	// ghostText makes the normalizer report a source nobody uploaded.
	ghostText bool
}

func newFakeProcessors() *fakeProcessors {
	return &fakeProcessors{
		calls:            map[string]int{},
		dirs:             map[string][]string{},
		segmentsPerAudio: 3,
		imagesPerPDF:     2,
		framesPerVideo:   2,
		chunksPerText:    1,
		fail:             map[Modality]error{},
	}
}

func (f *fakeProcessors) processors() Processors {
	return Processors{Decoder: f, Transcriber: f, Images: f, Frames: f, Text: f}
}

func (f *fakeProcessors) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProcessors) record(name, dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if dir != "" {
		f.dirs[name] = append(f.dirs[name], dir)
	}
}

func (f *fakeProcessors) Decode(_ context.Context, data []byte) (Waveform, error) {
	f.record("decode", "")
	return Waveform{Samples: make([]float32, len(data)), SampleRate: 16000}, nil
}

func (f *fakeProcessors) Transcribe(_ context.Context, _ []float32, _ int, label string) ([]Document, error) {
	f.record("transcribe", "")
	if err := f.fail[ModalityAudio]; err != nil {
		return nil, err
	}
	docs := make([]Document, 0, f.segmentsPerAudio)
	for i := 0; i < f.segmentsPerAudio; i++ {
		docs = append(docs, Document{
			Text:     fmt.Sprintf("%s segment %d", label, i),
			Source:   label,
			Metadata: map[string]any{"segment": i},
		})
	}
	return docs, nil
}

func (f *fakeProcessors) ExtractAndCaptionImages(_ context.Context, pdfDir, imageOutDir string) ([]Document, error) {
	f.record("images", pdfDir)
	if err := f.fail[ModalityPDF]; err != nil {
		return nil, err
	}
	var docs []Document
	for _, name := range listDir(pdfDir) {
		for i := 0; i < f.imagesPerPDF; i++ {
			img := filepath.Join(imageOutDir, fmt.Sprintf("%s-%03d.png", name, i))
			if err := os.WriteFile(img, []byte("png"), 0o644); err != nil {
				return nil, err
			}
			docs = append(docs, Document{Text: "a diagram", Source: name, Metadata: map[string]any{"image": i}})
		}
	}
	return docs, nil
}

func (f *fakeProcessors) ExtractAndCaptionFrames(_ context.Context, videoDir, _ string, _ int) ([]Document, error) {
	f.record("frames", videoDir)
	if err := f.fail[ModalityVideo]; err != nil {
		return nil, err
	}
	var docs []Document
	for _, name := range listDir(videoDir) {
		for i := 0; i < f.framesPerVideo; i++ {
			docs = append(docs, Document{Text: "a whiteboard", Source: name, Metadata: map[string]any{"frame": i}})
		}
	}
	return docs, nil
}

func (f *fakeProcessors) NormalizeText(_ context.Context, textDir string) ([]Document, error) {
	f.record("text", textDir)
	if err := f.fail[ModalityText]; err != nil {
		return nil, err
	}
	if f.ghostText {
		return []Document{{Text: "orphan", Source: "999-ghost.txt"}}, nil
	}
	var docs []Document
	for _, name := range listDir(textDir) {
		for i := 0; i < f.chunksPerText; i++ {
			docs = append(docs, Document{Text: "notes", Source: name, Metadata: map[string]any{"chunk": i}})
		}
	}
	return docs, nil
}

func (f *fakeProcessors) seenDir(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dirs[name]...)
}

func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls int
	docs  []Document
	err   error
}

func (f *fakeIndexer) Upsert(_ context.Context, docs []Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, docs...)
	return nil
}

// fakeTracker fails on a done context the way a network client does.
type fakeTracker struct {
	mu       sync.Mutex
	states   []State
	last     Status
	onRecord func(State)
}

func (f *fakeTracker) Record(ctx context.Context, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.states = append(f.states, status.State)
	f.last = status
	hook := f.onRecord
	f.mu.Unlock()
	if hook != nil {
		hook(status.State)
	}
	return nil
}
