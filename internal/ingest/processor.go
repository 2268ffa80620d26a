package ingest

import "context"

// AudioDecoder turns an audio container of any supported format into a
// uniform waveform so transcription never sees container details.
type AudioDecoder interface {
	Decode(ctx context.Context, data []byte) (Waveform, error)
}

// Transcriber converts speech to documents, typically one per segment.
// label is echoed back as Document.Source.
type Transcriber interface {
	Transcribe(ctx context.Context, waveform []float32, sampleRate int, label string) ([]Document, error)
}

// ImageCaptioner extracts images embedded in every PDF of pdfDir into
// imageOutDir and returns one document per captioned image.
type ImageCaptioner interface {
	ExtractAndCaptionImages(ctx context.Context, pdfDir, imageOutDir string) ([]Document, error)
}

// FrameCaptioner samples every video of videoDir once per intervalSeconds
// and returns one document per captioned frame.
type FrameCaptioner interface {
	ExtractAndCaptionFrames(ctx context.Context, videoDir, frameOutDir string, intervalSeconds int) ([]Document, error)
}

// TextNormalizer cleans and segments every file of textDir.
type TextNormalizer interface {
	NormalizeText(ctx context.Context, textDir string) ([]Document, error)
}

// Processors bundles the modality capabilities used by the orchestrator.
// Implementations must only extract content; course, subject and material
// identity are attached by Aggregate.
type Processors struct {
	Decoder     AudioDecoder
	Transcriber Transcriber
	Images      ImageCaptioner
	Frames      FrameCaptioner
	Text        TextNormalizer
}

func (p Processors) validate() error {
	if p.Decoder == nil || p.Transcriber == nil || p.Images == nil || p.Frames == nil || p.Text == nil {
		return ErrProcessorsRequired
	}
	return nil
}

// Registry persists one record per uploaded file and returns its id. The
// record must be committed when Register returns.
type Registry interface {
	Register(ctx context.Context, name, contentType string, data []byte) (uint, error)
}

// Indexer writes aggregated documents to the vector index.
type Indexer interface {
	Upsert(ctx context.Context, docs []Document) error
}

// StatusTracker records request progress for later inspection.
type StatusTracker interface {
	Record(ctx context.Context, status Status) error
}

type noopTracker struct{}

func (noopTracker) Record(context.Context, Status) error { return nil }
