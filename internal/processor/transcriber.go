package processor

import (
	"context"
	"fmt"
	"strings"

	"lecture-ingest/internal/ai"
	"lecture-ingest/internal/ingest"
)

type transcriptionClient interface {
	Transcribe(ctx context.Context, cfg ai.TranscriptionConfig, audio []byte, filename string) (*ai.Transcription, error)
}

// WhisperTranscriber sends decoded audio to an OpenAI-compatible
// transcription endpoint and emits one document per segment.
type WhisperTranscriber struct {
	client transcriptionClient
	cfg    ai.TranscriptionConfig
}

func NewWhisperTranscriber(client *ai.OpenAICompatibleClient, cfg ai.TranscriptionConfig) *WhisperTranscriber {
	return &WhisperTranscriber{client: client, cfg: cfg}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, waveform []float32, sampleRate int, label string) ([]ingest.Document, error) {
	if len(waveform) == 0 {
		return nil, nil
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	tr, err := w.client.Transcribe(ctx, w.cfg, encodeWAV(waveform, sampleRate), stem(label)+".wav")
	if err != nil {
		return nil, fmt.Errorf("transcribe %s failed: %w", label, err)
	}

	docs := make([]ingest.Document, 0, len(tr.Segments))
	for i, seg := range tr.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		docs = append(docs, ingest.Document{
			Text:   text,
			Source: label,
			Metadata: map[string]any{
				"segment": i,
				"start":   seg.Start,
				"end":     seg.End,
			},
		})
	}
	if len(docs) == 0 {
		if text := strings.TrimSpace(tr.Text); text != "" {
			docs = append(docs, ingest.Document{
				Text:     text,
				Source:   label,
				Metadata: map[string]any{"segment": 0, "start": 0.0, "end": tr.Duration},
			})
		}
	}
	return docs, nil
}
