package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lecture-ingest/internal/ingest"
)

type frameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath, pattern string, intervalSeconds int) error
}

// VideoFrameCaptioner samples videos at a fixed interval and captions each frame.
type VideoFrameCaptioner struct {
	frames    frameExtractor
	captioner Captioner
}

func NewVideoFrameCaptioner(ffmpeg *FFmpeg, captioner Captioner) *VideoFrameCaptioner {
	return &VideoFrameCaptioner{frames: ffmpeg, captioner: captioner}
}

const frameMarker = "-frame-"

func (v *VideoFrameCaptioner) ExtractAndCaptionFrames(ctx context.Context, videoDir, frameOutDir string, intervalSeconds int) ([]ingest.Document, error) {
	if intervalSeconds <= 0 {
		return nil, fmt.Errorf("frame interval must be positive, got %d", intervalSeconds)
	}
	names, err := listFiles(videoDir)
	if err != nil {
		return nil, err
	}

	var docs []ingest.Document
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prefix := stem(name) + frameMarker
		pattern := framePattern(frameOutDir, prefix)
		if err := v.frames.ExtractFrames(ctx, filepath.Join(videoDir, name), pattern, intervalSeconds); err != nil {
			return nil, err
		}

		frames, err := filesWithPrefix(frameOutDir, prefix, ".png")
		if err != nil {
			return nil, err
		}
		for _, frame := range frames {
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(frame, prefix), ".png"))
			if err != nil || n <= 0 {
				continue
			}
			data, err := os.ReadFile(filepath.Join(frameOutDir, frame))
			if err != nil {
				return nil, fmt.Errorf("read frame %s failed: %w", frame, err)
			}
			caption, err := v.captioner.Caption(ctx, data)
			if err != nil {
				return nil, fmt.Errorf("caption %s frame %d failed: %w", name, n, err)
			}
			docs = append(docs, ingest.Document{
				Text:   caption,
				Source: name,
				Metadata: map[string]any{
					"frame":     n,
					"timestamp": (n - 1) * intervalSeconds,
				},
			})
		}
	}
	return docs, nil
}

// framePattern builds ffmpeg's image2 output pattern. A literal % in the path
// must be doubled or ffmpeg reads it as a sequence specifier.
func framePattern(dir, prefix string) string {
	return strings.ReplaceAll(filepath.Join(dir, prefix), "%", "%%") + "%05d.png"
}
