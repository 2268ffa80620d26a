package processor

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"lecture-ingest/internal/ingest"
)

const DefaultSampleRate = 16000

// FFmpeg decodes audio and samples video frames through the ffmpeg binary.
type FFmpeg struct {
	path       string
	sampleRate int
	run        Runner
}

func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path, sampleRate: DefaultSampleRate, run: ExecRunner}
}

// Decode converts any container ffmpeg understands into mono float32 PCM.
func (f *FFmpeg) Decode(ctx context.Context, data []byte) (ingest.Waveform, error) {
	if len(data) == 0 {
		return ingest.Waveform{}, fmt.Errorf("audio input is empty")
	}
	out, err := f.run(ctx, data, f.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "f32le", "-acodec", "pcm_f32le",
		"-ac", "1", "-ar", fmt.Sprint(f.sampleRate),
		"pipe:1")
	if err != nil {
		return ingest.Waveform{}, fmt.Errorf("decode audio failed: %w", err)
	}
	samples, err := parseF32LE(out)
	if err != nil {
		return ingest.Waveform{}, err
	}
	return ingest.Waveform{Samples: samples, SampleRate: f.sampleRate}, nil
}

// ExtractFrames writes one PNG per intervalSeconds of videoPath to pattern
// (an ffmpeg image sequence such as out/clip-frame-%05d.png).
func (f *FFmpeg) ExtractFrames(ctx context.Context, videoPath, pattern string, intervalSeconds int) error {
	if intervalSeconds <= 0 {
		return fmt.Errorf("frame interval must be positive, got %d", intervalSeconds)
	}
	_, err := f.run(ctx, nil, f.path,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSeconds),
		pattern)
	if err != nil {
		return fmt.Errorf("extract frames from %s failed: %w", videoPath, err)
	}
	return nil
}

func parseF32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("pcm stream has %d trailing bytes", len(raw)%4)
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
