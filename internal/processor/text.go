package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"lecture-ingest/internal/ingest"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64
)

// TextNormalizer extracts plain text from staged documents and splits it
// into overlapping chunks.
type TextNormalizer struct {
	chunkSize int
	overlap   int
}

func NewTextNormalizer(chunkSize, overlap int) *TextNormalizer {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = defaultChunkOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 2
		}
	}
	return &TextNormalizer{chunkSize: chunkSize, overlap: overlap}
}

func (n *TextNormalizer) NormalizeText(ctx context.Context, textDir string) ([]ingest.Document, error) {
	names, err := listFiles(textDir)
	if err != nil {
		return nil, err
	}

	var docs []ingest.Document
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(textDir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s failed: %w", name, err)
		}
		text, err := extractText(name, data)
		if err != nil {
			return nil, fmt.Errorf("extract text from %s failed: %w", name, err)
		}
		chunks := chunkText(cleanWhitespace(text), n.chunkSize, n.overlap)
		for i, chunk := range chunks {
			docs = append(docs, ingest.Document{
				Text:   chunk,
				Source: name,
				Metadata: map[string]any{
					"chunk":  i,
					"chunks": len(chunks),
					"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
				},
			})
		}
	}
	return docs, nil
}

var (
	lineSpaces = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

func cleanWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = lineSpaces.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}

// chunkText splits text into rune windows of size that overlap by overlap runes.
func chunkText(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 2
	}
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += size - overlap {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[i:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
