package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// TranscriptionConfig holds API settings for speech-to-text.
type TranscriptionConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcription struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Segments []TranscriptionSegment `json:"segments"`
}

// Transcribe uploads audio to /audio/transcriptions and asks for segment
// level output.
func (c *OpenAICompatibleClient) Transcribe(ctx context.Context, cfg TranscriptionConfig, audio []byte, filename string) (*Transcription, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("transcription input is empty")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("model", cfg.Model); err != nil {
		return nil, fmt.Errorf("write transcription model field failed: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("write transcription format field failed: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create transcription file part failed: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write transcription file part failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close transcription form failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("build transcription request failed: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	client := c.httpClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transcription response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transcription response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed Transcription
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse transcription json failed: %w", err)
	}
	return &parsed, nil
}
