package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// STTClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
// Works with speaches, faster-whisper-server, or any compatible server;
// unknown form fields are ignored by conforming implementations.
type STTClient struct {
	url    string
	model  string
	client *http.Client
}

// NewSTTClient creates a speech-to-text HTTP client.
func NewSTTClient(url, model string, timeout time.Duration) *STTClient {
	return &STTClient{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Transcribe sends one audio file as multipart/form-data and returns the
// recognized text.
func (c *STTClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if c.model != "" {
		w.WriteField("model", c.model)
	}
	w.WriteField("response_format", "json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.Text, nil
}
