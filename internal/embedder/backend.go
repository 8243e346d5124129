package embedder

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_backend.go -package=mocks docsync/internal/embedder Backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrOutOfMemory signals the embedding backend ran out of accelerator
// memory for the submitted batch. The dispatcher reacts by halving the
// batch, not by failing the document outright.
var ErrOutOfMemory = errors.New("embedding backend out of memory")

// Backend generates embeddings for a batch of texts.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPBackend talks to an OpenAI-compatible /v1/embeddings endpoint
// (llama.cpp, vLLM, TEI and similar servers).
type HTTPBackend struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewHTTPBackend creates a backend client for the given embeddings server.
func NewHTTPBackend(baseURL, apiKey, model string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// embeddingsRequest represents the request payload for the embeddings API.
type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingData struct {
	Embedding []float64 `json:"embedding"`
}

type embeddingsResponse struct {
	Data []embeddingData `json:"data"`
}

// Embed generates embeddings for the given texts, one vector per input.
// Out-of-memory responses are surfaced as ErrOutOfMemory so the caller can
// shrink the batch.
func (b *HTTPBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	url := fmt.Sprintf("%s/v1/embeddings", b.BaseURL)
	body, err := json.Marshal(embeddingsRequest{Model: b.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		if isOOMResponse(resp.StatusCode, raw) {
			return nil, fmt.Errorf("%w: status %d", ErrOutOfMemory, resp.StatusCode)
		}
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	result := make([][]float32, len(parsed.Data))
	for i, data := range parsed.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		result[i] = vec
	}
	return result, nil
}

// isOOMResponse recognizes the out-of-memory shapes llama.cpp and CUDA
// stacks report over HTTP.
func isOOMResponse(status int, body []byte) bool {
	if status == http.StatusInsufficientStorage {
		return true
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom")
}
