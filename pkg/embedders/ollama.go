package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/httpclient"
	"github.com/cortexmem/cortex/pkg/model"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaEmbedder calls a local ollama /api/embed endpoint.
type OllamaEmbedder struct {
	cfg        config.EmbeddingConfig
	httpClient *httpclient.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func NewOllamaEmbedder(cfg config.EmbeddingConfig) (*OllamaEmbedder, error) {
	return &OllamaEmbedder{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout.Std()),
		),
	}, nil
}

func (e *OllamaEmbedder) Dimension() int    { return e.cfg.Dimensions }
func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := e.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, model.NewUpstreamError("ollama-embeddings", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUpstreamError("ollama-embeddings", err)
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, model.NewUpstreamError("ollama-embeddings", fmt.Errorf("unparseable response: %w", err))
	}
	if parsed.Error != "" {
		return nil, model.NewUpstreamError("ollama-embeddings", fmt.Errorf("%s", parsed.Error))
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, model.NewUpstreamError("ollama-embeddings",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Embeddings)))
	}

	return parsed.Embeddings, nil
}
