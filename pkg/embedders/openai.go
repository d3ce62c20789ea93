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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	cfg        config.EmbeddingConfig
	httpClient *httpclient.Client
}

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI embedder")
	}
	return &OpenAIEmbedder{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout.Std()),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int    { return e.cfg.Dimensions }
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openAIEmbedRequest{Model: e.cfg.Model, Input: texts}
	// text-embedding-3-* models accept a dimensions override.
	if e.cfg.Dimensions > 0 && e.cfg.Dimensions != 1536 {
		req.Dimensions = e.cfg.Dimensions
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := e.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, model.NewUpstreamError("openai-embeddings", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUpstreamError("openai-embeddings", err)
	}

	var parsed openAIEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, model.NewUpstreamError("openai-embeddings", fmt.Errorf("unparseable response: %w", err))
	}
	if parsed.Error != nil {
		return nil, model.NewUpstreamError("openai-embeddings", fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Data) != len(texts) {
		return nil, model.NewUpstreamError("openai-embeddings",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data)))
	}

	// The API documents order preservation but also returns indices.
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, model.NewUpstreamError("openai-embeddings",
				fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
