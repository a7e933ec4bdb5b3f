// Package hosted implements an HTTP-based embedding provider against an
// OpenAI-compatible embeddings endpoint. Both the primary and secondary
// hosted providers register an instance of this type, differing only in
// base URL, model, and API key.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/memento-ai/memento/internal/config"
	registryembed "github.com/memento-ai/memento/internal/registry/embed"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "hosted_primary",
		Loader: loadPrimary,
	})
	registryembed.Register(registryembed.Plugin{
		Name:   "hosted_secondary",
		Loader: loadSecondary,
	})
}

func loadPrimary(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("hosted embedder: no config in context")
	}
	return fromConfig(cfg.Embedding.Primary, cfg.Embedding.TimeoutMS, "hosted_primary")
}

func loadSecondary(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("hosted embedder: no config in context")
	}
	return fromConfig(cfg.Embedding.Secondary, cfg.Embedding.TimeoutMS, "hosted_secondary")
}

func fromConfig(pc config.HostedProviderConfig, timeoutMS int, label string) (registryembed.Embedder, error) {
	if pc.APIKey == "" {
		return nil, fmt.Errorf("%s embedder: no API key configured", label)
	}
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}
	return &Embedder{
		apiKey:     pc.APIKey,
		model:      pc.Model,
		baseURL:    strings.TrimRight(pc.BaseURL, "/"),
		dimensions: pc.Dimensions,
		timeout:    time.Duration(timeoutMS) * time.Millisecond,
		label:      label,
	}, nil
}

// Embedder calls a hosted embeddings endpoint over HTTP.
type Embedder struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	timeout    time.Duration
	label      string
}

func (e *Embedder) ModelName() string { return e.model }

func (e *Embedder) Dimension() int { return e.dimensions }

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbedTexts calls the hosted endpoint. Text preprocessing (trim, collapse
// whitespace, truncate to the provider's token budget) happens upstream in
// the provider-fallback wrapper so every backend sees already-normalized text.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reqBody, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s embed request failed: %w", e.label, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s embed: read response: %w", e.label, err)
	}

	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%s embed: parse response: %w", e.label, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%s embed error: %s", e.label, result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%s embed: expected %d embeddings, got %d", e.label, len(texts), len(result.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

var _ registryembed.Embedder = (*Embedder)(nil)
