package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/codelens/internal/domain"
)

const (
	// DefaultEmbeddingModel is the model used for chunk and query embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the native dimension of text-embedding-3-small
	DefaultEmbeddingDimensions = 1536
)

var (
	// ErrEmptyInput is returned when no text or an empty text is submitted
	ErrEmptyInput = errors.New("embedding input cannot be empty")
	// ErrNoAPIKey is returned when no provider API key is configured
	ErrNoAPIKey = errors.New("embedding API key not set")
	// ErrShortResponse is returned when the provider returns fewer vectors than inputs
	ErrShortResponse = errors.New("provider returned fewer embeddings than inputs")
)

// EmbeddingAPI is the raw provider call. Vectors are returned in input order.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, domain.TokenUsage, error)
}

// Client embeds batches of text through an OpenAI-compatible endpoint
type Client struct {
	api        EmbeddingAPI
	model      string
	dimensions int
}

type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewOpenAIAdapter(apiKey, baseURL string, model openai.EmbeddingModel, dimensions int) *OpenAIAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

// CreateEmbeddings sends one embeddings request for all inputs and maps
// provider failures to *domain.ProviderError.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, domain.TokenUsage, error) {
	req := openai.EmbeddingRequest{
		Input: inputs,
		Model: a.model,
	}
	// Only the v3 family accepts a reduced output dimension.
	if strings.HasPrefix(string(a.model), "text-embedding-3") && a.dimensions > 0 && a.dimensions != DefaultEmbeddingDimensions {
		req.Dimensions = a.dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, domain.TokenUsage{}, providerError(err)
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	usage := domain.TokenUsage{
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return vectors, usage, nil
}

func providerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.ProviderError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return &domain.ProviderError{Message: err.Error(), Err: err}
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// NewClient creates a client for the configured provider.
func NewClient(cfg Config) *Client {
	model := cfg.EmbeddingModel
	if model == "" {
		model = string(DefaultEmbeddingModel)
	}
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, openai.EmbeddingModel(model), dimensions),
		model:      model,
		dimensions: dimensions,
	}
}

// NewClientWithAPI wraps an existing EmbeddingAPI, mainly for tests and
// self-hosted providers.
func NewClientWithAPI(api EmbeddingAPI, model string, dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{api: api, model: model, dimensions: dimensions}
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return c.model
}

// Dimensions returns the vector length every embedding must have.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Embed returns one vector per input, in order. Vectors are not validated
// here; callers drop invalid items individually.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, domain.TokenUsage, error) {
	if len(inputs) == 0 {
		return nil, domain.TokenUsage{}, ErrEmptyInput
	}
	for _, in := range inputs {
		if strings.TrimSpace(in) == "" {
			return nil, domain.TokenUsage{}, ErrEmptyInput
		}
	}

	vectors, usage, err := c.api.CreateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, domain.TokenUsage{}, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) < len(inputs) {
		return nil, usage, ErrShortResponse
	}
	return vectors, usage, nil
}
