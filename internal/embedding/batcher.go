package embedding

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

// Provider is the embedding endpoint the batcher drives. Vectors come back in
// input order.
type Provider interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, domain.TokenUsage, error)
	Model() string
	Dimensions() int
}

// Progress is reported after every batch.
type Progress struct {
	Batch    int `json:"batch"`
	Batches  int `json:"batches"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// ProgressFunc observes a long-running embedding run. It is called
// synchronously and must not block.
type ProgressFunc func(Progress)

type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int
	MaxTokensPerBatch int
	MaxItemsPerBatch  int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	TransientBackoff  time.Duration

	// Optional collaborators; nil selects the system clock and the
	// heuristic estimator.
	Clock     Clock
	Estimator TokenEstimator
}

// DefaultConfig matches the free-tier limits of most hosted providers.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 3,
		TokensPerMinute:   10000,
		MaxTokensPerBatch: 3000,
		MaxItemsPerBatch:  96,
		MaxRetries:        10,
		InitialBackoff:    time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2,
		TransientBackoff:  2 * time.Second,
	}
}

// Batcher embeds chunks and queries under a per-instance rate limit.
type Batcher struct {
	provider  Provider
	cfg       Config
	clock     Clock
	estimator TokenEstimator
	limiter   *rateLimiter
}

func NewBatcher(provider Provider, cfg Config) *Batcher {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = def.TokensPerMinute
	}
	if cfg.MaxTokensPerBatch <= 0 {
		cfg.MaxTokensPerBatch = def.MaxTokensPerBatch
	}
	if cfg.MaxTokensPerBatch > cfg.TokensPerMinute {
		cfg.MaxTokensPerBatch = cfg.TokensPerMinute
	}
	if cfg.MaxItemsPerBatch <= 0 {
		cfg.MaxItemsPerBatch = def.MaxItemsPerBatch
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.TransientBackoff <= 0 {
		cfg.TransientBackoff = def.TransientBackoff
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	estimator := cfg.Estimator
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}

	return &Batcher{
		provider:  provider,
		cfg:       cfg,
		clock:     clock,
		estimator: estimator,
		limiter:   newRateLimiter(clock, cfg.RequestsPerMinute, cfg.TokensPerMinute),
	}
}

// Model returns the provider's model name.
func (b *Batcher) Model() string {
	return b.provider.Model()
}

// EmbedText is the text submitted for a chunk: a short header locating the
// chunk followed by its source.
func EmbedText(c domain.CodeChunk) string {
	var header strings.Builder
	header.WriteString(c.FilePath)
	if c.Name != "" {
		header.WriteString(" ")
		header.WriteString(string(c.Kind))
		header.WriteString(" ")
		header.WriteString(c.Name)
	}
	return header.String() + "\n" + c.Content
}

type pendingBatch struct {
	chunks []domain.CodeChunk
	texts  []string
	tokens []int
	total  int
}

// pack groups chunks in order so that no batch exceeds the token budget or
// the item limit. A single oversized text is truncated to the budget.
func (b *Batcher) pack(chunks []domain.CodeChunk) []pendingBatch {
	budget := b.cfg.MaxTokensPerBatch
	var batches []pendingBatch
	var cur pendingBatch

	for _, c := range chunks {
		text := EmbedText(c)
		n := b.estimator.Count(text)
		if n > budget {
			text = b.estimator.Truncate(text, budget)
			n = min(b.estimator.Count(text), budget)
		}
		if len(cur.chunks) > 0 && (cur.total+n > budget || len(cur.chunks) >= b.cfg.MaxItemsPerBatch) {
			batches = append(batches, cur)
			cur = pendingBatch{}
		}
		cur.chunks = append(cur.chunks, c)
		cur.texts = append(cur.texts, text)
		cur.tokens = append(cur.tokens, n)
		cur.total += n
	}
	if len(cur.chunks) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// EmbedChunks embeds chunks in priority order. Batches that exhaust their
// retries are skipped and reported in Failed and Errors; the run continues.
// On cancellation the partial result is returned together with ctx.Err().
func (b *Batcher) EmbedChunks(ctx context.Context, chunks []domain.CodeChunk, progress ProgressFunc) (*domain.EmbeddingBatch, error) {
	ctx, span := telemetry.StartSpan(ctx, "embedding.EmbedChunks", telemetry.SpanAttributes{
		Operation: "embed_chunks",
	})
	defer span.End()

	start := b.clock.Now()
	result := &domain.EmbeddingBatch{Requested: len(chunks)}
	defer func() {
		result.Elapsed = b.clock.Now().Sub(start)
		result.SuccessRate = successRate(len(result.Embeddings), result.Requested)
	}()

	batches := b.pack(Prioritize(chunks))
	span.SetData("batches", len(batches))
	model := b.provider.Model()
	dims := b.provider.Dimensions()

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		vectors, usage, err := b.call(ctx, batch.texts, batch.total)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			ids := chunkIDs(batch.chunks)
			result.Failed = append(result.Failed, ids...)
			msg := fmt.Sprintf("batch %d: skipped %d chunks [%s]: %v", i, len(ids), strings.Join(ids, ", "), err)
			result.Errors = append(result.Errors, msg)
			log.Printf("embedding: %s", msg)
			telemetry.AddBreadcrumb(ctx, "embedding", msg)
			b.report(progress, i, len(batches), result)
			continue
		}

		if usage.TotalTokens == 0 {
			usage.TotalTokens = batch.total
			usage.PromptTokens = batch.total
		}
		result.TotalTokens += usage.TotalTokens

		for j, c := range batch.chunks {
			if err := domain.ValidateVector(vectors[j], dims); err != nil {
				result.Failed = append(result.Failed, c.ID)
				result.Errors = append(result.Errors, fmt.Sprintf("chunk %s: %v", c.ID, err))
				continue
			}
			result.Embeddings = append(result.Embeddings, domain.EmbeddingResult{
				ChunkID: c.ID,
				Vector:  vectors[j],
				Model:   model,
				Usage:   shareOf(usage, batch.tokens[j], batch.total),
			})
		}
		b.report(progress, i, len(batches), result)
	}

	if len(result.Failed) > 0 {
		log.Printf("embedding: embedded %d/%d chunks, %d failed", len(result.Embeddings), result.Requested, len(result.Failed))
	}
	return result, nil
}

// EmbedQuery embeds a single query text with the same limits and retry
// policy as chunk batches.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyQuery
	}

	ctx, span := telemetry.StartSpan(ctx, "embedding.EmbedQuery", telemetry.SpanAttributes{
		Operation: "embed_query",
	})
	defer span.End()

	budget := b.cfg.MaxTokensPerBatch
	tokens := b.estimator.Count(text)
	if tokens > budget {
		text = b.estimator.Truncate(text, budget)
		tokens = min(b.estimator.Count(text), budget)
	}

	vectors, _, err := b.call(ctx, []string{text}, tokens)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if err := domain.ValidateVector(vectors[0], b.provider.Dimensions()); err != nil {
		return nil, fmt.Errorf("invalid query embedding: %w", err)
	}
	return vectors[0], nil
}

// call sends one request with rate limiting and retries. Rate-limit
// responses back off exponentially with jitter, other transient failures wait
// a fixed delay, anything else fails immediately.
func (b *Batcher) call(ctx context.Context, inputs []string, tokens int) ([][]float32, domain.TokenUsage, error) {
	bo := b.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		if err := b.limiter.Wait(ctx, tokens); err != nil {
			return nil, domain.TokenUsage{}, err
		}

		vectors, usage, err := b.provider.Embed(ctx, inputs)
		if err == nil {
			if len(vectors) != len(inputs) {
				return nil, usage, fmt.Errorf("provider returned %d embeddings for %d inputs", len(vectors), len(inputs))
			}
			return vectors, usage, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.TokenUsage{}, ctxErr
		}
		lastErr = err

		var delay time.Duration
		pe, ok := domain.AsProviderError(err)
		switch {
		case ok && pe.IsRateLimit():
			delay = bo.NextBackOff()
		case ok && pe.IsTransient():
			delay = b.cfg.TransientBackoff
		default:
			return nil, domain.TokenUsage{}, err
		}

		if attempt == b.cfg.MaxRetries {
			break
		}
		log.Printf("embedding: attempt %d/%d failed, retrying in %s: %v", attempt, b.cfg.MaxRetries, delay.Round(time.Millisecond), err)
		if err := b.clock.Sleep(ctx, delay); err != nil {
			return nil, domain.TokenUsage{}, err
		}
	}
	return nil, domain.TokenUsage{}, fmt.Errorf("giving up after %d attempts: %w", b.cfg.MaxRetries, lastErr)
}

func (b *Batcher) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.InitialBackoff
	bo.MaxInterval = b.cfg.MaxBackoff
	bo.Multiplier = b.cfg.BackoffMultiplier
	bo.MaxElapsedTime = 0
	bo.Clock = b.clock
	bo.Reset()
	return bo
}

func (b *Batcher) report(progress ProgressFunc, i, batches int, result *domain.EmbeddingBatch) {
	if progress == nil {
		return
	}
	progress(Progress{
		Batch:    i + 1,
		Batches:  batches,
		Embedded: len(result.Embeddings),
		Failed:   len(result.Failed),
		Total:    result.Requested,
	})
}

func chunkIDs(chunks []domain.CodeChunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

// shareOf splits a batch's usage across its items in proportion to their
// estimated tokens.
func shareOf(usage domain.TokenUsage, tokens, total int) domain.TokenUsage {
	if total <= 0 {
		return domain.TokenUsage{}
	}
	return domain.TokenUsage{
		PromptTokens: usage.PromptTokens * tokens / total,
		TotalTokens:  usage.TotalTokens * tokens / total,
	}
}

func successRate(embedded, requested int) float64 {
	if requested == 0 {
		return 1
	}
	return float64(embedded) / float64(requested)
}
