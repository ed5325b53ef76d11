package embedding

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/codelens/internal/domain"
)

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

type providerCall struct {
	at     time.Time
	inputs []string
}

// fakeProvider returns deterministic vectors and can fail on chosen attempts.
type fakeProvider struct {
	mu         sync.Mutex
	clock      Clock
	dims       int
	calls      []providerCall
	failWith   func(attempt int, inputs []string) error
	vectorFunc func(input string) []float32
}

func (p *fakeProvider) Embed(ctx context.Context, inputs []string) ([][]float32, domain.TokenUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, providerCall{at: p.clock.Now(), inputs: inputs})
	if p.failWith != nil {
		if err := p.failWith(len(p.calls), inputs); err != nil {
			return nil, domain.TokenUsage{}, err
		}
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if p.vectorFunc != nil {
			out[i] = p.vectorFunc(in)
			continue
		}
		v := make([]float32, p.dims)
		for j := range v {
			v[j] = float32(len(in)+j) / 100
		}
		out[i] = v
	}
	return out, domain.TokenUsage{PromptTokens: 10 * len(inputs), TotalTokens: 10 * len(inputs)}, nil
}

func (p *fakeProvider) Model() string   { return "fake-model" }
func (p *fakeProvider) Dimensions() int { return p.dims }

func makeChunks(n, size int, path string) []domain.CodeChunk {
	chunks := make([]domain.CodeChunk, n)
	for i := range chunks {
		content := fmt.Sprintf("// %d\n%s", i, strings.Repeat("x", size))
		chunks[i] = domain.CodeChunk{
			ID:        domain.ChunkID(path, i+1, i+1, content),
			Content:   content,
			Kind:      domain.ChunkKindBlock,
			FilePath:  path,
			StartLine: i + 1,
			EndLine:   i + 1,
		}
	}
	return chunks
}

func TestBatcher_EmbedChunks_AllSucceed(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 4}
	b := NewBatcher(provider, Config{RequestsPerMinute: 100, TokensPerMinute: 100000, Clock: clock})

	var events []Progress
	chunks := makeChunks(5, 40, "src/lib/util.js")
	result, err := b.EmbedChunks(context.Background(), chunks, func(p Progress) { events = append(events, p) })

	require.NoError(t, err)
	assert.Len(t, result.Embeddings, 5)
	assert.Equal(t, 5, result.Requested)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 1.0, result.SuccessRate)
	assert.Equal(t, 50, result.TotalTokens)
	for _, e := range result.Embeddings {
		assert.Len(t, e.Vector, 4)
		assert.Equal(t, "fake-model", e.Model)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, 5, events[len(events)-1].Embedded)
}

func TestBatcher_PacksByTokenBudget(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 2}
	b := NewBatcher(provider, Config{
		RequestsPerMinute: 100,
		TokensPerMinute:   100000,
		MaxTokensPerBatch: 100,
		Clock:             clock,
	})

	// Each chunk is roughly 55 tokens, so only one fits per batch.
	chunks := makeChunks(4, 200, "a.js")
	batches := b.pack(chunks)
	require.Len(t, batches, 4)
	for _, batch := range batches {
		assert.LessOrEqual(t, batch.total, 100)
	}

	// An oversized chunk is truncated rather than dropped.
	huge := makeChunks(1, 5000, "a.js")
	batches = b.pack(huge)
	require.Len(t, batches, 1)
	assert.LessOrEqual(t, batches[0].total, 100)
	assert.LessOrEqual(t, len(batches[0].texts[0]), 400)
}

func TestBatcher_PacksByItemLimit(t *testing.T) {
	b := NewBatcher(&fakeProvider{dims: 2}, Config{MaxItemsPerBatch: 2, Clock: newFakeClock()})
	batches := b.pack(makeChunks(5, 10, "a.js"))
	require.Len(t, batches, 3)
	assert.Len(t, batches[2].chunks, 1)
}

func TestBatcher_MaxTokensClampedToTokensPerMinute(t *testing.T) {
	b := NewBatcher(&fakeProvider{dims: 2}, Config{TokensPerMinute: 500, MaxTokensPerBatch: 3000})
	assert.Equal(t, 500, b.cfg.MaxTokensPerBatch)
}

func TestBatcher_RateLimitWindowNeverExceeded(t *testing.T) {
	const (
		rpm = 3
		tpm = 1000
	)
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 2}
	b := NewBatcher(provider, Config{
		RequestsPerMinute: rpm,
		TokensPerMinute:   tpm,
		MaxTokensPerBatch: 400,
		Clock:             clock,
	})

	// Mixed sizes so both ceilings come into play.
	var chunks []domain.CodeChunk
	for i, size := range []int{1200, 300, 80, 1500, 40, 900, 1400, 60, 700, 1000, 200, 1300} {
		chunks = append(chunks, makeChunks(1, size, fmt.Sprintf("f%d.js", i))...)
	}

	result, err := b.EmbedChunks(context.Background(), chunks, nil)
	require.NoError(t, err)
	require.Len(t, result.Embeddings, len(chunks))

	est := HeuristicEstimator{}
	calls := provider.calls
	require.Greater(t, len(calls), rpm)
	for i := range calls {
		windowEnd := calls[i].at.Add(time.Minute)
		requests, tokens := 0, 0
		for j := i; j < len(calls) && calls[j].at.Before(windowEnd); j++ {
			requests++
			for _, in := range calls[j].inputs {
				tokens += est.Count(in)
			}
		}
		assert.LessOrEqual(t, requests, rpm, "requests in window starting at call %d", i)
		assert.LessOrEqual(t, tokens, tpm, "tokens in window starting at call %d", i)
	}
	assert.GreaterOrEqual(t, result.Elapsed, time.Minute)
}

func TestBatcher_RateLimitStorm(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 3}
	provider.failWith = func(attempt int, _ []string) error {
		if attempt <= 3 {
			return &domain.ProviderError{StatusCode: http.StatusTooManyRequests, Message: "rate limited"}
		}
		return nil
	}
	b := NewBatcher(provider, Config{RequestsPerMinute: 100, TokensPerMinute: 100000, Clock: clock})

	result, err := b.EmbedChunks(context.Background(), makeChunks(2, 20, "main.js"), nil)

	require.NoError(t, err)
	assert.Len(t, result.Embeddings, 2)
	assert.Empty(t, result.Failed)
	assert.Len(t, provider.calls, 4)

	// Backoff of 1s, 2s and 4s with up to 50% jitter either way.
	require.Len(t, clock.sleeps, 3)
	var slept time.Duration
	for _, d := range clock.sleeps {
		slept += d
	}
	assert.GreaterOrEqual(t, slept, 3500*time.Millisecond)
	assert.LessOrEqual(t, slept, 11*time.Second)
	assert.Equal(t, slept, result.Elapsed)
}

func TestBatcher_TransientErrorsUseFixedBackoff(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 3}
	provider.failWith = func(attempt int, _ []string) error {
		if attempt <= 2 {
			return &domain.ProviderError{StatusCode: http.StatusServiceUnavailable, Message: "unavailable"}
		}
		return nil
	}
	b := NewBatcher(provider, Config{RequestsPerMinute: 100, TokensPerMinute: 100000, Clock: clock})

	_, err := b.EmbedChunks(context.Background(), makeChunks(1, 20, "a.js"), nil)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.sleeps)
}

func TestBatcher_ExhaustedBatchIsSkipped(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 3}
	provider.failWith = func(_ int, inputs []string) error {
		if strings.HasPrefix(inputs[0], "bad.js") {
			return &domain.ProviderError{StatusCode: http.StatusBadGateway, Message: "bad gateway"}
		}
		return nil
	}
	b := NewBatcher(provider, Config{
		RequestsPerMinute: 1000,
		TokensPerMinute:   100000,
		MaxItemsPerBatch:  1,
		MaxRetries:        3,
		Clock:             clock,
	})

	good := makeChunks(2, 20, "good.js")
	bad := makeChunks(1, 20, "bad.js")
	chunks := append(append([]domain.CodeChunk{}, good[0]), bad[0], good[1])

	result, err := b.EmbedChunks(context.Background(), chunks, nil)

	require.NoError(t, err)
	assert.Len(t, result.Embeddings, 2)
	assert.Equal(t, []string{bad[0].ID}, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "batch 1")
	assert.Contains(t, result.Errors[0], bad[0].ID)
	assert.InDelta(t, 2.0/3.0, result.SuccessRate, 1e-9)
	// Three attempts for the bad batch, one each for the good ones.
	assert.Len(t, provider.calls, 5)
}

func TestBatcher_ClientErrorsAreNotRetried(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 3}
	provider.failWith = func(int, []string) error {
		return &domain.ProviderError{StatusCode: http.StatusBadRequest, Message: "bad input"}
	}
	b := NewBatcher(provider, Config{RequestsPerMinute: 100, Clock: clock})

	result, err := b.EmbedChunks(context.Background(), makeChunks(1, 20, "a.js"), nil)

	require.NoError(t, err)
	assert.Len(t, provider.calls, 1)
	assert.Len(t, result.Failed, 1)
	assert.Equal(t, 0.0, result.SuccessRate)
}

func TestBatcher_DropsInvalidVectors(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 3}
	provider.vectorFunc = func(in string) []float32 {
		switch {
		case strings.Contains(in, "// 1\n"):
			return []float32{1, 2}
		case strings.Contains(in, "// 2\n"):
			return []float32{1, float32(math.NaN()), 3}
		}
		return []float32{1, 2, 3}
	}
	b := NewBatcher(provider, Config{RequestsPerMinute: 100, Clock: clock})

	chunks := makeChunks(3, 10, "a.js")
	result, err := b.EmbedChunks(context.Background(), chunks, nil)

	require.NoError(t, err)
	require.Len(t, result.Embeddings, 1)
	assert.Equal(t, chunks[0].ID, result.Embeddings[0].ChunkID)
	assert.ElementsMatch(t, []string{chunks[1].ID, chunks[2].ID}, result.Failed)
	for _, e := range result.Embeddings {
		assert.Len(t, e.Vector, provider.Dimensions())
	}
}

func TestBatcher_StopsOnCancellation(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{clock: clock, dims: 2}
	provider.failWith = func(attempt int, _ []string) error {
		if attempt == 1 {
			cancel()
		}
		return nil
	}
	b := NewBatcher(provider, Config{RequestsPerMinute: 100, MaxItemsPerBatch: 1, Clock: clock})

	result, err := b.EmbedChunks(ctx, makeChunks(3, 10, "a.js"), nil)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Len(t, result.Embeddings, 1)
	assert.Len(t, provider.calls, 1)
}

func TestBatcher_EmbedQuery(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 3}
	provider.failWith = func(attempt int, _ []string) error {
		if attempt == 1 {
			return &domain.ProviderError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}
		}
		return nil
	}
	b := NewBatcher(provider, Config{Clock: clock})

	vec, err := b.EmbedQuery(context.Background(), "  find the login handler  ")

	require.NoError(t, err)
	assert.Len(t, vec, 3)
	require.Len(t, provider.calls, 2)
	assert.Equal(t, []string{"find the login handler"}, provider.calls[1].inputs)

	_, err = b.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestBatcher_EmbedQueryExhausted(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{clock: clock, dims: 3}
	provider.failWith = func(int, []string) error {
		return &domain.ProviderError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}
	}
	b := NewBatcher(provider, Config{RequestsPerMinute: 1000, MaxRetries: 4, Clock: clock})

	_, err := b.EmbedQuery(context.Background(), "query")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 4 attempts")
	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.True(t, pe.IsRateLimit())
	assert.Len(t, provider.calls, 4)
}

func TestEmbedText(t *testing.T) {
	c := domain.CodeChunk{FilePath: "src/auth.js", Kind: domain.ChunkKindFunction, Name: "login", Content: "function login() {}"}
	assert.Equal(t, "src/auth.js function login\nfunction login() {}", EmbedText(c))

	c.Name = ""
	assert.Equal(t, "src/auth.js\nfunction login() {}", EmbedText(c))
}
