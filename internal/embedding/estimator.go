package embedding

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	EstimatorHeuristic = "heuristic"
	EstimatorTiktoken  = "tiktoken"

	charsPerToken = 4
)

// TokenEstimator approximates how many tokens the provider will bill for a
// text.
type TokenEstimator interface {
	Count(text string) int
	// Truncate returns the longest prefix of text within maxTokens.
	Truncate(text string, maxTokens int) string
}

// NewEstimator returns the estimator registered under name. An empty name
// selects the heuristic.
func NewEstimator(name string) (TokenEstimator, error) {
	switch name {
	case "", EstimatorHeuristic:
		return HeuristicEstimator{}, nil
	case EstimatorTiktoken:
		return NewTiktokenEstimator()
	default:
		return nil, fmt.Errorf("unknown token estimator %q", name)
	}
}

// HeuristicEstimator counts one token per four bytes, rounded up.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Count(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

func (HeuristicEstimator) Truncate(text string, maxTokens int) string {
	limit := maxTokens * charsPerToken
	if maxTokens <= 0 || len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// TiktokenEstimator counts tokens with the cl100k_base encoding, which the
// OpenAI embedding models use.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

var (
	tiktokenOnce sync.Once
	tiktokenEnc  *tiktoken.Tiktoken
	tiktokenErr  error
)

// NewTiktokenEstimator loads the encoding from the embedded offline BPE
// files. The encoding is shared by all estimators.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	tiktokenOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		tiktokenEnc, tiktokenErr = tiktoken.GetEncoding("cl100k_base")
	})
	if tiktokenErr != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", tiktokenErr)
	}
	return &TiktokenEstimator{enc: tiktokenEnc}, nil
}

func (e *TiktokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

func (e *TiktokenEstimator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	tokens := e.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return e.enc.Decode(tokens[:maxTokens])
}
