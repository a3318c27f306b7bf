package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vaultrag/vaultrag/internal/llm"
	"github.com/vaultrag/vaultrag/internal/rag"
)

// Self-correction defaults.
const (
	DefaultQualityThreshold   = 0.5
	DefaultMaxRetries         = 2
	DefaultBroadenTemperature = 0.3

	// FallbackAnswer is returned when every retrieval attempt came back
	// empty and there is nothing to ground a generation on.
	FallbackAnswer = "I couldn't find relevant information to answer your question."

	// qualityTopN is how many top chunks the quality score averages.
	qualityTopN = 3
)

// CorrectionResult is the outcome of a self-correcting query: the
// generated answer plus how retrieval got there.
type CorrectionResult struct {
	Answer     string
	Attempts   int
	FinalQuery string
	// Quality is the mean score of the top chunks from the accepted
	// (or last) retrieval.
	Quality    float64
	AllQueries []string
	Sources    []rag.Source
	Model      string
	Usage      llm.Usage
	Retrieval  *rag.RetrievalResult
}

// SelfCorrectingChain wraps a RAG chain with a retrieval quality gate:
// when the top chunks score below the threshold it asks the model to
// broaden the query and retries before answering.
type SelfCorrectingChain struct {
	chain       *rag.Chain
	threshold   float64
	maxRetries  int
	broadenTemp float64
	logger      *slog.Logger
}

// CorrectionOption configures a SelfCorrectingChain.
type CorrectionOption func(*SelfCorrectingChain)

// WithQualityThreshold sets the minimum mean top-chunk score that
// passes without broadening. Values outside [0,1] are ignored.
func WithQualityThreshold(t float64) CorrectionOption {
	return func(s *SelfCorrectingChain) {
		if t >= 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithMaxRetries sets how many broadened retries follow the initial
// retrieval. Negative values are ignored.
func WithMaxRetries(n int) CorrectionOption {
	return func(s *SelfCorrectingChain) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithBroadenTemperature sets the sampling temperature for broadening
// rewrites.
func WithBroadenTemperature(t float64) CorrectionOption {
	return func(s *SelfCorrectingChain) {
		if t >= 0 {
			s.broadenTemp = t
		}
	}
}

// NewSelfCorrectingChain wraps chain with the default quality gate.
func NewSelfCorrectingChain(chain *rag.Chain, opts ...CorrectionOption) *SelfCorrectingChain {
	s := &SelfCorrectingChain{
		chain:       chain,
		threshold:   DefaultQualityThreshold,
		maxRetries:  DefaultMaxRetries,
		broadenTemp: DefaultBroadenTemperature,
		logger:      slog.Default().With("component", "self_correcting_chain"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query retrieves for the question, broadening the search query and
// retrying while retrieval quality stays below the threshold. The
// answer is always generated for the original question; only the
// search query is rewritten between attempts.
func (s *SelfCorrectingChain) Query(ctx context.Context, question string, topK int, opts ...llm.Option) (*CorrectionResult, error) {
	current := question
	allQueries := []string{question}

	var (
		result   *rag.RetrievalResult
		quality  float64
		attempts int
	)

	for attempts <= s.maxRetries {
		attempts++

		var err error
		result, err = s.chain.Retriever().Retrieve(ctx, current, topK)
		if err != nil {
			return nil, err
		}
		quality = retrievalQuality(result)

		if quality >= s.threshold {
			s.logger.Debug("retrieval_accepted",
				"attempt", attempts,
				"quality", quality)
			return s.finish(ctx, question, current, result, quality, attempts, allQueries, opts...)
		}

		if attempts <= s.maxRetries {
			broadened, err := s.broaden(ctx, current)
			if err != nil {
				return nil, err
			}
			s.logger.Debug("query_broadened",
				"attempt", attempts,
				"quality", quality,
				"from", current,
				"to", broadened)
			current = broadened
			allQueries = append(allQueries, current)
		}
	}

	s.logger.Debug("retries_exhausted",
		"attempts", attempts,
		"quality", quality)
	return s.finish(ctx, question, current, result, quality, attempts, allQueries, opts...)
}

// finish generates the answer from the accepted (or last) retrieval.
// An empty retrieval short-circuits to the fallback answer without a
// generation call.
func (s *SelfCorrectingChain) finish(ctx context.Context, question, finalQuery string, result *rag.RetrievalResult, quality float64, attempts int, allQueries []string, opts ...llm.Option) (*CorrectionResult, error) {
	out := &CorrectionResult{
		Attempts:   attempts,
		FinalQuery: finalQuery,
		Quality:    quality,
		AllQueries: allQueries,
		Retrieval:  result,
		Model:      s.chain.Model().ModelName(),
	}

	if result == nil || len(result.Chunks) == 0 {
		out.Answer = FallbackAnswer
		return out, nil
	}

	answer, err := s.chain.AnswerFromResult(ctx, question, result, nil, opts...)
	if err != nil {
		return nil, err
	}
	out.Answer = answer.Answer
	out.Sources = answer.Sources
	out.Model = answer.Model
	out.Usage = answer.Usage
	return out, nil
}

// broaden asks the model for a more general version of the query. A
// blank rewrite keeps the current query rather than searching for
// nothing.
func (s *SelfCorrectingChain) broaden(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(broadenPrompt, query)
	response, err := s.chain.Model().Generate(ctx,
		[]llm.Message{llm.UserMessage(prompt)},
		llm.WithTemperature(s.broadenTemp))
	if err != nil {
		return "", err
	}

	broadened := strings.TrimSpace(response.Content)
	if broadened == "" {
		return query, nil
	}
	return broadened, nil
}

// retrievalQuality scores a retrieval as the mean of its top chunk
// scores, 0 when nothing came back.
func retrievalQuality(result *rag.RetrievalResult) float64 {
	if result == nil || len(result.Chunks) == 0 {
		return 0
	}

	top := result.Chunks
	if len(top) > qualityTopN {
		top = top[:qualityTopN]
	}

	var sum float64
	for _, chunk := range top {
		sum += chunk.Score
	}
	return sum / float64(len(top))
}
