package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultrag/vaultrag/internal/embed"
	"github.com/vaultrag/vaultrag/internal/llm"
)

// Backend probe budgets. Generous because a cold Ollama model load can
// take several seconds.
const (
	embedderProbeTimeout = 10 * time.Second
	llmProbeTimeout      = 15 * time.Second
)

// CheckEmbedder probes the embedding backend.
// Non-critical: sync can run on the static embedder when the remote
// backend is down.
func (c *Checker) CheckEmbedder(ctx context.Context, embedder embed.Embedder) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	ctx, cancel := context.WithTimeout(ctx, embedderProbeTimeout)
	defer cancel()

	if !embedder.Available(ctx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unreachable", embedder.ModelName())
		result.Details = "Check the embedding backend or set embedding.provider to static"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s ready (%d dims)", embedder.ModelName(), embedder.Dimensions())
	return result
}

// CheckLLM probes the chat backend with a single-token generation.
// Non-critical: sync and query work without an LLM; only ask needs one.
func (c *Checker) CheckLLM(ctx context.Context, model llm.LLM) CheckResult {
	result := CheckResult{
		Name:     "llm",
		Required: false,
	}

	ctx, cancel := context.WithTimeout(ctx, llmProbeTimeout)
	defer cancel()

	_, err := model.Generate(ctx, []llm.Message{llm.UserMessage("ping")}, llm.WithMaxTokens(1))
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unreachable: %v", model.ModelName(), err)
		result.Details = "ask needs a reachable LLM backend; query works without one"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s ready", model.ModelName())
	return result
}
