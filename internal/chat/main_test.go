package chat

import (
	"testing"

	"go.uber.org/goleak"
)

// Stream recording runs on its own goroutine; every test must leave it
// joined, even on the abort paths. bleve (imported transitively via
// internal/rag) starts its analysis workers in package init, so they
// can never be joined and are excluded from the check.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/blevesearch/bleve_index_api.AnalysisWorker"),
	)
}
