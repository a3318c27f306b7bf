package agent

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no test in this package leaks goroutines; the
// fan-out workers must all be joined even when queries fail or the
// context is canceled mid-flight. bleve (imported transitively via
// internal/rag) starts its analysis workers in package init, so they
// can never be joined and are excluded from the check.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/blevesearch/bleve_index_api.AnalysisWorker"),
	)
}
