// Package preflight provides system validation checks run before sync
// and serve operations.
//
// The package validates:
//   - Vault path existence and readability
//   - Write permissions in the data directory
//   - Disk space availability (minimum 100MB)
//   - File descriptor limits (minimum 1024; watch mode holds one
//     descriptor per vault directory)
//   - Embedding backend reachability (non-critical)
//   - LLM backend reachability (non-critical)
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, preflight.Env{VaultPath: vault, DataDir: dataDir})
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
