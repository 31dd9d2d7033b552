// Package preflight checks that AmanRepo can operate before it starts work.
//
// The package validates:
//   - Free disk space under the merge base directory (minimum 100MB)
//   - Write permissions in the merge base directory
//   - File descriptor limits (minimum 1024)
//   - The temporary index journal
//   - The search index of every configured maven repository
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
