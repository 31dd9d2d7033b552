package errors

import (
	"fmt"
	"slices"
	"strings"
)

// detailOrder lists the details printed first, in this order. Any other
// details follow sorted by key.
var detailOrder = []string{"repository_id", "group_id", "index_id", "path"}

// FormatForCLI renders err for the terminal: the message, identifying
// details, a hint and the error code. Errors that are not RepoErrors are
// reported as internal errors.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ae, ok := as(err)
	if !ok {
		ae = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	for _, key := range detailKeys(ae.Details) {
		fmt.Fprintf(&sb, "  %s: %s\n", key, ae.Details[key])
	}
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	if ae.Retryable {
		sb.WriteString("  Retry: the operation may succeed if run again\n")
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

func detailKeys(details map[string]string) []string {
	keys := make([]string, 0, len(details))
	for _, key := range detailOrder {
		if _, ok := details[key]; ok {
			keys = append(keys, key)
		}
	}
	var rest []string
	for key := range details {
		if !slices.Contains(detailOrder, key) {
			rest = append(rest, key)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}
