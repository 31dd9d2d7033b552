package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCCmd_RemovesOrphans(t *testing.T) {
	// Given: two orphans in the journal
	env := newTestEnv(t)
	first := recordOrphan(t, env, "tmp-a")
	second := recordOrphan(t, env, "tmp-b")

	// When: collecting
	stdout, _, err := env.run(t.Context(), "gc")

	// Then: both are removed
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed 2 orphaned temporary indexes")
	assert.NoDirExists(t, first)
	assert.NoDirExists(t, second)

	// And: a second run finds nothing
	stdout, _, err = env.run(t.Context(), "gc")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed 0 orphaned temporary indexes")
}

func TestGCCmd_JournalDisabled(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("AMANREPO_JOURNAL_PATH", "off")

	stdout, _, err := env.run(t.Context(), "gc")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Journal disabled")
}
