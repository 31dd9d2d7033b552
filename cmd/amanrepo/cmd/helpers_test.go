package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/require"
)

// testEnv is an isolated home and project directory with two maven
// repositories on disk.
type testEnv struct {
	project string
	base    string
	journal string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	project := t.TempDir()
	central := filepath.Join(project, "indexes", "central")
	internal := filepath.Join(project, "indexes", "internal")
	writeMemberIndex(t, central, map[string]string{
		"junit:junit:4.13":        "junit",
		"org.slf4j:slf4j-api:2.0": "slf4j",
	})
	writeMemberIndex(t, internal, map[string]string{
		"com.acme:core:1.0": "core",
	})

	env := &testEnv{
		project: project,
		base:    filepath.Join(project, "merged"),
		journal: filepath.Join(project, "state", "journal.db"),
	}
	yaml := fmt.Sprintf(`version: 1
repositories:
  - id: central
    type: maven
    index_dir: %s
  - id: internal
    type: maven
    index_dir: %s
  - id: npmjs
    type: npm
merge:
  base_dir: %s
  index_path: .indexer
  default_ttl: 10m
reaper:
  enabled: true
  interval: 20ms
  cleanups_per_second: 100
journal:
  path: %s
logging:
  level: debug
`, central, internal, env.base, env.journal)
	require.NoError(t, os.WriteFile(filepath.Join(project, ".amanrepo.yaml"), []byte(yaml), 0o644))
	return env
}

func writeMemberIndex(t *testing.T, path string, artifacts map[string]string) {
	t.Helper()
	idx, err := bleve.New(path, bleve.NewIndexMapping())
	require.NoError(t, err)
	for id, name := range artifacts {
		require.NoError(t, idx.Index(id, map[string]any{"artifact": name}))
	}
	require.NoError(t, idx.Close())
}

// run executes the root command with the project config and returns stdout
// and stderr.
func (e *testEnv) run(ctx context.Context, args ...string) (string, string, error) {
	root := NewRootCmd()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"--config", e.project}, args...))
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}
