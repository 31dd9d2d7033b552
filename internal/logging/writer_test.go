package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSmallWriter opens a writer whose limit is lowered below the 1MB config
// granularity so rollover can be exercised with short records.
func newSmallWriter(t *testing.T, limit int64, keep int) (*RotatingWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	w, err := NewRotatingWriter(path, 1, keep)
	require.NoError(t, err)
	w.limit = limit
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRotatingWriter_AppendsVisibleBeforeClose(t *testing.T) {
	// Given: a log file that already holds one record
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte("merge_started\n"), 0o644))

	// When: a writer is opened on it and a record is written
	w, err := NewRotatingWriter(path, 10, 5)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	_, err = w.Write([]byte("merge_complete\n"))
	require.NoError(t, err)

	// Then: both records are readable without closing the writer
	assert.Equal(t, "merge_started\nmerge_complete\n", readLog(t, path))
	assert.Equal(t, int64(len("merge_started\nmerge_complete\n")), w.size)
}

func TestRotatingWriter_NonPositiveSettingsTakeDefaults(t *testing.T) {
	// Given: max_size_mb and max_files left at zero and negative
	path := filepath.Join(t.TempDir(), "server.log")

	// When: the writer is opened
	w, err := NewRotatingWriter(path, 0, -1)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Then: the documented defaults apply
	assert.Equal(t, int64(defaultMaxSizeMB)<<20, w.limit)
	assert.Equal(t, defaultMaxFiles, w.keep)
}

func TestRotatingWriter_RollsOverAtLimit(t *testing.T) {
	// Given: a writer with a 16 byte limit
	w, path := newSmallWriter(t, 16, 3)

	// When: two 10 byte records are written
	_, err := w.Write([]byte("record-01\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("record-02\n"))
	require.NoError(t, err)

	// Then: the first record moved to generation 1 and the second is active
	assert.Equal(t, "record-01\n", readLog(t, path+".1"))
	assert.Equal(t, "record-02\n", readLog(t, path))
}

func TestRotatingWriter_KeepsAtMostMaxFilesGenerations(t *testing.T) {
	// Given: a writer that keeps two generations
	w, path := newSmallWriter(t, 8, 2)

	// When: five records each force a rollover
	for _, rec := range []string{"a-record\n", "b-record\n", "c-record\n", "d-record\n", "e-record\n"} {
		_, err := w.Write([]byte(rec))
		require.NoError(t, err)
	}

	// Then: only the newest generations survive, newest first
	assert.Equal(t, "e-record\n", readLog(t, path))
	assert.Equal(t, "d-record\n", readLog(t, path+".1"))
	assert.Equal(t, "c-record\n", readLog(t, path+".2"))
	assert.NoFileExists(t, path+".3")
}

func TestRotatingWriter_OversizedFirstRecordStaysInPlace(t *testing.T) {
	// Given: an empty log and a record larger than the limit
	w, path := newSmallWriter(t, 4, 3)

	// When: the record is written
	_, err := w.Write([]byte("oversized record\n"))
	require.NoError(t, err)

	// Then: it lands in the active file and nothing was rolled over
	assert.Equal(t, "oversized record\n", readLog(t, path))
	assert.NoFileExists(t, path+".1")
}

func TestRotatingWriter_ConcurrentWritesKeepRecordsWhole(t *testing.T) {
	// Given: a writer with the default limit
	path := filepath.Join(t.TempDir(), "server.log")
	w, err := NewRotatingWriter(path, 0, 0)
	require.NoError(t, err)

	// When: many goroutines write full lines at once
	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				_, _ = w.Write([]byte("{\"msg\":\"group_merged\"}\n"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	// Then: every line is intact
	lines := strings.Split(strings.TrimSuffix(readLog(t, path), "\n"), "\n")
	require.Len(t, lines, writers*perWriter)
	for _, line := range lines {
		assert.Equal(t, "{\"msg\":\"group_merged\"}", line)
	}
}

func TestRotatingWriter_WriteAfterCloseFails(t *testing.T) {
	// Given: a closed writer
	w, _ := newSmallWriter(t, 64, 2)
	require.NoError(t, w.Close())

	// When: a record is written
	_, err := w.Write([]byte("late\n"))

	// Then: it is refused, and Sync and Close stay quiet
	assert.ErrorIs(t, err, errWriterClosed)
	assert.NoError(t, w.Sync())
	assert.NoError(t, w.Close())
}
