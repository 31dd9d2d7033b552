package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("→", "Merging group com.acme")

	// Then: output contains icon and message
	assert.Equal(t, "→ Merging group com.acme\n", buf.String())
}

func TestWriter_Status_NoIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "No results found.")

	assert.Equal(t, "No results found.\n", buf.String())
}

func TestWriter_Levels(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Successf("Merged %d documents", 3) }, "✓ Merged 3 documents\n"},
		{"warning", func(w *Writer) { w.Warning("Journal disabled") }, "! Journal disabled\n"},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "io") }, "✗ failed: io\n"},
		{"status", func(w *Writer) { w.Statusf("-", "%s=%d", "n", 1) }, "- n=1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}

func TestNew_BufferHasNoColor(t *testing.T) {
	// Given/When: a writer over a non-terminal
	w := New(&bytes.Buffer{})

	// Then: no escape codes are emitted
	assert.False(t, w.useColor)
	assert.Equal(t, "✓", w.paint(colorGreen, "✓"))
}

func TestPaint_WrapsWhenColorEnabled(t *testing.T) {
	w := &Writer{out: &bytes.Buffer{}, useColor: true}

	assert.Equal(t, colorRed+"✗"+colorReset, w.paint(colorRed, "✗"))
}
