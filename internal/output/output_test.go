package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔍", "Checking embedder...")

	assert.Contains(t, buf.String(), "🔍")
	assert.Contains(t, buf.String(), "Checking embedder...")
}

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("Index complete!")

	assert.Contains(t, buf.String(), "✅")
}

func TestWriter_Statusf_FormatsMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📂", "Found %d files in %s", 42, "/path/to/project")

	assert.Contains(t, buf.String(), "Found 42 files in /path/to/project")
}

func TestWriter_Progress_ZeroTotal_NoOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	assert.NotPanics(t, func() {
		w.Progress(0, 0, "Processing")
	})
	assert.Empty(t, buf.String())
}

func TestWriter_Progress_RendersPercent(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(50, 100, "Indexing files")

	assert.Contains(t, buf.String(), "50%")
	assert.Contains(t, buf.String(), "Indexing files")
}
