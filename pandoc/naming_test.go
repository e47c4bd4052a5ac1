package pandoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputName(t *testing.T) {
	t.Run("safe stem is kept", func(t *testing.T) {
		assert.Equal(t, "report.docx", OutputName("report.md", "abc123", "docx"))
		assert.Equal(t, "My_notes-v2.docx", OutputName("My_notes-v2.md", "abc123", "docx"))
		assert.Equal(t, "draft.1.pdf", OutputName("draft.1.md", "abc123", "pdf"))
	})

	t.Run("unsafe stem falls back to the task id", func(t *testing.T) {
		assert.Equal(t, "abc123.docx", OutputName("my report.md", "abc123", "docx"))
		assert.Equal(t, "abc123.docx", OutputName("résumé.md", "abc123", "docx"))
		assert.Equal(t, "abc123.docx", OutputName("a;b|c.md", "abc123", "docx"))
	})

	t.Run("path components are stripped", func(t *testing.T) {
		assert.Equal(t, "passwd.docx", OutputName("../../etc/passwd.md", "abc123", "docx"))
	})

	t.Run("missing original name falls back to the task id", func(t *testing.T) {
		assert.Equal(t, "abc123.docx", OutputName("", "abc123", "docx"))
		assert.Equal(t, "abc123.docx", OutputName(".md", "abc123", "docx"))
	})

	t.Run("format dot prefix is normalized", func(t *testing.T) {
		assert.Equal(t, "report.pdf", OutputName("report.md", "abc123", ".pdf"))
	})
}

func TestFormats(t *testing.T) {
	assert.Equal(t, "markdown", ReaderFor("md"))
	assert.Equal(t, "latex", ReaderFor("tex"))
	assert.Equal(t, DefaultReader, ReaderFor("mystery"))

	assert.True(t, OutputSupported("md", "docx"))
	assert.True(t, OutputSupported("md", "pdf"))
	assert.False(t, OutputSupported("md", "exe"))
	assert.False(t, OutputSupported("html", "epub"))

	// Unknown inputs only offer the default output.
	assert.Equal(t, []string{DefaultOutput}, AllowedOutputs("mystery"))
	assert.True(t, OutputSupported("mystery", "docx"))
}
