package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateContent(t *testing.T) {
	assert.Equal(t, "", truncateContent(""))
	assert.Equal(t, "short text", truncateContent("short text"))

	exact := strings.Repeat("a", 200)
	assert.Equal(t, exact, truncateContent(exact))

	// Cut at the last sentence boundary within the cap.
	long := strings.Repeat("a", 150) + ". " + strings.Repeat("b", 100)
	truncated := truncateContent(long)
	assert.Equal(t, strings.Repeat("a", 150)+". ", truncated)

	// CJK delimiters are honored and characters are never split.
	cjk := strings.Repeat("啊", 100) + "。" + strings.Repeat("啊", 150)
	truncated = truncateContent(cjk)
	assert.Equal(t, strings.Repeat("啊", 100)+"。", truncated)
	assert.True(t, utf8.ValidString(truncated))

	// No delimiter anywhere falls back to a hard cut at the cap.
	solid := strings.Repeat("x", 300)
	truncated = truncateContent(solid)
	assert.Equal(t, strings.Repeat("x", 200), truncated)

	solidCjk := strings.Repeat("字", 300)
	truncated = truncateContent(solidCjk)
	assert.Equal(t, 200, utf8.RuneCountInString(truncated))
	assert.True(t, utf8.ValidString(truncated))
}
