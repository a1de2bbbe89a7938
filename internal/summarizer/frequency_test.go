package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_Empty(t *testing.T) {
	got, err := New().Summarize("", 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = New().Summarize("   \n  ", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSummarize_KeepsDocumentOrder(t *testing.T) {
	text := "Cats sleep a lot. The weather was mild. Cats purr when cats are happy. Trains run late."
	got, err := New().Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Cats sleep a lot. Cats purr when cats are happy.", got)
}

func TestSummarize_FewerSentencesThanRequested(t *testing.T) {
	got, err := New().Summarize("Only one sentence here", 5)
	require.NoError(t, err)
	assert.Equal(t, "Only one sentence here", got)
}

func TestSummarize_DropsRunOnText(t *testing.T) {
	text := strings.Repeat("x", 500) + ". Short and sweet."
	got, err := New().Summarize(text, 1)
	require.NoError(t, err)
	assert.Equal(t, "Short and sweet.", got)
}

func TestSummarize_DefaultCount(t *testing.T) {
	got, err := New().Summarize("One. Two. Three. Four. Five.", 0)
	require.NoError(t, err)
	assert.Len(t, strings.Split(got, " "), 3)
}
