package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"trailing period", "check https://example.com/page.", []string{"https://example.com/page"}},
		{"parenthesised", "see (https://example.com/a?b=1).", []string{"https://example.com/a?b=1"}},
		{"several with dup", "http://a.io, https://b.io/x! and http://a.io", []string{"http://a.io", "https://b.io/x"}},
		{"quoted", `read "https://example.com/q"`, []string{"https://example.com/q"}},
		{"none", "no links here", nil},
		{"bare scheme", "https://", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractURLs(tt.text))
		})
	}
}

func TestIsSearchIntent(t *testing.T) {
	positives := []string{
		"search latest AI regulation news",
		"Can you find competitors",
		"please LOOK UP pricing",
		"What is RAG?",
		"who is the CEO of Acme",
		"any news today",
	}
	for _, text := range positives {
		assert.True(t, IsSearchIntent(text), text)
	}

	negatives := []string{
		"hello there",
		"our findings were good", // "find" only as a word
		"I like newsletters",
	}
	for _, text := range negatives {
		assert.False(t, IsSearchIntent(text), text)
	}
}

func TestIsAboutMe(t *testing.T) {
	assert.True(t, IsAboutMe("Tell me about myself"))
	assert.True(t, IsAboutMe("what do you know about my company?"))
	assert.True(t, IsAboutMe("who am I"))
	assert.False(t, IsAboutMe("tell me about AI agents"))
}

func TestChooseText(t *testing.T) {
	assert.Equal(t, "selected words", chooseText("full text", "  selected words "))
	assert.Equal(t, "full text", chooseText("full text", "abc"))
	assert.Equal(t, "full text", chooseText(" full text ", ""))
}
