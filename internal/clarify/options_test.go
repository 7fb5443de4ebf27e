package clarify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractOptions_Numbered(t *testing.T) {
	opts := ExtractOptions("Two choices here:\n1. PostgreSQL\n2) SQLite\nWhich should I use?")
	assert.Equal(t, []string{"PostgreSQL", "SQLite"}, opts)
}

func TestExtractOptions_Lettered(t *testing.T) {
	opts := ExtractOptions("Pick one:\na) Redis\nb) Memcached")
	assert.Equal(t, []string{"Redis", "Memcached"}, opts)
}

func TestExtractOptions_Bulleted(t *testing.T) {
	opts := ExtractOptions("Supported frameworks:\n- Express\n- Fastify\n- Koa")
	assert.Equal(t, []string{"Express", "Fastify", "Koa"}, opts)
}

func TestExtractOptions_Between(t *testing.T) {
	opts := ExtractOptions("I can't decide between Tailwind and plain CSS, which do you prefer?")
	assert.Equal(t, []string{"Tailwind", "plain CSS"}, opts)
}

func TestExtractOptions_InlineOr(t *testing.T) {
	opts := ExtractOptions("Do you want MySQL or MariaDB for this project?")
	assert.Equal(t, []string{"MySQL", "MariaDB"}, opts)
}

func TestExtractOptions_OptionN(t *testing.T) {
	opts := ExtractOptions("Option 1: use Docker, Option 2: run natively")
	assert.Equal(t, []string{"use Docker", "run natively"}, opts)
}

func TestExtractOptions_SingleItemRejected(t *testing.T) {
	assert.Nil(t, ExtractOptions("1. only one thing here"))
}

func TestExtractOptions_NoMatch(t *testing.T) {
	assert.Nil(t, ExtractOptions("Should I continue with the current plan?"))
}

func TestExtractOptions_StripsPunctuationAndQuotes(t *testing.T) {
	opts := ExtractOptions("1. \"React\"\n2. 'Vue'")
	assert.Equal(t, []string{"React", "Vue"}, opts)
}

func TestClassifyResponse(t *testing.T) {
	options := []string{"PostgreSQL", "SQLite", "MongoDB"}

	tests := []struct {
		name     string
		response string
		kind     MatchKind
		matched  string
	}{
		{"exact", "SQLite", MatchExact, "SQLite"},
		{"exact case-insensitive", "postgresql", MatchExact, "PostgreSQL"},
		{"index numeric", "2", MatchIndex, "SQLite"},
		{"index with paren", "3)", MatchIndex, "MongoDB"},
		{"index letter", "a", MatchIndex, "PostgreSQL"},
		{"index option prefix", "option 1", MatchIndex, "PostgreSQL"},
		{"index out of range", "7", MatchNone, ""},
		{"partial", "let's go with postgresql please", MatchPartial, "PostgreSQL"},
		{"none", "actually, use the filesystem", MatchNone, ""},
		{"empty", "", MatchNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, matched := ClassifyResponse(tt.response, options)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestClassifyResponse_NoOptions(t *testing.T) {
	kind, matched := ClassifyResponse("anything", nil)
	assert.Equal(t, MatchNone, kind)
	assert.Empty(t, matched)
}
