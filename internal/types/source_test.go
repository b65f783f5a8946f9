package types

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceTable_RegisterDeduplicatesByURL(t *testing.T) {
	table := NewSourceTable()

	id1, created := table.Register(Snippet{Provider: "exa", Title: "About", URL: "https://www.stripe.com/about/", Text: "a"})
	require.True(t, created)
	assert.Equal(t, 1, id1)

	id2, created := table.Register(Snippet{Provider: "exa", Title: "About again", URL: "https://stripe.com/about", Text: "b"})
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	id3, created := table.Register(Snippet{Provider: "exa", Title: "Jobs", URL: "https://stripe.com/jobs", Text: "c"})
	assert.True(t, created)
	assert.Equal(t, 2, id3)
	assert.Equal(t, 2, table.Len())
}

func TestSourceTable_URLLessSnippets(t *testing.T) {
	table := NewSourceTable()

	a, _ := table.Register(Snippet{Provider: "pdl_company", Title: "PDL profile", Text: "Founded: 2010."})
	b, created := table.Register(Snippet{Provider: "pdl_company", Title: "PDL profile", Text: "Founded: 2010."})
	assert.False(t, created)
	assert.Equal(t, a, b)

	c, created := table.Register(Snippet{Provider: "pdl_company", Title: "PDL funding", Text: "rounds=3"})
	assert.True(t, created)
	assert.NotEqual(t, a, c)
}

func TestSourceTable_GLEIFFragmentKept(t *testing.T) {
	table := NewSourceTable()
	a, _ := table.Register(Snippet{Provider: "gleif", URL: "https://search.gleif.org/#/record/AAA", Text: "x"})
	b, _ := table.Register(Snippet{Provider: "gleif", URL: "https://search.gleif.org/#/record/BBB", Text: "y"})
	assert.NotEqual(t, a, b)
}

func TestSourceTable_TruncatesAndDefaultsTitle(t *testing.T) {
	table := NewSourceTable()
	id, _ := table.Register(Snippet{Provider: "exa", URL: "https://a.com", Text: strings.Repeat("x", MaxSourceSnippetChars+10)})
	src, ok := table.Get(id)
	require.True(t, ok)
	assert.Len(t, src.Snippet, MaxSourceSnippetChars)
	assert.Equal(t, "Source", src.Title)
}

func TestSourceTable_ConcurrentRegister(t *testing.T) {
	table := NewSourceTable()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			table.Register(Snippet{Provider: "exa", URL: "https://example.com/shared", Text: "same"})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, table.Len())
	assert.True(t, table.Has(1))
	assert.False(t, table.Has(2))
}

func TestSourceTable_Citations(t *testing.T) {
	table := NewSourceTable()
	table.Register(Snippet{Provider: "exa", Title: "One", URL: "https://one.com"})
	table.Register(Snippet{Provider: "pdl", Title: "Two", URL: "https://two.com"})
	table.Register(Snippet{Provider: "gleif", Title: "Three", URL: "https://three.com"})

	all := table.Citations(nil)
	assert.Len(t, all, 3)

	used := table.Citations([]int{3, 1, 99})
	require.Len(t, used, 2)
	assert.Equal(t, 1, used[0].ID)
	assert.Equal(t, 3, used[1].ID)
	assert.Equal(t, "gleif", used[1].Provider)
}

func TestSourceTable_SameURLDifferentProviders(t *testing.T) {
	table := NewSourceTable()

	exaID, _ := table.Register(Snippet{Provider: "exa", Title: "Jane Doe | LinkedIn", URL: "https://www.linkedin.com/in/janedoe", Text: "profile"})
	pdlID, created := table.Register(Snippet{Provider: "pdl", Title: "Jane Doe", URL: "https://linkedin.com/in/janedoe/", Text: "CEO"})
	require.True(t, created)
	assert.NotEqual(t, exaID, pdlID)

	src, ok := table.Get(pdlID)
	require.True(t, ok)
	assert.Equal(t, "pdl", src.Provider)

	again, created := table.Register(Snippet{Provider: "pdl", URL: "https://linkedin.com/in/janedoe"})
	assert.False(t, created)
	assert.Equal(t, pdlID, again)
}

func TestSourceTable_TruncationKeepsRunesWhole(t *testing.T) {
	table := NewSourceTable()
	// "é" is two bytes, so the byte cap lands inside the last rune
	text := strings.Repeat("a", MaxSourceSnippetChars-1) + "é"
	id, _ := table.Register(Snippet{Provider: "openai-web", URL: "https://a.com", Text: text})
	src, ok := table.Get(id)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(src.Snippet))
	assert.Len(t, src.Snippet, MaxSourceSnippetChars-1)
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "abc", n: 5, want: "abc"},
		{name: "ascii cut", in: "abcdef", n: 3, want: "abc"},
		{name: "mid rune", in: "aé", n: 2, want: "a"},
		{name: "whole rune", in: "aéb", n: 3, want: "aé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateUTF8(tt.in, tt.n))
		})
	}
}
