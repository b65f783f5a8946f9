package types

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// MaxSourceSnippetChars caps stored snippet text.
const MaxSourceSnippetChars = 16000

// Source is a persisted, citable evidence unit. Immutable once registered.
type Source struct {
	ID            int        `json:"id"`
	URL           string     `json:"url,omitempty"`
	Title         string     `json:"title"`
	Provider      string     `json:"provider"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Snippet       string     `json:"snippet"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// Host returns the URL host, or "" for url-less sources.
func (s Source) Host() string {
	return ExtractDomain(s.URL)
}

// Citation is the public projection of a Source used in briefs.
type Citation struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

// Citation projects the source for brief output.
func (s Source) Citation() Citation {
	return Citation{ID: s.ID, Title: s.Title, URL: s.URL, Provider: s.Provider}
}

// SourceTable is the job-scoped Source set with its own id allocator.
// Ids start at 1 and are never reused within a job.
type SourceTable struct {
	mu      sync.RWMutex
	sources []Source
	byKey   map[string]int
	nextID  int
}

// NewSourceTable creates an empty table
func NewSourceTable() *SourceTable {
	return &SourceTable{
		byKey:  make(map[string]int),
		nextID: 1,
	}
}

// RestoreSourceTable rebuilds a job's table from persisted sources so later
// registrations continue the id sequence and dedup against what is stored.
func RestoreSourceTable(sources []Source) *SourceTable {
	sorted := append([]Source(nil), sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	t := NewSourceTable()
	for _, s := range sorted {
		if s.ID != len(t.sources)+1 {
			// Ids are dense per job; a gap means the stored set is partial.
			continue
		}
		t.sources = append(t.sources, s)
		t.byKey[sourceKey(Snippet{Provider: s.Provider, URL: s.URL, Title: s.Title, Text: s.Snippet})] = s.ID
		t.nextID = s.ID + 1
	}
	return t
}

// Register allocates a Source for a snippet, or returns the existing id when the
// same provider already supplied that evidence (by URL, or by title/text for url-less
// snippets). The same URL from two providers yields two sources, since section
// whitelists are keyed by provider.
func (t *SourceTable) Register(sn Snippet) (id int, created bool) {
	key := sourceKey(sn)

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byKey[key]; ok {
		return existing, false
	}

	text := TruncateUTF8(sn.Text, MaxSourceSnippetChars)
	title := strings.TrimSpace(sn.Title)
	if title == "" {
		title = "Source"
	}

	id = t.nextID
	t.nextID++
	t.sources = append(t.sources, Source{
		ID:            id,
		URL:           strings.TrimSpace(sn.URL),
		Title:         title,
		Provider:      sn.Provider,
		PublishedDate: sn.PublishedDate,
		Snippet:       text,
		FetchedAt:     sn.FetchedAt,
	})
	t.byKey[key] = id
	return id, true
}

// Get returns the source with the given id
func (t *SourceTable) Get(id int) (Source, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 1 || id > len(t.sources) {
		return Source{}, false
	}
	return t.sources[id-1], true
}

// Has reports whether id is a valid source id for this job
func (t *SourceTable) Has(id int) bool {
	_, ok := t.Get(id)
	return ok
}

// All returns a copy of every source in id order
func (t *SourceTable) All() []Source {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Source, len(t.sources))
	copy(out, t.sources)
	return out
}

// Len returns the number of registered sources
func (t *SourceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sources)
}

// IDs returns all ids in ascending order
func (t *SourceTable) IDs() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int, len(t.sources))
	for i, s := range t.sources {
		ids[i] = s.ID
	}
	sort.Ints(ids)
	return ids
}

// Citations projects the given ids (or all sources when ids is nil) in ascending id order.
func (t *SourceTable) Citations(ids []int) []Citation {
	all := t.All()
	if ids == nil {
		out := make([]Citation, len(all))
		for i, s := range all {
			out[i] = s.Citation()
		}
		return out
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	out := make([]Citation, 0, len(sorted))
	for _, id := range sorted {
		if id >= 1 && id <= len(all) {
			out = append(out, all[id-1].Citation())
		}
	}
	return out
}

func sourceKey(sn Snippet) string {
	if u := NormalizeURL(sn.URL); u != "" {
		return "url:" + sn.Provider + "\x00" + u
	}
	sum := sha256.Sum256([]byte(sn.Provider + "\x00" + sn.Title + "\x00" + sn.Text))
	return "text:" + hex.EncodeToString(sum[:])
}

// TruncateUTF8 cuts s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// NormalizeURL lower-cases scheme and host, drops fragments, "www." and trailing slashes.
// Fragment-addressed single-page records (e.g. "#/record/<id>") keep their fragment.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimRight(u.Path, "/")
	out := host + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	if strings.HasPrefix(u.Fragment, "/") {
		out += "#" + u.Fragment
	}
	return out
}
