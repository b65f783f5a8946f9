// Package prompts holds the embedded LLM prompt library. Every prompt set is parsed
// and checked once: required keys must exist, each template must parse and reference
// its placeholders, and every policy section must have a drafting instruction.
package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

//go:embed *.json
var promptFiles embed.FS

// Set names one embedded prompt file
type Set string

// Prompt sets
const (
	Writer     Set = "writer.json"
	Summarizer Set = "summarizer.json"
	OpenAIWeb  Set = "openai_web.json"
	QA         Set = "qa.json"
)

// CitationToken must appear in every section instruction so drafts carry citations.
const CitationToken = "[S<ID>]"

// required lists the keys each set must define and the placeholders each key must use.
var required = map[Set]map[string][]string{
	Writer: {
		"system": nil,
		"draft":  {"Section", "Instruction", "Target", "AllowedIDs", "Context", "Sources"},
	},
	Summarizer: {
		"system":    nil,
		"summarize": {"Provider", "Title", "Text"},
	},
	OpenAIWeb: {
		"system":         nil,
		"competitors":    {"Target"},
		"founding":       {"Target"},
		"person_profile": {"Target"},
	},
	QA: {
		"system": nil,
		"answer": {"Target", "Question", "AllowedIDs", "Sources"},
	},
}

// LoadError reports a prompt set that failed validation
type LoadError struct {
	Set     Set
	Key     string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	where := string(e.Set)
	if e.Key != "" {
		where += ":" + e.Key
	}
	if e.Cause != nil {
		return fmt.Sprintf("prompts %s: %s: %v", where, e.Message, e.Cause)
	}
	return fmt.Sprintf("prompts %s: %s", where, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Library is a validated, parsed set of prompt files
type Library struct {
	raw       map[Set]map[string]string
	templates map[Set]map[string]*template.Template
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
	defaultErr  error
)

// Default returns the embedded library, validated against the default section policy.
func Default() (*Library, error) {
	defaultOnce.Do(func() {
		defaultLib, defaultErr = Load(promptFiles, policy.Default().Names())
	})
	return defaultLib, defaultErr
}

// Load parses every known set from fsys and validates it. sections are the brief
// sections that need a writer instruction.
func Load(fsys fs.FS, sections []types.SectionName) (*Library, error) {
	lib := &Library{
		raw:       make(map[Set]map[string]string, len(required)),
		templates: make(map[Set]map[string]*template.Template, len(required)),
	}
	for _, set := range Sets() {
		if err := lib.loadSet(fsys, set); err != nil {
			return nil, err
		}
	}
	for _, name := range sections {
		instr, ok := lib.raw[Writer][string(name)]
		if !ok {
			return nil, &LoadError{Set: Writer, Key: string(name), Message: "no drafting instruction for section"}
		}
		if !strings.Contains(instr, CitationToken) {
			return nil, &LoadError{Set: Writer, Key: string(name), Message: "instruction does not ask for " + CitationToken + " citations"}
		}
	}
	return lib, nil
}

func (l *Library) loadSet(fsys fs.FS, set Set) error {
	data, err := fs.ReadFile(fsys, string(set))
	if err != nil {
		return &LoadError{Set: set, Message: "read failed", Cause: err}
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return &LoadError{Set: set, Message: "invalid JSON", Cause: err}
	}

	parsed := make(map[string]*template.Template, len(entries))
	for key, text := range entries {
		tmpl, err := template.New(string(set) + ":" + key).Option("missingkey=error").Parse(text)
		if err != nil {
			return &LoadError{Set: set, Key: key, Message: "template does not parse", Cause: err}
		}
		parsed[key] = tmpl
	}
	for key, placeholders := range required[set] {
		text, ok := entries[key]
		if !ok {
			return &LoadError{Set: set, Key: key, Message: "required prompt missing"}
		}
		for _, p := range placeholders {
			if !strings.Contains(text, "{{."+p+"}}") {
				return &LoadError{Set: set, Key: key, Message: "missing placeholder {{." + p + "}}"}
			}
		}
	}
	l.raw[set] = entries
	l.templates[set] = parsed
	return nil
}

// Sets returns every known prompt set in name order
func Sets() []Set {
	out := make([]Set, 0, len(required))
	for s := range required {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get returns the raw text of a prompt
func (l *Library) Get(set Set, key string) (string, error) {
	text, ok := l.raw[set][key]
	if !ok {
		return "", &LoadError{Set: set, Key: key, Message: "prompt not found"}
	}
	return text, nil
}

// Section returns the drafting instruction for a brief section
func (l *Library) Section(name types.SectionName) (string, error) {
	return l.Get(Writer, string(name))
}

// Render executes a prompt template. Every placeholder must be present in data.
func (l *Library) Render(set Set, key string, data map[string]string) (string, error) {
	tmpl, ok := l.templates[set][key]
	if !ok {
		return "", &LoadError{Set: set, Key: key, Message: "prompt not found"}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &LoadError{Set: set, Key: key, Message: "render failed", Cause: err}
	}
	return buf.String(), nil
}

// Keys returns the keys of a set in name order
func (l *Library) Keys(set Set) []string {
	keys := make([]string, 0, len(l.raw[set]))
	for k := range l.raw[set] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a prompt from the embedded library
func Get(set Set, key string) (string, error) {
	lib, err := Default()
	if err != nil {
		return "", err
	}
	return lib.Get(set, key)
}

// MustGet returns a prompt from the embedded library and panics when it is absent.
// The embedded library is validated by tests, so a panic here is a build defect.
func MustGet(set Set, key string) string {
	text, err := Get(set, key)
	if err != nil {
		panic(err)
	}
	return text
}

// Render executes a prompt of the embedded library
func Render(set Set, key string, data map[string]string) (string, error) {
	lib, err := Default()
	if err != nil {
		return "", err
	}
	return lib.Render(set, key, data)
}

// Section returns the embedded drafting instruction for a brief section
func Section(name types.SectionName) (string, error) {
	lib, err := Default()
	if err != nil {
		return "", err
	}
	return lib.Section(name)
}
