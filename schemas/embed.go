// Package schemas holds the JSON Schemas of the artifacts the research agent persists and serves.
package schemas

import (
	"embed"
	"fmt"
)

// Schema file names
const (
	Brief      = "brief.schema.json"
	TraceEvent = "trace_event.schema.json"
)

//go:embed *.schema.json
var files embed.FS

// Read returns the content of an embedded schema file
func Read(name string) ([]byte, error) {
	data, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("schema %s not embedded: %w", name, err)
	}
	return data, nil
}

// Names lists the embedded schema files
func Names() []string {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}
