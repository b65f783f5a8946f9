package schemas

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
	schemafiles "github.com/elijah-diekmann-ai/serendipity-deep-research/schemas"
)

func validBrief() types.BriefDocument {
	b := &types.Brief{
		Sections: []types.BriefSection{
			{Name: types.SectionExecutiveSummary, Markdown: "Acme builds robots [S1].", Status: types.SectionDrafted},
			{Name: types.SectionRecentNews, Markdown: types.NotEnoughData, Status: types.SectionEmpty},
		},
		UsedCitations: []types.Citation{{ID: 1, Title: "Acme", URL: "https://acme.com", Provider: "exa"}},
		AllCitations:  []types.Citation{{ID: 1, Title: "Acme", URL: "https://acme.com", Provider: "exa"}, {ID: 2, Title: "LEI", Provider: "gleif"}},
		SourcesText:   "- **[S1] Acme – acme.com:** See cited passages in the brief. https://acme.com",
	}
	return b.Document()
}

func TestValidateBrief(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.BriefDocument)
		wantErr bool
	}{
		{name: "valid", mutate: func(*types.BriefDocument) {}},
		{name: "empty brief", mutate: func(d *types.BriefDocument) {
			*d = (&types.Brief{}).Document()
		}},
		{name: "unknown section", mutate: func(d *types.BriefDocument) {
			d.Sections["appendix"] = "x"
		}, wantErr: true},
		{name: "citation id zero", mutate: func(d *types.BriefDocument) {
			d.UsedCitations[0].ID = 0
		}, wantErr: true},
		{name: "citation without provider", mutate: func(d *types.BriefDocument) {
			d.AllCitations[1].Provider = ""
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validBrief()
			tt.mutate(&doc)
			err := ValidateBrief(doc)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.NotEmpty(t, validationErr.Errors)
		})
	}
}

func TestValidateTraceEvent(t *testing.T) {
	ev := types.TraceEvent{
		ID:        uuid.New(),
		JobID:     uuid.New(),
		Seq:       1,
		Phase:     types.PhasePlanning,
		Step:      "plan_research:start",
		Label:     "Planning research",
		CreatedAt: time.Now().UTC(),
	}
	assert.NoError(t, ValidateTraceEvent(ev))

	ev.Phase = "SLEEPING"
	assert.Error(t, ValidateTraceEvent(ev))
}

func TestValidateValue_UnknownSchema(t *testing.T) {
	err := ValidateValue("missing.schema.json", map[string]any{})
	var loadErr *SchemaLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "missing.schema.json", loadErr.Path)
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "brief.json")
	data, err := json.Marshal(validBrief())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(valid, data, 0644))
	assert.NoError(t, ValidateFile(schemafiles.Brief, valid))

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"sections": {}}`), 0644))
	var validationErr *ValidationError
	require.ErrorAs(t, ValidateFile(schemafiles.Brief, invalid), &validationErr)

	err = ValidateFile(schemafiles.Brief, filepath.Join(dir, "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidateJSONString_Valid(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"}
		}
	}`
	assert.NoError(t, ValidateJSONString(schemaContent, `{"name": "test"}`))
}

func TestValidateJSONString_NestedFieldPath(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["person"],
		"properties": {
			"person": {
				"type": "object",
				"required": ["name"],
				"properties": {"name": {"type": "string"}}
			}
		}
	}`

	err := ValidateJSONString(schemaContent, `{"person": {}}`)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.NotEmpty(t, validationErr.Errors)
	assert.Contains(t, validationErr.Errors[0].Field, "person")
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "name", Message: "is required"},
			{Field: "age", Message: "must be a number"},
		},
	}

	errorMsg := err.Error()
	assert.Contains(t, errorMsg, "validation failed")
	assert.Contains(t, errorMsg, "name")
	assert.Contains(t, errorMsg, "age")
}
