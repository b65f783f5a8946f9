package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFound(t *testing.T) {
	t.Run("no rows maps to ErrNotFound", func(t *testing.T) {
		err := notFound(pgx.ErrNoRows, "job")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, "job: not found", err.Error())
	})

	t.Run("wrapped no rows maps to ErrNotFound", func(t *testing.T) {
		err := notFound(fmt.Errorf("scan: %w", pgx.ErrNoRows), "brief")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := notFound(cause, "company")
		assert.False(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, "failed to get company: connection reset", err.Error())
	})
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	got := nullIfEmpty("gleif")
	require.NotNil(t, got)
	assert.Equal(t, "gleif", *got)
}

func TestDerefString(t *testing.T) {
	assert.Equal(t, "", derefString(nil))
	s := "https://acme.com"
	assert.Equal(t, s, derefString(&s))
}

func TestSchemaSQL(t *testing.T) {
	tables := []string{
		"research_jobs",
		"sources",
		"briefs",
		"trace_events",
		"companies",
		"people",
		"provider_cache",
	}
	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table+" (")
		})
	}

	t.Run("statements are idempotent", func(t *testing.T) {
		for _, line := range strings.Split(schemaSQL, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "CREATE ") {
				assert.Contains(t, trimmed, "IF NOT EXISTS", trimmed)
			}
		}
	})

	t.Run("job status is constrained", func(t *testing.T) {
		assert.Contains(t, schemaSQL, "CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED'))")
	})
}
