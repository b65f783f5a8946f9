//go:build integration

package db

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

var (
	containerOnce sync.Once
	testContainer testcontainers.Container
	testDSN       string
	containerErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if testContainer != nil {
		_ = testContainer.Terminate(context.Background())
	}
	os.Exit(code)
}

// startPostgres runs a throwaway postgres container shared by every test in the package
func startPostgres(ctx context.Context) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "research",
				"POSTGRES_PASSWORD": "research",
				"POSTGRES_DB":       "research_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", err
	}
	testContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://research:research@%s:%s/research_test?sslmode=disable", host, port.Port()), nil
}

// getTestDB connects to TEST_DATABASE_URL when set, otherwise to a postgres container.
func getTestDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		containerOnce.Do(func() {
			testDSN, containerErr = startPostgres(ctx)
		})
		require.NoError(t, containerErr, "failed to start postgres container")
		dsn = testDSN
	}

	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)
	return db
}

func newTestJob(t *testing.T, db *DB) *types.ResearchJob {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := types.NewResearchJob(types.TargetInput{CompanyName: "Acme", Website: "acme.com"}, now)
	require.NoError(t, db.CreateJob(context.Background(), job))
	return job
}

func TestIntegration_MigrateIsIdempotent(t *testing.T) {
	db := getTestDB(t)
	assert.NoError(t, db.Migrate(context.Background()))
}

func TestIntegration_JobLifecycle(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	job := newTestJob(t, db)

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, got.Status)
	assert.Equal(t, "Acme", got.Target.CompanyName)
	assert.Equal(t, types.TargetCompany, got.Target.TargetType)
	assert.Nil(t, got.StartedAt)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, job.Transition(types.JobProcessing, now))
	require.NoError(t, job.Transition(types.JobFailed, now))
	job.FailureReason = "timeout"
	job.CostUSD = 0.0125
	require.NoError(t, db.UpdateJob(ctx, job))

	got, err = db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, got.Status)
	assert.Equal(t, "timeout", got.FailureReason)
	assert.InDelta(t, 0.0125, got.CostUSD, 1e-9)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	failed, err := db.ListJobs(ctx, JobFilters{Status: types.JobFailed, Limit: 500})
	require.NoError(t, err)
	found := false
	for _, j := range failed {
		if j.ID == job.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestIntegration_GetJobNotFound(t *testing.T) {
	db := getTestDB(t)
	_, err := db.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	missing := types.NewResearchJob(types.TargetInput{CompanyName: "Ghost"}, time.Now())
	assert.ErrorIs(t, db.UpdateJob(context.Background(), missing), ErrNotFound)
}

func TestIntegration_SourcesAndBrief(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	job := newTestJob(t, db)

	table := types.NewSourceTable()
	fetched := time.Now().UTC().Truncate(time.Microsecond)
	table.Register(types.Snippet{Provider: "gleif", Title: "GLEIF record", URL: "https://search.gleif.org/#/record/X", Text: "Legal name: Acme Inc", FetchedAt: fetched})
	table.Register(types.Snippet{Provider: "pdl", Title: "Jane Doe", Text: "Jane Doe, CEO", FetchedAt: fetched})

	require.NoError(t, db.SaveSources(ctx, job.ID, table.All()))
	// a second save is a no-op
	require.NoError(t, db.SaveSources(ctx, job.ID, table.All()))

	sources, err := db.ListSources(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, 1, sources[0].ID)
	assert.Equal(t, "gleif", sources[0].Provider)
	assert.Equal(t, "", sources[1].URL)

	brief := &types.Brief{
		JobID: job.ID,
		Sections: []types.BriefSection{
			{Name: types.SectionFoundingDetails, Markdown: "Acme Inc is registered [S1].", CitedIDs: []int{1}, UsedSourceIDs: []int{1}, Status: types.SectionDrafted},
		},
		UsedCitations: table.Citations([]int{1}),
		AllCitations:  table.Citations(nil),
		SourcesText:   "- **[S1] GLEIF record – search.gleif.org:** See cited passages in the brief.",
		CreatedAt:     fetched,
	}
	require.NoError(t, db.SaveBrief(ctx, brief))

	doc, err := db.GetBrief(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc is registered [S1].", doc.Sections["founding_details"])
	assert.Contains(t, doc.Sections, "sources")
	assert.Len(t, doc.UsedCitations, 1)
	assert.Len(t, doc.AllCitations, 2)

	sections, err := db.GetBriefSections(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, types.SectionDrafted, sections[0].Status)

	_, err = db.GetBrief(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIntegration_TraceEvents(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	job := newTestJob(t, db)

	for i, step := range []string{"plan_research:start", "plan_research:done", "connector:gleif_lookup:timeout"} {
		ev := &types.TraceEvent{
			ID:        uuid.New(),
			JobID:     job.ID,
			Seq:       int64(i + 1),
			Phase:     types.PhasePlanning,
			Step:      step,
			Label:     step,
			CreatedAt: time.Now().UTC(),
		}
		if i == 2 {
			ev.Phase = types.PhaseCollection
			ev.Meta = map[string]any{"connector": "gleif"}
		}
		require.NoError(t, db.AppendTraceEvent(ctx, ev))
	}

	events, err := db.ListTraceEvents(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "plan_research:start", events[0].Step)
	assert.Equal(t, types.PhaseCollection, events[2].Phase)
	assert.Equal(t, "gleif", events[2].Meta["connector"])
	assert.Nil(t, events[0].Meta)

	later, err := db.ListTraceEvents(ctx, job.ID, 2)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, int64(3), later[0].Seq)
}

func TestIntegration_SaveGraph(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	job := newTestJob(t, db)

	graph := &resolution.KnowledgeGraph{
		TargetType: types.TargetCompany,
		Company: &resolution.Company{
			Name:             "Acme Inc",
			Domain:           "acme.com",
			DomainSource:     "user",
			DomainConfidence: 0.99,
			Attributes: map[string]resolution.Attribute{
				"legal_name": {Value: "Acme Inc", Provider: "gleif", Priority: 7, SourceIDs: []int{1}},
			},
		},
		People: []resolution.Person{
			{FullName: "Jane Doe", Title: "CEO", Relation: resolution.RelationLeads, IdentitySource: "pdl", SourceIDs: []int{2}},
			{FullName: "John Roe", Relation: resolution.RelationFounderOf, IdentitySource: "companies_house"},
		},
	}
	require.NoError(t, db.SaveGraph(ctx, job.ID, graph))
	// saving again replaces instead of duplicating
	require.NoError(t, db.SaveGraph(ctx, job.ID, graph))

	company, conflicts, err := db.GetCompany(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", company.Name)
	assert.Equal(t, "acme.com", company.Domain)
	assert.InDelta(t, 0.99, company.DomainConfidence, 1e-9)
	assert.Equal(t, "Acme Inc", company.Attr("legal_name"))
	assert.Empty(t, conflicts)

	people, err := db.ListPeople(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "Jane Doe", people[0].FullName)
	assert.Equal(t, []int{2}, people[0].SourceIDs)
}

func TestIntegration_ProviderCache(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	_, ok, err := db.GetCachedResponse(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutCachedResponse(ctx, key, "gleif", []byte(`{"data":[]}`), time.Hour))
	body, ok, err := db.GetCachedResponse(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"data":[]}`, string(body))

	expired := "test:" + uuid.NewString()
	require.NoError(t, db.PutCachedResponse(ctx, expired, "exa", []byte("x"), -time.Minute))
	_, ok, err = db.GetCachedResponse(ctx, expired)
	require.NoError(t, err)
	assert.False(t, ok)

	pruned, err := db.PruneCache(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pruned, int64(1))
}
