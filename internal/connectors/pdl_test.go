package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

func TestPDL_SearchLeadership(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/person/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "pdl-key", r.Header.Get("X-Api-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 3, body["size"])

		_, _ = w.Write([]byte(`{"data":[
			{"full_name":"patrick collison","job_title":"chief executive officer","job_company_name":"stripe",
			 "job_company_website":"stripe.com","linkedin_url":"linkedin.com/in/patrickcollison",
			 "experience":[{"company":{"name":"auctomatic"},"title":{"name":"co-founder"},"start_date":"2007","end_date":"2008"}],
			 "education":[{"school":{"name":"mit"},"degrees":[]}]},
			{"full_name":"john collison","job_title":"president","job_company_name":"stripe","job_company_website":"stripe.com"}
		]}`))
	}))
	defer server.Close()

	out, err := NewPDL(testClient(), "pdl-key", server.URL).Fetch(context.Background(), types.PlanStep{
		Name:       "pdl_people_discovery",
		Parameters: types.StepParams{"company_domain": "www.stripe.com", "company_name": "Stripe"},
	})
	require.NoError(t, err)
	require.Len(t, out.Records, 2)
	require.Len(t, out.Snippets, 2)

	p := out.Records[0].Person
	require.NotNil(t, p)
	assert.Equal(t, "Patrick Collison", p.FullName)
	assert.Equal(t, "Chief Executive Officer", p.Title)
	assert.Equal(t, "https://linkedin.com/in/patrickcollison", p.LinkedInURL)
	assert.Equal(t, "stripe.com", p.CompanyDomain)
	assert.Equal(t, []string{"Co-founder at Auctomatic (2007 to 2008)"}, p.Experience)
	assert.Equal(t, []int{0}, out.Records[0].Evidence)
	assert.Equal(t, []int{1}, out.Records[1].Evidence)

	assert.Equal(t, "PDL profile: Patrick Collison", out.Snippets[0].Title)
	assert.Equal(t, types.ProviderPDL, out.Snippets[0].Provider)
	assert.Contains(t, out.Snippets[0].Text, "Education: Mit.")
}

func TestPDL_EnrichPerson(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/person/enrich", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Jane Doe", q.Get("name"))
		assert.Equal(t, "Acme", q.Get("company"))
		assert.Equal(t, "3", q.Get("min_likelihood"))
		_, _ = w.Write([]byte(`{"status":200,"likelihood":8,"data":{"full_name":"jane doe","job_title":"cto","job_company_name":"acme"}}`))
	}))
	defer server.Close()

	out, err := NewPDL(testClient(), "k", server.URL).Fetch(context.Background(), types.PlanStep{
		Operation:  "person_enrich",
		Parameters: types.StepParams{"person_name": "Jane Doe", "company_name": "Acme"},
	})
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "Jane Doe", out.Records[0].Person.FullName)
	assert.Equal(t, "Cto", out.Records[0].Person.Title)
}

func TestPDL_EnrichLowLikelihoodOrMissingInputs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":200,"likelihood":2,"data":{"full_name":"someone"}}`))
	}))
	defer server.Close()
	pdl := NewPDL(testClient(), "k", server.URL)

	out, err := pdl.Fetch(context.Background(), types.PlanStep{
		Operation:  "person_enrich",
		Parameters: types.StepParams{"person_name": "Jane Doe", "company_name": "Acme"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Records)

	out, err = pdl.Fetch(context.Background(), types.PlanStep{
		Operation:  "person_enrich",
		Parameters: types.StepParams{"person_name": "Jane Doe"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Records, "name alone is not enough to enrich")
}

func TestPDL_PaymentRequiredIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	_, err := NewPDL(testClient(), "k", server.URL).Fetch(context.Background(), types.PlanStep{
		Parameters: types.StepParams{"company_domain": "stripe.com"},
	})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindAuth, ce.Kind)
}

func TestPDLCompany_Enrich(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/company/enrich", r.URL.Path)
		assert.Equal(t, "stripe.com", r.URL.Query().Get("website"))
		_, _ = w.Write([]byte(`{
			"name":"stripe","display_name":"Stripe","website":"stripe.com","founded":2010,
			"location":{"name":"south san francisco, california, united states"},
			"employee_count":8000,"industry":"financial services",
			"total_funding_raised":8700000000,"number_funding_rounds":20,
			"latest_funding_stage":"series_i","last_funding_date":"2023-03-15",
			"funding_details":[
				{"funding_round_date":"2023-03-15","funding_type":"series_i","funding_raised":6500000000,
				 "funding_currency":"USD","investing_companies_names":["thrive capital"]},
				{"funding_round_date":"","funding_type":""}
			]}`))
	}))
	defer server.Close()

	out, err := NewPDLCompany(testClient(), "k", server.URL).Fetch(context.Background(), types.PlanStep{
		Parameters: types.StepParams{"company_domain": "stripe.com", "company_name": "Stripe"},
	})
	require.NoError(t, err)

	require.Len(t, out.Snippets, 2)
	assert.Equal(t, "PDL company profile (founding/HQ) for Stripe", out.Snippets[0].Title)
	assert.Equal(t, "Founded: 2010; HQ: South San Francisco, California, United States (vendor aggregate); Website: stripe.com; Employee Count: 8000.", out.Snippets[0].Text)
	assert.Equal(t, "PDL company funding roll-up for Stripe", out.Snippets[1].Title)
	assert.Equal(t, "PDL aggregated: total_funding_raised=$8,700,000,000.00, rounds=20, latest_stage=series_i, last_funding_date=2023-03-15.", out.Snippets[1].Text)

	kinds := map[types.RecordKind]int{}
	for _, r := range out.Records {
		kinds[r.Kind]++
	}
	assert.Equal(t, 1, kinds[types.RecordCompany])
	assert.Equal(t, 1, kinds[types.RecordFundingRollup])
	assert.Equal(t, 1, kinds[types.RecordFundingRound])

	company := out.Records[0]
	assert.Equal(t, "2010", company.Attr(types.AttrFoundedYear))
	assert.Equal(t, "stripe.com", company.Attr(types.AttrDomain))
	round := out.Records[2].Funding
	require.NotNil(t, round)
	assert.Equal(t, "6500000000", round.Amount)
	assert.Equal(t, []string{"thrive capital"}, round.Investors)
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "1,234,567.50", formatUSD("1234567.5"))
	assert.Equal(t, "999.00", formatUSD("999"))
	assert.Equal(t, "abc", formatUSD("abc"))
}
