package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

const gleifStripeFixture = `{"data":[
  {"attributes":{"lei":"111","entity":{"legalName":{"name":"Stripe Holdings Ltd"},"legalJurisdiction":"IE",
    "legalAddress":{"city":"Dublin","country":"IE"}},"registration":{"status":"ISSUED"}}},
  {"attributes":{"lei":"549300XYZ","entity":{"legalName":{"name":"Stripe, Inc."},"legalJurisdiction":"US-DE",
    "legalAddress":{"addressLines":["251 Little Falls Drive"],"city":"Wilmington","region":"US-DE","country":"US","postalCode":"19808"},
    "headquartersAddress":{"city":"South San Francisco","region":"US-CA","country":"US"},
    "registrationAuthority":{"registrationAuthorityID":"RA000602","registrationAuthorityEntityID":"4675506"}},
   "registration":{"status":"ISSUED","initialRegistrationDate":"2012-08-20T00:00:00Z"}}}
]}`

func TestGLEIF_FetchRanksAndNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lei-records", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Stripe, Inc.", q.Get("filter[entity.legalName]"))
		assert.Equal(t, "ISSUED", q.Get("filter[registration.status]"))
		assert.Equal(t, "US", q.Get("filter[entity.legalAddress.country]"))
		assert.Equal(t, "3", q.Get("page[size]"))
		_, _ = w.Write([]byte(gleifStripeFixture))
	}))
	defer server.Close()

	g := NewGLEIF(testClient(), server.URL, 0)
	out, err := g.Fetch(context.Background(), types.PlanStep{Parameters: types.StepParams{
		"company_name":   "Stripe, Inc.",
		"country_code":   "us",
		"company_domain": "stripe.com",
	}})
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	require.Len(t, out.Snippets, 1)

	rec := out.Records[0]
	assert.Equal(t, types.RecordLegalEntity, rec.Kind)
	assert.Equal(t, "Stripe, Inc.", rec.Attr(types.AttrLegalName))
	assert.Equal(t, "549300XYZ", rec.Attr(types.AttrLEI))
	assert.Equal(t, "US-DE", rec.Attr(types.AttrJurisdiction))
	assert.Equal(t, "4675506", rec.Attr(types.AttrCompanyNumber))
	assert.Equal(t, []int{0}, rec.Evidence)

	sn := out.Snippets[0]
	assert.Equal(t, "https://search.gleif.org/#/record/549300XYZ", sn.URL)
	assert.Equal(t, "GLEIF LEI record for Stripe, Inc.", sn.Title)
	for _, line := range []string{
		"Legal name: Stripe, Inc.",
		"LEI: 549300XYZ",
		"Legal jurisdiction: US-DE",
		"Registration authority: RA000602 (local ID: 4675506)",
		"Registered address: Wilmington, US-DE, US 19808",
		"LEI registration status: ISSUED",
		"LEI first issued: 2012-08-20T00:00:00Z",
	} {
		assert.Contains(t, sn.Text, line)
	}
}

func TestGLEIF_LEIFilterAndEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "549300XYZ", r.URL.Query().Get("filter[lei]"))
		assert.Empty(t, r.URL.Query().Get("filter[entity.legalName]"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	out, err := NewGLEIF(testClient(), server.URL, 3).Fetch(context.Background(), types.PlanStep{
		Parameters: types.StepParams{"company_name": "Stripe", "lei": "549300XYZ"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
}

func TestGLEIF_NotFoundIsNoData(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	out, err := NewGLEIF(testClient(), server.URL, 3).Fetch(context.Background(), types.PlanStep{
		Parameters: types.StepParams{"company_name": "Nobody"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
}

func TestRankGLEIF(t *testing.T) {
	mk := func(name, country string) gleifRecord {
		var r gleifRecord
		r.Attributes.Entity.LegalName.Name = name
		r.Attributes.Entity.LegalAddress.Country = country
		return r
	}
	records := []gleifRecord{mk("Acme Widgets GmbH", "DE"), mk("Acme Inc", "US"), mk("Acme Ltd", "GB")}

	ranked := rankGLEIF(records, "Acme", "GB", "")
	assert.Equal(t, "Acme Ltd", ranked[0].Attributes.Entity.LegalName.Name, "exact name plus country wins")

	ranked = rankGLEIF(records, "", "", "acmewidgets.de")
	assert.Equal(t, "Acme Widgets GmbH", ranked[0].Attributes.Entity.LegalName.Name, "domain token match")
}
