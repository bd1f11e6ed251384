package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/hydra/internal/model"
)

func TestParsePerson(t *testing.T) {
	tests := []struct {
		name    string
		cand    model.Candidate
		ok      bool
		person  string
		title   string
		company string
	}{
		{"dash separated", model.Candidate{DisplayName: "Jane Doe - CEO - Acme LLC | LinkedIn"}, true, "Jane Doe", "CEO", "Acme LLC"},
		{"en dash", model.Candidate{DisplayName: "José Álvarez – Founder – Café Norte"}, true, "José Álvarez", "Founder", "Café Norte"},
		{"title at company", model.Candidate{DisplayName: "Jane Doe - Head of Marketing at Acme | LinkedIn"}, true, "Jane Doe", "Head of Marketing", "Acme"},
		{"company from snippet", model.Candidate{DisplayName: "Jane Doe | LinkedIn", Snippet: "Founder at Acme Plumbing. Austin, Texas."}, true, "Jane Doe", "", "Acme Plumbing"},
		{"not a person", model.Candidate{DisplayName: "Best plumbers in austin - Yelp"}, false, "", "", ""},
		{"no company", model.Candidate{DisplayName: "Jane Doe | LinkedIn", Snippet: "Experienced leader."}, false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := ParsePerson(tt.cand)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.person, h.Name)
			assert.Equal(t, tt.title, h.Title)
			assert.Equal(t, tt.company, h.Company)
		})
	}
}

func TestFuzzyCompanyMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Acme LLC", "Acme", true},
		{"ACME, Inc.", "acme corp", true},
		{"Café Norte GmbH", "Cafe Norte", true},
		{"Acme Plumbing", "Acme Plumbing & Heating Co", true},
		{"Smith & Sons Roofing", "Smith and Sons Roofing LLC", true},
		{"Acme", "Apex", false},
		{"Acme Plumbing", "Global Logistics Group", false},
		{"", "Acme", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FuzzyCompanyMatch(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestPickEmail(t *testing.T) {
	assert.Equal(t, "jane@acme.test", pickEmail("Jane Doe", []string{"info@acme.test", "jane@acme.test"}, "acme.test"))
	assert.Equal(t, "j.doe.jane@acme.test", pickEmail("Jane Doe", []string{"j.doe.jane@acme.test"}, "acme.test"))
	assert.Equal(t, "jose.alvarez@cafenorte.test", pickEmail("José Álvarez", nil, "cafenorte.test"))
	assert.Equal(t, "", pickEmail("Jane Doe", nil, ""))
	assert.Equal(t, "", pickEmail("", []string{"info@acme.test"}, "acme.test"))
}

func TestBlocklist(t *testing.T) {
	b := newBlocklist(nil)
	assert.True(t, b.Blocked("https://www.linkedin.com/company/acme"))
	assert.True(t, b.Blocked("https://m.facebook.com/acme"))
	assert.True(t, b.Blocked(""))
	assert.False(t, b.Blocked("https://acme.test/"))
	assert.False(t, b.Blocked("https://notlinkedin.com/"))

	custom := newBlocklist([]string{"directory.test"})
	assert.True(t, custom.Blocked("https://directory.test/acme"))
	assert.False(t, custom.Blocked("https://linkedin.com/in/x"))
}

func TestHomepage(t *testing.T) {
	assert.Equal(t, "https://acme.test/", homepage("acme.test"))
	assert.Equal(t, "https://acme.test/", homepage("https://ACME.test/contact?x=1"))
	assert.Equal(t, "http://acme.test/", homepage("http://acme.test/about"))
	assert.Equal(t, "", homepage(""))
}
