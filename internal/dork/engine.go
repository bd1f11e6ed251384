// Package dork searches public search engines through the shared browser
// page when the API providers come back short.
package dork

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/search"
)

// Engine describes how to query one search engine and scrape its result
// page.
type Engine struct {
	Name            string `yaml:"name"`
	URLTemplate     string `yaml:"url_template"`
	ResultSelector  string `yaml:"result_selector"`
	TitleSelector   string `yaml:"title_selector"`
	LinkSelector    string `yaml:"link_selector"`
	SnippetSelector string `yaml:"snippet_selector"`
	// LinkParam names the query parameter holding the real target when the
	// engine wraps result links in a redirect.
	LinkParam string `yaml:"link_param"`
}

// Validate checks the fields every engine needs.
func (e Engine) Validate() error {
	switch {
	case e.Name == "":
		return eris.New("dork: engine name is required")
	case !strings.Contains(e.URLTemplate, "{query}"):
		return eris.Errorf("dork: engine %s: url_template must contain {query}", e.Name)
	case e.ResultSelector == "":
		return eris.Errorf("dork: engine %s: result_selector is required", e.Name)
	case e.LinkSelector == "":
		return eris.Errorf("dork: engine %s: link_selector is required", e.Name)
	}
	return nil
}

// SearchURL fills the template. A site restriction goes into {site} when the
// template has one and is otherwise prefixed to the query as site:.
func (e Engine) SearchURL(query, site string) string {
	u := e.URLTemplate
	if strings.Contains(u, "{site}") {
		u = strings.ReplaceAll(u, "{site}", url.QueryEscape(site))
	} else if site != "" {
		query = "site:" + site + " " + query
	}
	return strings.ReplaceAll(u, "{query}", url.QueryEscape(query))
}

// Parse extracts candidates from a result page. Results without a usable
// http(s) link are skipped.
func (e Engine) Parse(html string) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrapf(err, "dork: parse %s results", e.Name)
	}

	var out []model.Candidate
	doc.Find(e.ResultSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Find(e.LinkSelector).First().Attr("href")
		if !ok {
			return
		}
		link := e.unwrap(href)
		if link == "" {
			return
		}

		title := s
		if e.TitleSelector != "" {
			title = s.Find(e.TitleSelector).First()
		}
		var snippet string
		if e.SnippetSelector != "" {
			snippet = s.Find(e.SnippetSelector).First().Text()
		}

		out = append(out, model.Candidate{
			DisplayName: search.CleanText(title.Text()),
			SourceURL:   link,
			Snippet:     search.CleanText(snippet),
			Source:      e.Name,
			Rank:        len(out) + 1,
		})
	})
	return out, nil
}

func (e Engine) unwrap(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if e.LinkParam != "" {
		if target := u.Query().Get(e.LinkParam); target != "" {
			if t, err := url.Parse(target); err == nil {
				u = t
			}
		}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}
