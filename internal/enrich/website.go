package enrich

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sells-group/hydra/internal/dedup"
	"github.com/sells-group/hydra/internal/gather"
	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/search"
)

// defaultBlockedDomains are platforms and directories that list a business
// without being its website.
var defaultBlockedDomains = []string{
	"linkedin.com", "facebook.com", "instagram.com", "twitter.com", "x.com",
	"youtube.com", "tiktok.com", "pinterest.com", "yelp.com", "yellowpages.com",
	"google.com", "bing.com", "duckduckgo.com", "bbb.org", "crunchbase.com",
	"zoominfo.com", "glassdoor.com", "indeed.com", "wikipedia.org", "amazon.com",
	"angi.com", "thumbtack.com", "mapquest.com", "tripadvisor.com",
}

type blocklist struct {
	domains []string
}

func newBlocklist(domains []string) *blocklist {
	if len(domains) == 0 {
		domains = defaultBlockedDomains
	}
	b := &blocklist{}
	for _, d := range domains {
		if d = dedup.NormalizeDomain(d); d != "" {
			b.domains = append(b.domains, d)
		}
	}
	return b
}

// Blocked reports whether rawURL's host is, or is under, a listed domain.
func (b *blocklist) Blocked(rawURL string) bool {
	host := dedup.NormalizeDomain(rawURL)
	if host == "" {
		return true
	}
	for _, d := range b.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// resolveWebsite picks the company homepage: a provider-reported website,
// else the source URL's site, else the first unblocked hit of a discovery
// search.
func (p *Pipeline) resolveWebsite(ctx context.Context, c model.Candidate, known string) (string, error) {
	if known != "" && !p.blocked.Blocked(known) {
		return homepage(known), nil
	}
	if c.SourceURL != "" && !p.blocked.Blocked(c.SourceURL) {
		return homepage(c.SourceURL), nil
	}
	return p.discoverWebsite(ctx, c.DisplayName)
}

func (p *Pipeline) discoverWebsite(ctx context.Context, name string) (string, error) {
	if p.search == nil {
		return "", nil
	}
	res, err := p.search.Gather(ctx, gather.Request{
		Query: fmt.Sprintf("%q official website", name),
		Kind:  search.KindWeb,
		Limit: 10,
	})
	if err != nil {
		return "", err
	}
	for _, c := range res.Candidates {
		if c.ManualCheck {
			continue
		}
		if c.Website != "" && !p.blocked.Blocked(c.Website) {
			return homepage(c.Website), nil
		}
		if !p.blocked.Blocked(c.SourceURL) {
			return homepage(c.SourceURL), nil
		}
	}
	return "", nil
}

// homepage reduces a URL to scheme://host/.
func homepage(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := u.Scheme
	if scheme != "http" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(u.Host) + "/"
}

func domainOf(website string) string {
	return dedup.NormalizeDomain(website)
}
