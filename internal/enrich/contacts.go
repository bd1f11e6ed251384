package enrich

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hydra/internal/dedup"
	"github.com/sells-group/hydra/internal/scrape"
)

// socialNetworks is the fixed set of profiles we record, in merge order.
var socialNetworks = []string{"linkedin", "facebook", "instagram", "twitter", "youtube", "tiktok"}

var socialHosts = map[string]string{
	"linkedin.com":  "linkedin",
	"facebook.com":  "facebook",
	"fb.com":        "facebook",
	"instagram.com": "instagram",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
}

var (
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,24}`)
	phoneRe    = regexp.MustCompile(`(?:\+1[\s.\-]?)?\(?\b\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`)
	mdLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)`)
	bareURLRe  = regexp.MustCompile(`https?://[^\s)"'<>\]]+`)
	contactRe  = regexp.MustCompile(`(?i)contact|about|team|leadership|impressum|kontakt|get-in-touch`)
	assetExtRe = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|webp|css|js|pdf|docx?|zip|mp4)$`)
)

// noiseEmailDomains are tracking or platform addresses embedded in page
// source that never belong to the business.
var noiseEmailDomains = []string{"sentry.io", "wixpress.com", "example.com", "sentry-next.wixpress.com", "domain.com"}

type contactData struct {
	Emails  []string
	Phones  []string
	Socials map[string]string
}

func (d *contactData) merge(o contactData) {
	d.Emails = appendNew(d.Emails, o.Emails, strings.ToLower)
	d.Phones = appendNew(d.Phones, o.Phones, digits)
	if d.Socials == nil {
		d.Socials = make(map[string]string)
	}
	for k, v := range o.Socials {
		if _, ok := d.Socials[k]; !ok {
			d.Socials[k] = v
		}
	}
}

// contactFetchConcurrency bounds parallel contact-page fetches per lead.
const contactFetchConcurrency = 3

// mineContacts fetches the homepage and up to MaxContactPages contact-like
// pages linked from it, and extracts emails, phones and social profiles.
func (p *Pipeline) mineContacts(ctx context.Context, website string) (contactData, error) {
	var out contactData
	if p.fetch == nil {
		return out, nil
	}
	home, err := p.fetch.Scrape(ctx, website)
	if err != nil {
		return out, eris.Wrapf(err, "enrich: fetch %s", website)
	}
	found, links := extractContacts(home.Page, website)
	out.merge(found)

	if len(links) > p.cfg.MaxContactPages {
		links = links[:p.cfg.MaxContactPages]
	}
	if len(links) == 0 {
		return out, nil
	}

	for _, page := range p.fetch.ScrapeAll(ctx, links, contactFetchConcurrency) {
		data, _ := extractContacts(page, website)
		out.merge(data)
	}
	return out, nil
}

// extractContacts pulls contact data from a page and returns same-site
// links that look like contact pages.
func extractContacts(page scrape.Page, website string) (contactData, []string) {
	data := contactData{Socials: make(map[string]string)}
	var hrefs []linkRef
	text := page.Markdown

	if page.HTML != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err == nil {
			doc.Find("script, style, noscript").Remove()
			doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
				href, _ := s.Attr("href")
				hrefs = append(hrefs, linkRef{text: strings.TrimSpace(s.Text()), href: strings.TrimSpace(href)})
			})
			text = doc.Text() + "\n" + text
		}
	} else {
		for _, m := range mdLinkRe.FindAllStringSubmatch(text, -1) {
			hrefs = append(hrefs, linkRef{text: m[1], href: m[2]})
		}
		for _, u := range bareURLRe.FindAllString(text, -1) {
			hrefs = append(hrefs, linkRef{href: u})
		}
	}

	base, _ := url.Parse(website)
	siteDomain := dedup.NormalizeDomain(website)
	seenLinks := make(map[string]bool)
	var contactLinks []string

	for _, h := range hrefs {
		lower := strings.ToLower(h.href)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			addr := h.href[len("mailto:"):]
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			if unescaped, err := url.PathUnescape(addr); err == nil {
				addr = unescaped
			}
			data.Emails = appendNew(data.Emails, cleanEmails([]string{addr}), strings.ToLower)
			continue
		case strings.HasPrefix(lower, "tel:"):
			data.Phones = appendNew(data.Phones, []string{strings.TrimSpace(h.href[len("tel:"):])}, digits)
			continue
		}

		u, err := url.Parse(h.href)
		if err != nil {
			continue
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		host := dedup.NormalizeDomain(u.Host)
		if network, ok := socialNetwork(host, u.Path); ok {
			if _, exists := data.Socials[network]; !exists {
				u.RawQuery, u.Fragment = "", ""
				data.Socials[network] = u.String()
			}
			continue
		}
		if host != siteDomain || assetExtRe.MatchString(u.Path) {
			continue
		}
		if contactRe.MatchString(h.text) || contactRe.MatchString(u.Path) {
			u.Fragment = ""
			key := strings.TrimSuffix(u.String(), "/")
			if key == strings.TrimSuffix(website, "/") || seenLinks[key] {
				continue
			}
			seenLinks[key] = true
			contactLinks = append(contactLinks, u.String())
		}
	}

	data.Emails = appendNew(data.Emails, cleanEmails(emailRe.FindAllString(text, -1)), strings.ToLower)
	data.Phones = appendNew(data.Phones, phoneRe.FindAllString(text, -1), digits)
	return data, contactLinks
}

type linkRef struct {
	text string
	href string
}

// socialNetwork maps a profile link to its network, skipping share and
// intent links.
func socialNetwork(host, path string) (string, bool) {
	network := ""
	for h, n := range socialHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			network = n
			break
		}
	}
	if network == "" {
		return "", false
	}
	p := strings.ToLower(strings.Trim(path, "/"))
	if p == "" || strings.Contains(p, "share") || strings.HasPrefix(p, "intent") || strings.HasPrefix(p, "dialog") {
		return "", false
	}
	return network, true
}

func cleanEmails(raw []string) []string {
	var out []string
	for _, e := range raw {
		e = strings.Trim(strings.TrimSpace(e), ".")
		at := strings.LastIndexByte(e, '@')
		if at <= 0 {
			continue
		}
		domain := strings.ToLower(e[at+1:])
		if assetExtRe.MatchString(domain) {
			continue
		}
		noise := false
		for _, n := range noiseEmailDomains {
			if domain == n || strings.HasSuffix(domain, "."+n) {
				noise = true
				break
			}
		}
		if !noise {
			out = append(out, e)
		}
	}
	return out
}

func appendNew(existing, incoming []string, key func(string) string) []string {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[key(v)] = true
	}
	for _, v := range incoming {
		k := key(v)
		if v == "" || k == "" || seen[k] {
			continue
		}
		seen[k] = true
		existing = append(existing, v)
	}
	return existing
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
