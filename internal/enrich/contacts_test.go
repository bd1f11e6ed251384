package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/hydra/internal/scrape"
)

func TestExtractContacts_HTML(t *testing.T) {
	page := scrape.Page{HTML: `<html><body>
<script>var dsn = "abc@o123.ingest.sentry.io";</script>
<img src="logo@2x.png">
<p>Office: 512.555.0100 · Fax +1 (512) 555-0101</p>
<a href="mailto:Owner%40acme.test">Owner</a>
<a href="tel:5125550100">Call</a>
<a href="https://facebook.com/acmeplumbing?ref=footer">Facebook</a>
<a href="https://www.facebook.com/sharer/sharer.php?u=x">Share</a>
<a href="https://x.com/acme">X</a>
<a href="https://youtube.com/@acme">YouTube</a>
<a href="https://www.tiktok.com/@acme">TikTok</a>
<a href="/about-us#team">About</a>
<a href="/about-us">About again</a>
<a href="https://other.test/contact">Partner contact</a>
<a href="/files/contact.pdf">Contact sheet</a>
</body></html>`}

	data, links := extractContacts(page, "https://acme.test/")

	assert.Equal(t, []string{"Owner@acme.test"}, data.Emails)
	assert.Len(t, data.Phones, 2)
	assert.Equal(t, "https://facebook.com/acmeplumbing", data.Socials["facebook"])
	assert.Equal(t, "https://x.com/acme", data.Socials["twitter"])
	assert.Equal(t, "https://youtube.com/@acme", data.Socials["youtube"])
	assert.Equal(t, "https://www.tiktok.com/@acme", data.Socials["tiktok"])
	assert.Equal(t, []string{"https://acme.test/about-us"}, links)
}

func TestExtractContacts_Markdown(t *testing.T) {
	page := scrape.Page{Markdown: "# Acme\n\nEmail [us](mailto:hi@acme.test) or call (512) 555-0100.\n" +
		"[Contact](https://acme.test/contact) · https://linkedin.com/company/acme"}

	data, links := extractContacts(page, "https://acme.test/")
	assert.Equal(t, []string{"hi@acme.test"}, data.Emails)
	assert.Len(t, data.Phones, 1)
	assert.Equal(t, "https://linkedin.com/company/acme", data.Socials["linkedin"])
	assert.Equal(t, []string{"https://acme.test/contact"}, links)
}

func TestCleanEmails(t *testing.T) {
	got := cleanEmails([]string{"info@acme.test.", "logo@2x.png", "x@sentry.io", "a@example.com", "bad", "Jane@Acme.test"})
	assert.Equal(t, []string{"info@acme.test", "Jane@Acme.test"}, got)
}

func TestSocialNetwork(t *testing.T) {
	n, ok := socialNetwork("linkedin.com", "/company/acme")
	assert.True(t, ok)
	assert.Equal(t, "linkedin", n)

	_, ok = socialNetwork("twitter.com", "/intent/tweet")
	assert.False(t, ok)
	_, ok = socialNetwork("facebook.com", "/")
	assert.False(t, ok)
	_, ok = socialNetwork("box.com", "/acme")
	assert.False(t, ok)
}
