// Package dedup computes stable company identities and suppresses records
// already delivered to an organization.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are dropped from the end of a normalized company name.
var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "llc": true, "llp": true, "lp": true,
	"ltd": true, "limited": true, "corp": true, "corporation": true, "co": true,
	"company": true, "gmbh": true, "ag": true, "sa": true, "sarl": true,
	"srl": true, "bv": true, "nv": true, "plc": true, "pty": true, "oy": true,
	"ab": true, "as": true, "kg": true, "spa": true, "pllc": true,
}

// NormalizeName folds accents, lowercases, strips punctuation, collapses
// whitespace and drops trailing legal suffixes. A name made only of
// suffixes keeps its last word.
func NormalizeName(name string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" and ")
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// NormalizeDomain reduces a URL or bare host to its lowercase host name
// without scheme, www prefix, port or path.
func NormalizeDomain(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	host = strings.TrimPrefix(host, "www.")
	return strings.TrimSuffix(host, ".")
}

// IdentityHash returns the hex sha256 of "name|domain" after normalization.
// It returns "" when both parts normalize to empty.
func IdentityHash(name, domain string) string {
	n, d := NormalizeName(name), NormalizeDomain(domain)
	if n == "" && d == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(n + "|" + d))
	return hex.EncodeToString(sum[:])
}
