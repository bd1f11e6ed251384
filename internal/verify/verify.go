// Package verify checks email deliverability in stages without sending
// mail: syntax, disposable domain, MX lookup and an SMTP RCPT probe.
package verify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/hydra/internal/model"
)

// Stage names recorded on a verification.
const (
	StageSyntax     = "syntax"
	StageDisposable = "disposable"
	StageMX         = "mx"
	StageSMTP       = "smtp"
)

var defaultDisposable = []string{
	"mailinator.com", "guerrillamail.com", "10minutemail.com", "tempmail.com",
	"temp-mail.org", "yopmail.com", "trashmail.com", "sharklasers.com",
	"getnada.com", "dispostable.com", "maildrop.cc", "throwawaymail.com",
}

// Config controls the verifier.
type Config struct {
	SMTPEnabled       bool          `yaml:"smtp_enabled" mapstructure:"smtp_enabled"`
	HeloDomain        string        `yaml:"helo_domain" mapstructure:"helo_domain"`
	MailFrom          string        `yaml:"mail_from" mapstructure:"mail_from"`
	SMTPPort          int           `yaml:"smtp_port" mapstructure:"smtp_port" validate:"omitempty,min=1,max=65535"`
	TimeoutSecs       int           `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"omitempty,min=1"`
	DisposableDomains []string      `yaml:"disposable_domains" mapstructure:"disposable_domains"`
	Timeout           time.Duration `yaml:"-" mapstructure:"-"`
}

// Resolver looks up mail exchangers. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Verifier runs the staged check.
type Verifier struct {
	cfg        Config
	resolver   Resolver
	dialer     Dialer
	disposable map[string]bool
	probeLocal func() string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(v *Verifier) { v.resolver = r }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(v *Verifier) { v.dialer = d }
}

// New creates a Verifier. Zero config values fall back to port 25, a 10s
// timeout and the built-in disposable list.
func New(cfg Config, opts ...Option) *Verifier {
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HeloDomain == "" {
		cfg.HeloDomain = "localhost"
	}
	if cfg.MailFrom == "" {
		cfg.MailFrom = "verify@" + cfg.HeloDomain
	}
	domains := cfg.DisposableDomains
	if len(domains) == 0 {
		domains = defaultDisposable
	}

	v := &Verifier{
		cfg:        cfg,
		resolver:   net.DefaultResolver,
		dialer:     &net.Dialer{Timeout: cfg.Timeout},
		disposable: make(map[string]bool, len(domains)),
		probeLocal: randomLocalPart,
	}
	for _, d := range domains {
		v.disposable[strings.ToLower(strings.TrimSpace(d))] = true
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify runs each stage in order and stops at the first one that decides
// the outcome. It never returns an error: capabilities that are missing
// or unreachable give status unknown.
func (v *Verifier) Verify(ctx context.Context, email string) model.EmailVerification {
	res := model.EmailVerification{Email: strings.TrimSpace(email)}

	local, domain, ok := splitAddress(res.Email)
	if !ok {
		return finish(res, StageSyntax, model.EmailInvalid, 100, "malformed address")
	}
	res.Email = local + "@" + domain

	if v.disposable[domain] {
		return finish(res, StageDisposable, model.EmailInvalid, 95, "disposable domain")
	}

	hosts, status, reason := v.lookupMX(ctx, domain)
	if status != "" {
		risk := 90
		if status == model.EmailUnknown {
			risk = 50
		}
		return finish(res, StageMX, status, risk, reason)
	}

	if !v.cfg.SMTPEnabled {
		return finish(res, StageSMTP, model.EmailUnknown, 40, "smtp check disabled")
	}
	return v.probe(ctx, res, hosts, domain)
}

func finish(res model.EmailVerification, stage string, status model.EmailStatus, risk int, reason string) model.EmailVerification {
	res.Stage = stage
	res.Status = status
	res.Risk = risk
	res.Reason = reason
	return res
}

// splitAddress validates a bare address and lowercases its domain.
func splitAddress(email string) (local, domain string, ok bool) {
	if email == "" || strings.ContainsAny(email, " <>") {
		return "", "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", false
	}
	at := strings.LastIndexByte(email, '@')
	local, domain = email[:at], strings.ToLower(email[at+1:])
	if local == "" || !strings.Contains(domain, ".") || strings.Contains(domain, "..") ||
		strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", "", false
	}
	return local, domain, true
}

// lookupMX returns hosts by preference, or a terminal status and reason.
func (v *Verifier) lookupMX(ctx context.Context, domain string) ([]string, model.EmailStatus, string) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	mxs, err := v.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, model.EmailInvalid, "domain has no mail exchanger"
		}
		zap.L().Debug("verify: mx lookup failed", zap.String("domain", domain), zap.Error(err))
		return nil, model.EmailUnknown, "dns lookup failed: " + err.Error()
	}

	sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })
	var hosts []string
	for _, mx := range mxs {
		h := strings.TrimSuffix(mx.Host, ".")
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return nil, model.EmailInvalid, "domain has no mail exchanger"
	}
	return hosts, "", ""
}

// probe asks the first reachable exchanger whether it accepts the
// recipient, then checks a random recipient to detect catch-all domains.
func (v *Verifier) probe(ctx context.Context, res model.EmailVerification, hosts []string, domain string) model.EmailVerification {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	var conn net.Conn
	var host string
	for _, h := range hosts {
		c, err := v.dialer.DialContext(ctx, "tcp", net.JoinHostPort(h, strconv.Itoa(v.cfg.SMTPPort)))
		if err == nil {
			conn, host = c, h
			break
		}
		zap.L().Debug("verify: smtp dial failed", zap.String("host", h), zap.Error(err))
	}
	if conn == nil {
		return finish(res, StageSMTP, model.EmailUnknown, 50, "no route to mail exchanger")
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return finish(res, StageSMTP, model.EmailUnknown, 50, "smtp greeting failed")
	}
	defer func() { _ = client.Close() }()

	if err := client.Hello(v.cfg.HeloDomain); err != nil {
		return smtpFailure(res, "helo", err)
	}
	if err := client.Mail(v.cfg.MailFrom); err != nil {
		return smtpFailure(res, "mail from", err)
	}
	if err := client.Rcpt(res.Email); err != nil {
		return smtpFailure(res, "rcpt to", err)
	}

	// The address was accepted. A domain that also accepts a random
	// mailbox accepts everything.
	catchAll := client.Rcpt(v.probeLocal()+"@"+domain) == nil
	_ = client.Quit()

	if catchAll {
		return finish(res, StageSMTP, model.EmailRisky, 60, "domain accepts all recipients")
	}
	return finish(res, StageSMTP, model.EmailValid, 5, "")
}

// smtpFailure maps a rejected command: 5xx is a hard failure, anything
// else (4xx, timeouts, dropped connections) is inconclusive.
func smtpFailure(res model.EmailVerification, cmd string, err error) model.EmailVerification {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 && cmd == "rcpt to" {
			return finish(res, StageSMTP, model.EmailInvalid, 100, "mailbox rejected: "+tpErr.Msg)
		}
		return finish(res, StageSMTP, model.EmailUnknown, 50, cmd+" answered "+strconv.Itoa(tpErr.Code))
	}
	return finish(res, StageSMTP, model.EmailUnknown, 50, cmd+" failed: "+err.Error())
}

func randomLocalPart() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "hydra-probe-" + hex.EncodeToString(b)
}
