package verify

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hydra/internal/model"
)

type fakeResolver struct {
	mx  []*net.MX
	err error
}

func (f fakeResolver) LookupMX(context.Context, string) ([]*net.MX, error) {
	return f.mx, f.err
}

var localMX = fakeResolver{mx: []*net.MX{{Host: "127.0.0.1.", Pref: 10}}}

type refusingDialer struct{}

func (refusingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("connect: connection refused")
}

// smtpServer is a minimal SMTP responder that records the commands it sees.
type smtpServer struct {
	mu       sync.Mutex
	commands []string
	rcpt     func(addr string) string
}

func startSMTP(t *testing.T, rcpt func(addr string) string) (int, *smtpServer) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := &smtpServer{rcpt: rcpt}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, srv
}

func (s *smtpServer) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 mx.test ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			_ = tp.PrintfLine("250 mx.test")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			_ = tp.PrintfLine("250 2.1.0 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			addr := strings.Trim(line[len("RCPT TO:"):], "<> ")
			_ = tp.PrintfLine("%s", s.rcpt(addr))
		case strings.HasPrefix(upper, "QUIT"):
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 unsupported")
		}
	}
}

func (s *smtpServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func onlyMailbox(mailbox string) func(string) string {
	return func(addr string) string {
		if strings.EqualFold(addr, mailbox) {
			return "250 2.1.5 OK"
		}
		return "550 5.1.1 no such user"
	}
}

func smtpVerifier(port int, opts ...Option) *Verifier {
	opts = append([]Option{WithResolver(localMX)}, opts...)
	return New(Config{SMTPEnabled: true, SMTPPort: port, HeloDomain: "hydra.test", MailFrom: "probe@hydra.test"}, opts...)
}

func TestVerify_Syntax(t *testing.T) {
	v := New(Config{}, WithResolver(localMX))
	for _, bad := range []string{"", "plainaddress", "a@b", "Jane <jane@acme.com>", "jane@acme..com", "@acme.com", "jane@.acme.com"} {
		got := v.Verify(context.Background(), bad)
		assert.Equal(t, model.EmailInvalid, got.Status, bad)
		assert.Equal(t, StageSyntax, got.Stage, bad)
	}
}

func TestVerify_Disposable(t *testing.T) {
	got := New(Config{}, WithResolver(localMX)).Verify(context.Background(), "someone@Mailinator.com")
	assert.Equal(t, model.EmailInvalid, got.Status)
	assert.Equal(t, StageDisposable, got.Stage)
	assert.Equal(t, "someone@mailinator.com", got.Email)

	custom := New(Config{DisposableDomains: []string{"burner.test"}}, WithResolver(localMX))
	assert.Equal(t, StageDisposable, custom.Verify(context.Background(), "x@burner.test").Stage)
}

func TestVerify_MX(t *testing.T) {
	tests := []struct {
		name     string
		resolver fakeResolver
		want     model.EmailStatus
	}{
		{"no such domain", fakeResolver{err: &net.DNSError{Err: "no such host", Name: "acme.test", IsNotFound: true}}, model.EmailInvalid},
		{"temporary failure", fakeResolver{err: &net.DNSError{Err: "server misbehaving", Name: "acme.test", IsTemporary: true}}, model.EmailUnknown},
		{"empty records", fakeResolver{mx: []*net.MX{}}, model.EmailInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(Config{SMTPEnabled: true}, WithResolver(tt.resolver)).Verify(context.Background(), "jane@acme.test")
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, StageMX, got.Stage)
		})
	}
}

func TestVerify_SMTPDisabled(t *testing.T) {
	got := New(Config{SMTPEnabled: false}, WithResolver(localMX)).Verify(context.Background(), "jane@acme.test")
	assert.Equal(t, model.EmailUnknown, got.Status)
	assert.Equal(t, StageSMTP, got.Stage)
	assert.Contains(t, got.Reason, "disabled")
}

func TestVerify_SMTPValid(t *testing.T) {
	port, srv := startSMTP(t, onlyMailbox("jane.doe@acme.test"))

	got := smtpVerifier(port).Verify(context.Background(), "jane.doe@acme.test")
	assert.Equal(t, model.EmailValid, got.Status)
	assert.Equal(t, StageSMTP, got.Stage)

	cmds := srv.seen()
	require.GreaterOrEqual(t, len(cmds), 4)
	assert.Equal(t, "EHLO hydra.test", cmds[0])
	assert.Equal(t, "MAIL FROM:<probe@hydra.test>", cmds[1])
	assert.Equal(t, "RCPT TO:<jane.doe@acme.test>", cmds[2])
	assert.Contains(t, cmds[3], "RCPT TO:<hydra-probe-")
	for _, c := range cmds {
		assert.NotEqual(t, "DATA", strings.ToUpper(c))
	}
}

func TestVerify_SMTPRejected(t *testing.T) {
	port, _ := startSMTP(t, onlyMailbox("someone.else@acme.test"))

	got := smtpVerifier(port).Verify(context.Background(), "jane.doe@acme.test")
	assert.Equal(t, model.EmailInvalid, got.Status)
	assert.Equal(t, 100, got.Risk)
}

func TestVerify_SMTPCatchAll(t *testing.T) {
	port, _ := startSMTP(t, func(string) string { return "250 OK" })

	got := smtpVerifier(port).Verify(context.Background(), "jane.doe@acme.test")
	assert.Equal(t, model.EmailRisky, got.Status)
	assert.Contains(t, got.Reason, "accepts all")
}

func TestVerify_SMTPTemporaryFailure(t *testing.T) {
	port, _ := startSMTP(t, func(string) string { return "451 4.7.1 greylisted" })

	got := smtpVerifier(port).Verify(context.Background(), "jane.doe@acme.test")
	assert.Equal(t, model.EmailUnknown, got.Status)
	assert.Contains(t, got.Reason, "451")
}

func TestVerify_SMTPUnreachable(t *testing.T) {
	got := smtpVerifier(25, WithDialer(refusingDialer{})).Verify(context.Background(), "jane@acme.test")
	assert.Equal(t, model.EmailUnknown, got.Status)
	assert.Equal(t, StageSMTP, got.Stage)
}
