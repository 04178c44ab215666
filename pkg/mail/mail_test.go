package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	authed bool
	from   string
	rcpts  []string
	data   bytes.Buffer
	quit   bool
	rcptFn func(string) error
}

func (f *fakeSession) Auth(smtp.Auth) error {
	f.authed = true
	return nil
}

func (f *fakeSession) Mail(from string) error {
	f.from = from
	return nil
}

func (f *fakeSession) Rcpt(to string) error {
	if f.rcptFn != nil {
		if err := f.rcptFn(to); err != nil {
			return err
		}
	}
	f.rcpts = append(f.rcpts, to)
	return nil
}
func (f *fakeSession) Data() (io.WriteCloser, error) { return nopCloser{&f.data}, nil }

func (f *fakeSession) Quit() error {
	f.quit = true
	return nil
}

func (f *fakeSession) Close() error { return nil }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newTestMailer(t *testing.T, cfg SMTPSettings, fake *fakeSession) *SMTPMailer {
	t.Helper()
	m, err := NewSMTPMailer(cfg)
	require.NoError(t, err)
	m.dial = func(context.Context, SMTPSettings) (session, error) { return fake, nil }
	m.now = func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) }
	return m
}

func enabledSettings() SMTPSettings {
	return SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "security@example.com"}
}

func TestNewSMTPMailerValidatesSettings(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "invalid smtp port")

	m, err := NewSMTPMailer(enabledSettings())
	require.NoError(t, err)
	require.Equal(t, defaultSMTPTimeout, m.cfg.Timeout)
}

func TestSMTPMailerDisabled(t *testing.T) {
	m, err := NewSMTPMailer(SMTPSettings{})
	require.NoError(t, err)
	err = m.Send(context.Background(), Message{To: []string{"a@example.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSMTPMailerSend(t *testing.T) {
	fake := &fakeSession{}
	cfg := enabledSettings()
	cfg.Username = "mailer"
	m := newTestMailer(t, cfg, fake)

	err := m.Send(context.Background(), Message{
		To:      []string{"ada@example.com", " ADA@example.com ", "bob@example.com"},
		Subject: "New device\r\nBcc: evil@example.com",
		Body:    "Code: 123456\nExpires in 15 minutes",
		Headers: map[string]string{"X-Notice-Type": "device_approval", "Bad Header": "x"},
	})
	require.NoError(t, err)

	require.True(t, fake.authed)
	require.True(t, fake.quit)
	require.Equal(t, "security@example.com", fake.from)
	require.Equal(t, []string{"ada@example.com", "bob@example.com"}, fake.rcpts)

	raw := fake.data.String()
	require.Contains(t, raw, "Subject: New device  Bcc: evil@example.com\r\n")
	require.Contains(t, raw, "Date: Mon, 04 Mar 2024 09:00:00 +0000\r\n")
	require.Contains(t, raw, "@example.com>\r\n")
	require.Contains(t, raw, "X-Notice-Type: device_approval\r\n")
	require.NotContains(t, raw, "Bad Header")
	require.True(t, strings.HasSuffix(raw, "\r\n\r\nCode: 123456\r\nExpires in 15 minutes"))
}

func TestSMTPMailerRejectsBadAddressesBeforeDialing(t *testing.T) {
	m, err := NewSMTPMailer(enabledSettings())
	require.NoError(t, err)
	m.dial = func(context.Context, SMTPSettings) (session, error) {
		t.Fatal("dial must not be reached")
		return nil, nil
	}

	err = m.Send(context.Background(), Message{To: []string{" ", "\t"}})
	require.ErrorIs(t, err, errNoRecipients)

	err = m.Send(context.Background(), Message{From: "not-an-address", To: []string{"a@example.com"}})
	require.ErrorContains(t, err, "invalid from address")

	err = m.Send(context.Background(), Message{To: []string{"a@example.com", "broken"}})
	require.ErrorContains(t, err, "invalid recipient address")
}

func TestSMTPMailerWrapsRecipientFailure(t *testing.T) {
	refused := errors.New("550 mailbox unavailable")
	fake := &fakeSession{rcptFn: func(string) error { return refused }}
	m := newTestMailer(t, enabledSettings(), fake)

	err := m.Send(context.Background(), Message{To: []string{"gone@example.com"}})
	require.ErrorIs(t, err, refused)
	require.False(t, fake.quit)
}

func TestDomainOf(t *testing.T) {
	require.Equal(t, "example.com", domainOf("Security <security@example.com>"))
	require.Equal(t, "localhost", domainOf("nobody"))
}

func TestMemoryMailerRecordsMessages(t *testing.T) {
	mailer := NewMemoryMailer()
	require.NoError(t, mailer.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "hi"}))

	messages := mailer.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "hi", messages[0].Subject)

	mailer.FailWith(ErrSMTPDisabled)
	require.ErrorIs(t, mailer.Send(context.Background(), Message{To: []string{"b@example.com"}}), ErrSMTPDisabled)
	require.Len(t, mailer.Messages(), 1)
}
