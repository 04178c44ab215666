// Package mail delivers plain-text security notices.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is an outbound plain-text email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
	// Headers are extra RFC 5322 headers, e.g. X-Notice-Type for security notices.
	Headers map[string]string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var errNoRecipients = errors.New("mail: at least one recipient is required")

// envelope is a validated message ready for the wire.
type envelope struct {
	from       string
	recipients []string
	msg        Message
}

func newEnvelope(msg Message, defaultFrom string) (envelope, error) {
	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = strings.TrimSpace(defaultFrom)
	}
	if from == "" {
		return envelope{}, errors.New("mail: sender address is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return envelope{}, fmt.Errorf("mail: invalid from address: %w", err)
	}

	recipients := dedupe(msg.To)
	if len(recipients) == 0 {
		return envelope{}, errNoRecipients
	}
	for _, rcpt := range recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return envelope{}, fmt.Errorf("mail: invalid recipient address %q: %w", rcpt, err)
		}
	}
	return envelope{from: from, recipients: recipients, msg: msg}, nil
}

// bytes renders headers and body with CRLF line endings.
func (e envelope) bytes(now time.Time) []byte {
	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(headerValue(value))
		buf.WriteString("\r\n")
	}

	writeHeader("From", e.from)
	writeHeader("To", strings.Join(e.recipients, ", "))
	writeHeader("Subject", e.msg.Subject)
	writeHeader("Date", now.UTC().Format(time.RFC1123Z))
	writeHeader("Message-ID", "<"+uuid.NewString()+"@"+domainOf(e.from)+">")

	names := make([]string, 0, len(e.msg.Headers))
	for name := range e.msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		clean := strings.TrimSpace(name)
		if clean == "" || strings.ContainsAny(clean, ": \r\n") {
			continue
		}
		writeHeader(clean, e.msg.Headers[name])
	}

	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")
	writeHeader("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(e.msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return buf.Bytes()
}

func headerValue(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

func domainOf(address string) string {
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}
	if at := strings.LastIndexByte(address, '@'); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "localhost"
}

func dedupe(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}
