// Package notify delivers rendered emails over SMTP, SES or the log.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Email is a fully rendered message ready for a transport.
type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Notifier sends a rendered email. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Send(ctx context.Context, email Email) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, email Email) error

func (f NotifierFunc) Send(ctx context.Context, email Email) error {
	return f(ctx, email)
}

// ErrInvalidEmail is returned when a message cannot be addressed.
var ErrInvalidEmail = errors.New("invalid email")

// reserved headers are written by Compose and cannot be overridden
var reserved = map[string]bool{
	"From": true, "To": true, "Subject": true, "Date": true,
	"Mime-Version": true, "Content-Type": true, "Message-Id": true,
}

// Validate checks the fields every transport relies on.
func (e Email) Validate() error {
	if e.To == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidEmail)
	}
	if _, err := mail.ParseAddress(e.To); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", ErrInvalidEmail, e.To, err)
	}
	if e.From == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidEmail)
	}
	if e.HTML == "" && e.Text == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidEmail)
	}
	return nil
}

// Compose renders e as an RFC 5322 message with a multipart/alternative
// body. Custom headers are emitted in sorted order.
func Compose(e Email) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeHeader := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	writeHeader("From", e.From)
	writeHeader("To", e.To)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	writeHeader("Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader("Message-ID", messageID(e.From))
	writeHeader("MIME-Version", "1.0")

	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		if reserved[textproto.CanonicalMIMEHeaderKey(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(k, sanitizeHeader(e.Headers[k]))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	writeHeader("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", e.Text},
		{"text/html; charset=utf-8", e.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.contentType)
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("close mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

func messageID(from string) string {
	domain := "localhost"
	if addr, err := mail.ParseAddress(from); err == nil {
		if i := strings.LastIndex(addr.Address, "@"); i >= 0 {
			domain = addr.Address[i+1:]
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
