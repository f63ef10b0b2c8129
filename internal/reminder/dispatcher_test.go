package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lalithlochan/nimbus-remind/internal/notify"
	"github.com/lalithlochan/nimbus-remind/internal/templates"
)

type recordingNotifier struct {
	mu     sync.Mutex
	emails []notify.Email
	err    error
}

func (n *recordingNotifier) Send(_ context.Context, e notify.Email) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, e)
	return n.err
}

func (n *recordingNotifier) sent() []notify.Email {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Email(nil), n.emails...)
}

type stubRenderer struct {
	name   string
	locale string
	values map[string]any
	err    error
}

func (r *stubRenderer) Render(name, acceptLanguage string, values map[string]any) (*templates.Rendered, error) {
	r.name, r.locale, r.values = name, acceptLanguage, values
	if r.err != nil {
		return nil, r.err
	}
	return &templates.Rendered{
		Subject:  values["subject"].(string),
		HTML:     "<p>" + values["link"].(string) + "</p>",
		Text:     values["link"].(string),
		Language: "en",
	}, nil
}

type throttleFunc func(ctx context.Context, key string) (bool, error)

func (f throttleFunc) Permit(ctx context.Context, key string) (bool, error) {
	return f(ctx, key)
}

func testMessage() *Message {
	return &Message{UID: "u1", Email: "a@b.com", Code: "c1", AcceptLanguage: "en-US"}
}

func TestSelectTemplate(t *testing.T) {
	tests := []struct {
		typ      Type
		template string
		subject  string
	}{
		{TypeFirst, TemplateFirst, SubjectFirst},
		{TypeSecond, TemplateSecond, SubjectSecond},
		{"", TemplateFirst, SubjectFirst},
		{"third", TemplateFirst, SubjectFirst},
	}
	for _, tt := range tests {
		tmpl, subj := SelectTemplate(tt.typ)
		if tmpl != tt.template || subj != tt.subject {
			t.Errorf("SelectTemplate(%q) = %s, %s; want %s, %s", tt.typ, tmpl, subj, tt.template, tt.subject)
		}
	}
}

func TestHandle_Sends(t *testing.T) {
	renderer := &stubRenderer{}
	notifier := &recordingNotifier{}
	d := NewDispatcher(renderer, notifier, testLinks(), DispatcherOptions{}, zap.NewNop())

	if err := d.Handle(context.Background(), testMessage()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	sent := notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	e := sent[0]
	if e.To != "a@b.com" || e.Subject != SubjectFirst {
		t.Errorf("unexpected email %+v", e)
	}
	if renderer.name != TemplateFirst || renderer.locale != "en-US" {
		t.Errorf("unexpected render call %s %s", renderer.name, renderer.locale)
	}
	for _, h := range []string{"X-Link", "X-Uid", "X-Verify-Code", "Content-Language", "X-Request-ID"} {
		if e.Headers[h] == "" {
			t.Errorf("expected header %s to be set", h)
		}
	}
	if e.Headers["X-Uid"] != "u1" || e.Headers["X-Verify-Code"] != "c1" {
		t.Errorf("unexpected headers %v", e.Headers)
	}
	if !strings.Contains(e.Headers["X-Link"], "code=c1") {
		t.Errorf("X-Link missing code: %s", e.Headers["X-Link"])
	}
}

func TestHandle_SecondReminder(t *testing.T) {
	renderer := &stubRenderer{}
	notifier := &recordingNotifier{}
	d := NewDispatcher(renderer, notifier, testLinks(), DispatcherOptions{}, zap.NewNop())

	msg := testMessage()
	msg.Type = TypeSecond
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if renderer.name != TemplateSecond {
		t.Errorf("expected %s, got %s", TemplateSecond, renderer.name)
	}
	if notifier.sent()[0].Subject != SubjectSecond {
		t.Errorf("expected subject %q", SubjectSecond)
	}
}

func TestHandle_DefaultLocale(t *testing.T) {
	renderer := &stubRenderer{}
	d := NewDispatcher(renderer, &recordingNotifier{}, testLinks(), DispatcherOptions{DefaultLocale: "fr"}, zap.NewNop())

	msg := testMessage()
	msg.AcceptLanguage = ""
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if renderer.locale != "fr" {
		t.Errorf("expected default locale fr, got %q", renderer.locale)
	}
}

func TestHandle_MissingCodeLogsAndSkips(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	notifier := &recordingNotifier{}
	d := NewDispatcher(&stubRenderer{}, notifier, testLinks(), DispatcherOptions{}, zap.New(core))

	msg := testMessage()
	msg.Code = ""
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(notifier.sent()) != 0 {
		t.Errorf("expected no email")
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Errorf("expected one error log, got %d", logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	}
}

func TestHandle_SendFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sendErr := errors.New("smtp down")
	notifier := &recordingNotifier{err: sendErr}
	d := NewDispatcher(&stubRenderer{}, notifier, testLinks(), DispatcherOptions{}, zap.New(core))

	err := d.Handle(context.Background(), testMessage())
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DispatchError, got %v", err)
	}
	if de.Stage != "send" || !errors.Is(err, sendErr) {
		t.Errorf("unexpected dispatch error %v", de)
	}
	if logs.FilterMessage("reminder send failed").Len() != 1 {
		t.Errorf("expected send failure to be logged")
	}
}

func TestHandle_RenderFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(&stubRenderer{err: templates.ErrUnknownTemplate}, notifier, testLinks(), DispatcherOptions{}, zap.NewNop())

	err := d.Handle(context.Background(), testMessage())
	var de *DispatchError
	if !errors.As(err, &de) || de.Stage != "render" {
		t.Fatalf("expected render DispatchError, got %v", err)
	}
	if len(notifier.sent()) != 0 {
		t.Errorf("expected no email after render failure")
	}
}

func TestHandle_AlreadyVerified(t *testing.T) {
	notifier := &recordingNotifier{}
	opts := DispatcherOptions{
		Verified: VerificationFunc(func(_ context.Context, uid string) (bool, error) {
			return uid == "u1", nil
		}),
	}
	d := NewDispatcher(&stubRenderer{}, notifier, testLinks(), opts, zap.NewNop())

	if err := d.Handle(context.Background(), testMessage()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(notifier.sent()) != 0 {
		t.Errorf("verified account should not be reminded")
	}
}

func TestHandle_VerificationErrorStillSends(t *testing.T) {
	notifier := &recordingNotifier{}
	opts := DispatcherOptions{
		Verified: VerificationFunc(func(context.Context, string) (bool, error) {
			return false, errors.New("db unavailable")
		}),
	}
	d := NewDispatcher(&stubRenderer{}, notifier, testLinks(), opts, zap.NewNop())

	if err := d.Handle(context.Background(), testMessage()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(notifier.sent()) != 1 {
		t.Errorf("expected reminder to be sent when the check fails")
	}
}

func TestHandle_Stale(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	opts := DispatcherOptions{
		MaxAge: 48 * time.Hour,
		Now:    func() time.Time { return now },
	}
	d := NewDispatcher(&stubRenderer{}, notifier, testLinks(), opts, zap.NewNop())

	old := testMessage()
	old.CreatedAt = now.Add(-72 * time.Hour)
	if err := d.Handle(context.Background(), old); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	fresh := testMessage()
	fresh.CreatedAt = now.Add(-time.Hour)
	if err := d.Handle(context.Background(), fresh); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	unstamped := testMessage()
	if err := d.Handle(context.Background(), unstamped); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	if len(notifier.sent()) != 2 {
		t.Errorf("expected only fresh and unstamped reminders, got %d", len(notifier.sent()))
	}
}

func TestHandle_Throttled(t *testing.T) {
	notifier := &recordingNotifier{}
	calls := 0
	opts := DispatcherOptions{
		Throttle: throttleFunc(func(_ context.Context, key string) (bool, error) {
			calls++
			return calls == 1, nil
		}),
	}
	d := NewDispatcher(&stubRenderer{}, notifier, testLinks(), opts, zap.NewNop())

	for i := 0; i < 3; i++ {
		if err := d.Handle(context.Background(), testMessage()); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	}
	if len(notifier.sent()) != 1 {
		t.Errorf("expected 1 email, got %d", len(notifier.sent()))
	}
}

func TestHandle_ThrottleErrorFailsOpen(t *testing.T) {
	notifier := &recordingNotifier{}
	opts := DispatcherOptions{
		Throttle: throttleFunc(func(context.Context, string) (bool, error) {
			return false, errors.New("redis down")
		}),
	}
	d := NewDispatcher(&stubRenderer{}, notifier, testLinks(), opts, zap.NewNop())

	if err := d.Handle(context.Background(), testMessage()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(notifier.sent()) != 1 {
		t.Errorf("expected email when throttle is unavailable")
	}
}

func TestHandle_RealTemplates(t *testing.T) {
	reg, err := templates.New(templates.Options{DefaultLocale: "en", SupportedLocales: []string{"en", "de", "fr", "es"}})
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	notifier := &recordingNotifier{}
	d := NewDispatcher(reg, notifier, testLinks(), DispatcherOptions{}, zap.NewNop())

	msg := testMessage()
	msg.AcceptLanguage = "de-DE,de;q=0.9"
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	e := notifier.sent()[0]
	if e.Headers["Content-Language"] != "de" {
		t.Errorf("expected Content-Language de, got %q", e.Headers["Content-Language"])
	}
	if e.HTML == "" || e.Text == "" {
		t.Errorf("expected both bodies to be rendered")
	}
	if !strings.Contains(e.Text, "code=c1") {
		t.Errorf("expected verification link in text body")
	}
}
