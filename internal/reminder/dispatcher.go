package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/metrics"
	"github.com/lalithlochan/nimbus-remind/internal/notify"
	"github.com/lalithlochan/nimbus-remind/internal/observ"
	"github.com/lalithlochan/nimbus-remind/internal/templates"
)

// Templates and subjects per reminder type.
const (
	TemplateFirst  = templates.VerificationReminderFirst
	TemplateSecond = templates.VerificationReminderSecond

	SubjectFirst  = "Hello again."
	SubjectSecond = "Still there?"
)

// Renderer produces localized subject and bodies for a template.
type Renderer interface {
	Render(name, acceptLanguage string, values map[string]any) (*templates.Rendered, error)
}

// Notifier delivers a rendered email.
type Notifier interface {
	Send(ctx context.Context, email notify.Email) error
}

// VerificationChecker reports whether an account already confirmed its address.
type VerificationChecker interface {
	IsVerified(ctx context.Context, uid string) (bool, error)
}

// VerificationFunc adapts a function to VerificationChecker.
type VerificationFunc func(ctx context.Context, uid string) (bool, error)

func (f VerificationFunc) IsVerified(ctx context.Context, uid string) (bool, error) {
	return f(ctx, uid)
}

// NeverVerified treats every account as unverified.
var NeverVerified VerificationChecker = VerificationFunc(func(context.Context, string) (bool, error) {
	return false, nil
})

// Throttle limits how often one recipient can be reminded.
type Throttle interface {
	Permit(ctx context.Context, key string) (bool, error)
}

// DispatchError is returned when a reminder could not be rendered or sent.
type DispatchError struct {
	Stage    string // "render" or "send"
	Template string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("reminder %s failed for %s: %v", e.Stage, e.Template, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// DispatcherOptions tunes policy checks around dispatch.
type DispatcherOptions struct {
	Verified      VerificationChecker
	Throttle      Throttle
	DefaultLocale string
	// MaxAge skips reminders stamped earlier than now-MaxAge. Zero disables it.
	MaxAge time.Duration
	Now    func() time.Time
}

// Dispatcher sends the reminder email for a decoded message.
type Dispatcher struct {
	renderer Renderer
	notifier Notifier
	links    LinkBuilder
	opts     DispatcherOptions
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(renderer Renderer, notifier Notifier, links LinkBuilder, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if opts.Verified == nil {
		opts.Verified = NeverVerified
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "en"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Dispatcher{
		renderer: renderer,
		notifier: notifier,
		links:    links,
		opts:     opts,
		logger:   logger,
	}
}

// SelectTemplate returns the template and subject for a reminder type.
func SelectTemplate(t Type) (template, subject string) {
	if t.Resolved() == TypeSecond {
		return TemplateSecond, SubjectSecond
	}
	return TemplateFirst, SubjectFirst
}

// Handle dispatches one reminder. Skipped reminders return nil; only a
// render or send failure returns an error, and that error is logged here.
func (d *Dispatcher) Handle(ctx context.Context, msg *Message) error {
	start := time.Now()
	requestID := uuid.NewString()
	logger := d.logger.With(observ.RequestID(requestID), zap.String("uid", msg.UID))

	if msg.Code == "" || msg.Email == "" {
		logger.Error("reminder missing code or email")
		metrics.RecordDispatch("invalid", "", 0)
		return nil
	}

	if d.opts.MaxAge > 0 && !msg.CreatedAt.IsZero() && d.opts.Now().Sub(msg.CreatedAt) > d.opts.MaxAge {
		logger.Info("reminder too old, skipping",
			zap.Time("created_at", msg.CreatedAt),
			zap.Duration("max_age", d.opts.MaxAge),
		)
		metrics.RecordDispatch("skipped_stale", "", 0)
		return nil
	}

	verified, err := d.opts.Verified.IsVerified(ctx, msg.UID)
	if err != nil {
		// Sending to someone who already verified is cheaper than never reminding.
		logger.Warn("verification check failed, sending anyway", zap.Error(err))
	}
	if verified {
		logger.Info("account already verified, skipping reminder")
		metrics.RecordDispatch("skipped_verified", "", 0)
		return nil
	}

	if d.opts.Throttle != nil {
		ok, err := d.opts.Throttle.Permit(ctx, msg.Email)
		if err != nil {
			logger.Warn("reminder throttle unavailable", zap.Error(err))
		} else if !ok {
			logger.Info("reminder throttled for recipient")
			metrics.RecordDispatch("skipped_throttled", "", 0)
			return nil
		}
	}

	template, subject := SelectTemplate(msg.Type)
	logger = logger.With(zap.String("template", template))

	locale := msg.AcceptLanguage
	if locale == "" {
		locale = d.opts.DefaultLocale
	}

	links := d.links.ReminderLinks(msg, template)
	values := map[string]any{
		"subject":         subject,
		"email":           msg.Email,
		"link":            links.Link,
		"alternativeLink": links.Alternative,
		"oneClickLink":    links.OneClick,
		"privacyUrl":      links.Privacy,
		"supportUrl":      links.Support,
	}

	rendered, err := d.renderer.Render(template, locale, values)
	if err != nil {
		logger.Error("reminder render failed", zap.Error(err))
		metrics.RecordDispatch("failed", template, time.Since(start))
		return &DispatchError{Stage: "render", Template: template, Err: err}
	}

	language := rendered.Language
	if language == "" {
		language = locale
	}

	email := notify.Email{
		To:      msg.Email,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
		Headers: map[string]string{
			"Content-Language": language,
			"X-Link":           links.Link,
			"X-Uid":            msg.UID,
			"X-Verify-Code":    msg.Code,
			"X-Request-ID":     requestID,
		},
	}

	if err := d.notifier.Send(ctx, email); err != nil {
		logger.Error("reminder send failed", zap.Error(err))
		metrics.RecordDispatch("failed", template, time.Since(start))
		return &DispatchError{Stage: "send", Template: template, Err: err}
	}

	metrics.RecordDispatch("sent", template, time.Since(start))
	logger.Info("reminder sent", zap.Duration("duration", time.Since(start)))
	return nil
}
