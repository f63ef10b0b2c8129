// Package sms sends templated text messages, such as the app install link.
package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/metrics"
	"github.com/lalithlochan/nimbus-remind/internal/templates"
)

var (
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrInvalidRegion      = errors.New("invalid region")
	ErrInvalidMessageID   = errors.New("invalid message id")
)

// DefaultSenderIDs maps ISO region codes to the sender shown on the handset.
var DefaultSenderIDs = map[string]string{
	"CA": "16474909977",
	"GB": "Nimbus",
	"RO": "Nimbus",
	"US": "16474909977",
}

// Result is what a provider reports for one message. Status "0" is success.
type Result struct {
	Status    string
	ErrorText string
	MessageID string
}

// Transport hands a message to an SMS provider.
type Transport interface {
	SendSMS(ctx context.Context, senderID, phoneNumber, text string) (Result, error)
}

// ProviderError is a delivery the provider refused.
type ProviderError struct {
	Status string
	Reason string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("Message rejected: %s %s", e.Status, e.Reason)
}

// Temporary reports whether retrying could succeed. Client-side
// statuses (4xx) are permanent.
func (e *ProviderError) Temporary() bool {
	return !strings.HasPrefix(e.Status, "4")
}

// Renderer is the part of the template registry the sender uses.
type Renderer interface {
	Has(name string) bool
	Render(name, acceptLanguage string, values map[string]any) (*templates.Rendered, error)
}

type Options struct {
	SenderIDs   map[string]string
	InstallLink string
}

type Sender struct {
	renderer  Renderer
	transport Transport
	opts      Options
	logger    *zap.Logger
}

func NewSender(renderer Renderer, transport Transport, opts Options, logger *zap.Logger) *Sender {
	if opts.SenderIDs == nil {
		opts.SenderIDs = DefaultSenderIDs
	}
	return &Sender{renderer: renderer, transport: transport, opts: opts, logger: logger}
}

// SenderID returns the sender for phoneNumber, which must be in E.164 form.
func (s *Sender) SenderID(phoneNumber string) (string, error) {
	num, err := phonenumbers.Parse(phoneNumber, "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w %q", ErrInvalidPhoneNumber, phoneNumber)
	}

	region := phonenumbers.GetRegionCodeForNumber(num)
	id, ok := s.opts.SenderIDs[region]
	if !ok || id == "" {
		return "", fmt.Errorf("%w %q", ErrInvalidRegion, region)
	}
	return id, nil
}

// Message renders the text for messageID in the negotiated language.
func (s *Sender) Message(messageID, acceptLanguage string) (string, error) {
	name := "sms." + messageID
	if !s.renderer.Has(name) {
		return "", fmt.Errorf("%w %q", ErrInvalidMessageID, messageID)
	}

	out, err := s.renderer.Render(name, acceptLanguage, map[string]any{"link": s.opts.InstallLink})
	if err != nil {
		return "", fmt.Errorf("render sms %s: %w", messageID, err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Send validates the number, renders messageID and hands it to the transport.
func (s *Sender) Send(ctx context.Context, phoneNumber, messageID, acceptLanguage string) error {
	logger := s.logger.With(
		zap.String("phone_number", phoneNumber),
		zap.String("sms_message_id", messageID),
		zap.String("accept_language", acceptLanguage),
	)
	logger.Info("sms send requested")

	senderID, err := s.SenderID(phoneNumber)
	if err != nil {
		metrics.RecordSMS("invalid")
		return err
	}
	text, err := s.Message(messageID, acceptLanguage)
	if err != nil {
		metrics.RecordSMS("invalid")
		return err
	}

	res, err := s.transport.SendSMS(ctx, senderID, phoneNumber, text)
	if err != nil {
		metrics.RecordSMS("failed")
		logger.Error("sms transport failed", zap.Error(err))
		return fmt.Errorf("send sms: %w", err)
	}
	if res.Status != "0" {
		metrics.RecordSMS("rejected")
		perr := &ProviderError{Status: res.Status, Reason: res.ErrorText}
		logger.Error("sms rejected by provider", zap.Error(perr))
		return perr
	}

	metrics.RecordSMS("sent")
	logger.Info("sms sent", zap.String("provider_message_id", res.MessageID))
	return nil
}
