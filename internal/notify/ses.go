package notify

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESAPI is the part of the SES client SESNotifier uses.
type SESAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

type SESConfig struct {
	Region string
	From   string
}

// SESNotifier sends raw MIME through SES so custom headers are preserved.
type SESNotifier struct {
	api    SESAPI
	from   string
	logger *zap.Logger
}

func NewSESNotifier(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return NewSESNotifierWithAPI(ses.NewFromConfig(awsCfg), cfg.From, logger), nil
}

func NewSESNotifierWithAPI(api SESAPI, from string, logger *zap.Logger) *SESNotifier {
	return &SESNotifier{api: api, from: from, logger: logger}
}

func (s *SESNotifier) Send(ctx context.Context, email Email) error {
	if email.From == "" {
		email.From = s.from
	}
	raw, err := Compose(email)
	if err != nil {
		return err
	}
	to, _ := mail.ParseAddress(email.To)

	result, err := s.api.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(email.From),
		Destinations: []string{to.Address},
		RawMessage:   &types.RawMessage{Data: raw},
	})
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via ses",
		zap.String("to", to.Address),
		zap.String("ses_message_id", aws.ToString(result.MessageId)),
		zap.String("request_id", email.Headers["X-Request-ID"]),
	)
	return nil
}
