// Command send-sms sends one templated SMS through SNS.
//
//	send-sms <phoneNumber> <messageId> [acceptLanguage]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/config"
	"github.com/lalithlochan/nimbus-remind/internal/observ"
	"github.com/lalithlochan/nimbus-remind/internal/sms"
	"github.com/lalithlochan/nimbus-remind/internal/templates"
)

var errUsage = errors.New("usage: send-sms <phoneNumber> <messageId> [acceptLanguage]")

type args struct {
	phoneNumber    string
	messageID      string
	acceptLanguage string
}

func parseArgs(argv []string) (args, error) {
	fs := flag.NewFlagSet("send-sms", flag.ContinueOnError)
	if err := fs.Parse(argv); err != nil {
		return args{}, err
	}

	rest := fs.Args()
	if len(rest) < 2 || len(rest) > 3 {
		return args{}, errUsage
	}

	a := args{phoneNumber: rest[0], messageID: rest[1], acceptLanguage: "en"}
	if len(rest) == 3 && rest[2] != "" {
		a.acceptLanguage = rest[2]
	}
	return a, nil
}

func main() {
	a, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(a); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(a args) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(observ.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry, err := templates.New(templates.Options{
		DefaultLocale:    cfg.DefaultLocale,
		SupportedLocales: cfg.SupportedLocales,
	})
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transport, err := sms.NewSNSTransport(ctx, cfg.SMSRegion, os.Getenv("SMS_ENDPOINT"))
	if err != nil {
		return fmt.Errorf("failed to create SNS transport: %w", err)
	}

	sender := sms.NewSender(registry, transport, sms.Options{InstallLink: cfg.SMSInstallLink}, logger)
	if err := sender.Send(ctx, a.phoneNumber, a.messageID, a.acceptLanguage); err != nil {
		return err
	}

	logger.Info("sms sent", zap.String("phone_number", a.phoneNumber), zap.String("sms_message_id", a.messageID))
	return nil
}
