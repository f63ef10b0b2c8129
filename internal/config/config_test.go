package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VisibilityTimeout != 60 {
		t.Errorf("expected visibility timeout 60, got %d", cfg.VisibilityTimeout)
	}
	if cfg.MaxMessagesPerPoll != 10 {
		t.Errorf("expected 10 messages per poll, got %d", cfg.MaxMessagesPerPoll)
	}
	if cfg.PollWaitSeconds != 2 {
		t.Errorf("expected poll wait 2, got %d", cfg.PollWaitSeconds)
	}
	if cfg.RetryBackoff != 2*time.Second {
		t.Errorf("expected retry backoff 2s, got %s", cfg.RetryBackoff)
	}
	if !cfg.DeleteOnFailure {
		t.Error("expected delete on send failure to default to true")
	}
	if cfg.DefaultLocale != "en" {
		t.Errorf("expected default locale en, got %s", cfg.DefaultLocale)
	}
}

func TestLoad_SMTPStartTLS(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SMTP_STARTTLS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.SMTPStartTLS || cfg.SMTPSecure {
		t.Errorf("expected starttls only, got starttls=%v secure=%v", cfg.SMTPStartTLS, cfg.SMTPSecure)
	}
}

func TestLoad_QueueURLs(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("QUEUE_URLS", "https://sqs/a, https://sqs/b,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.QueueURLs) != 2 || cfg.QueueURLs[0] != "https://sqs/a" || cfg.QueueURLs[1] != "https://sqs/b" {
		t.Fatalf("expected two trimmed queue urls, got %v", cfg.QueueURLs)
	}
}

func TestLoad_SingleQueueURL(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("QUEUE_URL", "https://sqs/only")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.QueueURLs) != 1 || cfg.QueueURLs[0] != "https://sqs/only" {
		t.Fatalf("expected single queue url, got %v", cfg.QueueURLs)
	}
}

func TestLoad_RegionFallback(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QueueRegion != "eu-west-1" || cfg.SESRegion != "eu-west-1" || cfg.SMSRegion != "eu-west-1" {
		t.Fatalf("expected all regions to fall back to AWS_REGION, got queue=%s ses=%s sms=%s",
			cfg.QueueRegion, cfg.SESRegion, cfg.SMSRegion)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "abc"},
		{"VISIBILITY_TIMEOUT", "sixty"},
		{"DELETE_ON_SEND_FAILURE", "maybe"},
		{"HANDLE_TIMEOUT", "30"},
		{"RETRY_BACKOFF_MS", "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Cleanup(func() { os.Unsetenv("QUEUE_URLS") })

	content := "QUEUE_URLS=https://sqs/from-dotenv\nMAX_IN_FLIGHT=3\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	// The process environment wins over the file.
	t.Setenv("MAX_IN_FLIGHT", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.QueueURLs) != 1 || cfg.QueueURLs[0] != "https://sqs/from-dotenv" {
		t.Errorf("expected queue url from .env, got %v", cfg.QueueURLs)
	}
	if cfg.MaxInFlight != 7 {
		t.Errorf("expected env to override .env, got %d", cfg.MaxInFlight)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			QueueURLs:          []string{"https://sqs/a"},
			VisibilityTimeout:  60,
			MaxMessagesPerPoll: 10,
			PollWaitSeconds:    2,
			MailTransport:      "smtp",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no queues", func(c *Config) { c.QueueURLs = nil }, true},
		{"visibility too large", func(c *Config) { c.VisibilityTimeout = 50000 }, true},
		{"too many messages", func(c *Config) { c.MaxMessagesPerPoll = 11 }, true},
		{"zero messages", func(c *Config) { c.MaxMessagesPerPoll = 0 }, true},
		{"wait too long", func(c *Config) { c.PollWaitSeconds = 21 }, true},
		{"unknown transport", func(c *Config) { c.MailTransport = "pigeon" }, true},
		{"log transport", func(c *Config) { c.MailTransport = "log" }, false},
		{"starttls", func(c *Config) { c.SMTPStartTLS = true }, false},
		{"secure and starttls", func(c *Config) { c.SMTPSecure, c.SMTPStartTLS = true, true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
