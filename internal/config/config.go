package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string
	LogFile  string

	// Queue config
	QueueRegion        string
	QueueURLs          []string
	QueueEndpoint      string // optional base endpoint, e.g. LocalStack
	VisibilityTimeout  int    // seconds
	MaxMessagesPerPoll int
	PollWaitSeconds    int
	RetryBackoff       time.Duration
	MaxInFlight        int
	HandleTimeout      time.Duration
	DeleteOnFailure    bool
	MaxReceiveCount    int

	// Reminder behaviour
	ReminderMaxAge   time.Duration // 0 disables the staleness check
	DefaultLocale    string
	SupportedLocales []string
	VerificationURL  string
	SupportURL       string
	PrivacyURL       string

	// Mail transport: smtp, ses or log
	MailTransport string
	MailSender    string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPSecure    bool
	SMTPStartTLS  bool
	SESRegion     string

	// Circuit breaker around the mail transport
	BreakerMaxFailures int
	BreakerRecovery    time.Duration

	// Redis config
	RedisHost      string
	RedisPort      int
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	LeaseEnabled   bool
	ThrottleLimit  int
	ThrottleWindow time.Duration

	// Database
	VerifyCheckEnabled bool
	DBHost             string
	DBPort             int
	DBUser             string
	DBPassword         string
	DBName             string
	DBSSLMode          string

	// SMS
	SMSRegion      string
	SMSInstallLink string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; values
// already set in the environment take precedence over it.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		QueueRegion:        "us-east-1",
		VisibilityTimeout:  60,
		MaxMessagesPerPoll: 10,
		PollWaitSeconds:    2,
		RetryBackoff:       2000 * time.Millisecond,
		MaxInFlight:        10,
		HandleTimeout:      30 * time.Second,
		DeleteOnFailure:    true,

		DefaultLocale:    "en",
		SupportedLocales: []string{"en", "de", "fr", "es"},
		VerificationURL:  "https://accounts.nimbus.local/verify_email",
		SupportURL:       "https://support.nimbus.local",
		PrivacyURL:       "https://nimbus.local/privacy",

		MailTransport: "smtp",
		MailSender:    "Nimbus Accounts <no-reply@nimbus.local>",
		SMTPHost:      "localhost",
		SMTPPort:      25,

		BreakerMaxFailures: 5,
		BreakerRecovery:    30 * time.Second,

		RedisHost:      "localhost",
		RedisPort:      6379,
		ThrottleWindow: 24 * time.Hour,

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "nimbus",
		DBName:    "accounts",
		DBSSLMode: "disable",

		SMSInstallLink: "https://nimbus.local/install",
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)
	cfg.LogFile = stringEnv("LOG_FILE", cfg.LogFile)

	// AWS_REGION is the fallback for every AWS client.
	awsRegion := stringEnv("AWS_REGION", cfg.QueueRegion)
	cfg.QueueRegion = stringEnv("QUEUE_REGION", stringEnv("SQS_REGION", awsRegion))
	cfg.SESRegion = stringEnv("SES_REGION", awsRegion)
	cfg.SMSRegion = stringEnv("SMS_REGION", awsRegion)

	if urls := os.Getenv("QUEUE_URLS"); urls != "" {
		cfg.QueueURLs = splitList(urls)
	} else if url := os.Getenv("QUEUE_URL"); url != "" {
		cfg.QueueURLs = []string{url}
	}
	cfg.QueueEndpoint = stringEnv("QUEUE_ENDPOINT", cfg.QueueEndpoint)

	if cfg.VisibilityTimeout, err = intEnv("VISIBILITY_TIMEOUT", cfg.VisibilityTimeout); err != nil {
		return nil, err
	}
	if cfg.MaxMessagesPerPoll, err = intEnv("MAX_MESSAGES_PER_POLL", cfg.MaxMessagesPerPoll); err != nil {
		return nil, err
	}
	if cfg.PollWaitSeconds, err = intEnv("POLL_WAIT_SECONDS", cfg.PollWaitSeconds); err != nil {
		return nil, err
	}
	backoffMS, err := intEnv("RETRY_BACKOFF_MS", int(cfg.RetryBackoff/time.Millisecond))
	if err != nil {
		return nil, err
	}
	cfg.RetryBackoff = time.Duration(backoffMS) * time.Millisecond
	if cfg.MaxInFlight, err = intEnv("MAX_IN_FLIGHT", cfg.MaxInFlight); err != nil {
		return nil, err
	}
	if cfg.HandleTimeout, err = durationEnv("HANDLE_TIMEOUT", cfg.HandleTimeout); err != nil {
		return nil, err
	}
	if cfg.DeleteOnFailure, err = boolEnv("DELETE_ON_SEND_FAILURE", cfg.DeleteOnFailure); err != nil {
		return nil, err
	}
	if cfg.MaxReceiveCount, err = intEnv("MAX_RECEIVE_COUNT", cfg.MaxReceiveCount); err != nil {
		return nil, err
	}

	if cfg.ReminderMaxAge, err = durationEnv("REMINDER_MAX_AGE", cfg.ReminderMaxAge); err != nil {
		return nil, err
	}
	cfg.DefaultLocale = stringEnv("DEFAULT_LOCALE", cfg.DefaultLocale)
	if locales := os.Getenv("SUPPORTED_LOCALES"); locales != "" {
		cfg.SupportedLocales = splitList(locales)
	}
	cfg.VerificationURL = stringEnv("VERIFICATION_URL", cfg.VerificationURL)
	cfg.SupportURL = stringEnv("SUPPORT_URL", cfg.SupportURL)
	cfg.PrivacyURL = stringEnv("PRIVACY_URL", cfg.PrivacyURL)

	cfg.MailTransport = strings.ToLower(stringEnv("MAIL_TRANSPORT", cfg.MailTransport))
	cfg.MailSender = stringEnv("MAIL_SENDER", cfg.MailSender)
	cfg.SMTPHost = stringEnv("SMTP_HOST", cfg.SMTPHost)
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", cfg.SMTPPort); err != nil {
		return nil, err
	}
	cfg.SMTPUsername = stringEnv("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = stringEnv("SMTP_PASSWORD", cfg.SMTPPassword)
	if cfg.SMTPSecure, err = boolEnv("SMTP_SECURE", cfg.SMTPSecure); err != nil {
		return nil, err
	}
	if cfg.SMTPStartTLS, err = boolEnv("SMTP_STARTTLS", cfg.SMTPStartTLS); err != nil {
		return nil, err
	}

	if cfg.BreakerMaxFailures, err = intEnv("BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return nil, err
	}
	if cfg.BreakerRecovery, err = durationEnv("BREAKER_RECOVERY", cfg.BreakerRecovery); err != nil {
		return nil, err
	}

	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}
	cfg.RedisKeyPrefix = stringEnv("REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
	if cfg.LeaseEnabled, err = boolEnv("LEASE_ENABLED", cfg.LeaseEnabled); err != nil {
		return nil, err
	}
	if cfg.ThrottleLimit, err = intEnv("THROTTLE_LIMIT", cfg.ThrottleLimit); err != nil {
		return nil, err
	}
	if cfg.ThrottleWindow, err = durationEnv("THROTTLE_WINDOW", cfg.ThrottleWindow); err != nil {
		return nil, err
	}

	if cfg.VerifyCheckEnabled, err = boolEnv("VERIFY_CHECK_ENABLED", cfg.VerifyCheckEnabled); err != nil {
		return nil, err
	}
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)

	cfg.SMSInstallLink = stringEnv("SMS_INSTALL_LINK", cfg.SMSInstallLink)

	return cfg, nil
}

// Validate checks the settings the reminder service cannot start without.
func (c *Config) Validate() error {
	if len(c.QueueURLs) == 0 {
		return errors.New("at least one queue url is required (QUEUE_URLS)")
	}
	if c.VisibilityTimeout < 0 || c.VisibilityTimeout > 43200 {
		return fmt.Errorf("invalid VISIBILITY_TIMEOUT %d: must be between 0 and 43200", c.VisibilityTimeout)
	}
	if c.MaxMessagesPerPoll < 1 || c.MaxMessagesPerPoll > 10 {
		return fmt.Errorf("invalid MAX_MESSAGES_PER_POLL %d: must be between 1 and 10", c.MaxMessagesPerPoll)
	}
	if c.PollWaitSeconds < 0 || c.PollWaitSeconds > 20 {
		return fmt.Errorf("invalid POLL_WAIT_SECONDS %d: must be between 0 and 20", c.PollWaitSeconds)
	}
	if c.SMTPSecure && c.SMTPStartTLS {
		return errors.New("SMTP_SECURE and SMTP_STARTTLS are mutually exclusive")
	}
	switch c.MailTransport {
	case "smtp", "ses", "log":
	default:
		return fmt.Errorf("invalid MAIL_TRANSPORT %q: expected smtp, ses or log", c.MailTransport)
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
