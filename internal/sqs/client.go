package sqs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/metrics"
	"github.com/lalithlochan/nimbus-remind/internal/observ"
)

// API is the subset of the SQS client the reminder pipeline uses.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config holds SQS configuration.
type Config struct {
	Region            string
	QueueURLs         []string
	Endpoint          string // optional, for LocalStack
	VisibilityTimeout int32
	MaxMessages       int32
	WaitTimeSeconds   int32
	RetryBackoff      time.Duration
	// IdleDelay spaces out short polls (WaitTimeSeconds 0) of an empty queue.
	IdleDelay time.Duration
}

// DefaultVisibilityTimeout is the claim, in seconds, taken on every
// received message when none is configured.
const DefaultVisibilityTimeout int32 = 60

func (c *Config) applyDefaults() {
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	if c.WaitTimeSeconds < 0 {
		c.WaitTimeSeconds = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2000 * time.Millisecond
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = time.Second
	}
}

// Message is a single delivery received from a queue.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
	QueueURL      string
	ReceiveCount  int
}

// Client receives, extends and deletes reminder messages.
// It is safe for concurrent use by several polling loops.
type Client struct {
	api    API
	cfg    Config
	logger *zap.Logger
}

// New creates a client backed by the AWS SDK.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sqs client initialized",
		zap.String("region", cfg.Region),
		zap.Strings("queue_urls", cfg.QueueURLs),
	)

	return NewWithAPI(api, cfg, logger), nil
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API, cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{api: api, cfg: cfg, logger: logger}
}

// Config returns the effective configuration after defaults.
func (c *Client) Config() Config {
	return c.cfg
}

// ReceiveBatch long-polls the queue once. Every returned message is hidden
// for VisibilityTimeout from the moment it is received. No messages is not
// an error.
func (c *Client) ReceiveBatch(ctx context.Context, queueURL string) ([]Message, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
		VisibilityTimeout:   c.cfg.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}

	result, err := c.api.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, &QueueError{Op: OpReceive, QueueURL: queueURL, Err: err}
	}

	messages := make([]Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		msg := Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			QueueURL:      queueURL,
		}
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			msg.ReceiveCount, _ = strconv.Atoi(v)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// ExtendVisibility hides a delivery from other consumers for seconds more.
// An empty receipt handle is ignored.
func (c *Client) ExtendVisibility(ctx context.Context, queueURL, receiptHandle string, seconds int32) error {
	if receiptHandle == "" {
		return nil
	}

	input := &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	}

	if _, err := c.api.ChangeMessageVisibility(ctx, input); err != nil {
		return &QueueError{Op: OpExtend, QueueURL: queueURL, Err: err}
	}

	return nil
}

// Delete removes a delivery from the queue. A receipt handle that is no
// longer valid (already deleted, or expired) is not an error.
func (c *Client) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	_, err := c.api.DeleteMessage(ctx, input)
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		c.logger.Debug("sqs delete of stale receipt handle ignored",
			observ.Queue(queueURL),
			zap.Error(err),
		)
		return nil
	}

	return &QueueError{Op: OpDelete, QueueURL: queueURL, Err: err}
}

// Poll receives from queueURL until ctx is done and pushes every message
// onto out. Receive failures are logged and retried after RetryBackoff.
func (c *Client) Poll(ctx context.Context, queueURL string, out chan<- Message) {
	logger := c.logger.With(observ.Queue(queueURL))
	queue := QueueName(queueURL)

	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := c.ReceiveBatch(ctx, queueURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.RecordReceiveError(queue)
			logger.Error("sqs receive failed, backing off",
				zap.Error(err),
				zap.Duration("backoff", c.cfg.RetryBackoff),
			)

			if !sleep(ctx, c.cfg.RetryBackoff) {
				return
			}
			continue
		}

		if len(messages) == 0 {
			// Long polls already wait on the server side.
			if c.cfg.WaitTimeSeconds == 0 && !sleep(ctx, c.cfg.IdleDelay) {
				return
			}
			continue
		}

		metrics.RecordReceived(queue, len(messages))
		logger.Debug("sqs batch received", zap.Int("count", len(messages)))

		for _, m := range messages {
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// QueueName returns the last path segment of a queue URL, used as a metric label.
func QueueName(queueURL string) string {
	trimmed := strings.TrimRight(queueURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
