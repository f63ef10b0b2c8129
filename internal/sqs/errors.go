package sqs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

// Queue operations reported in QueueError.
const (
	OpReceive = "receive"
	OpExtend  = "extend"
	OpDelete  = "delete"
)

// QueueError is returned for any provider failure on a queue operation.
type QueueError struct {
	Op       string
	QueueURL string
	Err      error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("sqs %s failed for %s: %v", e.Op, e.QueueURL, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is worth retrying: server-side
// faults, throttling and deadlines are, client faults are not.
func (e *QueueError) Temporary() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestThrottled", "ServiceUnavailable":
			return true
		}
		return false
	}
	// Transport failures never reach the API layer.
	return true
}

// IsNotFound reports whether err means the receipt handle no longer refers
// to an in-flight message.
func IsNotFound(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return true
	}
	var notInflight *types.MessageNotInflight
	if errors.As(err, &notInflight) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ReceiptHandleIsInvalid", "AWS.SimpleQueueService.MessageNotInflight", "MessageNotInflight":
			return true
		}
	}
	return false
}
