package sqs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const testQueue = "https://sqs.us-east-1.amazonaws.com/123456789012/reminders"

// fakeAPI is a scripted SQS API. Each ReceiveMessage call pops the next
// response; once the script is exhausted it returns empty batches.
type fakeAPI struct {
	mu        sync.Mutex
	responses []receiveResponse
	receives  []*sqs.ReceiveMessageInput
	extended  []*sqs.ChangeMessageVisibilityInput
	deleted   []string
	deleteErr error
	extendErr error
}

type receiveResponse struct {
	messages []types.Message
	err      error
}

func (f *fakeAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.receives = append(f.receives, in)
	if len(f.responses) == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		return &sqs.ReceiveMessageOutput{}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	f.mu.Unlock()

	if resp.err != nil {
		return nil, resp.err
	}
	return &sqs.ReceiveMessageOutput{Messages: resp.messages}, nil
}

func (f *fakeAPI) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended = append(f.extended, in)
	if f.extendErr != nil {
		return nil, f.extendErr
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeAPI) receiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receives)
}

func sqsMessage(id, body string) types.Message {
	return types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
		Attributes:    map[string]string{"ApproximateReceiveCount": "2"},
	}
}

func TestReceiveBatch_UsesConfiguredLimits(t *testing.T) {
	api := &fakeAPI{responses: []receiveResponse{{messages: []types.Message{sqsMessage("m1", `{}`)}}}}
	client := NewWithAPI(api, Config{MaxMessages: 10, WaitTimeSeconds: 2}, zap.NewNop())

	msgs, err := client.ReceiveBatch(context.Background(), testQueue)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	got := msgs[0]
	if got.ID != "m1" || got.ReceiptHandle != "rh-m1" || got.Body != `{}` || got.QueueURL != testQueue {
		t.Errorf("unexpected message: %+v", got)
	}
	if got.ReceiveCount != 2 {
		t.Errorf("expected receive count 2, got %d", got.ReceiveCount)
	}

	in := api.receives[0]
	if in.MaxNumberOfMessages != 10 {
		t.Errorf("expected max messages 10, got %d", in.MaxNumberOfMessages)
	}
	if in.WaitTimeSeconds != 2 {
		t.Errorf("expected wait 2s, got %d", in.WaitTimeSeconds)
	}
}

func TestReceiveBatch_ClaimsVisibilityAtReceipt(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int32
	}{
		{"configured", Config{VisibilityTimeout: 45}, 45},
		{"default", Config{}, DefaultVisibilityTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{responses: []receiveResponse{{messages: []types.Message{sqsMessage("m1", `{}`)}}}}
			client := NewWithAPI(api, tt.cfg, zap.NewNop())

			if _, err := client.ReceiveBatch(context.Background(), testQueue); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := api.receives[0].VisibilityTimeout; got != tt.want {
				t.Errorf("expected receive to claim %ds, got %d", tt.want, got)
			}
		})
	}
}

func TestReceiveBatch_EmptyIsSuccess(t *testing.T) {
	api := &fakeAPI{responses: []receiveResponse{{}}}
	client := NewWithAPI(api, Config{}, zap.NewNop())

	msgs, err := client.ReceiveBatch(context.Background(), testQueue)
	if err != nil {
		t.Fatalf("expected no error for empty batch, got %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestReceiveBatch_WrapsError(t *testing.T) {
	cause := errors.New("connection reset")
	api := &fakeAPI{responses: []receiveResponse{{err: cause}}}
	client := NewWithAPI(api, Config{}, zap.NewNop())

	_, err := client.ReceiveBatch(context.Background(), testQueue)
	var qe *QueueError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueueError, got %T", err)
	}
	if qe.Op != OpReceive {
		t.Errorf("expected op receive, got %s", qe.Op)
	}
	if !errors.Is(err, cause) {
		t.Error("expected QueueError to unwrap to cause")
	}
}

func TestExtendVisibility(t *testing.T) {
	api := &fakeAPI{}
	client := NewWithAPI(api, Config{}, zap.NewNop())

	if err := client.ExtendVisibility(context.Background(), testQueue, "rh-1", 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.extended) != 1 || api.extended[0].VisibilityTimeout != 60 {
		t.Fatalf("expected one extend with 60s, got %+v", api.extended)
	}

	// No receipt handle, nothing to extend.
	if err := client.ExtendVisibility(context.Background(), testQueue, "", 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.extended) != 1 {
		t.Fatalf("expected empty receipt handle to be skipped, got %d calls", len(api.extended))
	}
}

func TestExtendVisibility_Error(t *testing.T) {
	api := &fakeAPI{extendErr: errors.New("boom")}
	client := NewWithAPI(api, Config{}, zap.NewNop())

	err := client.ExtendVisibility(context.Background(), testQueue, "rh-1", 60)
	var qe *QueueError
	if !errors.As(err, &qe) || qe.Op != OpExtend {
		t.Fatalf("expected extend QueueError, got %v", err)
	}
}

func TestDelete_NotFoundIsBenign(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"receipt handle invalid", &types.ReceiptHandleIsInvalid{Message: aws.String("gone")}},
		{"message not inflight", &types.MessageNotInflight{Message: aws.String("gone")}},
		{"legacy error code", &smithy.GenericAPIError{Code: "AWS.SimpleQueueService.MessageNotInflight"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{deleteErr: tt.err}
			client := NewWithAPI(api, Config{}, zap.NewNop())

			if err := client.Delete(context.Background(), testQueue, "rh-1"); err != nil {
				t.Fatalf("expected not-found delete to be benign, got %v", err)
			}
		})
	}
}

func TestDelete_Twice(t *testing.T) {
	api := &fakeAPI{}
	client := NewWithAPI(api, Config{}, zap.NewNop())
	ctx := context.Background()

	if err := client.Delete(ctx, testQueue, "rh-1"); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}

	api.mu.Lock()
	api.deleteErr = &types.ReceiptHandleIsInvalid{Message: aws.String("already deleted")}
	api.mu.Unlock()

	if err := client.Delete(ctx, testQueue, "rh-1"); err != nil {
		t.Fatalf("expected second delete to be benign, got %v", err)
	}
}

func TestDelete_ProviderError(t *testing.T) {
	api := &fakeAPI{deleteErr: &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}}
	client := NewWithAPI(api, Config{}, zap.NewNop())

	err := client.Delete(context.Background(), testQueue, "rh-1")
	var qe *QueueError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueueError, got %v", err)
	}
	if qe.Op != OpDelete {
		t.Errorf("expected op delete, got %s", qe.Op)
	}
	if !qe.Temporary() {
		t.Error("expected server fault to be temporary")
	}
}

func TestQueueError_Temporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server fault", &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, true},
		{"throttled", &smithy.GenericAPIError{Code: "RequestThrottled", Fault: smithy.FaultClient}, true},
		{"client fault", &smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"network", errors.New("dial tcp: i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qe := &QueueError{Op: OpReceive, QueueURL: testQueue, Err: tt.err}
			if got := qe.Temporary(); got != tt.want {
				t.Errorf("expected temporary=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestPoll_RetriesAfterReceiveError(t *testing.T) {
	api := &fakeAPI{responses: []receiveResponse{
		{err: errors.New("service unavailable")},
		{messages: []types.Message{sqsMessage("m1", `{"uid":"u"}`)}},
	}}
	client := NewWithAPI(api, Config{RetryBackoff: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Message, 1)
	done := make(chan struct{})
	go func() {
		client.Poll(ctx, testQueue, out)
		close(done)
	}()

	select {
	case msg := <-out:
		if msg.ID != "m1" {
			t.Fatalf("expected m1, got %s", msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message after receive error")
	}

	if api.receiveCount() < 2 {
		t.Fatalf("expected poll to retry, got %d receives", api.receiveCount())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll did not stop after cancel")
	}
}

func TestPoll_BacksOff(t *testing.T) {
	api := &fakeAPI{responses: []receiveResponse{
		{err: errors.New("boom")},
		{err: errors.New("boom")},
	}}
	client := NewWithAPI(api, Config{RetryBackoff: 200 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client.Poll(ctx, testQueue, make(chan Message))

	// Within the first backoff window only the first receive may have happened.
	if got := api.receiveCount(); got != 1 {
		t.Fatalf("expected 1 receive during backoff, got %d", got)
	}
}

func TestPoll_IdleDelayForShortPolls(t *testing.T) {
	api := &fakeAPI{}
	client := NewWithAPI(api, Config{WaitTimeSeconds: 0, IdleDelay: 100 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	client.Poll(ctx, testQueue, make(chan Message))

	// Without the delay the fake would be hit every 5ms, about 50 times.
	if got := api.receiveCount(); got > 4 {
		t.Fatalf("expected at most 4 receives of an empty queue, got %d", got)
	}
}

func TestQueueName(t *testing.T) {
	tests := map[string]string{
		testQueue:                     "reminders",
		"https://sqs/acct/queue-two/": "queue-two",
		"local":                       "local",
	}
	for in, want := range tests {
		if got := QueueName(in); got != want {
			t.Errorf("QueueName(%q): expected %q, got %q", in, want, got)
		}
	}
}
