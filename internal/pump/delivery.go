package pump

import (
	"sync/atomic"

	"github.com/lalithlochan/nimbus-remind/internal/sqs"
)

type ackState int32

const (
	ackPending ackState = iota
	ackAcked
)

// delivery is the pump's bookkeeping for one received message while it is
// in flight.
type delivery struct {
	sqs.Message
	leaseToken string
	state      atomic.Int32
}

func newDelivery(msg sqs.Message) *delivery {
	return &delivery{Message: msg}
}

// markAcked moves the delivery from pending to acked. It reports false if
// the delivery was already acked.
func (d *delivery) markAcked() bool {
	return d.state.CompareAndSwap(int32(ackPending), int32(ackAcked))
}
