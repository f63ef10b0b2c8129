// Package reminder decodes verification reminder messages and dispatches
// the matching reminder email.
package reminder

import "time"

// Type selects which reminder in the sequence is being sent.
type Type string

const (
	TypeFirst  Type = "first"
	TypeSecond Type = "second"
)

// Message is a decoded reminder queue entry.
type Message struct {
	UID            string
	Email          string
	Code           string
	AcceptLanguage string

	// Type is the raw "type" value from the payload. Anything other than
	// "second" is treated as the first reminder.
	Type Type

	// CreatedAt is zero when the producer did not stamp the message.
	CreatedAt time.Time
}

// Resolved maps the raw type onto the two known reminders.
func (t Type) Resolved() Type {
	if t == TypeSecond {
		return TypeSecond
	}
	return TypeFirst
}
