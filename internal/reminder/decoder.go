package reminder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Decode failure kinds. Callers treat both as poison messages.
var (
	ErrMalformed     = errors.New("malformed reminder payload")
	ErrMissingFields = errors.New("reminder payload missing required fields")
)

// requiredFields are checked in this order and reported in this order.
var requiredFields = []string{"uid", "email", "code", "acceptLanguage"}

// DecodeError describes why a payload was rejected. errors.Is matches it
// against ErrMalformed or ErrMissingFields.
type DecodeError struct {
	Kind    error
	Missing []string
	Err     error
}

func (e *DecodeError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%v: %s", e.Kind, strings.Join(e.Missing, ", "))
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *DecodeError) Is(target error) bool {
	return target == e.Kind
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Reason is a short label for metrics.
func (e *DecodeError) Reason() string {
	if e.Kind == ErrMissingFields {
		return "missing_fields"
	}
	return "malformed"
}

// Decoder turns a raw queue body into a Message.
type Decoder interface {
	Decode(body []byte) (*Message, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(body []byte) (*Message, error)

func (f DecoderFunc) Decode(body []byte) (*Message, error) {
	return f(body)
}

// JSONDecoder is the default decoder for reminder payloads.
var JSONDecoder Decoder = DecoderFunc(Decode)

// Decode parses a JSON reminder payload. Required fields that are absent,
// null or empty are reported as missing; values of the wrong JSON type
// make the payload malformed.
func Decode(body []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Kind: ErrMalformed, Err: errors.New("body is not a JSON object")}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &DecodeError{Kind: ErrMalformed, Err: err}
	}

	values := make(map[string]string, len(requiredFields))
	var missing []string
	for _, field := range requiredFields {
		v, ok := raw[field]
		if !ok || string(v) == "null" {
			missing = append(missing, field)
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, &DecodeError{Kind: ErrMalformed, Err: fmt.Errorf("field %s: %w", field, err)}
		}
		if s == "" {
			missing = append(missing, field)
			continue
		}
		values[field] = s
	}
	if len(missing) > 0 {
		return nil, &DecodeError{Kind: ErrMissingFields, Missing: missing}
	}

	msg := &Message{
		UID:            values["uid"],
		Email:          values["email"],
		Code:           values["code"],
		AcceptLanguage: values["acceptLanguage"],
	}

	// Optional fields never reject a payload.
	if v, ok := raw["type"]; ok {
		var t string
		if json.Unmarshal(v, &t) == nil {
			msg.Type = Type(t)
		}
	}
	if v, ok := raw["createdAt"]; ok {
		var ms int64
		if json.Unmarshal(v, &ms) == nil && ms > 0 {
			msg.CreatedAt = time.UnixMilli(ms)
		}
	}

	return msg, nil
}
