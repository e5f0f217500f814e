package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
)

// GenericTemplate is the Message.Template value that forces the generic built-in template.
const GenericTemplate = "generic"

// Message is the wire payload shared by the dispatch and resolution pipelines.
type Message struct {
	Type           string         `json:"type"`
	Email          string         `json:"email,omitempty"`
	UserEmail      string         `json:"userEmail,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	NotificationID string         `json:"notificationId,omitempty"`
	Template       string         `json:"template,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	ErrorInfo      *ErrorInfo     `json:"errorInfo,omitempty"`

	// fieldErrors lists fields ParseMessage dropped because of their JSON type.
	fieldErrors []string
}

// ErrorInfo is attached by the dispatch pipeline when it hands a message to the dead-letter queue.
// FailureID points at the FailureRecord already written for the failure, if any.
type ErrorInfo struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
	ErrorStack   string `json:"errorStack,omitempty"`
	FailureID    string `json:"failureId,omitempty"`
}

// ParseMessage decodes a queue body. Only a body that is not a JSON object wraps
// domain.ErrMalformedMessage. Fields of the wrong type are dropped one by one:
// a non-string type or a non-object data is reported by Validate, other fields
// are ignored.
func ParseMessage(body []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("%w: body is not a JSON object", domain.ErrMalformedMessage)
	}

	var msg Message
	var ok bool
	if msg.Type, ok = rawString(fields, "type"); !ok {
		msg.fieldErrors = append(msg.fieldErrors, "type must be a string")
	}
	msg.Email, _ = rawString(fields, "email")
	msg.UserEmail, _ = rawString(fields, "userEmail")
	msg.UserID, _ = rawString(fields, "userId")
	msg.NotificationID, _ = rawString(fields, "notificationId")
	msg.Template, _ = rawString(fields, "template")

	if raw, present := fields["data"]; present && !isJSONNull(raw) {
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			msg.fieldErrors = append(msg.fieldErrors, "data must be an object")
		} else {
			msg.Data = data
		}
	}

	msg.ErrorInfo = rawErrorInfo(fields["errorInfo"])
	return msg, nil
}

// rawString reads fields[key] as a string. ok is false only when the key is
// present with a non-null, non-string value.
func rawString(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, present := fields[key]
	if !present || isJSONNull(raw) {
		return "", true
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

func rawErrorInfo(raw json.RawMessage) *ErrorInfo {
	if len(raw) == 0 || isJSONNull(raw) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil
	}

	info := &ErrorInfo{}
	info.ErrorType, _ = rawString(fields, "errorType")
	info.ErrorMessage, _ = rawString(fields, "errorMessage")
	info.ErrorStack, _ = rawString(fields, "errorStack")
	info.FailureID, _ = rawString(fields, "failureId")
	return info
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// Recipient resolves the destination address: email, data.email, userEmail,
// data.userEmail, in that order. It returns "" when none is present.
func (m Message) Recipient() string {
	if v := strings.TrimSpace(m.Email); v != "" {
		return v
	}
	if v := dataString(m.Data, "email"); v != "" {
		return v
	}
	if v := strings.TrimSpace(m.UserEmail); v != "" {
		return v
	}
	return dataString(m.Data, "userEmail")
}

// UserIdentifier returns an identifier that could be used to look the recipient up.
func (m Message) UserIdentifier() string {
	if v := strings.TrimSpace(m.UserID); v != "" {
		return v
	}
	return dataString(m.Data, "userId")
}

// Validate checks the fields the dispatch pipeline cannot proceed without.
func (m Message) Validate() error {
	if len(m.fieldErrors) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(m.fieldErrors, "; "))
	}
	if strings.TrimSpace(m.Type) == "" {
		return fmt.Errorf("%w: message must have a type field", domain.ErrValidation)
	}
	if m.Data == nil {
		return fmt.Errorf("%w: message must have a data object", domain.ErrValidation)
	}
	if m.Recipient() == "" {
		return fmt.Errorf("%w: message must include an email address", domain.ErrValidation)
	}
	return nil
}

// WithoutErrorInfo returns a copy suitable for re-entering the work queue.
func (m Message) WithoutErrorInfo() Message {
	m.ErrorInfo = nil
	return m
}

func dataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, ok := data[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Record is one delivery handed to a batch handler.
type Record struct {
	MessageID    string
	Body         []byte
	ReceiveCount int
}

// Disposition tells the consumer what to do with a delivery once its batch is handled.
type Disposition int

const (
	// Ack removes the delivery from the queue.
	Ack Disposition = iota
	// Requeue returns the delivery to its queue for another attempt.
	Requeue
	// Reject dead-letters the delivery without requeueing it.
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}
