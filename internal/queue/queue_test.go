package queue

import (
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
)

func TestQueueNames(t *testing.T) {
	names := QueueNames()
	if len(names) != 3 {
		t.Fatalf("QueueNames len = %d, want 3", len(names))
	}

	expected := map[string]struct{}{
		"notifications":       {},
		"notifications.dlq":   {},
		"notifications.delay": {},
	}

	for _, name := range names {
		if _, ok := expected[name]; !ok {
			t.Fatalf("unexpected queue name: %s", name)
		}
	}
}

func TestWorkQueueArgs(t *testing.T) {
	args := workQueueArgs(3)

	if args["x-queue-type"] != "quorum" {
		t.Fatalf("x-queue-type = %v, want quorum", args["x-queue-type"])
	}
	if args["x-delivery-limit"] != int32(3) {
		t.Fatalf("x-delivery-limit = %v, want 3", args["x-delivery-limit"])
	}
	if args["x-dead-letter-exchange"] != dlxExchangeName {
		t.Fatalf("x-dead-letter-exchange = %v, want %s", args["x-dead-letter-exchange"], dlxExchangeName)
	}

	delay := delayQueueArgs()
	if delay["x-dead-letter-routing-key"] != WorkQueue {
		t.Fatalf("delay queue routes to %v, want %s", delay["x-dead-letter-routing-key"], WorkQueue)
	}
}

func TestReceiveCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{name: "no headers", headers: nil, want: 1},
		{name: "explicit receive count", headers: amqp.Table{"x-receive-count": int32(4)}, want: 4},
		{name: "explicit wins over delivery count", headers: amqp.Table{"x-receive-count": int32(2), "x-delivery-count": int64(7)}, want: 2},
		{name: "quorum delivery count", headers: amqp.Table{"x-delivery-count": int64(2)}, want: 3},
		{name: "first quorum delivery", headers: amqp.Table{"x-delivery-count": int64(0)}, want: 1},
		{
			name: "x-death counts",
			headers: amqp.Table{"x-death": []any{
				amqp.Table{"count": int64(2), "queue": "notifications"},
				amqp.Table{"count": int64(1), "queue": "notifications.delay"},
			}},
			want: 3,
		},
		{name: "non-numeric header", headers: amqp.Table{"x-receive-count": "five"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReceiveCount(tt.headers); got != tt.want {
				t.Fatalf("ReceiveCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecordFromDelivery(t *testing.T) {
	r := recordFromDelivery(amqp.Delivery{DeliveryTag: 9, Body: []byte(`{}`)})
	if r.MessageID != "delivery-9" {
		t.Fatalf("MessageID = %q, want delivery-9", r.MessageID)
	}
	if r.ReceiveCount != 1 {
		t.Fatalf("ReceiveCount = %d, want 1", r.ReceiveCount)
	}

	r = recordFromDelivery(amqp.Delivery{MessageId: "m-1", Headers: amqp.Table{"x-delivery-count": int32(1)}})
	if r.MessageID != "m-1" || r.ReceiveCount != 2 {
		t.Fatalf("record = %+v, want m-1 received twice", r)
	}
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"WELCOME","data":{"email":"a@example.com","name":"Ana"}}`))
	if err != nil {
		t.Fatalf("ParseMessage() unexpected error: %v", err)
	}
	if msg.Type != "WELCOME" || msg.Recipient() != "a@example.com" {
		t.Fatalf("ParseMessage() = %+v", msg)
	}

	for _, body := range []string{`not-json`, `null`, `[1,2]`, `"WELCOME"`} {
		if _, err := ParseMessage([]byte(body)); !errors.Is(err, domain.ErrMalformedMessage) {
			t.Fatalf("ParseMessage(%s) error = %v, want ErrMalformedMessage", body, err)
		}
	}
}

func TestParseMessageWrongFieldTypes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantType  string
		wantEmail string
		wantValid bool
	}{
		{name: "data string", body: `{"type":"WELCOME","email":"ana@example.com","data":"x"}`, wantType: "WELCOME", wantEmail: "ana@example.com"},
		{name: "data array", body: `{"type":"WELCOME","email":"ana@example.com","data":[]}`, wantType: "WELCOME", wantEmail: "ana@example.com"},
		{name: "type number", body: `{"type":123,"email":"ana@example.com","data":{}}`, wantEmail: "ana@example.com"},
		{name: "optional field ignored", body: `{"type":"WELCOME","email":"ana@example.com","userId":7,"template":false,"data":{}}`, wantType: "WELCOME", wantEmail: "ana@example.com", wantValid: true},
		{name: "null fields", body: `{"type":"WELCOME","email":null,"data":{"email":"ana@example.com"},"errorInfo":null}`, wantType: "WELCOME", wantEmail: "ana@example.com", wantValid: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseMessage() unexpected error: %v", err)
			}
			if msg.Type != tt.wantType || msg.Recipient() != tt.wantEmail {
				t.Fatalf("ParseMessage() = %+v", msg)
			}

			err = msg.Validate()
			if tt.wantValid {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestParseMessageKeepsErrorInfo(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"WELCOME","data":[],"errorInfo":{"errorType":"RATE_LIMIT_ERROR","errorMessage":"slow down","failureId":"f-1","extra":1}}`))
	if err != nil {
		t.Fatalf("ParseMessage() unexpected error: %v", err)
	}
	if msg.ErrorInfo == nil {
		t.Fatal("ParseMessage() dropped errorInfo")
	}
	if got, want := msg.ErrorInfo.ErrorType, "RATE_LIMIT_ERROR"; got != want {
		t.Fatalf("ErrorInfo.ErrorType = %q, want %q", got, want)
	}
	if got, want := msg.ErrorInfo.FailureID, "f-1"; got != want {
		t.Fatalf("ErrorInfo.FailureID = %q, want %q", got, want)
	}

	msg, err = ParseMessage([]byte(`{"type":"WELCOME","data":{},"errorInfo":"boom"}`))
	if err != nil {
		t.Fatalf("ParseMessage() unexpected error: %v", err)
	}
	if msg.ErrorInfo != nil {
		t.Fatalf("ErrorInfo = %+v, want nil for a non-object", msg.ErrorInfo)
	}
}

func TestMessageRecipient(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{name: "top-level email first", msg: Message{Email: "a@x.io", UserEmail: "b@x.io", Data: map[string]any{"email": "c@x.io"}}, want: "a@x.io"},
		{name: "data email second", msg: Message{UserEmail: "b@x.io", Data: map[string]any{"email": "c@x.io"}}, want: "c@x.io"},
		{name: "user email third", msg: Message{UserEmail: "b@x.io", Data: map[string]any{"userEmail": "d@x.io"}}, want: "b@x.io"},
		{name: "data user email last", msg: Message{Data: map[string]any{"userEmail": "d@x.io"}}, want: "d@x.io"},
		{name: "non-string ignored", msg: Message{Data: map[string]any{"email": 42}}, want: ""},
		{name: "none", msg: Message{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Recipient(); got != tt.want {
				t.Fatalf("Recipient() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	msg := Message{Type: "WELCOME", Data: map[string]any{"email": "a@example.com"}}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Type = ""
	if err := msg.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty type, got %v", err)
	}

	msg.Type = "WELCOME"
	msg.Data = nil
	if err := msg.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing data, got %v", err)
	}

	msg.Data = map[string]any{"name": "Ana"}
	if err := msg.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing recipient, got %v", err)
	}
}

func TestMessageWithoutErrorInfo(t *testing.T) {
	msg := Message{Type: "WELCOME", ErrorInfo: &ErrorInfo{ErrorType: "RATE_LIMIT_ERROR"}}
	clean := msg.WithoutErrorInfo()
	if clean.ErrorInfo != nil {
		t.Fatal("WithoutErrorInfo() should drop errorInfo")
	}
	if msg.ErrorInfo == nil {
		t.Fatal("WithoutErrorInfo() must not mutate the receiver")
	}
}

func TestPublishingCarriesMessageMetadata(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &RabbitMQPublisher{now: func() time.Time { return fixed }}

	pub, err := p.publishing(Message{Type: "WELCOME", NotificationID: "n-1", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("publishing() unexpected error: %v", err)
	}
	if pub.MessageId != "n-1" || pub.Type != "WELCOME" {
		t.Fatalf("publishing metadata = %q/%q, want n-1/WELCOME", pub.MessageId, pub.Type)
	}
	if !pub.Timestamp.Equal(fixed) {
		t.Fatalf("Timestamp = %v, want %v", pub.Timestamp, fixed)
	}
	if pub.DeliveryMode != amqp.Persistent {
		t.Fatal("publishing should be persistent")
	}

	pub, err = p.publishing(Message{Type: "WELCOME"})
	if err != nil {
		t.Fatalf("publishing() unexpected error: %v", err)
	}
	if pub.MessageId == "" {
		t.Fatal("publishing should generate a message id when the notification id is empty")
	}
}
