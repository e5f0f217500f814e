package templates

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
)

// GenericSubject is used for kinds without a dedicated subject.
const GenericSubject = "Inferno Bank notification"

// Subject derives the email subject from kind and payload. It is pure and
// tolerates missing payload fields.
func Subject(kind domain.Kind, payload map[string]any) string {
	switch kind {
	case domain.KindWelcome:
		return "Welcome to Inferno Bank!"
	case domain.KindUserLogin:
		return "New sign-in to your account"
	case domain.KindUserUpdate:
		return "Account information updated"
	case domain.KindCardCreate:
		if cardType := scalarString(payload["type"]); cardType != "" {
			return fmt.Sprintf("New %s card created", cardType)
		}
		return "New card created"
	case domain.KindCardActivate:
		return "Card activated successfully"
	case domain.KindTransactionPurchase:
		return "Purchase made - $" + subjectAmount(payload)
	case domain.KindTransactionSave:
		return "Deposit received - $" + subjectAmount(payload)
	case domain.KindTransactionPaid:
		return "Payment processed - $" + subjectAmount(payload)
	case domain.KindReportActivity:
		return "Activity report available"
	default:
		return GenericSubject
	}
}

func subjectAmount(payload map[string]any) string {
	if amount := scalarString(payload["amount"]); amount != "" {
		return amount
	}
	return "0"
}

// scalarString renders strings, numbers and booleans; anything else yields "".
func scalarString(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	default:
		return ""
	}
}
