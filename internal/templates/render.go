package templates

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DateLayout is how dates appear in rendered emails.
const DateLayout = "January 2, 2006 15:04 MST"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

var dateInputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Formatter prepares payload values for display.
type Formatter struct {
	printer  *message.Printer
	location *time.Location
}

// NewFormatter builds a Formatter for a BCP 47 locale (e.g. "es-CO") and a time zone.
func NewFormatter(locale string, location *time.Location) (*Formatter, error) {
	tag := language.English
	if trimmed := strings.TrimSpace(locale); trimmed != "" {
		parsed, err := language.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid template locale %q: %w", locale, err)
		}
		tag = parsed
	}
	if location == nil {
		location = time.UTC
	}

	return &Formatter{
		printer:  message.NewPrinter(tag),
		location: location,
	}, nil
}

// Location returns the time zone dates are rendered in.
func (f *Formatter) Location() *time.Location {
	return f.location
}

// FormatPayload returns a copy of payload with date, amount and cardId formatted.
// Values it cannot interpret are kept as they are.
func (f *Formatter) FormatPayload(payload map[string]any) map[string]any {
	formatted := make(map[string]any, len(payload))
	for k, v := range payload {
		formatted[k] = v
	}

	if raw, ok := formatted["date"]; ok {
		if t, ok := parseDate(raw); ok {
			formatted["date"] = t.In(f.location).Format(DateLayout)
		}
	}

	if raw, ok := formatted["amount"]; ok {
		if amount, ok := parseAmount(raw); ok {
			formatted["amount"] = f.printer.Sprint(number.Decimal(amount, number.MaxFractionDigits(2)))
		}
	}

	if cardID := scalarString(formatted["cardId"]); cardID != "" {
		if len(cardID) > 4 {
			cardID = cardID[len(cardID)-4:]
		}
		formatted["cardId"] = cardID
	}

	return formatted
}

// Render replaces {{ name }} placeholders in body with HTML-escaped scalar values.
// {{generatedAt}} is always the generation timestamp; {{date}} falls back to it when
// values has no date. Placeholders without a scalar value are left verbatim.
func (f *Formatter) Render(body string, values map[string]any, generatedAt time.Time) string {
	stamp := generatedAt.In(f.location).Format(DateLayout)

	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]

		switch name {
		case "generatedAt":
			return html.EscapeString(stamp)
		case "date":
			if v := scalarString(values["date"]); v != "" {
				return html.EscapeString(v)
			}
			return html.EscapeString(stamp)
		}

		v, ok := values[name]
		if !ok {
			return match
		}
		s := scalarString(v)
		if s == "" {
			if _, isString := v.(string); !isString {
				return match
			}
		}
		return html.EscapeString(s)
	})
}

func parseDate(v any) (time.Time, bool) {
	switch value := v.(type) {
	case time.Time:
		return value, true
	case string:
		trimmed := strings.TrimSpace(value)
		for _, layout := range dateInputLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t, true
			}
		}
		if ms, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
	case float64:
		return time.UnixMilli(int64(value)), true
	case int64:
		return time.UnixMilli(value), true
	case int:
		return time.UnixMilli(int64(value)), true
	case json.Number:
		if ms, err := value.Int64(); err == nil {
			return time.UnixMilli(ms), true
		}
	}
	return time.Time{}, false
}

func parseAmount(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case json.Number:
		f, err := value.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
