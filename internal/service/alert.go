package service

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
	"github.com/kursadbilgin/mail-dispatch/internal/provider"
)

var adminAlertTemplate = template.Must(template.New("admin-alert").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Critical notification failure</title></head>
<body style="font-family: Arial, sans-serif;">
  <h2 style="color: #c0392b;">Critical notification failure</h2>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td><b>Failure ID</b></td><td>{{.ID}}</td></tr>
    <tr><td><b>Category</b></td><td>{{.Category}}</td></tr>
    <tr><td><b>Error type</b></td><td>{{.ErrorType}}</td></tr>
    <tr><td><b>Message</b></td><td>{{.ErrorMessage}}</td></tr>
    <tr><td><b>Kind</b></td><td>{{.Kind}}</td></tr>
    <tr><td><b>Recipient</b></td><td>{{.Recipient}}</td></tr>
    <tr><td><b>Attempts</b></td><td>{{.Attempts}}</td></tr>
    <tr><td><b>Resolution</b></td><td>{{.ResolutionAction}} (resolved: {{.Resolved}})</td></tr>
    <tr><td><b>Detected</b></td><td>{{.Detected}}</td></tr>
  </table>
  {{if .ErrorDetail}}<pre style="background: #f4f4f4; padding: 10px;">{{.ErrorDetail}}</pre>{{end}}
</body>
</html>
`))

type adminAlertView struct {
	*domain.FailureRecord
	Detected string
}

func adminAlert(to string, failure *domain.FailureRecord, now time.Time) (provider.Email, error) {
	var body bytes.Buffer
	view := adminAlertView{FailureRecord: failure, Detected: now.UTC().Format(time.RFC3339)}
	if err := adminAlertTemplate.Execute(&body, view); err != nil {
		return provider.Email{}, fmt.Errorf("failed to render admin alert: %w", err)
	}

	return provider.Email{
		To:      to,
		Subject: fmt.Sprintf("[CRITICAL] Notification failure: %s", failure.Category),
		HTML:    body.String(),
	}, nil
}
