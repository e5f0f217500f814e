package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultEmailTimeout = 10 * time.Second

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type emailResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
}

// HTTPEmailProvider sends email through a JSON HTTP email API.
type HTTPEmailProvider struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	from     string
}

func NewHTTPEmailProvider(endpoint, apiKey, from string) (*HTTPEmailProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultEmailTimeout)
	client.SetRetryCount(0)

	return NewHTTPEmailProviderWithClient(endpoint, apiKey, from, client)
}

func NewHTTPEmailProviderWithClient(endpoint, apiKey, from string, client *resty.Client) (*HTTPEmailProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("email api endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid email api endpoint: %w", err)
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultEmailTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPEmailProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
		from:     strings.TrimSpace(from),
	}, nil
}

func (p *HTTPEmailProvider) Send(ctx context.Context, email Email) (*SendResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(email.To) == "" {
		return nil, &ProviderError{Message: "recipient is required"}
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(emailRequest{
			From:    p.from,
			To:      email.To,
			Subject: email.Subject,
			HTML:    email.HTML,
		})
	if p.apiKey != "" {
		req.SetAuthToken(p.apiKey)
	}

	response, err := req.Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "email api request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "email api returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			StatusCode: statusCode,
			MessageID:  providerMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

// providerMessageID prefers the id in the JSON body and falls back to response headers.
func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	var body emailResponse
	if err := json.Unmarshal(response.Body(), &body); err == nil {
		if id := strings.TrimSpace(body.ID); id != "" {
			return id
		}
		if id := strings.TrimSpace(body.MessageID); id != "" {
			return id
		}
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
