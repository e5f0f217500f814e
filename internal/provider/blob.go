package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBlobTimeout = 5 * time.Second

// HTTPBlobStore reads objects from an HTTP object store laid out as {base}/{container}/{name}.
type HTTPBlobStore struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPBlobStore(baseURL string) (*HTTPBlobStore, error) {
	client := resty.New()
	client.SetTimeout(defaultBlobTimeout)
	client.SetRetryCount(0)

	return NewHTTPBlobStoreWithClient(baseURL, client)
}

func NewHTTPBlobStoreWithClient(baseURL string, client *resty.Client) (*HTTPBlobStore, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("blob store url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid blob store url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultBlobTimeout)
	}

	return &HTTPBlobStore{client: client, baseURL: trimmed}, nil
}

func (s *HTTPBlobStore) Get(ctx context.Context, container, name string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("blob store is not initialized")
	}
	if strings.TrimSpace(container) == "" || strings.TrimSpace(name) == "" {
		return nil, &ProviderError{Message: "container and object name are required"}
	}

	objectURL := s.baseURL + "/" + url.PathEscape(container) + "/" + url.PathEscape(name)

	response, err := s.client.R().
		SetContext(ctx).
		Get(objectURL)
	if err != nil {
		return nil, &ProviderError{
			Message:   "blob store request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode != http.StatusOK {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    providerErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	return response.Body(), nil
}
