package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantBody  string
		wantLevel string
	}{
		{
			name:      "fiber error keeps message",
			err:       fiber.NewError(fiber.StatusBadRequest, "validation error: bad type"),
			wantCode:  fiber.StatusBadRequest,
			wantBody:  "validation error: bad type",
			wantLevel: "warn",
		},
		{
			name:      "plain error is hidden",
			err:       errors.New("pq: connection refused to 10.0.0.4"),
			wantCode:  fiber.StatusInternalServerError,
			wantBody:  internalErrorMessage,
			wantLevel: "error",
		},
		{
			name:      "fiber 503 logs as error",
			err:       fiber.NewError(fiber.StatusServiceUnavailable, "try later"),
			wantCode:  fiber.StatusServiceUnavailable,
			wantBody:  "try later",
			wantLevel: "error",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zap.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Get("/boom", func(c *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}

			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			var body map[string]string
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("decode body %q: %v", raw, err)
			}
			if body["error"] != tt.wantBody {
				t.Fatalf("error = %q, want %q", body["error"], tt.wantBody)
			}

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if got := entries[0].Level.String(); got != tt.wantLevel {
				t.Fatalf("log level = %s, want %s", got, tt.wantLevel)
			}
		})
	}
}
