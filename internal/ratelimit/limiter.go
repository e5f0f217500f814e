package ratelimit

import (
	"context"
	"strings"
)

// ScopeEmail is the scope shared by every call to the email service.
const ScopeEmail = "email"

// RateLimiter controls send throughput per scope.
//
// A scope is a base name optionally followed by ":" and a recipient domain,
// for example "email:example.com". Implementations that track domains charge
// both the base window and the domain window.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

// RecipientScope returns the email scope narrowed to the domain of recipient.
// Recipients without a domain fall back to ScopeEmail.
func RecipientScope(recipient string) string {
	at := strings.LastIndex(recipient, "@")
	if at < 0 {
		return ScopeEmail
	}
	domain := strings.ToLower(strings.TrimSpace(recipient[at+1:]))
	if domain == "" {
		return ScopeEmail
	}
	return ScopeEmail + ":" + domain
}

// SplitScope separates a scope into its base name and recipient domain.
func SplitScope(scope string) (base, domain string) {
	scope = strings.ToLower(strings.TrimSpace(scope))
	base, domain, _ = strings.Cut(scope, ":")
	return strings.TrimSpace(base), strings.TrimSpace(domain)
}

// Unlimited admits every call. It is used when no rate limit is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
