package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	maxErrorBody    = 64 << 10
	maxErrorMessage = 300
)

// ErrNotConfigured is wrapped by every ConfigError.
var ErrNotConfigured = errors.New("provider not configured")

// ConfigError means no usable provider is active.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return ErrNotConfigured.Error()
	}
	return ErrNotConfigured.Error() + ": " + e.Reason
}

func (e *ConfigError) Unwrap() error { return ErrNotConfigured }

// ProviderError is a non-2xx answer from a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

var errorMessagePaths = []string{"error.message", "error", "message", "0.error.message"}

// errorFromResponse builds a ProviderError from a failed response, preferring
// a structured message from the body over the status line.
func errorFromResponse(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := ""
	if gjson.ValidBytes(body) {
		for _, path := range errorMessagePaths {
			if msg := strings.TrimSpace(stringAt(body, path)); msg != "" {
				message = msg
				break
			}
		}
	}
	if message == "" {
		message = resp.Status
	}
	if message == "" {
		message = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    truncate(message, maxErrorMessage),
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

type DiagnosisKind string

const (
	KindConfig       DiagnosisKind = "config"
	KindUnauthorized DiagnosisKind = "unauthorized"
	KindRateLimited  DiagnosisKind = "rate_limited"
	KindNetwork      DiagnosisKind = "network"
	KindUpstream     DiagnosisKind = "upstream"
)

// Diagnosis is the user-facing classification of a failed send.
type Diagnosis struct {
	Kind DiagnosisKind `json:"kind"`
	Hint string        `json:"hint"`
}

var hints = map[DiagnosisKind]string{
	KindConfig:       "Select a provider and store its API key, then reload the provider.",
	KindUnauthorized: "The provider rejected the credential. Check the stored API key.",
	KindRateLimited:  "The provider is rate limiting requests. Wait a moment and try again.",
	KindNetwork:      "The provider could not be reached. Check the network and the provider base URL.",
	KindUpstream:     "The provider returned an error. Try again or switch provider.",
}

// Diagnose classifies err for display. A nil error yields the zero Diagnosis.
func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	kind := classify(err)
	return Diagnosis{Kind: kind, Hint: hints[kind]}
}

func classify(err error) DiagnosisKind {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) || errors.Is(err, ErrNotConfigured) {
		return KindConfig
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindUnauthorized
		case http.StatusTooManyRequests:
			return KindRateLimited
		}
	}
	if kind, ok := classifyMessage(err.Error()); ok {
		return kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return KindNetwork
	}
	return KindUpstream
}

func classifyMessage(msg string) (DiagnosisKind, bool) {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "invalid x-api-key", "authentication", "permission denied", "api key not valid"):
		return KindUnauthorized, true
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "quota", "resource_exhausted", "overloaded"):
		return KindRateLimited, true
	case containsAny(msg, "connection refused", "no such host", "cors", "network is unreachable", "connection reset", "i/o timeout", "tls handshake"):
		return KindNetwork, true
	}
	return "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
