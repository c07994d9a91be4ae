package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackzampolin/novella/internal/providers"
)

// Kind classifies a failure. Callers branch on Kind only.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate-limit"
	KindTransient Kind = "transient"
	KindCancelled Kind = "cancelled"
)

// Error is a classified analysis failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, KindTransient when it was never
// classified and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

var (
	authStatuses      = []string{"UNAUTHENTICATED", "PERMISSION_DENIED"}
	authPhrases       = []string{"api key not valid", "api_key_invalid", "invalid api key", "invalid_api_key", "incorrect api key", "permission denied"}
	rateLimitStatuses = []string{"RESOURCE_EXHAUSTED", "RATE_LIMIT_EXCEEDED"}
	rateLimitPhrases  = []string{"resource_exhausted", "rate limit", "rate_limit", "too many requests", "quota"}
)

// Classify maps a raw provider error to an *Error. ctx is the context the
// call ran under; its cancellation wins over whatever the transport reported.
func Classify(ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if ctx != nil && ctx.Err() != nil {
		return &Error{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}

	if apiErr, ok := providers.AsAPIError(err); ok {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return &Error{Kind: KindAuth, Message: "credential rejected", Err: err}
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimit, Message: "provider throttled the request", Err: err}
		case containsFold(authStatuses, apiErr.Status):
			return &Error{Kind: KindAuth, Message: "credential rejected", Err: err}
		case containsFold(rateLimitStatuses, apiErr.Status):
			return &Error{Kind: KindRateLimit, Message: "provider throttled the request", Err: err}
		}
		// Gemini reports a bad key as 400 INVALID_ARGUMENT with a telling message.
		if hasPhrase(apiErr.Message, authPhrases) {
			return &Error{Kind: KindAuth, Message: "credential rejected", Err: err}
		}
		if hasPhrase(apiErr.Message, rateLimitPhrases) {
			return &Error{Kind: KindRateLimit, Message: "provider throttled the request", Err: err}
		}
		return &Error{Kind: KindTransient, Err: err}
	}

	msg := err.Error()
	switch {
	case hasPhrase(msg, authPhrases):
		return &Error{Kind: KindAuth, Message: "credential rejected", Err: err}
	case hasPhrase(msg, rateLimitPhrases) || strings.Contains(msg, "429"):
		return &Error{Kind: KindRateLimit, Message: "provider throttled the request", Err: err}
	}
	return &Error{Kind: KindTransient, Err: err}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func hasPhrase(s string, phrases []string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
