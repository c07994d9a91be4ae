package providers

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from provider")

// APIError is a provider failure normalized across SDKs.
// StatusCode is the HTTP status (0 when unknown); Status carries the
// provider's symbolic code such as RESOURCE_EXHAUSTED.
type APIError struct {
	Provider   string
	StatusCode int
	Status     string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d", e.StatusCode)
		if e.Status != "" {
			b.WriteString(" " + e.Status)
		}
		b.WriteString(")")
	} else if e.Status != "" {
		b.WriteString(" (" + e.Status + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// AsAPIError extracts an *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// retryDelayPattern matches Gemini's "Please retry in 45.3s" hint and the
// retryDelay field of RetryInfo details.
var retryDelayPattern = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[":\s]+)(\d+(?:\.\d+)?)\s*s`)

// extractRetryDelay pulls a server-suggested delay out of an error message.
func extractRetryDelay(message string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(message)
	if len(m) < 2 {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
