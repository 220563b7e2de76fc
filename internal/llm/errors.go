package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category classifies an AI-service failure by condition, not exception type.
type Category string

const (
	CategoryRateLimited       Category = "rate_limited"
	CategoryNetwork           Category = "network"
	CategoryAuth              Category = "authentication"
	CategoryQuota             Category = "quota_exceeded"
	CategoryServerUnavailable Category = "server_unavailable"
	CategoryStreamCleanup     Category = "stream_cleanup_success"
	CategoryCancelled         Category = "cancelled_by_user"
	CategoryUnknown           Category = "unknown"
)

// StatusError attaches an HTTP status code to an upstream failure so
// categorization can inspect it alongside the message text.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Message)
}

// CategorizedError is the classification result for one failure.
type CategorizedError struct {
	Category   Category
	Message    string
	Retryable  bool
	Suggestion string
}

// Categorize inspects an error's message text for known substrings and any
// attached status code, and returns its category. The stream-cleanup
// sentinel and context cancellation are not real errors and categorize to
// their own non-error conditions.
func Categorize(err error) CategorizedError {
	if err == nil {
		return CategorizedError{Category: CategoryUnknown}
	}

	if errors.Is(err, ErrStreamClosedOK) {
		return CategorizedError{Category: CategoryStreamCleanup, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return CategorizedError{Category: CategoryCancelled, Message: err.Error()}
	}

	message := err.Error()
	lower := strings.ToLower(message)

	var statusErr *StatusError
	status := 0
	if errors.As(err, &statusErr) {
		status = statusErr.Code
	}

	switch {
	case status == 429,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "overloaded"),
		strings.Contains(lower, "high demand"):
		return CategorizedError{
			Category:   CategoryRateLimited,
			Message:    message,
			Retryable:  true,
			Suggestion: "The AI service is receiving too many requests. Please wait a moment before trying again.",
		}

	case status == 503,
		strings.Contains(lower, "503"),
		strings.Contains(lower, "upstream connect error"),
		strings.Contains(lower, "remote connection failure"),
		strings.Contains(lower, "service unavailable"):
		return CategorizedError{
			Category:   CategoryServerUnavailable,
			Message:    "AI service temporarily unavailable",
			Retryable:  true,
			Suggestion: "The AI service is temporarily down. Your messages are saved and can be retried in a few minutes.",
		}

	case status == 401, status == 403,
		strings.Contains(lower, "authentication"),
		strings.Contains(lower, "api key"),
		strings.Contains(lower, "unauthorized"):
		return CategorizedError{
			Category:   CategoryAuth,
			Message:    message,
			Retryable:  false,
			Suggestion: "Please check the AI service credentials in the configuration.",
		}

	case strings.Contains(lower, "quota"),
		strings.Contains(lower, "usage limit"),
		strings.Contains(lower, "billing"):
		return CategorizedError{
			Category:   CategoryQuota,
			Message:    message,
			Retryable:  false,
			Suggestion: "The AI service usage limit has been reached. Please try again later.",
		}

	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection"):
		return CategorizedError{
			Category:   CategoryNetwork,
			Message:    message,
			Retryable:  true,
			Suggestion: "Please check the network connection and try again.",
		}

	default:
		return CategorizedError{
			Category:  CategoryUnknown,
			Message:   message,
			Retryable: false,
		}
	}
}
