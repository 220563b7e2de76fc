package orchestrator

import (
	"errors"

	"github.com/rfpez/rfpez/internal/llm"
)

// ErrTurnInFlight is returned when a session already has an active turn.
// Callers surface it as a conflict; the existing turn keeps running.
var ErrTurnInFlight = errors.New("a response is already in progress for this session")

const (
	cancelledNotice   = "Response cancelled."
	toolTimeoutNotice = "Tool execution took longer than expected and was abandoned. Any artifacts it created may still appear shortly."
	savedSuffix       = " Your message has been saved, so you can retry without retyping it."
)

// userMessage renders a categorized upstream failure as the text shown in
// the conversation. Categories map to conditions the user can act on, never
// to exception types.
func userMessage(ce llm.CategorizedError) string {
	var text string
	switch ce.Category {
	case llm.CategoryRateLimited:
		text = "The AI service is handling a high volume of requests right now. Please wait a moment and try again."
	case llm.CategoryServerUnavailable:
		text = "The AI service is temporarily unavailable. Please try again shortly."
	case llm.CategoryNetwork:
		text = "The connection to the AI service was interrupted. Check your network and try again."
	case llm.CategoryAuth:
		text = "The AI service rejected this deployment's credentials. Contact your administrator."
	case llm.CategoryQuota:
		text = "This workspace has reached its AI usage limit. Contact your administrator to raise it."
	default:
		text = "Something went wrong while generating a response."
	}
	if ce.Suggestion != "" {
		text += " " + ce.Suggestion
	}
	if ce.Retryable {
		text += savedSuffix
	}
	return text
}
