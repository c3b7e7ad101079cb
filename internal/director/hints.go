package director

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jwebster45206/storyloom/internal/generation"
	"github.com/jwebster45206/storyloom/pkg/tagstream"
)

// Hint turns a final generation error into a message for the reject entry.
func Hint(err error) string {
	var se *generation.HTTPStatusError
	if errors.As(err, &se) {
		return statusHint(se)
	}

	var ex *generation.ExhaustedError
	if errors.As(err, &ex) {
		reason := "no usable tags"
		var pe *tagstream.ParseError
		if errors.As(err, &pe) {
			reason = pe.Reason
		}
		return fmt.Sprintf("Could not read the model's reply after %d attempts (%s). Try generating again.", ex.ParseAttempts, reason)
	}

	if generation.IsNetworkError(err) {
		return "Could not reach the relay or the model provider. Check the connection and try again."
	}

	return "Generation failed: " + err.Error()
}

func statusHint(se *generation.HTTPStatusError) string {
	body := strings.ToLower(se.Body)
	switch {
	case se.Status == http.StatusUnauthorized:
		return "The model provider rejected the API key (401). Check the key in settings."
	case se.Status == http.StatusForbidden:
		return "The request was refused (403). Check that the base URL matches settings and the key has access."
	case se.Status == http.StatusTooManyRequests:
		return "Rate limited by the model provider (429). Wait a moment and try again."
	case strings.Contains(body, "context_length") || strings.Contains(body, "context length") || strings.Contains(body, "maximum context"):
		return "The story is too long for the model's context window. Lower the history limit or token budget."
	case strings.Contains(body, "moderation") || strings.Contains(body, "content_policy") || strings.Contains(body, "flagged"):
		return "The model provider's moderation rejected the request."
	case se.Status == http.StatusBadGateway:
		return "The relay could not reach the model provider (502)."
	case se.Status >= 500:
		return fmt.Sprintf("The model provider returned a server error (%d). Try again later.", se.Status)
	default:
		return fmt.Sprintf("The model request failed with status %d: %s", se.Status, se.Body)
	}
}
