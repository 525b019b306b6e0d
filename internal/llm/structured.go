package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/reflector-media/reflector/pkg/provider/llm"
)

// StructuredRequest describes one structured LLM call.
type StructuredRequest struct {
	// SystemPrompt is the optional system instruction.
	SystemPrompt string

	// UserPrompt is the fully rendered user message.
	UserPrompt string

	// Temperature for the completion. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// Structured sends req and decodes the reply into T. When decoding or the
// validate callback fails, the model is re-prompted with the failure appended
// to the user message, up to the Coordinator's configured parse attempts.
// Network failures are retried inside the Coordinator's completion path and
// do not consume parse attempts.
//
// validate may be nil; any non-nil error it returns is treated like a parse
// failure and fed back to the model.
func Structured[T any](ctx context.Context, c *Coordinator, req StructuredRequest, validate func(*T) error) (*T, error) {
	forceJSON := c.provider.Capabilities().SupportsJSONMode

	var lastErr error
	for attempt := 0; attempt < c.parseAttempts; attempt++ {
		prompt := req.UserPrompt
		if lastErr != nil {
			prompt = req.UserPrompt +
				"\n\nYour previous reply could not be used: " + lastErr.Error() +
				"\nReply again with valid JSON only."
		}

		resp, err := c.complete(ctx, llm.CompletionRequest{
			Messages:     []llm.Message{{Role: "user", Content: prompt}},
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
			ForceJSON:    forceJSON,
		})
		if err != nil {
			return nil, err
		}

		raw := ExtractJSON(resp.Content)

		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			lastErr = describeJSONError(err)
			c.log.Warn("structured output parse failed",
				"attempt", attempt+1, "error", lastErr)
			continue
		}
		if validate != nil {
			if err := validate(&v); err != nil {
				lastErr = err
				c.log.Warn("structured output validation failed",
					"attempt", attempt+1, "error", err)
				continue
			}
		}
		return &v, nil
	}
	return nil, fmt.Errorf("llm: structured output failed after %d attempts: %w", c.parseAttempts, lastErr)
}

// describeJSONError rewrites a json decode error into a form the model can act
// on, including the byte position where decoding broke.
func describeJSONError(err error) error {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return fmt.Errorf("invalid JSON at position %d: %s", syn.Offset, syn.Error())
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		return fmt.Errorf("field %q has wrong type at position %d: expected %s", typ.Field, typ.Offset, typ.Type)
	}
	return err
}

// ExtractJSON pulls a JSON document out of free-form model output. It prefers
// a fenced code block (```json, ```js or a bare fence), then strips a trailing
// fence left by a truncated reply, then returns the text as-is.
func ExtractJSON(text string) string {
	for _, fence := range []string{"```json", "```js", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		body := text[start+len(fence):]
		if end := strings.Index(body, "```"); end >= 0 {
			return strings.TrimSpace(body[:end])
		}
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "```") {
		return strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}
	return trimmed
}
