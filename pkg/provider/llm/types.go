package llm

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// ModelCapabilities describes what an LLM model supports.
// The values are static per model and used for context-budget planning.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output combined.
	ContextWindow int

	// MaxOutputTokens is the maximum number of tokens the model may generate
	// in a single completion.
	MaxOutputTokens int

	// SupportsJSONMode reports whether the model can be constrained to emit
	// syntactically valid JSON. When false, callers must parse fenced or
	// free-form JSON out of the completion text themselves.
	SupportsJSONMode bool
}
