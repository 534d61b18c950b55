package llm

import "encoding/json"

// Turn is one entry in the ordered conversation sequence sent to the
// completion API. Insertion order is conversation order.
type Turn struct {
	Role       string     `json:"role"` // system, user, assistant, or tool
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`

	// Opaque provider fields carried back verbatim on assistant turns.
	// Some providers refuse the following tool-result turns without them.
	Reasoning        json.RawMessage `json:"reasoning,omitempty"`
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
}

// ToolCall is a model-issued request to call a named function with JSON
// arguments.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatRequest is the caller-facing request contract.
type ChatRequest struct {
	ModelID        string            `json:"model_id"`
	ImageModelID   string            `json:"image_model_id,omitempty"`
	Messages       []IncomingMessage `json:"messages"`
	ConversationID int64             `json:"conversation_id,omitempty"`
}

// IncomingMessage is a caller-supplied conversation turn. Caller-provided
// system turns are discarded in favor of the generated system prompt.
type IncomingMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResult is the caller-facing response contract.
type ChatResult struct {
	Content        string `json:"content"`
	SpeechContent  string `json:"speech_content"`
	ConversationID int64  `json:"conversation_id"`
}
