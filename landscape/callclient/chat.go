// Package callclient provides EXTERNAL_CALL adapters (LLM chat, HTTP) that
// funnel every request through the call recorder in landscape/replay, per
// spec §4.10: on LIVE runs the adapter records; on REPLAY it serves the
// recording instead of issuing the call; on VERIFY it issues the call and
// reports divergence from the recording.
package callclient

import "context"

// ChatModel is the common interface across LLM providers, letting the
// orchestrator swap Anthropic/OpenAI/Google adapters without caring which
// is wired in (spec §4.10's EXTERNAL_CALL determinism class covers all
// three uniformly).
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a chat conversation.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a chat completion's result: text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}
