package types

import (
	"encoding/json"
	"time"
)

// SessionRecord is the durable, on-disk representation of one conversation
// session. Its JSON shape is a compatibility contract for resume and export:
// one file per session, embedding the full message and tool-call history.
//
// This is deliberately a flatter shape than Session/Message/Part above
// (which mirror the SDK-compatible fragmented storage the rest of this
// package still serves); SessionRecord is what the conversation runtime
// appends to and what the session store persists atomically.
type SessionRecord struct {
	SessionID    string           `json:"sessionId"`
	StartTime    time.Time        `json:"startTime"`
	LastActivity time.Time        `json:"lastActivity"`
	Model        string           `json:"model"`
	Provider     string           `json:"provider"`
	Messages     []MessageRecord  `json:"messages"`
	ToolCalls    []ToolCallRecord `json:"toolCalls"`
	Metadata     SessionMetadata  `json:"metadata"`

	// Title, directory and parent linkage are carried over from the
	// richer session model the rest of the tree uses (pkg/types.Session);
	// resume/export does not depend on them so they are optional.
	Title     string  `json:"title,omitempty"`
	Directory string  `json:"directory,omitempty"`
	ParentID  *string `json:"parentId,omitempty"`
}

// MessageRole enumerates the roles a message may have.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// MessageRecord is one message in a session's history.
type MessageRecord struct {
	Role      MessageRole  `json:"role"`
	Parts     []PartRecord `json:"parts"`
	Timestamp time.Time    `json:"timestamp"`
}

// PartKind enumerates the kinds of content a message part may carry.
type PartKind string

const (
	PartText       PartKind = "text"
	PartImage      PartKind = "image"
	PartToolResult PartKind = "tool_result"
)

// PartRecord is one part of a message. Exactly one of the kind-specific
// fields is populated, selected by Type.
type PartRecord struct {
	Type PartKind `json:"type"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartImage
	Data string `json:"data,omitempty"` // base64
	Mime string `json:"mime,omitempty"`

	// PartToolResult
	ToolCallID string `json:"tool_call_id,omitempty"`
	Content    string `json:"content,omitempty"`
}

// TextPartRecord builds a text part.
func TextPartRecord(text string) PartRecord {
	return PartRecord{Type: PartText, Text: text}
}

// ImagePartRecord builds an image part.
func ImagePartRecord(data, mime string) PartRecord {
	return PartRecord{Type: PartImage, Data: data, Mime: mime}
}

// ToolResultPartRecord builds a tool-result part.
func ToolResultPartRecord(toolCallID, content string) PartRecord {
	return PartRecord{Type: PartToolResult, ToolCallID: toolCallID, Content: content}
}

// ToolCallStatus enumerates the terminal status of a recorded tool call.
type ToolCallStatus string

const (
	ToolCallOK    ToolCallStatus = "ok"
	ToolCallError ToolCallStatus = "error"
)

// ToolCallOutcome is the result payload of a tool call, as fed back to the
// model and recorded for the human.
type ToolCallOutcome struct {
	LLMContent    string `json:"llmContent"`
	ReturnDisplay string `json:"returnDisplay,omitempty"`
}

// ToolCallRecord is one tool invocation and its outcome.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Result    ToolCallOutcome `json:"result"`
	Status    ToolCallStatus  `json:"status"`
	ErrorKind string          `json:"errorKind,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionMetadata tracks cumulative, derived facts about a session.
type SessionMetadata struct {
	TokenCount       int `json:"tokenCount"`
	CompressionCount int `json:"compressionCount"`
}

// SessionSummaryRecord is the lightweight listing shape returned by
// Store.List: enough to render a picker without parsing every file.
type SessionSummaryRecord struct {
	SessionID    string    `json:"sessionId"`
	StartTime    time.Time `json:"startTime"`
	LastActivity time.Time `json:"lastActivity"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"messageCount"`
	TokenCount   int       `json:"tokenCount"`
}
