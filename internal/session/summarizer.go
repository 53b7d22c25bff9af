package session

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/opencode/internal/compact"
	"github.com/opencode-ai/opencode/internal/ollmerr"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/pkg/types"
)

// compactionSystemPrompt is the system role for the summarization call,
// grounded on compact.go's own compactionSystemPrompt constant (teacher's
// pre-existing compaction flow) but scoped down to the one instruction
// compact.SummaryPrompt doesn't already carry in its user-role text.
const compactionSystemPrompt = "You are a precise conversation summarizer for an AI coding assistant. Produce only the summary text, no preamble."

// ProviderSummarizer implements compact.Summarizer (C5) by asking a
// provider to summarize messages-to-compress, grounded on
// internal/session/compact.go's generateSummary/createSummary (system
// prompt + user prompt + single streamed completion) but driven through
// MessageRecord instead of types.Part, and without the session-storage,
// event-publishing side effects compact.go's version has — this is a pure
// provider call, the way compact.Summarizer's contract wants it.
type ProviderSummarizer struct {
	Provider provider.Provider
	Model    string
}

// Summarize renders the messages-to-compress into a flat transcript, asks
// the provider for a summary bounded by maxTokens, and returns the
// streamed text.
func (s *ProviderSummarizer) Summarize(ctx context.Context, messages []types.MessageRecord, maxTokens int) (string, error) {
	if s.Provider == nil {
		return "", ollmerr.Wrap(ollmerr.ProviderError, "no provider configured for summarization", nil)
	}

	transcript := renderTranscript(messages)
	prompt := compact.SummaryPrompt(maxTokens) + "\n\nConversation to summarize:\n\n" + transcript

	stream, err := s.Provider.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: s.Model,
		Messages: []*schema.Message{
			{Role: schema.System, Content: compactionSystemPrompt},
			{Role: schema.User, Content: prompt},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", ollmerr.Wrap(ollmerr.ProviderError, "create summarization completion", err)
	}
	defer stream.Close()

	var out strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", ollmerr.Wrap(ollmerr.ProviderError, "receive summarization chunk", err)
		}
		out.WriteString(msg.Content)
	}
	return strings.TrimSpace(out.String()), nil
}

// renderTranscript flattens message records into a role-tagged transcript
// suitable for a single user-role summarization prompt.
func renderTranscript(messages []types.MessageRecord) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		for _, p := range m.Parts {
			switch p.Type {
			case types.PartText:
				b.WriteString(p.Text)
			case types.PartToolResult:
				b.WriteString("[tool result] ")
				b.WriteString(p.Content)
			case types.PartImage:
				b.WriteString("[image]")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
