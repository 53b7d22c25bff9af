package session

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/opencode/internal/provider"
)

const titleSystemPrompt = `You are a title generator. You output ONLY a thread title. Nothing else.

Generate a brief title that would help the user find this conversation later.

Rules:
- A single line, ≤50 characters
- No explanations
- Use -ing verbs for actions (Debugging, Implementing, Analyzing)
- Keep exact: technical terms, numbers, filenames
- Remove: the, this, my, a, an
- Always output something meaningful

Examples:
"debug 500 errors in production" → Debugging production 500 errors
"refactor user service" → Refactoring user service
"implement rate limiting" → Implementing rate limiting`

// DefaultTitlePrefix is the placeholder title a freshly created session
// carries until GenerateTitle replaces it.
const DefaultTitlePrefix = "New Session"

// IsDefaultTitle reports whether title is still the placeholder a session
// is created with, per SPEC_FULL Part D item 5 ("optional C1 convenience").
func IsDefaultTitle(title string) bool {
	return title == "" || title == DefaultTitlePrefix || strings.HasPrefix(title, DefaultTitlePrefix)
}

// GenerateTitle asks prov/model for a short title summarizing the first
// user message of a session. It is a pure function of its inputs — unlike
// the teacher's Processor.ensureTitle, it does not reach into session
// storage or publish events itself; the caller (cmd/ollm, after Store.Create)
// decides what to do with the result, since C1 has no notion of "the
// session this title belongs to" beyond the caller's own session id.
func GenerateTitle(ctx context.Context, prov provider.Provider, model, userContent string) (string, error) {
	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: model,
		Messages: []*schema.Message{
			{Role: schema.System, Content: titleSystemPrompt},
			{Role: schema.User, Content: "Generate a title for this conversation:\n\n" + userContent},
		},
		MaxTokens: 50,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var title strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		title.WriteString(msg.Content)
	}

	titleText := strings.TrimSpace(title.String())
	for _, line := range strings.Split(titleText, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			titleText = line
			break
		}
	}
	if len(titleText) > 100 {
		titleText = titleText[:97] + "..."
	}
	return titleText, nil
}
