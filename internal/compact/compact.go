// Package compact implements C5, the compression pipeline: truncate /
// summarize / hybrid strategies over an active message window, guarded
// against inflation, grounded on internal/session/compact.go's
// compactMessages/estimateTokens/buildSummaryPrompt but rewritten against
// pkg/types.MessageRecord (spec's three-part message model) instead of the
// teacher's polymorphic Part interface.
package compact

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencode-ai/opencode/internal/retry"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Strategy selects how the pipeline reduces a window.
type Strategy string

const (
	Truncate  Strategy = "truncate"
	Summarize Strategy = "summarize"
	Hybrid    Strategy = "hybrid"
)

// Config parameterizes one compression run.
type Config struct {
	Strategy       Strategy
	PreserveRecent int // token budget whose suffix is never rewritten
	SummaryMaxTokens int
	TargetTokens   int
}

// DefaultConfig mirrors the teacher's compact.go defaults, generalized:
// the preserve-recent budget is a fixed 800 tokens in place of the
// teacher's MinMessagesToKeep(4); SummaryMaxTokens=2000 and a
// 0.75-of-max target carry over directly.
func DefaultConfig(maxTokens int) Config {
	return Config{
		Strategy:         Hybrid,
		PreserveRecent:   800,
		SummaryMaxTokens: 2000,
		TargetTokens:     maxTokens * 3 / 4,
	}
}

// TokenCounter estimates the token cost of a message. The default is the
// teacher's len/4 heuristic; providers may supply an exact counter (spec
// §4.4: "a provider may supply an exact counter").
type TokenCounter func(types.MessageRecord) int

// DefaultTokenCounter implements the ~4-chars-per-token heuristic plus a
// small fixed per-part overhead, matching internal/session/compact.go's
// estimateTokens (len(text)/4) generalized across part kinds.
func DefaultTokenCounter(m types.MessageRecord) int {
	total := 0
	for _, p := range m.Parts {
		switch p.Type {
		case types.PartText:
			total += len(p.Text)/4 + 4
		case types.PartToolResult:
			total += len(p.Content)/4 + 4
		case types.PartImage:
			total += 256 // flat estimate; exact counters should override this
		}
	}
	return total
}

func countAll(messages []types.MessageRecord, count TokenCounter) int {
	total := 0
	for _, m := range messages {
		total += count(m)
	}
	return total
}

// Summarizer produces a bounded self-contained summary of a set of
// messages, calling out to the provider. Implementations should retry
// through internal/retry the way the teacher's processCompaction does.
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.MessageRecord, maxTokens int) (string, error)
}

// Result is what Compress returns: either a new window, or a signal that
// compressing would have inflated the context (spec §4.5's inflation
// guard), in which case NewWindow is nil and the caller decides escalation.
type Result struct {
	Inflated        bool
	OriginalTokens  int
	CandidateTokens int
	NewWindow       []types.MessageRecord
	UsedFallback    bool // summarize/hybrid fell back to truncate
}

// Compress runs one compression pass. messages[0] must be the system
// message; it is never touched. summarizer may be nil, which forces
// Truncate regardless of cfg.Strategy.
func Compress(ctx context.Context, messages []types.MessageRecord, cfg Config, count TokenCounter, summarizer Summarizer) (Result, error) {
	if count == nil {
		count = DefaultTokenCounter
	}
	if len(messages) == 0 {
		return Result{NewWindow: messages}, nil
	}

	original := countAll(messages, count)

	strategy := cfg.Strategy
	if summarizer == nil {
		strategy = Truncate
	}

	var candidate []types.MessageRecord
	var usedFallback bool
	var err error

	switch strategy {
	case Truncate:
		candidate = truncate(messages, cfg, count)
	case Summarize:
		candidate, usedFallback, err = summarize(ctx, messages, cfg, count, summarizer)
		if err != nil {
			return Result{}, fmt.Errorf("compact: summarize: %w", err)
		}
	case Hybrid:
		candidate, usedFallback, err = hybrid(ctx, messages, cfg, count, summarizer)
		if err != nil {
			return Result{}, fmt.Errorf("compact: hybrid: %w", err)
		}
	default:
		candidate = truncate(messages, cfg, count)
	}

	candidateTokens := countAll(candidate, count)
	if candidateTokens >= original {
		return Result{
			Inflated:        true,
			OriginalTokens:  original,
			CandidateTokens: candidateTokens,
		}, nil
	}

	return Result{
		OriginalTokens:  original,
		CandidateTokens: candidateTokens,
		NewWindow:       candidate,
		UsedFallback:    usedFallback,
	}, nil
}

// preservedTail returns the suffix of messages (after the system message)
// whose cumulative tokens are >= cfg.PreserveRecent, never splitting a
// message. It always includes at least the last message, if any exist
// beyond the system message.
func preservedTail(messages []types.MessageRecord, cfg Config, count TokenCounter) []types.MessageRecord {
	if len(messages) <= 1 {
		return nil
	}
	body := messages[1:]
	tokens := 0
	start := len(body)
	for start > 0 {
		tokens += count(body[start-1])
		start--
		if tokens >= cfg.PreserveRecent {
			break
		}
	}
	return body[start:]
}

func truncate(messages []types.MessageRecord, cfg Config, count TokenCounter) []types.MessageRecord {
	system := messages[0]
	tail := preservedTail(messages, cfg, count)

	out := []types.MessageRecord{system}
	tailTokens := countAll(tail, count)
	budget := cfg.TargetTokens - count(system) - tailTokens

	// Walk the middle (between system and tail) from newest to oldest,
	// keeping whole messages while they fit the remaining budget.
	middleEnd := len(messages) - len(tail)
	var kept []types.MessageRecord
	for i := middleEnd - 1; i >= 1; i-- {
		c := count(messages[i])
		if c > budget {
			break
		}
		budget -= c
		kept = append([]types.MessageRecord{messages[i]}, kept...)
	}

	out = append(out, kept...)
	out = append(out, tail...)
	return out
}

func summarize(ctx context.Context, messages []types.MessageRecord, cfg Config, count TokenCounter, s Summarizer) ([]types.MessageRecord, bool, error) {
	system := messages[0]
	tail := preservedTail(messages, cfg, count)
	middleEnd := len(messages) - len(tail)
	toSummarize := messages[1:middleEnd]

	if len(toSummarize) == 0 {
		return append([]types.MessageRecord{system}, tail...), false, nil
	}

	summary, err := summarizeWithRetry(ctx, s, toSummarize, cfg.SummaryMaxTokens)
	if err != nil || strings.TrimSpace(summary) == "" {
		// Provider error or empty summary: fall back to truncate silently
		// and record the fallback, per spec §4.5 Failure semantics.
		return truncate(messages, cfg, count), true, nil
	}

	summaryMsg := types.MessageRecord{
		Role:  types.RoleAssistant,
		Parts: []types.PartRecord{types.TextPartRecord(summary)},
	}
	if len(tail) > 0 {
		summaryMsg.Timestamp = tail[0].Timestamp
	}

	out := []types.MessageRecord{system, summaryMsg}
	out = append(out, tail...)
	return out, false, nil
}

func hybrid(ctx context.Context, messages []types.MessageRecord, cfg Config, count TokenCounter, s Summarizer) ([]types.MessageRecord, bool, error) {
	candidate, usedFallback, err := summarize(ctx, messages, cfg, count, s)
	if err != nil {
		return nil, false, err
	}
	if countAll(candidate, count) <= cfg.TargetTokens {
		return candidate, usedFallback, nil
	}
	// Summary (or its fallback) still exceeds target: truncate the oldest
	// remaining middle content further.
	return truncate(candidate, cfg, count), usedFallback, nil
}

func summarizeWithRetry(ctx context.Context, s Summarizer, messages []types.MessageRecord, maxTokens int) (string, error) {
	var out string
	err := retry.Do(ctx, func() error {
		summary, err := s.Summarize(ctx, messages, maxTokens)
		if err != nil {
			return err
		}
		out = summary
		return nil
	}, nil)
	return out, err
}

// SummaryPrompt builds the instruction text used to ask the provider for a
// summary, matching internal/session/compact.go's compactionSystemPrompt
// in spirit: preserve named entities, open questions, relevant tool
// output, and decisions made, bounded in length.
func SummaryPrompt(maxTokens int) string {
	return fmt.Sprintf(`Summarize the conversation above into a single self-contained message.
Preserve: named entities, open questions, tool outputs of continuing relevance, and decisions made.
Keep the summary under %d tokens. Do not include meta-commentary about summarizing.`, maxTokens)
}
