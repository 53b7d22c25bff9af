package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	ctxmgr "github.com/opencode-ai/opencode/internal/context"
	"github.com/opencode-ai/opencode/internal/compact"
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/loopdetect"
	"github.com/opencode-ai/opencode/internal/ollmerr"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Runtime is C7, the conversation runtime: it orchestrates one turn end to
// end, grounded on the teacher's agentic-loop and stream-accumulation
// shape (originally split across a processor and a stream consumer) but
// rewritten against the spec's own data model (pkg/types.SessionRecord/
// MessageRecord) and driven entirely by this repository's C1/C3/C4/C5/C6
// packages instead of duplicating their logic inline.
//
// cmd/ollm's "run" command is the CLI driver that constructs a Runtime
// per session and feeds it user turns; internal/server exposes the same
// Store Runtime reads and writes through a read-only HTTP surface for
// introspection. Neither of those packages is imported here — Runtime
// has no notion of a CLI or an HTTP request, only Store, Provider, and
// the C1-C6 collaborators passed in through Options.
type Runtime struct {
	store      *Store
	provider   provider.Provider
	model      string
	tools      *tool.Registry
	dispatcher *tool.Dispatcher
	approval   *tool.Policy
	approveFn  tool.ApprovalCallback
	summarizer compact.Summarizer

	sessionID string
	manager   *ctxmgr.Manager
	detector  *loopdetect.Detector

	mu     sync.Mutex
	notify func(event.Event)

	now func() time.Time
}

// Options configures a Runtime. Provider, Model and Tools are required;
// everything else has a spec-grounded default.
type Options struct {
	Provider provider.Provider
	Model    string
	Tools    *tool.Registry

	Parallelism int // tool-call concurrency cap, default tool.DefaultParallelism

	ApprovalMode     tool.Mode
	ApprovalCallback tool.ApprovalCallback

	ContextConfig ctxmgr.Config   // zero value: DefaultConfig(8192) is used
	LoopConfig    loopdetect.Config

	// Summarizer overrides the default ProviderSummarizer (useful for
	// tests with a stub). A nil Summarizer is treated as unset: whenever
	// Provider is non-nil a ProviderSummarizer over it is used, so a nil
	// value does not switch summarization off.
	Summarizer compact.Summarizer

	// Notify receives structured lifecycle events (spec §6's notification
	// sink). Defaults to event.Publish.
	Notify func(event.Event)
}

// CreateSession creates a new durable session (C1.create) seeded with a
// system message, and returns a Runtime ready to process turns against it.
func CreateSession(store *Store, systemPrompt string, opts Options) (string, *Runtime, error) {
	sessionID, err := store.Create(opts.Model, opts.Provider.ID())
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	systemMsg := types.MessageRecord{
		Role:      types.RoleSystem,
		Parts:     []types.PartRecord{types.TextPartRecord(systemPrompt)},
		Timestamp: now,
	}
	if err := store.AppendMessage(sessionID, systemMsg); err != nil {
		return "", nil, err
	}
	if err := store.Flush(sessionID); err != nil {
		return "", nil, err
	}

	rt, err := NewRuntime(store, sessionID, opts)
	if err != nil {
		return "", nil, err
	}
	return sessionID, rt, nil
}

// NewRuntime resumes (or freshly attaches to) a session, rebuilding the
// active context window from its persisted messages. The first message
// must be a system message (spec §3: "The first message of every session
// is a system message").
func NewRuntime(store *Store, sessionID string, opts Options) (*Runtime, error) {
	rec, err := store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if len(rec.Messages) == 0 || rec.Messages[0].Role != types.RoleSystem {
		return nil, ollmerr.Wrap(ollmerr.InvalidContext, "session must start with a system message", nil)
	}

	cfg := opts.ContextConfig
	if cfg.MaxTokens == 0 {
		cfg = ctxmgr.DefaultConfig(8192)
	}
	mgr := ctxmgr.NewManager(cfg, compact.DefaultTokenCounter, rec.Messages[0])
	for _, m := range rec.Messages[1:] {
		mgr.Append(m)
	}
	mgr.SeedMetadata(rec.Metadata)

	loopCfg := opts.LoopConfig
	if loopCfg.MaxTurns == 0 && loopCfg.RepeatThreshold == 0 {
		loopCfg = loopdetect.DefaultConfig()
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = tool.DefaultParallelism
	}

	mode := opts.ApprovalMode
	if mode == "" {
		mode = tool.AlwaysAsk
	}

	summarizer := opts.Summarizer
	if summarizer == nil && opts.Provider != nil {
		summarizer = &ProviderSummarizer{Provider: opts.Provider, Model: opts.Model}
	}

	notify := opts.Notify
	if notify == nil {
		notify = event.Publish
	}

	return &Runtime{
		store:      store,
		provider:   opts.Provider,
		model:      opts.Model,
		tools:      opts.Tools,
		dispatcher: tool.NewDispatcher(parallelism),
		approval:   tool.NewPolicy(mode),
		approveFn:  opts.ApprovalCallback,
		summarizer: summarizer,
		sessionID:  sessionID,
		manager:    mgr,
		detector:   loopdetect.New(loopCfg),
		notify:     notify,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Manager exposes the active context manager (C4), e.g. for registering
// dynamic context entries (spec §4.4) before the next turn.
func (rt *Runtime) Manager() *ctxmgr.Manager { return rt.manager }

// TurnResult summarizes the outcome of a Turn call.
type TurnResult struct {
	FinalText    string
	Iterations   int
	LoopDetected *loopdetect.Pattern
	Cancelled    bool
}

// Turn runs one full user-input-to-final-assistant-message cycle,
// including any tool-use iterations, per spec §4.7's turn algorithm. The
// cancel channel is checked at every suspension point (spec §5); closing
// it aborts the turn without treating it as an error.
func (rt *Runtime) Turn(ctx context.Context, userText string, cancel <-chan struct{}) (*TurnResult, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.detector.Reset()

	userMsg := types.MessageRecord{
		Role:      types.RoleUser,
		Parts:     []types.PartRecord{types.TextPartRecord(userText)},
		Timestamp: rt.now(),
	}
	if err := rt.store.AppendMessage(rt.sessionID, userMsg); err != nil {
		return nil, err
	}
	rt.manager.Append(userMsg)
	rt.notify(event.Event{Type: event.TurnStarted, Data: event.TurnStartedData{SessionID: rt.sessionID}})

	iterations := 0
	for {
		if isCancelled(cancel) {
			return &TurnResult{Iterations: iterations, Cancelled: true}, nil
		}

		if pattern := rt.detector.ObserveTurn(); pattern != nil {
			rt.abortForLoop(*pattern)
			return &TurnResult{Iterations: iterations, LoopDetected: pattern}, nil
		}

		if err := rt.maybeCompress(ctx); err != nil {
			if errors.Is(err, ollmerr.ContextOverflow) {
				return nil, err
			}
			// compression_failed, context still fits: proceed with a
			// warning per spec §4.7 step 3 / §9's Open Question decision.
			rt.notify(event.Event{Type: event.ProviderError, Data: event.ProviderErrorData{SessionID: rt.sessionID, Message: err.Error()}})
		}

		if err := rt.validateContext(); err != nil {
			return nil, err
		}

		if isCancelled(cancel) {
			return &TurnResult{Iterations: iterations, Cancelled: true}, nil
		}

		iterations++
		res, err := rt.callProvider(ctx)
		if err != nil {
			rt.notify(event.Event{Type: event.ProviderError, Data: event.ProviderErrorData{SessionID: rt.sessionID, Message: err.Error()}})
			return nil, err
		}

		if isCancelled(cancel) {
			return &TurnResult{Iterations: iterations, Cancelled: true}, nil
		}

		if len(res.ToolCalls) == 0 {
			assistantMsg := types.MessageRecord{
				Role:      types.RoleAssistant,
				Parts:     []types.PartRecord{types.TextPartRecord(res.Text)},
				Timestamp: rt.now(),
			}
			if err := rt.store.AppendMessage(rt.sessionID, assistantMsg); err != nil {
				return nil, err
			}
			rt.manager.Append(assistantMsg)

			if pattern := rt.detector.ObserveOutput(res.Text); pattern != nil {
				rt.abortForLoop(*pattern)
				return &TurnResult{FinalText: res.Text, Iterations: iterations, LoopDetected: pattern}, nil
			}

			rt.notify(event.Event{Type: event.TurnCompleted, Data: event.TurnCompletedData{SessionID: rt.sessionID, Turns: iterations}})
			rt.flush()
			return &TurnResult{FinalText: res.Text, Iterations: iterations}, nil
		}

		// Tool-use iteration: record the assistant message carrying the
		// tool calls, check each for repetition, dispatch, feed results
		// back in call order, and loop to the next provider call.
		if err := rt.recordToolCallMessage(res); err != nil {
			return nil, err
		}

		for _, call := range res.ToolCalls {
			var decoded any
			_ = json.Unmarshal(call.Args, &decoded)
			if pattern := rt.detector.ObserveToolCall(call.Name, decoded); pattern != nil {
				rt.abortForLoop(*pattern)
				return &TurnResult{Iterations: iterations, LoopDetected: pattern}, nil
			}
		}

		if isCancelled(cancel) {
			return &TurnResult{Iterations: iterations, Cancelled: true}, nil
		}

		results := rt.dispatchWithApproval(ctx, res.ToolCalls)
		for _, r := range results {
			if err := rt.recordToolResult(r); err != nil {
				return nil, err
			}
		}

		rt.flush()
	}
}

func isCancelled(cancel <-chan struct{}) bool {
	if cancel == nil {
		return false
	}
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}

// maybeCompress checks C4's usage thresholds and, if crossed, runs the
// compression pipeline (C5), validating and applying the result, with
// escalation from the hybrid strategy to truncate at the pre-overflow
// threshold (spec §4.4).
func (rt *Runtime) maybeCompress(ctx context.Context) error {
	trigger, aggressive := rt.manager.NeedsCompression()
	if !trigger {
		return nil
	}

	if aggressive {
		rt.manager.Snapshot(fmt.Sprintf("%s-pre-overflow-%d", rt.sessionID, time.Now().UnixNano()))
	}

	strategy := compact.Hybrid
	cfg := rt.manager.CompactConfig(strategy, aggressive)

	result, err := compact.Compress(ctx, rt.manager.Window(), cfg, compact.DefaultTokenCounter, rt.summarizer)
	if err != nil {
		return ollmerr.Wrap(ollmerr.CompressionFailed, "compression pipeline error", err)
	}

	if result.Inflated {
		// Escalate: summarize/hybrid produced something larger than the
		// input, try the fast, reliable truncate strategy instead.
		truncCfg := rt.manager.CompactConfig(compact.Truncate, true)
		result, err = compact.Compress(ctx, rt.manager.Window(), truncCfg, compact.DefaultTokenCounter, nil)
		if err != nil {
			return ollmerr.Wrap(ollmerr.CompressionFailed, "compression escalation error", err)
		}
		if result.Inflated {
			if rt.manager.Usage() > 1.0 {
				return ollmerr.Wrap(ollmerr.ContextOverflow, "active context exceeds max tokens even after escalation", nil)
			}
			return ollmerr.Wrap(ollmerr.CompressionFailed, "compression would inflate the context even after escalation", nil)
		}
	}

	if err := rt.manager.ApplyCompression(result); err != nil {
		if rt.manager.Usage() > 1.0 {
			return ollmerr.Wrap(ollmerr.ContextOverflow, "active context exceeds max tokens and compression was rejected", err)
		}
		return err
	}

	rt.store.UpdateMetadata(rt.sessionID, rt.manager.Metadata())
	rt.notify(event.Event{Type: event.CompressionApplied, Data: event.CompressionAppliedData{
		SessionID:       rt.sessionID,
		OriginalTokens:  result.OriginalTokens,
		CandidateTokens: result.CandidateTokens,
		UsedFallback:    result.UsedFallback,
	}})
	return nil
}

// validateContext is C7's step-4 pre-send validation: the active window
// must be non-empty and start with the system message. There is nothing
// to "reinsert" here beyond what C4 already guarantees (it never lets the
// system message move or be dropped), so a failure here indicates a
// genuine structural defect rather than a recoverable condition.
func (rt *Runtime) validateContext() error {
	win := rt.manager.Window()
	if len(win) == 0 || win[0].Role != types.RoleSystem {
		return ollmerr.Wrap(ollmerr.InvalidContext, "active context is missing its system message", nil)
	}
	for i, m := range win {
		if i > 0 && len(m.Parts) == 0 {
			return ollmerr.Wrap(ollmerr.InvalidContext, "active context contains an empty message", nil)
		}
	}
	return nil
}

// pendingToolCall is one tool call accumulated from the provider's event
// stream, fully identified (id, name, arguments) by the time Finish
// arrives.
type pendingToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// streamResult is what one provider call yields once its stream is fully
// consumed: final assistant text, any tool calls the model requested, and
// the finish reason.
type streamResult struct {
	Text             string
	ToolCalls        []pendingToolCall
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// callProvider builds the completion request from the active context
// (C4's window plus its dynamic-entry suffix appended to the system
// message) and consumes the resulting stream.
func (rt *Runtime) callProvider(ctx context.Context) (streamResult, error) {
	if rt.provider == nil {
		return streamResult{}, ollmerr.Wrap(ollmerr.ProviderError, "no provider configured", nil)
	}

	messages := rt.buildRequestMessages()
	tools := rt.toolSchemas()

	stream, err := rt.provider.CreateCompletion(ctx, &provider.CompletionRequest{
		Model:    rt.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return streamResult{}, ollmerr.Wrap(ollmerr.ProviderError, "create completion", err)
	}
	defer stream.Close()

	return consumeStream(ctx, stream)
}

// buildRequestMessages converts the active window to Eino's schema.Message
// form, appending C4's dynamic-entry suffix to the system message (spec
// §4.4: "a deterministic system-prompt suffix"), grounded on
// the former internal/session/loop.go's convertMessage but operating on
// pkg/types.MessageRecord instead of the polymorphic Part interface.
func (rt *Runtime) buildRequestMessages() []*schema.Message {
	window := rt.manager.Window()
	out := make([]*schema.Message, 0, len(window))

	for i, m := range window {
		role := schema.Assistant
		switch m.Role {
		case types.RoleUser:
			role = schema.User
		case types.RoleSystem:
			role = schema.System
		case types.RoleTool:
			role = schema.Tool
		}

		msg := &schema.Message{Role: role}
		var content strings.Builder
		var toolCallID string

		for _, p := range m.Parts {
			switch p.Type {
			case types.PartText:
				content.WriteString(p.Text)
			case types.PartToolResult:
				toolCallID = p.ToolCallID
				content.WriteString(p.Content)
			case types.PartImage:
				// Image parts are carried as a textual placeholder here;
				// multimodal request construction is a provider-adapter
				// concern this runtime doesn't own (spec §6).
				content.WriteString(fmt.Sprintf("[image: %s]", p.Mime))
			}
		}

		msg.Content = content.String()
		if toolCallID != "" {
			msg.ToolCallID = toolCallID
		}

		if i == 0 {
			if suffix := rt.manager.BuildSuffix(); suffix != "" {
				msg.Content = msg.Content + "\n\n" + suffix
			}
		}
		out = append(out, msg)
	}
	return out
}

// toolSchemas converts the registered tools into Eino's tool-schema form
// for the provider request.
func (rt *Runtime) toolSchemas() []*schema.ToolInfo {
	if rt.tools == nil {
		return nil
	}
	var infos []provider.ToolInfo
	for _, t := range rt.tools.List() {
		infos = append(infos, provider.ToolInfo{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return provider.ConvertToEinoTools(infos)
}

// consumeStream drains a provider stream into a streamResult, grounded on
// the former internal/session/stream.go's index-keyed tool-call accumulation and
// accumulated/delta content detection, stripped of that file's TUI "Part"
// construction and debug logging — C7 only needs the finalized text and
// tool calls, per spec §4.7 step 6 ("Accumulate assistant text; when a
// tool_call event arrives, add a placeholder... ").
func consumeStream(ctx context.Context, stream *provider.CompletionStream) (streamResult, error) {
	var textBuilder strings.Builder
	accumulated := ""

	type toolAccum struct {
		id, name string
		args     strings.Builder
	}
	byKey := map[string]*toolAccum{}
	var order []string

	finishReason := ""
	promptTok, compTok := 0, 0

	for {
		select {
		case <-ctx.Done():
			return streamResult{}, ollmerr.Wrap(ollmerr.Cancelled, "provider stream cancelled", ctx.Err())
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return streamResult{}, ollmerr.Wrap(ollmerr.ProviderError, "provider stream error", err)
		}

		if msg.Content != "" {
			var delta string
			if strings.HasPrefix(msg.Content, accumulated) {
				delta = msg.Content[len(accumulated):]
				accumulated = msg.Content
			} else {
				delta = msg.Content
				accumulated += msg.Content
			}
			textBuilder.WriteString(delta)
		}

		for _, tc := range msg.ToolCalls {
			key := tc.ID
			if key == "" && tc.Index != nil {
				key = fmt.Sprintf("idx:%d", *tc.Index)
			}
			if key == "" {
				continue
			}
			acc, ok := byKey[key]
			if !ok {
				acc = &toolAccum{}
				byKey[key] = acc
				order = append(order, key)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.args.WriteString(tc.Function.Arguments)
			}
		}

		if msg.ResponseMeta != nil {
			if msg.ResponseMeta.Usage != nil {
				promptTok = msg.ResponseMeta.Usage.PromptTokens
				compTok = msg.ResponseMeta.Usage.CompletionTokens
			}
			if msg.ResponseMeta.FinishReason != "" {
				finishReason = msg.ResponseMeta.FinishReason
			}
		}
	}

	var calls []pendingToolCall
	for _, key := range order {
		acc := byKey[key]
		args := acc.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		id := acc.id
		if id == "" {
			id = key
		}
		calls = append(calls, pendingToolCall{ID: id, Name: acc.name, Args: json.RawMessage(args)})
	}

	if finishReason == "" {
		if len(calls) > 0 {
			finishReason = "tool-calls"
		} else {
			finishReason = "stop"
		}
	}
	if finishReason == "tool_use" {
		finishReason = "tool-calls"
	}

	return streamResult{
		Text:             textBuilder.String(),
		ToolCalls:        calls,
		FinishReason:     finishReason,
		PromptTokens:     promptTok,
		CompletionTokens: compTok,
	}, nil
}

// recordToolCallMessage appends the assistant message carrying the
// model's tool call requests to both C1 and C4, rendered as a synthetic
// text part per call (a JSON-Schema part union for "assistant requested
// tool X with args Y" isn't part of spec §3's part model, which only
// names text/image/tool_result; this mirrors how the spec's tool_result
// part renders a call's outcome as text).
func (rt *Runtime) recordToolCallMessage(res streamResult) error {
	parts := make([]types.PartRecord, 0, len(res.ToolCalls)+1)
	if res.Text != "" {
		parts = append(parts, types.TextPartRecord(res.Text))
	}
	for _, c := range res.ToolCalls {
		parts = append(parts, types.TextPartRecord(fmt.Sprintf("[tool_call %s: %s %s]", c.ID, c.Name, string(c.Args))))
	}
	msg := types.MessageRecord{Role: types.RoleAssistant, Parts: parts, Timestamp: rt.now()}
	if err := rt.store.AppendMessage(rt.sessionID, msg); err != nil {
		return err
	}
	rt.manager.Append(msg)
	return nil
}

// dispatchWithApproval runs each pending tool call through C3's approval
// policy before handing approved calls to the dispatcher, so a denied
// call never reaches Execute. Results are returned in the original call
// order regardless of which calls were pre-denied.
func (rt *Runtime) dispatchWithApproval(ctx context.Context, pending []pendingToolCall) []tool.DispatchResult {
	calls := make([]tool.Call, len(pending))
	for i, c := range pending {
		calls[i] = tool.Call{
			ID:   c.ID,
			Name: c.Name,
			Args: c.Args,
			Ctx:  &tool.Context{SessionID: rt.sessionID, CallID: c.ID},
		}
		rt.notify(event.Event{Type: event.ToolStarted, Data: event.ToolStartedData{SessionID: rt.sessionID, CallID: c.ID, Tool: c.Name}})
	}

	approvalErr := make([]error, len(calls))
	if rt.tools != nil {
		for i, c := range calls {
			t, ok := rt.tools.Get(c.Name)
			if !ok {
				continue // dispatcher reports unknown-tool itself
			}
			danger := tool.DangerLevelOf(t, c.Args)
			if err := rt.approval.Decide(ctx, c.Name, c.Args, danger, rt.approveFn); err != nil {
				approvalErr[i] = err
			}
		}
	}

	results := make([]tool.DispatchResult, len(calls))
	toRun := make([]tool.Call, 0, len(calls))
	toRunIdx := make([]int, 0, len(calls))
	for i, c := range calls {
		if approvalErr[i] != nil {
			results[i] = tool.DispatchResult{Call: c, Err: approvalErr[i]}
			continue
		}
		toRun = append(toRun, c)
		toRunIdx = append(toRunIdx, i)
	}

	dispatched := rt.dispatcher.Dispatch(ctx, rt.tools, toRun)
	for j, r := range dispatched {
		results[toRunIdx[j]] = r
	}

	for i, r := range results {
		success := r.Err == nil
		errMsg := ""
		if r.Err != nil {
			errMsg = r.Err.Error()
		}
		rt.notify(event.Event{Type: event.ToolCompleted, Data: event.ToolCompletedData{
			SessionID: rt.sessionID, CallID: calls[i].ID, Tool: calls[i].Name, Success: success, Error: errMsg,
		}})
	}
	return results
}

// recordToolResult appends a tool-call record (C1) and the corresponding
// tool-role message (C1 and C4) for one dispatched call, preserving the
// order the model emitted calls in (spec §4.3/§5).
func (rt *Runtime) recordToolResult(r tool.DispatchResult) error {
	rec := types.ToolCallRecord{
		ID:        r.Call.ID,
		Name:      r.Call.Name,
		Args:      r.Call.Args,
		Timestamp: rt.now(),
	}

	if r.Err != nil {
		rec.Status = types.ToolCallError
		rec.ErrorKind = errorKind(r.Err)
		rec.Result = types.ToolCallOutcome{LLMContent: "Error: " + r.Err.Error()}
	} else {
		rec.Status = types.ToolCallOK
		output := ""
		display := ""
		if r.Result != nil {
			output = r.Result.Output
			display = r.Result.Title
		}
		rec.Result = types.ToolCallOutcome{LLMContent: output, ReturnDisplay: display}
	}

	if err := rt.store.AppendToolCall(rt.sessionID, rec); err != nil {
		return err
	}

	toolMsg := types.MessageRecord{
		Role:      types.RoleTool,
		Parts:     []types.PartRecord{types.ToolResultPartRecord(rec.ID, rec.Result.LLMContent)},
		Timestamp: rt.now(),
	}
	if err := rt.store.AppendMessage(rt.sessionID, toolMsg); err != nil {
		return err
	}
	rt.manager.Append(toolMsg)
	return nil
}

// errorKind maps an ollmerr-wrapped dispatch error onto spec §7's error
// taxonomy string, for the durable ToolCallRecord.ErrorKind field.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ollmerr.ToolBadArgs):
		return "tool_bad_args"
	case errors.Is(err, ollmerr.ToolDenied):
		return "tool_denied"
	case errors.Is(err, ollmerr.ToolTimeout):
		return "tool_timeout"
	case errors.Is(err, ollmerr.ToolInternal):
		return "tool_internal"
	case errors.Is(err, ollmerr.Cancelled):
		return "cancelled"
	default:
		return "tool_error"
	}
}

// abortForLoop appends a system-role note describing the detected pattern
// and emits a loop.detected notification, per spec §4.6/§4.7.
func (rt *Runtime) abortForLoop(pattern loopdetect.Pattern) {
	note := types.MessageRecord{
		Role:      types.RoleSystem,
		Parts:     []types.PartRecord{types.TextPartRecord(fmt.Sprintf("Turn aborted: %s (%s)", pattern.Details, pattern.Type))},
		Timestamp: rt.now(),
	}
	_ = rt.store.AppendMessage(rt.sessionID, note)
	rt.manager.Append(note)
	rt.notify(event.Event{Type: event.LoopDetected, Data: event.LoopDetectedData{
		SessionID: rt.sessionID,
		Pattern:   string(pattern.Type),
		Details:   pattern.Details,
		Count:     pattern.Count,
	}})
	rt.flush()
}

func (rt *Runtime) flush() {
	rt.store.UpdateMetadata(rt.sessionID, rt.manager.Metadata())
	if err := rt.store.Flush(rt.sessionID); err != nil {
		rt.notify(event.Event{Type: event.ProviderError, Data: event.ProviderErrorData{SessionID: rt.sessionID, Message: "flush failed: " + err.Error()}})
	}
}
