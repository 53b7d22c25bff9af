// Package context implements C4, the context manager: it owns the active
// message window, tracks token usage against a provider's max, decides
// when to invoke the compression pipeline (C5), validates the result, and
// maintains a rolling window of snapshots for recovery.
//
// Named "context" for its spec role (not to be confused with the stdlib
// package); call sites alias the stdlib import as stdctx where both are
// needed, following Go convention for this exact collision.
package context

import (
	"fmt"
	"sort"
	"sync"

	"github.com/opencode-ai/opencode/internal/compact"
	"github.com/opencode-ai/opencode/internal/ollmerr"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Config parameterizes one Manager.
type Config struct {
	MaxTokens        int
	Threshold        float64 // default 0.8
	PreOverflow      float64 // default 0.95
	PreserveRecent   int     // token budget, passed through to compact.Config
	SummaryMaxTokens int
	MaxSnapshots     int // default 5
}

// DefaultConfig fills in spec §4.4's stated defaults around a caller-chosen
// max token budget.
func DefaultConfig(maxTokens int) Config {
	return Config{
		MaxTokens:        maxTokens,
		Threshold:        0.8,
		PreOverflow:      0.95,
		PreserveRecent:   800,
		SummaryMaxTokens: 2000,
		MaxSnapshots:     5,
	}
}

// entry is a dynamic, keyed context addition (spec §4.4 "dynamic context
// additions"). It is never persisted to session history.
type entry struct {
	text     string
	priority int
	seq      int // insertion order, for tie-breaking
}

// Snapshot is an immutable capture of the active window and metadata.
type Snapshot struct {
	ID       string
	Window   []types.MessageRecord
	Metadata types.SessionMetadata
}

// Manager owns one session's active context. All mutation happens through
// its exported methods; spec §5 requires it be mutated only by the runtime
// thread, so Manager itself is not internally synchronized beyond what's
// needed for safe read access from a notification/metrics goroutine.
type Manager struct {
	mu sync.RWMutex

	cfg     Config
	counter compact.TokenCounter

	window   []types.MessageRecord
	metadata types.SessionMetadata

	entries map[string]*entry
	seq     int

	snapshots []*Snapshot
}

// NewManager creates a Manager seeded with the given system message.
func NewManager(cfg Config, counter compact.TokenCounter, system types.MessageRecord) *Manager {
	if counter == nil {
		counter = compact.DefaultTokenCounter
	}
	m := &Manager{
		cfg:     cfg,
		counter: counter,
		window:  []types.MessageRecord{system},
		entries: make(map[string]*entry),
	}
	m.metadata.TokenCount = counter(system)
	return m
}

// SeedMetadata restores historical metadata when resuming a session from
// persisted state. Token count is always recomputed from the window by
// NewManager/Append, but compression_count is history the window itself
// doesn't encode, so a caller resuming from a session record seeds it here.
func (m *Manager) SeedMetadata(md types.SessionMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata.CompressionCount = md.CompressionCount
}

// Window returns a copy of the active message window.
func (m *Manager) Window() []types.MessageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.MessageRecord, len(m.window))
	copy(out, m.window)
	return out
}

// Metadata returns the current session metadata (token count, compression
// count).
func (m *Manager) Metadata() types.SessionMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata
}

// Append adds a message to the active window and updates the token count.
func (m *Manager) Append(msg types.MessageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, msg)
	m.metadata.TokenCount += m.counter(msg)
}

// Usage returns current_tokens / max_tokens.
func (m *Manager) Usage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg.MaxTokens <= 0 {
		return 0
	}
	return float64(m.metadata.TokenCount) / float64(m.cfg.MaxTokens)
}

// NeedsCompression reports whether usage has crossed the standard
// threshold, and separately whether it has crossed the pre-overflow
// threshold (which additionally warrants a snapshot and a more aggressive
// strategy per spec §4.4).
func (m *Manager) NeedsCompression() (trigger, aggressive bool) {
	u := m.Usage()
	return u >= m.cfg.Threshold, u >= m.cfg.PreOverflow
}

// CompactConfig builds a compact.Config for the current window, escalating
// strategy when aggressive is true (summarize/hybrid -> truncate, the
// fastest and most reliable strategy, per spec §4.4's escalation note).
func (m *Manager) CompactConfig(strategy compact.Strategy, aggressive bool) compact.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if aggressive {
		strategy = compact.Truncate
	}
	return compact.Config{
		Strategy:         strategy,
		PreserveRecent:   m.cfg.PreserveRecent,
		SummaryMaxTokens: m.cfg.SummaryMaxTokens,
		TargetTokens:     int(float64(m.cfg.MaxTokens) * 0.75),
	}
}

// ApplyCompression validates a compact.Result against the three post-
// compression invariants (spec §4.4) and, if valid, installs the new
// window and increments compression_count by exactly one. If the result is
// rejected, the pre-compression window is retained unchanged and an error
// is returned; compression_count is not incremented either way for a
// rejected or inflated result.
func (m *Manager) ApplyCompression(result compact.Result) error {
	if result.Inflated {
		return ollmerr.Wrap(ollmerr.CompressionInflated, "compression would increase token count", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(result.NewWindow) == 0 {
		return ollmerr.Wrap(ollmerr.CompressionFailed, "compression returned an empty window", nil)
	}
	if len(m.window) == 0 {
		return ollmerr.Wrap(ollmerr.CompressionFailed, "no active window to compress", nil)
	}

	// Invariant 1: system message unchanged.
	if !messageEqual(result.NewWindow[0], m.window[0]) {
		return ollmerr.Wrap(ollmerr.CompressionFailed, "compression altered the system message", nil)
	}

	// Invariant 2: preserved tail identical.
	oldTail := preservedTailMessages(m.window, m.cfg.PreserveRecent, m.counter)
	if len(oldTail) > len(result.NewWindow) || !tailEqual(oldTail, result.NewWindow[len(result.NewWindow)-len(oldTail):]) {
		return ollmerr.Wrap(ollmerr.CompressionFailed, "compression altered the preserved tail", nil)
	}

	// Invariant 3: total tokens within budget.
	newTokens := 0
	for _, msg := range result.NewWindow {
		newTokens += m.counter(msg)
	}
	if m.cfg.MaxTokens > 0 && newTokens > m.cfg.MaxTokens {
		return ollmerr.Wrap(ollmerr.CompressionFailed, "compression result still exceeds max_tokens", nil)
	}

	m.window = result.NewWindow
	m.metadata.TokenCount = newTokens
	m.metadata.CompressionCount++
	return nil
}

func preservedTailMessages(window []types.MessageRecord, preserveRecent int, counter compact.TokenCounter) []types.MessageRecord {
	if len(window) <= 1 {
		return nil
	}
	body := window[1:]
	tokens := 0
	start := len(body)
	for start > 0 {
		tokens += counter(body[start-1])
		start--
		if tokens >= preserveRecent {
			break
		}
	}
	return body[start:]
}

func tailEqual(a, b []types.MessageRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !messageEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func messageEqual(a, b types.MessageRecord) bool {
	if a.Role != b.Role || len(a.Parts) != len(b.Parts) {
		return false
	}
	for i := range a.Parts {
		if a.Parts[i] != b.Parts[i] {
			return false
		}
	}
	return true
}

// AddEntry registers (or replaces) a keyed dynamic context entry.
func (m *Manager) AddEntry(key, text string, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[key]; ok {
		existing.text = text
		existing.priority = priority
		return
	}
	m.seq++
	m.entries[key] = &entry{text: text, priority: priority, seq: m.seq}
}

// RemoveEntry removes a keyed dynamic context entry, if present.
func (m *Manager) RemoveEntry(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// BuildSuffix generates the deterministic system-prompt suffix: entries in
// descending priority order, ties broken by insertion order (spec §4.4,
// testable property 13).
func (m *Manager) BuildSuffix() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ei, ej := m.entries[keys[i]], m.entries[keys[j]]
		if ei.priority != ej.priority {
			return ei.priority > ej.priority
		}
		return ei.seq < ej.seq
	})

	out := ""
	for _, k := range keys {
		if out != "" {
			out += "\n\n"
		}
		out += m.entries[k].text
	}
	return out
}

// Snapshot captures the current window and metadata, keeping at most
// MaxSnapshots (oldest discarded).
func (m *Manager) Snapshot(id string) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	win := make([]types.MessageRecord, len(m.window))
	copy(win, m.window)
	snap := &Snapshot{ID: id, Window: win, Metadata: m.metadata}

	m.snapshots = append(m.snapshots, snap)
	max := m.cfg.MaxSnapshots
	if max <= 0 {
		max = 5
	}
	if len(m.snapshots) > max {
		m.snapshots = m.snapshots[len(m.snapshots)-max:]
	}
	return snap
}

// Restore replaces the active window and metadata with a prior snapshot's,
// atomically with respect to other Manager methods.
func (m *Manager) Restore(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots {
		if s.ID == id {
			win := make([]types.MessageRecord, len(s.Window))
			copy(win, s.Window)
			m.window = win
			m.metadata = s.Metadata
			return nil
		}
	}
	return fmt.Errorf("context: no such snapshot %q", id)
}

// Snapshots returns the currently retained snapshots, oldest first.
func (m *Manager) Snapshots() []*Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}
