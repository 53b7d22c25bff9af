package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/ollmerr"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Store is C1: the durable, one-file-per-session record of messages, tool
// calls, and metadata. It guarantees no partially-written file is ever
// visible to a reader, per spec §4.1's persistence protocol, grounded on
// internal/storage.Storage's own temp-file-then-rename write path but
// specialized to sessions (fsync of both file and directory, corrupt-file
// quarantine, retention enforcement) rather than the generic KV store.
type Store struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*types.SessionRecord
	locks    map[string]*storage.FileLock
}

// NewStore creates a Store rooted at dir (spec §6: "~/.ollm/session-data/").
// The directory is created if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ollmerr.Wrap(ollmerr.SessionIO, "create session data directory", err)
	}
	return &Store{
		dir:      dir,
		sessions: make(map[string]*types.SessionRecord),
		locks:    make(map[string]*storage.FileLock),
	}, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Create generates a new session id, writes a minimal valid session file,
// and returns the id.
func (s *Store) Create(model, provider string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	rec := &types.SessionRecord{
		SessionID:    id,
		StartTime:    now,
		LastActivity: now,
		Model:        model,
		Provider:     provider,
		Messages:     []types.MessageRecord{},
		ToolCalls:    []types.ToolCallRecord{},
	}

	s.mu.Lock()
	s.sessions[id] = rec
	s.mu.Unlock()

	if err := s.Flush(id); err != nil {
		return "", err
	}
	return id, nil
}

// AppendMessage appends a message to the in-memory session. The caller is
// responsible for calling Flush (C7 flushes after every turn, per spec
// §3's lifecycle note).
func (s *Store) AppendMessage(sessionID string, msg types.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ollmerr.Wrap(ollmerr.SessionIO, fmt.Sprintf("session %s not loaded", sessionID), nil)
	}
	rec.Messages = append(rec.Messages, msg)
	rec.LastActivity = time.Now().UTC()
	return nil
}

// AppendToolCall appends a tool-call record to the in-memory session.
func (s *Store) AppendToolCall(sessionID string, call types.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ollmerr.Wrap(ollmerr.SessionIO, fmt.Sprintf("session %s not loaded", sessionID), nil)
	}
	rec.ToolCalls = append(rec.ToolCalls, call)
	rec.LastActivity = time.Now().UTC()
	return nil
}

// UpdateMetadata lets C4 push the latest token/compression counters into
// the record that gets flushed.
func (s *Store) UpdateMetadata(sessionID string, md types.SessionMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ollmerr.Wrap(ollmerr.SessionIO, fmt.Sprintf("session %s not loaded", sessionID), nil)
	}
	rec.Metadata = md
	return nil
}

// SetTitle records the human-readable title GenerateTitle produces. It is
// optional: a session with no title falls back to id/time in list(), per
// spec §4.1.
func (s *Store) SetTitle(sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ollmerr.Wrap(ollmerr.SessionIO, fmt.Sprintf("session %s not loaded", sessionID), nil)
	}
	rec.Title = title
	return nil
}

// Get returns a session. If it is already loaded in memory, that copy is
// returned; otherwise it is parsed from disk. A parse failure is reported
// as ollmerr.SessionCorrupt and the offending file is quarantined (renamed
// with a .corrupt suffix) so the caller may start a new session, per spec
// §4.1's failure semantics.
func (s *Store) Get(sessionID string) (*types.SessionRecord, error) {
	s.mu.Lock()
	if rec, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return cloneRecord(rec), nil
	}
	s.mu.Unlock()

	p := s.path(sessionID)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ollmerr.Wrap(ollmerr.SessionIO, "session not found", err)
		}
		return nil, ollmerr.Wrap(ollmerr.SessionIO, "read session file", err)
	}

	var rec types.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.quarantine(p)
		return nil, ollmerr.Wrap(ollmerr.SessionCorrupt, "session file failed to parse", err)
	}

	s.mu.Lock()
	s.sessions[sessionID] = &rec
	s.mu.Unlock()
	return cloneRecord(&rec), nil
}

// quarantine renames a corrupt session file out of the way instead of
// deleting it, so the data is never silently lost.
func (s *Store) quarantine(p string) {
	dest := p + ".corrupt"
	if _, err := os.Stat(dest); err == nil {
		dest = fmt.Sprintf("%s.%d.corrupt", p, time.Now().UnixNano())
	}
	if err := os.Rename(p, dest); err != nil {
		logging.Error().Err(err).Str("path", p).Msg("session: failed to quarantine corrupt file")
	}
}

// List enumerates the data directory and returns a lightweight summary per
// session (id, start time, last activity, model, message count, token
// count), per spec §4.1's list() operation. Corrupt or unreadable files are
// skipped rather than aborting the whole listing.
func (s *Store) List() ([]types.SessionSummaryRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ollmerr.Wrap(ollmerr.SessionIO, "list session directory", err)
	}

	var out []types.SessionSummaryRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var rec types.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, types.SessionSummaryRecord{
			SessionID:    rec.SessionID,
			StartTime:    rec.StartTime,
			LastActivity: rec.LastActivity,
			Model:        rec.Model,
			Title:        rec.Title,
			MessageCount: len(rec.Messages),
			TokenCount:   rec.Metadata.TokenCount,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// Delete removes a session's file and its in-memory copy. It is an error
// to delete a session that does not exist, per spec §4.1 ("must not fail
// silently if file existed").
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	p := s.path(sessionID)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return ollmerr.Wrap(ollmerr.SessionIO, "session does not exist", err)
		}
		return ollmerr.Wrap(ollmerr.SessionIO, "stat session file", err)
	}
	if err := os.Remove(p); err != nil {
		return ollmerr.Wrap(ollmerr.SessionIO, "delete session file", err)
	}
	return nil
}

// Flush durably persists the in-memory session: write to a sibling temp
// file, fsync the file, rename over the target, fsync the containing
// directory. This is spec §4.1's persistence protocol verbatim.
//
// Write failure is logged and the in-memory session remains authoritative
// for a retry on the next flush, rather than returning a fatal error up
// through the caller's turn.
func (s *Store) Flush(sessionID string) error {
	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ollmerr.Wrap(ollmerr.SessionIO, fmt.Sprintf("session %s not loaded", sessionID), nil)
	}
	snapshot := cloneRecord(rec)
	s.mu.Unlock()

	lock := s.getLock(sessionID)
	if err := lock.Lock(); err != nil {
		return ollmerr.Wrap(ollmerr.SessionIO, "acquire session lock", err)
	}
	defer lock.Unlock()

	if err := s.writeAtomic(s.path(sessionID), snapshot); err != nil {
		logging.Error().Err(err).Str("session_id", sessionID).Msg("session: flush failed, will retry on next flush")
		return ollmerr.Wrap(ollmerr.SessionIO, "flush session", err)
	}
	return nil
}

func (s *Store) writeAtomic(path string, rec *types.SessionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		dir.Close()
	}
	return nil
}

// EnforceRetention deletes the oldest sessions by start time until the
// persisted count is <= maxCount.
func (s *Store) EnforceRetention(maxCount int) error {
	if maxCount <= 0 {
		return nil
	}
	summaries, err := s.List()
	if err != nil {
		return err
	}
	if len(summaries) <= maxCount {
		return nil
	}

	toDelete := len(summaries) - maxCount
	for i := 0; i < toDelete; i++ {
		if err := s.Delete(summaries[i].SessionID); err != nil {
			logging.Error().Err(err).Str("session_id", summaries[i].SessionID).Msg("session: retention delete failed")
		}
	}
	return nil
}

func (s *Store) getLock(sessionID string) *storage.FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = storage.NewFileLock(s.path(sessionID))
		s.locks[sessionID] = lock
	}
	return lock
}

func cloneRecord(rec *types.SessionRecord) *types.SessionRecord {
	out := *rec
	out.Messages = append([]types.MessageRecord(nil), rec.Messages...)
	out.ToolCalls = append([]types.ToolCallRecord(nil), rec.ToolCalls...)
	return &out
}
