package context_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode/internal/compact"
	ctxmgr "github.com/opencode-ai/opencode/internal/context"
	"github.com/opencode-ai/opencode/pkg/types"
)

func textMsg(role types.MessageRole, text string) types.MessageRecord {
	return types.MessageRecord{Role: role, Parts: []types.PartRecord{types.TextPartRecord(text)}}
}

func TestUsageAndTrigger(t *testing.T) {
	cfg := ctxmgr.DefaultConfig(100)
	m := ctxmgr.NewManager(cfg, func(types.MessageRecord) int { return 10 }, textMsg(types.RoleSystem, "sys"))

	for i := 0; i < 7; i++ {
		m.Append(textMsg(types.RoleUser, "x"))
	}
	trigger, aggressive := m.NeedsCompression()
	assert.True(t, trigger, "80 of 100 tokens should trigger compression")
	assert.False(t, aggressive)

	m.Append(textMsg(types.RoleUser, "x"))
	m.Append(textMsg(types.RoleUser, "x"))
	_, aggressive = m.NeedsCompression()
	assert.True(t, aggressive, "95+ of 100 tokens should be pre-overflow")
}

func TestApplyCompression_RejectsAlteredSystemMessage(t *testing.T) {
	cfg := ctxmgr.DefaultConfig(1000)
	m := ctxmgr.NewManager(cfg, func(types.MessageRecord) int { return 1 }, textMsg(types.RoleSystem, "sys"))
	m.Append(textMsg(types.RoleUser, "hi"))

	bad := compact.Result{NewWindow: []types.MessageRecord{textMsg(types.RoleSystem, "different"), textMsg(types.RoleUser, "hi")}}
	err := m.ApplyCompression(bad)
	require.Error(t, err)
	assert.Equal(t, 0, m.Metadata().CompressionCount)
}

func TestApplyCompression_AcceptsValidResult(t *testing.T) {
	cfg := ctxmgr.DefaultConfig(1000)
	system := textMsg(types.RoleSystem, "sys")
	counter := func(types.MessageRecord) int { return 1 }
	m := ctxmgr.NewManager(cfg, counter, system)
	tail := textMsg(types.RoleUser, "recent")
	m.Append(textMsg(types.RoleUser, "old-1"))
	m.Append(textMsg(types.RoleUser, "old-2"))
	m.Append(tail)

	// preserve-recent is large enough (default 800) to swallow the whole
	// tiny window under this 1-token-per-message counter, so the valid
	// compaction here just keeps everything plus the unchanged system msg.
	good := compact.Result{NewWindow: []types.MessageRecord{system, textMsg(types.RoleUser, "old-1"), textMsg(types.RoleUser, "old-2"), tail}}
	err := m.ApplyCompression(good)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Metadata().CompressionCount)
}

func TestApplyCompression_RejectsInflated(t *testing.T) {
	cfg := ctxmgr.DefaultConfig(100)
	m := ctxmgr.NewManager(cfg, func(types.MessageRecord) int { return 1 }, textMsg(types.RoleSystem, "sys"))
	err := m.ApplyCompression(compact.Result{Inflated: true, OriginalTokens: 10, CandidateTokens: 20})
	require.Error(t, err)
	assert.Equal(t, 0, m.Metadata().CompressionCount)
}

func TestContextEntries_RoundTripAndPriorityOrder(t *testing.T) {
	cfg := ctxmgr.DefaultConfig(1000)
	m := ctxmgr.NewManager(cfg, nil, textMsg(types.RoleSystem, "sys"))

	m.AddEntry("low", "low priority text", 1)
	m.AddEntry("high", "high priority text", 10)
	m.AddEntry("also-high", "also high priority, added later", 10)

	suffix := m.BuildSuffix()
	assert.True(t, indexOf(suffix, "high priority text") < indexOf(suffix, "also high priority, added later"))
	assert.True(t, indexOf(suffix, "also high priority, added later") < indexOf(suffix, "low priority text"))

	m.RemoveEntry("low")
	m.AddEntry("low", "low priority text", 1)
	assert.Contains(t, m.BuildSuffix(), "low priority text")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestSnapshotRollingWindow(t *testing.T) {
	cfg := ctxmgr.DefaultConfig(1000)
	cfg.MaxSnapshots = 2
	m := ctxmgr.NewManager(cfg, nil, textMsg(types.RoleSystem, "sys"))

	m.Snapshot("s1")
	m.Snapshot("s2")
	m.Snapshot("s3")

	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "s2", snaps[0].ID)
	assert.Equal(t, "s3", snaps[1].ID)
}

func TestRestoreSnapshot(t *testing.T) {
	cfg := ctxmgr.DefaultConfig(1000)
	m := ctxmgr.NewManager(cfg, nil, textMsg(types.RoleSystem, "sys"))
	m.Append(textMsg(types.RoleUser, "one"))
	m.Snapshot("before-two")
	m.Append(textMsg(types.RoleUser, "two"))

	require.NoError(t, m.Restore("before-two"))
	assert.Len(t, m.Window(), 2)
}
