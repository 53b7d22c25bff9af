package compact_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/opencode/internal/compact"
	"github.com/opencode-ai/opencode/pkg/types"
)

func TestCompact(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "compact")
}

func msg(role types.MessageRole, text string) types.MessageRecord {
	return types.MessageRecord{Role: role, Parts: []types.PartRecord{types.TextPartRecord(text)}}
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s stubSummarizer) Summarize(ctx context.Context, messages []types.MessageRecord, maxTokens int) (string, error) {
	return s.summary, s.err
}

var _ = Describe("Compress", func() {
	var system types.MessageRecord
	var window []types.MessageRecord

	BeforeEach(func() {
		system = msg(types.RoleSystem, "You are helpful.")
		window = []types.MessageRecord{system}
		for i := 0; i < 20; i++ {
			window = append(window, msg(types.RoleUser, "some moderately long piece of user content to pad tokens"))
		}
	})

	It("never modifies the system message under truncate", func() {
		cfg := compact.Config{Strategy: compact.Truncate, PreserveRecent: 20, TargetTokens: 50}
		res, err := compact.Compress(context.Background(), window, cfg, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Inflated).To(BeFalse())
		Expect(res.NewWindow[0]).To(Equal(system))
	})

	It("preserves the tail verbatim", func() {
		cfg := compact.Config{Strategy: compact.Truncate, PreserveRecent: 40, TargetTokens: 60}
		res, err := compact.Compress(context.Background(), window, cfg, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		tail := window[len(window)-1]
		Expect(res.NewWindow[len(res.NewWindow)-1]).To(Equal(tail))
	})

	It("reports inflated and returns no window when the candidate would grow", func() {
		var huge strings.Builder
		for i := 0; i < 4000; i++ {
			huge.WriteByte('x')
		}
		inflating := stubSummarizer{summary: huge.String()}
		// PreserveRecent=18 keeps only the final message as the tail; the
		// remaining 19 messages (~18 tokens each, ~340 total) get replaced
		// by a single 1000+-token summary message, which is larger than the
		// entire original window (~368 tokens) and must trip the guard.
		cfg := compact.Config{Strategy: compact.Summarize, PreserveRecent: 18, TargetTokens: 1, SummaryMaxTokens: 4000}
		res, err := compact.Compress(context.Background(), window, cfg, nil, inflating)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Inflated).To(BeTrue())
		Expect(res.NewWindow).To(BeNil())
		Expect(res.CandidateTokens).To(BeNumerically(">=", res.OriginalTokens))
	})

	It("falls back to truncate when the provider errors", func() {
		cfg := compact.Config{Strategy: compact.Summarize, PreserveRecent: 10, TargetTokens: 40, SummaryMaxTokens: 100}
		failing := stubSummarizer{err: errors.New("boom")}
		res, err := compact.Compress(context.Background(), window, cfg, nil, failing)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.UsedFallback).To(BeTrue())
		Expect(res.NewWindow[0]).To(Equal(system))
	})

	It("falls back to truncate on an empty summary", func() {
		cfg := compact.Config{Strategy: compact.Summarize, PreserveRecent: 10, TargetTokens: 40, SummaryMaxTokens: 100}
		empty := stubSummarizer{summary: "   "}
		res, err := compact.Compress(context.Background(), window, cfg, nil, empty)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.UsedFallback).To(BeTrue())
	})

	It("inserts the summary immediately after the system message", func() {
		cfg := compact.Config{Strategy: compact.Summarize, PreserveRecent: 20, TargetTokens: 200, SummaryMaxTokens: 100}
		ok := stubSummarizer{summary: "a compact summary of prior turns"}
		res, err := compact.Compress(context.Background(), window, cfg, nil, ok)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.NewWindow[0]).To(Equal(system))
		Expect(res.NewWindow[1].Parts[0].Text).To(Equal("a compact summary of prior turns"))
	})
})
