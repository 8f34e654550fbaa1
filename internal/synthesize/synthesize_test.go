package synthesize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/csirt-tools/threatbrief/internal/database"
	"github.com/csirt-tools/threatbrief/internal/llm"
)

// mockProvider implements llm.Provider, replaying queued completions.
type mockProvider struct {
	completions []*llm.Completion
	errs        []error
	prompts     []string
	calls       int
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (*llm.Completion, error) {
	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.completions) {
		return m.completions[i], nil
	}
	return nil, fmt.Errorf("unexpected call %d", i)
}

func (m *mockProvider) IsConfigured() bool { return true }

func ptr(s string) *string { return &s }

func tier1Response(t *testing.T, tokens int) *llm.Completion {
	t.Helper()
	data, _ := json.Marshal(map[string]any{
		"topics": []map[string]any{
			{
				"topic":             "Driver exploitation",
				"entities":          []string{"LockBit"},
				"cves":              []string{"CVE-2025-6205"},
				"attack_techniques": []string{"T1068"},
				"industries":        []map[string]string{{"name": "healthcare", "exposure": "high"}},
			},
		},
	})
	return &llm.Completion{Text: string(data), Tokens: tokens}
}

func tier2Response(t *testing.T, tokens int) *llm.Completion {
	t.Helper()
	data, _ := json.Marshal(map[string]any{
		"executive_summary": "A vulnerable driver is being abused in the wild.",
		"sections": []map[string]string{
			{"heading": "Driver Exploitation", "analysis": "Privilege escalation via signed drivers continues."},
		},
		"risk_table": []map[string]string{
			{"threat": "Driver abuse", "likelihood": "high", "impact": "high", "confidence": "medium"},
		},
		"recommendations":   []string{"Block the vulnerable driver hash."},
		"intelligence_gaps": []string{"Initial access vector unconfirmed."},
	})
	return &llm.Completion{Text: string(data), Tokens: tokens}
}

func testArticles() []database.Article {
	return []database.Article{
		{ID: 1, Title: "Driver flaw exploited", Source: ptr("BleepingComputer"), Content: ptr("Details about CVE-2025-6205.")},
		{ID: 2, Title: "Hospital network hit", Source: ptr("Krebs on Security")},
	}
}

func collectStates(s *Synthesizer) *[]string {
	var states []string
	s.OnStateChange(func(state string) { states = append(states, state) })
	return &states
}

func TestTwoTierSuccess(t *testing.T) {
	provider := &mockProvider{completions: []*llm.Completion{tier1Response(t, 800), tier2Response(t, 900)}}
	s := NewSynthesizer(provider, 2048, 2048)
	states := collectStates(s)

	out := s.Synthesize(context.Background(), testArticles(), map[int64]string{1: "vulnerability"})

	if out.Method != MethodTwoTier {
		t.Errorf("expected two_tier, got %q", out.Method)
	}
	if !out.Tier1.Success || !out.Tier2.Success {
		t.Errorf("expected both tiers to succeed: %+v", out)
	}
	if out.Tier1.Tokens != 800 || out.Tier2.Tokens != 900 {
		t.Errorf("token telemetry lost: %d/%d", out.Tier1.Tokens, out.Tier2.Tokens)
	}
	if out.FallbackUsed {
		t.Error("fallback must not be flagged on success")
	}
	if out.Narrative == nil || out.Narrative.ExecutiveSummary == "" {
		t.Fatal("expected narrative")
	}
	if len(out.Narrative.RiskTable) != 1 || out.Narrative.RiskTable[0].Likelihood != "high" {
		t.Errorf("risk table not parsed: %+v", out.Narrative.RiskTable)
	}

	want := []string{StatePending, StateTier1Running, StateTier1OK, StateTier2Running, StateTier2OK}
	if strings.Join(*states, ",") != strings.Join(want, ",") {
		t.Errorf("state trail %v, want %v", *states, want)
	}
}

func TestTier2ConsumesFactsNotArticles(t *testing.T) {
	provider := &mockProvider{completions: []*llm.Completion{tier1Response(t, 100), tier2Response(t, 100)}}
	s := NewSynthesizer(provider, 2048, 2048)

	s.Synthesize(context.Background(), testArticles(), nil)

	if len(provider.prompts) != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", len(provider.prompts))
	}
	if !strings.Contains(provider.prompts[0], "Driver flaw exploited") {
		t.Error("tier 1 prompt must carry article text")
	}
	if strings.Contains(provider.prompts[1], "Details about CVE-2025-6205.") {
		t.Error("tier 2 prompt must not carry raw article content")
	}
	if !strings.Contains(provider.prompts[1], "CVE-2025-6205") {
		t.Error("tier 2 prompt must carry extracted facts")
	}
}

func TestTier1FailureFallsBackWithoutTier2(t *testing.T) {
	provider := &mockProvider{errs: []error{fmt.Errorf("model unavailable")}}
	s := NewSynthesizer(provider, 2048, 2048)
	states := collectStates(s)

	out := s.Synthesize(context.Background(), testArticles(), map[int64]string{1: "vulnerability", 2: "breach"})

	if out.Method != MethodTemplate || !out.FallbackUsed {
		t.Errorf("expected template fallback, got method=%q fallback=%v", out.Method, out.FallbackUsed)
	}
	if out.Tier1.Success || out.Tier2.Success {
		t.Error("no tier may report success")
	}
	if provider.calls != 1 {
		t.Errorf("tier 2 must not run after tier 1 failure, got %d calls", provider.calls)
	}
	if out.Narrative == nil || !strings.Contains(out.Narrative.ExecutiveSummary, "unavailable") {
		t.Errorf("expected honest fallback summary, got %+v", out.Narrative)
	}
	// Fallback lists headlines grouped by category
	if len(out.Narrative.Sections) != 2 {
		t.Errorf("expected one section per category, got %d", len(out.Narrative.Sections))
	}

	if (*states)[len(*states)-1] != StateFallback {
		t.Errorf("expected terminal FALLBACK state, got %v", *states)
	}
}

func TestTier1BudgetOverrunIsFailure(t *testing.T) {
	provider := &mockProvider{completions: []*llm.Completion{tier1Response(t, 3000)}}
	s := NewSynthesizer(provider, 2048, 2048)

	out := s.Synthesize(context.Background(), testArticles(), nil)

	if out.Tier1.Success {
		t.Error("budget overrun must be a tier failure even with parseable output")
	}
	if out.Tier1.Tokens != 3000 {
		t.Errorf("overrun tokens must still be reported, got %d", out.Tier1.Tokens)
	}
	if out.Method != MethodTemplate || !out.FallbackUsed {
		t.Errorf("expected fallback after overrun, got %q", out.Method)
	}
}

func TestTier2BudgetOverrunFallsBack(t *testing.T) {
	provider := &mockProvider{completions: []*llm.Completion{tier1Response(t, 500), tier2Response(t, 2500)}}
	s := NewSynthesizer(provider, 2048, 2048)
	states := collectStates(s)

	out := s.Synthesize(context.Background(), testArticles(), nil)

	if !out.Tier1.Success {
		t.Error("tier 1 should have succeeded")
	}
	if out.Tier2.Success {
		t.Error("tier 2 overrun must fail")
	}
	if out.Method != MethodTemplate || !out.FallbackUsed {
		t.Errorf("expected template fallback, got %q", out.Method)
	}

	joined := strings.Join(*states, ",")
	if !strings.Contains(joined, StateTier2Failed) || !strings.HasSuffix(joined, StateFallback) {
		t.Errorf("expected TIER2_FAILED then FALLBACK, got %v", *states)
	}
}

func TestUnparseableTier1FallsBack(t *testing.T) {
	provider := &mockProvider{completions: []*llm.Completion{{Text: "not json at all", Tokens: 50}}}
	s := NewSynthesizer(provider, 2048, 2048)

	out := s.Synthesize(context.Background(), testArticles(), nil)

	if out.Tier1.Success {
		t.Error("unparseable output must be a tier failure")
	}
	if out.Method != MethodTemplate {
		t.Errorf("expected template fallback, got %q", out.Method)
	}
}

func TestZeroArticlesSkipsSynthesis(t *testing.T) {
	provider := &mockProvider{}
	s := NewSynthesizer(provider, 2048, 2048)
	states := collectStates(s)

	out := s.Synthesize(context.Background(), nil, nil)

	if out.Method != MethodNone {
		t.Errorf("expected method none, got %q", out.Method)
	}
	if out.Tier1.Success || out.Tier2.Success || out.FallbackUsed {
		t.Errorf("zero-article day must report no success and no fallback: %+v", out)
	}
	if out.Tier1.Tokens != 0 || out.Tier2.Tokens != 0 {
		t.Error("expected zero token counts")
	}
	if provider.calls != 0 {
		t.Errorf("no LLM calls expected, got %d", provider.calls)
	}
	if (*states)[len(*states)-1] != StateTier2Failed {
		t.Errorf("expected terminal TIER2_FAILED, got %v", *states)
	}
}

func TestNilProviderFallsBack(t *testing.T) {
	s := NewSynthesizer(nil, 2048, 2048)

	out := s.Synthesize(context.Background(), testArticles(), nil)

	if out.Method != MethodTemplate || !out.FallbackUsed {
		t.Errorf("expected template fallback without a provider, got %q", out.Method)
	}
}

func TestDeterministicFallback(t *testing.T) {
	s := NewSynthesizer(nil, 2048, 2048)
	categories := map[int64]string{1: "vulnerability", 2: "breach"}

	a := s.Synthesize(context.Background(), testArticles(), categories)
	b := s.Synthesize(context.Background(), testArticles(), categories)

	if a.Narrative.ExecutiveSummary != b.Narrative.ExecutiveSummary {
		t.Error("fallback narrative must be deterministic")
	}
	if len(a.Narrative.Sections) != len(b.Narrative.Sections) {
		t.Fatal("fallback sections must be deterministic")
	}
	for i := range a.Narrative.Sections {
		if a.Narrative.Sections[i] != b.Narrative.Sections[i] {
			t.Errorf("section %d differs between runs", i)
		}
	}
}
