// Package synthesize runs the two-tier narrative synthesis for a
// briefing: an extraction pass over article text (tier 1) and a
// strategic narrative pass over the extracted facts (tier 2). Tier 2
// never consumes raw articles, and never reports success on top of a
// failed tier 1 without an explicit fallback.
package synthesize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/csirt-tools/threatbrief/internal/database"
	"github.com/csirt-tools/threatbrief/internal/llm"
)

// Briefing lifecycle states.
const (
	StatePending      = "PENDING"
	StateTier1Running = "TIER1_RUNNING"
	StateTier1OK      = "TIER1_OK"
	StateTier1Failed  = "TIER1_FAILED"
	StateTier2Running = "TIER2_RUNNING"
	StateTier2OK      = "TIER2_OK"
	StateTier2Failed  = "TIER2_FAILED"
	StateFallback     = "FALLBACK"
	StatePublished    = "PUBLISHED"
)

// Synthesis methods recorded in briefing metadata.
const (
	MethodTwoTier  = "two_tier"
	MethodTemplate = "template"
	MethodNone     = "none"
)

const tier1Prompt = `You are the extraction pass of a daily threat intelligence briefing pipeline.

Extract structured facts from today's qualifying security articles. Do not editorialize; report only what the articles state.

Articles:
%s

Respond with ONLY this JSON:
{
    "topics": [
        {
            "topic": "Short topic name",
            "entities": ["threat actor, vendor, or product names"],
            "cves": ["CVE-YYYY-NNNNN identifiers mentioned"],
            "attack_techniques": ["MITRE ATT&CK technique IDs, e.g. T1566"],
            "industries": [
                {"name": "industry name", "exposure": "low" | "medium" | "high"}
            ]
        }
    ]
}`

const tier2Prompt = `You are the synthesis pass of a daily threat intelligence briefing pipeline.

Below are structured facts extracted from today's qualifying articles. Write the strategic narrative for the daily briefing. Base every statement on the facts given; name intelligence gaps instead of guessing.

Extracted facts:
%s

Respond with ONLY this JSON:
{
    "executive_summary": "2-3 paragraph executive summary in markdown",
    "sections": [
        {"heading": "Threat landscape section heading", "analysis": "1-2 paragraph analysis"}
    ],
    "risk_table": [
        {"threat": "...", "likelihood": "low|medium|high", "impact": "low|medium|high", "confidence": "low|medium|high"}
    ],
    "recommendations": ["actionable recommendation"],
    "intelligence_gaps": ["what today's reporting does not answer"]
}`

// TierResult records the outcome and token telemetry of one tier.
type TierResult struct {
	Success bool
	Tokens  int
	Err     error
}

// IndustryExposure rates one industry's exposure to a topic.
type IndustryExposure struct {
	Name     string `json:"name"`
	Exposure string `json:"exposure"`
}

// TopicFacts is the tier-1 structured extraction for one topic.
type TopicFacts struct {
	Topic      string             `json:"topic"`
	Entities   []string           `json:"entities,omitempty"`
	CVEs       []string           `json:"cves,omitempty"`
	Techniques []string           `json:"attack_techniques,omitempty"`
	Industries []IndustryExposure `json:"industries,omitempty"`
}

// StructuredFacts is the complete tier-1 output consumed by tier 2.
type StructuredFacts struct {
	Topics []TopicFacts `json:"topics"`
}

// Section is one threat-landscape section of the narrative.
type Section struct {
	Heading  string
	Analysis string
}

// RiskRow is one row of the narrative's risk table.
type RiskRow struct {
	Threat     string
	Likelihood string
	Impact     string
	Confidence string
}

// Narrative is the tier-2 (or template fallback) synthesis output.
type Narrative struct {
	ExecutiveSummary string
	Sections         []Section
	RiskTable        []RiskRow
	Recommendations  []string
	IntelligenceGaps []string
}

// Outcome is the complete synthesis result for one briefing.
type Outcome struct {
	Method       string
	State        string // terminal pre-publish state
	Tier1        TierResult
	Tier2        TierResult
	Facts        *StructuredFacts
	Narrative    *Narrative
	FallbackUsed bool
}

// Synthesizer runs the two synthesis tiers against an LLM provider.
type Synthesizer struct {
	provider    llm.Provider
	tier1Budget int
	tier2Budget int
	onState     func(state string)
}

// NewSynthesizer creates a synthesizer. The provider may be nil, in
// which case both tiers fail and the template fallback carries the
// briefing.
func NewSynthesizer(provider llm.Provider, tier1Budget, tier2Budget int) *Synthesizer {
	return &Synthesizer{
		provider:    provider,
		tier1Budget: tier1Budget,
		tier2Budget: tier2Budget,
	}
}

// OnStateChange registers a hook invoked at every lifecycle transition.
func (s *Synthesizer) OnStateChange(fn func(state string)) {
	s.onState = fn
}

func (s *Synthesizer) setState(state string) string {
	if s.onState != nil {
		s.onState(state)
	}
	return state
}

// Synthesize runs tier 1 then tier 2 over the qualifying articles.
// categories maps article ID to the relevance-assigned category, used by
// the template fallback. Synthesis never blocks publication: every
// failure path still returns an Outcome the renderer can publish.
func (s *Synthesizer) Synthesize(ctx context.Context, articles []database.Article, categories map[int64]string) *Outcome {
	out := &Outcome{Method: MethodNone}
	s.setState(StatePending)

	// Degenerate zero-article day: both tiers are skipped, flags stay
	// false, no fallback is used, and the briefing shell publishes with
	// accurate zero counts.
	if len(articles) == 0 {
		log.Println("No qualifying articles; skipping synthesis")
		s.setState(StateTier1Running)
		s.setState(StateTier1Failed)
		s.setState(StateTier2Running)
		out.State = s.setState(StateTier2Failed)
		return out
	}

	s.setState(StateTier1Running)
	facts, tier1 := s.runTier1(ctx, articles)
	out.Tier1 = tier1
	out.Facts = facts

	if !tier1.Success {
		s.setState(StateTier1Failed)
		log.Printf("Tier 1 failed: %v", tier1.Err)
		// Tier 2 must not run on a failed tier 1; fall back to the
		// template synthesis so the briefing still publishes.
		s.setState(StateTier2Running)
		out.Narrative = templateNarrative(articles, categories)
		out.Method = MethodTemplate
		out.FallbackUsed = true
		out.State = s.setState(StateFallback)
		return out
	}

	s.setState(StateTier1OK)
	s.setState(StateTier2Running)

	narrative, tier2 := s.runTier2(ctx, facts)
	out.Tier2 = tier2

	if !tier2.Success {
		log.Printf("Tier 2 failed: %v", tier2.Err)
		s.setState(StateTier2Failed)
		out.Narrative = templateNarrative(articles, categories)
		out.Method = MethodTemplate
		out.FallbackUsed = true
		out.State = s.setState(StateFallback)
		return out
	}

	out.Narrative = narrative
	out.Method = MethodTwoTier
	out.State = s.setState(StateTier2OK)
	return out
}

// runTier1 performs the extraction pass. A call that errors, busts its
// token budget, or returns unparseable JSON is a tier failure; there is
// no such thing as a partially successful extraction.
func (s *Synthesizer) runTier1(ctx context.Context, articles []database.Article) (*StructuredFacts, TierResult) {
	if s.provider == nil {
		return nil, TierResult{Err: fmt.Errorf("no LLM provider available")}
	}

	prompt := fmt.Sprintf(tier1Prompt, formatArticles(articles))
	completion, err := s.provider.Generate(ctx, prompt, s.tier1Budget)
	if err != nil {
		return nil, TierResult{Err: err}
	}
	if completion.Tokens > s.tier1Budget {
		return nil, TierResult{Tokens: completion.Tokens,
			Err: fmt.Errorf("tier 1 exceeded token budget: %d > %d", completion.Tokens, s.tier1Budget)}
	}

	facts := parseFacts(completion.Text)
	if facts == nil || len(facts.Topics) == 0 {
		return nil, TierResult{Tokens: completion.Tokens,
			Err: fmt.Errorf("tier 1 returned no parseable topics")}
	}

	return facts, TierResult{Success: true, Tokens: completion.Tokens}
}

// runTier2 performs the narrative pass over tier-1 facts only. The
// signature enforces the contract: there is no way to hand it raw
// articles or a nil fact set from the success path.
func (s *Synthesizer) runTier2(ctx context.Context, facts *StructuredFacts) (*Narrative, TierResult) {
	factsJSON, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return nil, TierResult{Err: fmt.Errorf("marshaling facts: %w", err)}
	}

	prompt := fmt.Sprintf(tier2Prompt, string(factsJSON))
	completion, err := s.provider.Generate(ctx, prompt, s.tier2Budget)
	if err != nil {
		return nil, TierResult{Err: err}
	}
	if completion.Tokens > s.tier2Budget {
		return nil, TierResult{Tokens: completion.Tokens,
			Err: fmt.Errorf("tier 2 exceeded token budget: %d > %d", completion.Tokens, s.tier2Budget)}
	}

	narrative := parseNarrative(completion.Text)
	if narrative == nil || narrative.ExecutiveSummary == "" {
		return nil, TierResult{Tokens: completion.Tokens,
			Err: fmt.Errorf("tier 2 returned no parseable narrative")}
	}

	return narrative, TierResult{Success: true, Tokens: completion.Tokens}
}

func parseFacts(text string) *StructuredFacts {
	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		return nil
	}

	// Round-trip through JSON to map the loose structure onto the types.
	data, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	var facts StructuredFacts
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil
	}
	return &facts
}

func parseNarrative(text string) *Narrative {
	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		return nil
	}

	n := &Narrative{
		ExecutiveSummary: getString(parsed, "executive_summary"),
		Recommendations:  getStringList(parsed, "recommendations"),
		IntelligenceGaps: getStringList(parsed, "intelligence_gaps"),
	}

	if arr, ok := parsed["sections"].([]any); ok {
		for _, item := range arr {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			n.Sections = append(n.Sections, Section{
				Heading:  getString(obj, "heading"),
				Analysis: getString(obj, "analysis"),
			})
		}
	}

	if arr, ok := parsed["risk_table"].([]any); ok {
		for _, item := range arr {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			n.RiskTable = append(n.RiskTable, RiskRow{
				Threat:     getString(obj, "threat"),
				Likelihood: getString(obj, "likelihood"),
				Impact:     getString(obj, "impact"),
				Confidence: getString(obj, "confidence"),
			})
		}
	}

	return n
}

// templateNarrative builds a degraded-but-honest narrative from article
// metadata alone. It lists what was tracked; it does not invent analysis.
func templateNarrative(articles []database.Article, categories map[int64]string) *Narrative {
	byCategory := make(map[string][]database.Article)
	var order []string
	for _, a := range articles {
		cat := categories[a.ID]
		if cat == "" {
			cat = "general"
		}
		if _, ok := byCategory[cat]; !ok {
			order = append(order, cat)
		}
		byCategory[cat] = append(byCategory[cat], a)
	}

	summary := fmt.Sprintf(
		"Automated synthesis was unavailable for this briefing. %d qualifying article(s) were tracked across %d categories; headlines are listed below without further analysis.",
		len(articles), len(order),
	)

	n := &Narrative{
		ExecutiveSummary: summary,
		IntelligenceGaps: []string{"Model-based synthesis failed; no cross-article analysis was performed."},
	}

	for _, cat := range order {
		var lines []string
		for _, a := range byCategory[cat] {
			source := "Unknown"
			if a.Source != nil {
				source = *a.Source
			}
			lines = append(lines, fmt.Sprintf("- **%s** (%s)", a.Title, source))
		}
		n.Sections = append(n.Sections, Section{
			Heading:  titleCase(cat),
			Analysis: strings.Join(lines, "\n"),
		})
	}

	return n
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatArticles(articles []database.Article) string {
	var parts []string
	for i, article := range articles {
		var contentPreview string
		if article.Content != nil {
			content := *article.Content
			if len(content) > 1500 {
				content = content[:1500]
			}
			contentPreview = fmt.Sprintf("\n  Content: %s...", content)
		}

		source := "Unknown"
		if article.Source != nil {
			source = *article.Source
		}

		parts = append(parts, fmt.Sprintf("[%d] %s\n  Source: %s%s",
			i+1, article.Title, source, contentPreview))
	}
	return strings.Join(parts, "\n\n")
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getStringList(m map[string]any, key string) []string {
	var out []string
	if arr, ok := m[key].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
