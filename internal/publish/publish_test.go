package publish

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/csirt-tools/threatbrief/internal/database"
	"github.com/csirt-tools/threatbrief/internal/synthesize"
)

func ptr(s string) *string { return &s }

func testInput() *Input {
	return &Input{
		BriefingDate: "2026-08-29",
		Articles: []database.Article{
			{ID: 1, URL: "https://example.com/a", Title: "Driver flaw exploited", Source: ptr("BleepingComputer")},
			{ID: 2, URL: "https://example.com/b", Title: "Hospital network hit", Source: ptr("Krebs on Security")},
		},
		Scores: map[int64]database.ArticleScore{
			1: {ArticleID: 1, Score: 80, Category: "vulnerability"},
			2: {ArticleID: 2, Score: 55, Category: "breach"},
		},
		IOCs: []database.IOC{
			{Kind: "cve", Value: "CVE-2025-6205", Confidence: "high", Description: "actively exploited driver flaw"},
			{Kind: "filename", Value: "eskle.sys", Confidence: "medium", Description: "dropped driver"},
		},
		Tags: []database.Tag{
			{Label: "ransomware", Category: "technical", Confidence: 1.0, Count: 2},
			{Label: "healthcare", Category: "industries", Confidence: 0.675, Count: 1},
		},
		Outcome: &synthesize.Outcome{
			Method: synthesize.MethodTwoTier,
			State:  synthesize.StateTier2OK,
			Tier1:  synthesize.TierResult{Success: true, Tokens: 800},
			Tier2:  synthesize.TierResult{Success: true, Tokens: 900},
			Narrative: &synthesize.Narrative{
				ExecutiveSummary: "A vulnerable driver is being abused in the wild.",
				Sections: []synthesize.Section{
					{Heading: "Driver Exploitation", Analysis: "Privilege escalation continues."},
				},
				RiskTable: []synthesize.RiskRow{
					{Threat: "Driver abuse", Likelihood: "high", Impact: "high", Confidence: "medium"},
				},
				Recommendations:  []string{"Block the driver hash."},
				IntelligenceGaps: []string{"Initial access vector unconfirmed."},
			},
		},
	}
}

// parsedFrontmatter mirrors the document header for round-trip checks.
type parsedFrontmatter struct {
	Title      string   `yaml:"title"`
	Date       string   `yaml:"date"`
	Tags       []string `yaml:"tags"`
	Categories []string `yaml:"categories"`
	Author     string   `yaml:"author"`
	Summary    string   `yaml:"summary"`
	Metadata   struct {
		TotalArticles      int    `yaml:"total_articles"`
		TotalIOCs          int    `yaml:"total_iocs"`
		UniqueSources      int    `yaml:"unique_sources"`
		GeneratedTagsCount int    `yaml:"generated_tags_count"`
		SynthesisMethod    string `yaml:"synthesis_method"`
		Tier1Success       bool   `yaml:"tier_1_success"`
		Tier2Success       bool   `yaml:"tier_2_success"`
		Tier1Tokens        int    `yaml:"tier_1_tokens"`
		Tier2Tokens        int    `yaml:"tier_2_tokens"`
		FallbackUsed       bool   `yaml:"fallback_used"`
	} `yaml:"generation_metadata"`
}

func splitDocument(t *testing.T, doc string) (parsedFrontmatter, string) {
	t.Helper()
	parts := strings.SplitN(doc, "---\n", 3)
	if len(parts) != 3 || parts[0] != "" {
		t.Fatalf("document missing frontmatter delimiters")
	}

	var fm parsedFrontmatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		t.Fatalf("frontmatter is not valid YAML: %v", err)
	}
	return fm, parts[2]
}

func TestRenderFrontmatterContract(t *testing.T) {
	p := NewPublisher(t.TempDir(), "Threat Intelligence Desk")
	in := testInput()

	briefing, doc := p.Render(in)
	fm, _ := splitDocument(t, doc)

	if fm.Date != "2026-08-29" {
		t.Errorf("unexpected date: %q", fm.Date)
	}
	if fm.Author != "Threat Intelligence Desk" {
		t.Errorf("unexpected author: %q", fm.Author)
	}
	if fm.Metadata.TotalArticles != 2 || fm.Metadata.TotalIOCs != 2 || fm.Metadata.UniqueSources != 2 {
		t.Errorf("unexpected counts: %+v", fm.Metadata)
	}
	if fm.Metadata.GeneratedTagsCount != len(in.Tags) {
		t.Errorf("generated_tags_count %d must equal tag count %d", fm.Metadata.GeneratedTagsCount, len(in.Tags))
	}
	if len(fm.Tags) != len(in.Tags) {
		t.Errorf("frontmatter tags %v must cover all derived tags", fm.Tags)
	}
	if fm.Metadata.SynthesisMethod != "two_tier" || !fm.Metadata.Tier1Success || !fm.Metadata.Tier2Success {
		t.Errorf("synthesis metadata lost: %+v", fm.Metadata)
	}
	if fm.Metadata.Tier1Tokens != 800 || fm.Metadata.Tier2Tokens != 900 {
		t.Errorf("token metadata lost: %+v", fm.Metadata)
	}
	if fm.Metadata.FallbackUsed {
		t.Error("fallback_used must be false for two-tier success")
	}

	if briefing.GeneratedTagsCount != len(in.Tags) {
		t.Errorf("briefing record tag count mismatch: %d", briefing.GeneratedTagsCount)
	}
	if briefing.State != synthesize.StatePublished {
		t.Errorf("rendered briefing must be PUBLISHED, got %q", briefing.State)
	}
}

func TestRenderSectionOrder(t *testing.T) {
	p := NewPublisher(t.TempDir(), "Desk")

	_, doc := p.Render(testInput())
	_, body := splitDocument(t, doc)

	headings := []string{
		"## Executive Summary",
		"## Threat Landscape Analysis",
		"## Indicators of Compromise",
		"## All Tracked Articles",
		"## References",
	}
	last := -1
	for _, h := range headings {
		idx := strings.Index(body, h)
		if idx < 0 {
			t.Fatalf("missing section %q", h)
		}
		if idx < last {
			t.Errorf("section %q out of order", h)
		}
		last = idx
	}
}

func TestRenderIOCGrouping(t *testing.T) {
	p := NewPublisher(t.TempDir(), "Desk")

	_, doc := p.Render(testInput())

	if !strings.Contains(doc, "### CVE Identifiers") {
		t.Error("expected CVE group heading")
	}
	if !strings.Contains(doc, "### Filenames") {
		t.Error("expected filename group heading")
	}
	if !strings.Contains(doc, "`CVE-2025-6205`") || !strings.Contains(doc, "`eskle.sys`") {
		t.Error("expected indicator values in tables")
	}
}

func TestRenderArticleListAndRiskTable(t *testing.T) {
	p := NewPublisher(t.TempDir(), "Desk")

	_, doc := p.Render(testInput())

	if !strings.Contains(doc, "[Driver flaw exploited](https://example.com/a) - BleepingComputer (relevance 80, vulnerability)") {
		t.Error("expected scored article line")
	}
	if !strings.Contains(doc, "| Driver abuse | high | high | medium |") {
		t.Error("expected risk table row")
	}
	if !strings.Contains(doc, "- Block the driver hash.") {
		t.Error("expected recommendation")
	}
}

func TestRenderZeroArticleShell(t *testing.T) {
	p := NewPublisher(t.TempDir(), "Desk")

	in := &Input{
		BriefingDate: "2026-08-29",
		Tags: []database.Tag{
			{Label: "cybersecurity", Category: "technical", Confidence: 0.5},
			{Label: "threat-intelligence", Category: "technical", Confidence: 0.5},
		},
		Outcome: &synthesize.Outcome{Method: synthesize.MethodNone},
	}

	briefing, doc := p.Render(in)
	fm, body := splitDocument(t, doc)

	if fm.Metadata.TotalArticles != 0 || fm.Metadata.TotalIOCs != 0 {
		t.Errorf("expected zero counts, got %+v", fm.Metadata)
	}
	if fm.Metadata.SynthesisMethod != "none" || fm.Metadata.FallbackUsed {
		t.Errorf("zero-article metadata wrong: %+v", fm.Metadata)
	}
	if len(fm.Tags) != 2 {
		t.Errorf("expected default tags in frontmatter, got %v", fm.Tags)
	}
	// Document shape is stable even with nothing to report
	for _, h := range []string{"## Executive Summary", "## Indicators of Compromise", "## References"} {
		if !strings.Contains(body, h) {
			t.Errorf("missing section %q in empty briefing", h)
		}
	}
	if briefing.TotalArticles != 0 {
		t.Errorf("briefing record must carry zero counts, got %d", briefing.TotalArticles)
	}
}

func TestPublishWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "content", "posts")
	p := NewPublisher(dir, "Desk")

	briefing, path, err := p.Publish(testInput())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if filepath.Base(path) != "briefing-2026-08-29.md" {
		t.Errorf("unexpected filename: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading published file: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\n") {
		t.Error("published document must start with frontmatter")
	}
	if briefing.BodyMarkdown == "" {
		t.Error("briefing record must carry the body markdown")
	}
}

func TestSummaryLineCondensed(t *testing.T) {
	long := strings.Repeat("A sentence about threats. ", 30) + "\n\nSecond paragraph."
	got := summaryLine(long)
	if len(got) > 290 {
		t.Errorf("summary too long: %d chars", len(got))
	}
	if strings.Contains(got, "Second paragraph") {
		t.Error("summary must use only the first paragraph")
	}

	if summaryLine("") == "" {
		t.Error("empty synthesis still needs a summary line")
	}
}
