// Package publish renders a briefing into a Markdown document with YAML
// frontmatter and writes it to the content directory. Rendering is pure;
// writing is the only side effect, so tests can check documents without
// touching disk.
package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/csirt-tools/threatbrief/internal/database"
	"github.com/csirt-tools/threatbrief/internal/synthesize"
)

// frontmatter is the document header contract. Downstream site builds
// key on these fields; renaming one breaks every consumer.
type frontmatter struct {
	Title      string             `yaml:"title"`
	Date       string             `yaml:"date"`
	Tags       []string           `yaml:"tags"`
	Categories []string           `yaml:"categories"`
	Author     string             `yaml:"author"`
	Summary    string             `yaml:"summary"`
	Metadata   generationMetadata `yaml:"generation_metadata"`
}

type generationMetadata struct {
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
}

// Input is everything the renderer needs for one briefing.
type Input struct {
	BriefingDate string
	Articles     []database.Article
	Scores       map[int64]database.ArticleScore
	IOCs         []database.IOC
	Tags         []database.Tag
	Outcome      *synthesize.Outcome
}

// Publisher writes briefing documents to the content directory.
type Publisher struct {
	contentDir string
	author     string
}

// NewPublisher creates a publisher targeting contentDir.
func NewPublisher(contentDir, author string) *Publisher {
	return &Publisher{contentDir: contentDir, author: author}
}

// Publish renders the briefing and writes it to
// <content_dir>/briefing-YYYY-MM-DD.md. It returns the briefing record
// to persist and the path written.
func (p *Publisher) Publish(in *Input) (*database.Briefing, string, error) {
	briefing, doc := p.Render(in)

	if err := os.MkdirAll(p.contentDir, 0755); err != nil {
		return nil, "", fmt.Errorf("creating content dir: %w", err)
	}

	path := filepath.Join(p.contentDir, fmt.Sprintf("briefing-%s.md", in.BriefingDate))
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return nil, "", fmt.Errorf("writing briefing: %w", err)
	}

	return briefing, path, nil
}

// Render builds the complete Markdown document and the matching
// briefing record without touching disk.
func (p *Publisher) Render(in *Input) (*database.Briefing, string) {
	title := fmt.Sprintf("Daily Threat Intelligence Briefing - %s",
		database.FormatDateDisplay(in.BriefingDate))

	execSummary := ""
	if in.Outcome != nil && in.Outcome.Narrative != nil {
		execSummary = in.Outcome.Narrative.ExecutiveSummary
	}

	fm := frontmatter{
		Title:      title,
		Date:       in.BriefingDate,
		Tags:       tagLabels(in.Tags),
		Categories: tagCategories(in.Tags),
		Author:     p.author,
		Summary:    summaryLine(execSummary),
		Metadata: generationMetadata{
			TotalArticles:      len(in.Articles),
			TotalIOCs:          len(in.IOCs),
			UniqueSources:      countUniqueSources(in.Articles),
			GeneratedTagsCount: len(in.Tags),
		},
	}
	if in.Outcome != nil {
		fm.Metadata.SynthesisMethod = in.Outcome.Method
		fm.Metadata.Tier1Success = in.Outcome.Tier1.Success
		fm.Metadata.Tier2Success = in.Outcome.Tier2.Success
		fm.Metadata.Tier1Tokens = in.Outcome.Tier1.Tokens
		fm.Metadata.Tier2Tokens = in.Outcome.Tier2.Tokens
		fm.Metadata.FallbackUsed = in.Outcome.FallbackUsed
	} else {
		fm.Metadata.SynthesisMethod = synthesize.MethodNone
	}

	body := p.renderBody(in, execSummary)

	var sb strings.Builder
	sb.WriteString("---\n")
	fmData, err := yaml.Marshal(&fm)
	if err == nil {
		sb.Write(fmData)
	}
	sb.WriteString("---\n\n")
	sb.WriteString(body)

	briefing := &database.Briefing{
		BriefingDate:       in.BriefingDate,
		Title:              title,
		ExecutiveSummary:   execSummary,
		BodyMarkdown:       body,
		State:              synthesize.StatePublished,
		SynthesisMethod:    fm.Metadata.SynthesisMethod,
		TotalArticles:      fm.Metadata.TotalArticles,
		TotalIOCs:          fm.Metadata.TotalIOCs,
		UniqueSources:      fm.Metadata.UniqueSources,
		GeneratedTagsCount: fm.Metadata.GeneratedTagsCount,
		Tier1Success:       fm.Metadata.Tier1Success,
		Tier2Success:       fm.Metadata.Tier2Success,
		Tier1Tokens:        fm.Metadata.Tier1Tokens,
		Tier2Tokens:        fm.Metadata.Tier2Tokens,
		FallbackUsed:       fm.Metadata.FallbackUsed,
	}

	return briefing, sb.String()
}

// renderBody emits the fixed section order: Executive Summary, Threat
// Landscape Analysis, Indicators of Compromise, All Tracked Articles,
// References. Sections render even when empty so the document shape is
// stable day to day.
func (p *Publisher) renderBody(in *Input, execSummary string) string {
	var sb strings.Builder

	sb.WriteString("## Executive Summary\n\n")
	if execSummary != "" {
		sb.WriteString(execSummary)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("No synthesis available for this briefing.\n\n")
	}

	sb.WriteString("## Threat Landscape Analysis\n\n")
	p.renderAnalysis(&sb, in.Outcome)

	sb.WriteString("## Indicators of Compromise\n\n")
	renderIOCs(&sb, in.IOCs)

	sb.WriteString("## All Tracked Articles\n\n")
	renderArticles(&sb, in.Articles, in.Scores)

	sb.WriteString("## References\n\n")
	renderReferences(&sb, in.Articles)

	return sb.String()
}

func (p *Publisher) renderAnalysis(sb *strings.Builder, outcome *synthesize.Outcome) {
	if outcome == nil || outcome.Narrative == nil {
		sb.WriteString("No analysis was produced for this briefing.\n\n")
		return
	}
	n := outcome.Narrative

	for _, section := range n.Sections {
		fmt.Fprintf(sb, "### %s\n\n%s\n\n", section.Heading, section.Analysis)
	}

	if len(n.RiskTable) > 0 {
		sb.WriteString("### Risk Assessment\n\n")
		sb.WriteString("| Threat | Likelihood | Impact | Confidence |\n")
		sb.WriteString("|--------|------------|--------|------------|\n")
		for _, row := range n.RiskTable {
			fmt.Fprintf(sb, "| %s | %s | %s | %s |\n",
				row.Threat, row.Likelihood, row.Impact, row.Confidence)
		}
		sb.WriteString("\n")
	}

	if len(n.Recommendations) > 0 {
		sb.WriteString("### Recommended Actions\n\n")
		for _, rec := range n.Recommendations {
			fmt.Fprintf(sb, "- %s\n", rec)
		}
		sb.WriteString("\n")
	}

	if len(n.IntelligenceGaps) > 0 {
		sb.WriteString("### Intelligence Gaps\n\n")
		for _, gap := range n.IntelligenceGaps {
			fmt.Fprintf(sb, "- %s\n", gap)
		}
		sb.WriteString("\n")
	}
}

var kindHeadings = map[string]string{
	"cve":        "CVE Identifiers",
	"kb":         "Microsoft KB Articles",
	"sha256":     "SHA256 Hashes",
	"sha1":       "SHA1 Hashes",
	"md5":        "MD5 Hashes",
	"filename":   "Filenames",
	"error_code": "Error Codes",
}

func renderIOCs(sb *strings.Builder, iocs []database.IOC) {
	if len(iocs) == 0 {
		sb.WriteString("No indicators of compromise were extracted for this briefing.\n\n")
		return
	}

	// Incoming order is kind then value; walk it and emit one table per kind.
	current := ""
	for _, ioc := range iocs {
		if ioc.Kind != current {
			if current != "" {
				sb.WriteString("\n")
			}
			current = ioc.Kind
			fmt.Fprintf(sb, "### %s\n\n", kindHeading(current))
			sb.WriteString("| Value | Confidence | Context |\n")
			sb.WriteString("|-------|------------|--------|\n")
		}
		fmt.Fprintf(sb, "| `%s` | %s | %s |\n",
			ioc.Value, ioc.Confidence, escapePipes(ioc.Description))
	}
	sb.WriteString("\n")
}

func kindHeading(kind string) string {
	if h, ok := kindHeadings[kind]; ok {
		return h
	}
	if kind == "" {
		return "Other"
	}
	return strings.ToUpper(kind[:1]) + kind[1:]
}

func renderArticles(sb *strings.Builder, articles []database.Article, scores map[int64]database.ArticleScore) {
	if len(articles) == 0 {
		sb.WriteString("No qualifying articles were tracked for this briefing.\n\n")
		return
	}

	for _, a := range articles {
		source := "Unknown"
		if a.Source != nil {
			source = *a.Source
		}
		if s, ok := scores[a.ID]; ok {
			fmt.Fprintf(sb, "- [%s](%s) - %s (relevance %d, %s)\n",
				a.Title, a.URL, source, s.Score, s.Category)
		} else {
			fmt.Fprintf(sb, "- [%s](%s) - %s\n", a.Title, a.URL, source)
		}
	}
	sb.WriteString("\n")
}

func renderReferences(sb *strings.Builder, articles []database.Article) {
	if len(articles) == 0 {
		sb.WriteString("None.\n")
		return
	}

	counts := make(map[string]int)
	var order []string
	for _, a := range articles {
		source := "Unknown"
		if a.Source != nil {
			source = *a.Source
		}
		if _, ok := counts[source]; !ok {
			order = append(order, source)
		}
		counts[source]++
	}
	sort.Strings(order)

	for _, source := range order {
		fmt.Fprintf(sb, "- %s (%d article(s))\n", source, counts[source])
	}
}

func tagLabels(tags []database.Tag) []string {
	labels := make([]string, 0, len(tags))
	for _, t := range tags {
		labels = append(labels, t.Label)
	}
	return labels
}

// tagCategories returns the distinct tag categories in tag order.
func tagCategories(tags []database.Tag) []string {
	seen := make(map[string]struct{})
	var categories []string
	for _, t := range tags {
		if _, ok := seen[t.Category]; ok {
			continue
		}
		seen[t.Category] = struct{}{}
		categories = append(categories, t.Category)
	}
	return categories
}

func countUniqueSources(articles []database.Article) int {
	seen := make(map[string]struct{})
	for _, a := range articles {
		if a.Source != nil && *a.Source != "" {
			seen[*a.Source] = struct{}{}
		}
	}
	return len(seen)
}

// summaryLine condenses the executive summary into a single frontmatter
// line: first paragraph, markdown emphasis stripped, capped at 280 chars.
func summaryLine(execSummary string) string {
	if execSummary == "" {
		return "Daily threat intelligence briefing."
	}

	para := execSummary
	if idx := strings.Index(para, "\n\n"); idx > 0 {
		para = para[:idx]
	}
	para = strings.Join(strings.Fields(para), " ")
	para = strings.ReplaceAll(para, "**", "")
	para = strings.ReplaceAll(para, "*", "")

	if len(para) > 280 {
		para = para[:280]
		if idx := strings.LastIndex(para, " "); idx > 0 {
			para = para[:idx]
		}
		para += "..."
	}
	return para
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
