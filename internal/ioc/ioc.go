// Package ioc extracts indicators of compromise from qualifying article
// text. Patterns come from configuration; extraction is deterministic and
// deduplicated per briefing.
package ioc

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/csirt-tools/threatbrief/internal/config"
	"github.com/csirt-tools/threatbrief/internal/database"
)

const contextWindow = 120

// pattern is a compiled indicator pattern.
type pattern struct {
	kind        string
	confidence  string
	specificity int
	re          *regexp.Regexp
}

// Extractor scans article text for indicator patterns.
type Extractor struct {
	patterns []pattern
	markers  []string
	watch    []string // lowercase watchlist keywords, upgrade confidence to high
}

// NewExtractor compiles the configured pattern set. Watchlist keywords
// mark indicators as vendor-confirmed (high confidence) when they appear
// near a match.
func NewExtractor(cfg config.IOC, watchlist []string) (*Extractor, error) {
	e := &Extractor{markers: cfg.BoilerplateMarkers}

	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", p.Kind, err)
		}
		e.patterns = append(e.patterns, pattern{
			kind:        p.Kind,
			confidence:  p.Confidence,
			specificity: p.Specificity,
			re:          re,
		})
	}

	for _, w := range watchlist {
		e.watch = append(e.watch, strings.ToLower(w))
	}

	return e, nil
}

// candidate is a single raw match before overlap resolution and dedup.
type candidate struct {
	start, end  int
	kind        string
	value       string
	confidence  string
	specificity int
	context     string
}

// Extract scans the given articles (in first-seen order) and returns the
// deduplicated indicator set, ordered by kind then value.
func (e *Extractor) Extract(briefingDate string, articles []database.Article) []database.IOC {
	type entry struct {
		ioc   database.IOC
		descs []string
	}
	seen := make(map[string]*entry)

	for _, article := range articles {
		text := scannableText(article, e.markers)
		if text == "" {
			continue
		}

		for _, c := range e.resolveOverlaps(e.findCandidates(text)) {
			conf := c.confidence
			if e.watchlisted(c.context) {
				conf = "high"
			}

			value := normalizeValue(c.kind, c.value)
			key := c.kind + "\x00" + value
			desc := describeContext(c.context)

			if ex, ok := seen[key]; ok {
				if confRank(conf) > confRank(ex.ioc.Confidence) {
					ex.ioc.Confidence = conf
				}
				if desc != "" && !containsString(ex.descs, desc) {
					ex.descs = append(ex.descs, desc)
				}
				continue
			}

			ent := &entry{ioc: database.IOC{
				BriefingDate: briefingDate,
				Kind:         c.kind,
				Value:        value,
				Confidence:   conf,
			}}
			if desc != "" {
				ent.descs = []string{desc}
			}
			seen[key] = ent
		}
	}

	iocs := make([]database.IOC, 0, len(seen))
	for _, ent := range seen {
		ent.ioc.Description = strings.Join(ent.descs, "; ")
		iocs = append(iocs, ent.ioc)
	}

	sort.Slice(iocs, func(i, j int) bool {
		if iocs[i].Kind != iocs[j].Kind {
			return iocs[i].Kind < iocs[j].Kind
		}
		return iocs[i].Value < iocs[j].Value
	})
	return iocs
}

func (e *Extractor) findCandidates(text string) []candidate {
	var cands []candidate
	for _, p := range e.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			cands = append(cands, candidate{
				start:       loc[0],
				end:         loc[1],
				kind:        p.kind,
				value:       text[loc[0]:loc[1]],
				confidence:  p.confidence,
				specificity: p.specificity,
				context:     contextAround(text, loc[0], loc[1]),
			})
		}
	}
	return cands
}

// resolveOverlaps keeps at most one candidate per text span: the most
// specific pattern wins, longer matches break ties, then earlier position.
func (e *Extractor) resolveOverlaps(cands []candidate) []candidate {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].specificity != cands[j].specificity {
			return cands[i].specificity > cands[j].specificity
		}
		li, lj := cands[i].end-cands[i].start, cands[j].end-cands[j].start
		if li != lj {
			return li > lj
		}
		return cands[i].start < cands[j].start
	})

	var kept []candidate
	for _, c := range cands {
		overlaps := false
		for _, k := range kept {
			if c.start < k.end && k.start < c.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}

	// Restore document order so first-seen semantics hold downstream.
	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

func (e *Extractor) watchlisted(context string) bool {
	lowered := strings.ToLower(context)
	for _, w := range e.watch {
		if w != "" && strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

// scannableText returns the article text with boilerplate and reference
// sections stripped and URL tokens blanked. Source names and links must
// never yield indicators.
func scannableText(article database.Article, markers []string) string {
	text := article.Title
	if article.Content != nil {
		text += "\n" + *article.Content
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isBoilerplate(trimmed, markers) {
			break // everything after a reference/footer marker is boilerplate
		}
		kept = append(kept, line)
	}

	return blankURLs(strings.Join(kept, "\n"))
}

func isBoilerplate(line string, markers []string) bool {
	for _, m := range markers {
		if strings.HasPrefix(line, m) {
			return true
		}
	}
	return false
}

func blankURLs(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if strings.Contains(f, "://") || strings.HasPrefix(strings.ToLower(f), "www.") {
			fields[i] = ""
		}
	}
	return strings.Join(fields, " ")
}

func contextAround(text string, start, end int) string {
	lo := start - contextWindow
	if lo < 0 {
		lo = 0
	}
	hi := end + contextWindow
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}

// describeContext condenses a context window into a short description.
func describeContext(context string) string {
	s := strings.Join(strings.Fields(context), " ")
	if len(s) > 140 {
		s = s[:140]
		// avoid cutting mid-word
		if idx := strings.LastIndex(s, " "); idx > 0 {
			s = s[:idx]
		}
	}
	return s
}

func normalizeValue(kind, value string) string {
	switch kind {
	case "cve", "kb":
		return strings.ToUpper(value)
	case "md5", "sha1", "sha256", "filename":
		return strings.ToLower(value)
	}
	return value
}

func confRank(confidence string) int {
	switch confidence {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	}
	return 0
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
