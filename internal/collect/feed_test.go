package collect

import (
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
)

func TestStripHTML(t *testing.T) {
	in := `<p>Attackers used <b>CVE-2025-6205</b> &amp; a signed driver.</p>`
	got := stripHTML(in)
	want := "Attackers used CVE-2025-6205 & a signed driver."
	if got != want {
		t.Errorf("stripHTML: got %q, want %q", got, want)
	}
}

func TestExtractSourceName(t *testing.T) {
	cases := map[string]string{
		"https://feeds.feedburner.com/TheHackersNews":       "Feedburner",
		"https://www.bleepingcomputer.com/feed/":            "Bleepingcomputer",
		"https://krebsonsecurity.com/feed/":                 "Krebsonsecurity",
		"https://www.cisa.gov/cybersecurity-advisories.xml": "Cisa",
	}
	for url, want := range cases {
		if got := extractSourceName(url); got != want {
			t.Errorf("extractSourceName(%q): got %q, want %q", url, got, want)
		}
	}
}

func TestParseItemFallbacks(t *testing.T) {
	pub := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	entry := parseItem(&gofeed.Item{
		GUID:            "https://example.com/post",
		Title:           "  Driver flaw exploited  ",
		Description:     "<p>Short teaser</p>",
		PublishedParsed: &pub,
	}, "Example Feed")

	if entry == nil {
		t.Fatal("expected entry")
	}
	if entry.URL != "https://example.com/post" {
		t.Errorf("expected GUID fallback for URL, got %q", entry.URL)
	}
	if entry.Title != "Driver flaw exploited" {
		t.Errorf("expected trimmed title, got %q", entry.Title)
	}
	if entry.PublishedDate != "2026-08-29" {
		t.Errorf("expected normalized date, got %q", entry.PublishedDate)
	}
	if entry.Content != "Short teaser" {
		t.Errorf("expected stripped description as content, got %q", entry.Content)
	}
}

func TestParseItemRejectsUnusable(t *testing.T) {
	if parseItem(&gofeed.Item{Title: "No link"}, "Feed") != nil {
		t.Error("expected nil for item without URL")
	}
	if parseItem(&gofeed.Item{Link: "https://example.com", Title: "  "}, "Feed") != nil {
		t.Error("expected nil for item without title")
	}
}

func TestIsWithinWindow(t *testing.T) {
	cutoff := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	if !isWithinWindow("2026-08-29", cutoff) {
		t.Error("date after cutoff must be within window")
	}
	if isWithinWindow("2026-08-20", cutoff) {
		t.Error("date before cutoff must be outside window")
	}
	if !isWithinWindow("", cutoff) {
		t.Error("missing date gets benefit of the doubt")
	}
	if !isWithinWindow("garbage", cutoff) {
		t.Error("unparseable date gets benefit of the doubt")
	}
}
