package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigParses(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("default config failed to parse: %v", err)
	}

	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected default feeds")
	}
	if len(cfg.Relevance.KeywordWeights) == 0 {
		t.Error("expected default keyword weights")
	}
	if len(cfg.IOC.Patterns) != 7 {
		t.Errorf("expected 7 IOC patterns, got %d", len(cfg.IOC.Patterns))
	}
	if len(cfg.Tags.Vocabulary) == 0 {
		t.Error("expected tag vocabulary")
	}
	if cfg.Synthesis.Tier1Budget != 2048 || cfg.Synthesis.Tier2Budget != 2048 {
		t.Errorf("expected 2048 token budgets, got %d/%d", cfg.Synthesis.Tier1Budget, cfg.Synthesis.Tier2Budget)
	}
	if cfg.Output.Author != "Threat Intelligence Desk" {
		t.Errorf("unexpected author: %q", cfg.Output.Author)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := parse([]byte("sources:\n  feeds: []\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cfg.Synthesis.Provider != "ollama" {
		t.Errorf("expected ollama default provider, got %q", cfg.Synthesis.Provider)
	}
	if cfg.Relevance.SourceBoost != 10 {
		t.Errorf("expected default source boost 10, got %d", cfg.Relevance.SourceBoost)
	}
	if len(cfg.Tags.DefaultTags) != 2 {
		t.Errorf("expected 2 default tags, got %d", len(cfg.Tags.DefaultTags))
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte(`
relevance:
  threshold: 35
synthesis:
  provider: openai
  tier1_token_budget: 512
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cfg.Relevance.Threshold != 35 {
		t.Errorf("expected threshold 35, got %d", cfg.Relevance.Threshold)
	}
	if cfg.Synthesis.Provider != "openai" {
		t.Errorf("expected openai provider, got %q", cfg.Synthesis.Provider)
	}
	if cfg.Synthesis.Tier1Budget != 512 {
		t.Errorf("expected tier 1 budget 512, got %d", cfg.Synthesis.Tier1Budget)
	}
	// Untouched defaults survive
	if cfg.Synthesis.Tier2Budget != 2048 {
		t.Errorf("expected tier 2 budget 2048, got %d", cfg.Synthesis.Tier2Budget)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("sources: [not: valid"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing explicit config path")
	}
}

func TestGetContentDir(t *testing.T) {
	cfg := &Config{Output: Output{DataDir: "/data"}}
	if got := cfg.GetContentDir(); got != filepath.Join("/data", "content") {
		t.Errorf("expected /data/content, got %q", got)
	}

	cfg.Output.ContentDir = "/site/content/posts"
	if got := cfg.GetContentDir(); got != "/site/content/posts" {
		t.Errorf("expected override, got %q", got)
	}
}
