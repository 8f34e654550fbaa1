package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources   Sources   `yaml:"sources"`
	Relevance Relevance `yaml:"relevance"`
	IOC       IOC       `yaml:"ioc"`
	Tags      Tags      `yaml:"tags"`
	Synthesis Synthesis `yaml:"synthesis"`
	Output    Output    `yaml:"output"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

type Sources struct {
	Feeds []Feed     `yaml:"feeds"`
	APIs  APIsConfig `yaml:"apis"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type APIsConfig struct {
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
}

// Relevance configures the deterministic article scorer.
// Scores run 0-100; articles scoring above Threshold qualify for the briefing.
type Relevance struct {
	Threshold      int             `yaml:"threshold"`
	SourceBoost    int             `yaml:"source_boost"`
	KeywordWeights []KeywordWeight `yaml:"keyword_weights"`
}

// KeywordWeight assigns a score weight and category to a keyword group.
type KeywordWeight struct {
	Category string   `yaml:"category"`
	Weight   int      `yaml:"weight"`
	Keywords []string `yaml:"keywords"`
}

// IOC configures indicator extraction. Patterns are configuration, not
// code: operators can add kinds without a rebuild.
type IOC struct {
	Patterns           []IOCPattern `yaml:"patterns"`
	BoilerplateMarkers []string     `yaml:"boilerplate_markers"`
}

// IOCPattern is one indicator kind. Specificity orders overlap resolution:
// higher wins when two patterns match overlapping text.
type IOCPattern struct {
	Kind        string `yaml:"kind"`
	Regex       string `yaml:"regex"`
	Confidence  string `yaml:"confidence"`
	Specificity int    `yaml:"specificity"`
}

// Tags configures the tag vocabulary and the zero-article fallback.
type Tags struct {
	Vocabulary  []TagEntry `yaml:"vocabulary"`
	DefaultTags []string   `yaml:"default_tags"`
	Semantic    Semantic   `yaml:"semantic"`
}

// TagEntry maps keywords to a tag label within a category.
type TagEntry struct {
	Label          string   `yaml:"label"`
	Category       string   `yaml:"category"`
	Keywords       []string `yaml:"keywords"`
	BaseConfidence float64  `yaml:"base_confidence"`
}

// Semantic enables embedding-based fuzzy tag matching.
type Semantic struct {
	Enabled       bool    `yaml:"enabled"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

type Synthesis struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	OllamaURL      string `yaml:"ollama_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	OpenAIModel    string `yaml:"openai_model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Tier1Budget    int    `yaml:"tier1_token_budget"`
	Tier2Budget    int    `yaml:"tier2_token_budget"`
}

type Output struct {
	DataDir    string `yaml:"data_dir"`
	ContentDir string `yaml:"content_dir"`
	Author     string `yaml:"author"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for threatbrief.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "threatbrief")
}

// DataDir returns the XDG data directory for threatbrief.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "threatbrief")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/threatbrief/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'threatbrief init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			APIs: APIsConfig{
				NewsAPI: NewsAPIConfig{
					Enabled:   false,
					APIKeyEnv: "NEWSAPI_KEY",
					Query:     "cybersecurity vulnerability ransomware breach",
				},
			},
		},
		Relevance: Relevance{
			Threshold:   0,
			SourceBoost: 10,
		},
		Tags: Tags{
			DefaultTags: []string{"cybersecurity", "threat-intelligence"},
			Semantic: Semantic{
				Enabled:       false,
				MinSimilarity: 0.55,
			},
		},
		Synthesis: Synthesis{
			Provider:       "ollama",
			Model:          "qwen2.5:7b",
			OllamaURL:      "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			OpenAIModel:    "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			Tier1Budget:    2048,
			Tier2Budget:    2048,
		},
		Output:  Output{Author: "Threat Intelligence Desk"},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetContentDir returns the directory briefing Markdown files are written to.
func (c *Config) GetContentDir() string {
	if c.Output.ContentDir != "" {
		return c.Output.ContentDir
	}
	return filepath.Join(c.GetDataDir(), "content")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
