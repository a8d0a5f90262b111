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
	Model    Model    `yaml:"model"`
	Taxonomy Taxonomy `yaml:"taxonomy"`
	Classify Classify `yaml:"classify"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

// Model configures the external language-model capability used for taxonomy
// induction and classification decisions.
type Model struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	OllamaURL      string `yaml:"ollama_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	OpenAIModel    string `yaml:"openai_model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// Taxonomy configures the category induction passes.
type Taxonomy struct {
	WindowDays       int     `yaml:"window_days"`
	AttachThreshold  float64 `yaml:"attach_threshold"`
	MaxEventsPerDay  int     `yaml:"max_events_per_day"`
	IssuesPerYear    int     `yaml:"issues_per_year"`
	MinTopics        int     `yaml:"min_topics"`
	MaxTopics        int     `yaml:"max_topics"`
	MergeThreshold   float64 `yaml:"merge_threshold"`
	RefineIterations int     `yaml:"refine_iterations"`
	SampleSize       int     `yaml:"sample_size"`
}

// Classify configures the batch classification pass.
type Classify struct {
	Concurrency      int `yaml:"concurrency"`
	MaxRetries       int `yaml:"max_retries"`
	CallTimeoutSecs  int `yaml:"call_timeout_seconds"`
	BatchDeadlineMin int `yaml:"batch_deadline_minutes"`
	YearNeighborhood int `yaml:"year_neighborhood"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for nonews.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "nonews")
}

// DataDir returns the XDG data directory for nonews.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "nonews")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/nonews/config.yaml > ./config.yaml
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
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'nonews init' to create a default config",
		xdgConfig,
	)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, _ := parse(nil)
	return cfg
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
		Model: Model{
			Provider:       "ollama",
			Model:          "qwen2.5:7b",
			OllamaURL:      "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			OpenAIModel:    "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxTokens:      1000,
		},
		Taxonomy: Taxonomy{
			WindowDays:       3,
			AttachThreshold:  0.82,
			MaxEventsPerDay:  25,
			IssuesPerYear:    15,
			MinTopics:        15,
			MaxTopics:        25,
			MergeThreshold:   0.15,
			RefineIterations: 5,
			SampleSize:       500,
		},
		Classify: Classify{
			Concurrency:      8,
			MaxRetries:       3,
			CallTimeoutSecs:  60,
			BatchDeadlineMin: 0,
			YearNeighborhood: 0,
		},
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

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
