// Package config loads settings from defaults, a YAML file, the
// environment and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is searched for in the working and data directories.
const DefaultConfigFileName = "text2sql"

// Config is the full application configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Storage StorageConfig `mapstructure:"storage"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Prompts PromptsConfig `mapstructure:"prompts"`
	Logging LoggingConfig `mapstructure:"logging"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// LLMConfig selects the model backend.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// LoopConfig holds revision loop settings.
type LoopConfig struct {
	RevisionLimit int           `mapstructure:"revision_limit"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	Acceptance    string        `mapstructure:"acceptance"`
}

// StorageConfig locates user stores and the state database.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	StateDB string `mapstructure:"state_db"`
}

// IngestConfig tunes CSV ingestion.
type IngestConfig struct {
	PreviewRows int `mapstructure:"preview_rows"`
	Concurrency int `mapstructure:"concurrency"`
}

// PromptsConfig optionally overrides the embedded role prompts.
type PromptsConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.requests_per_minute", 30)

	v.SetDefault("loop.revision_limit", 2)
	v.SetDefault("loop.call_timeout", time.Duration(0))
	v.SetDefault("loop.acceptance", "word")

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.state_db", "")

	v.SetDefault("ingest.preview_rows", 10)
	v.SetDefault("ingest.concurrency", 4)

	v.SetDefault("prompts.file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load builds a Config. file may be empty, in which case text2sql.yaml is
// searched for in the working directory and ./data. bind, if set, may bind
// command-line flags onto keys before unmarshalling.
func Load(file string, bind func(v *viper.Viper) error) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./data")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix("TEXT2SQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "TEXT2SQL_LLM_API_KEY", "GROQ_API_KEY"); err != nil {
		return nil, err
	}

	if bind != nil {
		if err := bind(v); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if cfg.Storage.StateDB == "" {
		cfg.Storage.StateDB = filepath.Join(cfg.Storage.DataDir, "text2sql.state.db")
	}
	return &cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature: %v is outside [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("llm.requests_per_minute: must not be negative"))
	}
	if c.Loop.RevisionLimit < 1 {
		errs = append(errs, fmt.Errorf("loop.revision_limit: must be at least 1, got %d", c.Loop.RevisionLimit))
	}
	if c.Loop.CallTimeout < 0 {
		errs = append(errs, errors.New("loop.call_timeout: must not be negative"))
	}
	switch strings.ToLower(c.Loop.Acceptance) {
	case "word", "substring":
	default:
		errs = append(errs, fmt.Errorf("loop.acceptance: unknown mode %q", c.Loop.Acceptance))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir: required"))
	}
	if c.Ingest.Concurrency < 1 {
		errs = append(errs, errors.New("ingest.concurrency: must be at least 1"))
	}
	return errors.Join(errs...)
}
