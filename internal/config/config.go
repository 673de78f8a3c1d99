// Package config loads the daemon configuration from defaults, an
// optional YAML file, and INBOXD_-prefixed environment variables, in
// that precedence order.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/inboxd/internal/chunker"
	"github.com/fyrsmithlabs/inboxd/internal/compliance"
	"github.com/fyrsmithlabs/inboxd/internal/embeddings"
	"github.com/fyrsmithlabs/inboxd/internal/index"
	"github.com/fyrsmithlabs/inboxd/internal/llm"
	"github.com/fyrsmithlabs/inboxd/internal/logging"
	"github.com/fyrsmithlabs/inboxd/internal/mailstore"
	"github.com/fyrsmithlabs/inboxd/internal/query"
)

// envPrefix namespaces the environment overrides. Double underscore
// separates nesting levels so single underscores survive in key names:
// INBOXD_INDEX__MIN_SCORE=0.8 sets index.min_score.
const envPrefix = "INBOXD_"

// defaultYAML seeds every key so partial files and env-only setups
// start from working values.
const defaultYAML = `
logging:
  level: info
  format: json
store:
  path: ~/.config/inboxd/mail.db
embeddings:
  base_url: http://localhost:8080
  model: text-embedding-3-small
  dimension: 1536
chunker:
  max_tokens: 512
  overlap: 50
index:
  provider: qdrant
  batch_size: 100
  min_score: 0.7
  qdrant:
    host: localhost
    port: 6334
  chromem:
    path: ~/.config/inboxd/index
retrieval:
  top_k: 20
llm:
  provider: anthropic
compliance:
  enabled: true
`

// IndexConfig selects and configures the vector backend.
type IndexConfig struct {
	// Provider is the backend: qdrant or chromem.
	Provider string `koanf:"provider"`

	// BatchSize and MinScore configure the gateway.
	BatchSize int     `koanf:"batch_size"`
	MinScore  float32 `koanf:"min_score"`

	Qdrant  index.QdrantConfig  `koanf:"qdrant"`
	Chromem index.ChromemConfig `koanf:"chromem"`
}

// Config is the complete daemon configuration.
type Config struct {
	Logging    logging.Config    `koanf:"logging"`
	Store      mailstore.Config  `koanf:"store"`
	Embeddings embeddings.Config `koanf:"embeddings"`
	Chunker    chunker.Config    `koanf:"chunker"`
	Index      IndexConfig       `koanf:"index"`
	Retrieval  query.Config      `koanf:"retrieval"`
	LLM        llm.Config        `koanf:"llm"`
	Compliance compliance.Config `koanf:"compliance"`
}

// Load reads configuration. path may be empty; a missing file at the
// given path is an error, a missing default path is not.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks cross-cutting constraints the section types cannot
// see on their own.
func (c *Config) Validate() error {
	switch c.Index.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("index.provider must be qdrant or chromem, got %q", c.Index.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive")
	}
	if c.Compliance.Enabled && len(c.Compliance.Rules) == 0 {
		c.Compliance.Rules = compliance.DefaultRules()
	}
	if err := c.Compliance.Validate(); err != nil {
		return fmt.Errorf("compliance: %w", err)
	}
	return nil
}

// GatewayConfig derives the index gateway settings. The dimension
// always follows the embedding model.
func (c *Config) GatewayConfig() index.GatewayConfig {
	return index.GatewayConfig{
		Dimension: c.Embeddings.Dimension,
		BatchSize: c.Index.BatchSize,
		MinScore:  c.Index.MinScore,
	}
}
