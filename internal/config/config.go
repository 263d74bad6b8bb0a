package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig         `yaml:"server"`
	Model        ModelConfig          `yaml:"model"`
	Loop         LoopConfig           `yaml:"loop"`
	Capabilities CapabilitiesConfig   `yaml:"capabilities"`
	Requesters   map[string]Endpoints `yaml:"requesters"`
	Store        StoreConfig          `yaml:"store"`
	Cache        CacheConfig          `yaml:"cache"`
	Jobs         []JobConfig          `yaml:"jobs"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type ModelConfig struct {
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Default     string                    `yaml:"default"`   // provider/model
	Fallbacks   []string                  `yaml:"fallbacks"` // tried in order on transient failures
	MaxTokens   int                       `yaml:"max_tokens"`
	Temperature *float64                  `yaml:"temperature"`
}

type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	API     string `yaml:"api"`
}

type LoopConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

type CapabilitiesConfig struct {
	Descriptor string `yaml:"descriptor"`  // path to the capability descriptor document
	ScriptsDir string `yaml:"scripts_dir"` // optional dir of Lua capability scripts
}

// Endpoints holds the per-requester upstream URLs capability handlers talk
// to. The "default" key is used when a requester has no entry of its own.
type Endpoints struct {
	Sheets   string `yaml:"sheets"`
	Calendar string `yaml:"calendar"`
}

type StoreConfig struct {
	Driver  string `yaml:"driver"`   // "sqlite" (default) or "postgres"
	DataDir string `yaml:"data_dir"` // sqlite only
	DSN     string `yaml:"dsn"`      // postgres only
}

type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"`
}

type JobConfig struct {
	Name        string `yaml:"name"`
	Schedule    string `yaml:"schedule"` // cron expression
	Instruction string `yaml:"instruction"`
	Requester   string `yaml:"requester"`
}

const (
	DefaultAddr     = ":5001"
	DefaultMaxTurns = 20
)

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.Model.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Model.Providers[name] = p
	}
	for name, e := range cfg.Requesters {
		e.Sheets = expandEnv(e.Sheets)
		e.Calendar = expandEnv(e.Calendar)
		cfg.Requesters[name] = e
	}
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Cache.Addr = expandEnv(cfg.Cache.Addr)
	cfg.Cache.Password = expandEnv(cfg.Cache.Password)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Loop.MaxTurns <= 0 {
		cfg.Loop.MaxTurns = DefaultMaxTurns
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
}

// EndpointsFor returns the endpoints for a requester, falling back to the
// "default" entry when the requester has none.
func (c *Config) EndpointsFor(requesterID string) Endpoints {
	if e, ok := c.Requesters[requesterID]; ok {
		return e
	}
	return c.Requesters["default"]
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}
