package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the askdb configuration.
type Config struct {
	HTTP       HTTPConfig                     `yaml:"http"`
	Database   DatabaseConfig                 `yaml:"database"`
	Index      IndexConfig                    `yaml:"index"`
	Embedding  EmbeddingConfig                `yaml:"embedding"`
	LLM        LLMConfig                      `yaml:"llm"`
	Stores     map[string]StoreConfig         `yaml:"stores"`
	Auth       AuthConfig                     `yaml:"auth"`
	Storage    StorageConfig                  `yaml:"storage"`
	Logging    LoggingConfig                  `yaml:"logging"`
	Defaults   Settings                       `yaml:"defaults"`
	Components map[string]map[string]Settings `yaml:"components"`
	Pipelines  []PipelineConfig               `yaml:"pipelines"`

	DefaultPipeline string `yaml:"default_pipeline"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the Redis/Valkey connection used by the schema index,
// the embedding cache and budget counters.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a Redis/Valkey connection is configured.
func (d DatabaseConfig) Enabled() bool { return len(d.Addrs) > 0 }

// IndexConfig holds schema index backend settings.
type IndexConfig struct {
	Backend          string `yaml:"backend"` // redis, pgvector, badger (default: redis)
	PgvectorTable    string `yaml:"pgvector_table"`
	HNSWM            int    `yaml:"hnsw_m"`
	HNSWEFConstruct  int    `yaml:"hnsw_ef_construction"`
	PgvectorDSN      string `yaml:"pgvector_dsn"`
	BadgerDir        string `yaml:"badger_dir"` // empty = in-memory
	EmbedConcurrency int    `yaml:"embed_concurrency"`
	EmbedBatchSize   int    `yaml:"embed_batch_size"` // elements per batch embedding call
	SyncOnStart      bool   `yaml:"sync_on_start"`
	Source           string `yaml:"source"` // store whose schema is indexed (default: the only store)
}

// StorageConfig holds key naming settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Vectorizer  string                      `yaml:"vectorizer"`
	CacheTTLSec int                         `yaml:"cache_ttl_sec"`
	TimeoutSec  int                         `yaml:"timeout_sec"`
	Providers   map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers map[string]VectorizerConfig `yaml:"vectorizers"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey  string       `yaml:"api_key"`
	BaseURL string       `yaml:"base_url"`
	Budget  BudgetConfig `yaml:"budget"`
}

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// LLMConfig holds language model providers.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig holds a language model provider.
type LLMProviderConfig struct {
	Type    string       `yaml:"type"` // openai, gemini (default: openai)
	Model   string       `yaml:"model"` // default model when a stage sets none
	APIKey  string       `yaml:"api_key"`
	BaseURL string       `yaml:"base_url"`
	Budget  BudgetConfig `yaml:"budget"`
}

// StoreConfig describes a data store queries are executed against.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // postgres, sqlite, neo4j
	DSN          string `yaml:"dsn"`
	URI          string `yaml:"uri"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	SchemaName   string `yaml:"schema_name"`
	IncludeViews bool   `yaml:"include_views"`
	MaxTables    int    `yaml:"max_tables"`
	SchemaFile   string `yaml:"schema_file"`
}

// Dialect returns the query language spoken by the store.
func (s StoreConfig) Dialect() string {
	if s.Driver == "neo4j" {
		return "cypher"
	}
	return "sql"
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from ASKDB_ENV (or ENV), defaulting to "local".
func GetEnv() string {
	for _, key := range []string{"ASKDB_ENV", "ENV"} {
		if env := os.Getenv(key); env != "" {
			return env
		}
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.Backend == "" {
		c.Index.Backend = "redis"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Index.EmbedConcurrency <= 0 {
		c.Index.EmbedConcurrency = 4
	}
	if c.Index.EmbedBatchSize <= 0 {
		c.Index.EmbedBatchSize = 32
	}
	if c.Index.Source == "" && len(c.Stores) == 1 {
		for name := range c.Stores {
			c.Index.Source = name
		}
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "askdb:"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 15
	}
	if c.Embedding.CacheTTLSec <= 0 {
		c.Embedding.CacheTTLSec = 30 * 24 * 3600
	}
	if c.Embedding.Vectorizer == "" && len(c.Embedding.Vectorizers) == 1 {
		for name := range c.Embedding.Vectorizers {
			c.Embedding.Vectorizer = name
		}
	}
	for name, p := range c.LLM.Providers {
		if p.Type == "" {
			p.Type = "openai"
			c.LLM.Providers[name] = p
		}
	}
	if c.LLM.DefaultProvider == "" && len(c.LLM.Providers) == 1 {
		for name := range c.LLM.Providers {
			c.LLM.DefaultProvider = name
		}
	}
	for name, s := range c.Stores {
		if s.MaxOpenConns <= 0 {
			s.MaxOpenConns = 10
		}
		if s.MaxTables <= 0 {
			s.MaxTables = 50
		}
		if s.Driver == "postgres" && s.SchemaName == "" {
			s.SchemaName = "public"
		}
		c.Stores[name] = s
	}
	c.Defaults = BuiltinDefaults().Merge(c.Defaults)
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "valkey", "redis":
	default:
		return fmt.Errorf("database.driver must be \"valkey\" or \"redis\", got %q", c.Database.Driver)
	}
	if err := c.validateIndex(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	for name, s := range c.Stores {
		if err := validateStore(name, s); err != nil {
			return err
		}
	}
	if err := c.Defaults.Validate("defaults"); err != nil {
		return err
	}
	for typ, byID := range c.Components {
		if !IsComponentType(typ) {
			return fmt.Errorf("components.%s: unknown component type", typ)
		}
		for id, s := range byID {
			if err := s.Validate(fmt.Sprintf("components.%s.%s", typ, id)); err != nil {
				return err
			}
		}
	}
	if err := c.validatePipelines(); err != nil {
		return err
	}
	if c.DefaultPipeline != "" {
		if _, ok := c.Pipeline(c.DefaultPipeline); !ok {
			return fmt.Errorf("default_pipeline %q is not defined", c.DefaultPipeline)
		}
	}
	return nil
}

func (c *Config) validateIndex() error {
	switch c.Index.Backend {
	case "redis":
		if !c.Database.Enabled() {
			return fmt.Errorf("database.addrs is required for index.backend \"redis\"")
		}
	case "pgvector":
		if c.Index.PgvectorDSN == "" {
			return fmt.Errorf("index.pgvector_dsn is required for index.backend \"pgvector\"")
		}
		if c.Embedding.Vectorizer == "" {
			return fmt.Errorf("embedding.vectorizer is required for index.backend \"pgvector\"")
		}
	case "badger":
	default:
		return fmt.Errorf("index.backend must be one of redis, pgvector, badger, got %q", c.Index.Backend)
	}
	if c.Index.Source != "" {
		if _, ok := c.Stores[c.Index.Source]; !ok {
			return fmt.Errorf("index.source %q is not defined", c.Index.Source)
		}
	}
	if c.Embedding.Vectorizer != "" {
		v, ok := c.Embedding.Vectorizers[c.Embedding.Vectorizer]
		if !ok {
			return fmt.Errorf("embedding.vectorizer %q is not defined", c.Embedding.Vectorizer)
		}
		if _, ok := c.Embedding.Providers[v.Provider]; !ok {
			return fmt.Errorf("embedding.vectorizers.%s.provider %q is not defined", c.Embedding.Vectorizer, v.Provider)
		}
		if v.Dimensions <= 0 {
			return fmt.Errorf("embedding.vectorizers.%s.dimensions must be positive", c.Embedding.Vectorizer)
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	for name, p := range c.Embedding.Providers {
		if err := validateBudgetAction("embedding.providers."+name, p.Budget.Action); err != nil {
			return err
		}
	}
	for name, p := range c.LLM.Providers {
		switch p.Type {
		case "openai", "gemini":
		default:
			return fmt.Errorf("llm.providers.%s.type must be \"openai\" or \"gemini\", got %q", name, p.Type)
		}
		if err := validateBudgetAction("llm.providers."+name, p.Budget.Action); err != nil {
			return err
		}
	}
	if c.LLM.DefaultProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("llm.default_provider %q is not defined", c.LLM.DefaultProvider)
		}
	}
	return nil
}

func validateBudgetAction(path, action string) error {
	switch action {
	case "", "warn", "reject":
		return nil
	default:
		return fmt.Errorf("%s.budget.action must be \"warn\" or \"reject\", got %q", path, action)
	}
}

func validateStore(name string, s StoreConfig) error {
	switch s.Driver {
	case "postgres", "sqlite":
		if s.DSN == "" {
			return fmt.Errorf("stores.%s.dsn is required for driver %q", name, s.Driver)
		}
	case "neo4j":
		if s.URI == "" {
			return fmt.Errorf("stores.%s.uri is required for driver \"neo4j\"", name)
		}
	default:
		return fmt.Errorf("stores.%s.driver must be one of postgres, sqlite, neo4j, got %q", name, s.Driver)
	}
	return nil
}

// Pipeline returns the pipeline with the given id.
func (c *Config) Pipeline(id string) (PipelineConfig, bool) {
	for _, p := range c.Pipelines {
		if p.ID == id {
			return p, true
		}
	}
	return PipelineConfig{}, false
}

// Resolve merges global defaults, component settings and stage settings,
// in that order of increasing precedence.
func (c *Config) Resolve(stage StageConfig) Settings {
	merged := BuiltinDefaults().Merge(c.Defaults)
	if byID, ok := c.Components[stage.ComponentType]; ok {
		if comp, ok := byID[stage.ComponentID]; ok {
			merged = merged.Merge(comp)
		}
	}
	return merged.Merge(stage.Config)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
