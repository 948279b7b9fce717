package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Stores: map[string]StoreConfig{
			"main": {Driver: "sqlite", DSN: "file::memory:"},
		},
		Pipelines: []PipelineConfig{{
			ID:    "sql_qa",
			Store: "main",
			Stages: []StageConfig{
				{ID: "retrieve", ComponentType: ComponentRetriever, ComponentID: "schema"},
				{ID: "generate", ComponentType: ComponentSynthesizer, ComponentID: "sql"},
			},
		}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.HTTP.Port = 70000 },
			want:   "http.port must be between 1 and 65535, got 70000",
		},
		{
			name:   "redis backend without addrs",
			mutate: func(c *Config) { c.Database.Addrs = nil },
			want:   `database.addrs is required for index.backend "redis"`,
		},
		{
			name:   "pgvector without dsn",
			mutate: func(c *Config) { c.Index.Backend = "pgvector" },
			want:   `index.pgvector_dsn is required for index.backend "pgvector"`,
		},
		{
			name: "pgvector without vectorizer",
			mutate: func(c *Config) {
				c.Index.Backend = "pgvector"
				c.Index.PgvectorDSN = "postgres://localhost/askdb"
			},
			want: `embedding.vectorizer is required for index.backend "pgvector"`,
		},
		{
			name: "invalid budget action",
			mutate: func(c *Config) {
				c.Embedding.Providers = map[string]ProviderConfig{
					"nebius": {Budget: BudgetConfig{Action: "invalid_action"}},
				}
			},
			want: `embedding.providers.nebius.budget.action must be "warn" or "reject", got "invalid_action"`,
		},
		{
			name: "unknown llm type",
			mutate: func(c *Config) {
				c.LLM.Providers = map[string]LLMProviderConfig{"x": {Type: "anthropic"}}
			},
			want: `llm.providers.x.type must be "openai" or "gemini", got "anthropic"`,
		},
		{
			name:   "store without dsn",
			mutate: func(c *Config) { c.Stores["main"] = StoreConfig{Driver: "postgres"} },
			want:   `stores.main.dsn is required for driver "postgres"`,
		},
		{
			name:   "unknown pipeline store",
			mutate: func(c *Config) { c.Pipelines[0].Store = "missing" },
			want:   `pipelines.sql_qa.store "missing" is not defined`,
		},
		{
			name:   "duplicate stage",
			mutate: func(c *Config) { c.Pipelines[0].Stages[1].ID = "retrieve" },
			want:   `pipelines.sql_qa.stages[1].id "retrieve" is duplicated`,
		},
		{
			name:   "unknown component type",
			mutate: func(c *Config) { c.Pipelines[0].Stages[0].ComponentType = "agent" },
			want:   `pipelines.sql_qa.stages[0].component_type "agent" is unknown`,
		},
		{
			name:   "retry without attempts",
			mutate: func(c *Config) { c.Pipelines[0].Stages[1].ErrorPolicy = "retry" },
			want:   `pipelines.sql_qa.stages[1].retry.max_attempts must be at least 1 for error_policy "retry"`,
		},
		{
			name: "bad validation mode",
			mutate: func(c *Config) {
				c.Pipelines[0].Stages[1].Config.ValidationMode = ptr("strict")
			},
			want: `pipelines.sql_qa.stages[1].config.validation_mode must be one of full, syntax_only, none, got "strict"`,
		},
		{
			name: "confidence threshold out of range",
			mutate: func(c *Config) {
				c.Pipelines[0].Stages[1].Config.ConfidenceThreshold = ptr(1.5)
			},
			want: "pipelines.sql_qa.stages[1].config.confidence_threshold must be between 0 and 1, got 1.5",
		},
		{
			name: "bad stop operator",
			mutate: func(c *Config) {
				c.Pipelines[0].Stages[1].StopWhen = []StopConfig{{ConditionConfig: ConditionConfig{Key: "verdict.valid", Operator: "is"}}}
			},
			want: `pipelines.sql_qa.stages[1].stop_when[0].operator "is" is unknown`,
		},
		{
			name:   "unknown index source",
			mutate: func(c *Config) { c.Index.Source = "warehouse" },
			want:   `index.source "warehouse" is not defined`,
		},
		{
			name:   "unknown default pipeline",
			mutate: func(c *Config) { c.DefaultPipeline = "cypher_qa" },
			want:   `default_pipeline "cypher_qa" is not defined`,
		},
		{
			name: "bad component settings",
			mutate: func(c *Config) {
				c.Components = map[string]map[string]Settings{"retriever": {"schema": {MaxTables: ptr(0)}}}
			},
			want: "components.retriever.schema.max_tables must be positive, got 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.want {
				t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), tt.want)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected Port=8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Index.Backend != "redis" {
		t.Errorf("expected Backend=redis, got %q", cfg.Index.Backend)
	}
	if cfg.Index.EmbedBatchSize != 32 {
		t.Errorf("expected EmbedBatchSize=32, got %d", cfg.Index.EmbedBatchSize)
	}
	if cfg.Storage.KeyPrefix != "askdb:" {
		t.Errorf("expected KeyPrefix='askdb:', got %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Index.Source != "" {
		t.Errorf("expected no index source without stores, got %q", cfg.Index.Source)
	}
	if cfg.Defaults.MaxRetries == nil || *cfg.Defaults.MaxRetries != 3 {
		t.Errorf("expected default max_retries=3, got %v", cfg.Defaults.MaxRetries)
	}
}

func TestApplyDefaults_SingleStoreIsIndexSource(t *testing.T) {
	cfg := validConfig()
	if cfg.Index.Source != "main" {
		t.Errorf("expected index source main, got %q", cfg.Index.Source)
	}
}

func TestResolve_Precedence(t *testing.T) {
	cfg := validConfig()
	cfg.Defaults.MaxTables = ptr(10)
	cfg.Defaults.MaxRows = ptr(50)
	cfg.Components = map[string]map[string]Settings{
		ComponentRetriever: {"schema": {MaxTables: ptr(7), SimilarityThreshold: ptr(0.4)}},
	}
	stage := StageConfig{
		ID: "retrieve", ComponentType: ComponentRetriever, ComponentID: "schema",
		Config: Settings{SimilarityThreshold: ptr(0.2)},
	}

	eff := cfg.Resolve(stage).Effective()
	if eff.MaxTables != 7 {
		t.Errorf("component must override defaults: got max_tables=%d", eff.MaxTables)
	}
	if eff.SimilarityThreshold != 0.2 {
		t.Errorf("stage must override component: got threshold=%g", eff.SimilarityThreshold)
	}
	if eff.MaxRows != 50 {
		t.Errorf("global default must apply: got max_rows=%d", eff.MaxRows)
	}
	if eff.MaxRetries != 3 {
		t.Errorf("builtin default must apply: got max_retries=%d", eff.MaxRetries)
	}
}

func TestParse_ExplicitZeroRetries(t *testing.T) {
	doc := `
database:
  addrs: ["localhost:6379"]
stores:
  main: {driver: sqlite, dsn: "file::memory:"}
components:
  synthesizer:
    sql:
      max_retries: 0
      llm_timeout_seconds: 12.5
pipelines:
  - id: qa
    store: main
    stages:
      - {id: generate, component_type: synthesizer, component_id: sql}
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := cfg.Pipeline("qa")
	if !ok {
		t.Fatal("pipeline qa not found")
	}
	eff := cfg.Resolve(p.Stages[0]).Effective()
	if eff.MaxRetries != 0 {
		t.Errorf("explicit zero must survive defaults: got %d", eff.MaxRetries)
	}
	if eff.LLMTimeout != 12500*time.Millisecond {
		t.Errorf("unexpected llm timeout %v", eff.LLMTimeout)
	}
}

func TestParse_StopWhenInline(t *testing.T) {
	doc := `
database: {addrs: ["localhost:6379"]}
pipelines:
  - id: qa
    stages:
      - id: validate
        component_type: validator
        component_id: sql
        stop_when:
          - key: verdict.valid
            operator: eq
            value: false
            message: query is not valid
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop := cfg.Pipelines[0].Stages[0].StopWhen[0]
	if stop.Key != "verdict.valid" || stop.Operator != "eq" || stop.Value != false {
		t.Errorf("unexpected condition %+v", stop.ConditionConfig)
	}
	if stop.Message != "query is not valid" {
		t.Errorf("unexpected message %q", stop.Message)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("ASKDB_TEST_KEY", "secret")

	got := string(expandEnvVars([]byte("a: ${ASKDB_TEST_KEY}\nb: ${ASKDB_TEST_MISSING:-fallback}\nc: ${ASKDB_TEST_MISSING}")))
	want := "a: secret\nb: fallback\nc: "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte("index: {backend: badger}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Index.Backend != "badger" {
		t.Errorf("expected badger backend, got %q", cfg.Index.Backend)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ASKDB_ENV", "")
	t.Setenv("ENV", "")
	if got := GetEnv(); got != "local" {
		t.Errorf("expected local, got %q", got)
	}

	t.Setenv("ENV", "dev")
	if got := GetEnv(); got != "dev" {
		t.Errorf("expected dev, got %q", got)
	}

	t.Setenv("ASKDB_ENV", "prod")
	if got := GetEnv(); got != "prod" {
		t.Errorf("ASKDB_ENV must win, got %q", got)
	}
}

func TestShippedConfigs(t *testing.T) {
	for _, name := range []string{"local.yaml", "graph.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadFile(filepath.Join("..", "..", "config", name))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(cfg.Pipelines) == 0 {
				t.Error("expected at least one pipeline")
			}
			if cfg.Index.Source == "" {
				t.Error("expected an index source")
			}
		})
	}
}
