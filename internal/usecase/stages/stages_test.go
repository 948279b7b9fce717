package stages

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/askdb/internal/config"
	"github.com/kailas-cloud/askdb/internal/db/sqlstore"
	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
	"github.com/kailas-cloud/askdb/internal/domain/retrieval"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/domain/synthesis"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
	engine "github.com/kailas-cloud/askdb/internal/usecase/pipeline"
	retrievalsvc "github.com/kailas-cloud/askdb/internal/usecase/retrieval"
)

// --- Mocks ---

type scriptedLLM struct {
	outputs []string
	prompts []string
}

func (m *scriptedLLM) Complete(_ context.Context, prompt string, _ domain.CompletionOptions) (domain.Completion, error) {
	m.prompts = append(m.prompts, prompt)
	if len(m.prompts) > len(m.outputs) {
		return domain.Completion{}, errors.New("script exhausted")
	}
	return domain.Completion{Text: m.outputs[len(m.prompts)-1]}, nil
}

// staticIndex has no vectors, so retrieval falls back to keyword matching.
type staticIndex struct {
	elements []schema.Element
}

func (s staticIndex) Nearest(context.Context, []float32, int, float64, []schema.Kind) ([]retrieval.Match, error) {
	return nil, nil
}

func (s staticIndex) Elements() []schema.Element { return s.elements }

func shop(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(sqlstore.DriverSQLite, ":memory:", sqlstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, total NUMERIC)`,
		`CREATE TABLE products (id INTEGER PRIMARY KEY, title TEXT)`,
		`INSERT INTO customers (id, name) VALUES (1, 'Ada'), (2, 'Linus'), (3, 'Grace')`,
	} {
		_, err := s.DB().ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
	return s
}

func ptr[T any](v T) *T { return &v }

// sqlQA is the retrieve, prompt, synthesize, execute, format chain.
func sqlQA(synth config.Settings) config.PipelineConfig {
	return config.PipelineConfig{
		ID:    "sql_qa",
		Store: "shop",
		Stages: []config.StageConfig{
			{ID: "retrieve", ComponentType: config.ComponentRetriever, ComponentID: "schema"},
			{ID: "prompt", ComponentType: config.ComponentPrompt, ComponentID: "sql"},
			{ID: "generate", ComponentType: config.ComponentSynthesizer, ComponentID: "sql", Config: synth},
			{ID: "execute", ComponentType: config.ComponentExecutor, ComponentID: "sql"},
			{ID: "format", ComponentType: config.ComponentFormatter, ComponentID: "json"},
		},
	}
}

func build(t *testing.T, cfg config.PipelineConfig, llm domain.Completer) *engine.Pipeline {
	t.Helper()
	st := shop(t)
	elements, err := st.ListElements(context.Background())
	require.NoError(t, err)

	reg := engine.NewRegistry()
	Register(reg, Deps{
		Retriever:  retrievalsvc.New(staticIndex{elements: elements}, nil, nil),
		Completers: map[string]domain.Completer{"scripted": llm},
		DefaultLLM: "scripted",
		Stores:     map[string]Store{"shop": st},
	})
	p, err := engine.Build(cfg, func(sc config.StageConfig) config.Settings { return sc.Config }, reg, nil)
	require.NoError(t, err)
	return p
}

// --- Tests ---

func TestPipeline_CorrectsTypoAndAnswers(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{
		"SELECT COUNT(*) AS total FORM customers",
		"```sql\nSELECT COUNT(*) AS total FROM customers;\n```",
	}}
	p := build(t, sqlQA(config.Settings{}), llm)

	res, err := p.Run(context.Background(), "How many customers are there?", engine.RunOptions{RunID: "r1"})
	require.NoError(t, err)

	query, ok := pipeline.Lookup[string](res.Context, pipeline.KeyCandidate)
	require.True(t, ok)
	require.Equal(t, "SELECT COUNT(*) AS total FROM customers", query)

	attempts, ok := pipeline.Lookup[[]synthesis.Attempt](res.Context, pipeline.KeyAttempts)
	require.True(t, ok)
	require.Len(t, attempts, 2)
	require.False(t, attempts[0].Verdict.Valid)
	require.Equal(t, validation.SyntaxError, attempts[0].Verdict.Violations[0].Kind)
	require.True(t, attempts[1].Verdict.Valid)
	require.Contains(t, llm.prompts[1], "FORM customers")

	rs, ok := pipeline.Lookup[resultset.ResultSet](res.Context, pipeline.KeyResults)
	require.True(t, ok)
	require.Equal(t, []string{"total"}, rs.Columns)
	require.EqualValues(t, 3, rs.Rows[0]["total"])

	out, ok := pipeline.Lookup[string](res.Context, pipeline.KeyFormatted)
	require.True(t, ok)
	require.Contains(t, out, `"success":true`)
	require.Contains(t, out, `"driver":"sqlite"`)

	require.Len(t, res.Trace, 5)
	for _, o := range res.Trace {
		require.Equal(t, pipeline.StatusSuccess, o.Status, o.StageID)
	}

	sub, ok := pipeline.Lookup[schema.Subset](res.Context, pipeline.KeySchemaSubset)
	require.True(t, ok)
	require.True(t, sub.HasSource("customers"))
	require.False(t, sub.HasSource("products"))
}

func TestPipeline_UnvalidatedQueryFailsInExecutor(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"SELECT * FROM invoices"}}
	p := build(t, sqlQA(config.Settings{ValidationMode: ptr("none")}), llm)

	res, err := p.Run(context.Background(), "How many customers are there?", engine.RunOptions{})
	require.Error(t, err)

	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, "execute", stageErr.StageID)

	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, domain.ExecutionPermanent, execErr.Kind)
	require.Equal(t, 1, execErr.Attempts)
	require.Equal(t, "SELECT * FROM invoices", execErr.Query)

	require.Len(t, llm.prompts, 1)
	require.False(t, res.Context.Has(pipeline.KeyResults))
	require.True(t, res.Context.Has(pipeline.KeyCandidate))
}

func TestPipeline_ExhaustedSynthesis(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{
		"SELECT email FROM customers",
		"SELECT email FROM customers",
	}}
	p := build(t, sqlQA(config.Settings{MaxRetries: ptr(1)}), llm)

	_, err := p.Run(context.Background(), "How many customers are there?", engine.RunOptions{})

	var failed *domain.QueryGenerationFailed
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Attempts, 2)
	require.Equal(t, "SELECT email FROM customers", failed.LastQuery())
	require.Equal(t, validation.UnknownColumn, failed.Violations()[0].Kind)
}

func TestPipeline_MaxTablesCapsRetrieval(t *testing.T) {
	cfg := config.PipelineConfig{
		ID:    "retrieve_only",
		Store: "shop",
		Stages: []config.StageConfig{{
			ID: "retrieve", ComponentType: config.ComponentRetriever, ComponentID: "schema",
			Config: config.Settings{MaxTables: ptr(2)},
		}},
	}
	p := build(t, cfg, &scriptedLLM{})

	res, err := p.Run(context.Background(), "customer id", engine.RunOptions{})
	require.NoError(t, err)

	r, ok := pipeline.Lookup[retrieval.Result](res.Context, pipeline.KeyRetrieval)
	require.True(t, ok)
	require.True(t, r.FallbackUsed)
	require.Len(t, r.Matches, 2)

	schemaText, ok := pipeline.Lookup[string](res.Context, pipeline.KeySchemaText)
	require.True(t, ok)
	require.NotContains(t, schemaText, "products")
}

func TestValidatorStage_RecordsInvalidVerdict(t *testing.T) {
	comp, err := Deps{}.validator(engine.StageSpec{
		StageID:  "check",
		Settings: config.Settings{}.Effective(),
	})
	require.NoError(t, err)

	sub := schema.NewSubset(schema.New(schema.KindTable, "customers", "", ""))
	out, err := comp.Run(context.Background(), engine.Values{
		"candidate_query": "SELECT email FROM customers",
		"schema_subset":   sub,
	})
	require.NoError(t, err)
	verdict := out["verdict"].(validation.Verdict)
	require.False(t, verdict.Valid)
	require.Equal(t, validation.UnknownColumn, verdict.Violations[0].Kind)

	out, err = comp.Run(context.Background(), engine.Values{
		"candidate_query": "SELECT * FROM customers",
		"schema_subset":   sub,
	})
	require.NoError(t, err)
	require.True(t, out["verdict"].(validation.Verdict).Valid)
}

func TestValidatorStage_FailOnInvalid(t *testing.T) {
	comp, err := Deps{}.validator(engine.StageSpec{
		StageID:  "check",
		Settings: config.Settings{FailOnInvalid: ptr(true)}.Effective(),
	})
	require.NoError(t, err)

	sub := schema.NewSubset(schema.New(schema.KindTable, "customers", "", ""))
	_, err = comp.Run(context.Background(), engine.Values{
		"candidate_query": "SELECT email FROM customers",
		"schema_subset":   sub,
	})
	var vf *domain.ValidationFailure
	require.ErrorAs(t, err, &vf)
	require.False(t, vf.Verdict.Valid)
}

// checked runs a syntax-only synthesis followed by a stage that re-checks the
// candidate and stops the run when the verdict is negative.
func checked(check config.StageConfig) config.PipelineConfig {
	check.Overwrite = []string{"verdict"}
	check.StopWhen = []config.StopConfig{{
		ConditionConfig: config.ConditionConfig{Key: "verdict.valid", Operator: "eq", Value: false},
		Message:         "query is not valid",
	}}
	return config.PipelineConfig{
		ID:    "checked",
		Store: "shop",
		Stages: []config.StageConfig{
			{ID: "retrieve", ComponentType: config.ComponentRetriever, ComponentID: "schema"},
			{ID: "prompt", ComponentType: config.ComponentPrompt, ComponentID: "sql"},
			{
				ID: "generate", ComponentType: config.ComponentSynthesizer, ComponentID: "sql",
				Config: config.Settings{ValidationMode: ptr("syntax_only")},
			},
			check,
			{ID: "execute", ComponentType: config.ComponentExecutor, ComponentID: "sql"},
			{ID: "format", ComponentType: config.ComponentFormatter, ComponentID: "json"},
		},
	}
}

func TestPipeline_InvalidVerdictStopsBeforeExecution(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"SELECT nope FROM customers"}}
	p := build(t, checked(config.StageConfig{
		ID: "validate", ComponentType: config.ComponentValidator, ComponentID: "sql",
		ErrorPolicy: "continue",
	}), llm)

	res, err := p.Run(context.Background(), "How many customers are there?", engine.RunOptions{})
	require.ErrorIs(t, err, domain.ErrRunStopped)
	require.Equal(t, "query is not valid", res.Stopped)

	verdict, ok := pipeline.Lookup[validation.Verdict](res.Context, pipeline.KeyVerdict)
	require.True(t, ok)
	require.False(t, verdict.Valid)
	require.Equal(t, validation.ModeFull, verdict.Mode)

	require.False(t, res.Context.Has(pipeline.KeyResults))
	for _, o := range res.Trace {
		require.NotEqual(t, "execute", o.StageID)
	}
	require.Equal(t, "validate", res.Trace[len(res.Trace)-1].StageID)
	require.Equal(t, pipeline.StatusSuccess, res.Trace[len(res.Trace)-1].Status)
}

func TestPipeline_ValidVerdictContinues(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"SELECT COUNT(*) AS total FROM customers"}}
	p := build(t, checked(config.StageConfig{
		ID: "validate", ComponentType: config.ComponentValidator, ComponentID: "sql",
	}), llm)

	res, err := p.Run(context.Background(), "How many customers are there?", engine.RunOptions{})
	require.NoError(t, err)
	require.Empty(t, res.Stopped)
	require.True(t, res.Context.Has(pipeline.KeyResults))
}

func TestPipeline_SemanticReviewStopsRun(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{
		"SELECT COUNT(*) AS total FROM orders",
		`{"is_valid": false, "confidence": 0.9, "details": {"intent_alignment": {"valid": false, "issues": ["counts orders"]}}}`,
	}}
	p := build(t, checked(config.StageConfig{
		ID: "review", ComponentType: config.ComponentValidator, ComponentID: SemanticValidatorID,
	}), llm)

	res, err := p.Run(context.Background(), "How many customers are there?", engine.RunOptions{})
	require.ErrorIs(t, err, domain.ErrRunStopped)
	require.Len(t, llm.prompts, 2)
	require.Contains(t, llm.prompts[1], "How many customers are there?")
	require.Contains(t, llm.prompts[1], "SELECT COUNT(*) AS total FROM orders")

	verdict, ok := pipeline.Lookup[validation.Verdict](res.Context, pipeline.KeyVerdict)
	require.True(t, ok)
	require.Equal(t, validation.ModeSemantic, verdict.Mode)
	require.Equal(t, "intent_alignment: counts orders", verdict.Violations[0].Detail)
	require.False(t, res.Context.Has(pipeline.KeyResults))
}

func TestSemanticStage_FailOnInvalid(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{`{"is_valid": true, "confidence": 0.4}`}}
	comp, err := Deps{Completers: map[string]domain.Completer{"scripted": llm}, DefaultLLM: "scripted"}.semantic(engine.StageSpec{
		StageID:  "review",
		Settings: config.Settings{FailOnInvalid: ptr(true)}.Effective(),
	})
	require.NoError(t, err)

	_, err = comp.Run(context.Background(), engine.Values{
		"question":        "How many customers?",
		"candidate_query": "SELECT 1",
	})
	var vf *domain.ValidationFailure
	require.ErrorAs(t, err, &vf)
	require.Equal(t, validation.SemanticMismatch, vf.Verdict.Violations[0].Kind)
}

// dialectStore reports a dialect of its own over a SQLite store.
type dialectStore struct {
	*sqlstore.Store
	dialect string
}

func (s dialectStore) Dialect() string { return s.dialect }

func TestShippedPipelinesBuild(t *testing.T) {
	for _, name := range []string{"local.yaml", "graph.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := config.LoadFile(filepath.Join("..", "..", "..", "config", name))
			require.NoError(t, err)

			st := shop(t)
			stores := make(map[string]Store, len(cfg.Stores))
			for id, sc := range cfg.Stores {
				dialect := "sql"
				if sc.Driver == "neo4j" {
					dialect = "cypher"
				}
				stores[id] = dialectStore{Store: st, dialect: dialect}
			}
			completers := make(map[string]domain.Completer, len(cfg.LLM.Providers))
			for id := range cfg.LLM.Providers {
				completers[id] = &scriptedLLM{}
			}

			reg := engine.NewRegistry()
			Register(reg, Deps{
				Retriever:  retrievalsvc.New(staticIndex{}, nil, nil),
				Completers: completers,
				DefaultLLM: cfg.LLM.DefaultProvider,
				Stores:     stores,
			})
			for _, pc := range cfg.Pipelines {
				_, err := engine.Build(pc, cfg.Resolve, reg, nil)
				require.NoError(t, err, pc.ID)
			}
		})
	}
}

func TestPromptStage_TruncatesSchemaAndUsesDocuments(t *testing.T) {
	s := config.Settings{
		Template:         ptr("{{.Schema}}|{{range .Documents}}{{.}};{{end}}|{{.Question}}"),
		MaxContextLength: ptr(12),
	}.Effective()
	comp, err := Deps{}.withDefaults().prompt(engine.StageSpec{StageID: "prompt", Settings: s})
	require.NoError(t, err)

	out, err := comp.Run(context.Background(), engine.Values{
		"question":    "q?",
		"schema_text": "line one\nline two\n",
		"documents":   []any{"doc a", "doc b"},
	})
	require.NoError(t, err)
	require.Equal(t, "line one\n|doc a;doc b;|q?", out["prompt"])
}

func TestPromptStage_MissingPlaceholder(t *testing.T) {
	s := config.Settings{Template: ptr("{{.Nope}}")}.Effective()
	comp, err := Deps{}.withDefaults().prompt(engine.StageSpec{StageID: "prompt", Settings: s})
	require.NoError(t, err)

	_, err = comp.Run(context.Background(), engine.Values{"question": "q", "schema_text": ""})
	var te *domain.TemplateError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "Nope", te.Placeholder)
}

func TestFactories_MissingDependencies(t *testing.T) {
	spec := engine.StageSpec{StageID: "s", Store: "missing", Settings: config.Settings{}.Effective()}
	d := Deps{}.withDefaults()

	_, err := d.executor(spec)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = d.synthesizer(spec)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "no language model provider"))

	_, err = d.retriever(spec)
	require.Error(t, err)
}
