// Package stages adapts the askdb services to pipeline components.
package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/config"
	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/retrieval"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/usecase/execution"
	"github.com/kailas-cloud/askdb/internal/usecase/pipeline"
	retrievalsvc "github.com/kailas-cloud/askdb/internal/usecase/retrieval"
)

// Retriever finds the schema relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, opts retrievalsvc.Options) retrieval.Result
	Subset(res retrieval.Result) schema.Subset
}

// Store is a data store a pipeline can query.
type Store interface {
	execution.Store
	Dialect() string
}

// Deps are the shared services components are built from.
type Deps struct {
	Retriever  Retriever
	Completers map[string]domain.Completer // by provider name
	DefaultLLM string
	Stores     map[string]Store
	Logger     *zap.Logger
}

// Register adds a factory for every component type. Component ids only
// select settings, so each type is registered under pipeline.AnyID. The
// one exception is the semantic validator.
func Register(reg *pipeline.Registry, deps Deps) {
	deps = deps.withDefaults()
	reg.Register(config.ComponentRetriever, pipeline.AnyID, deps.retriever)
	reg.Register(config.ComponentPrompt, pipeline.AnyID, deps.prompt)
	reg.Register(config.ComponentSynthesizer, pipeline.AnyID, deps.synthesizer)
	reg.Register(config.ComponentValidator, pipeline.AnyID, deps.validator)
	reg.Register(config.ComponentValidator, SemanticValidatorID, deps.semantic)
	reg.Register(config.ComponentExecutor, pipeline.AnyID, deps.executor)
	reg.Register(config.ComponentFormatter, pipeline.AnyID, deps.formatter)
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// dialect prefers the dialect of the stage's store over the configured one.
func (d Deps) dialect(spec pipeline.StageSpec) string {
	if s, ok := d.Stores[spec.Store]; ok && spec.Store != "" {
		return s.Dialect()
	}
	return spec.Settings.Dialect
}

func (d Deps) store(spec pipeline.StageSpec) (Store, error) {
	if spec.Store == "" {
		return nil, fmt.Errorf("no store configured for stage %q", spec.StageID)
	}
	s, ok := d.Stores[spec.Store]
	if !ok {
		return nil, fmt.Errorf("%w: store %q", domain.ErrNotFound, spec.Store)
	}
	return s, nil
}

func (d Deps) completer(spec pipeline.StageSpec) (domain.Completer, error) {
	name := spec.Settings.LLMProvider
	if name == "" {
		name = d.DefaultLLM
	}
	c, ok := d.Completers[name]
	if !ok {
		if name == "" {
			return nil, fmt.Errorf("no language model provider configured")
		}
		return nil, fmt.Errorf("%w: llm provider %q", domain.ErrNotFound, name)
	}
	return c, nil
}
