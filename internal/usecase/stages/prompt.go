package stages

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	engine "github.com/kailas-cloud/askdb/internal/usecase/pipeline"
	"github.com/kailas-cloud/askdb/internal/usecase/prompt"
)

type promptStage struct {
	template   string
	dialect    string
	maxContext int
	examples   []string
	additional string
	logger     *zap.Logger
}

func (d Deps) prompt(spec engine.StageSpec) (engine.Component, error) {
	s := spec.Settings
	tmpl := s.Template
	if tmpl == "" && s.TemplateFile != "" {
		data, err := os.ReadFile(s.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("read template file: %w", err)
		}
		tmpl = string(data)
	}
	return &promptStage{
		template:   tmpl,
		dialect:    d.dialect(spec),
		maxContext: s.MaxContextLength,
		examples:   s.Examples,
		additional: s.AdditionalContext,
		logger:     d.Logger.With(zap.String("stage", spec.StageID)),
	}, nil
}

func (p *promptStage) Inputs() []engine.Port {
	return []engine.Port{
		{Name: string(pipeline.KeyQuestion)},
		{Name: string(pipeline.KeySchemaText)},
		{Name: string(pipeline.KeyDocuments), Optional: true},
	}
}

func (p *promptStage) Outputs() []string {
	return []string{string(pipeline.KeyPrompt)}
}

func (p *promptStage) Run(_ context.Context, in engine.Values) (engine.Values, error) {
	question, err := text(in, string(pipeline.KeyQuestion))
	if err != nil {
		return nil, err
	}
	schemaText, err := text(in, string(pipeline.KeySchemaText))
	if err != nil {
		return nil, err
	}
	docs, err := texts(in, string(pipeline.KeyDocuments))
	if err != nil {
		return nil, err
	}

	schemaText, truncated := prompt.Truncate(schemaText, p.maxContext)
	if truncated {
		p.logger.Info("schema context truncated", zap.Int("limit", p.maxContext))
	}

	out, err := prompt.Assemble(p.template, prompt.Input{
		Question:          question,
		Schema:            schemaText,
		Documents:         docs,
		Examples:          p.examples,
		AdditionalContext: p.additional,
		Dialect:           p.dialect,
	})
	if err != nil {
		return nil, err
	}
	return engine.Values{string(pipeline.KeyPrompt): out}, nil
}
