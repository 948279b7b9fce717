package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
	"github.com/kailas-cloud/askdb/internal/usecase/format"
	engine "github.com/kailas-cloud/askdb/internal/usecase/pipeline"
)

type formatterStage struct {
	driver string
	opts   format.Options
}

func (d Deps) formatter(spec engine.StageSpec) (engine.Component, error) {
	f := &formatterStage{
		opts: format.Options{
			Format:         spec.Settings.Format,
			IncludeQuery:   spec.Settings.IncludeQuery,
			MaxColumnWidth: spec.Settings.MaxColumnWidth,
		},
	}
	if st, ok := d.Stores[spec.Store]; ok {
		f.driver = st.Driver()
	}
	return f, nil
}

func (f *formatterStage) Inputs() []engine.Port {
	return []engine.Port{
		{Name: string(pipeline.KeyQuestion)},
		{Name: string(pipeline.KeyCandidate), Optional: true},
		{Name: string(pipeline.KeyResults), Optional: true},
		{Name: string(pipeline.KeyExecutionTime), Optional: true},
	}
}

func (f *formatterStage) Outputs() []string {
	return []string{string(pipeline.KeyFormatted)}
}

func (f *formatterStage) Run(_ context.Context, in engine.Values) (engine.Values, error) {
	question, err := text(in, string(pipeline.KeyQuestion))
	if err != nil {
		return nil, err
	}
	query, err := text(in, string(pipeline.KeyCandidate))
	if err != nil {
		return nil, err
	}
	fi := format.Input{Question: question, Query: query, Driver: f.driver}

	switch rs := in[string(pipeline.KeyResults)].(type) {
	case nil:
	case resultset.ResultSet:
		fi.Results = rs
	default:
		return nil, fmt.Errorf("input %q: expected result set, got %T", pipeline.KeyResults, rs)
	}
	if ms, ok := in[string(pipeline.KeyExecutionTime)].(float64); ok {
		fi.ExecutionTime = time.Duration(ms * float64(time.Millisecond))
	}

	out, err := format.Render(fi, f.opts)
	if err != nil {
		return nil, err
	}
	return engine.Values{string(pipeline.KeyFormatted): out}, nil
}
