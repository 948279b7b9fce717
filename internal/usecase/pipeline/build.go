package pipeline

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/config"
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
)

// Resolver returns the merged settings of a stage.
type Resolver func(stage config.StageConfig) config.Settings

type binding struct {
	port string
	key  pipeline.Key
}

type inputBinding struct {
	binding
	optional bool
}

type stopRule struct {
	condition
	message string
}

type stage struct {
	id        string
	component Component
	compType  string
	policy    pipeline.Policy
	disabled  bool
	inputs    []inputBinding
	outputs   []binding
	declared  map[string]pipeline.Key // output port -> key
	when      *condition
	stops     []stopRule
	retry     retryPolicy
}

type retryPolicy struct {
	maxAttempts int
	delay       time.Duration
	fallback    pipeline.Policy
}

// Pipeline is a built, immutable stage sequence. Safe for concurrent runs.
type Pipeline struct {
	id          string
	description string
	initial     map[pipeline.Key]any
	stages      []*stage
	logger      *zap.Logger
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string { return p.id }

// Description returns the configured description.
func (p *Pipeline) Description() string { return p.description }

// StageIDs lists the stages in order.
func (p *Pipeline) StageIDs() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.id
	}
	return out
}

// Build instantiates every stage component once and checks the data flow:
// each required input must be a run input or an output of an earlier enabled
// stage, and a key written earlier may only be rewritten when the stage lists
// it under overwrite.
func Build(cfg config.PipelineConfig, resolve Resolver, reg *Registry, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		id:          cfg.ID,
		description: cfg.Description,
		initial:     make(map[pipeline.Key]any, len(cfg.InitialContext)),
		logger:      logger.With(zap.String("pipeline", cfg.ID)),
	}

	// key -> writing stage
	available := map[pipeline.Key]string{
		pipeline.KeyQuestion:  pipeline.RunInput,
		pipeline.KeyDocuments: pipeline.RunInput,
	}
	for k, v := range cfg.InitialContext {
		p.initial[pipeline.Key(k)] = v
		available[pipeline.Key(k)] = pipeline.RunInput
	}

	seen := make(map[string]bool, len(cfg.Stages))
	for i, sc := range cfg.Stages {
		path := fmt.Sprintf("pipeline %q stage %q", cfg.ID, sc.ID)
		if sc.ID == "" {
			return nil, fmt.Errorf("pipeline %q stage %d: id is required", cfg.ID, i)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("%s: duplicate stage id", path)
		}
		seen[sc.ID] = true

		st, err := buildStage(cfg, sc, resolve, reg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		for _, in := range st.inputs {
			if _, ok := available[in.key]; !ok && !in.optional {
				return nil, fmt.Errorf("%s: input %q reads %q, which no earlier stage writes", path, in.port, in.key)
			}
		}
		if st.when != nil {
			if _, ok := available[st.when.root]; !ok && !isExistence(st.when.operator) {
				return nil, fmt.Errorf("%s: when condition reads %q, which no earlier stage writes", path, st.when.root)
			}
		}
		if !st.disabled {
			for _, out := range st.outputs {
				if writer, ok := available[out.key]; ok && !slices.Contains(sc.Overwrite, string(out.key)) {
					return nil, fmt.Errorf("%s: output %q overwrites %q written by %s without overwrite", path, out.port, out.key, writerName(writer))
				}
				available[out.key] = sc.ID
			}
		}
		for _, stop := range st.stops {
			if _, ok := available[stop.root]; !ok && !isExistence(stop.operator) && !st.disabled {
				return nil, fmt.Errorf("%s: stop_when reads %q, which is never written before it", path, stop.root)
			}
		}
		p.stages = append(p.stages, st)
	}
	if len(p.stages) == 0 {
		return nil, fmt.Errorf("pipeline %q has no stages", cfg.ID)
	}
	return p, nil
}

func buildStage(pc config.PipelineConfig, sc config.StageConfig, resolve Resolver, reg *Registry) (*stage, error) {
	if !config.IsComponentType(sc.ComponentType) {
		return nil, fmt.Errorf("unknown component type %q", sc.ComponentType)
	}
	factory, ok := reg.Lookup(sc.ComponentType, sc.ComponentID)
	if !ok {
		return nil, fmt.Errorf("no component registered for %s/%s", sc.ComponentType, sc.ComponentID)
	}
	policy, err := pipeline.ParsePolicy(sc.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	eff := resolve(sc).Effective()
	store := eff.Store
	if store == "" {
		store = pc.Store
	}
	comp, err := factory(StageSpec{
		PipelineID:    pc.ID,
		StageID:       sc.ID,
		ComponentType: sc.ComponentType,
		ComponentID:   sc.ComponentID,
		Store:         store,
		Settings:      eff,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s/%s: %w", sc.ComponentType, sc.ComponentID, err)
	}

	st := &stage{
		id:        sc.ID,
		component: comp,
		compType:  sc.ComponentType,
		policy:    policy,
		disabled:  sc.Disabled,
		declared:  make(map[string]pipeline.Key),
	}

	ports := make(map[string]bool)
	for _, port := range comp.Inputs() {
		ports[port.Name] = true
		key := pipeline.Key(port.Name)
		if mapped, ok := sc.Inputs[port.Name]; ok {
			key = pipeline.Key(mapped)
		}
		st.inputs = append(st.inputs, inputBinding{binding: binding{port: port.Name, key: key}, optional: port.Optional})
	}
	for name := range sc.Inputs {
		if !ports[name] {
			return nil, fmt.Errorf("inputs: %s/%s has no input %q", sc.ComponentType, sc.ComponentID, name)
		}
	}

	outPorts := make(map[string]bool)
	for _, port := range comp.Outputs() {
		outPorts[port] = true
		key := pipeline.Key(port)
		if mapped, ok := sc.Outputs[port]; ok {
			key = pipeline.Key(mapped)
		}
		st.outputs = append(st.outputs, binding{port: port, key: key})
		st.declared[port] = key
	}
	for name := range sc.Outputs {
		if !outPorts[name] {
			return nil, fmt.Errorf("outputs: %s/%s has no output %q", sc.ComponentType, sc.ComponentID, name)
		}
	}

	if sc.When != nil {
		c, err := compileCondition(*sc.When)
		if err != nil {
			return nil, fmt.Errorf("when: %w", err)
		}
		st.when = &c
	}
	for i, s := range sc.StopWhen {
		c, err := compileCondition(s.ConditionConfig)
		if err != nil {
			return nil, fmt.Errorf("stop_when[%d]: %w", i, err)
		}
		msg := s.Message
		if msg == "" {
			msg = "stop condition met: " + c.String()
		}
		st.stops = append(st.stops, stopRule{condition: c, message: msg})
	}

	if policy == pipeline.PolicyRetry {
		if sc.Retry.MaxAttempts < 1 {
			return nil, fmt.Errorf("retry.max_attempts must be at least 1")
		}
		fallback, err := pipeline.ParsePolicy(sc.Retry.Fallback)
		if err != nil || fallback == pipeline.PolicyRetry {
			return nil, fmt.Errorf("retry.fallback must be fail or continue, got %q", sc.Retry.Fallback)
		}
		st.retry = retryPolicy{
			maxAttempts: sc.Retry.MaxAttempts,
			delay:       time.Duration(sc.Retry.DelayMS) * time.Millisecond,
			fallback:    fallback,
		}
	}
	return st, nil
}

func isExistence(op string) bool { return op == "exists" || op == "not_exists" }

func writerName(w string) string {
	if w == pipeline.RunInput {
		return "the run input"
	}
	return fmt.Sprintf("stage %q", w)
}
