package config

import "fmt"

// Component types a stage can reference.
const (
	ComponentRetriever   = "retriever"
	ComponentPrompt      = "prompt"
	ComponentSynthesizer = "synthesizer"
	ComponentValidator   = "validator"
	ComponentExecutor    = "executor"
	ComponentFormatter   = "formatter"
)

// IsComponentType reports whether typ names a known component type.
func IsComponentType(typ string) bool {
	switch typ {
	case ComponentRetriever, ComponentPrompt, ComponentSynthesizer,
		ComponentValidator, ComponentExecutor, ComponentFormatter:
		return true
	default:
		return false
	}
}

// PipelineConfig declares an ordered list of stages.
type PipelineConfig struct {
	ID             string         `yaml:"id"`
	Description    string         `yaml:"description"`
	Store          string         `yaml:"store"`
	InitialContext map[string]any `yaml:"initial_context"`
	Stages         []StageConfig  `yaml:"stages"`
}

// StageConfig declares one stage of a pipeline.
type StageConfig struct {
	ID            string            `yaml:"id"`
	ComponentType string            `yaml:"component_type"`
	ComponentID   string            `yaml:"component_id"`
	ErrorPolicy   string            `yaml:"error_policy"`
	Disabled      bool              `yaml:"disabled"`
	Config        Settings          `yaml:"config"`
	Inputs        map[string]string `yaml:"inputs"`  // component input -> context key
	Outputs       map[string]string `yaml:"outputs"` // component output -> context key
	Overwrite     []string          `yaml:"overwrite"`
	When          *ConditionConfig  `yaml:"when"`
	StopWhen      []StopConfig      `yaml:"stop_when"`
	Retry         RetryConfig       `yaml:"retry"`
}

// ConditionConfig is a boolean test over a context value.
// Key is a dot path: the first segment names a context key, the rest walks
// into the value (e.g. "verdict.valid").
type ConditionConfig struct {
	Key      string `yaml:"key"`
	Operator string `yaml:"operator"` // eq, neq, contains, in, exists, not_exists, gt, lt
	Value    any    `yaml:"value"`
}

// StopConfig stops the run with Message when its condition holds after the stage.
type StopConfig struct {
	ConditionConfig `yaml:",inline"`
	Message         string `yaml:"message"`
}

// RetryConfig bounds the stage-level retry policy.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	DelayMS     int    `yaml:"delay_ms"`
	Fallback    string `yaml:"fallback"` // fail (default) or continue
}

// IsOperator reports whether op is a supported condition operator.
func IsOperator(op string) bool {
	switch op {
	case "eq", "neq", "contains", "in", "exists", "not_exists", "gt", "lt":
		return true
	default:
		return false
	}
}

func (c *Config) validatePipelines() error {
	seen := make(map[string]bool, len(c.Pipelines))
	for i, p := range c.Pipelines {
		path := fmt.Sprintf("pipelines[%d]", i)
		if p.ID == "" {
			return fmt.Errorf("%s.id is required", path)
		}
		if seen[p.ID] {
			return fmt.Errorf("%s.id %q is duplicated", path, p.ID)
		}
		seen[p.ID] = true
		if p.Store != "" {
			if _, ok := c.Stores[p.Store]; !ok {
				return fmt.Errorf("pipelines.%s.store %q is not defined", p.ID, p.Store)
			}
		}
		if len(p.Stages) == 0 {
			return fmt.Errorf("pipelines.%s.stages must not be empty", p.ID)
		}
		stageIDs := make(map[string]bool, len(p.Stages))
		for j, s := range p.Stages {
			if err := c.validateStage(fmt.Sprintf("pipelines.%s.stages[%d]", p.ID, j), s); err != nil {
				return err
			}
			if stageIDs[s.ID] {
				return fmt.Errorf("pipelines.%s.stages[%d].id %q is duplicated", p.ID, j, s.ID)
			}
			stageIDs[s.ID] = true
		}
	}
	return nil
}

func (c *Config) validateStage(path string, s StageConfig) error {
	if s.ID == "" {
		return fmt.Errorf("%s.id is required", path)
	}
	if !IsComponentType(s.ComponentType) {
		return fmt.Errorf("%s.component_type %q is unknown", path, s.ComponentType)
	}
	switch s.ErrorPolicy {
	case "", "fail", "continue":
	case "retry":
		if s.Retry.MaxAttempts < 1 {
			return fmt.Errorf("%s.retry.max_attempts must be at least 1 for error_policy \"retry\"", path)
		}
		switch s.Retry.Fallback {
		case "", "fail", "continue":
		default:
			return fmt.Errorf("%s.retry.fallback must be \"fail\" or \"continue\", got %q", path, s.Retry.Fallback)
		}
	default:
		return fmt.Errorf("%s.error_policy must be one of fail, continue, retry, got %q", path, s.ErrorPolicy)
	}
	if s.Retry.DelayMS < 0 {
		return fmt.Errorf("%s.retry.delay_ms must not be negative", path)
	}
	if err := s.Config.Validate(path + ".config"); err != nil {
		return err
	}
	if s.Config.Store != nil && *s.Config.Store != "" {
		if _, ok := c.Stores[*s.Config.Store]; !ok {
			return fmt.Errorf("%s.config.store %q is not defined", path, *s.Config.Store)
		}
	}
	if s.When != nil {
		if err := validateCondition(path+".when", *s.When); err != nil {
			return err
		}
	}
	for i, stop := range s.StopWhen {
		if err := validateCondition(fmt.Sprintf("%s.stop_when[%d]", path, i), stop.ConditionConfig); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(path string, cond ConditionConfig) error {
	if cond.Key == "" {
		return fmt.Errorf("%s.key is required", path)
	}
	if !IsOperator(cond.Operator) {
		return fmt.Errorf("%s.operator %q is unknown", path, cond.Operator)
	}
	return nil
}
