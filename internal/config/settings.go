package config

import (
	"fmt"
	"time"
)

// Settings is the per-component configuration shared by every level of the
// precedence chain (defaults < components.<type>.<id> < stage config).
// A nil field means "not set at this level".
type Settings struct {
	// Retrieval.
	MaxTables            *int     `yaml:"max_tables"`
	SimilarityThreshold  *float64 `yaml:"similarity_threshold"`
	IncludeColumnMatches *bool    `yaml:"include_column_matches"`
	RelaxThresholdFactor *float64 `yaml:"relax_threshold_factor"`
	RelaxAttempts        *int     `yaml:"relax_attempts"`

	// Prompt assembly.
	Dialect           *string  `yaml:"dialect"`
	Template          *string  `yaml:"template"`
	TemplateFile      *string  `yaml:"template_file"`
	MaxContextLength  *int     `yaml:"max_context_length"`
	Examples          []string `yaml:"examples"`
	AdditionalContext *string  `yaml:"additional_context"`

	// Synthesis.
	ValidationMode *string  `yaml:"validation_mode"`
	MaxRetries     *int     `yaml:"max_retries"`
	LLMProvider    *string  `yaml:"llm_provider"`
	Model          *string  `yaml:"model"`
	Temperature    *float64 `yaml:"temperature"`
	MaxTokens      *int     `yaml:"max_tokens"`
	LLMTimeoutSec  *float64 `yaml:"llm_timeout_seconds"`

	// Validation. With FailOnInvalid unset the validator records its verdict
	// and leaves the decision to stop_when.
	FailOnInvalid       *bool    `yaml:"fail_on_invalid"`
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`

	// Execution.
	Store            *string  `yaml:"store"`
	ReadOnly         *bool    `yaml:"read_only"`
	TimeoutSeconds   *float64 `yaml:"timeout_seconds"`
	MaxRows          *int     `yaml:"max_rows"`
	TransientRetries *int     `yaml:"transient_retries"`
	RetryDelayMS     *int     `yaml:"retry_delay_ms"`

	// Formatting.
	Format         *string `yaml:"format"`
	IncludeQuery   *bool   `yaml:"include_query"`
	MaxColumnWidth *int    `yaml:"max_column_width"`
}

// BuiltinDefaults returns the values used when no level sets a field.
func BuiltinDefaults() Settings {
	return Settings{
		MaxTables:            ptr(5),
		SimilarityThreshold:  ptr(0.7),
		IncludeColumnMatches: ptr(true),
		RelaxThresholdFactor: ptr(0.8),
		RelaxAttempts:        ptr(0),

		Dialect:           ptr("sql"),
		Template:          ptr(""),
		TemplateFile:      ptr(""),
		MaxContextLength:  ptr(4000),
		AdditionalContext: ptr(""),

		ValidationMode: ptr("full"),
		MaxRetries:     ptr(3),
		LLMProvider:    ptr(""),
		Model:          ptr(""),
		Temperature:    ptr(0.0),
		MaxTokens:      ptr(1024),
		LLMTimeoutSec:  ptr(60.0),

		FailOnInvalid:       ptr(false),
		ConfidenceThreshold: ptr(0.7),

		Store:            ptr(""),
		ReadOnly:         ptr(true),
		TimeoutSeconds:   ptr(30.0),
		MaxRows:          ptr(1000),
		TransientRetries: ptr(2),
		RetryDelayMS:     ptr(500),

		Format:         ptr("json"),
		IncludeQuery:   ptr(true),
		MaxColumnWidth: ptr(30),
	}
}

func ptr[T any](v T) *T { return &v }

// Merge returns s overridden by every field set in over.
func (s Settings) Merge(over Settings) Settings {
	out := s
	pick(&out.MaxTables, over.MaxTables)
	pick(&out.SimilarityThreshold, over.SimilarityThreshold)
	pick(&out.IncludeColumnMatches, over.IncludeColumnMatches)
	pick(&out.RelaxThresholdFactor, over.RelaxThresholdFactor)
	pick(&out.RelaxAttempts, over.RelaxAttempts)

	pick(&out.Dialect, over.Dialect)
	pick(&out.Template, over.Template)
	pick(&out.TemplateFile, over.TemplateFile)
	pick(&out.MaxContextLength, over.MaxContextLength)
	if over.Examples != nil {
		out.Examples = over.Examples
	}
	pick(&out.AdditionalContext, over.AdditionalContext)

	pick(&out.ValidationMode, over.ValidationMode)
	pick(&out.MaxRetries, over.MaxRetries)
	pick(&out.LLMProvider, over.LLMProvider)
	pick(&out.Model, over.Model)
	pick(&out.Temperature, over.Temperature)
	pick(&out.MaxTokens, over.MaxTokens)
	pick(&out.LLMTimeoutSec, over.LLMTimeoutSec)

	pick(&out.FailOnInvalid, over.FailOnInvalid)
	pick(&out.ConfidenceThreshold, over.ConfidenceThreshold)

	pick(&out.Store, over.Store)
	pick(&out.ReadOnly, over.ReadOnly)
	pick(&out.TimeoutSeconds, over.TimeoutSeconds)
	pick(&out.MaxRows, over.MaxRows)
	pick(&out.TransientRetries, over.TransientRetries)
	pick(&out.RetryDelayMS, over.RetryDelayMS)

	pick(&out.Format, over.Format)
	pick(&out.IncludeQuery, over.IncludeQuery)
	pick(&out.MaxColumnWidth, over.MaxColumnWidth)
	return out
}

func pick[T any](dst **T, over *T) {
	if over != nil {
		*dst = over
	}
}

// Validate checks the fields that are set. path prefixes error messages.
func (s Settings) Validate(path string) error {
	if s.MaxTables != nil && *s.MaxTables <= 0 {
		return fmt.Errorf("%s.max_tables must be positive, got %d", path, *s.MaxTables)
	}
	if s.SimilarityThreshold != nil && (*s.SimilarityThreshold < -1 || *s.SimilarityThreshold > 1) {
		return fmt.Errorf("%s.similarity_threshold must be between -1 and 1, got %g", path, *s.SimilarityThreshold)
	}
	if s.RelaxThresholdFactor != nil && (*s.RelaxThresholdFactor <= 0 || *s.RelaxThresholdFactor > 1) {
		return fmt.Errorf("%s.relax_threshold_factor must be in (0, 1], got %g", path, *s.RelaxThresholdFactor)
	}
	if s.RelaxAttempts != nil && *s.RelaxAttempts < 0 {
		return fmt.Errorf("%s.relax_attempts must not be negative, got %d", path, *s.RelaxAttempts)
	}
	if s.Dialect != nil {
		switch *s.Dialect {
		case "sql", "cypher":
		default:
			return fmt.Errorf("%s.dialect must be \"sql\" or \"cypher\", got %q", path, *s.Dialect)
		}
	}
	if s.MaxContextLength != nil && *s.MaxContextLength < 0 {
		return fmt.Errorf("%s.max_context_length must not be negative, got %d", path, *s.MaxContextLength)
	}
	if s.ValidationMode != nil {
		switch *s.ValidationMode {
		case "full", "syntax_only", "none":
		default:
			return fmt.Errorf("%s.validation_mode must be one of full, syntax_only, none, got %q", path, *s.ValidationMode)
		}
	}
	if s.ConfidenceThreshold != nil && (*s.ConfidenceThreshold < 0 || *s.ConfidenceThreshold > 1) {
		return fmt.Errorf("%s.confidence_threshold must be between 0 and 1, got %g", path, *s.ConfidenceThreshold)
	}
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must not be negative, got %d", path, *s.MaxRetries)
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return fmt.Errorf("%s.temperature must be between 0 and 2, got %g", path, *s.Temperature)
	}
	if s.LLMTimeoutSec != nil && *s.LLMTimeoutSec <= 0 {
		return fmt.Errorf("%s.llm_timeout_seconds must be positive, got %g", path, *s.LLMTimeoutSec)
	}
	if s.TimeoutSeconds != nil && *s.TimeoutSeconds <= 0 {
		return fmt.Errorf("%s.timeout_seconds must be positive, got %g", path, *s.TimeoutSeconds)
	}
	if s.MaxRows != nil && *s.MaxRows <= 0 {
		return fmt.Errorf("%s.max_rows must be positive, got %d", path, *s.MaxRows)
	}
	if s.TransientRetries != nil && *s.TransientRetries < 0 {
		return fmt.Errorf("%s.transient_retries must not be negative, got %d", path, *s.TransientRetries)
	}
	if s.RetryDelayMS != nil && *s.RetryDelayMS < 0 {
		return fmt.Errorf("%s.retry_delay_ms must not be negative, got %d", path, *s.RetryDelayMS)
	}
	if s.Format != nil {
		switch *s.Format {
		case "json", "text":
		default:
			return fmt.Errorf("%s.format must be \"json\" or \"text\", got %q", path, *s.Format)
		}
	}
	if s.MaxColumnWidth != nil && *s.MaxColumnWidth < 4 {
		return fmt.Errorf("%s.max_column_width must be at least 4, got %d", path, *s.MaxColumnWidth)
	}
	return nil
}

// Effective is a fully resolved Settings with plain values.
type Effective struct {
	MaxTables            int
	SimilarityThreshold  float64
	IncludeColumnMatches bool
	RelaxThresholdFactor float64
	RelaxAttempts        int

	Dialect           string
	Template          string
	TemplateFile      string
	MaxContextLength  int
	Examples          []string
	AdditionalContext string

	ValidationMode string
	MaxRetries     int
	LLMProvider    string
	Model          string
	Temperature    float32
	MaxTokens      int
	LLMTimeout     time.Duration

	FailOnInvalid       bool
	ConfidenceThreshold float64

	Store            string
	ReadOnly         bool
	Timeout          time.Duration
	MaxRows          int
	TransientRetries int
	RetryDelay       time.Duration

	Format         string
	IncludeQuery   bool
	MaxColumnWidth int
}

// Effective resolves s on top of the built-in defaults.
func (s Settings) Effective() Effective {
	m := BuiltinDefaults().Merge(s)
	return Effective{
		MaxTables:            *m.MaxTables,
		SimilarityThreshold:  *m.SimilarityThreshold,
		IncludeColumnMatches: *m.IncludeColumnMatches,
		RelaxThresholdFactor: *m.RelaxThresholdFactor,
		RelaxAttempts:        *m.RelaxAttempts,

		Dialect:           *m.Dialect,
		Template:          *m.Template,
		TemplateFile:      *m.TemplateFile,
		MaxContextLength:  *m.MaxContextLength,
		Examples:          m.Examples,
		AdditionalContext: *m.AdditionalContext,

		ValidationMode: *m.ValidationMode,
		MaxRetries:     *m.MaxRetries,
		LLMProvider:    *m.LLMProvider,
		Model:          *m.Model,
		Temperature:    float32(*m.Temperature),
		MaxTokens:      *m.MaxTokens,
		LLMTimeout:     seconds(*m.LLMTimeoutSec),

		FailOnInvalid:       *m.FailOnInvalid,
		ConfidenceThreshold: *m.ConfidenceThreshold,

		Store:            *m.Store,
		ReadOnly:         *m.ReadOnly,
		Timeout:          seconds(*m.TimeoutSeconds),
		MaxRows:          *m.MaxRows,
		TransientRetries: *m.TransientRetries,
		RetryDelay:       time.Duration(*m.RetryDelayMS) * time.Millisecond,

		Format:         *m.Format,
		IncludeQuery:   *m.IncludeQuery,
		MaxColumnWidth: *m.MaxColumnWidth,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
