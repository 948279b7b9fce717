package ask

import (
	"context"
	"errors"

	"github.com/kailas-cloud/askdb/internal/domain"
	dompipeline "github.com/kailas-cloud/askdb/internal/domain/pipeline"
	"github.com/kailas-cloud/askdb/internal/domain/response"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
	"github.com/kailas-cloud/askdb/internal/usecase/pipeline"
)

// Error codes reported in response.ErrorInfo.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeNotFound              = "not_found"
	CodeQueryGenerationFailed = "query_generation_failed"
	CodeValidationFailed      = "validation_failed"
	CodeReadOnlyViolation     = "read_only_violation"
	CodeExecutionFailed       = "execution_failed"
	CodeStoreUnavailable      = "store_unavailable"
	CodeTemplateError         = "template_error"
	CodeRunStopped            = "run_stopped"
	CodeQuotaExceeded         = "quota_exceeded"
	CodeProviderError         = "provider_error"
	CodeMissingInput          = "missing_input"
	CodeTimeout               = "timeout"
	CodeCancelled             = "cancelled"
	CodeInternal              = "internal_error"
)

// ErrorInfo turns a run error into its user-visible form. The last candidate
// query and every violation found along the way are kept.
func ErrorInfo(err error) *response.ErrorInfo {
	if err == nil {
		return nil
	}
	info := &response.ErrorInfo{Code: Code(err), Message: err.Error()}

	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		info.StageID = stageErr.StageID
		info.Policy = stageErr.Policy
	}

	var genErr *domain.QueryGenerationFailed
	var valErr *domain.ValidationFailure
	var execErr *domain.ExecutionError
	switch {
	case errors.As(err, &genErr):
		info.Query = genErr.LastQuery()
		info.Violations = genErr.Violations()
	case errors.As(err, &valErr):
		info.Violations = valErr.Verdict.Violations
	case errors.As(err, &execErr):
		info.Query = execErr.Query
	}
	return info
}

// fillFromRun completes info from what the run recorded when the returned
// error does not carry a query or violations: failures a continue policy let
// pass, latest first, then an invalid verdict left in the context.
func fillFromRun(info *response.ErrorInfo, res pipeline.Result) {
	for i := len(res.Trace) - 1; i >= 0; i-- {
		if info.Query != "" && len(info.Violations) > 0 {
			return
		}
		err := res.Trace[i].Err
		if err == nil {
			continue
		}
		var genErr *domain.QueryGenerationFailed
		var valErr *domain.ValidationFailure
		var execErr *domain.ExecutionError
		switch {
		case errors.As(err, &genErr):
			setQuery(info, genErr.LastQuery())
			setViolations(info, genErr.Violations())
		case errors.As(err, &valErr):
			setViolations(info, valErr.Verdict.Violations)
		case errors.As(err, &execErr):
			setQuery(info, execErr.Query)
		}
	}
	if res.Context == nil {
		return
	}
	if v, ok := dompipeline.Lookup[validation.Verdict](res.Context, dompipeline.KeyVerdict); ok && !v.Valid {
		setViolations(info, v.Violations)
	}
}

func setQuery(info *response.ErrorInfo, q string) {
	if info.Query == "" {
		info.Query = q
	}
}

func setViolations(info *response.ErrorInfo, vs []validation.Violation) {
	if len(info.Violations) == 0 {
		info.Violations = vs
	}
}

// Code classifies err.
func Code(err error) string {
	var (
		genErr  *domain.QueryGenerationFailed
		valErr  *domain.ValidationFailure
		execErr *domain.ExecutionError
		tmplErr *domain.TemplateError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.As(err, &genErr):
		return CodeQueryGenerationFailed
	case errors.As(err, &valErr):
		return CodeValidationFailed
	case errors.Is(err, domain.ErrReadOnlyViolation):
		return CodeReadOnlyViolation
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.As(err, &execErr):
		if execErr.Transient() {
			return CodeStoreUnavailable
		}
		return CodeExecutionFailed
	case errors.As(err, &tmplErr):
		return CodeTemplateError
	case errors.Is(err, domain.ErrRunStopped):
		return CodeRunStopped
	case errors.Is(err, domain.ErrLLMQuotaExceeded), errors.Is(err, domain.ErrEmbeddingQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, domain.ErrLLMProviderError), errors.Is(err, domain.ErrEmbeddingProviderError):
		return CodeProviderError
	case errors.Is(err, domain.ErrMissingInput):
		return CodeMissingInput
	default:
		return CodeInternal
	}
}
