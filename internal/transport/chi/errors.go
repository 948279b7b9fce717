package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	askuc "github.com/kailas-cloud/askdb/internal/usecase/ask"
)

// Transport-level error codes. Run failures use the codes of the ask package.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = askuc.CodeNotFound
	CodeInternal     = askuc.CodeInternal
)

// ErrorResponse is the body of every non-run error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusByCode maps run error codes to HTTP statuses.
var statusByCode = map[string]int{
	askuc.CodeInvalidRequest:        http.StatusBadRequest,
	askuc.CodeNotFound:              http.StatusNotFound,
	askuc.CodeQueryGenerationFailed: http.StatusUnprocessableEntity,
	askuc.CodeValidationFailed:      http.StatusUnprocessableEntity,
	askuc.CodeReadOnlyViolation:     http.StatusForbidden,
	askuc.CodeExecutionFailed:       http.StatusUnprocessableEntity,
	askuc.CodeStoreUnavailable:      http.StatusServiceUnavailable,
	askuc.CodeRunStopped:            http.StatusUnprocessableEntity,
	askuc.CodeQuotaExceeded:         http.StatusPaymentRequired,
	askuc.CodeProviderError:         http.StatusBadGateway,
	askuc.CodeTimeout:               http.StatusGatewayTimeout,
	askuc.CodeCancelled:             http.StatusRequestTimeout,
	askuc.CodeTemplateError:         http.StatusInternalServerError,
	askuc.CodeMissingInput:          http.StatusInternalServerError,
	askuc.CodeInternal:              http.StatusInternalServerError,
}

// StatusFor returns the HTTP status of a run error code.
func StatusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			s.logger.Warn("domain error", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, askuc.CodeInvalidRequest),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, askuc.CodeNotFound),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, askuc.CodeQuotaExceeded),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, askuc.CodeProviderError),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
