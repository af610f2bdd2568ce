package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/aurelle-dev/threadlens/internal/domain"
)

// Wire error codes.
const (
	codeBadRequest        = "bad_request"
	codeDatasetNotFound   = "dataset_not_found"
	codeInvalidRequest    = "invalid_request"
	codeUnknownColumn     = "unknown_column"
	codeInvalidClip       = "invalid_clip"
	codeIndexUnavailable  = "index_unavailable"
	codeCorruptDataset    = "corrupt_dataset"
	codeRateLimited       = "rate_limited"
	codeEmbeddingQuota    = "embedding_quota_exceeded"
	codeEmbeddingProvider = "embedding_provider_error"
	codeInternalError     = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// sentinelStatus maps each domain sentinel to its HTTP status and wire code.
var sentinelStatus = []struct {
	sentinel error
	status   int
	code     string
}{
	{domain.ErrNotFound, http.StatusNotFound, codeDatasetNotFound},
	// ErrUnknownColumn before ErrInvalidRequest: unknown-column errors
	// match both and the specific code wins.
	{domain.ErrUnknownColumn, http.StatusBadRequest, codeUnknownColumn},
	{domain.ErrInvalidRequest, http.StatusBadRequest, codeInvalidRequest},
	{domain.ErrInvalidClip, http.StatusBadRequest, codeInvalidClip},
	{domain.ErrIndexUnavailable, http.StatusBadRequest, codeIndexUnavailable},
	{domain.ErrCorruptData, http.StatusInternalServerError, codeCorruptDataset},
	{domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited},
	{domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, codeEmbeddingQuota},
	{domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider},
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals. Unknown column errors carry the offending column
// name, which came from the request and is safe to echo.
func safeDomainMessage(err error) string {
	var uc *domain.UnknownColumnError
	if errors.As(err, &uc) {
		return uc.Error()
	}
	// Validation messages are built server-side from request shape and are
	// safe to echo in full.
	if errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrInvalidClip) {
		return err.Error()
	}
	for _, m := range sentinelStatus {
		if errors.Is(err, m.sentinel) {
			return m.sentinel.Error()
		}
	}
	return "internal error"
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	msg := safeDomainMessage(err)
	for _, m := range sentinelStatus {
		if errors.Is(err, m.sentinel) {
			s.logger.Warn("domain error", zap.Error(err))
			writeError(w, m.status, m.code, msg)
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
