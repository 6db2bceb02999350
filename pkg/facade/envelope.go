package facade

import (
	"net/http"

	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
)

// ErrorEnvelope is the {code, message, tool, retryable, details?,
// suggestion?} shape spec §7 requires every tool error to carry.
type ErrorEnvelope struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Tool       string         `json:"tool"`
	Retryable  bool           `json:"retryable"`
	Details    map[string]any `json:"details,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// Envelope is the HTTP admin-mirror's response wrapper. The MCP
// transport uses ErrorEnvelope directly inside CallToolResult's error
// content instead of wrapping success payloads, since the SDK already
// wraps a tool's typed Out struct as structured content — see tools.go.
type Envelope struct {
	Ok     bool           `json:"ok"`
	Result any            `json:"result,omitempty"`
	Error  *ErrorEnvelope `json:"error,omitempty"`
}

// newErrorEnvelope maps any error into the wire envelope, generalizing
// pkg/api/errors.go's mapServiceError dispatch: an *errs.Error maps
// 1:1 by code; anything else (a bug, a panic-recovery value) folds to
// CodeInternal so the facade never leaks a raw Go error string as the
// sole diagnostic.
func newErrorEnvelope(tool string, err error) *ErrorEnvelope {
	e, ok := errs.As(err)
	if !ok {
		return &ErrorEnvelope{
			Code:    string(errs.CodeInternal),
			Message: err.Error(),
			Tool:    tool,
		}
	}
	return &ErrorEnvelope{
		Code:       string(e.Code),
		Message:    e.Message,
		Tool:       tool,
		Retryable:  e.Retryable(),
		Details:    e.Details,
		Suggestion: e.SuggestionOrDefault(),
	}
}

// httpStatus maps an errs.Code to the HTTP status the admin mirror
// reports, mirroring pkg/api/errors.go's typed-error-to-status dispatch.
func httpStatus(code errs.Code) int {
	switch code {
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeInvalidArgument:
		return http.StatusBadRequest
	case errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errs.CodeTimeout:
		return http.StatusGatewayTimeout
	case errs.CodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
