package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"askuni/internal/domain"
	"askuni/internal/infra/middleware"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// retryAfterSeconds matches the breaker's default open timeout.
const retryAfterSeconds = "30"

// errorBody is the JSON shape of every non-stream error response.
type errorBody struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and a client message. DomainError
// details are shown to the caller; anything else is logged and hidden.
// Transient failures carry Retry-After.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := domain.HTTPStatusOf(err)
	body := errorBody{Error: http.StatusText(status), Code: string(domain.ErrorCodeOf(err))}
	if body.Code == string(domain.CodeUnknown) {
		body.Code = ""
	}
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		body.Error = de.Detail
	}
	if domain.IsRetryableError(err) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "request_id", middleware.RequestID(r.Context()),
			"path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a size-limited JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.NewDomainError("decode", domain.ErrInvalidInput,
				fmt.Sprintf("Request body too large (max %d bytes)", tooLarge.Limit))
		}
		return domain.NewDomainError("decode", domain.ErrInvalidInput, "Invalid JSON body")
	}
	if err := validate.Struct(v); err != nil {
		return domain.NewDomainError("decode", domain.ErrInvalidInput, validationDetail(err))
	}
	return nil
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "Invalid request: " + strings.Join(parts, ", ")
}
