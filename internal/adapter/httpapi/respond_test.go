package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"askuni/internal/domain"
)

func TestWriteErrorRetryAfter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name  string
		err   error
		retry string
	}{
		{"breaker open", domain.NewDomainError("Assistant.openai", domain.ErrCircuitOpen, ""), retryAfterSeconds},
		{"upstream rate limit", domain.WrapOp("openai", domain.ErrRateLimit), retryAfterSeconds},
		{"bad input", domain.NewDomainError("decode", domain.ErrInvalidInput, "Invalid JSON body"), ""},
		{"not found", domain.ErrSessionNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, httptest.NewRequest(http.MethodPost, "/message", nil), logger, tt.err)
			assert.Equal(t, tt.retry, w.Header().Get("Retry-After"))
			assert.Equal(t, domain.HTTPStatusOf(tt.err), w.Code)
		})
	}
}
