package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"askuni/internal/domain"
)

// Default transport settings: few hosts, long-lived streaming responses.
const (
	defaultConnTimeout     = 30 * time.Second
	defaultMaxIdleConns    = 20
	defaultMaxConnsPerHost = 20
	defaultIdleConnTimeout = 120 * time.Second
)

// newHTTPClient returns a pooled client for assistant APIs. It carries no
// overall timeout since runs stream for as long as the generation lasts;
// callers bound requests through their context.
func newHTTPClient(connTimeout time.Duration) *http.Client {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: connTimeout * 4,
			MaxIdleConns:          defaultMaxIdleConns,
			MaxIdleConnsPerHost:   defaultMaxIdleConns / 2,
			MaxConnsPerHost:       defaultMaxConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// doStreamRequest performs a JSON POST request for SSE streaming and returns
// the open response. The caller must close Body.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, domain.NewDomainError("Assistant.Stream", domain.ErrUnavailable, err.Error())
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, mapHTTPError(httpResp.StatusCode, apiMessage(respBody))
	}

	return httpResp, nil
}

// mapHTTPError maps an HTTP status code and API message to a domain error
// whose Detail is safe to show to the user.
func mapHTTPError(statusCode int, message string) error {
	if message == "" {
		message = fmt.Sprintf("API error %d", statusCode)
	}
	const op = "Assistant"
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.NewDomainError(op, domain.ErrRateLimit, message)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.NewDomainError(op, domain.ErrAuthInvalid, message)
	case statusCode == http.StatusNotFound:
		return domain.NewDomainError(op, domain.ErrNotFound, message)
	case statusCode >= 500:
		return domain.NewDomainError(op, domain.ErrUnavailable, message)
	default:
		return domain.NewDomainError(op, domain.ErrProviderError, message)
	}
}

// mapOpenAIError converts go-openai client errors into domain errors.
func mapOpenAIError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.WrapOp(op, mapHTTPError(apiErr.HTTPStatusCode, apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.WrapOp(op, mapHTTPError(reqErr.HTTPStatusCode, apiMessage(reqErr.Body)))
	}
	return domain.NewDomainError(op, domain.ErrUnavailable, err.Error())
}
