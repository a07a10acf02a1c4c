package httpapi

import (
	"errors"
	"net/http"

	"askuni/internal/domain"
	"askuni/internal/infra/middleware"
	"askuni/internal/usecase"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := decodeJSON(w, r, s.opts.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	sink, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, s.logger, domain.NewDomainError("Chat.Stream", domain.ErrUnavailable, "streaming unsupported"))
		return
	}
	// Headers are only committed by the first frame, so an empty request
	// can still be answered with a JSON 400.
	setSSEHeaders(w)

	id := middleware.IdentityFrom(r.Context())
	err = s.deps.Chat.Stream(r.Context(), id, req, sink)
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		writeError(w, r, s.logger, domain.NewDomainError("Chat.Stream", domain.ErrEmptyMessage, "Empty message"))
	case err != nil:
		s.logger.Debug("stream ended early", "request_id", middleware.RequestID(r.Context()), "error", err)
	}
}

func (s *Server) handleBlocking(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := decodeJSON(w, r, s.opts.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	id := middleware.IdentityFrom(r.Context())
	res, err := s.deps.Chat.Ask(r.Context(), id, req)
	if err != nil {
		s.writeAskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.BlockingResponse{OK: true, Message: res.Text, SessionID: res.SessionID})
}

func (s *Server) writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatusOf(err)
	body := errorBody{Code: string(domain.ErrorCodeOf(err))}
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		body.Error = "Empty message"
	case errors.Is(err, domain.ErrAssistantOffline), errors.Is(err, domain.ErrKnowledgeMissing):
		body.Error = "Assistant offline"
		body.Detail = usecase.FailureText(err)
	default:
		if status < http.StatusInternalServerError {
			status = http.StatusInternalServerError
		}
		body.Error = "Assistant error"
		body.Detail = usecase.FailureText(err)
		s.logger.Error("blocking answer failed", "request_id", middleware.RequestID(r.Context()), "error", err)
	}
	writeJSON(w, status, body)
}
