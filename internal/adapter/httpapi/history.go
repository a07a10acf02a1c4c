package httpapi

import (
	"net/http"

	"askuni/internal/domain"
	"askuni/internal/infra/middleware"
)

func (s *Server) historyStore(w http.ResponseWriter, r *http.Request) (domain.HistoryStore, bool) {
	if s.deps.History == nil {
		writeError(w, r, s.logger, domain.NewDomainError("History", domain.ErrUnavailable, "Chat history is disabled"))
		return nil, false
	}
	return s.deps.History, true
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	store, ok := s.historyStore(w, r)
	if !ok {
		return
	}
	id := middleware.IdentityFrom(r.Context())
	sessions, err := store.ListSessions(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": sessions})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	store, ok := s.historyStore(w, r)
	if !ok {
		return
	}
	id := middleware.IdentityFrom(r.Context())
	sessionID := r.PathValue("id")

	session, err := store.Session(r.Context(), sessionID)
	if err == nil && session.UserID != id.UserID {
		err = domain.NewDomainError("History.Get", domain.ErrSessionNotFound, "Chat not found")
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	messages, err := store.Messages(r.Context(), sessionID, id.UserID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": session, "messages": messages})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	store, ok := s.historyStore(w, r)
	if !ok {
		return
	}
	id := middleware.IdentityFrom(r.Context())
	sessionID := r.PathValue("id")
	if err := store.DeleteSession(r.Context(), sessionID, id.UserID); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if s.deps.Audit != nil {
		event := domain.AuditEvent{Action: domain.AuditChatDelete, Actor: id.UserID, Target: sessionID, Outcome: domain.OutcomeSuccess}
		if err := s.deps.Audit.Record(r.Context(), event); err != nil {
			s.logger.Warn("audit write failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
