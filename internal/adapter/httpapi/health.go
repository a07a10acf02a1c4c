package httpapi

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	OK        bool      `json:"ok"`
	Assistant string    `json:"assistant"`
	History   string    `json:"history"`
	Time      time.Time `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{OK: true, Assistant: "ready", History: "disabled", Time: s.now().UTC()}

	if err := s.deps.Chat.Available(); err != nil {
		resp.Assistant = "offline: " + err.Error()
	} else if s.deps.AssistantName != "" {
		resp.Assistant = s.deps.AssistantName
	}

	if s.deps.History != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.History.Ping(ctx); err != nil {
			resp.OK = false
			resp.History = "error"
			s.logger.Warn("health: history ping failed", "error", err)
		} else {
			resp.History = "ok"
		}
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
