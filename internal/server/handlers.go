package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ziadkadry99/erp-copilot/internal/assistant"
	"github.com/ziadkadry99/erp-copilot/internal/skills"
)

// askRequest is the body of POST /api/ask and of each WebSocket frame.
type askRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// wsResponse is an outgoing WebSocket frame.
type wsResponse struct {
	Type      string            `json:"type"` // "answer" or "error"
	SessionID string            `json:"session_id,omitempty"`
	Answer    *assistant.Answer `json:"answer,omitempty"`
	Error     string            `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loader.Registry().Summaries())
}

func (s *Server) handleTenantSkills(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	toolset, err := s.loader.Load(r.Context(), tenant, "admin")
	if err != nil {
		log.Error().Err(err).Str("tenant", tenant).Msg("loading toolset")
		writeError(w, http.StatusInternalServerError, "could not load the tenant's skills")
		return
	}
	out := make([]skills.Summary, 0, len(toolset.Skills()))
	for _, sk := range toolset.Skills() {
		out = append(out, sk.Summarize())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ans, err := s.ask(r, req)
	if err != nil {
		status, msg := askError(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) handleAskWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	// A connection keeps its session unless a frame names another one.
	sessionID := ""
	for {
		var req askRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read")
			}
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				send(conn, wsResponse{Type: "error", SessionID: sessionID, Error: "invalid message format"})
				continue
			}
			return
		}

		if s.assistant == nil {
			send(conn, wsResponse{Type: "error", Error: "assistant not configured"})
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		ans, err := s.ask(r, req)
		if err != nil {
			_, msg := askError(err)
			send(conn, wsResponse{Type: "error", SessionID: req.SessionID, Error: msg})
			continue
		}
		sessionID = ans.SessionID
		send(conn, wsResponse{Type: "answer", SessionID: ans.SessionID, Answer: ans})
	}
}

func (s *Server) ask(r *http.Request, req askRequest) (*assistant.Answer, error) {
	ctx := r.Context()
	ans, err := s.assistant.Ask(ctx, assistant.Request{
		TenantID:  TenantID(ctx),
		CallerID:  CallerID(ctx),
		SessionID: req.SessionID,
		Question:  req.Question,
	})
	if err != nil {
		log.Error().Err(err).Str("tenant", TenantID(ctx)).Msg("answering question")
	}
	return ans, err
}

// askError maps an Ask failure to a status and a message safe to show.
func askError(err error) (int, string) {
	switch {
	case errors.Is(err, assistant.ErrEmptyQuestion):
		return http.StatusBadRequest, "question is required"
	case errors.Is(err, assistant.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	default:
		return http.StatusBadGateway, "could not answer the question right now"
	}
}

func send(conn *websocket.Conn, resp wsResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		log.Warn().Err(err).Msg("websocket write")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
