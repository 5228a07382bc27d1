package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leolani/chatui/internal/api/response"
	"github.com/leolani/chatui/internal/domain"
	"github.com/leolani/chatui/internal/service"
)

// ChatCookie carries the chat id of the session a browser is attached to.
const ChatCookie = "chatid"

// maxUtteranceBytes caps the POST body size.
const maxUtteranceBytes = 1 << 16

type ChatHandler struct {
	coordinator *service.Coordinator
}

func NewChatHandler(coordinator *service.Coordinator) *ChatHandler {
	return &ChatHandler{coordinator: coordinator}
}

// Current handles the current-chat poll. Accepted polls get the chat id and
// agent name plus a session cookie; rejected polls get the remaining lockout
// in seconds and a cleared cookie.
func (h *ChatHandler) Current(w http.ResponseWriter, r *http.Request) {
	expected := ""
	if cookie, err := r.Cookie(ChatCookie); err == nil {
		expected = cookie.Value
	}

	handle := h.coordinator.CurrentChat(r.Context(), expected)

	if !handle.Accepted {
		h.setCookie(w, "", -1)
		response.Text(w, http.StatusSeeOther, strconv.Itoa(handle.RemainingSeconds))
		return
	}

	if h.coordinator.CookieMode() {
		h.setCookie(w, handle.ID, 0)
	}
	response.OK(w, map[string]string{"id": handle.ID, "agent": handle.Agent})
}

// GetUtterances returns the utterances of a chat from a sequence offset on.
// Unless the speaker query parameter is given, reads are filtered to agent
// responses only, except in external-input mode.
func (h *ChatHandler) GetUtterances(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		response.BadRequest(w, "missing chat id")
		return
	}

	from := 0
	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.Atoi(f); err == nil && v >= 0 {
			from = v
		}
	}

	q := r.URL.Query()
	speaker := ""
	if q.Has("speaker") {
		speaker = q.Get("speaker")
	} else if !h.coordinator.ExternalInput() {
		speaker = h.coordinator.AgentName()
	}

	utterances, err := h.coordinator.GetUtterances(chatID, from, speaker)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownChat) {
			response.NotFound(w, "chat unavailable")
			return
		}
		response.InternalError(w, "failed to read chat")
		return
	}

	response.OK(w, utterances)
}

// PostUtterance stores the request body as a new human turn and relays it to
// the agent. The response body is the new utterance id.
func (h *ChatHandler) PostUtterance(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		response.BadRequest(w, "missing chat id")
		return
	}

	text, err := io.ReadAll(io.LimitReader(r.Body, maxUtteranceBytes))
	if err != nil {
		response.BadRequest(w, "failed to read body")
		return
	}

	speaker := r.URL.Query().Get("speaker")

	id, err := h.coordinator.PostUtterance(r.Context(), chatID, speaker, string(text))
	if err != nil {
		if errors.Is(err, domain.ErrChatMismatch) {
			response.NotFound(w, "chat unavailable")
			return
		}
		response.InternalError(w, "failed to store utterance")
		return
	}

	response.Text(w, http.StatusOK, id)
}

// Terminate ends the current session on user request. Only operational when
// cookie mode and a desire topic are configured.
func (h *ChatHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	if !h.coordinator.CanTerminate() {
		response.NotFound(w, "not available")
		return
	}

	h.coordinator.Terminate(r.Context())
	h.setCookie(w, "", -1)
	response.OK(w, map[string]string{"status": "terminated"})
}

func (h *ChatHandler) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     ChatCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
	})
}
