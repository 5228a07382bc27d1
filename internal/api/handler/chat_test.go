package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leolani/chatui/internal/api"
	"github.com/leolani/chatui/internal/config"
	"github.com/leolani/chatui/internal/domain"
	"github.com/leolani/chatui/internal/eventbus"
	"github.com/leolani/chatui/internal/repository/memory"
	"github.com/leolani/chatui/internal/service"
)

func newTestServer(t *testing.T, timeoutMinutes int, desireTopic string) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Chat: config.ChatConfig{
			Name:           "test-ui",
			Agent:          "Leolani",
			Speaker:        "Stranger",
			TimeoutMinutes: timeoutMinutes,
		},
		Events: config.EventsConfig{
			TopicUtterance: "chat.text.in",
			TopicsResponse: []string{"chat.text.out"},
			TopicScenario:  "chat.scenario",
			TopicDesire:    desireTopic,
		},
	}

	bus := eventbus.NewInMemory(zerolog.Nop())
	t.Cleanup(func() { bus.Close() })

	store := memory.NewStore()
	locator := service.NewLocator(config.LocationConfig{}, zerolog.Nop())
	coordinator := service.NewCoordinator(cfg, store, bus, locator, zerolog.Nop())

	return api.NewRouter(coordinator)
}

func currentChat(t *testing.T, router http.Handler) (id, agent string) {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/current", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["id"], body["agent"]
}

func TestCurrentChatReturnsIDAndAgent(t *testing.T) {
	router := newTestServer(t, 0, "")

	id, agent := currentChat(t, router)
	assert.NotEmpty(t, id)
	assert.Equal(t, "Leolani", agent)

	// Without cookie mode the chat is simply reused, no cookie is set.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/current", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestPostAndGetUtterances(t *testing.T) {
	router := newTestServer(t, 0, "")
	id, _ := currentChat(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/"+id+"?speaker=bob", strings.NewReader("hello")))
	require.Equal(t, http.StatusOK, rec.Code)
	utteranceID := rec.Body.String()
	require.NotEmpty(t, utteranceID)

	// An empty speaker parameter disables the default agent filter.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/"+id+"?from=0&speaker=", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var utterances []domain.Utterance
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&utterances))
	require.Len(t, utterances, 1)
	assert.Equal(t, id, utterances[0].ChatID)
	assert.Equal(t, 0, utterances[0].Sequence)
	assert.Equal(t, "bob", utterances[0].Speaker)
	assert.Equal(t, "hello", utterances[0].Text)
	assert.Equal(t, utteranceID, utterances[0].ID)
}

func TestGetDefaultsToAgentResponses(t *testing.T) {
	router := newTestServer(t, 0, "")
	id, _ := currentChat(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/"+id+"?speaker=bob", strings.NewReader("hello")))
	require.Equal(t, http.StatusOK, rec.Code)

	// Without a speaker parameter only agent responses are returned.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var utterances []domain.Utterance
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&utterances))
	assert.Empty(t, utterances)
}

func TestGetForeignChatNotFound(t *testing.T) {
	router := newTestServer(t, 0, "")
	_, _ = currentChat(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/not-the-active-chat", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCookieFlow(t *testing.T) {
	router := newTestServer(t, 1, "")

	// First poll creates the chat and sets the session cookie.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/current", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, "chatid", cookie.Name)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	// A matching cookie reconnects to the same chat.
	req := httptest.NewRequest(http.MethodGet, "/chat/current", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, cookie.Value, body["id"])

	// A poll without the cookie is locked out and told how long remains.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/current", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	remaining, err := strconv.Atoi(rec.Body.String())
	require.NoError(t, err)
	assert.Greater(t, remaining, 0)
	assert.LessOrEqual(t, remaining, 60)

	// The stale cookie is cleared on rejection.
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, "chatid", cleared[0].Name)
	assert.Empty(t, cleared[0].Value)
}

func TestTerminateNotConfigured(t *testing.T) {
	router := newTestServer(t, 0, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/chat/terminate", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTerminateEndsSession(t *testing.T) {
	router := newTestServer(t, 1, "chat.desire")
	id, _ := currentChat(t, router)
	require.NotEmpty(t, id)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/chat/terminate", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// The terminated chat is gone; reads 404.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	router := newTestServer(t, 0, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}
