package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zakki0925224/aident/internal/chat"
	"github.com/zakki0925224/aident/internal/models"
)

type stubModel struct {
	reply string
	err   error
}

func (m *stubModel) Send(ctx context.Context, text string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

type stubClient struct{ model *stubModel }

func (c *stubClient) NewSession(ctx context.Context, history []models.Message) (chat.ModelSession, error) {
	return c.model, nil
}

func newTestServer(t *testing.T, model *stubModel) (*httptest.Server, *http.Client) {
	t.Helper()
	manager := chat.NewManager(&stubClient{model: model}, nil, time.Hour, zap.NewNop())
	srv := httptest.NewServer(NewHandler(manager, "gemini-test", zap.NewNop()).Routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return srv, &http.Client{Jar: jar}
}

func getBody(t *testing.T, client *http.Client, u string) string {
	t.Helper()
	resp, err := client.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func postForm(t *testing.T, client *http.Client, u string, form url.Values) string {
	t.Helper()
	resp, err := client.PostForm(u, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func getJSON(t *testing.T, client *http.Client, u string, v any) {
	t.Helper()
	resp, err := client.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestIndex_RendersSidebar(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{reply: "Hi there"})

	body := getBody(t, client, srv.URL+"/")
	assert.Contains(t, body, "AIdent")
	assert.Contains(t, body, "gemini-test")
	assert.Contains(t, body, "New chat")
	assert.Contains(t, body, `action="/send"`)
	assert.NotContains(t, body, `action="/resolve"`)
}

func TestTwoPhaseTurn(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{reply: "Hi **there**"})
	getBody(t, client, srv.URL+"/")

	// phase one: the redirect lands on a page showing the placeholder
	body := postForm(t, client, srv.URL+"/send", url.Values{"message": {"Hello"}})
	assert.Contains(t, body, "Hello")
	assert.Contains(t, body, models.Placeholder)
	assert.Contains(t, body, `action="/resolve"`)
	assert.Contains(t, body, "disabled")

	// phase two: resolving replaces the placeholder
	body = postForm(t, client, srv.URL+"/resolve", nil)
	assert.NotContains(t, body, models.Placeholder)
	assert.Contains(t, body, "Hi <strong>there</strong>")
	assert.NotContains(t, body, `action="/resolve"`)
}

func TestTurnFailureIsRendered(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{err: errors.New("slow")})
	getBody(t, client, srv.URL+"/")

	postForm(t, client, srv.URL+"/send", url.Values{"message": {"Hello"}})
	body := postForm(t, client, srv.URL+"/resolve", nil)
	assert.Contains(t, body, "Error: slow")
}

func TestMarkdownDropsRawHTML(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{reply: "<script>alert(1)</script>ok"})
	getBody(t, client, srv.URL+"/")

	postForm(t, client, srv.URL+"/send", url.Values{"message": {"<b>hi</b>"}})
	body := postForm(t, client, srv.URL+"/resolve", nil)
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.NotContains(t, body, "<b>hi</b>")
}

func TestNewAndSelectChat(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{reply: "answer"})
	getBody(t, client, srv.URL+"/")
	postForm(t, client, srv.URL+"/send", url.Values{"message": {"first chat"}})
	postForm(t, client, srv.URL+"/resolve", nil)

	var state chat.Snapshot
	getJSON(t, client, srv.URL+"/api/state", &state)
	first := state.ActiveID

	body := postForm(t, client, srv.URL+"/new", nil)
	assert.NotContains(t, body, "answer")
	getJSON(t, client, srv.URL+"/api/state", &state)
	require.Len(t, state.Conversations, 2)
	assert.NotEqual(t, first, state.ActiveID)

	body = postForm(t, client, srv.URL+"/select", url.Values{"conversation_id": {first}})
	assert.Contains(t, body, "answer")

	// unknown ids are ignored
	postForm(t, client, srv.URL+"/select", url.Values{"conversation_id": {"nope"}})
	getJSON(t, client, srv.URL+"/api/state", &state)
	assert.Equal(t, first, state.ActiveID)
}

func TestSessionsAreIsolatedPerBrowser(t *testing.T) {
	srv, alice := newTestServer(t, &stubModel{reply: "answer"})
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	bob := &http.Client{Jar: jar}

	postForm(t, alice, srv.URL+"/send", url.Values{"message": {"alice secret"}})

	body := getBody(t, bob, srv.URL+"/")
	assert.NotContains(t, body, "alice secret")
	assert.Contains(t, getBody(t, alice, srv.URL+"/"), "alice secret")
}

func TestAPI_HandleMessage(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{reply: "Hi there"})

	resp, err := client.Post(srv.URL+"/api/message", "application/json", strings.NewReader(`{"content":"Hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out MessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Message)
	assert.Equal(t, "Hi there", out.Message.Content)
	assert.Equal(t, models.RoleAssistant, out.Message.Role)

	var msgs []models.Message
	getJSON(t, client, srv.URL+"/api/messages?conversation_id="+out.ConversationID, &msgs)
	assert.Len(t, msgs, 2)
}

func TestAPI_HandleMessageRejects(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{reply: "x"})

	resp, err := client.Post(srv.URL+"/api/message", "application/json", strings.NewReader(`{"content":"  "}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// leave a turn pending through the form endpoint, then try the API
	postForm(t, client, srv.URL+"/send", url.Values{"message": {"Hello"}})
	resp, err = client.Post(srv.URL+"/api/message", "application/json", strings.NewReader(`{"content":"again"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/api/message")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPI_Conversations(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{reply: "x"})

	resp, err := client.Post(srv.URL+"/api/conversations", "application/json", nil)
	require.NoError(t, err)
	var created CreateConversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var convs []models.Conversation
	getJSON(t, client, srv.URL+"/api/conversations", &convs)
	require.Len(t, convs, 2)
	assert.Equal(t, created.ID, convs[1].ID)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/conversations/active?conversation_id="+convs[0].ID, nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, srv.URL+"/api/conversations/active?conversation_id=missing", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/api/messages?conversation_id=missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{})
	var out map[string]any
	getJSON(t, client, srv.URL+"/healthz", &out)
	assert.Equal(t, "ok", out["status"])
}

func TestUnknownPath(t *testing.T) {
	srv, client := newTestServer(t, &stubModel{})
	resp, err := client.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
