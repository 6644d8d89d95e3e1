package webhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/pkg/gateway"
	"github.com/chatwire/chatwire/pkg/webhook"
)

type fakeService struct {
	createErr  error
	removeErr  error
	sendErr    error
	sessions   []string
	code       string
	codeErr    error
	webhookURL string
	auth       webhook.AuthConfig
	webhookErr error

	created    []string
	removed    []string
	webhookSet map[string]webhook.AuthConfig
	sends      []string
}

func (f *fakeService) Create(_ context.Context, name string) error {
	f.created = append(f.created, name)
	return f.createErr
}

func (f *fakeService) List() []string { return f.sessions }

func (f *fakeService) Get(name string) (gateway.Snapshot, error) {
	for _, s := range f.sessions {
		if s == name {
			return gateway.Snapshot{Name: name}, nil
		}
	}
	return gateway.Snapshot{}, gateway.ErrNotFound
}

func (f *fakeService) PairingCode(_ string) (string, error) { return f.code, f.codeErr }

func (f *fakeService) Remove(name string) error {
	f.removed = append(f.removed, name)
	return f.removeErr
}

func (f *fakeService) SetWebhook(name, url string, auth webhook.AuthConfig) error {
	if f.webhookErr != nil {
		return f.webhookErr
	}
	if f.webhookSet == nil {
		f.webhookSet = map[string]webhook.AuthConfig{}
	}
	f.webhookURL = url
	f.webhookSet[name] = auth
	return nil
}

func (f *fakeService) GetWebhook(_ string) (string, webhook.AuthConfig, error) {
	return f.webhookURL, f.auth, f.webhookErr
}

func (f *fakeService) Send(_ context.Context, name, to, body string) error {
	f.sends = append(f.sends, name+"|"+to+"|"+body)
	return f.sendErr
}

func newTestServer(t *testing.T, svc SessionService) *httptest.Server {
	t.Helper()
	h, err := NewHandler(HandlerConfig{Service: svc})
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestAPI_ListSessions(t *testing.T) {
	svc := &fakeService{sessions: []string{"alice", "bob"}}
	srv := newTestServer(t, svc)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.Equal(t, []any{"alice", "bob"}, body["sessions"])
}

func TestAPI_CreateSession(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]any{"sessionName": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.Equal(t, []string{"alice"}, svc.created)
}

func TestAPI_CreateSessionErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid name", gateway.ErrInvalidName, http.StatusBadRequest},
		{"duplicate", gateway.ErrAlreadyExists, http.StatusConflict},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeService{createErr: tc.err})
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]any{"sessionName": "x"})
			require.Equal(t, tc.wantStatus, resp.StatusCode)
			require.Equal(t, false, body["success"])
		})
	}
}

func TestAPI_CreateSessionRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, &fakeService{})
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewBufferString("{oops"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_PairingCode(t *testing.T) {
	srv := newTestServer(t, &fakeService{code: "SIM-abc123"})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/alice/qr", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "SIM-abc123", body["qr"])

	srv = newTestServer(t, &fakeService{codeErr: gateway.ErrPairingUnavailable})
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/alice/qr", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, false, body["success"])
}

func TestAPI_RemoveSession(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)
	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"alice"}, svc.removed)

	srv = newTestServer(t, &fakeService{removeErr: gateway.ErrNotFound})
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/alice", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_SetWebhookStructuredAuth(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/alice/webhook", map[string]any{
		"webhook": "https://hook.example/in",
		"auth":    map[string]any{"type": "bearer", "token": "tok"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://hook.example/in", svc.webhookURL)
	require.Equal(t, webhook.AuthConfig{Type: webhook.AuthBearer, Token: "tok"}, svc.webhookSet["alice"])
}

func TestAPI_SetWebhookLegacyBasicFields(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/alice/webhook", map[string]any{
		"webhook":  "https://hook.example/in",
		"username": "svc",
		"password": "pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, webhook.AuthConfig{Type: webhook.AuthBasic, Username: "svc", Password: "pw"}, svc.webhookSet["alice"])
}

func TestAPI_SetWebhookRejectsInvalidAuth(t *testing.T) {
	srv := newTestServer(t, &fakeService{})
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/alice/webhook", map[string]any{
		"webhook": "https://hook.example/in",
		"auth":    map[string]any{"type": "bearer"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, false, body["success"])
}

func TestAPI_GetWebhookRedactsSecrets(t *testing.T) {
	svc := &fakeService{
		webhookURL: "https://hook.example/in",
		auth:       webhook.AuthConfig{Type: webhook.AuthBasic, Username: "svc", Password: "pw"},
	}
	srv := newTestServer(t, svc)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/alice/webhook", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://hook.example/in", body["webhook"])
	auth, ok := body["auth"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "basic", auth["type"])
	require.Equal(t, "svc", auth["username"])
	require.NotContains(t, auth, "password")

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "pw")
}

func TestAPI_SendMessage(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/alice/send", map[string]any{
		"to": "bob@sim", "message": "hi",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"alice|bob@sim|hi"}, svc.sends)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/alice/send", map[string]any{
		"message": "no recipient",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	srv = newTestServer(t, &fakeService{sendErr: gateway.ErrNotFound})
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/alice/send", map[string]any{
		"to": "bob@sim", "message": "hi",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_MessagesWithoutLogConfigured(t *testing.T) {
	srv := newTestServer(t, &fakeService{sessions: []string{"alice"}})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/alice/messages", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, false, body["success"])
}
