// Package webhttp translates HTTP requests into session registry
// operations. Handlers are thin: decode, delegate, map error kinds onto
// status codes, encode the response envelope.
package webhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/pkg/gateway"
	"github.com/chatwire/chatwire/pkg/persistence/msglog"
	"github.com/chatwire/chatwire/pkg/webhook"
)

// SessionService is the registry surface the API consumes.
type SessionService interface {
	Create(ctx context.Context, name string) error
	List() []string
	Get(name string) (gateway.Snapshot, error)
	PairingCode(name string) (string, error)
	Remove(name string) error
	SetWebhook(name, url string, auth webhook.AuthConfig) error
	GetWebhook(name string) (string, webhook.AuthConfig, error)
	Send(ctx context.Context, name, to, body string) error
}

// HandlerConfig wires the API handler.
type HandlerConfig struct {
	Service SessionService
	// Streams enables the websocket event feed when set.
	Streams gateway.StreamBackend
	// MessageLog enables the recent-messages endpoint when set.
	MessageLog *msglog.Store
}

type Handler struct {
	svc     SessionService
	streams gateway.StreamBackend
	msgLog  *msglog.Store
	logger  zerolog.Logger
}

func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("api handler: session service is nil")
	}
	return &Handler{
		svc:     cfg.Service,
		streams: cfg.Streams,
		msgLog:  cfg.MessageLog,
		logger:  log.With().Str("component", "api").Logger(),
	}, nil
}

// Register attaches all API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.listSessions)
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/{name}/qr", h.getPairingCode)
	mux.HandleFunc("DELETE /api/sessions/{name}", h.removeSession)
	mux.HandleFunc("POST /api/sessions/{name}/webhook", h.setWebhook)
	mux.HandleFunc("GET /api/sessions/{name}/webhook", h.getWebhook)
	mux.HandleFunc("POST /api/sessions/{name}/send", h.sendMessage)
	mux.HandleFunc("GET /api/sessions/{name}/messages", h.listMessages)
	if h.streams != nil {
		mux.HandleFunc("GET /api/ws", h.streamEvents)
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusForErr(err), envelope{Success: false, Message: err.Error()})
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrPairingUnavailable):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		envelope
		Sessions []string `json:"sessions"`
	}{envelope{true, "Sessions fetched"}, h.svc.List()})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionName string `json:"sessionName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{false, "invalid JSON body"})
		return
	}
	if err := h.svc.Create(r.Context(), body.SessionName); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{true, "Session created. Scan pairing code to pair."})
}

func (h *Handler) getPairingCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.PairingCode(r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		QR string `json:"qr"`
	}{envelope{true, "Pairing code fetched"}, code})
}

func (h *Handler) removeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.PathValue("name")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{true, "Session removed"})
}

type webhookRequest struct {
	Webhook string              `json:"webhook"`
	Auth    *webhook.AuthConfig `json:"auth,omitempty"`
	// Legacy flat basic-auth fields, kept for older clients.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (req webhookRequest) authConfig() webhook.AuthConfig {
	if req.Auth != nil {
		return *req.Auth
	}
	if req.Username != "" || req.Password != "" {
		return webhook.AuthConfig{Type: webhook.AuthBasic, Username: req.Username, Password: req.Password}
	}
	return webhook.AuthConfig{Type: webhook.AuthNone}
}

func (h *Handler) setWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{false, "invalid JSON body"})
		return
	}
	auth := req.authConfig()
	if err := auth.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{false, err.Error()})
		return
	}
	if err := h.svc.SetWebhook(r.PathValue("name"), req.Webhook, auth); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{true, "Webhook set"})
}

// authView redacts credentials: basic shows the username, bearer only its
// type, secrets never leave the process.
type authView struct {
	Type     webhook.AuthType `json:"type"`
	Username string           `json:"username,omitempty"`
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	url, auth, err := h.svc.GetWebhook(r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	view := authView{Type: auth.Type}
	if view.Type == "" {
		view.Type = webhook.AuthNone
	}
	if auth.Type == webhook.AuthBasic {
		view.Username = auth.Username
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Webhook string   `json:"webhook"`
		Auth    authView `json:"auth"`
	}{envelope{true, "Webhook fetched"}, url, view})
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{false, "invalid JSON body"})
		return
	}
	if strings.TrimSpace(body.To) == "" {
		writeJSON(w, http.StatusBadRequest, envelope{false, "missing recipient"})
		return
	}
	if err := h.svc.Send(r.Context(), r.PathValue("name"), body.To, body.Message); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{true, "Message sent"})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	if h.msgLog == nil {
		writeJSON(w, http.StatusNotFound, envelope{false, "message log not enabled"})
		return
	}
	name := r.PathValue("name")
	if _, err := h.svc.Get(name); err != nil {
		writeErr(w, err)
		return
	}
	limit := 0
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	entries, err := h.msgLog.List(r.Context(), name, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("session", name).Msg("message log query failed")
		writeJSON(w, http.StatusInternalServerError, envelope{false, "message log query failed"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Messages []msglog.Entry `json:"messages"`
	}{envelope{true, "Messages fetched"}, entries})
}
