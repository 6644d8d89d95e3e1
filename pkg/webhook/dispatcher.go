package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Payload is the JSON body posted to a configured webhook endpoint.
type Payload struct {
	Event     string    `json:"event"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session"`
}

// Dispatcher posts event payloads to webhook endpoints. One attempt per
// event, no retry; the caller decides what to do with a failure.
type Dispatcher struct {
	client *http.Client
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

// Dispatch performs a single HTTP POST of the payload to url. Network
// errors and non-2xx responses are both delivery failures.
func (d *Dispatcher) Dispatch(ctx context.Context, url string, auth AuthConfig, p Payload) error {
	if d == nil || d.client == nil {
		return errors.New("webhook dispatcher is not initialized")
	}
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook url is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	switch auth.Type {
	case AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().
			Str("component", "webhook").
			Str("session", p.Session).
			Int("status", resp.StatusCode).
			Msg("webhook endpoint rejected payload")
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
