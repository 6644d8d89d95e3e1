package gateway

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/webhook"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name is a legal session identity.
func ValidName(name string) bool { return nameRe.MatchString(name) }

// Session is one managed chat-client identity: its configuration, pairing
// state, and the exclusively-owned protocol client.
type Session struct {
	Name string

	mu            sync.Mutex
	webhookURL    string
	auth          webhook.AuthConfig
	pairingCode   string
	authenticated bool
	displayName   string
	handle        string

	client       protocol.Client
	pairingTimer *time.Timer
	sub          message.Subscriber
	subOwned     bool
	stopRead     context.CancelFunc
	readerDone   chan struct{}
}

// Snapshot is a read-only view of a session for API responses.
type Snapshot struct {
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
	DisplayName   string `json:"displayName,omitempty"`
	Handle        string `json:"phoneNumber,omitempty"`
	WebhookSet    bool   `json:"webhookSet"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Name:          s.Name,
		Authenticated: s.authenticated,
		DisplayName:   s.displayName,
		Handle:        s.handle,
		WebhookSet:    s.webhookURL != "",
	}
}

// currentPairingCode returns the latest pairing code. It is unavailable
// before the first qr event and again once the session authenticates.
func (s *Session) currentPairingCode() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authenticated || s.pairingCode == "" {
		return "", false
	}
	return s.pairingCode, true
}

// cancelPairingTimerLocked stops any armed pairing-window timer. Callers
// hold s.mu.
func (s *Session) cancelPairingTimerLocked() {
	if s.pairingTimer != nil {
		s.pairingTimer.Stop()
		s.pairingTimer = nil
	}
}
