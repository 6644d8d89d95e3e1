package gateway

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/chatwire/chatwire/pkg/persistence/msglog"
	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/webhook"
)

// readEvents consumes the session's topic until the read context is
// canceled. One goroutine per session keeps that session's events in
// emission order without blocking any other session. Handlers run under
// ctx so teardown's cancel unblocks any in-flight identity lookup or
// webhook dispatch.
func (m *Manager) readEvents(ctx context.Context, sess *Session, ch <-chan *message.Message) {
	for msg := range ch {
		e, err := protocol.EventFromMessage(msg)
		if err != nil {
			m.logger.Warn().Err(err).Str("session", sess.Name).Msg("dropping undecodable event")
			msg.Ack()
			continue
		}
		if e.Session != "" && e.Session != sess.Name {
			msg.Ack()
			continue
		}
		m.handleEvent(ctx, sess, e)
		msg.Ack()
	}
	m.logger.Debug().Str("session", sess.Name).Msg("session event reader stopped")
}

func (m *Manager) handleEvent(ctx context.Context, sess *Session, e protocol.Event) {
	switch e.Type {
	case protocol.EventQR:
		m.handlePairingCode(sess, e.Code)
	case protocol.EventAuthenticated, protocol.EventReady:
		m.handleAuthenticated(ctx, sess, e.Type)
	case protocol.EventMessage:
		m.handleMessage(ctx, sess, e)
	default:
		m.logger.Debug().Str("session", sess.Name).Str("type", e.Type).Msg("ignoring unknown event type")
	}
}

// handlePairingCode stores the latest code and (re)arms the pairing-window
// timer. The timer handle lives on the session so authentication and
// removal can cancel it instead of racing a flag check.
func (m *Manager) handlePairingCode(sess *Session, code string) {
	sess.mu.Lock()
	if sess.authenticated {
		sess.mu.Unlock()
		return
	}
	sess.pairingCode = code
	sess.cancelPairingTimerLocked()
	name := sess.Name
	sess.pairingTimer = time.AfterFunc(m.pairingWindow, func() {
		m.evictUnpaired(name)
	})
	sess.mu.Unlock()
	m.logger.Info().Str("session", sess.Name).Msg("pairing code received")
}

// handleAuthenticated runs for both authenticated and ready; the two may
// both fire and must leave the same persisted state.
func (m *Manager) handleAuthenticated(ctx context.Context, sess *Session, eventType string) {
	sess.mu.Lock()
	first := !sess.authenticated
	sess.authenticated = true
	sess.pairingCode = ""
	sess.cancelPairingTimerLocked()
	client := sess.client
	sess.mu.Unlock()

	if first {
		m.logger.Info().Str("session", sess.Name).Str("event", eventType).Msg("session authenticated")
	}

	// Identity lookup is best-effort; the record is persisted either way.
	if client != nil {
		idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		id, err := client.Identity(idCtx)
		cancel()
		if err != nil {
			m.logger.Warn().Err(err).Str("session", sess.Name).Msg("identity lookup failed, persisting without identity")
		} else {
			sess.mu.Lock()
			sess.displayName = id.DisplayName
			sess.handle = id.Handle
			sess.mu.Unlock()
		}
	}

	sess.mu.Lock()
	err := m.saveLocked(sess)
	sess.mu.Unlock()
	if err != nil {
		m.logger.Error().Err(err).Str("session", sess.Name).Msg("could not persist session record")
	}
}

// handleMessage forwards an inbound message to the configured webhook.
// Delivery failures are logged and swallowed; they never take the session
// down.
func (m *Manager) handleMessage(ctx context.Context, sess *Session, e protocol.Event) {
	sess.mu.Lock()
	url := sess.webhookURL
	auth := sess.auth
	sess.mu.Unlock()

	if m.msgLog != nil {
		entry := msglog.Entry{
			Session:      sess.Name,
			From:         e.From,
			Body:         e.Body,
			ReceivedAtMs: e.Timestamp.UnixMilli(),
		}
		if err := m.msgLog.Append(ctx, entry); err != nil {
			m.logger.Warn().Err(err).Str("session", sess.Name).Msg("could not append to message log")
		}
	}

	if url == "" {
		return
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	err := m.dispatcher.Dispatch(dispatchCtx, url, auth, webhook.Payload{
		Event:     "message",
		From:      e.From,
		Body:      e.Body,
		Timestamp: e.Timestamp,
		Session:   sess.Name,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("session", sess.Name).Msg("webhook delivery failed")
	}
}
