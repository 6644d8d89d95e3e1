// Package gateway owns the session registry: creation, pairing-timeout
// enforcement, removal, and routing of protocol-client events to the
// webhook dispatcher and the persistence store.
package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/pkg/persistence/msglog"
	"github.com/chatwire/chatwire/pkg/persistence/sessionstore"
	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/webhook"
)

// DefaultPairingWindow bounds how long an unpaired session may live.
const DefaultPairingWindow = 5 * time.Minute

// Dispatcher posts one event payload to a webhook endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, url string, auth webhook.AuthConfig, p webhook.Payload) error
}

// ManagerOptions wires the manager's collaborators.
type ManagerOptions struct {
	BaseCtx       context.Context
	Store         *sessionstore.Store
	Dispatcher    Dispatcher
	Clients       protocol.Factory
	Backend       StreamBackend
	PairingWindow time.Duration
	// MessageLog is optional; inbound messages are appended when set.
	MessageLog *msglog.Store
}

// Manager is the registry of live sessions. All registry mutations go
// through its mutex; per-session field mutations are serialized by the
// session's own mutex plus the single reader goroutine per session.
type Manager struct {
	baseCtx       context.Context
	store         *sessionstore.Store
	dispatcher    Dispatcher
	clients       protocol.Factory
	backend       StreamBackend
	pairingWindow time.Duration
	msgLog        *msglog.Store
	logger        zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	// pending tracks names with an in-flight teardown so a concurrent
	// Create for the same name waits instead of interleaving.
	pending map[string]chan struct{}
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.BaseCtx == nil {
		return nil, errors.New("manager: base context is nil")
	}
	if opts.Store == nil {
		return nil, errors.New("manager: session store is nil")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("manager: dispatcher is nil")
	}
	if opts.Clients == nil {
		return nil, errors.New("manager: client factory is nil")
	}
	if opts.Backend == nil {
		return nil, errors.New("manager: stream backend is nil")
	}
	window := opts.PairingWindow
	if window <= 0 {
		window = DefaultPairingWindow
	}
	return &Manager{
		baseCtx:       opts.BaseCtx,
		store:         opts.Store,
		dispatcher:    opts.Dispatcher,
		clients:       opts.Clients,
		backend:       opts.Backend,
		pairingWindow: window,
		msgLog:        opts.MessageLog,
		logger:        log.With().Str("component", "gateway").Logger(),
		sessions:      map[string]*Session{},
		pending:       map[string]chan struct{}{},
	}, nil
}

// Create registers a new session and starts its pairing handshake
// asynchronously. The session is visible to List and PairingCode
// immediately so polling can begin before pairing completes.
func (m *Manager) Create(ctx context.Context, name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	sess, err := m.register(ctx, sessionstore.Record{Name: name})
	if err != nil {
		return err
	}
	if err := m.startSession(sess); err != nil {
		m.deregister(name)
		return errors.Wrapf(err, "start session %q", name)
	}
	m.logger.Info().Str("session", name).Msg("session created, awaiting pairing")
	return nil
}

// register inserts an empty session for the record, waiting out any
// in-flight teardown of the same name.
func (m *Manager) register(ctx context.Context, rec sessionstore.Record) (*Session, error) {
	for {
		m.mu.Lock()
		if _, ok := m.sessions[rec.Name]; ok {
			m.mu.Unlock()
			return nil, ErrAlreadyExists
		}
		ch, tearing := m.pending[rec.Name]
		if !tearing {
			sess := &Session{
				Name:        rec.Name,
				webhookURL:  rec.Webhook,
				auth:        rec.AuthConfig(),
				displayName: rec.DisplayName,
				handle:      rec.PhoneNumber,
			}
			m.sessions[rec.Name] = sess
			m.mu.Unlock()
			return sess, nil
		}
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) deregister(name string) {
	m.mu.Lock()
	delete(m.sessions, name)
	m.mu.Unlock()
}

// startSession attaches the event subscriber before starting the protocol
// client so the first qr event cannot be missed.
func (m *Manager) startSession(sess *Session) error {
	sub, owned, err := m.backend.BuildSubscriber(m.baseCtx, sess.Name)
	if err != nil {
		return errors.Wrap(err, "build subscriber")
	}
	client, err := m.clients(sess.Name, m.backend.Publisher())
	if err != nil {
		if owned {
			_ = sub.Close()
		}
		return errors.Wrap(err, "build protocol client")
	}

	readCtx, cancel := context.WithCancel(m.baseCtx)
	ch, err := sub.Subscribe(readCtx, protocol.TopicForSession(sess.Name))
	if err != nil {
		cancel()
		_ = client.Destroy()
		if owned {
			_ = sub.Close()
		}
		return errors.Wrap(err, "subscribe session topic")
	}

	done := make(chan struct{})
	sess.mu.Lock()
	sess.client = client
	sess.sub = sub
	sess.subOwned = owned
	sess.stopRead = cancel
	sess.readerDone = done
	sess.mu.Unlock()

	go func() {
		defer close(done)
		m.readEvents(readCtx, sess, ch)
	}()
	go func() {
		if err := client.Start(m.baseCtx); err != nil {
			m.logger.Error().Err(err).Str("session", sess.Name).Msg("protocol client start failed")
		}
	}()
	return nil
}

// List returns all registered session names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// Get returns a read-only view of one session.
func (m *Manager) Get(name string) (Snapshot, error) {
	sess, err := m.lookup(name)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.snapshot(), nil
}

func (m *Manager) lookup(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// PairingCode returns the latest pairing payload. It is unavailable before
// the first qr event and again once the session authenticates.
func (m *Manager) PairingCode(name string) (string, error) {
	sess, err := m.lookup(name)
	if err != nil {
		return "", err
	}
	code, ok := sess.currentPairingCode()
	if !ok {
		return "", ErrPairingUnavailable
	}
	return code, nil
}

// Remove tears the session down: pairing timer canceled, event reader
// stopped, protocol client destroyed, persisted record deleted. A second
// Remove of the same name reports ErrNotFound.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, name)
	ch := make(chan struct{})
	m.pending[name] = ch
	m.mu.Unlock()

	m.teardown(sess, true)

	m.mu.Lock()
	delete(m.pending, name)
	m.mu.Unlock()
	close(ch)

	m.logger.Info().Str("session", name).Msg("session removed")
	return nil
}

func (m *Manager) teardown(sess *Session, deleteRecord bool) {
	sess.mu.Lock()
	sess.cancelPairingTimerLocked()
	stop := sess.stopRead
	client := sess.client
	sub := sess.sub
	owned := sess.subOwned
	done := sess.readerDone
	sess.stopRead = nil
	sess.client = nil
	sess.sub = nil
	sess.readerDone = nil
	sess.mu.Unlock()

	if stop != nil {
		stop()
	}
	// Join the event reader before touching the client or the record so an
	// in-flight handler cannot persist after the delete below.
	if done != nil {
		<-done
	}
	if client != nil {
		if err := client.Destroy(); err != nil {
			m.logger.Warn().Err(err).Str("session", sess.Name).Msg("protocol client destroy failed")
		}
	}
	if owned && sub != nil {
		_ = sub.Close()
	}
	if deleteRecord {
		if err := m.store.Delete(sess.Name); err != nil {
			m.logger.Warn().Err(err).Str("session", sess.Name).Msg("could not delete session record")
		}
	}
}

// evictUnpaired fires from the pairing-window timer. The authenticated
// check closes the window between timer fire and cancellation.
func (m *Manager) evictUnpaired(name string) {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.mu.Lock()
	authed := sess.authenticated
	sess.mu.Unlock()
	if authed {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, name)
	ch := make(chan struct{})
	m.pending[name] = ch
	m.mu.Unlock()

	m.logger.Info().Str("session", name).Dur("window", m.pairingWindow).Msg("session not paired within window, removing")
	m.teardown(sess, true)

	m.mu.Lock()
	delete(m.pending, name)
	m.mu.Unlock()
	close(ch)
}

// SetWebhook updates the session's webhook configuration and persists it
// immediately.
func (m *Manager) SetWebhook(name, url string, auth webhook.AuthConfig) error {
	if err := auth.Validate(); err != nil {
		return errors.WithStack(err)
	}
	sess, err := m.lookup(name)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.webhookURL = url
	sess.auth = auth.Normalize()
	err = m.saveLocked(sess)
	sess.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "persist webhook config")
	}
	return nil
}

// GetWebhook returns the stored webhook URL and auth config.
func (m *Manager) GetWebhook(name string) (string, webhook.AuthConfig, error) {
	sess, err := m.lookup(name)
	if err != nil {
		return "", webhook.AuthConfig{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.webhookURL, sess.auth, nil
}

// Send submits an outbound message through the session's protocol client.
// Delivery is fire-and-forget at the transport level; errors here report
// submit failure only.
func (m *Manager) Send(ctx context.Context, name, to, body string) error {
	sess, err := m.lookup(name)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	client := sess.client
	sess.mu.Unlock()
	if client == nil {
		return ErrNotFound
	}
	if err := client.Send(ctx, to, body); err != nil {
		return errors.Wrapf(err, "send message via session %q", name)
	}
	return nil
}

// LoadAll reconstructs sessions from persisted records at startup. Each
// comes back unauthenticated and starts a fresh pairing handshake. Corrupt
// records are skipped with a warning.
func (m *Manager) LoadAll(ctx context.Context) error {
	records, bad := m.store.ListAll()
	for _, err := range bad {
		m.logger.Warn().Err(err).Msg("skipping unreadable session record")
	}
	for _, rec := range records {
		if !ValidName(rec.Name) {
			m.logger.Warn().Str("session", rec.Name).Msg("skipping record with invalid name")
			continue
		}
		sess, err := m.register(ctx, rec)
		if err != nil {
			m.logger.Warn().Err(err).Str("session", rec.Name).Msg("skipping record")
			continue
		}
		if err := m.startSession(sess); err != nil {
			m.deregister(rec.Name)
			m.logger.Error().Err(err).Str("session", rec.Name).Msg("could not restart persisted session")
			continue
		}
		m.logger.Info().Str("session", rec.Name).Msg("restored session, awaiting pairing")
	}
	return nil
}

// Close stops all sessions without deleting their persisted records.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	for _, sess := range sessions {
		m.teardown(sess, false)
	}
}

// saveLocked persists the session's record. Callers hold sess.mu, which
// also guarantees the single-in-flight-save-per-name invariant.
func (m *Manager) saveLocked(sess *Session) error {
	rec := sessionstore.Record{
		Name:          sess.Name,
		Webhook:       sess.webhookURL,
		DisplayName:   sess.displayName,
		PhoneNumber:   sess.handle,
		Authenticated: sess.authenticated,
	}
	if sess.auth.Type != "" && sess.auth.Type != webhook.AuthNone {
		auth := sess.auth
		rec.Auth = &auth
	}
	return m.store.Save(rec)
}
