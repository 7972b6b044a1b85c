package runtime

import (
	"chat-session/contract"
	"chat-session/domain"
	"chat-session/domain/event"
	"chat-session/errors"
	"chat-session/observability"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config tunes reconnection after a dropped transport.
type Config struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
	}
}

// ConnectionManager owns the single transport connection of a session and
// drives its state machine. It is the only component that dials, and the
// only one that changes the connection state.
//
// Every asynchronous outcome (dial result, reader failure, backoff timer)
// carries the generation it was started under; outcomes from an older
// generation are dropped. Connect and Disconnect both start a new generation.
type ConnectionManager struct {
	dialer    contract.Dialer
	refresher contract.Refresher
	store     contract.TokenStore
	handler   event.Handler
	metrics   *observability.Metrics
	log       *slog.Logger
	config    Config

	mu        sync.Mutex
	state     domain.ConnectionState
	gen       uint64
	genCtx    context.Context
	cancelGen context.CancelFunc
	conn      contract.Conn
	handlers  map[event.Name]func(event.Event)
	timer     *time.Timer
	backoff   *backoff.ExponentialBackOff
	attempts  int

	stateObservers []func(domain.StateChange)
	errorObservers []func(error)
	dispatch       dispatcher
}

func NewConnectionManager(
	dialer contract.Dialer,
	refresher contract.Refresher,
	store contract.TokenStore,
	handler event.Handler,
	metrics *observability.Metrics,
	log *slog.Logger,
	config Config,
) *ConnectionManager {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     config.ReconnectDelay,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          2,
		MaxInterval:         config.MaxReconnectDelay,
	}
	b.Reset()
	return &ConnectionManager{
		dialer:    dialer,
		refresher: refresher,
		store:     store,
		handler:   handler,
		metrics:   metrics,
		log:       log,
		config:    config,
		state:     domain.Disconnected,
		backoff:   b,
	}
}

func (m *ConnectionManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers an observer called on every transition, in
// transition order.
func (m *ConnectionManager) OnStateChange(fn func(domain.StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateObservers = append(m.stateObservers, fn)
}

// OnError registers an observer for advisory errors: server error events
// and dropped connections. Terminal failures arrive as a transition to
// Failed carrying the cause.
func (m *ConnectionManager) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorObservers = append(m.errorObservers, fn)
}

// Connect opens the transport with credential. It supersedes any previous
// connection or attempt, whose eventual result is ignored. On an
// authentication failure the credential is refreshed and the dial retried
// once; a second rejection ends in Failed with ErrSessionExpired.
func (m *ConnectionManager) Connect(ctx context.Context, credential domain.Credential) error {
	m.mu.Lock()
	gen, genCtx := m.resetLocked()
	m.attempts = 0
	m.backoff.Reset()
	m.transitionLocked(domain.Connecting, nil)
	m.mu.Unlock()
	m.dispatch.drain()

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(genCtx, cancel)
	defer stop()

	return m.establish(attemptCtx, gen, credential.AccessToken, false)
}

// Disconnect closes the transport and cancels any pending dial or
// reconnect. It is idempotent.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.cancelGen != nil {
		m.cancelGen()
		m.cancelGen = nil
	}
	m.stopTimerLocked()
	m.detachLocked()
	m.transitionLocked(domain.Disconnected, nil)
	m.mu.Unlock()
	m.dispatch.drain()
}

// Send emits cmd on the live connection. Nothing is buffered: when the
// state is not Connected the command is dropped and ErrNotConnected returned.
func (m *ConnectionManager) Send(cmd domain.Command) error {
	m.mu.Lock()
	if m.state != domain.Connected || m.conn == nil {
		m.mu.Unlock()
		m.metrics.SendFailed()
		return fmt.Errorf("%s: %w", cmd.Name(), errors.ErrNotConnected)
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.Emit(cmd); err != nil {
		m.metrics.SendFailed()
		return err
	}
	return nil
}

// Post runs fn in the notification sequence, after every notification
// already queued. Callers use it so their own observer calls never overlap
// with the ones the manager makes.
func (m *ConnectionManager) Post(fn func()) {
	m.dispatch.post(fn)
}

func (m *ConnectionManager) Join(room string) error {
	return m.Send(domain.JoinRoomCommand{Room: room})
}

func (m *ConnectionManager) Leave(room string) error {
	return m.Send(domain.LeaveRoomCommand{Room: room})
}

// establish dials, handling the single refresh-and-retry. reconnecting
// selects what a network failure leads to: another backoff round, or Failed.
func (m *ConnectionManager) establish(ctx context.Context, gen uint64, accessToken string, reconnecting bool) error {
	conn, err := m.dialer.Dial(ctx, accessToken)
	if errors.Is(err, errors.ErrAuthenticationFailed) {
		m.log.Info("Credential rejected by transport, refreshing")
		credential, refreshErr := m.refresher.Refresh(ctx)
		if refreshErr != nil {
			return m.fail(gen, refreshErr)
		}
		if !m.isCurrent(gen) {
			return errors.ErrConnectionSuperseded
		}
		conn, err = m.dialer.Dial(ctx, credential.AccessToken)
		if errors.Is(err, errors.ErrAuthenticationFailed) {
			return m.fail(gen, fmt.Errorf("%w: credential rejected after refresh: %v", errors.ErrSessionExpired, err))
		}
	}

	if err != nil {
		if !m.isCurrent(gen) {
			return errors.ErrConnectionSuperseded
		}
		if ctx.Err() != nil {
			m.abandon(gen)
			return ctx.Err()
		}
		if reconnecting {
			m.retryLater(gen, err)
			return err
		}
		return m.fail(gen, err)
	}
	return m.attach(gen, conn)
}

func (m *ConnectionManager) attach(gen uint64, conn contract.Conn) error {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return errors.ErrConnectionSuperseded
	}
	m.conn = conn
	m.handlers = m.handlerTable(gen)
	m.attempts = 0
	m.backoff.Reset()
	m.transitionLocked(domain.Connected, nil)
	m.mu.Unlock()
	m.dispatch.drain()

	go m.readLoop(gen, conn)
	return nil
}

// handlerTable is the one authoritative handler per event for the
// connection of generation gen. It is dropped on detach.
func (m *ConnectionManager) handlerTable(gen uint64) map[event.Name]func(event.Event) {
	forward := func(e event.Event) { m.handler.Handle(e) }
	ignore := func(e event.Event) { m.log.Debug("Ignoring late handshake event", "event", e.EventName()) }
	return map[event.Name]func(event.Event){
		event.NameConnect:      ignore,
		event.NameConnectError: ignore,
		event.NameRoomMessage:  forward,
		event.NameDirect:       forward,
		event.NameJoinedRoom:   forward,
		event.NameLeftRoom:     forward,
		event.NameError: func(e event.Event) {
			m.onServerFailure(e.(event.ServerFailure))
		},
		event.NameDisconnect: func(e event.Event) {
			reason := e.(event.Disconnected).Reason
			m.onTransportError(gen, fmt.Errorf("%w: server disconnected: %s", errors.ErrNetworkUnavailable, reason))
		},
	}
}

func (m *ConnectionManager) readLoop(gen uint64, conn contract.Conn) {
	for {
		evt, err := conn.Read()
		if err != nil {
			m.onTransportError(gen, err)
			return
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		handle, ok := m.handlers[evt.EventName()]
		m.mu.Unlock()
		if !ok {
			m.log.Debug("No handler for event", "event", evt.EventName())
			continue
		}

		m.dispatch.post(func() {
			if m.isCurrent(gen) {
				handle(evt)
			}
		})
	}
}

func (m *ConnectionManager) onServerFailure(failure event.ServerFailure) {
	err := &errors.ServerError{Code: failure.Code, Message: failure.Message}
	m.metrics.ServerError(failure.Code)
	m.log.Warn("Server reported an error", "code", failure.Code, "message", failure.Message)

	m.mu.Lock()
	observers := slices.Clone(m.errorObservers)
	m.mu.Unlock()
	// Already running inside the dispatch sequence.
	for _, observer := range observers {
		observer(err)
	}
}

func (m *ConnectionManager) onTransportError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state != domain.Connected {
		m.mu.Unlock()
		return
	}
	m.log.Warn("Transport lost", "error", err)
	m.detachLocked()
	m.emitErrorLocked(err)
	m.transitionLocked(domain.Reconnecting, err)
	m.scheduleLocked(gen, err)
	m.mu.Unlock()
	m.dispatch.drain()
}

func (m *ConnectionManager) retryLater(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(domain.Reconnecting, err)
	m.scheduleLocked(gen, err)
	m.mu.Unlock()
	m.dispatch.drain()
}

// scheduleLocked arms the backoff timer, or gives up once the attempts
// are exhausted.
func (m *ConnectionManager) scheduleLocked(gen uint64, cause error) {
	if m.attempts >= m.config.MaxReconnectAttempts {
		m.transitionLocked(domain.Failed, fmt.Errorf("%w: %d reconnect attempts exhausted: %v",
			errors.ErrNetworkUnavailable, m.attempts, cause))
		return
	}
	m.attempts++
	delay := m.backoff.NextBackOff()
	m.metrics.ReconnectScheduled()
	m.log.Info("Reconnecting", "attempt", m.attempts, "delay", delay)
	m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
}

func (m *ConnectionManager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != domain.Reconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.transitionLocked(domain.Connecting, nil)
	ctx := m.genCtx
	m.mu.Unlock()
	m.dispatch.drain()

	credential, ok := m.store.Get()
	if !ok {
		_ = m.fail(gen, fmt.Errorf("%w: no credential to reconnect with", errors.ErrSessionExpired))
		return
	}
	_ = m.establish(ctx, gen, credential.AccessToken, true)
}

func (m *ConnectionManager) fail(gen uint64, err error) error {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return errors.ErrConnectionSuperseded
	}
	m.log.Warn("Connection failed", "error", err)
	m.transitionLocked(domain.Failed, err)
	m.mu.Unlock()
	m.dispatch.drain()
	return err
}

// abandon returns to Disconnected when the caller gave up on Connect.
func (m *ConnectionManager) abandon(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.transitionLocked(domain.Disconnected, nil)
	m.mu.Unlock()
	m.dispatch.drain()
}

func (m *ConnectionManager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// resetLocked starts a new generation and tears down the previous one.
func (m *ConnectionManager) resetLocked() (uint64, context.Context) {
	m.gen++
	if m.cancelGen != nil {
		m.cancelGen()
	}
	m.genCtx, m.cancelGen = context.WithCancel(context.Background())
	m.stopTimerLocked()
	m.detachLocked()
	return m.gen, m.genCtx
}

func (m *ConnectionManager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnectionManager) detachLocked() {
	m.handlers = nil
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.log.Debug("Closing transport", "error", err)
		}
		m.conn = nil
	}
}

func (m *ConnectionManager) transitionLocked(to domain.ConnectionState, err error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.metrics.Transition(to.String())
	m.log.Debug("Connection state", "from", from.String(), "to", to.String())

	change := domain.StateChange{From: from, To: to, Err: err}
	observers := slices.Clone(m.stateObservers)
	m.dispatch.enqueue(func() {
		for _, observer := range observers {
			observer(change)
		}
	})
}

func (m *ConnectionManager) emitErrorLocked(err error) {
	observers := slices.Clone(m.errorObservers)
	m.dispatch.enqueue(func() {
		for _, observer := range observers {
			observer(err)
		}
	})
}
