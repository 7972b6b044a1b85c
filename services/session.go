package services

import (
	"chat-session/auth"
	"chat-session/contract"
	"chat-session/domain"
	"chat-session/domain/event"
	"chat-session/errors"
	"chat-session/observability"
	"chat-session/projection"
	"chat-session/runtime"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the public surface of the client: the auth flow feeds it
// credentials, the UI issues commands through it and renders what its
// ledger holds.
type Session struct {
	api        contract.AuthAPI
	store      contract.TokenStore
	refresher  contract.Refresher
	connection *runtime.ConnectionManager
	ledger     *projection.Ledger
	log        *slog.Logger
	now        func() time.Time

	mu         sync.RWMutex
	user       domain.User
	hasUser    bool
	activeRoom string

	roomObservers   []func(domain.RoomMessage)
	directObservers []func(domain.DirectMessage)
}

type SessionOption func(*Session)

// WithClock replaces the clock stamping optimistic and system entries.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(
	api contract.AuthAPI,
	store contract.TokenStore,
	refresher contract.Refresher,
	dialer contract.Dialer,
	metrics *observability.Metrics,
	log *slog.Logger,
	config runtime.Config,
	opts ...SessionOption,
) *Session {
	s := &Session{
		api:       api,
		store:     store,
		refresher: refresher,
		ledger:    projection.NewLedger(metrics),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.connection = runtime.NewConnectionManager(dialer, refresher, store, s, metrics, log, config)
	return s
}

// Connection hands out the connection manager owned by the session.
func (s *Session) Connection() *runtime.ConnectionManager {
	return s.connection
}

// Login authenticates, stores the credential and connects. The user is
// returned even when only the connection failed.
func (s *Session) Login(ctx context.Context, req domain.LoginRequest) (domain.User, error) {
	if err := auth.ValidateLogin(req); err != nil {
		return domain.User{}, err
	}
	resp, err := s.api.Login(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	return s.start(ctx, resp.User, auth.NewCredential(resp.AccessToken))
}

func (s *Session) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	if err := auth.ValidateRegister(req); err != nil {
		return domain.User{}, err
	}
	resp, err := s.api.Register(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	return s.start(ctx, resp.User, auth.NewCredential(resp.AccessToken))
}

// expiryMargin is how close to expiry a stored credential is refreshed
// before being reused.
const expiryMargin = 30 * time.Second

// Restore resumes a session after a restart of the client: from the
// stored access credential when there is one, otherwise from the refresh
// credential alone.
func (s *Session) Restore(ctx context.Context) (domain.User, error) {
	if credential, ok := s.store.Get(); !ok || auth.ExpiresWithin(credential, s.now(), expiryMargin) {
		if _, err := s.refresher.Refresh(ctx); err != nil {
			return domain.User{}, err
		}
	}
	user, err := s.api.Me(ctx)
	if err != nil {
		// Only a backend that answered can condemn the kept credential.
		if !errors.Is(err, errors.ErrNetworkUnavailable) {
			if clearErr := s.store.Clear(); clearErr != nil {
				s.log.Warn("Failed to clear token store", "error", clearErr)
			}
		}
		return domain.User{}, err
	}
	// Me may have refreshed the credential on the way.
	credential, ok := s.store.Get()
	if !ok {
		return domain.User{}, errors.ErrSessionExpired
	}
	return s.start(ctx, user, credential)
}

func (s *Session) start(ctx context.Context, user domain.User, credential domain.Credential) (domain.User, error) {
	if err := s.store.Set(credential); err != nil {
		return domain.User{}, fmt.Errorf("storing credential: %w", err)
	}

	// The reset is queued behind whatever the previous connection delivered.
	s.connection.Disconnect()
	s.mu.Lock()
	s.user = user
	s.hasUser = true
	s.mu.Unlock()
	s.connection.Post(s.resetLocal)

	s.log.Info("Session started", "username", user.Username)
	if err := s.connection.Connect(ctx, credential); err != nil {
		return user, fmt.Errorf("connect: %w", err)
	}
	return user, nil
}

// Logout closes the transport first so nothing reconnects with a
// credential that is being revoked. Local state is cleared even when the
// server call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.connection.Disconnect()
	apiErr := s.api.Logout(ctx)

	storeErr := s.store.Clear()
	s.mu.Lock()
	s.user = domain.User{}
	s.hasUser = false
	s.mu.Unlock()
	s.resetLocal()

	if apiErr != nil {
		s.log.Warn("Server-side logout failed", "error", apiErr)
		return apiErr
	}
	if storeErr != nil {
		return fmt.Errorf("clearing credential: %w", storeErr)
	}
	return nil
}

func (s *Session) CurrentUser() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.hasUser
}

// FetchCurrentUser reloads the profile from the backend.
func (s *Session) FetchCurrentUser(ctx context.Context) (domain.User, error) {
	if _, ok := s.CurrentUser(); !ok {
		return domain.User{}, errors.ErrNotAuthenticated
	}
	user, err := s.api.Me(ctx)
	if err != nil {
		return domain.User{}, err
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return user, nil
}

func (s *Session) JoinRoom(room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return errors.ErrInvalidRoom
	}
	return s.connection.Join(room)
}

func (s *Session) LeaveRoom(room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		room = s.ActiveRoom()
	}
	if room == "" {
		return errors.ErrInvalidRoom
	}
	return s.connection.Leave(room)
}

// SendRoomMessage sends text to room, or to the active room when room is
// empty. The ledger gains the entry when the server broadcasts it.
func (s *Session) SendRoomMessage(room, text string) error {
	if room == "" {
		room = s.ActiveRoom()
	}
	if room == "" {
		return errors.ErrInvalidRoom
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty message", errors.ErrInvalidRequest)
	}
	return s.connection.Send(domain.RoomMessageCommand{Room: room, Message: text})
}

// SendDirectMessage records the message as sent before emitting it.
// The entry stays in the ledger whatever happens to the delivery.
func (s *Session) SendDirectMessage(to, text string) (domain.DirectMessage, error) {
	user, ok := s.CurrentUser()
	if !ok {
		return domain.DirectMessage{}, errors.ErrNotAuthenticated
	}
	to = strings.TrimSpace(to)
	if to == "" || strings.TrimSpace(text) == "" {
		return domain.DirectMessage{}, fmt.Errorf("%w: direct message needs a target and a text", errors.ErrInvalidRequest)
	}

	msg := domain.NewSentMessage(user.Username, to, text, s.now())
	if s.ledger.AppendDirect(msg) {
		s.connection.Post(func() { s.notifyDirect(msg) })
	}
	return msg, s.connection.Send(domain.DirectMessageCommand{TargetUsername: to, Message: text})
}

func (s *Session) ActiveRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeRoom
}

func (s *Session) State() domain.ConnectionState {
	return s.connection.State()
}

func (s *Session) RoomMessages(room string) []domain.RoomMessage {
	return s.ledger.Room(room)
}

func (s *Session) DirectMessages(peer string) []domain.DirectMessage {
	return s.ledger.Direct(peer)
}

// Rooms lists the rooms with history in this session.
func (s *Session) Rooms() []string {
	return s.ledger.Rooms()
}

func (s *Session) Conversations() []string {
	return s.ledger.Conversations()
}

func (s *Session) OnStateChange(fn func(domain.StateChange)) {
	s.connection.OnStateChange(fn)
}

// OnError receives advisory errors. Delivery errors such as
// errors.ErrTargetOffline never alter the ledger.
func (s *Session) OnError(fn func(error)) {
	s.connection.OnError(fn)
}

func (s *Session) OnRoomMessage(fn func(domain.RoomMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomObservers = append(s.roomObservers, fn)
}

func (s *Session) OnDirectMessage(fn func(domain.DirectMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directObservers = append(s.directObservers, fn)
}

// Handle consumes the inbound events forwarded by the connection manager.
func (s *Session) Handle(evt event.Event) {
	switch e := evt.(type) {
	case event.RoomMessageReceived:
		s.onRoomMessage(e)
	case event.DirectMessageReceived:
		s.onDirectMessage(e)
	case event.RoomJoined:
		s.mu.Lock()
		s.activeRoom = e.Room
		s.mu.Unlock()
		s.appendRoom(domain.JoinedRoomMessage(e.Room, s.now()))
	case event.RoomLeft:
		s.mu.Lock()
		if s.activeRoom == e.Room {
			s.activeRoom = ""
		}
		s.mu.Unlock()
		s.appendRoom(domain.LeftRoomMessage(e.Room, s.now()))
	default:
		s.log.Debug("Unhandled event", "event", evt.EventName())
	}
}

func (s *Session) onRoomMessage(e event.RoomMessageReceived) {
	room := e.Room
	if room == "" {
		room = s.ActiveRoom()
	}
	if room == "" {
		s.log.Debug("Dropping room message outside any room", "sender", e.Sender)
		return
	}
	s.appendRoom(domain.RoomMessage{
		Room:      room,
		Kind:      e.Kind,
		Sender:    e.Sender,
		Content:   e.Content,
		Timestamp: e.Timestamp,
	})
}

func (s *Session) onDirectMessage(e event.DirectMessageReceived) {
	if e.Tag != event.TagPrivate {
		// The sender's own echo is already in the ledger as an optimistic entry.
		s.log.Debug("Dropping direct message", "tag", e.Tag, "sender", e.Sender)
		return
	}

	msg := domain.DirectMessage{
		ID:        uuid.New(),
		Content:   e.Content,
		From:      e.Sender,
		To:        e.Target,
		Timestamp: e.Timestamp,
		Direction: domain.DirectionReceived,
	}
	if user, ok := s.CurrentUser(); ok && e.Sender == user.Username && e.Target != "" {
		msg.Direction = domain.DirectionSent
	}
	if s.ledger.AppendDirect(msg) {
		s.notifyDirect(msg)
	}
}

// resetLocal forgets the active room and the message history.
func (s *Session) resetLocal() {
	s.mu.Lock()
	s.activeRoom = ""
	s.mu.Unlock()
	s.ledger.Reset()
}

func (s *Session) appendRoom(msg domain.RoomMessage) {
	s.ledger.AppendRoom(msg)
	s.mu.RLock()
	observers := slices.Clone(s.roomObservers)
	s.mu.RUnlock()
	for _, observer := range observers {
		observer(msg)
	}
}

func (s *Session) notifyDirect(msg domain.DirectMessage) {
	s.mu.RLock()
	observers := slices.Clone(s.directObservers)
	s.mu.RUnlock()
	for _, observer := range observers {
		observer(msg)
	}
}
