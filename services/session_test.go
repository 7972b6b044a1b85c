package services

import (
	"chat-session/auth"
	"chat-session/contract"
	"chat-session/domain"
	"chat-session/domain/event"
	"chat-session/errors"
	"chat-session/mocks"
	"chat-session/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// echoServer answers commands the way the chat server does for a single
// connected user.
type echoServer struct {
	username string
	now      func() time.Time

	mu          sync.Mutex
	conns       []*echoConn
	directReply func(cmd domain.DirectMessageCommand) []event.Event
}

func (s *echoServer) Dial(_ context.Context, _ string) (contract.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := &echoConn{server: s, events: make(chan event.Event, 16), done: make(chan struct{})}
	s.conns = append(s.conns, conn)
	return conn, nil
}

type echoConn struct {
	server *echoServer
	events chan event.Event
	done   chan struct{}
	once   sync.Once
}

func (c *echoConn) Emit(cmd domain.Command) error {
	switch cmd := cmd.(type) {
	case domain.JoinRoomCommand:
		c.events <- event.RoomJoined{Room: cmd.Room}
	case domain.LeaveRoomCommand:
		c.events <- event.RoomLeft{Room: cmd.Room}
	case domain.RoomMessageCommand:
		c.events <- event.RoomMessageReceived{
			Room: cmd.Room, Kind: domain.KindRoom, Sender: c.server.username,
			Content: cmd.Message, Timestamp: c.server.now(),
		}
	case domain.DirectMessageCommand:
		c.server.mu.Lock()
		reply := c.server.directReply
		c.server.mu.Unlock()
		if reply != nil {
			for _, evt := range reply(cmd) {
				c.events <- evt
			}
		}
	}
	return nil
}

func (c *echoConn) Read() (event.Event, error) {
	select {
	case evt := <-c.events:
		return evt, nil
	case <-c.done:
		return nil, fmt.Errorf("%w: closed", errors.ErrNetworkUnavailable)
	}
}

func (c *echoConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

var (
	sentAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice  = domain.User{ID: "u-1", Email: "alice@example.com", Username: "alice", FullName: "Alice"}
)

type sessionFixture struct {
	session *Session
	api     *mocks.MockAuthAPI
	refresh *mocks.MockRefresher
	store   *auth.MemoryTokenStore
	server  *echoServer
}

func newSessionFixture(t *testing.T) sessionFixture {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockAuthAPI(ctrl)
	refresher := mocks.NewMockRefresher(ctrl)
	store := auth.NewMemoryTokenStore()
	clock := func() time.Time { return sentAt }
	server := &echoServer{username: "alice", now: clock}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	session := NewSession(api, store, refresher, server, nil, log, runtime.DefaultConfig(), WithClock(clock))
	t.Cleanup(session.Connection().Disconnect)
	return sessionFixture{session: session, api: api, refresh: refresher, store: store, server: server}
}

func (f sessionFixture) login(t *testing.T) {
	f.api.EXPECT().Login(gomock.Any(), gomock.Any()).Return(domain.AuthResponse{
		AccessToken: "access-1",
		User:        alice,
	}, nil)
	_, err := f.session.Login(context.Background(), domain.LoginRequest{Email: "alice@example.com", Password: "secret-password"})
	require.NoError(t, err)
}

func TestSession_Login_Connects_And_Stores_Credential(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// When logging in with valid credentials
	f.login(t)

	// Then the credential is stored and the transport connected
	credential, ok := f.store.Get()
	req.True(ok)
	req.Equal("access-1", credential.AccessToken)
	req.Equal(domain.Connected, f.session.State())
	user, ok := f.session.CurrentUser()
	req.True(ok)
	req.Equal("alice", user.Username)
}

func TestSession_Login_Rejects_Invalid_Request(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// When the email is malformed, the backend is never called
	_, err := f.session.Login(context.Background(), domain.LoginRequest{Email: "not-an-email", Password: "x"})

	// Then
	req.ErrorIs(err, errors.ErrInvalidRequest)
	req.Equal(domain.Disconnected, f.session.State())
}

func TestSession_Room_Message_Scenario(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)

	// When joining general and sending hi
	req.NoError(f.session.JoinRoom("general"))
	req.Eventually(func() bool { return f.session.ActiveRoom() == "general" }, time.Second, 5*time.Millisecond)
	req.NoError(f.session.SendRoomMessage("general", "hi"))

	// Then the room ledger holds the join line and one message with content hi
	req.Eventually(func() bool { return len(f.session.RoomMessages("general")) == 2 }, time.Second, 5*time.Millisecond)
	messages := f.session.RoomMessages("general")
	req.Equal("[System] Joined room: general", messages[0].Text())
	req.Equal("hi", messages[1].Content)
	req.Equal("[alice]: hi", messages[1].Text())
}

func TestSession_Room_Message_Defaults_To_Active_Room(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)

	// Given no active room yet
	req.ErrorIs(f.session.SendRoomMessage("", "hi"), errors.ErrInvalidRoom)

	// When a room was joined
	req.NoError(f.session.JoinRoom("random"))
	req.Eventually(func() bool { return f.session.ActiveRoom() == "random" }, time.Second, 5*time.Millisecond)

	// Then an unaddressed message goes to it
	req.NoError(f.session.SendRoomMessage("", "hello"))
	req.Eventually(func() bool { return len(f.session.RoomMessages("random")) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSession_Direct_Message_Echo_Is_Deduplicated(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)

	// Given the server echoes the message back with the same identity
	echoed := make(chan struct{})
	f.server.directReply = func(cmd domain.DirectMessageCommand) []event.Event {
		defer close(echoed)
		return []event.Event{
			event.DirectMessageReceived{Tag: event.TagPrivateSent, Sender: "alice", Target: cmd.TargetUsername, Content: cmd.Message, Timestamp: sentAt},
			event.DirectMessageReceived{Tag: event.TagPrivate, Sender: "alice", Target: cmd.TargetUsername, Content: cmd.Message, Timestamp: sentAt},
		}
	}

	// When sending a direct message
	msg, err := f.session.SendDirectMessage("bob", "hello")

	// Then the optimistic entry is there immediately and stays single
	req.NoError(err)
	req.Equal(domain.DirectionSent, msg.Direction)
	<-echoed
	time.Sleep(50 * time.Millisecond)
	conversation := f.session.DirectMessages("bob")
	req.Len(conversation, 1)
	req.Equal("hello", conversation[0].Content)
	req.Equal(domain.DirectionSent, conversation[0].Direction)
	req.Equal([]string{"bob"}, f.session.Conversations())
}

func TestSession_Delivery_Error_Keeps_Optimistic_Entry(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)

	var mu sync.Mutex
	var advisories []error
	f.session.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		advisories = append(advisories, err)
	})
	f.server.directReply = func(domain.DirectMessageCommand) []event.Event {
		return []event.Event{event.ServerFailure{Code: errors.CodeUserOffline, Message: "bob is offline"}}
	}

	// When sending to an offline peer
	_, err := f.session.SendDirectMessage("bob", "are you there")
	req.NoError(err)

	// Then one error notification arrives and the entry is not retracted
	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(advisories) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	req.ErrorIs(advisories[0], errors.ErrTargetOffline)
	mu.Unlock()
	req.Len(f.session.DirectMessages("bob"), 1)
}

func TestSession_Inbound_Direct_Message_Filed_Under_Sender(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)

	var received []domain.DirectMessage
	f.session.OnDirectMessage(func(msg domain.DirectMessage) { received = append(received, msg) })

	// When bob writes, then writes the same event again, then an untagged payload arrives
	f.session.Handle(event.DirectMessageReceived{Tag: event.TagPrivate, Sender: "bob", Target: "alice", Content: "yo", Timestamp: sentAt})
	f.session.Handle(event.DirectMessageReceived{Tag: event.TagPrivate, Sender: "bob", Target: "alice", Content: "yo", Timestamp: sentAt})
	f.session.Handle(event.DirectMessageReceived{Sender: "bob", Target: "alice", Content: "untagged", Timestamp: sentAt})

	// Then only one received entry exists and observers heard it once
	conversation := f.session.DirectMessages("bob")
	req.Len(conversation, 1)
	req.Equal(domain.DirectionReceived, conversation[0].Direction)
	req.Len(received, 1)
}

func TestSession_Send_Direct_Requires_Login(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// When sending before any login
	_, err := f.session.SendDirectMessage("bob", "hello")

	// Then
	req.ErrorIs(err, errors.ErrNotAuthenticated)
	req.Empty(f.session.Conversations())
}

func TestSession_Logout_Disconnects_Before_Server_Call(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)

	// Given a server-side logout that fails
	f.api.EXPECT().Logout(gomock.Any()).DoAndReturn(func(context.Context) error {
		// Then the transport is already closed when the server is called
		req.Equal(domain.Disconnected, f.session.State())
		return fmt.Errorf("logout: %w", errors.ErrNetworkUnavailable)
	})

	// When logging out
	err := f.session.Logout(context.Background())

	// Then the error is reported and local state is still cleared
	req.ErrorIs(err, errors.ErrNetworkUnavailable)
	_, ok := f.store.Get()
	req.False(ok)
	_, ok = f.session.CurrentUser()
	req.False(ok)
	req.Empty(f.session.ActiveRoom())
}

func TestSession_Restore_Bootstraps_From_Refresh(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// Given no stored credential but a valid refresh credential
	f.refresh.EXPECT().Refresh(gomock.Any()).DoAndReturn(func(context.Context) (domain.Credential, error) {
		credential := domain.Credential{AccessToken: "access-2"}
		return credential, f.store.Set(credential)
	})
	f.api.EXPECT().Me(gomock.Any()).Return(alice, nil)

	// When restoring
	user, err := f.session.Restore(context.Background())

	// Then the session is live again
	req.NoError(err)
	req.Equal("alice", user.Username)
	req.Equal(domain.Connected, f.session.State())
}

func TestSession_Restore_Uses_Stored_Credential(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// Given a credential kept from a previous run
	req.NoError(f.store.Set(domain.Credential{AccessToken: "access-kept"}))
	f.refresh.EXPECT().Refresh(gomock.Any()).Times(0)
	f.api.EXPECT().Me(gomock.Any()).Return(alice, nil)

	// When restoring
	_, err := f.session.Restore(context.Background())

	// Then no refresh was needed
	req.NoError(err)
	req.Equal(domain.Connected, f.session.State())
}

func TestSession_Restore_Refreshes_Credential_About_To_Expire(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// Given a kept credential expiring in a few seconds
	req.NoError(f.store.Set(domain.Credential{AccessToken: "access-old", ExpiresAt: sentAt.Add(5 * time.Second)}))
	f.refresh.EXPECT().Refresh(gomock.Any()).DoAndReturn(func(context.Context) (domain.Credential, error) {
		credential := domain.Credential{AccessToken: "access-new", ExpiresAt: sentAt.Add(15 * time.Minute)}
		return credential, f.store.Set(credential)
	})
	f.api.EXPECT().Me(gomock.Any()).Return(alice, nil)

	// When restoring
	_, err := f.session.Restore(context.Background())

	// Then the fresh credential is the one in use
	req.NoError(err)
	credential, _ := f.store.Get()
	req.Equal("access-new", credential.AccessToken)
}

func TestSession_Restore_Fails_When_Session_Expired(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// Given the refresh credential was revoked
	f.refresh.EXPECT().Refresh(gomock.Any()).Return(domain.Credential{}, errors.ErrSessionExpired)

	// When restoring
	_, err := f.session.Restore(context.Background())

	// Then no connection is attempted
	req.ErrorIs(err, errors.ErrSessionExpired)
	req.Equal(domain.Disconnected, f.session.State())
}

func TestSession_Leave_Clears_Active_Room(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)
	req.NoError(f.session.JoinRoom("general"))
	req.Eventually(func() bool { return f.session.ActiveRoom() == "general" }, time.Second, 5*time.Millisecond)

	// When leaving the active room
	req.NoError(f.session.LeaveRoom(""))

	// Then it is no longer active and a system line records it
	req.Eventually(func() bool { return f.session.ActiveRoom() == "" }, time.Second, 5*time.Millisecond)
	messages := f.session.RoomMessages("general")
	req.Equal("[System] Left room: general", messages[len(messages)-1].Text())
}

func TestSession_Direct_Observers_Never_Overlap(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)
	f.server.mu.Lock()
	conn := f.server.conns[0]
	f.server.mu.Unlock()

	// Given an observer that notices when it is entered twice at once
	var running, overlaps, calls atomic.Int32
	f.session.OnDirectMessage(func(domain.DirectMessage) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(100 * time.Microsecond)
		running.Add(-1)
		calls.Add(1)
	})

	// When direct messages are sent while others arrive from bob
	const n = 100
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			conn.events <- event.DirectMessageReceived{
				Tag: event.TagPrivate, Sender: "bob", Target: "alice",
				Content: fmt.Sprintf("in %d", i), Timestamp: sentAt.Add(time.Duration(i) * time.Millisecond),
			}
		}
	}()
	var sendErrors atomic.Int32
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if _, err := f.session.SendDirectMessage("bob", fmt.Sprintf("out %d", i)); err != nil {
				sendErrors.Add(1)
			}
		}
	}()
	wg.Wait()
	req.Zero(sendErrors.Load())

	// Then every message is notified once, one observer call at a time
	req.Eventually(func() bool { return calls.Load() == 2*n }, 5*time.Second, 10*time.Millisecond)
	req.Zero(overlaps.Load())
	req.Len(f.session.DirectMessages("bob"), 2*n)
}

func TestSession_Relogin_Starts_With_Empty_Ledger(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)
	f.login(t)
	_, err := f.session.SendDirectMessage("bob", "from the first session")
	req.NoError(err)
	req.NoError(f.session.JoinRoom("general"))
	req.Eventually(func() bool { return f.session.ActiveRoom() == "general" }, time.Second, 5*time.Millisecond)

	// When logging in again without logging out
	f.login(t)

	// Then nothing from the previous connection is left
	req.Eventually(func() bool {
		return f.session.ActiveRoom() == "" && len(f.session.Conversations()) == 0 && len(f.session.Rooms()) == 0
	}, time.Second, 5*time.Millisecond)
	req.Equal(domain.Connected, f.session.State())

	// And the first connection, now closed, feeds nothing into the new ledger
	f.server.mu.Lock()
	first := f.server.conns[0]
	f.server.mu.Unlock()
	req.NoError(first.Emit(domain.JoinRoomCommand{Room: "stale"}))
	time.Sleep(50 * time.Millisecond)
	req.Empty(f.session.RoomMessages("stale"))
}

func TestSession_Restore_Clears_Credential_Refused_By_Backend(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	// Given a kept credential the backend no longer accepts
	req.NoError(f.store.Set(domain.Credential{AccessToken: "access-kept"}))
	f.api.EXPECT().Me(gomock.Any()).Return(domain.User{}, fmt.Errorf("me: %w", errors.ErrInvalidCredentials))

	// When restoring
	_, err := f.session.Restore(context.Background())

	// Then the credential is dropped and no connection is attempted
	req.ErrorIs(err, errors.ErrInvalidCredentials)
	_, ok := f.store.Get()
	req.False(ok)
	req.Equal(domain.Disconnected, f.session.State())
}

func TestSession_Restore_Keeps_Credential_When_Backend_Unreachable(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t)

	req.NoError(f.store.Set(domain.Credential{AccessToken: "access-kept"}))
	f.api.EXPECT().Me(gomock.Any()).Return(domain.User{}, fmt.Errorf("me: %w", errors.ErrNetworkUnavailable))

	_, err := f.session.Restore(context.Background())

	req.ErrorIs(err, errors.ErrNetworkUnavailable)
	credential, ok := f.store.Get()
	req.True(ok)
	req.Equal("access-kept", credential.AccessToken)
}
