//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-session/domain"
	"chat-session/domain/event"
	"context"
)

// TokenStore holds the current access credential.
type TokenStore interface {
	Set(credential domain.Credential) error
	Get() (domain.Credential, bool)
	Clear() error
}

// Refresher mints a new access credential from the refresh credential.
type Refresher interface {
	Refresh(ctx context.Context) (domain.Credential, error)
}

// AuthAPI is the backend auth service.
type AuthAPI interface {
	Register(ctx context.Context, req domain.RegisterRequest) (domain.AuthResponse, error)
	Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error)
	Refresh(ctx context.Context) (domain.Credential, error)
	Me(ctx context.Context) (domain.User, error)
	Logout(ctx context.Context) error
}

// Dialer opens an authenticated transport connection. Dial returns once
// the server acknowledged the handshake.
type Dialer interface {
	Dial(ctx context.Context, accessToken string) (Conn, error)
}

// Conn is one transport connection. Read blocks until the next event.
// Emit may be called concurrently with Read.
type Conn interface {
	Emit(cmd domain.Command) error
	Read() (event.Event, error)
	Close() error
}
