package e2e

import (
	"chat-session/auth"
	"chat-session/client"
	"chat-session/domain"
	"chat-session/runtime"
	"chat-session/services"
	"chat-session/transport"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

type BaseSessionSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration and skips the suite
// when no backend is configured.
func (s *BaseSessionSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if !s.Config.Enabled() {
		s.T().Skip("E2E_API_URL, E2E_WS_URL and the account variables are required")
	}
}

// Step prints a colorized header for a scenario step.
func (s *BaseSessionSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// NewSession wires a session against the configured backend the same way
// the terminal client does.
func (s *BaseSessionSuite) NewSession() *services.Session {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := auth.NewMemoryTokenStore()
	authClient, err := client.NewAuthClient(client.Config{BaseURL: s.Config.APIURL, Logger: log}, store)
	s.Require().NoError(err)
	refresher := auth.NewRefresher(authClient.Refresh, store, nil, log)
	authClient.UseRefresher(refresher)
	dialer := transport.NewWebsocketDialer(s.Config.WebsocketURL, 10*time.Second, log)

	session := services.NewSession(authClient, store, refresher, dialer, nil, log, runtime.DefaultConfig())
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = session.Logout(ctx)
	})
	return session
}

// WithLogin signs a fresh session in and hands it to fn.
func (s *BaseSessionSuite) WithLogin(name, email, password string, fn func(ctx context.Context, session *services.Session)) {
	s.Step(name)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	session := s.NewSession()
	_, err := session.Login(ctx, domain.LoginRequest{Email: email, Password: password})
	s.Require().NoError(err)
	s.Require().Equal(domain.Connected, session.State())
	fn(ctx, session)
}
