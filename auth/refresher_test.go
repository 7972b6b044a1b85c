package auth

import (
	"chat-session/domain"
	"chat-session/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestRefresher_Coalesces_Concurrent_Calls(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := NewMemoryTokenStore()

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	refresh := func(ctx context.Context) (domain.Credential, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return domain.Credential{AccessToken: "fresh"}, nil
	}
	refresher := NewRefresher(refresh, store, nil, log)

	// Given a first refresh is in flight
	var wg sync.WaitGroup
	results := make([]domain.Credential, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = refresher.Refresh(context.Background())
	}()
	<-started

	// When a second caller asks for a refresh before it resolves
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = refresher.Refresh(context.Background())
	}()
	// Give the second caller time to join the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Then one backend request served both callers
	req.Equal(int32(1), calls.Load())
	req.NoError(errs[0])
	req.NoError(errs[1])
	req.Equal(results[0], results[1])
	req.Equal("fresh", results[0].AccessToken)

	stored, ok := store.Get()
	req.True(ok)
	req.Equal("fresh", stored.AccessToken)
}

func TestRefresher_Rejection_Expires_Session(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := NewMemoryTokenStore()
	req.NoError(store.Set(domain.Credential{AccessToken: "stale"}))

	refresh := func(ctx context.Context) (domain.Credential, error) {
		return domain.Credential{}, fmt.Errorf("%w: refresh rejected", errors.ErrInvalidCredentials)
	}
	refresher := NewRefresher(refresh, store, nil, log)

	_, err := refresher.Refresh(context.Background())

	req.ErrorIs(err, errors.ErrSessionExpired)
	_, ok := store.Get()
	req.False(ok)
}

func TestRefresher_Network_Failure_Keeps_Store(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := NewMemoryTokenStore()
	req.NoError(store.Set(domain.Credential{AccessToken: "current"}))

	refresh := func(ctx context.Context) (domain.Credential, error) {
		return domain.Credential{}, fmt.Errorf("%w: connection refused", errors.ErrNetworkUnavailable)
	}
	refresher := NewRefresher(refresh, store, nil, log)

	_, err := refresher.Refresh(context.Background())

	req.ErrorIs(err, errors.ErrNetworkUnavailable)
	req.NotErrorIs(err, errors.ErrSessionExpired)
	stored, ok := store.Get()
	req.True(ok)
	req.Equal("current", stored.AccessToken)
}

func TestRefresher_Caller_Context_Ends_Wait(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	release := make(chan struct{})
	defer close(release)
	refresh := func(ctx context.Context) (domain.Credential, error) {
		<-release
		return domain.Credential{AccessToken: "late"}, nil
	}
	refresher := NewRefresher(refresh, NewMemoryTokenStore(), nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := refresher.Refresh(ctx)

	req.ErrorIs(err, context.DeadlineExceeded)
}
