package auth

import (
	"chat-session/contract"
	"chat-session/domain"
	"chat-session/errors"
	"chat-session/observability"
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// RefreshFunc performs the network refresh. It is the raw backend call,
// without coalescing.
type RefreshFunc func(ctx context.Context) (domain.Credential, error)

// Refresher coalesces concurrent refreshes into one backend request.
// Both the connection manager and the REST retry path call it, and two
// racing refreshes would invalidate each other's refresh cookie.
type Refresher struct {
	refresh RefreshFunc
	store   contract.TokenStore
	metrics *observability.Metrics
	log     *slog.Logger
	group   singleflight.Group
}

func NewRefresher(refresh RefreshFunc, store contract.TokenStore, metrics *observability.Metrics, log *slog.Logger) *Refresher {
	return &Refresher{refresh: refresh, store: store, metrics: metrics, log: log}
}

// Refresh returns a new credential. Callers arriving while a refresh is in
// flight share its result. A caller whose context ends stops waiting; the
// shared request keeps running for the others.
func (r *Refresher) Refresh(ctx context.Context) (domain.Credential, error) {
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		return r.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return domain.Credential{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.log.Debug("Refresh result shared with concurrent callers")
		}
		if res.Err != nil {
			return domain.Credential{}, res.Err
		}
		return res.Val.(domain.Credential), nil
	}
}

func (r *Refresher) doRefresh(ctx context.Context) (domain.Credential, error) {
	r.log.Debug("Refreshing access credential")
	credential, err := r.refresh(ctx)
	if errors.Is(err, errors.ErrNetworkUnavailable) {
		r.metrics.RefreshFailed()
		return domain.Credential{}, err
	}
	if err != nil {
		r.metrics.RefreshFailed()
		if clearErr := r.store.Clear(); clearErr != nil {
			r.log.Warn("Failed to clear token store", "error", clearErr)
		}
		return domain.Credential{}, fmt.Errorf("%w: %v", errors.ErrSessionExpired, err)
	}
	if err := r.store.Set(credential); err != nil {
		r.log.Warn("Failed to store refreshed credential", "error", err)
	}
	r.metrics.RefreshSucceeded()
	return credential, nil
}
