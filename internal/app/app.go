// Package app wires the cache builder, the query engine and the batch
// coordinator around one account and one lazily opened remote session.
//
// Operations are serialised: there is at most one rebuild or unfollow batch in
// flight. The remote session is opened on the first operation that needs the
// network, so answering from the cache never logs in.
package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"dropmates/internal/batch"
	"dropmates/internal/cache"
	"dropmates/internal/logging"
	"dropmates/internal/model"
	"dropmates/internal/query"
	"dropmates/internal/remote"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("app closed")

type Session interface {
	cache.Source
	batch.Unfollower
	AccountID() string
	Logout(ctx context.Context) error
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// NewRemoteDialer logs in with the given credentials each time a session is
// needed.
func NewRemoteDialer(client *remote.Client, username, password string) Dialer {
	return DialerFunc(func(ctx context.Context) (Session, error) {
		s, err := client.Authenticate(ctx, username, password)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

type View string

const (
	ViewFollowers View = "followers"
	ViewFollowing View = "following"
	ViewShame     View = "shame"
)

func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewFollowers, ViewFollowing, ViewShame:
		return v, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

type App struct {
	account       string
	dialer        Dialer
	logger        *zap.Logger
	logoutTimeout time.Duration
	builder       *cache.Builder

	mu        sync.Mutex
	session   Session
	closed    bool
	closeOnce sync.Once
}

type Option func(*App)

func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = logging.OrNop(l) }
}

func WithLogoutTimeout(d time.Duration) Option {
	return func(a *App) { a.logoutTimeout = d }
}

func New(account string, store cache.Store, dialer Dialer, opts ...Option) *App {
	a := &App{
		account:       account,
		dialer:        dialer,
		logger:        zap.NewNop(),
		logoutTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.builder = cache.NewBuilder(account, store, lazySession{a}, cache.WithLogger(a.logger))
	return a
}

func (a *App) Account() string { return a.account }

// Snapshot returns the cached snapshot, rebuilding it first when rebuild is
// set or nothing usable is cached.
func (a *App) Snapshot(ctx context.Context, rebuild bool) (model.RelationshipSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return model.RelationshipSnapshot{}, ErrClosed
	}
	return a.builder.EnsureSnapshot(ctx, rebuild)
}

func (a *App) List(ctx context.Context, view View, rebuild, excludeVerified bool) ([]model.UserRecord, error) {
	snap, err := a.Snapshot(ctx, rebuild)
	if err != nil {
		return nil, err
	}
	switch view {
	case ViewFollowers:
		return query.FindFollowers(snap, excludeVerified), nil
	case ViewFollowing:
		return query.FindFollowing(snap, excludeVerified), nil
	case ViewShame:
		return query.FindShame(snap, excludeVerified), nil
	}
	return nil, fmt.Errorf("unknown view %q", view)
}

type UnfollowRequest struct {
	Rebuild         bool
	ExcludeVerified bool
	Interactive     bool
	// Only restricts the batch to these ids. Ids that are not in the shame
	// list are ignored.
	Only      []string
	Confirmer batch.Confirmer
	Observer  batch.Observer
}

// AutoUnfollow runs one batch over the shame list. The cached snapshot is left
// as it was; the next rebuild reflects the unfollows.
func (a *App) AutoUnfollow(ctx context.Context, req UnfollowRequest) (model.ActionReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return model.ActionReport{}, ErrClosed
	}

	snap, err := a.builder.EnsureSnapshot(ctx, req.Rebuild)
	if err != nil {
		return model.ActionReport{}, err
	}
	candidates := query.FindShame(snap, req.ExcludeVerified)
	if req.Only != nil {
		candidates = slices.DeleteFunc(candidates, func(u model.UserRecord) bool {
			return !slices.Contains(req.Only, u.ID)
		})
	}

	opts := []batch.Option{batch.WithLogger(a.logger)}
	if req.Confirmer != nil {
		opts = append(opts, batch.WithConfirmer(req.Confirmer))
	}
	if req.Observer != nil {
		opts = append(opts, batch.WithObserver(req.Observer))
	}
	return batch.New(lazySession{a}, opts...).Run(ctx, candidates, req.Interactive)
}

// Close logs out of the remote session if one was opened. It is safe to call
// more than once; logout failures are logged, not returned.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.closed = true
		if a.session == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.logoutTimeout)
		defer cancel()
		if err := a.session.Logout(ctx); err != nil {
			a.logger.Error("logout failed", zap.Error(err))
		}
		a.session = nil
	})
}

// sessionLocked returns the open session, logging in first if needed. a.mu
// must be held.
func (a *App) sessionLocked(ctx context.Context) (Session, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.session != nil {
		return a.session, nil
	}
	s, err := a.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("remote session opened", zap.String("account_id", s.AccountID()))
	a.session = s
	return s, nil
}

// dropExpired forgets the session after it reports expiry so the next
// operation logs in again.
func (a *App) dropExpired(err error) {
	if errors.Is(err, remote.ErrSessionExpired) && a.session != nil {
		a.logger.Info("remote session expired")
		a.session = nil
	}
}

// lazySession adapts App to the cache and batch interfaces. Its methods run
// under a.mu, held by the App operation that called them.
type lazySession struct{ a *App }

func (l lazySession) Followers(ctx context.Context) iter.Seq2[model.UserRecord, error] {
	return l.list(ctx, Session.Followers)
}

func (l lazySession) Following(ctx context.Context) iter.Seq2[model.UserRecord, error] {
	return l.list(ctx, Session.Following)
}

func (l lazySession) list(ctx context.Context, pick func(Session, context.Context) iter.Seq2[model.UserRecord, error]) iter.Seq2[model.UserRecord, error] {
	return func(yield func(model.UserRecord, error) bool) {
		s, err := l.a.sessionLocked(ctx)
		if err != nil {
			yield(model.UserRecord{}, err)
			return
		}
		for u, err := range pick(s, ctx) {
			if err != nil {
				l.a.dropExpired(err)
			}
			if !yield(u, err) {
				return
			}
		}
	}
}

func (l lazySession) UnfollowBatch(ctx context.Context, ids []string) (model.ActionReport, error) {
	s, err := l.a.sessionLocked(ctx)
	if err != nil {
		return model.ActionReport{}, err
	}
	report, err := s.UnfollowBatch(ctx, ids)
	if err != nil {
		l.a.dropExpired(err)
	}
	return report, err
}
