// Package cache decides whether the stored relationship snapshot can be used
// and rebuilds it from the remote service when it cannot.
//
// A rebuild drains the complete followers sequence and then the complete
// following sequence. Any failure while draining aborts the rebuild before
// anything is saved: acting on a partial follower list would unfollow people
// who do follow back.
package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"dropmates/internal/logging"
	"dropmates/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrRebuildFailed = errors.New("rebuild failed")

type Store interface {
	Load(ctx context.Context, account string) (model.RelationshipSnapshot, bool, error)
	Save(ctx context.Context, snapshot model.RelationshipSnapshot) error
}

// Source yields relationship lists lazily, page by page.
type Source interface {
	Followers(ctx context.Context) iter.Seq2[model.UserRecord, error]
	Following(ctx context.Context) iter.Seq2[model.UserRecord, error]
}

type Builder struct {
	account string
	store   Store
	source  Source
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Builder)

func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = logging.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(account string, store Store, source Source, opts ...Option) *Builder {
	b := &Builder{
		account: account,
		store:   store,
		source:  source,
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnsureSnapshot returns the cached snapshot unless force is set or nothing
// is cached, in which case it rebuilds. Cached reads make no remote calls.
func (b *Builder) EnsureSnapshot(ctx context.Context, force bool) (model.RelationshipSnapshot, error) {
	if !force {
		snap, ok, err := b.store.Load(ctx, b.account)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return model.RelationshipSnapshot{}, ctxErr
			}
			b.logger.Warn("cached snapshot unreadable, rebuilding", zap.Error(err))
		case ok:
			b.logger.Debug("using cached snapshot",
				zap.String("snapshot_id", snap.ID),
				zap.Time("fetched_at", snap.FetchedAt),
				zap.Int("followers", len(snap.Followers)),
				zap.Int("following", len(snap.Following)))
			return snap, nil
		default:
			b.logger.Info("no cached snapshot, rebuilding")
		}
	}
	return b.Rebuild(ctx)
}

// Rebuild fetches both lists in full and saves the result before returning it.
// On error the store is left as it was.
func (b *Builder) Rebuild(ctx context.Context) (model.RelationshipSnapshot, error) {
	b.logger.Info("rebuilding relationship cache", zap.String("account", b.account))

	followers, err := drain(b.source.Followers(ctx))
	if err != nil {
		return model.RelationshipSnapshot{}, fmt.Errorf("%w: followers after %d records: %w", ErrRebuildFailed, len(followers), err)
	}
	b.logger.Debug("followers drained", zap.Int("count", len(followers)))

	following, err := drain(b.source.Following(ctx))
	if err != nil {
		return model.RelationshipSnapshot{}, fmt.Errorf("%w: following after %d records: %w", ErrRebuildFailed, len(following), err)
	}
	b.logger.Debug("following drained", zap.Int("count", len(following)))

	snap := model.NewSnapshot(b.newID(), b.account, followers, following, b.now())
	b.logDiscarded("followers", len(followers), len(snap.Followers))
	b.logDiscarded("following", len(following), len(snap.Following))
	if err := b.store.Save(ctx, snap); err != nil {
		return model.RelationshipSnapshot{}, fmt.Errorf("%w: save: %w", ErrRebuildFailed, err)
	}

	b.logger.Info("relationship cache rebuilt",
		zap.String("snapshot_id", snap.ID),
		zap.Int("followers", len(snap.Followers)),
		zap.Int("following", len(snap.Following)))
	return snap, nil
}

// logDiscarded notes remote records dropped for a missing or repeated id.
func (b *Builder) logDiscarded(list string, fetched, kept int) {
	if fetched == kept {
		return
	}
	b.logger.Debug("discarded remote records without a usable id",
		zap.String("list", list),
		zap.Int("fetched", fetched),
		zap.Int("kept", kept),
		zap.Int("discarded", fetched-kept))
}

func drain(seq iter.Seq2[model.UserRecord, error]) ([]model.UserRecord, error) {
	var users []model.UserRecord
	for u, err := range seq {
		if err != nil {
			return users, err
		}
		users = append(users, u)
	}
	return users, nil
}
