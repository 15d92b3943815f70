package remote

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"dropmates/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Session is an authenticated handle. Logout is idempotent.
type Session struct {
	client    *Client
	token     string
	accountID string
	expiresAt time.Time

	mu     sync.Mutex
	closed bool
}

func (s *Session) AccountID() string { return s.accountID }

func (s *Session) usable() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if !s.expiresAt.IsZero() && !s.client.now().Before(s.expiresAt) {
		return ErrSessionExpired
	}
	return nil
}

type pageResponse struct {
	Users      []model.UserRecord `json:"users"`
	NextCursor string             `json:"next_cursor"`
}

func (s *Session) Followers(ctx context.Context) iter.Seq2[model.UserRecord, error] {
	return s.list(ctx, "followers")
}

func (s *Session) Following(ctx context.Context) iter.Seq2[model.UserRecord, error] {
	return s.list(ctx, "following")
}

// list fetches pages lazily as the caller ranges. Any failure is yielded once
// and ends the sequence.
func (s *Session) list(ctx context.Context, kind string) iter.Seq2[model.UserRecord, error] {
	return func(yield func(model.UserRecord, error) bool) {
		cursor := ""
		for page := 1; ; page++ {
			resp, err := s.fetchPage(ctx, kind, cursor)
			if err != nil {
				yield(model.UserRecord{}, fmt.Errorf("%s page %d: %w", kind, page, err))
				return
			}
			s.client.logger.Debug("page fetched",
				zap.String("list", kind),
				zap.Int("page", page),
				zap.Int("users", len(resp.Users)))
			for _, u := range resp.Users {
				if !yield(u, nil) {
					return
				}
			}
			if resp.NextCursor == "" {
				return
			}
			if resp.NextCursor == cursor {
				yield(model.UserRecord{}, fmt.Errorf("%s page %d: cursor did not advance", kind, page))
				return
			}
			cursor = resp.NextCursor
		}
	}
}

func (s *Session) fetchPage(ctx context.Context, kind, cursor string) (pageResponse, error) {
	if err := s.usable(); err != nil {
		return pageResponse{}, err
	}
	req, err := s.client.newRequest(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(s.accountID)+"/"+kind, s.token, nil)
	if err != nil {
		return pageResponse{}, err
	}
	q := req.URL.Query()
	q.Set("count", strconv.Itoa(s.client.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	req.URL.RawQuery = q.Encode()

	var resp pageResponse
	if err := s.client.do(req, "list "+kind, &resp); err != nil {
		return pageResponse{}, err
	}
	return resp, nil
}

// UnfollowBatch unfollows ids in order and reports every target. Requests are
// paced by the client's limiter. When the circuit breaker opens, the context
// ends, or the session becomes unusable, the remaining targets are reported
// as skipped and an error is returned with the report. A target whose request
// was cut off by the context is reported as unknown, not failed.
func (s *Session) UnfollowBatch(ctx context.Context, ids []string) (model.ActionReport, error) {
	report := model.ActionReport{Outcomes: make([]model.TargetOutcome, 0, len(ids))}
	var abort error

	for _, id := range ids {
		if abort == nil {
			abort = s.usable()
		}
		if abort == nil && s.client.limiter != nil {
			abort = s.client.limiter.Wait(ctx, s.accountID)
		}
		if abort != nil {
			report.Outcomes = append(report.Outcomes, model.TargetOutcome{UserID: id, Status: model.OutcomeSkipped, Error: abort.Error()})
			continue
		}

		_, err := s.client.breaker.Execute(func() (interface{}, error) {
			return nil, s.unfollow(ctx, id)
		})
		switch {
		case err == nil:
			report.Outcomes = append(report.Outcomes, model.TargetOutcome{UserID: id, Status: model.OutcomeUnfollowed})
			s.client.logger.Info("unfollowed", zap.String("user_id", id))
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			abort = err
			report.Outcomes = append(report.Outcomes, model.TargetOutcome{UserID: id, Status: model.OutcomeSkipped, Error: err.Error()})
		case ctx.Err() != nil:
			abort = ctx.Err()
			report.Outcomes = append(report.Outcomes, model.TargetOutcome{UserID: id, Status: model.OutcomeUnknown, Error: err.Error()})
			s.client.logger.Warn("unfollow interrupted in flight", zap.String("user_id", id), zap.Error(err))
		default:
			report.Outcomes = append(report.Outcomes, model.TargetOutcome{UserID: id, Status: model.OutcomeFailed, Error: err.Error()})
			s.client.logger.Warn("unfollow failed", zap.String("user_id", id), zap.Error(err))
		}
	}

	if abort != nil {
		return report, fmt.Errorf("unfollow batch aborted: %w", abort)
	}
	return report, nil
}

func (s *Session) unfollow(ctx context.Context, id string) error {
	req, err := s.client.newRequest(ctx, http.MethodPost, "/api/v1/friendships/"+url.PathEscape(id)+"/destroy", s.token, nil)
	if err != nil {
		return err
	}
	return s.client.do(req, "unfollow "+id, nil)
}

// Logout ends the session. Calls after the first are no-ops returning nil,
// whether or not the first one reached the server.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	req, err := s.client.newRequest(ctx, http.MethodDelete, "/api/v1/session", s.token, nil)
	if err != nil {
		return err
	}
	if err := s.client.do(req, "logout", nil); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			return nil
		}
		return err
	}
	s.client.logger.Info("session closed", zap.String("account_id", s.accountID))
	return nil
}
