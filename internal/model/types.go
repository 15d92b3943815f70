package model

import (
	"fmt"
	"sort"
	"time"
)

// UserRecord is one remote account as seen in a relationship list.
// Only ID is identity; Username and FullName can change between rebuilds.
type UserRecord struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	IsVerified bool   `json:"is_verified,omitempty"`
}

func (u UserRecord) String() string {
	return fmt.Sprintf("%s (@%s)", u.FullName, u.Username)
}

// RelationshipSnapshot is the cached follower/following state of one account.
// Build it with NewSnapshot; treat it as read-only afterwards.
type RelationshipSnapshot struct {
	ID        string       `json:"id"`
	Account   string       `json:"account"`
	Followers []UserRecord `json:"followers"`
	Following []UserRecord `json:"following"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// NewSnapshot dedupes both lists by ID and sorts them by ID. FetchedAt is kept
// at millisecond precision so every store round-trips it exactly.
func NewSnapshot(id, account string, followers, following []UserRecord, fetchedAt time.Time) RelationshipSnapshot {
	return RelationshipSnapshot{
		ID:        id,
		Account:   account,
		Followers: dedupeByID(followers),
		Following: dedupeByID(following),
		FetchedAt: fetchedAt.UTC().Truncate(time.Millisecond),
	}
}

func (s RelationshipSnapshot) FollowerIndex() map[string]UserRecord {
	return indexByID(s.Followers)
}

func indexByID(users []UserRecord) map[string]UserRecord {
	idx := make(map[string]UserRecord, len(users))
	for _, u := range users {
		idx[u.ID] = u
	}
	return idx
}

func dedupeByID(users []UserRecord) []UserRecord {
	idx := make(map[string]UserRecord, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		idx[u.ID] = u
	}
	result := make([]UserRecord, 0, len(idx))
	for _, u := range idx {
		result = append(result, u)
	}
	SortByID(result)
	return result
}

// SortByID sorts users in place by ID.
func SortByID(users []UserRecord) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}

// ActionIntent is one pending unfollow decision. It is never persisted.
type ActionIntent struct {
	Target    UserRecord
	Confirmed bool
}

type OutcomeStatus string

const (
	OutcomeUnfollowed OutcomeStatus = "unfollowed"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeSkipped    OutcomeStatus = "skipped"
	// OutcomeUnknown means the request was sent but the caller gave up before
	// the response arrived, so the remote may or may not have applied it.
	OutcomeUnknown OutcomeStatus = "unknown"
)

// TargetOutcome is what the remote session reports for one unfollow target.
type TargetOutcome struct {
	UserID string        `json:"user_id"`
	Status OutcomeStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// ActionReport lists per-target outcomes in dispatch order.
type ActionReport struct {
	RunID    string          `json:"run_id"`
	Outcomes []TargetOutcome `json:"outcomes"`
}

func (r ActionReport) Succeeded() []string { return r.withStatus(OutcomeUnfollowed) }

func (r ActionReport) Failed() []string { return r.withStatus(OutcomeFailed) }

func (r ActionReport) Skipped() []string { return r.withStatus(OutcomeSkipped) }

func (r ActionReport) Unknown() []string { return r.withStatus(OutcomeUnknown) }

func (r ActionReport) withStatus(status OutcomeStatus) []string {
	ids := make([]string, 0)
	for _, o := range r.Outcomes {
		if o.Status == status {
			ids = append(ids, o.UserID)
		}
	}
	return ids
}
