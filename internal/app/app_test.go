package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"dropmates/internal/batch"
	"dropmates/internal/model"
	"dropmates/internal/remote"
	"dropmates/internal/store"
)

type fakeSession struct {
	followers  []model.UserRecord
	following  []model.UserRecord
	listErr    error
	unfollowed [][]string
	logouts    int
	logoutErr  error
}

func (f *fakeSession) AccountID() string { return "42" }

func (f *fakeSession) seq(users []model.UserRecord) iter.Seq2[model.UserRecord, error] {
	return func(yield func(model.UserRecord, error) bool) {
		if f.listErr != nil {
			yield(model.UserRecord{}, f.listErr)
			return
		}
		for _, u := range users {
			if !yield(u, nil) {
				return
			}
		}
	}
}

func (f *fakeSession) Followers(context.Context) iter.Seq2[model.UserRecord, error] {
	return f.seq(f.followers)
}

func (f *fakeSession) Following(context.Context) iter.Seq2[model.UserRecord, error] {
	return f.seq(f.following)
}

func (f *fakeSession) UnfollowBatch(_ context.Context, ids []string) (model.ActionReport, error) {
	f.unfollowed = append(f.unfollowed, ids)
	report := model.ActionReport{}
	for _, id := range ids {
		report.Outcomes = append(report.Outcomes, model.TargetOutcome{UserID: id, Status: model.OutcomeUnfollowed})
	}
	return report, nil
}

func (f *fakeSession) Logout(context.Context) error {
	f.logouts++
	return f.logoutErr
}

type countingDialer struct {
	sessions []*fakeSession
	dials    int
	err      error
}

func (d *countingDialer) Dial(context.Context) (Session, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.sessions[min(d.dials, len(d.sessions))-1], nil
}

func rec(id string) model.UserRecord {
	return model.UserRecord{ID: id, Username: "u" + id, FullName: "User " + id}
}

func newSession() *fakeSession {
	return &fakeSession{
		followers: []model.UserRecord{rec("B"), rec("D")},
		following: []model.UserRecord{rec("A"), rec("B"), rec("C")},
	}
}

func newTestApp(t *testing.T, d Dialer) (*App, store.Store) {
	t.Helper()
	st := store.NewFileStore(filepath.Join(t.TempDir(), "cache.json"))
	return New("jdoe", st, d), st
}

func ids(users []model.UserRecord) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestList_CachedReadMakesNoRemoteCalls(t *testing.T) {
	d := &countingDialer{sessions: []*fakeSession{newSession()}}
	a, st := newTestApp(t, d)
	snap := model.NewSnapshot("s1", "jdoe", []model.UserRecord{rec("B")}, []model.UserRecord{rec("A"), rec("B")}, time.Now())
	if err := st.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := a.List(context.Background(), ViewShame, false, false)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if !reflect.DeepEqual(ids(got), []string{"A"}) {
			t.Fatalf("unexpected shame %v", ids(got))
		}
	}
	a.Close()
	if d.dials != 0 {
		t.Fatalf("expected no login, got %d dials", d.dials)
	}
}

func TestList_BuildsCacheOnce(t *testing.T) {
	d := &countingDialer{sessions: []*fakeSession{newSession()}}
	a, _ := newTestApp(t, d)
	defer a.Close()

	for _, view := range []View{ViewFollowers, ViewFollowing, ViewShame} {
		if _, err := a.List(context.Background(), view, false, false); err != nil {
			t.Fatalf("List %s: %v", view, err)
		}
	}
	if d.dials != 1 {
		t.Fatalf("expected a single login, got %d", d.dials)
	}
	got, _ := a.List(context.Background(), ViewShame, false, false)
	if !reflect.DeepEqual(ids(got), []string{"A", "C"}) {
		t.Fatalf("unexpected shame %v", ids(got))
	}
}

func TestList_AuthFailureSurfaces(t *testing.T) {
	d := &countingDialer{err: fmt.Errorf("%w: bad password", remote.ErrAuth)}
	a, _ := newTestApp(t, d)
	defer a.Close()

	if _, err := a.List(context.Background(), ViewFollowers, false, false); !errors.Is(err, remote.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestClose_LogsOutOnce(t *testing.T) {
	s := newSession()
	a, _ := newTestApp(t, &countingDialer{sessions: []*fakeSession{s}})
	if _, err := a.Snapshot(context.Background(), true); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	a.Close()
	a.Close()
	if s.logouts != 1 {
		t.Fatalf("expected one logout, got %d", s.logouts)
	}
	if _, err := a.Snapshot(context.Background(), false); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestClose_LogoutFailureIsNotFatal(t *testing.T) {
	s := newSession()
	s.logoutErr = errors.New("network down")
	a, _ := newTestApp(t, &countingDialer{sessions: []*fakeSession{s}})
	if _, err := a.Snapshot(context.Background(), true); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	a.Close()
	if s.logouts != 1 {
		t.Fatalf("expected logout attempt, got %d", s.logouts)
	}
}

func TestClose_WithoutSessionDoesNotLogIn(t *testing.T) {
	d := &countingDialer{sessions: []*fakeSession{newSession()}}
	a, _ := newTestApp(t, d)
	a.Close()
	if d.dials != 0 {
		t.Fatalf("expected no login, got %d", d.dials)
	}
}

func TestAutoUnfollow_UnfollowsShame(t *testing.T) {
	s := newSession()
	a, _ := newTestApp(t, &countingDialer{sessions: []*fakeSession{s}})
	defer a.Close()

	var states []batch.State
	report, err := a.AutoUnfollow(context.Background(), UnfollowRequest{
		Observer: batch.ObserverFunc(func(e batch.Event) { states = append(states, e.State) }),
	})
	if err != nil {
		t.Fatalf("AutoUnfollow: %v", err)
	}
	if !reflect.DeepEqual(s.unfollowed, [][]string{{"A", "C"}}) {
		t.Fatalf("unexpected dispatch %v", s.unfollowed)
	}
	if !reflect.DeepEqual(report.Succeeded(), []string{"A", "C"}) {
		t.Fatalf("unexpected report %+v", report)
	}
	if states[len(states)-1] != batch.StateDone {
		t.Fatalf("expected done event, got %v", states)
	}
}

func TestAutoUnfollow_LeavesCachedSnapshotUnchanged(t *testing.T) {
	s := newSession()
	a, _ := newTestApp(t, &countingDialer{sessions: []*fakeSession{s}})
	defer a.Close()
	ctx := context.Background()

	before, err := a.Snapshot(ctx, false)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, err := a.AutoUnfollow(ctx, UnfollowRequest{}); err != nil {
		t.Fatalf("AutoUnfollow: %v", err)
	}
	after, err := a.Snapshot(ctx, false)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("cached snapshot changed without a rebuild:\nbefore %+v\nafter  %+v", before, after)
	}

	fresh, err := a.Snapshot(ctx, true)
	if err != nil {
		t.Fatalf("Snapshot rebuild: %v", err)
	}
	if fresh.ID == before.ID {
		t.Fatalf("expected a rebuild to mint a new snapshot id")
	}
	if !reflect.DeepEqual(ids(fresh.Following), []string{"A", "B", "C"}) {
		t.Fatalf("unexpected following after rebuild %v", ids(fresh.Following))
	}
}

func TestAutoUnfollow_OnlyRestrictsToShame(t *testing.T) {
	s := newSession()
	a, _ := newTestApp(t, &countingDialer{sessions: []*fakeSession{s}})
	defer a.Close()

	if _, err := a.AutoUnfollow(context.Background(), UnfollowRequest{Only: []string{"C", "B", "zzz"}}); err != nil {
		t.Fatalf("AutoUnfollow: %v", err)
	}
	if !reflect.DeepEqual(s.unfollowed, [][]string{{"C"}}) {
		t.Fatalf("expected only C dispatched, got %v", s.unfollowed)
	}
}

func TestAutoUnfollow_RebuildFailureDispatchesNothing(t *testing.T) {
	s := newSession()
	s.listErr = errors.New("page 3 failed")
	a, _ := newTestApp(t, &countingDialer{sessions: []*fakeSession{s}})
	defer a.Close()

	if _, err := a.AutoUnfollow(context.Background(), UnfollowRequest{}); err == nil {
		t.Fatalf("expected rebuild error")
	}
	if len(s.unfollowed) != 0 {
		t.Fatalf("expected no dispatch, got %v", s.unfollowed)
	}
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	expired := newSession()
	expired.listErr = fmt.Errorf("followers page 1: %w", remote.ErrSessionExpired)
	fresh := newSession()
	d := &countingDialer{sessions: []*fakeSession{expired, fresh}}
	a, _ := newTestApp(t, d)
	defer a.Close()

	if _, err := a.Snapshot(context.Background(), true); !errors.Is(err, remote.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, err := a.Snapshot(context.Background(), true); err != nil {
		t.Fatalf("expected second attempt to log in again, got %v", err)
	}
	if d.dials != 2 {
		t.Fatalf("expected two logins, got %d", d.dials)
	}
}

func TestParseView(t *testing.T) {
	for _, s := range []string{"followers", "following", "shame"} {
		if _, err := ParseView(s); err != nil {
			t.Fatalf("ParseView(%q): %v", s, err)
		}
	}
	if _, err := ParseView("mutuals"); err == nil {
		t.Fatalf("expected error")
	}
}
