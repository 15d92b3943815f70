package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"dropmates/internal/model"
)

func TestParseAnswer(t *testing.T) {
	tests := map[string]Answer{
		"y\n":   Yes,
		" Y \n": Yes,
		"n\n":   No,
		"N":     No,
		"yes\n": Invalid,
		"\n":    Invalid,
		"x":     Invalid,
	}
	for in, want := range tests {
		if got := ParseAnswer(in); got != want {
			t.Fatalf("ParseAnswer(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestTerminalPrompt_ReadsLinesInOrder(t *testing.T) {
	var out bytes.Buffer
	p := NewTerminalPrompt(strings.NewReader("maybe\ny\nn"), &out)
	u := model.UserRecord{ID: "1", Username: "jdoe", FullName: "Jane Doe"}
	ctx := context.Background()

	want := []Answer{Invalid, Yes, No}
	for i, w := range want {
		got, err := p.Ask(ctx, u)
		if err != nil {
			t.Fatalf("Ask %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("Ask %d: expected %v, got %v", i, w, got)
		}
	}
	if _, err := p.Ask(ctx, u); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected EOF error once input is exhausted, got %v", err)
	}
	if !strings.Contains(out.String(), "Do you want to unfollow Jane Doe (@jdoe)? [y/n] ") {
		t.Fatalf("unexpected prompt text %q", out.String())
	}
}

func TestTerminalPrompt_CancelledWhileWaiting(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	p := NewTerminalPrompt(pr, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Ask(ctx, model.UserRecord{ID: "1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCoordinatorWithTerminalPrompt(t *testing.T) {
	u := &recordingUnfollower{}
	p := NewTerminalPrompt(strings.NewReader("?\ny\nN\ny\n"), io.Discard)
	if _, err := New(u, WithConfirmer(p)).Run(context.Background(), candidates(), true); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(u.calls) != 1 || strings.Join(u.calls[0], ",") != "1,3" {
		t.Fatalf("expected dispatch of [1 3], got %v", u.calls)
	}
}
