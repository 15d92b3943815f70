package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"dropmates/internal/model"
)

type lineResult struct {
	line string
	err  error
}

// TerminalPrompt asks on out and reads one line from in per question.
// Only "y" and "n" (any case) are valid answers.
type TerminalPrompt struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan lineResult
}

func NewTerminalPrompt(in io.Reader, out io.Writer) *TerminalPrompt {
	return &TerminalPrompt{in: in, out: out, lines: make(chan lineResult)}
}

func (p *TerminalPrompt) Ask(ctx context.Context, u model.UserRecord) (Answer, error) {
	p.once.Do(func() { go p.readLines() })

	if _, err := fmt.Fprintf(p.out, "Do you want to unfollow %s (@%s)? [y/n] ", u.FullName, u.Username); err != nil {
		return Invalid, err
	}

	select {
	case <-ctx.Done():
		return Invalid, ctx.Err()
	case res, ok := <-p.lines:
		if !ok {
			return Invalid, io.ErrUnexpectedEOF
		}
		if res.err != nil {
			return Invalid, res.err
		}
		return ParseAnswer(res.line), nil
	}
}

// readLines runs for the prompt's lifetime; a read blocked on a terminal
// cannot be interrupted, so a cancelled Ask just stops listening.
func (p *TerminalPrompt) readLines() {
	r := bufio.NewReader(p.in)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			p.lines <- lineResult{line: line}
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			p.lines <- lineResult{err: err}
			close(p.lines)
			return
		}
	}
}

func ParseAnswer(line string) Answer {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y":
		return Yes
	case "n":
		return No
	default:
		return Invalid
	}
}
