// Package checkpoint bridges the runtime to an operator GO/NOT-GO decision.
// The runner raises checkpoints at the pre-run gate, for checkpoint steps,
// and as the terminal rung of the recovery ladder.
package checkpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Decision is the operator's answer to a checkpoint.
type Decision string

const (
	GO    Decision = "GO"
	NotGo Decision = "NOT_GO"
)

// Handler answers checkpoint requests. The screenshot may be nil when the
// budget denied one.
type Handler interface {
	RequestApproval(ctx context.Context, message string, screenshot []byte) (Decision, error)
}

// Auto approves every request. It backs headless runs and the auto-approve
// CLI flag.
type Auto struct{}

func (Auto) RequestApproval(ctx context.Context, message string, screenshot []byte) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return NotGo, err
	}
	return GO, nil
}

// Deny refuses every request, for runs that must never pause on a human.
type Deny struct{}

func (Deny) RequestApproval(ctx context.Context, message string, screenshot []byte) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return NotGo, err
	}
	return NotGo, nil
}

// Terminal prompts on the controlling terminal. Output goes to stderr so the
// event stream on stdout stays machine-readable. When stdin is not a TTY the
// handler answers NOT_GO rather than hang a pipeline.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	// isTTY is injectable for tests; nil means the real check.
	isTTY func() bool

	mu sync.Mutex
}

// NewTerminal builds a Terminal handler bound to the process streams.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

func (t *Terminal) tty() bool {
	if t.isTTY != nil {
		return t.isTTY()
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// RequestApproval prints the message and reads one line. Approvals are
// operator-driven and carry no timeout of their own; the caller's context
// still cancels the wait.
func (t *Terminal) RequestApproval(ctx context.Context, message string, screenshot []byte) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.tty() {
		return NotGo, nil
	}

	fmt.Fprintf(t.Out, "\n=== CHECKPOINT ===\n%s\n", message)
	if len(screenshot) > 0 {
		fmt.Fprintf(t.Out, "(screenshot captured, %d bytes)\n", len(screenshot))
	}
	fmt.Fprint(t.Out, "Proceed? [go/no]: ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		reader := bufio.NewReader(t.In)
		line, err := reader.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(t.Out)
		return NotGo, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.line == "" {
			return NotGo, nil
		}
		return parseAnswer(a.line), nil
	}
}

func parseAnswer(line string) Decision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "go", "g", "y", "yes":
		return GO
	default:
		return NotGo
	}
}

// Recorder wraps a Handler and remembers every request, for tests and for
// replaying operator decisions.
type Recorder struct {
	mu        sync.Mutex
	inner     Handler
	Decisions []Decision
	Messages  []string
}

// NewRecorder wraps inner; a nil inner auto-approves.
func NewRecorder(inner Handler) *Recorder {
	if inner == nil {
		inner = Auto{}
	}
	return &Recorder{inner: inner}
}

func (r *Recorder) RequestApproval(ctx context.Context, message string, screenshot []byte) (Decision, error) {
	d, err := r.inner.RequestApproval(ctx, message, screenshot)
	r.mu.Lock()
	r.Messages = append(r.Messages, message)
	r.Decisions = append(r.Decisions, d)
	r.mu.Unlock()
	return d, err
}

// Scripted answers from a fixed sequence of decisions, then falls through to
// NOT_GO. Used by tests that need mixed answers across one run.
type Scripted struct {
	mu       sync.Mutex
	answers  []Decision
	Messages []string
}

// NewScripted builds a handler that returns the given decisions in order.
func NewScripted(answers ...Decision) *Scripted {
	return &Scripted{answers: answers}
}

func (s *Scripted) RequestApproval(ctx context.Context, message string, screenshot []byte) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return NotGo, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, message)
	if len(s.answers) == 0 {
		return NotGo, nil
	}
	d := s.answers[0]
	s.answers = s.answers[1:]
	return d, nil
}
