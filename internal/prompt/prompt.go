// Package prompt asks the operator questions on a line-oriented terminal.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	choiceStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	questionStyle = lipgloss.NewStyle().Bold(true)

	// choiceLetter matches the "[G]" markers of multiple-choice questions.
	choiceLetter = regexp.MustCompile(`\[[A-Za-z]\]`)
)

type line struct {
	text string
	err  error
}

// Terminal reads answers line by line from an input stream. A single
// goroutine owns the input so a pending read survives a canceled question;
// the line is handed to whichever call waits next.
type Terminal struct {
	in     io.Reader
	out    io.Writer
	styled bool

	once  sync.Once
	lines chan line
}

// New creates a Terminal. Questions are styled only when styled is set.
func New(in io.Reader, out io.Writer, styled bool) *Terminal {
	return &Terminal{
		in:     in,
		out:    out,
		styled: styled,
		lines:  make(chan line),
	}
}

// NewStdio creates a Terminal on the process standard streams, styled when
// stdin is an interactive terminal.
func NewStdio() *Terminal {
	return New(os.Stdin, os.Stdout, Interactive())
}

// Interactive reports whether stdin is a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (t *Terminal) start() {
	t.once.Do(func() {
		go func() {
			sc := bufio.NewScanner(t.in)
			sc.Buffer(make([]byte, 64*1024), 1<<20)
			for sc.Scan() {
				t.lines <- line{text: strings.TrimRight(sc.Text(), "\r")}
			}
			err := sc.Err()
			if err == nil {
				err = io.EOF
			}
			// Every later read sees the end of input.
			for {
				t.lines <- line{err: err}
			}
		}()
	})
}

func (t *Terminal) readLine(ctx context.Context) (string, error) {
	t.start()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-t.lines:
		return l.text, l.err
	}
}

func (t *Terminal) ask(question string) {
	if t.styled {
		question = choiceLetter.ReplaceAllStringFunc(question, choiceStyle.Render)
		question = questionStyle.Render(question)
	}
	_, _ = fmt.Fprint(t.out, question)
}

// AskLine prints question and returns the answer, or def when the answer is
// blank.
func (t *Terminal) AskLine(ctx context.Context, question, def string) (string, error) {
	t.ask(strings.TrimRight(question, " ") + " ")
	text, err := t.readLine(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return def, nil
	}
	return text, nil
}

// Confirm asks a yes/no question until it gets a valid answer. A blank
// answer means yes.
func (t *Terminal) Confirm(ctx context.Context, question string) (bool, error) {
	for {
		t.ask(question + " [Y/n] ")
		text, err := t.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "", "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// WaitOrTimeout blocks until the operator enters a line, d elapses, or ctx
// is canceled. Only cancellation is reported as an error; a closed input
// just waits for the timeout.
func (t *Terminal) WaitOrTimeout(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	t.start()
	lines := t.lines
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case l := <-lines:
			if l.err == nil {
				return nil
			}
			lines = nil
		}
	}
}
