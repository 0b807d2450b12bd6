// Package shell runs payloads through a tunnel, either from files or from an
// interactive loop.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"httptunnel-go/internal/config"
	"httptunnel-go/internal/tunnel"
)

// Prompt is the interactive loop prompt.
const Prompt = "httptunnel>"

// Opener runs code on the target.
type Opener interface {
	Open(ctx context.Context, code string) (*tunnel.Result, error)
}

// LineReader reads one line of operator input.
type LineReader interface {
	AskLine(ctx context.Context, question, def string) (string, error)
}

// Runner executes payload files, or reads payloads interactively when no
// file is given.
type Runner struct {
	opener Opener
	input  LineReader
	out    io.Writer
	files  []string
	logger *slog.Logger
}

// NewRunner creates a Runner for the files named on the command line.
func NewRunner(cli *config.CLI, opener Opener, input LineReader, out io.Writer, logger *slog.Logger) *Runner {
	return &Runner{
		opener: opener,
		input:  input,
		out:    out,
		files:  cli.Files,
		logger: logger.With("component", "shell"),
	}
}

// Run executes the session. In file mode every file is run even when an
// earlier one fails, and the failures are returned together. The
// interactive loop ends on "exit", end of input or cancellation; payload
// failures there are only reported.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.files) > 0 {
		return r.runFiles(ctx)
	}
	return r.loop(ctx)
}

func (r *Runner) runFiles(ctx context.Context) error {
	var errs []error
	for _, path := range r.files {
		code, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read payload: %w", err))
			continue
		}
		r.logger.Info("running payload", "file", path)
		if err := r.exec(ctx, string(code)); err != nil {
			r.logger.Error("payload failed", "file", path, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) loop(ctx context.Context) error {
	for {
		line, err := r.input.AskLine(ctx, Prompt, "")
		switch {
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			_, _ = fmt.Fprintln(r.out)
			return nil
		case err != nil:
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := r.exec(ctx, line); err != nil {
			r.logger.Error("payload failed", "err", err)
		}
	}
}

// exec runs code and prints its outcome. Application errors are printed,
// not returned.
func (r *Runner) exec(ctx context.Context, code string) error {
	res, err := r.opener.Open(ctx, code)
	if err != nil {
		return err
	}
	if res.AppError {
		_, _ = fmt.Fprintf(r.out, "[-] %s\n", res.Message)
		return nil
	}
	return r.print(res.Value)
}

func (r *Runner) print(v any) error {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(r.out, v)
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	_, err = fmt.Fprintln(r.out, string(data))
	return err
}
