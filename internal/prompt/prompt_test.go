package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestAskLine(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("/var/tmp\r\n\n"), &out, false)
	ctx := context.Background()

	got, err := term.AskLine(ctx, "Directory [/tmp]", "/tmp")
	if err != nil {
		t.Fatalf("AskLine() error = %v", err)
	}
	if got != "/var/tmp" {
		t.Errorf("AskLine() = %q, want /var/tmp", got)
	}

	got, err = term.AskLine(ctx, "Directory [/tmp]", "/tmp")
	if err != nil {
		t.Fatalf("AskLine() error = %v", err)
	}
	if got != "/tmp" {
		t.Errorf("AskLine(blank) = %q, want default /tmp", got)
	}

	if _, err := term.AskLine(ctx, "again", ""); !errors.Is(err, io.EOF) {
		t.Errorf("AskLine() after end of input error = %v, want io.EOF", err)
	}
	if !strings.HasPrefix(out.String(), "Directory [/tmp] ") {
		t.Errorf("output = %q, want the plain question", out.String())
	}
}

func TestAskLine_Canceled(t *testing.T) {
	r, w := io.Pipe()
	defer func() { _ = w.Close() }()
	term := New(r, io.Discard, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := term.AskLine(ctx, "q", ""); !errors.Is(err, context.Canceled) {
		t.Errorf("AskLine() error = %v, want context.Canceled", err)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"\n", true},
		{"n\n", false},
		{"maybe\nno\n", false},
	}

	for _, tt := range tests {
		term := New(strings.NewReader(tt.input), io.Discard, false)
		got, err := term.Confirm(context.Background(), "Use '/tmp'?")
		if err != nil {
			t.Fatalf("Confirm(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestConfirm_EOF(t *testing.T) {
	term := New(strings.NewReader(""), io.Discard, false)
	if _, err := term.Confirm(context.Background(), "ok?"); !errors.Is(err, io.EOF) {
		t.Errorf("Confirm() error = %v, want io.EOF", err)
	}
}

func TestWaitOrTimeout(t *testing.T) {
	t.Run("resumed by a line", func(t *testing.T) {
		term := New(strings.NewReader("\n"), io.Discard, false)
		start := time.Now()
		if err := term.WaitOrTimeout(context.Background(), time.Minute); err != nil {
			t.Fatalf("WaitOrTimeout() error = %v", err)
		}
		if time.Since(start) > 10*time.Second {
			t.Error("WaitOrTimeout() did not return on input")
		}
	})

	t.Run("timeout after end of input", func(t *testing.T) {
		term := New(strings.NewReader(""), io.Discard, false)
		if err := term.WaitOrTimeout(context.Background(), 20*time.Millisecond); err != nil {
			t.Errorf("WaitOrTimeout() error = %v, want nil", err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		r, w := io.Pipe()
		defer func() { _ = w.Close() }()
		term := New(r, io.Discard, false)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := term.WaitOrTimeout(ctx, time.Minute); !errors.Is(err, context.Canceled) {
			t.Errorf("WaitOrTimeout() error = %v, want context.Canceled", err)
		}
	})
}
