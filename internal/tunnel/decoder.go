package tunnel

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zlib"

	"httptunnel-go/internal/model"
)

// Response keys of the remote result mapping.
const (
	resultKey = "__RESULT__"
	errorKey  = "__ERROR__"
)

// Result is a decoded response: either a result value or an application
// error message reported by the payload itself.
type Result struct {
	Value    any
	AppError bool
	Message  string
}

// envelopePattern matches the first span framed by env's markers.
func envelopePattern(env model.Envelope) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + regexp.QuoteMeta(env.Start) + `(.+?)` + regexp.QuoteMeta(env.End))
}

// extract returns the first enveloped span of body, or nil when none exists.
func extract(pattern *regexp.Regexp, body []byte) []byte {
	m := pattern.FindSubmatch(body)
	if m == nil {
		return nil
	}
	return m[1]
}

// inflate decompresses zlib data, returning data unchanged when it is not
// compressed.
func inflate(data []byte) []byte {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return data
	}
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(r)
	if err != nil {
		return data
	}
	return out
}

var (
	linkTag = regexp.MustCompile(` \[<a.*?a>\]`)
	htmlTag = regexp.MustCompile(`<.*?>`)
)

// runtimeErrors extracts PHP error lines ("Warning: ... in FILE on line N")
// from raw output, without their location suffix.
func runtimeErrors(data string) []string {
	var out []string
	data = strings.ReplaceAll(data, "<br />", "\n")
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Count(line, ": ") < 2 || !strings.Contains(line, " on line ") {
			continue
		}
		line = linkTag.ReplaceAllString(line, "")
		line = htmlTag.ReplaceAllString(line, "")
		line = strings.ReplaceAll(line, ":  ", ": ")
		if parts := strings.Split(line, " in "); len(parts) > 1 {
			line = strings.Join(parts[:len(parts)-1], " in ")
		}
		out = append(out, "PHP Error: "+line)
	}
	return out
}

// decodeResult classifies decompressed response data.
func (c *Channel) decodeResult(data []byte) (*Result, error) {
	v, err := c.codec.Decode(data)
	if err != nil {
		if diags := runtimeErrors(string(data)); len(diags) > 0 {
			return nil, &ResponseError{Reason: "php runtime error", Diagnostics: diags, Err: err}
		}
		return nil, &ResponseError{Reason: "server response couldn't be unserialized", Err: err}
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, &ResponseError{Reason: "decoded response is not a mapping"}
	}
	if len(m) == 1 {
		if value, ok := m[resultKey]; ok {
			return &Result{Value: value}, nil
		}
		if msg, ok := m[errorKey]; ok {
			return &Result{AppError: true, Message: fmt.Sprint(msg)}, nil
		}
	}
	return nil, &ResponseError{Reason: "returned mapping is in a wrong format"}
}
