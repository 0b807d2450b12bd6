package tunnel

import (
	"context"
	"encoding/base64"
	"errors"
	"math/rand/v2"
	"net/url"
	"strings"
	"testing"

	"httptunnel-go/internal/config"
	"httptunnel-go/internal/model"
)

// multipartConfig forces POST multipart transfers: the POST body takes about
// a kilobyte and the GET forwarder does not fit a header line.
func multipartConfig() *config.Config {
	cfg := testConfig()
	cfg.Request.DefaultMethod = model.MethodPost
	cfg.Request.MaxHeaders = 8
	cfg.Request.MaxHeaderSize = 150
	cfg.Request.MaxPostSize = 1200
	return cfg
}

func randomCode(n int) string {
	r := rand.New(rand.NewPCG(1, 2))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + r.IntN(26))
	}
	return "return '" + string(b) + "';"
}

// unitCode recovers the remote code carried by a POST unit.
func unitCode(t *testing.T, passkey string, unit model.RequestUnit) string {
	t.Helper()
	if unit.Body == nil {
		t.Fatal("POST unit without body")
	}
	values, err := url.ParseQuery(*unit.Body)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(values.Get(passkey))
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	return string(inflate(raw))
}

// chunkOf returns the data a pipe writes to the temp file.
func chunkOf(t *testing.T, code string) string {
	t.Helper()
	_, rest, ok := strings.Cut(code, "file_put_contents($f,'")
	if !ok {
		t.Fatalf("no file write in %q", code)
	}
	chunk, _, ok := strings.Cut(rest, "'")
	if !ok {
		t.Fatalf("unterminated chunk in %q", code)
	}
	return chunk
}

func TestBuild_MultipartPOST(t *testing.T) {
	cfg := multipartConfig()
	cfg.WriteTmpdir = "/tmp"
	pr := &fakePrompter{lines: []string{""}}
	c := newTestChannel(t, cfg, nil, pr)
	code := randomCode(20000)

	plan, err := c.Build(context.Background(), code)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Len() < 3 {
		t.Fatalf("plan has %d units, want a multipart chain", plan.Len())
	}

	full, err := c.codec.Build(code, c.envelope, model.CompressAuto)
	if err != nil {
		t.Fatalf("codec.Build() error = %v", err)
	}

	var joined strings.Builder
	for i, unit := range plan {
		if unit.Method != model.MethodPost {
			t.Fatalf("unit %d method = %s, want POST", i, unit.Method)
		}
		if n := len(*unit.Body); n > cfg.Request.MaxPostSize-4 {
			t.Errorf("unit %d body is %d bytes, over the %d byte limit", i, n, cfg.Request.MaxPostSize)
		}
		for name, value := range unit.Headers {
			if headerLineLen(name, value) > cfg.Request.MaxHeaderSize {
				t.Errorf("unit %d header %s too long", i, name)
			}
		}

		remote := unitCode(t, cfg.Passkey, unit)
		if !strings.Contains(remote, "$f='"+c.TempPath()+"';") {
			t.Errorf("unit %d does not reference the temp file: %q", i, remote)
		}
		switch {
		case i == 0:
			if strings.Contains(remote, "FILE_APPEND") {
				t.Error("first unit must create the temp file")
			}
		case i == plan.Len()-1:
			if !strings.Contains(remote, "file_get_contents($f)") {
				t.Error("last unit must run the reassembled payload")
			}
		default:
			if !strings.Contains(remote, "FILE_APPEND") {
				t.Errorf("unit %d must append to the temp file", i)
			}
		}
		joined.WriteString(chunkOf(t, remote))
	}

	if joined.String() != full.Data {
		t.Error("chunks do not reassemble into the encoded payload")
	}
	if len(pr.asked) != 1 || !strings.Contains(pr.asked[0], "[P]OST requests will be sent") {
		t.Errorf("asked %q, want the method choice only", pr.asked)
	}
}

func TestBuild_MultipartPlaceholderInTempPath(t *testing.T) {
	cfg := multipartConfig()
	cfg.WriteTmpdir = "/var/DATA"
	c := newTestChannel(t, cfg, nil, &fakePrompter{lines: []string{""}})
	code := randomCode(5000)

	plan, err := c.Build(context.Background(), code)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	full, err := c.codec.Build(code, c.envelope, model.CompressAuto)
	if err != nil {
		t.Fatalf("codec.Build() error = %v", err)
	}

	var joined strings.Builder
	for i, unit := range plan {
		remote := unitCode(t, cfg.Passkey, unit)
		if !strings.Contains(remote, "$f='"+c.TempPath()+"';") {
			t.Errorf("unit %d lost the temp path: %q", i, remote)
		}
		joined.WriteString(chunkOf(t, remote))
	}
	if joined.String() != full.Data {
		t.Error("chunks do not reassemble into the encoded payload")
	}
}

func TestBuild_MultipartFollowsCompressionLimit(t *testing.T) {
	cfg := multipartConfig()
	cfg.WriteTmpdir = "/tmp"
	code := randomCode(5000)
	cfg.Request.ZlibTryLimit = len(code) - 1
	c := newTestChannel(t, cfg, nil, &fakePrompter{lines: []string{""}})

	plan, err := c.Build(context.Background(), code)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Len() < 2 {
		t.Fatalf("plan has %d units, want a multipart chain", plan.Len())
	}
	full, err := c.codec.Build(code, c.envelope, model.CompressNone)
	if err != nil {
		t.Fatalf("codec.Build() error = %v", err)
	}

	var joined strings.Builder
	for i, unit := range plan {
		values, err := url.ParseQuery(*unit.Body)
		if err != nil {
			t.Fatalf("ParseQuery: %v", err)
		}
		raw, err := base64.StdEncoding.DecodeString(values.Get(cfg.Passkey))
		if err != nil {
			t.Fatalf("DecodeString: %v", err)
		}
		remote := string(raw)
		if !strings.Contains(remote, "$f='"+c.TempPath()+"';") {
			t.Fatalf("unit %d is compressed above the zlib limit", i)
		}
		joined.WriteString(chunkOf(t, remote))
	}
	if joined.String() != full.Data {
		t.Error("chunks do not reassemble into the uncompressed payload")
	}
}

func TestBuild_MultipartAsksDirectory(t *testing.T) {
	pr := &fakePrompter{lines: []string{"/srv/www/", ""}, confirms: []bool{true}}
	c := newTestChannel(t, multipartConfig(), nil, pr)

	if _, err := c.Build(context.Background(), randomCode(5000)); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.HasPrefix(c.TempPath(), "/srv/www/") || strings.Contains(c.TempPath(), "//") {
		t.Errorf("TempPath() = %q, want a file directly under /srv/www", c.TempPath())
	}
	if pr.asked[1] != "Use '/srv/www/' as writeable directory?" {
		t.Errorf("confirmation = %q", pr.asked[1])
	}

	// The directory is kept for later transfers.
	pr.lines = []string{""}
	pr.asked = nil
	if _, err := c.Build(context.Background(), randomCode(5000)); err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if len(pr.asked) != 1 {
		t.Errorf("second Build asked %q, want the method choice only", pr.asked)
	}
}

func TestBuild_MultipartDeclined(t *testing.T) {
	pr := &fakePrompter{lines: []string{"/tmp"}, confirms: []bool{false}}
	c := newTestChannel(t, multipartConfig(), nil, pr)

	_, err := c.Build(context.Background(), randomCode(5000))
	if !errors.Is(err, ErrBuildAborted) {
		t.Fatalf("Build() error = %v, want ErrBuildAborted", err)
	}
	if len(pr.asked) != 3 {
		t.Errorf("asked %d questions, want directory, confirmation, directory", len(pr.asked))
	}
	if c.TempPath() != "" {
		t.Errorf("TempPath() = %q, want empty", c.TempPath())
	}
}

func TestBuild_MultipartAbort(t *testing.T) {
	cfg := multipartConfig()
	cfg.WriteTmpdir = "/tmp"
	pr := &fakePrompter{lines: []string{"a"}}
	c := newTestChannel(t, cfg, nil, pr)

	if _, err := c.Build(context.Background(), randomCode(5000)); !errors.Is(err, ErrBuildAborted) {
		t.Errorf("Build() error = %v, want ErrBuildAborted", err)
	}
}

func TestOpen_Multipart(t *testing.T) {
	cfg := multipartConfig()
	cfg.WriteTmpdir = "/tmp"
	pr := &fakePrompter{lines: []string{""}}

	var (
		c      *Channel
		stored strings.Builder
	)
	tr := &fakeTransport{handle: func(_ int, req sentRequest) (*model.Response, error) {
		values, err := url.ParseQuery(req.body)
		if err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(values.Get(cfg.Passkey))
		if err != nil {
			return nil, err
		}
		remote := string(inflate(raw))
		_, rest, _ := strings.Cut(remote, "file_put_contents($f,'")
		chunk, _, _ := strings.Cut(rest, "'")
		stored.WriteString(chunk)

		if strings.Contains(remote, "file_get_contents($f)") {
			return enveloped(c, `{"__RESULT__":"done"}`), nil
		}
		return enveloped(c, ackValue), nil
	}}
	c = newTestChannel(t, cfg, tr, pr)
	code := randomCode(8000)

	res, err := c.Open(context.Background(), code)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if res.Value != "done" {
		t.Errorf("Value = %v, want done", res.Value)
	}
	if len(tr.requests) < 3 {
		t.Errorf("requests = %d, want a multipart chain", len(tr.requests))
	}

	full, err := c.codec.Build(code, c.envelope, model.CompressAuto)
	if err != nil {
		t.Fatalf("codec.Build() error = %v", err)
	}
	if stored.String() != full.Data {
		t.Error("remote file content differs from the encoded payload")
	}

	families, err := c.metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "httptunnel_transfers_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["mode"] == "multipart" && labels["outcome"] == "ok" && m.GetCounter().GetValue() == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Error("multipart transfer not recorded in httptunnel_transfers_total")
	}
}
