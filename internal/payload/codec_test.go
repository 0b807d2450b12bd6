package payload

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"

	"httptunnel-go/internal/model"
)

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	return out
}

func TestEncode_NoCompression(t *testing.T) {
	p, err := NewCodec().Encode("echo 1;", model.CompressNone)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if p.Decoder != plainDecoder {
		t.Errorf("Decoder = %q, want %q", p.Decoder, plainDecoder)
	}
	if p.Length != len(p.Data) {
		t.Errorf("Length = %d, want %d", p.Length, len(p.Data))
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if string(raw) != "echo 1;" {
		t.Errorf("decoded = %q", raw)
	}
}

func TestEncode_AutoCompressesWhenSmaller(t *testing.T) {
	code := strings.Repeat("echo 'phpsploit';", 200)

	p, err := NewCodec().Encode(code, model.CompressAuto)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if p.Decoder != compressedDecoder {
		t.Fatalf("Decoder = %q, want %q", p.Decoder, compressedDecoder)
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if got := string(inflate(t, raw)); got != code {
		t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(code))
	}
}

func TestEncode_AutoKeepsPlainWhenCompressionGrows(t *testing.T) {
	p, err := NewCodec().Encode("x", model.CompressAuto)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if p.Decoder != plainDecoder {
		t.Errorf("Decoder = %q, want %q", p.Decoder, plainDecoder)
	}
}

func TestBuild_WrapsInEnvelope(t *testing.T) {
	env := model.Envelope{Start: "<S>", End: "</S>"}

	p, err := NewCodec().Build("<?php return 42; ?>", env, model.CompressNone)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	code := string(raw)

	if !strings.HasPrefix(code, `echo "<S>";`) {
		t.Errorf("code does not start with envelope: %q", code)
	}
	if !strings.HasSuffix(code, `;echo "</S>";`) {
		t.Errorf("code does not end with envelope: %q", code)
	}
	if !strings.Contains(code, "return 42;") {
		t.Errorf("code lost user payload: %q", code)
	}
	if strings.Contains(code, "<?php") {
		t.Errorf("open tag not stripped: %q", code)
	}
}

func TestBuild_EmptyCode(t *testing.T) {
	if _, err := NewCodec().Build("  <?php ?> ", model.NewEnvelope(), model.CompressAuto); err == nil {
		t.Fatal("Build() expected error for empty code, got nil")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"result", `{"__RESULT__":"hello"}`, false},
		{"error", `{"__ERROR__":"disk full"}`, false},
		{"padded", "\n {\"__RESULT__\":[1,2]} \n", false},
		{"garbage", `Fatal error: nope`, true},
		{"truncated", `{"__RESULT__":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewCodec().Decode([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if _, ok := v.(map[string]any); !ok {
					t.Errorf("Decode() = %T, want map[string]any", v)
				}
			}
		})
	}
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/abc", `'/tmp/abc'`},
		{`it's`, `'it\'s'`},
		{`C:\temp\`, `'C:\\temp\\'`},
	}

	for _, tt := range tests {
		if got := NewCodec().Literal(tt.in); got != tt.want {
			t.Errorf("Literal(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
