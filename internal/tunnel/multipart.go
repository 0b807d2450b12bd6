package tunnel

import (
	"context"
	"fmt"
	"strings"

	"httptunnel-go/internal/model"
)

// Multipart pipe kinds.
const (
	pipeStarter = iota
	pipeSender
	pipeReader
)

// multipartCode renders the three pipes for one temp file.
type multipartCode struct {
	marker   string // "$f='<temp path>';"
	envelope model.Envelope
}

// pipe returns the remote code of a pipe carrying chunk. The chunk goes into
// the bare template so a temp path containing the placeholder stays intact.
func (m *multipartCode) pipe(kind int, chunk, decoder string) string {
	switch kind {
	case pipeStarter:
		return m.envelope.Wrap(m.marker + strings.Replace(starterTemplate, dataPlaceholder, chunk, 1))
	case pipeSender:
		return m.envelope.Wrap(m.marker + strings.Replace(senderTemplate, dataPlaceholder, chunk, 1))
	}
	// The reassembled payload prints its own envelope.
	code := substitute(readerTemplate, substitute(decoder, "$x"))
	return m.marker + strings.Replace(code, dataPlaceholder, chunk, 1)
}

// loadMultipart enables multi-request transfers. It asks the operator for a
// writable remote directory unless one is already known, then prepares the
// pipes. Both the directory and the pipes are kept for the channel lifetime.
func (c *Channel) loadMultipart(ctx context.Context) error {
	for c.tmpPath == "" {
		dir, err := c.prompter.AskLine(ctx, "Writeable remote directory needed to send multipart payload [/tmp]", "/tmp")
		if err != nil {
			return err
		}
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		ok, err := c.prompter.Confirm(ctx, fmt.Sprintf("Use '%s' as writeable directory?", dir))
		if err != nil {
			return err
		}
		if ok {
			c.mu.Lock()
			c.tmpPath = strings.TrimRight(dir, "/") + c.tmpFile
			c.mu.Unlock()
		}
	}

	if c.multipart == nil {
		c.multipart = &multipartCode{
			marker:   "$f=" + c.codec.Literal(c.tmpPath) + ";",
			envelope: c.envelope,
		}
	}
	return nil
}

// buildMultipart splits p into a starter request, as many sender requests as
// needed and a final reader request, each carrying as much data as fits the
// method's capacity. Pipes are encoded with the compression chosen for the
// whole payload. It returns nil when no valid split exists.
func (c *Channel) buildMultipart(method string, p *model.Payload, compression model.Compression) (model.TransferPlan, error) {
	budget := c.capacity[method].MaxPayload
	tolerance := max(100, budget/100)

	encode := func(kind int, chunk string) (*model.Payload, error) {
		return c.codec.Encode(c.multipart.pipe(kind, chunk, p.Decoder), compression)
	}

	var plan model.TransferPlan
	raw := p.Data
	base := budget
	for {
		kind := pipeSender
		if len(plan) == 0 {
			kind = pipeStarter
		}

		encoded := map[int]*model.Payload{}
		var encodeErr error
		fits := func(n int) bool {
			enc, err := encode(kind, raw[:n])
			if err != nil {
				encodeErr = err
				return false
			}
			encoded[n] = enc
			return wireSize(method, enc) <= budget
		}

		n, ok := FindMaxFittingSize(fits, base, len(raw), tolerance, len(plan) > 0)
		if encodeErr != nil {
			return nil, encodeErr
		}
		if !ok {
			c.logger.Debug("no chunk size fits", "method", method, "budget", budget)
			return nil, nil
		}

		unit, ok := c.buildSingle(method, encoded[n])
		if !ok {
			return nil, nil
		}
		plan = append(plan, unit)
		raw = raw[n:]
		base = n

		// Try to finish with everything that is left.
		last, err := encode(pipeReader, raw)
		if err != nil {
			return nil, err
		}
		if wireSize(method, last) <= budget {
			unit, ok := c.buildSingle(method, last)
			if !ok {
				return nil, nil
			}
			return append(plan, unit), nil
		}
		if raw == "" {
			return nil, nil
		}
	}
}
