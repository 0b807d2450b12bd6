// Package tunnel carries code to a remote PHP runtime over plain HTTP
// requests that stay within server-imposed header and body limits.
//
// A payload goes out in one request when it fits, otherwise it is split over
// a chain of requests reassembled in a remote temporary file. Requests are
// strictly sequential; a Channel must not be used by concurrent callers.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"httptunnel-go/internal/config"
	"httptunnel-go/internal/metrics"
	"httptunnel-go/internal/model"
)

// PayloadCodec turns code into transportable payloads and responses back
// into values.
type PayloadCodec interface {
	// Build wraps code so that its result is printed inside env, then encodes it.
	Build(code string, env model.Envelope, mode model.Compression) (*model.Payload, error)
	// Encode encodes code as is.
	Encode(code string, mode model.Compression) (*model.Payload, error)
	// Decode parses response data.
	Decode(raw []byte) (any, error)
	// Literal quotes s as a string literal of the remote language.
	Literal(s string) string
}

// Transport sends one HTTP request to the target.
type Transport interface {
	Send(ctx context.Context, method, target string, header http.Header, body io.Reader) (*model.Response, error)
}

// Prompter asks the operator for decisions. All calls block and return an
// error when ctx is canceled.
type Prompter interface {
	AskLine(ctx context.Context, question, def string) (string, error)
	Confirm(ctx context.Context, question string) (bool, error)
	WaitOrTimeout(ctx context.Context, d time.Duration) error
}

// Packing modes per method.
const (
	modeUnusable  = ""
	modeSingle    = "single"
	modeMultipart = "multipart"
)

// ackValue is what a non-final multipart request must answer.
const ackValue = "1"

// Exchange is the outcome of one request: enveloped data, or an error, or
// neither when the response carried no envelope.
type Exchange struct {
	data []byte
	err  error
}

// Channel is a tunnel to one target.
type Channel struct {
	target        string
	passkey       string
	headerPayload string
	defaultMethod string
	zlibTryLimit  int
	interval      config.Interval
	retryWait     time.Duration
	limits        Limits
	userHeaders   map[string]model.HeaderValue
	capacity      CapacityTable

	envelope model.Envelope
	pattern  *regexp.Regexp
	tmpFile  string // "/<uuid>", joined to the writable directory

	mu      sync.Mutex // guards tmpPath writes and reads from other goroutines
	tmpPath string

	codec     PayloadCodec
	transport Transport
	prompter  Prompter
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// Per-channel mutable state.
	multipart        *multipartCode
	established      bool
	forwarderWarning string
}

// NewChannel creates a Channel from the configuration. Limits, capacity and
// envelope markers are computed once here. The metrics parameter is
// optional; pass nil to disable transfer metrics recording.
func NewChannel(cfg *config.Config, codec PayloadCodec, transport Transport, prompter Prompter, logger *slog.Logger, m *metrics.Metrics) (*Channel, error) {
	userHeaders, err := cfg.UserHeaders()
	if err != nil {
		return nil, fmt.Errorf("load user headers: %w", err)
	}

	limits := Limits{
		MaxHeaders:    cfg.Request.MaxHeaders,
		MaxHeaderSize: cfg.Request.MaxHeaderSize,
		MaxBodySize:   cfg.Request.MaxPostSize,
	}
	env := model.NewEnvelope()

	c := &Channel{
		target:        cfg.Target,
		passkey:       cfg.Passkey,
		headerPayload: strings.TrimRight(cfg.Request.HeaderPayload, ";") + ";",
		defaultMethod: strings.ToUpper(cfg.Request.DefaultMethod),
		zlibTryLimit:  cfg.Request.ZlibTryLimit,
		interval:      cfg.Request.PauseInterval(),
		retryWait:     time.Duration(cfg.Request.RetryWaitSeconds) * time.Second,
		limits:        limits,
		userHeaders:   userHeaders,
		capacity:      PlanCapacity(limits, len(userHeaders), cfg.Passkey),
		envelope:      env,
		pattern:       envelopePattern(env),
		tmpFile:       "/" + uuid.NewString(),
		codec:         codec,
		transport:     transport,
		prompter:      prompter,
		logger:        logger.With("component", "tunnel"),
		metrics:       m,
	}
	if c.defaultMethod != model.MethodPost {
		c.defaultMethod = model.MethodGet
	}
	if cfg.WriteTmpdir != "" {
		c.tmpPath = strings.TrimRight(cfg.WriteTmpdir, "/") + c.tmpFile
	}
	return c, nil
}

// Capacity returns the per-method capacity table.
func (c *Channel) Capacity() CapacityTable { return c.capacity }

// TempPath returns the remote temporary file used by multipart transfers,
// or an empty string while no writable directory is known.
func (c *Channel) TempPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tmpPath
}

// Target returns the target URL.
func (c *Channel) Target() string { return c.target }

// DefaultMethod returns the configured transport method.
func (c *Channel) DefaultMethod() string { return c.defaultMethod }

// Open runs code on the target and returns its decoded result.
func (c *Channel) Open(ctx context.Context, code string) (*Result, error) {
	plan, err := c.Build(ctx, code)
	if err != nil {
		c.recordTransfer("none", "build_failed")
		return nil, err
	}

	mode := modeSingle
	if plan.Len() > 1 {
		mode = modeMultipart
	}
	if c.metrics != nil {
		c.metrics.PlanRequests.WithLabelValues(plan.Last().Method).Observe(float64(plan.Len()))
	}

	ex, err := c.Send(ctx, plan)
	if err != nil {
		c.recordTransfer(mode, "send_failed")
		return nil, err
	}

	res, err := c.Read(ex)
	switch {
	case err != nil:
		c.recordTransfer(mode, "read_failed")
	case res.AppError:
		c.recordTransfer(mode, "app_error")
	default:
		c.recordTransfer(mode, "ok")
	}
	return res, err
}

// compressionFor decides once per payload whether compression may be
// tried. Single and multipart encodings both follow this decision.
func (c *Channel) compressionFor(code string) model.Compression {
	if len(code) > c.zlibTryLimit {
		return model.CompressNone
	}
	return model.CompressAuto
}

func (c *Channel) recordTransfer(mode, outcome string) {
	if c.metrics != nil {
		c.metrics.Transfers.WithLabelValues(mode, outcome).Inc()
	}
}

// Build encodes code and packs it into a transfer plan. When the default
// method cannot carry the payload in one request, the operator chooses
// between the available plans.
func (c *Channel) Build(ctx context.Context, code string) (model.TransferPlan, error) {
	if _, ok := c.userHeaders[config.HeaderName(c.passkey)]; ok {
		return nil, fmt.Errorf("%w: passkey conflicts with an http header", ErrConfiguration)
	}
	for name, value := range c.userHeaders {
		// The GET forwarder gathers every zz* header as payload data.
		if strings.HasPrefix(name, headerPrefix) {
			return nil, fmt.Errorf("%w: http header %q uses the reserved %q prefix", ErrConfiguration, name, headerPrefix)
		}
		if headerLineLen(name, value.Resolve()) > c.limits.MaxHeaderSize {
			return nil, fmt.Errorf("%w: http header %q is longer than max_header_size", ErrConfiguration, name)
		}
	}

	compression := c.compressionFor(code)
	p, err := c.codec.Build(code, c.envelope, compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildAborted, err)
	}
	if c.metrics != nil {
		c.metrics.PayloadBytes.Observe(float64(p.Length))
	}

	modes := map[string]string{}
	needMultipart := false
	for _, m := range methods {
		switch {
		case !c.capacity[m].Usable:
			modes[m] = modeUnusable
		case wireSize(m, p) > c.capacity[m].MaxPayload:
			modes[m] = modeMultipart
			needMultipart = true
		default:
			modes[m] = modeSingle
		}
	}
	if len(c.capacity.Usable()) == 0 {
		return nil, fmt.Errorf("%w: request settings are too small for any method", ErrConfiguration)
	}

	if modes[c.defaultMethod] == modeSingle {
		unit, ok := c.buildSingle(c.defaultMethod, p)
		if !ok {
			return nil, fmt.Errorf("%w: the forwarder is bigger than max_header_size", ErrConfiguration)
		}
		return model.TransferPlan{unit}, nil
	}

	if needMultipart {
		c.logger.Info("large payload", "bytes", p.Length)
		if err := c.loadMultipart(ctx); err != nil {
			return nil, fmt.Errorf("%w: payload construction aborted: %w", ErrBuildAborted, err)
		}
	}

	plans := map[string]model.TransferPlan{}
	for _, m := range methods {
		c.logger.Debug("building plan", "method", m, "mode", modes[m])
		switch modes[m] {
		case modeSingle:
			if unit, ok := c.buildSingle(m, p); ok {
				plans[m] = model.TransferPlan{unit}
			}
		case modeMultipart:
			plan, err := c.buildMultipart(m, p, compression)
			if err != nil {
				return nil, fmt.Errorf("%w: payload construction aborted: %w", ErrBuildAborted, err)
			}
			plans[m] = plan
		}
	}

	def := c.defaultMethod
	if plans[def].Len() == 0 {
		def = otherMethod(def)
	}
	if plans[def].Len() == 0 {
		return nil, fmt.Errorf("%w: request settings are too small", ErrConfiguration)
	}
	return c.choosePlan(ctx, def, plans)
}

// choosePlan asks the operator which plan to send: def (also on blank
// input), the other method's plan when there is one, or abort.
func (c *Channel) choosePlan(ctx context.Context, def string, plans map[string]model.TransferPlan) (model.TransferPlan, error) {
	other := otherMethod(def)

	question := fmt.Sprintf("%d %s will be sent, you also can ", plans[def].Len(), describePlan(def, plans[def]))
	if plans[other].Len() > 0 {
		question += fmt.Sprintf("send %d %s or ", plans[other].Len(), describePlan(other, plans[other]))
	} else {
		c.logger.Warn(other+" method disabled: the request settings are too restrictive", "method", other)
	}
	question += "[A]bort"

	answer, err := c.prompter.AskLine(ctx, question, "")
	if err != nil {
		return nil, fmt.Errorf("%w: request construction aborted: %w", ErrBuildAborted, err)
	}

	switch answer = strings.ToUpper(strings.TrimSpace(answer)); {
	case answer == "" || answer == def[:1] || answer == def:
		return plans[def], nil
	case answer == "A" || answer == "ABORT":
		return nil, fmt.Errorf("%w: request construction aborted", ErrBuildAborted)
	case plans[other].Len() > 0 && (answer == other[:1] || answer == other):
		return plans[other], nil
	}
	return nil, fmt.Errorf("%w: invalid user choice %q", ErrBuildAborted, answer)
}

// describePlan renders "[G]ET request" or "[P]OST requests".
func describePlan(method string, plan model.TransferPlan) string {
	s := "[" + method[:1] + "]" + method[1:] + " request"
	if plan.Len() > 1 {
		s += "s"
	}
	return s
}

// Send transmits plan. Every unit but the last must be acknowledged; failed
// ones are retried after the operator resumes or the retry wait elapses, and
// never skipped. The last unit's Exchange is returned unchecked.
func (c *Channel) Send(ctx context.Context, plan model.TransferPlan) (Exchange, error) {
	total := plan.Len()
	for i, unit := range plan.Pending() {
		for {
			c.logger.Info("sending request", "n", i+1, "of", total)
			ex := c.sendUnit(ctx, unit)
			if errors.Is(ex.err, ErrInterrupted) || ctx.Err() != nil {
				return Exchange{}, c.interrupted(ctx)
			}

			err := ex.err
			switch {
			case err != nil:
				err = fmt.Errorf("%w: %w", ErrTransientSend, err)
			case string(ex.data) != ackValue:
				err = errExecution
			}
			if err == nil {
				break
			}

			c.logger.Warn("multipart request failed, press Enter or wait for the next try",
				"n", i+1,
				"err", err,
				"retry_in", c.retryWait,
			)
			if c.metrics != nil {
				c.metrics.TunnelRetries.Inc()
			}
			if werr := c.prompter.WaitOrTimeout(ctx, c.retryWait); werr != nil {
				return Exchange{}, c.interrupted(ctx)
			}
		}

		if err := c.pause(ctx); err != nil {
			return Exchange{}, c.interrupted(ctx)
		}
	}

	if total == 1 {
		return c.sendUnit(ctx, plan.Last()), nil
	}

	c.logger.Info("sending request", "n", total, "of", total)
	ex := c.sendUnit(ctx, plan.Last())
	// The reader removes the temp file; without its answer the file may remain.
	if ex.data == nil && (errors.Is(ex.err, ErrInterrupted) || ctx.Err() != nil) {
		return Exchange{}, c.interrupted(ctx)
	}
	return ex, nil
}

func (c *Channel) interrupted(ctx context.Context) error {
	err := ErrInterrupted
	if ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
	return &TransferError{TempPath: c.tmpPath, Err: err}
}

// pause waits the configured interval between acknowledged requests.
func (c *Channel) pause(ctx context.Context) error {
	d := c.interval.Pick()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// sendUnit sends one request with the user headers added, and extracts the
// enveloped data from the response, error statuses included.
func (c *Channel) sendUnit(ctx context.Context, unit model.RequestUnit) Exchange {
	header := http.Header{}
	for name, value := range unit.Headers {
		header.Set(name, value)
	}
	for name, value := range c.userHeaders {
		header.Set(name, value.Resolve())
	}

	var body io.Reader
	if unit.Body != nil {
		body = strings.NewReader(*unit.Body)
		header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.transport.Send(ctx, unit.Method, c.target, header, body)
	if resp != nil {
		if data := extract(c.pattern, resp.Body); data != nil {
			c.established = true
			return Exchange{data: data}
		}
	}
	if err != nil {
		return Exchange{err: describeSendError(ctx, err)}
	}
	return Exchange{}
}

// Read decodes the final exchange of a transfer.
func (c *Channel) Read(ex Exchange) (*Result, error) {
	if ex.data == nil {
		if ex.err != nil {
			return nil, ex.err
		}
		rerr := &ResponseError{Reason: "server response could not be parsed"}
		if c.forwarderWarning != "" {
			rerr.Hint = "if the target is known to run the backdoor, request.header_payload may be the cause: " + c.forwarderWarning
		}
		return nil, rerr
	}
	return c.decodeResult(inflate(ex.data))
}
