package tunnel

import (
	"net/url"
	"strings"

	"httptunnel-go/internal/model"
)

// wireSize is the number of payload bytes p occupies on the wire with method.
func wireSize(method string, p *model.Payload) int {
	if method == model.MethodPost {
		return len(url.QueryEscape(p.Data))
	}
	return p.Length
}

// fitsHeaderSize reports whether every header line stays within the limit.
func (c *Channel) fitsHeaderSize(headers map[string]string) bool {
	for name, value := range headers {
		if headerLineLen(name, value) > c.limits.MaxHeaderSize {
			return false
		}
	}
	return true
}

// buildSingle packs p and its forwarder into one request. It returns false
// when the forwarder header itself does not fit the header size limit, or
// the payload does not fit the method's capacity.
func (c *Channel) buildSingle(method string, p *model.Payload) (model.RequestUnit, bool) {
	headers := map[string]string{
		strings.ToLower(c.passkey): c.buildForwarder(method, p.Decoder),
	}
	if !c.fitsHeaderSize(headers) {
		return model.RequestUnit{}, false
	}

	unit := model.RequestUnit{Method: method, Headers: headers}
	switch method {
	case model.MethodGet:
		pieces, err := SplitHeaders(p.Data, c.limits.MaxHeaderSize, c.capacity[method].VacantHeaders)
		if err != nil {
			c.logger.Debug("payload does not fit headers", "err", err)
			return model.RequestUnit{}, false
		}
		for name, value := range pieces {
			headers[name] = value
		}
	case model.MethodPost:
		if wireSize(method, p) > c.capacity[method].MaxPayload {
			return model.RequestUnit{}, false
		}
		body := url.Values{c.passkey: {p.Data}}.Encode()
		unit.Body = &body
	}
	return unit, true
}
