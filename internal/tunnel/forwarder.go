package tunnel

import (
	"encoding/base64"
	"strings"

	"httptunnel-go/internal/config"
)

// substitute fills the single "%s" substitution point of tpl.
func substitute(tpl, value string) string {
	return strings.Replace(tpl, "%s", value, 1)
}

// buildForwarder returns the passkey header value for method: the forwarder
// code, base64-encoded without padding, placed in the header payload template.
//
// Until a request has succeeded, it also records a warning about template
// choices that commonly break on servers; the warning is only shown when a
// response cannot be parsed.
func (c *Channel) buildForwarder(method, decoder string) string {
	code := strings.ReplaceAll(forwarderTemplates[method], "%%PASSKEY%%", c.passkey)
	code = substitute(code, substitute(decoder, "$x"))

	// Unpadded base64 evaluates unquoted on most PHP builds, which avoids
	// servers that escape quotes in header values.
	encoded := strings.TrimRight(base64.StdEncoding.EncodeToString([]byte(code)), "=")
	forwarder := strings.Replace(c.headerPayload, config.PayloadPlaceholder, encoded, 1)

	if !c.established {
		c.forwarderWarning = forwarderWarning(c.headerPayload, encoded)
	}
	return forwarder
}

// forwarderWarning classifies a header payload template as risky, returning
// an empty string when nothing looks wrong.
func forwarderWarning(template, encoded string) string {
	quoted := strings.Contains(template, "'"+config.PayloadPlaceholder+"'") ||
		strings.Contains(template, `"`+config.PayloadPlaceholder+`"`)

	switch {
	case !quoted && !isAlnum(encoded):
		return "it does not quote the base64 forwarder, which contains non alphanumeric chars (+ or /) that can block execution"
	case strings.ContainsAny(template, `"'`):
		return "it contains quotes, and some http servers escape them in request headers"
	}
	return ""
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return s != ""
}
