package tunnel

import (
	"fmt"
	"math"
)

const (
	headerPrefix = "zz"
	letters      = "abcdefghijklmnopqrstuvwxyz"
	// maxPieces is the number of distinct two-letter suffixes.
	maxPieces = len(letters) * len(letters)
)

// HeaderNames returns n payload header names in lexicographic order:
// zzaa, zzab, ..., zzaz, zzba, ...
func HeaderNames(n int) ([]string, error) {
	if n > maxPieces {
		return nil, fmt.Errorf("%d payload headers needed, at most %d available", n, maxPieces)
	}
	names := make([]string, n)
	for i := range names {
		names[i] = headerPrefix + string(letters[i/len(letters)]) + string(letters[i%len(letters)])
	}
	return names, nil
}

// SplitHeaders spreads data over at most vacant headers of at most
// maxHeaderSize bytes per line. Piece size is chosen so that piece count and
// piece size grow together, which keeps a margin on both limits when the
// configured ones overestimate what the server accepts.
func SplitHeaders(data string, maxHeaderSize, vacant int) (map[string]string, error) {
	free := maxHeaderSize - headerLineOverhead
	if vacant < 1 || free < 1 {
		return nil, fmt.Errorf("no room for payload headers")
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	if len(data) > vacant*free {
		return nil, fmt.Errorf("%d bytes exceed header capacity %d", len(data), vacant*free)
	}

	size := int(math.Ceil(math.Sqrt(float64(len(data)) * float64(free) / float64(vacant))))
	size = min(max(size, 1), free)

	pieces := splitLen(data, size)
	if len(pieces) > vacant {
		return nil, fmt.Errorf("%d payload headers needed, %d vacant", len(pieces), vacant)
	}
	names, err := HeaderNames(len(pieces))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(pieces))
	for i, name := range names {
		headers[name] = pieces[i]
	}
	return headers, nil
}

// splitLen cuts s into consecutive pieces of n bytes, the last one shorter.
func splitLen(s string, n int) []string {
	out := make([]string, 0, (len(s)+n-1)/n)
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// headerLineLen is the serialized length of "name: value\r\n".
func headerLineLen(name, value string) int {
	return len(name) + len(": ") + len(value) + len("\r\n")
}
