package model

import (
	"strings"

	"github.com/google/uuid"
)

// Compression selects whether an encoder may compress a payload.
type Compression int

const (
	CompressAuto Compression = iota
	CompressNone
)

func (c Compression) String() string {
	if c == CompressNone {
		return "none"
	}
	return "auto"
}

// Payload is encoded code ready to be packed into requests. Decoder is the
// remote expression that restores and runs Data; its single "%s" receives
// the variable holding the transmitted data.
type Payload struct {
	Data    string
	Decoder string
	Length  int
}

// Envelope holds the marker strings that frame protocol data inside an
// otherwise noisy response body.
type Envelope struct {
	Start string
	End   string
}

// NewEnvelope returns markers keyed by a fresh random UUID.
func NewEnvelope() Envelope {
	id := uuid.NewString()
	return Envelope{
		Start: "<" + id + ">",
		End:   "</" + id + ">",
	}
}

// Wrap makes code print its output between the envelope markers.
func (e Envelope) Wrap(code string) string {
	return `echo "` + e.Start + `";` + strings.TrimRight(code, "; \n") + `;echo "` + e.End + `";`
}
