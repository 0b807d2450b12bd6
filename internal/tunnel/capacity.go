package tunnel

import (
	"httptunnel-go/internal/model"
)

var methods = []string{model.MethodGet, model.MethodPost}

// Headers every request carries regardless of the payload.
var (
	baseHeaders = []string{"host", "accept-encoding", "connection", "user-agent"}
	postHeaders = []string{"content-type", "content-length"}
)

// Per-line overheads. A payload header goes out as "zzaa: DATA\r\n" and the
// body as "PASSKEY=DATA\r\n\r\n".
const (
	headerLineOverhead = 8
	bodyOverhead       = 5
)

// MethodCapacity is what one transport method can carry per request.
type MethodCapacity struct {
	VacantHeaders int  `json:"vacant_headers"`
	MaxPayload    int  `json:"max_payload"`
	Usable        bool `json:"usable"`
}

// CapacityTable maps each transport method to its capacity.
type CapacityTable map[string]MethodCapacity

// Usable returns the methods that can carry data, in GET, POST order.
func (t CapacityTable) Usable() []string {
	var out []string
	for _, m := range methods {
		if t[m].Usable {
			out = append(out, m)
		}
	}
	return out
}

// Limits are the server-imposed request limits.
type Limits struct {
	MaxHeaders    int
	MaxHeaderSize int
	MaxBodySize   int
}

// PlanCapacity computes how many header slots and payload bytes each method
// leaves once fixed headers, user headers and the forwarder header are
// accounted for.
func PlanCapacity(lim Limits, userHeaders int, passkey string) CapacityTable {
	vacant := lim.MaxHeaders - len(baseHeaders) - userHeaders - 1

	get := MethodCapacity{
		VacantHeaders: vacant,
		MaxPayload:    vacant * (lim.MaxHeaderSize - headerLineOverhead),
	}
	get.Usable = vacant > 0 && lim.MaxHeaderSize > headerLineOverhead && get.MaxPayload > 0
	if !get.Usable {
		get.MaxPayload = 0
	}

	post := MethodCapacity{
		VacantHeaders: vacant - len(postHeaders),
		MaxPayload:    lim.MaxBodySize - len(passkey) - bodyOverhead,
	}
	post.Usable = post.MaxPayload > 0 && post.VacantHeaders >= 0
	if !post.Usable {
		post.MaxPayload = 0
	}

	return CapacityTable{
		model.MethodGet:  get,
		model.MethodPost: post,
	}
}

func otherMethod(m string) string {
	if m == model.MethodGet {
		return model.MethodPost
	}
	return model.MethodGet
}
