package model

import "net/http"

// Response is the raw outcome of one HTTP exchange with the target.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
