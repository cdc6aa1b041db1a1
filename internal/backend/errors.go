package backend

import (
	"errors"
	"fmt"
)

// Kind classifies a failed backend call.
type Kind string

const (
	// KindNetwork means the request never produced a response.
	KindNetwork Kind = "network"
	// KindServer means the backend answered with a non-2xx status.
	KindServer Kind = "server"
	// KindDecode means the response body could not be decoded.
	KindDecode Kind = "decode"
)

// Error is returned by every Client method that fails.
type Error struct {
	Kind   Kind
	Op     string // e.g. "GET /graph"
	Status int    // HTTP status for KindServer
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindServer {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a backend error anywhere in err's chain, or ""
// when err did not come from the backend client.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// StatusOf returns the HTTP status carried by a server error, or 0.
func StatusOf(err error) int {
	var be *Error
	if errors.As(err, &be) && be.Kind == KindServer {
		return be.Status
	}
	return 0
}
