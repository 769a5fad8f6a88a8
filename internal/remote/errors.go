package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTransient    = errors.New("remote cart store unavailable")
	ErrNotFound     = errors.New("cart record not found")
	ErrConflict     = errors.New("cart record already exists")
	ErrUnauthorized = errors.New("remote cart store rejected credentials")
	ErrRejected     = errors.New("remote cart store rejected request")
)

// StatusError is a non-2xx response. It unwraps to one of the sentinel errors above.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
	kind   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

func newStatusError(method, path string, code int, body []byte) *StatusError {
	const maxBody = 256
	if len(body) > maxBody {
		body = body[:maxBody]
	}

	var kind error
	switch {
	case code == http.StatusNotFound:
		kind = ErrNotFound
	case code == http.StatusConflict:
		kind = ErrConflict
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = ErrUnauthorized
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		kind = ErrTransient
	default:
		kind = ErrRejected
	}
	return &StatusError{Method: method, Path: path, Code: code, Body: string(body), kind: kind}
}

// IsTransient reports whether retrying err may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
