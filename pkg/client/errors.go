package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

var (
	// ErrNotImplemented is returned when a listing endpoint answers 404: the
	// server does not offer that source.
	ErrNotImplemented = errors.New("not implemented on server")

	// ErrNotFound is returned when a document endpoint answers 404.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the server rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnauthenticated is returned before any request is made when an
	// auth-requiring call has no token.
	ErrUnauthenticated = errors.New("login required")
)

// StatusError is a non-2xx response that has no more specific meaning.
// Message carries the server-provided reason verbatim when there is one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// AsStatus checks if an error is a StatusError and returns it.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// readStatusError builds a StatusError from a failed response. The JSON
// error body's message wins over its error field; plain bodies are used as-is.
func readStatusError(resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{Code: resp.StatusCode}

	var errResp protocol.ErrorResponse
	if json.Unmarshal(data, &errResp) == nil {
		switch {
		case errResp.Message != "":
			se.Message = errResp.Message
		case errResp.Error != "":
			se.Message = errResp.Error
		}
		if se.Message != "" {
			return se
		}
	}
	se.Message = strings.TrimSpace(string(data))
	return se
}
