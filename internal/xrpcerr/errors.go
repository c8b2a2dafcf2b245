// Package xrpcerr defines the client-visible XRPC error taxonomy.
package xrpcerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is an error that renders as {"error": Name, "message": Message}.
type Error struct {
	Status  int
	Name    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// NotFound reports a root entity that does not resolve.
func NotFound(name, format string, args ...any) *Error {
	if name == "" {
		name = "NotFound"
	}
	return &Error{Status: http.StatusBadRequest, Name: name, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest reports bad parameters.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Name: "InvalidRequest", Message: fmt.Sprintf(format, args...)}
}

// AuthRequired reports an endpoint that needs a viewer.
func AuthRequired(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Name: "AuthenticationRequired", Message: message}
}

// BlockedActor reports that the viewer blocks the requested actor.
func BlockedActor() *Error {
	return &Error{Status: http.StatusBadRequest, Name: "BlockedActor", Message: "Requester has blocked actor"}
}

// BlockedByActor reports that the requested actor blocks the viewer.
func BlockedByActor() *Error {
	return &Error{Status: http.StatusBadRequest, Name: "BlockedByActor", Message: "Requester is blocked by actor"}
}

// From maps any error onto the taxonomy. XRPC errors pass through, deadline
// and cancellation errors become UpstreamTimeout, everything else
// UpstreamFailure.
func From(err error) *Error {
	var xe *Error
	if errors.As(err, &xe) {
		return xe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Status: http.StatusGatewayTimeout, Name: "UpstreamTimeout", Message: "upstream request timed out"}
	}
	return &Error{Status: http.StatusBadGateway, Name: "UpstreamFailure", Message: "upstream request failed"}
}
