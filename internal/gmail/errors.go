package gmail

import (
	"errors"

	"google.golang.org/api/googleapi"
)

// DispatchErrorKind classifies why a dispatch failed.
type DispatchErrorKind string

const (
	// KindNoCredential means no usable credential was supplied; the client
	// must reconnect Gmail before sending.
	KindNoCredential DispatchErrorKind = "no_credential"

	// KindProvider means Gmail rejected the request.
	KindProvider DispatchErrorKind = "provider"

	// KindTransport means the provider could not be reached.
	KindTransport DispatchErrorKind = "transport"
)

// DispatchError is a dispatch failure with a client-presentable message.
type DispatchError struct {
	Kind    DispatchErrorKind
	Message string
	cause   error
}

func (e *DispatchError) Error() string {
	return e.Message
}

func (e *DispatchError) Unwrap() error {
	return e.cause
}

// classifyError converts a Gmail API failure into a DispatchError. A
// structured googleapi error carries Google's own message; anything else
// is a transport-level failure and is stringified.
func classifyError(err error) *DispatchError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &DispatchError{Kind: KindProvider, Message: msg, cause: err}
	}
	return &DispatchError{Kind: KindTransport, Message: err.Error(), cause: err}
}
