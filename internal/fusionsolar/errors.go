package fusionsolar

import (
	"errors"
	"fmt"
)

// ErrTokenMissing means login reported success but no XSRF token header came back.
var ErrTokenMissing = errors.New("fusionsolar: login succeeded but no xsrf token header in response")

// AuthErrorKind classifies application-level login rejections by vendor fail code.
type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthForbidden          AuthErrorKind = "forbidden"
	AuthEndpointNotFound   AuthErrorKind = "endpoint_not_found"
	AuthRateLimited        AuthErrorKind = "rate_limited"
	AuthServerError        AuthErrorKind = "server_error"
	AuthFrequencyLimited   AuthErrorKind = "frequency_limited"
	AuthUnknown            AuthErrorKind = "unknown"
)

// AuthError is a well-formed login response with success=false, or a login
// that failed before the application payload could be interpreted.
type AuthError struct {
	Kind     AuthErrorKind
	FailCode int
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("fusionsolar auth: %s (failCode=%d): %s", e.Kind, e.FailCode, e.Message)
}

// TransportError wraps timeouts and connection failures. Always retryable by
// a later cycle.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fusionsolar transport: %s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps non-200 statuses and invalid JSON bodies.
type ProtocolError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fusionsolar protocol: %s: status=%d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fusionsolar protocol: %s: status=%d", e.Operation, e.StatusCode)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// BodyError interprets the application-level envelope of a decoded non-login
// response. A body without a success field passes; success=false maps its
// failCode through the same classification the login path uses.
func BodyError(operation string, body map[string]any) error {
	if body == nil {
		return &ProtocolError{Operation: operation, Err: errors.New("empty body")}
	}
	raw, ok := body["success"]
	if !ok {
		return nil
	}
	if succeeded, ok := raw.(bool); ok && succeeded {
		return nil
	}
	failCode, _ := asInt(body["failCode"])
	message, _ := body["message"].(string)
	return classifyFailCode(failCode, message)
}

// classifyFailCode maps vendor login fail codes to an AuthErrorKind and a
// human message. Codes observed across API versions; 407 is the documented
// access-frequency code on newer deployments.
func classifyFailCode(failCode int, apiMessage string) *AuthError {
	var kind AuthErrorKind
	var msg string
	switch failCode {
	case 20400:
		kind = AuthInvalidCredentials
		msg = "invalid API credentials (userName or systemCode)"
	case 20401, 20403:
		kind = AuthForbidden
		msg = "access denied: check API account permissions or credential expiry"
	case 20404:
		kind = AuthEndpointNotFound
		msg = "API endpoint not found: check the base URL"
	case 20429:
		kind = AuthRateLimited
		msg = "API request limit exceeded, retry later"
	case 20500:
		kind = AuthServerError
		msg = "vendor internal server error, retry later"
	case 407:
		kind = AuthFrequencyLimited
		msg = "access frequency too high"
	default:
		kind = AuthUnknown
		msg = fmt.Sprintf("API error code %d: %s", failCode, apiMessage)
	}
	return &AuthError{Kind: kind, FailCode: failCode, Message: msg}
}
