package fasjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes carried by setup errors. They follow the errno values
// used by the FASJSON tooling so scripts can branch on them.
const (
	// CodeProtocol is used for malformed or invalid specs and for
	// authentication failures.
	CodeProtocol = 71

	// CodeConnectionAborted is used when the spec cannot be fetched.
	CodeConnectionAborted = 103
)

// Setup error reasons, matched with errors.Is against a *ClientError.
var (
	ErrSpecUnreachable       = errors.New("error loading remote spec")
	ErrSpecMalformed         = errors.New("remote data validation failed")
	ErrSpecInvalid           = errors.New("schema validation failed")
	ErrAuthenticationFailed  = errors.New("Authentication failed") //nolint:staticcheck // user-facing message
	ErrAuthenticationExpired = errors.New("Authentication expired") //nolint:staticcheck // user-facing message
	ErrInvalidConfig         = errors.New("invalid client configuration")
)

// Static errors for err113 compliance.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNoPagination     = errors.New("No pagination available") //nolint:staticcheck // user-facing message
	ErrPageOutOfRange   = errors.New("page out of range")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrUsage            = errors.New("invalid usage")
	ErrNotACollection   = errors.New("result is not a collection")
	ErrIteratorDone     = errors.New("no more items")
)

// BaseError is the common shape of every error returned by the client:
// a message, a numeric code and a structured data payload.
type BaseError struct {
	Message string                 `json:"message" yaml:"message"`
	Code    int                    `json:"code"    yaml:"code"`
	Data    map[string]interface{} `json:"data"    yaml:"data"`
	Err     error                  `json:"-"       yaml:"-"`
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *BaseError) Unwrap() error {
	return e.Err
}

// GoString renders the error the way it is shown in debug output.
func (e *BaseError) GoString() string {
	return e.describe("BaseError")
}

func (e *BaseError) describe(kind string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<%s code=%d message=%s", kind, e.Code, e.Message)

	if len(e.Data) > 0 {
		fmt.Fprintf(&b, " data=%v", e.Data)
	}

	b.WriteString(">")

	return b.String()
}

// ClientError is raised while setting up the client: the spec could not
// be loaded, authentication failed or expired, or the configuration is
// unusable. Reason identifies which of these happened.
type ClientError struct {
	BaseError

	Reason error `json:"-" yaml:"-"`
}

// Is matches the error's reason sentinel.
func (e *ClientError) Is(target error) bool {
	return e.Reason != nil && errors.Is(e.Reason, target)
}

// GoString renders the error for debug output.
func (e *ClientError) GoString() string {
	return e.describe("ClientError")
}

// NewClientError creates a setup error for the given reason.
func NewClientError(reason error, code int, data map[string]interface{}, cause error) *ClientError {
	if data == nil {
		data = map[string]interface{}{}
	}

	return &ClientError{
		BaseError: BaseError{
			Message: reason.Error(),
			Code:    code,
			Data:    data,
			Err:     cause,
		},
		Reason: reason,
	}
}

// APIError is returned when a resolved operation gets a non-2xx answer,
// or when the exchange itself failed (Code is then 0).
type APIError struct {
	BaseError
}

// StatusCode returns the HTTP status of the failed call.
func (e *APIError) StatusCode() int {
	return e.Code
}

// Body returns the decoded JSON body, or the raw text when the body was
// not JSON.
func (e *APIError) Body() interface{} {
	return e.Data["body"]
}

// Response returns the raw HTTP response, if there was one.
func (e *APIError) Response() *http.Response {
	resp, _ := e.Data["response"].(*http.Response)

	return resp
}

// GoString renders the error for debug output.
func (e *APIError) GoString() string {
	return e.describe("APIError")
}

// NewAPIError builds an APIError from a failed HTTP response and the
// body that was read from it. It refuses 2xx responses.
func NewAPIError(resp *http.Response, body []byte) (*APIError, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: no HTTP response", ErrInvalidArgument)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: status %d is a success", ErrInvalidArgument, resp.StatusCode)
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		decoded = string(body)
	}

	message := statusText(resp)

	if obj, ok := decoded.(map[string]interface{}); ok {
		if m, ok := obj["message"].(string); ok && m != "" {
			message = m
		}
	}

	return &APIError{
		BaseError: BaseError{
			Message: message,
			Code:    resp.StatusCode,
			Data: map[string]interface{}{
				"body":     decoded,
				"response": resp,
				"result":   nil,
			},
		},
	}, nil
}

// NewTransportError wraps a failed HTTP exchange that produced no response.
func NewTransportError(err error) *APIError {
	return &APIError{
		BaseError: BaseError{
			Message: err.Error(),
			Code:    0,
			Data:    map[string]interface{}{"error": err},
			Err:     err,
		},
	}
}

// statusText returns the status line of the response, e.g. "500 Internal
// Server Error".
func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}

	return strings.TrimSpace(fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
}

// PaginationError is returned when page navigation is not possible.
type PaginationError struct {
	BaseError
}

// GoString renders the error for debug output.
func (e *PaginationError) GoString() string {
	return e.describe("PaginationError")
}

func newPaginationError(cause error, message string, data map[string]interface{}) *PaginationError {
	return &PaginationError{
		BaseError: BaseError{
			Message: message,
			Data:    data,
			Err:     cause,
		},
	}
}

// UnknownOperationError is returned when an operation name is not in the
// registry. No HTTP call is made in that case.
type UnknownOperationError struct {
	BaseError

	Name string `json:"name" yaml:"name"`
}

// GoString renders the error for debug output.
func (e *UnknownOperationError) GoString() string {
	return e.describe("UnknownOperationError")
}

// NewUnknownOperationError creates the error for a missing operation.
func NewUnknownOperationError(name string) *UnknownOperationError {
	return &UnknownOperationError{
		BaseError: BaseError{
			Message: fmt.Sprintf("unknown operation %q", name),
			Data:    map[string]interface{}{"name": name},
			Err:     ErrUnknownOperation,
		},
		Name: name,
	}
}

// UsageError reports a programming mistake in how the client was called,
// such as an unexpected argument or a missing required parameter.
type UsageError struct {
	BaseError
}

// GoString renders the error for debug output.
func (e *UsageError) GoString() string {
	return e.describe("UsageError")
}

// NewUsageError creates a usage error with a formatted message.
func NewUsageError(format string, args ...interface{}) *UsageError {
	return &UsageError{
		BaseError: BaseError{
			Message: fmt.Sprintf(format, args...),
			Err:     ErrUsage,
		},
	}
}

// IsClientError reports whether err is a setup error.
func IsClientError(err error) bool {
	var clientErr *ClientError

	return errors.As(err, &clientErr)
}

// IsAPIError reports whether err came from a resolved operation call.
func IsAPIError(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}

	return false
}

// IsPaginationError reports whether err is a pagination error.
func IsPaginationError(err error) bool {
	var pageErr *PaginationError

	return errors.As(err, &pageErr)
}

// IsUnknownOperation reports whether err is an unknown operation lookup.
func IsUnknownOperation(err error) bool {
	var unknownErr *UnknownOperationError

	return errors.As(err, &unknownErr)
}

// IsUsageError reports whether err is a usage error, which includes
// unknown operations.
func IsUsageError(err error) bool {
	var usageErr *UsageError

	return errors.As(err, &usageErr) || IsUnknownOperation(err)
}
