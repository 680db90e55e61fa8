package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rhuss/alpha/pkg/api"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4096

// HTTPError reports a non-2xx backend response. Error() includes the raw
// body so the transcript's error classifier can extract the provider's own
// message.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

// APIError maps the response to an APIError, using the backend's error
// message when the body carries one.
func (e *HTTPError) APIError() *api.APIError {
	message := ExtractErrorMessage(e.Body)

	switch {
	case e.StatusCode == http.StatusBadRequest:
		if message == "" {
			message = "invalid request to backend"
		}
		return api.NewInvalidRequestError("", message)

	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		if message == "" {
			message = "backend authentication failed"
		}
		return api.NewServerError(message)

	case e.StatusCode == http.StatusNotFound:
		if message == "" {
			message = "backend resource not found"
		}
		return api.NewNotFoundError(message)

	case e.StatusCode == http.StatusTooManyRequests:
		if message == "" {
			message = "backend rate limit exceeded"
		}
		return api.NewTooManyRequestsError(message)

	case e.StatusCode >= http.StatusInternalServerError:
		if message == "" {
			message = fmt.Sprintf("backend server error (HTTP %d)", e.StatusCode)
		}
		return api.NewServerError(message)

	default:
		if message == "" {
			message = fmt.Sprintf("unexpected backend error (HTTP %d)", e.StatusCode)
		}
		return api.NewServerError(message)
	}
}

// MapHTTPError reads the body of a non-2xx response into an HTTPError.
func MapHTTPError(resp *http.Response) *HTTPError {
	var body string
	if resp.Body != nil {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		body = strings.TrimSpace(string(data))
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: body}
}

// MapNetworkError converts a network-level error (connection refused,
// timeout, DNS resolution failure) into an APIError.
func MapNetworkError(err error) *api.APIError {
	return api.NewServerError(fmt.Sprintf("backend connection error: %s", err.Error()))
}

// ExtractErrorMessage parses body as a ChatErrorResponse and returns the
// error message if found.
func ExtractErrorMessage(body string) string {
	if body == "" {
		return ""
	}
	var errResp ChatErrorResponse
	if err := json.Unmarshal([]byte(body), &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return ""
}
