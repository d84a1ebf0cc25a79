package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a terminal request failure.
type Kind int

const (
	KindNetworkUnreachable Kind = iota + 1
	KindAuthExpired
	KindClientError
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindAuthExpired:
		return "auth_expired"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against *HTTPError and *NetworkError.
var (
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrAuthExpired        = errors.New("authentication expired")
	ErrClientError        = errors.New("client error")
	ErrServerError        = errors.New("server error")
)

// HTTPError is returned when the backend answered with status >= 400.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	// Message is the server supplied "message" or "detail", if any.
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Kind maps the status code onto the failure taxonomy.
func (e *HTTPError) Kind() Kind {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return KindAuthExpired
	case e.StatusCode >= 500:
		return KindServerError
	default:
		return KindClientError
	}
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrAuthExpired:
		return e.Kind() == KindAuthExpired
	case ErrClientError:
		return e.Kind() == KindClientError
	case ErrServerError:
		return e.Kind() == KindServerError
	}
	return false
}

// NetworkError is returned when no response was received at all.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Kind() Kind { return KindNetworkUnreachable }

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetworkUnreachable
}

// KindOf returns the taxonomy kind of err, or 0 if err did not come from this package.
func KindOf(err error) Kind {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Kind()
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Kind()
	}
	return 0
}

// serverMessage extracts "message" or "detail" from a JSON error body.
// FastAPI style validation errors put a list in "detail"; those are flattened.
func serverMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return payload.Error
}
