package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusError captures non-2xx responses and 2xx responses with success=false.
type StatusError struct {
	Operation  string
	StatusCode int
	// Message is the backend's own error text when it sent one.
	Message string
	Body    string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	detail := e.Message
	if detail == "" {
		detail = e.Body
	}
	if detail == "" {
		return fmt.Sprintf("%s request failed: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed: status %d: %s", e.Operation, e.StatusCode, detail)
}

// NetworkError wraps transport failures: refused connections, timeouts, truncated bodies.
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindConflict
	KindNotFound
	KindNetwork
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// KindOf classifies err. A 400 is reported as validation; callers that know a
// 400 means "duplicate" (bookmark add) check for it themselves.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized:
			return KindUnauthorized
		case se.StatusCode == http.StatusForbidden:
			return KindForbidden
		case se.StatusCode == http.StatusConflict:
			return KindConflict
		case se.StatusCode == http.StatusNotFound:
			return KindNotFound
		case se.StatusCode == http.StatusBadRequest || se.StatusCode == http.StatusRequestEntityTooLarge:
			return KindValidation
		case se.StatusCode >= http.StatusInternalServerError:
			return KindServer
		}
		return KindUnknown
	}
	var ne *NetworkError
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

const (
	MsgBadRequest   = "요청 데이터가 올바르지 않습니다."
	MsgUnauthorized = "로그인이 필요합니다."
	MsgForbidden    = "권한이 없습니다."
	MsgNotFound     = "요청한 정보를 찾을 수 없습니다."
	MsgServer       = "서버 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	MsgNetwork      = "네트워크 연결을 확인해주세요."
	MsgUnknown      = "알 수 없는 오류가 발생했습니다."
)

// Message is the user-facing Korean text for err. The backend's own message
// wins for client errors since it is already written for end users.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" && se.StatusCode < http.StatusInternalServerError {
		return se.Message
	}
	switch KindOf(err) {
	case KindValidation:
		return MsgBadRequest
	case KindUnauthorized:
		return MsgUnauthorized
	case KindForbidden:
		return MsgForbidden
	case KindNotFound:
		return MsgNotFound
	case KindServer:
		return MsgServer
	case KindNetwork:
		return MsgNetwork
	default:
		return MsgUnknown
	}
}
