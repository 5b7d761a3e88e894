// Package geo tracks the browser geolocation flow for a session.
//
// The browser reports permission and position results to the server; State
// moves idle -> requesting -> granted | denied | unavailable | timeout and can
// be re-requested from any state.
package geo

import (
	"errors"
	"time"

	"veganagain/internal/restaurants/types"
)

type Status string

const (
	StatusIdle        Status = "idle"
	StatusRequesting  Status = "requesting"
	StatusGranted     Status = "granted"
	StatusDenied      Status = "denied"
	StatusUnavailable Status = "unavailable"
	StatusTimeout     Status = "timeout"
)

// Permission mirrors the Permissions API states. The zero value means the
// browser could not answer the query.
type Permission string

const (
	PermissionUnknown Permission = ""
	PermissionPrompt  Permission = "prompt"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ErrorCode follows GeolocationPositionError codes. CodeUnsupported is used
// when navigator.geolocation is missing.
type ErrorCode int

const (
	CodeUnsupported         ErrorCode = 0
	CodePermissionDenied    ErrorCode = 1
	CodePositionUnavailable ErrorCode = 2
	CodeTimeout             ErrorCode = 3
)

const (
	MsgUnsupported = "이 브라우저는 위치 서비스를 지원하지 않습니다."
	MsgDenied      = "위치 정보 접근이 거부되었습니다."
	MsgUnavailable = "위치 정보를 사용할 수 없습니다."
	MsgTimeout     = "위치 정보 요청 시간이 초과되었습니다."
)

// Timeout is passed to getCurrentPosition and used to expire stale requests.
const Timeout = 10 * time.Second

var ErrInvalidPosition = errors.New("position out of range")

type State struct {
	Status      Status          `json:"status"`
	Permission  Permission      `json:"permission,omitempty"`
	Location    *types.Location `json:"location,omitempty"`
	Accuracy    float64         `json:"accuracy,omitempty"`
	Error       string          `json:"error,omitempty"`
	RequestedAt time.Time       `json:"requestedAt,omitzero"`
	UpdatedAt   time.Time       `json:"updatedAt,omitzero"`
}

func New() State {
	return State{Status: StatusIdle}
}

func ParsePermission(raw string) Permission {
	switch p := Permission(raw); p {
	case PermissionPrompt, PermissionGranted, PermissionDenied:
		return p
	}
	return PermissionUnknown
}

// CheckPermission records the permission query result. A denied permission
// settles an idle state without asking the browser.
func (s State) CheckPermission(p Permission) State {
	s.Permission = p
	if p == PermissionDenied && (s.Status == StatusIdle || s.Status == "") {
		s.Status = StatusDenied
		s.Error = MsgDenied
	}
	return s
}

// RequestLocation starts a request. Calling it while a request is already
// outstanding keeps the original start time.
func (s State) RequestLocation(now time.Time) State {
	if s.Status == StatusRequesting {
		return s
	}
	s.Status = StatusRequesting
	s.Error = ""
	s.RequestedAt = now
	return s
}

// Resolve records a successful fix. Out of range coordinates count as an
// unavailable position.
func (s State) Resolve(loc types.Location, accuracy float64, now time.Time) (State, error) {
	if !loc.Valid() {
		return s.Fail(CodePositionUnavailable, now), ErrInvalidPosition
	}
	s.Status = StatusGranted
	s.Permission = PermissionGranted
	s.Location = &loc
	s.Accuracy = accuracy
	s.Error = ""
	s.UpdatedAt = now
	return s, nil
}

// Fail records a failed request. The last good location is dropped so the
// map falls back to the default center.
func (s State) Fail(code ErrorCode, now time.Time) State {
	switch code {
	case CodePermissionDenied:
		s.Status, s.Error = StatusDenied, MsgDenied
		s.Permission = PermissionDenied
	case CodePositionUnavailable:
		s.Status, s.Error = StatusUnavailable, MsgUnavailable
	case CodeTimeout:
		s.Status, s.Error = StatusTimeout, MsgTimeout
	default:
		s.Status, s.Error = StatusUnavailable, MsgUnsupported
	}
	s.Location = nil
	s.Accuracy = 0
	s.UpdatedAt = now
	return s
}

// Expire turns a request the browser never answered into a timeout.
func (s State) Expire(now time.Time) State {
	if s.Status == StatusRequesting && now.Sub(s.RequestedAt) > Timeout {
		return s.Fail(CodeTimeout, now)
	}
	return s
}

func (s State) Granted() bool {
	return s.Status == StatusGranted && s.Location != nil
}

// Center is the user's position when granted, otherwise Seoul City Hall.
func (s State) Center() types.Location {
	if s.Granted() {
		return *s.Location
	}
	return types.DefaultLocation
}

// ShouldPrompt reports whether the one-time location prompt may be shown.
func (s State) ShouldPrompt(alreadyPrompted bool) bool {
	if alreadyPrompted {
		return false
	}
	if s.Permission == PermissionGranted || s.Permission == PermissionDenied {
		return false
	}
	return s.Status == StatusIdle || s.Status == ""
}
