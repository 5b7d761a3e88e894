package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"veganagain/internal/backend"
	"veganagain/internal/restaurants"
	"veganagain/internal/restaurants/types"
)

const (
	MockEmail    = "vegan@example.com"
	MockPassword = "password123"
)

type mockAccount struct {
	password string
	profile  types.UserProfile
}

// Mock keeps accounts in memory. The last account to log in is the one
// Profile reports, which is enough for a single developer browser.
type Mock struct {
	mu       sync.Mutex
	accounts map[string]*mockAccount
	current  string
	next     int
}

var _ Accounts = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{
		accounts: map[string]*mockAccount{
			MockEmail: {
				password: MockPassword,
				profile:  types.UserProfile{UserID: restaurants.MockUserID, Email: MockEmail, Nickname: "목업 사용자"},
			},
		},
	}
}

func (m *Mock) Login(_ context.Context, email, password string) (types.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	acct, ok := m.accounts[email]
	if !ok || acct.password != password {
		return types.UserProfile{}, &backend.StatusError{Operation: "login", StatusCode: http.StatusUnauthorized}
	}
	m.current = email
	return acct.profile, nil
}

func (m *Mock) Signup(_ context.Context, form SignupForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(form.Email)
	if _, ok := m.accounts[email]; ok {
		return &backend.StatusError{Operation: "signup", StatusCode: http.StatusConflict, Message: "이미 가입된 이메일입니다."}
	}
	m.next++
	m.accounts[email] = &mockAccount{
		password: form.Password,
		profile:  types.UserProfile{UserID: fmt.Sprintf("mock-user-%d", m.next), Email: email, Nickname: form.Nickname},
	}
	return nil
}

func (m *Mock) Logout(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ""
	return nil
}

func (m *Mock) Profile(context.Context) (types.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[m.current]
	if !ok {
		return types.UserProfile{}, &backend.StatusError{Operation: "get_profile", StatusCode: http.StatusUnauthorized}
	}
	return acct.profile, nil
}

func (m *Mock) UpdateProfile(_ context.Context, update types.ProfileUpdate) (types.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[m.current]
	if !ok {
		return types.UserProfile{}, &backend.StatusError{Operation: "update_profile", StatusCode: http.StatusUnauthorized}
	}
	acct.profile.Nickname = update.Nickname
	acct.profile.Bio = update.Bio
	switch {
	case update.ProfileImage != "":
		acct.profile.ProfileImage = update.ProfileImage
	case update.RemoveImage:
		acct.profile.ProfileImage = ""
	}
	return acct.profile, nil
}
