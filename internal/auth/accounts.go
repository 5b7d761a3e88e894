// Package auth signs users in and out against the backend's email/password
// session and guards pages that need a user.
package auth

import (
	"context"
	"errors"
	"fmt"

	"veganagain/internal/backend"
	"veganagain/internal/restaurants"
	"veganagain/internal/restaurants/types"
)

var ErrNotAuthenticated = errors.New("not authenticated")

const (
	MsgBadCredentials = "이메일 또는 비밀번호가 올바르지 않습니다."
	MsgSignedUp       = "회원가입이 완료되었습니다. 로그인해주세요."
	MsgSignedOut      = "로그아웃되었습니다."
)

// Accounts is the account side of the backend.
type Accounts interface {
	Login(ctx context.Context, email, password string) (types.UserProfile, error)
	Signup(ctx context.Context, form SignupForm) error
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (types.UserProfile, error)
	UpdateProfile(ctx context.Context, update types.ProfileUpdate) (types.UserProfile, error)
}

type accountBackend interface {
	Login(ctx context.Context, email, password string) (*backend.Envelope, error)
	Signup(ctx context.Context, s backend.Signup) (*backend.Envelope, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (*backend.Envelope, error)
	UpdateProfile(ctx context.Context, update backend.ProfileUpdate) (*backend.Envelope, error)
}

// API implements Accounts over the backend REST API. Credentials travel in
// the request context, see backend.WithCredentials.
type API struct {
	backend accountBackend
}

var _ Accounts = (*API)(nil)

func NewAPI(b accountBackend) *API {
	return &API{backend: b}
}

func (a *API) Login(ctx context.Context, email, password string) (types.UserProfile, error) {
	env, err := a.backend.Login(ctx, email, password)
	if err != nil {
		return types.UserProfile{}, err
	}
	raw := env.User
	if len(raw) == 0 {
		raw = env.Data
	}
	user, err := restaurants.NormalizeProfile(raw)
	if err == nil {
		return user, nil
	}
	// some deployments only set the cookie; ask for the profile instead.
	return a.Profile(ctx)
}

func (a *API) Signup(ctx context.Context, form SignupForm) error {
	_, err := a.backend.Signup(ctx, backend.Signup{
		Email:           form.Email,
		Password:        form.Password,
		PasswordConfirm: form.PasswordConfirm,
		Nickname:        form.Nickname,
	})
	return err
}

func (a *API) Logout(ctx context.Context) error {
	return a.backend.Logout(ctx)
}

func (a *API) Profile(ctx context.Context) (types.UserProfile, error) {
	env, err := a.backend.Profile(ctx)
	if err != nil {
		return types.UserProfile{}, err
	}
	user, err := restaurants.NormalizeProfile(env.Data)
	if err != nil {
		return types.UserProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	return user, nil
}

func (a *API) UpdateProfile(ctx context.Context, update types.ProfileUpdate) (types.UserProfile, error) {
	body := backend.ProfileUpdate{Nickname: update.Nickname, Bio: update.Bio}
	switch {
	case update.ProfileImage != "":
		body.ProfileImage = &update.ProfileImage
	case update.RemoveImage:
		body.ProfileImage = new(string)
	}
	env, err := a.backend.UpdateProfile(ctx, body)
	if err != nil {
		return types.UserProfile{}, err
	}
	if user, err := restaurants.NormalizeProfile(env.Data); err == nil {
		return user, nil
	}
	return a.Profile(ctx)
}
