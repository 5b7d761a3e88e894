package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MsgEmailInvalid     = "올바른 이메일 형식이 아닙니다."
	MsgPasswordTooShort = "비밀번호는 최소 8자 이상이어야 합니다."
	MsgPasswordTooLong  = "비밀번호는 최대 128자까지 가능합니다."
	MsgPasswordMismatch = "비밀번호가 일치하지 않습니다."
	MsgPasswordRequired = "비밀번호를 입력해주세요."
	MsgNicknameRequired = "닉네임을 입력해주세요."
	MsgNicknameTooLong  = "닉네임은 최대 50자까지 가능합니다."
	MsgBioTooLong       = "소개는 최대 500자까지 가능합니다."

	MaxNickname = 50
	MaxBio      = 500
	minPassword = 8
	maxPassword = 128
)

var emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError maps form fields to messages. It is returned before any
// backend call is made.
type ValidationError map[string]string

func (v ValidationError) Error() string {
	var parts []string
	for field, msg := range v {
		parts = append(parts, field+": "+msg)
	}
	return "invalid form: " + strings.Join(parts, "; ")
}

func (v ValidationError) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

type SignupForm struct {
	Email           string
	Nickname        string
	Password        string
	PasswordConfirm string
}

func ValidateLogin(email, password string) error {
	errs := ValidationError{}
	if !emailRE.MatchString(strings.TrimSpace(email)) {
		errs["email"] = MsgEmailInvalid
	}
	if password == "" {
		errs["password"] = MsgPasswordRequired
	}
	return errs.orNil()
}

// ValidateSignup trims the email and nickname in place.
func ValidateSignup(form *SignupForm) error {
	form.Email = strings.TrimSpace(form.Email)
	form.Nickname = strings.TrimSpace(form.Nickname)
	errs := ValidationError{}
	if !emailRE.MatchString(form.Email) {
		errs["email"] = MsgEmailInvalid
	}
	if msg := nicknameMessage(form.Nickname); msg != "" {
		errs["nickname"] = msg
	}
	switch n := utf8.RuneCountInString(form.Password); {
	case n < minPassword:
		errs["password"] = MsgPasswordTooShort
	case n > maxPassword:
		errs["password"] = MsgPasswordTooLong
	}
	if form.Password != form.PasswordConfirm {
		errs["password_confirm"] = MsgPasswordMismatch
	}
	return errs.orNil()
}

func nicknameMessage(nickname string) string {
	switch n := utf8.RuneCountInString(nickname); {
	case n == 0:
		return MsgNicknameRequired
	case n > MaxNickname:
		return MsgNicknameTooLong
	}
	return ""
}

// ValidateProfile checks the editable profile fields.
func ValidateProfile(nickname, bio string) error {
	errs := ValidationError{}
	if msg := nicknameMessage(strings.TrimSpace(nickname)); msg != "" {
		errs["nickname"] = msg
	}
	if utf8.RuneCountInString(bio) > MaxBio {
		errs["bio"] = MsgBioTooLong
	}
	return errs.orNil()
}

// First returns one message for places that only show a single line.
func (v ValidationError) First() string {
	for _, field := range []string{"email", "nickname", "password", "password_confirm", "bio"} {
		if msg, ok := v[field]; ok {
			return msg
		}
	}
	for _, msg := range v {
		return msg
	}
	return ""
}
