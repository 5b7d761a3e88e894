package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veganagain/internal/backend"
	"veganagain/internal/cache"
	"veganagain/internal/config"
	"veganagain/internal/restaurants/types"
	"veganagain/internal/session"
	"veganagain/internal/templates"
)

var templatesOnce sync.Once

func initTemplates(t *testing.T) {
	t.Helper()
	templatesOnce.Do(func() {
		require.NoError(t, templates.Init(&config.Config{}))
	})
}

func TestValidateSignup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		form  SignupForm
		field string
		msg   string
	}{
		{"bad email", SignupForm{Email: "nope", Nickname: "a", Password: "password1", PasswordConfirm: "password1"}, "email", MsgEmailInvalid},
		{"short password", SignupForm{Email: "a@b.co", Nickname: "a", Password: "short", PasswordConfirm: "short"}, "password", MsgPasswordTooShort},
		{"long password", SignupForm{Email: "a@b.co", Nickname: "a", Password: strings.Repeat("x", 129), PasswordConfirm: strings.Repeat("x", 129)}, "password", MsgPasswordTooLong},
		{"mismatch", SignupForm{Email: "a@b.co", Nickname: "a", Password: "password1", PasswordConfirm: "password2"}, "password_confirm", MsgPasswordMismatch},
		{"blank nickname", SignupForm{Email: "a@b.co", Nickname: "   ", Password: "password1", PasswordConfirm: "password1"}, "nickname", MsgNicknameRequired},
		{"long nickname", SignupForm{Email: "a@b.co", Nickname: strings.Repeat("가", 51), Password: "password1", PasswordConfirm: "password1"}, "nickname", MsgNicknameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			form := tt.form
			var verr ValidationError
			require.ErrorAs(t, ValidateSignup(&form), &verr)
			assert.Equal(t, tt.msg, verr[tt.field])
		})
	}

	ok := SignupForm{Email: " a@b.co ", Nickname: " 채식러 ", Password: "password1", PasswordConfirm: "password1"}
	require.NoError(t, ValidateSignup(&ok))
	assert.Equal(t, "a@b.co", ok.Email)
	assert.Equal(t, "채식러", ok.Nickname)
}

func TestValidateProfile(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateProfile("닉", strings.Repeat("가", MaxBio)))
	var verr ValidationError
	require.ErrorAs(t, ValidateProfile("닉", strings.Repeat("가", MaxBio+1)), &verr)
	assert.Equal(t, MsgBioTooLong, verr.First())
}

type fakeAccounts struct {
	*Mock
	profileErr error
	calls      int
}

func (f *fakeAccounts) Profile(ctx context.Context) (types.UserProfile, error) {
	f.calls++
	if f.profileErr != nil {
		return types.UserProfile{}, f.profileErr
	}
	return types.UserProfile{UserID: "u1"}, nil
}

func TestRestore(t *testing.T) {
	t.Parallel()
	now := time.Now()
	withCreds := backend.WithCredentials(context.Background(), backend.NewCredentials(map[string]string{"sid": "x"}))
	noCreds := backend.WithCredentials(context.Background(), backend.NewCredentials(nil))

	tests := []struct {
		name  string
		ctx   context.Context
		err   error
		want  session.AuthStatus
		calls int
	}{
		{"no credentials", noCreds, nil, session.AuthAnonymous, 0},
		{"valid credentials", withCreds, nil, session.AuthAuthenticated, 1},
		{"expired credentials", withCreds, &backend.StatusError{StatusCode: http.StatusUnauthorized}, session.AuthAnonymous, 1},
		{"backend down", withCreds, &backend.NetworkError{Operation: "get_profile", Err: errors.New("refused")}, session.AuthUnknown, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, err := session.NewStore(cache.NewInMemoryCache(), config.SessionConfig{})
			require.NoError(t, err)
			st := store.New()
			accts := &fakeAccounts{Mock: NewMock(), profileErr: tt.err}
			Restore(tt.ctx, st, accts, now)
			assert.Equal(t, tt.want, st.Auth.Status)
			assert.Equal(t, tt.calls, accts.calls)

			// resolved sessions are not asked again.
			if tt.want != session.AuthUnknown {
				Restore(tt.ctx, st, accts, now)
				assert.Equal(t, tt.calls, accts.calls)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	t.Parallel()
	initTemplates(t)
	guard := NewGuard(NewMock())
	protected := guard.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secret"))
	})

	serve := func(status session.AuthStatus, htmx bool) *httptest.ResponseRecorder {
		st := &session.State{Auth: session.Auth{Status: status}}
		if status == session.AuthAuthenticated {
			st.Auth.User = &types.UserProfile{UserID: "u1"}
		}
		req := httptest.NewRequest(http.MethodGet, "/mypage?tab=reviews", nil)
		if htmx {
			req.Header.Set("HX-Request", "true")
		}
		req = req.WithContext(session.WithState(req.Context(), st))
		rr := httptest.NewRecorder()
		protected(rr, req)
		return rr
	}

	rr := serve(session.AuthUnknown, false)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "로그인 상태를 확인하고 있습니다")
	assert.NotContains(t, rr.Body.String(), "secret")

	rr = serve(session.AuthAnonymous, false)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?next="+url.QueryEscape("/mypage?tab=reviews"), rr.Header().Get("Location"))

	rr = serve(session.AuthAnonymous, true)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("HX-Redirect"), "/login?next="))

	rr = serve(session.AuthAuthenticated, false)
	assert.Equal(t, "secret", rr.Body.String())
}

// browser replays the session cookie like a real client.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func (b *browser) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.Name == session.CookieName {
			b.cookie = c
		}
	}
	return rr
}

func newBrowser(t *testing.T) (*browser, *session.Store) {
	t.Helper()
	initTemplates(t)
	store, err := session.NewStore(cache.NewInMemoryCache(), config.SessionConfig{})
	require.NoError(t, err)
	accounts := NewMock()
	mux := http.NewServeMux()
	NewHandler(store, accounts).Register(mux)
	guard := NewGuard(accounts)
	mux.HandleFunc("GET /mypage", guard.RequireUser(func(w http.ResponseWriter, r *http.Request) {
		user, _ := session.FromContext(r.Context()).User()
		_, _ = w.Write([]byte("hello " + user.Nickname))
	}))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(session.FromContext(r.Context()).TakeFlash()))
	})
	return &browser{t: t, handler: store.Middleware(guard.Restore(mux))}, store
}

func TestLoginFlow(t *testing.T) {
	t.Parallel()
	b, _ := newBrowser(t)

	rr := b.do(http.MethodGet, "/mypage", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?next=%2Fmypage", rr.Header().Get("Location"))

	rr = b.do(http.MethodPost, "/login", url.Values{"email": {"not-an-email"}, "password": {"x"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), MsgEmailInvalid)

	rr = b.do(http.MethodPost, "/login", url.Values{"email": {MockEmail}, "password": {"wrong-password"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), MsgBadCredentials)

	before := b.cookie.Value
	rr = b.do(http.MethodPost, "/login", url.Values{"email": {MockEmail}, "password": {MockPassword}, "next": {"/mypage"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/mypage", rr.Header().Get("Location"))
	assert.NotEqual(t, before, b.cookie.Value, "login rotates the session id")

	rr = b.do(http.MethodGet, "/mypage", nil)
	assert.Equal(t, "hello 목업 사용자", rr.Body.String())

	rr = b.do(http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	rr = b.do(http.MethodGet, "/", nil)
	assert.Equal(t, MsgSignedOut, rr.Body.String())
	rr = b.do(http.MethodGet, "/mypage", nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
}

func TestLoginRejectsOffsiteNext(t *testing.T) {
	t.Parallel()
	b, _ := newBrowser(t)
	rr := b.do(http.MethodPost, "/login", url.Values{"email": {MockEmail}, "password": {MockPassword}, "next": {"//evil.example"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
}

func TestSignupFlow(t *testing.T) {
	t.Parallel()
	b, _ := newBrowser(t)

	rr := b.do(http.MethodPost, "/signup", url.Values{
		"email": {"new@b.co"}, "nickname": {"새싹"}, "password": {"password1"}, "password_confirm": {"password2"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), MsgPasswordMismatch)
	assert.Contains(t, rr.Body.String(), `value="new@b.co"`)

	form := url.Values{"email": {"new@b.co"}, "nickname": {"새싹"}, "password": {"password1"}, "password_confirm": {"password1"}}
	rr = b.do(http.MethodPost, "/signup", form)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	rr = b.do(http.MethodGet, "/login", nil)
	assert.Contains(t, rr.Body.String(), MsgSignedUp)

	rr = b.do(http.MethodPost, "/signup", form)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "이미 가입된 이메일입니다.")

	rr = b.do(http.MethodPost, "/login", url.Values{"email": {"new@b.co"}, "password": {"password1"}})
	assert.Equal(t, http.StatusSeeOther, rr.Code)
}

type stubBackend struct {
	loginEnv   *backend.Envelope
	profileEnv *backend.Envelope
}

func (s *stubBackend) Login(context.Context, string, string) (*backend.Envelope, error) {
	return s.loginEnv, nil
}
func (s *stubBackend) Signup(context.Context, backend.Signup) (*backend.Envelope, error) {
	return &backend.Envelope{}, nil
}
func (s *stubBackend) Logout(context.Context) error { return nil }
func (s *stubBackend) Profile(context.Context) (*backend.Envelope, error) {
	return s.profileEnv, nil
}
func (s *stubBackend) UpdateProfile(context.Context, backend.ProfileUpdate) (*backend.Envelope, error) {
	return &backend.Envelope{}, nil
}

func TestAPILoginReadsUserPayload(t *testing.T) {
	t.Parallel()
	api := NewAPI(&stubBackend{loginEnv: &backend.Envelope{User: []byte(`{"user_id":"u9","email":"a@b.co","nickname":"구구"}`)}})
	user, err := api.Login(context.Background(), "a@b.co", "password1")
	require.NoError(t, err)
	assert.Equal(t, "u9", user.UserID)

	// without a user payload the profile endpoint is consulted.
	api = NewAPI(&stubBackend{
		loginEnv:   &backend.Envelope{},
		profileEnv: &backend.Envelope{Data: []byte(`{"userId":"u10","email":"c@d.co"}`)},
	})
	user, err = api.Login(context.Background(), "c@d.co", "password1")
	require.NoError(t, err)
	assert.Equal(t, "u10", user.UserID)
}

func TestAPIUpdateProfileImageField(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/users/profile", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"data":{"userId":"u1","email":"a@b.co","nickname":"새이름"}}`)
	}))
	t.Cleanup(srv.Close)
	client, err := backend.NewClient(config.BackendConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	api := NewAPI(client)

	updates := []types.ProfileUpdate{
		{Nickname: "새이름", Bio: "소개"},
		{Nickname: "새이름", ProfileImage: "https://img/p.png", RemoveImage: true},
		{Nickname: "새이름", RemoveImage: true},
	}
	for _, u := range updates {
		user, err := api.UpdateProfile(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, "새이름", user.Nickname)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 3)
	assert.NotContains(t, bodies[0], "profileImage", "a text-only edit keeps the photo")
	assert.Equal(t, "소개", bodies[0]["bio"])
	assert.Equal(t, "https://img/p.png", bodies[1]["profileImage"])
	assert.Contains(t, bodies[2], "profileImage")
	assert.Equal(t, "", bodies[2]["profileImage"])
}
