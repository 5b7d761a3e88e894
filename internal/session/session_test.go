package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veganagain/internal/backend"
	"veganagain/internal/cache"
	"veganagain/internal/config"
	"veganagain/internal/filters"
	"veganagain/internal/restaurants/types"
)

func newTestStore(t *testing.T, c cache.ListCache) *Store {
	t.Helper()
	s, err := NewStore(c, config.SessionConfig{TTL: time.Hour})
	require.NoError(t, err)
	return s
}

func TestSaveLoadEncrypted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	s := newTestStore(t, c)
	require.NoError(t, s.Init(ctx))

	st := s.New()
	st.Filters = st.Filters.SetSearchText("비밀김밥")
	st.SignIn(types.UserProfile{UserID: "u1", Email: "a@b.co"}, time.Now())
	require.NoError(t, s.Save(ctx, st))

	raw, err := cache.GetString(ctx, c, keyPrefix+st.ID)
	require.NoError(t, err)
	assert.Contains(t, raw, "BEGIN AGE ENCRYPTED FILE")
	assert.NotContains(t, raw, "비밀김밥")

	got, err := s.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "비밀김밥", got.Filters.Text)
	user, ok := got.User()
	require.True(t, ok)
	assert.Equal(t, "u1", user.UserID)
}

func TestLoadFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	s := newTestStore(t, c)

	_, err := s.Load(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNoSession)

	st := s.New()
	require.NoError(t, s.Save(ctx, st))

	other := newTestStore(t, c)
	_, err = other.Load(ctx, st.ID)
	assert.ErrorIs(t, err, ErrNoSession, "a different key cannot read the session")

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Load(ctx, st.ID)
	assert.ErrorIs(t, err, ErrNoSession, "expired")
}

func TestNewStoreRejectsBadIdentity(t *testing.T) {
	t.Parallel()
	_, err := NewStore(cache.NewInMemoryCache(), config.SessionConfig{AgeIdentity: "not-a-key"})
	assert.Error(t, err)
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return nil
}

func TestMiddlewareSavesOnlyOnChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	s := newTestStore(t, c)

	var mutate bool
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := FromContext(r.Context())
		require.NotNil(t, st)
		require.NotNil(t, backend.CredentialsFrom(r.Context()))
		if mutate {
			st.LocationPrompted = true
		}
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := sessionCookie(t, rr.Result())
	require.NotNil(t, cookie, "fresh sessions get a cookie")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "unchanged fresh session is not stored")

	mutate = true
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	ids, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// the first session was never stored, so a new id was issued.
	saved, err := s.Load(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, saved.LocationPrompted)

	next := sessionCookie(t, rr.Result())
	require.NotNil(t, next)
	mutate = false
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(next)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Nil(t, sessionCookie(t, rr.Result()), "existing sessions keep their cookie")
}

func TestMiddlewareRefreshesIdleSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := NewStore(cache.NewInMemoryCache(), config.SessionConfig{TTL: 7 * 24 * time.Hour})
	require.NoError(t, err)
	start := time.Now()
	s.now = func() time.Time { return start }
	st := s.New()
	require.NoError(t, s.Save(ctx, st))

	var seen []string
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, FromContext(r.Context()).ID)
	}))
	browse := func(at time.Time) *http.Cookie {
		s.now = func() time.Time { return at }
		req := httptest.NewRequest(http.MethodGet, "/restaurants/1", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: st.ID})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return sessionCookie(t, rr.Result())
	}

	assert.Nil(t, browse(start.Add(time.Hour)), "recently saved sessions are not rewritten")

	cookie := browse(start.Add(2 * 24 * time.Hour))
	require.NotNil(t, cookie)
	assert.Equal(t, st.ID, cookie.Value)

	// eight days after the only real change the session is still in use.
	s.now = func() time.Time { return start.Add(8 * 24 * time.Hour) }
	got, err := s.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, start.Add(2*24*time.Hour), got.UpdatedAt, time.Second)
	assert.Equal(t, []string{st.ID, st.ID}, seen)
}

func TestMiddlewarePersistsBackendCookies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, cache.NewInMemoryCache())

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "backend-session"})
		_, _ = w.Write([]byte(`{"success":true,"user":{"user_id":"u1"}}`))
	}))
	t.Cleanup(api.Close)
	client, err := backend.NewClient(config.BackendConfig{BaseURL: api.URL, HTTPClient: api.Client()})
	require.NoError(t, err)

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := client.Login(r.Context(), "a@b.co", "password1")
		require.NoError(t, err)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	cookie := sessionCookie(t, rr.Result())
	require.NotNil(t, cookie)
	st, err := s.Load(ctx, cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sid": "backend-session"}, st.BackendCookies)
}

func TestMiddlewareSkipsOpsPaths(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, cache.NewInMemoryCache())
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, FromContext(r.Context()))
	}))
	for _, p := range []string{"/ready", "/metrics", "/static/app.css"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Nil(t, sessionCookie(t, rr.Result()), p)
	}
}

func TestRotateAndPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	s := newTestStore(t, c)

	st := s.New()
	require.NoError(t, s.Save(ctx, st))
	old := st.ID
	rr := httptest.NewRecorder()
	s.Rotate(ctx, rr, st)
	assert.NotEqual(t, old, st.ID)
	assert.Equal(t, st.ID, sessionCookie(t, rr.Result()).Value)
	_, err := s.Load(ctx, old)
	assert.ErrorIs(t, err, ErrNoSession)
	require.NoError(t, s.Save(ctx, st))

	stale := s.New()
	require.NoError(t, s.Save(ctx, stale))
	require.NoError(t, c.Put(ctx, keyPrefix+"garbage", "not age", cache.PutOptions{}))

	// age the stale one by saving it with a clock in the past.
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	require.NoError(t, s.Save(ctx, stale))
	s.now = time.Now

	removed, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{st.ID}, ids)
}

func TestFlashAndResults(t *testing.T) {
	t.Parallel()
	st := newState(time.Now())
	st.Flash = "회원가입이 완료되었습니다."
	assert.Equal(t, "회원가입이 완료되었습니다.", st.TakeFlash())
	assert.Empty(t, st.TakeFlash())

	cafe := filters.Filters{Text: "두부", Categories: []types.Category{types.Cafe}}
	st.RememberResults(cafe, make([]types.Restaurant, 3))
	list, ok := st.CachedResults(filters.Filters{Text: "두부", Categories: []types.Category{types.Cafe}})
	assert.True(t, ok)
	assert.Len(t, list, 3)
	_, ok = st.CachedResults(filters.Filters{Text: "두부"})
	assert.False(t, ok)

	// a truncated set never answers a search.
	st.RememberResults(cafe, make([]types.Restaurant, MaxResults+5))
	assert.Len(t, st.LastResults, MaxResults)
	_, ok = st.CachedResults(cafe)
	assert.False(t, ok)

	st.RememberResults(cafe, nil)
	st.SignIn(types.UserProfile{UserID: "u1"}, time.Now())
	_, ok = st.CachedResults(cafe)
	assert.False(t, ok, "bookmark flags change with the user")

	st.SignOut(time.Now())
	_, ok = st.User()
	assert.False(t, ok)
	assert.Equal(t, AuthAnonymous, st.Auth.Status)
}

func TestSafeNext(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                   "/",
		"/mypage":            "/mypage",
		"/restaurants/3?x=1": "/restaurants/3?x=1",
		"//evil.example":     "/",
		"https://evil.com":   "/",
		"/\\evil.example":    "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeNext(in), in)
	}
}

func TestPageConsumesFlash(t *testing.T) {
	t.Parallel()
	st := newState(time.Now())
	st.Flash = "저장되었습니다."
	st.SignIn(types.UserProfile{UserID: "u1", Nickname: "채식러"}, time.Now())
	p := st.Page("홈")
	assert.Equal(t, "저장되었습니다.", p.Flash)
	require.NotNil(t, p.User)
	assert.Equal(t, "채식러", p.User.Nickname)
	assert.Empty(t, st.Page("홈").Flash)
}
