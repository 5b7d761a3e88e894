package restaurants

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
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
	"veganagain/internal/images"
	"veganagain/internal/restaurants/types"
	"veganagain/internal/reviews"
	"veganagain/internal/session"
	"veganagain/internal/templates"
)

var templatesOnce sync.Once

type harness struct {
	t       *testing.T
	store   *session.Store
	srv     *server
	handler http.Handler
	cookie  *http.Cookie
}

func newHarness(t *testing.T, repo Repository, signedIn bool) *harness {
	t.Helper()
	templatesOnce.Do(func() {
		require.NoError(t, templates.Init(&config.Config{}))
	})
	store, err := session.NewStore(cache.NewInMemoryCache(), config.SessionConfig{})
	require.NoError(t, err)
	srv := NewHandler(&config.Config{}, repo, images.Inline{})
	mux := http.NewServeMux()
	srv.Register(mux)

	st := store.New()
	if signedIn {
		st.SignIn(types.UserProfile{UserID: MockUserID, Nickname: "목업 사용자"}, time.Now())
	} else {
		st.SignOut(time.Now())
	}
	require.NoError(t, store.Save(context.Background(), st))
	return &harness{
		t:       t,
		store:   store,
		srv:     srv,
		handler: store.Middleware(mux),
		cookie:  &http.Cookie{Name: session.CookieName, Value: st.ID},
	}
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	h.t.Helper()
	req.AddCookie(h.cookie)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) state() *session.State {
	h.t.Helper()
	st, err := h.store.Load(context.Background(), h.cookie.Value)
	require.NoError(h.t, err)
	return st
}

func htmxForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	return req
}

func TestDetailPage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, NewMock(), false)

	for _, path := range []string{"/restaurants/1", "/restaurants/rest-1"} {
		rr := h.serve(httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
		body := rr.Body.String()
		assert.Contains(t, body, "풀잎채 비건 키친")
		assert.Contains(t, body, "버섯 비빔밥")
		assert.Contains(t, body, "아직 분석되지 않음")
		assert.Contains(t, body, "비빔밥이 정말 맛있어요.")
		assert.Contains(t, body, "로그인하고 찜하기")
	}

	rr := h.serve(httptest.NewRequest(http.MethodGet, "/restaurants/999", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = h.serve(httptest.NewRequest(http.MethodGet, "/restaurants/abc", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type flakyRepo struct {
	*Mock
	reviewsErr error
	menusErr   error
	markErr    error
}

func (f *flakyRepo) GetReviews(ctx context.Context, id int64) ([]types.Review, error) {
	if f.reviewsErr != nil {
		return nil, f.reviewsErr
	}
	return f.Mock.GetReviews(ctx, id)
}

func (f *flakyRepo) GetMenus(ctx context.Context, id int64) ([]types.Menu, error) {
	if f.menusErr != nil {
		return nil, f.menusErr
	}
	return f.Mock.GetMenus(ctx, id)
}

func (f *flakyRepo) IsBookmarked(ctx context.Context, id int64) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	return f.Mock.IsBookmarked(ctx, id)
}

func TestDetailSurvivesPartialFailure(t *testing.T) {
	t.Parallel()
	repo := &flakyRepo{Mock: NewMock(), reviewsErr: errors.New("reviews down")}
	h := newHarness(t, repo, true)

	rr := h.serve(httptest.NewRequest(http.MethodGet, "/restaurants/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, MsgReviewsFailed)
	assert.Contains(t, body, "버섯 비빔밥")
	assert.Contains(t, body, "찜하기")

	repo = &flakyRepo{Mock: NewMock(), menusErr: errors.New("menus down")}
	h = newHarness(t, repo, true)
	rr = h.serve(httptest.NewRequest(http.MethodGet, "/restaurants/1", nil))
	assert.Contains(t, rr.Body.String(), MsgMenusFailed)
	assert.Contains(t, rr.Body.String(), "비빔밥이 정말 맛있어요.")
}

func TestDetailSignsOutOnExpiredBackendSession(t *testing.T) {
	t.Parallel()
	repo := &flakyRepo{Mock: NewMock(), markErr: &backend.StatusError{StatusCode: http.StatusUnauthorized}}
	h := newHarness(t, repo, true)
	rr := h.serve(httptest.NewRequest(http.MethodGet, "/restaurants/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "로그인하고 찜하기")
	assert.Equal(t, session.AuthAnonymous, h.state().Auth.Status)
}

func TestBookmarkToggle(t *testing.T) {
	t.Parallel()
	repo := NewMock()
	h := newHarness(t, repo, true)

	rr := h.serve(htmxForm("/restaurants/2/bookmark", url.Values{"bookmarked": {"false"}}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), MsgBookmarkAdded)
	assert.Contains(t, rr.Body.String(), "찜 해제")
	marked, err := repo.IsBookmarked(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, marked)

	// a stale page that still shows "not bookmarked" adds again; the
	// duplicate resolves to bookmarked without an error.
	rr = h.serve(htmxForm("/restaurants/2/bookmark", url.Values{"bookmarked": {"false"}}))
	assert.Contains(t, rr.Body.String(), MsgBookmarkExists)
	assert.NotContains(t, rr.Body.String(), `class="error"`)

	rr = h.serve(htmxForm("/restaurants/2/bookmark", url.Values{"bookmarked": {"true"}}))
	assert.Contains(t, rr.Body.String(), MsgBookmarkRemoved)
}

func TestBookmarkToggleInFlight(t *testing.T) {
	t.Parallel()
	repo := NewMock()
	h := newHarness(t, repo, true)
	h.srv.inflight.Store(h.cookie.Value+":3", struct{}{})

	rr := h.serve(htmxForm("/restaurants/3/bookmark", url.Values{"bookmarked": {"false"}}))
	assert.Contains(t, rr.Body.String(), MsgToggleInFlight)
	marked, err := repo.IsBookmarked(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestBookmarkRequiresLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, NewMock(), false)
	rr := h.serve(htmxForm("/restaurants/2/bookmark", url.Values{"bookmarked": {"false"}}))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "/login?next=%2Frestaurants%2F2", rr.Header().Get("HX-Redirect"))

	req := httptest.NewRequest(http.MethodPost, "/restaurants/2/bookmark", nil)
	rr = h.serve(req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
}

func multipartReview(t *testing.T, target string, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("HX-Request", "true")
	return req
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func TestReviewValidationMakesNoBackendCall(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		fields map[string]string
		want   string
	}{
		{"empty", map[string]string{"content": "   ", "rating": "5"}, reviews.MsgEmpty},
		{"too long", map[string]string{"content": strings.Repeat("가", reviews.DefaultMaxLength+1), "rating": "5"}, "리뷰는 최대 2000자"},
		{"rating", map[string]string{"content": "맛있어요", "rating": "0"}, reviews.MsgRating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var (
				mu   sync.Mutex
				hits []string
			)
			api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				hits = append(hits, r.Method+" "+r.URL.Path)
				mu.Unlock()
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"success":true,"data":[]}`))
			}))
			t.Cleanup(api.Close)
			client, err := backend.NewClient(config.BackendConfig{BaseURL: api.URL, HTTPClient: api.Client()})
			require.NoError(t, err)
			h := newHarness(t, NewAPI(client, nil), true)

			rr := h.serve(multipartReview(t, "/restaurants/2/reviews", tt.fields, nil))
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.want)
			assert.Equal(t, "#review-form", rr.Header().Get("HX-Retarget"))
			assert.NotContains(t, rr.Body.String(), `id="reviews"`)

			mu.Lock()
			defer mu.Unlock()
			assert.Empty(t, hits)
		})
	}
}

func TestReviewValidationKeepsInput(t *testing.T) {
	t.Parallel()
	repo := NewMock()
	h := newHarness(t, repo, true)
	rr := h.serve(multipartReview(t, "/restaurants/2/reviews", map[string]string{"content": "맛있어요", "rating": "9"}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), reviews.MsgRating)
	assert.Contains(t, rr.Body.String(), "맛있어요</textarea>")
	list, err := repo.GetReviews(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReviewCreateWithImage(t *testing.T) {
	t.Parallel()
	repo := NewMock()
	h := newHarness(t, repo, true)

	rr := h.serve(multipartReview(t, "/restaurants/2/reviews", map[string]string{"content": " 두부가 고소해요 ", "rating": "4"}, pngHeader))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), MsgReviewCreated)
	assert.Contains(t, rr.Body.String(), "두부가 고소해요")

	list, err := repo.GetReviews(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "두부가 고소해요", list[0].Content)
	assert.Equal(t, 4, list[0].Rating)
	require.Len(t, list[0].Images, 1)
	assert.True(t, strings.HasPrefix(list[0].Images[0], "data:image/png;base64,"))
}

func TestReviewRejectsUnsupportedImage(t *testing.T) {
	t.Parallel()
	repo := NewMock()
	h := newHarness(t, repo, true)
	rr := h.serve(multipartReview(t, "/restaurants/2/reviews", map[string]string{"content": "좋아요", "rating": "5"}, []byte("plain text, not an image")))
	assert.Contains(t, rr.Body.String(), images.MsgUnsupported)
	list, err := repo.GetReviews(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

type expiredRepo struct{ *Mock }

func (expiredRepo) CreateReview(context.Context, int64, NewReview) error {
	return &backend.StatusError{Operation: "create review", StatusCode: http.StatusUnauthorized}
}

func TestReviewUnauthorizedRedirectsToLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, expiredRepo{NewMock()}, true)
	rr := h.serve(multipartReview(t, "/restaurants/2/reviews", map[string]string{"content": "좋아요", "rating": "5"}, nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "/login?next=%2Frestaurants%2F2", rr.Header().Get("HX-Redirect"))
	assert.Equal(t, session.AuthAnonymous, h.state().Auth.Status)
}
