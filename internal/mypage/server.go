// Package mypage serves the signed-in user's profile, bookmarks and reviews.
package mypage

import (
	"cmp"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"veganagain/internal/auth"
	"veganagain/internal/backend"
	"veganagain/internal/config"
	"veganagain/internal/images"
	"veganagain/internal/restaurants"
	"veganagain/internal/restaurants/types"
	"veganagain/internal/reviews"
	"veganagain/internal/session"
	"veganagain/internal/templates"
)

const (
	MsgProfileSaved     = "프로필이 저장되었습니다."
	MsgProfileFailed    = "프로필을 불러오지 못했습니다."
	MsgBookmarksFailed  = "찜 목록을 불러오지 못했습니다."
	MsgBookmarkRemoved  = "찜 목록에서 삭제되었습니다."
	MsgBookmarkNotFound = "찜 목록에 없는 식당입니다."
	MsgReviewsFailed    = "리뷰를 불러오지 못했습니다."
	MsgReviewUpdated    = "리뷰가 수정되었습니다."
	MsgReviewDeleted    = "리뷰가 삭제되었습니다."
	MsgReviewNotFound   = "리뷰를 찾을 수 없습니다."
)

const pagePath = "/mypage"

type server struct {
	repo      restaurants.Repository
	accounts  auth.Accounts
	images    images.Store
	guard     *auth.Guard
	maxImage  int64
	maxLength int
	now       func() time.Time
}

// NewHandler serves every /mypage route behind guard.
func NewHandler(cfg *config.Config, repo restaurants.Repository, accounts auth.Accounts, store images.Store, guard *auth.Guard) *server {
	maxImage := cfg.Images.MaxBytes
	if maxImage <= 0 {
		maxImage = images.DefaultMaxBytes
	}
	maxLength := cfg.Reviews.MaxContentLength
	if maxLength <= 0 {
		maxLength = reviews.DefaultMaxLength
	}
	return &server{
		repo:      repo,
		accounts:  accounts,
		images:    store,
		guard:     guard,
		maxImage:  maxImage,
		maxLength: maxLength,
		now:       time.Now,
	}
}

func (s *server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /mypage", s.guard.RequireUser(s.handlePage))
	mux.HandleFunc("POST /mypage/profile", s.guard.RequireUser(s.handleProfile))
	mux.HandleFunc("POST /mypage/bookmarks/{rid}/delete", s.guard.RequireUser(s.handleRemoveBookmark))
	mux.HandleFunc("POST /mypage/reviews/{id}", s.guard.RequireUser(s.handleEditReview))
	mux.HandleFunc("POST /mypage/reviews/{id}/delete", s.guard.RequireUser(s.handleDeleteReview))
}

type page struct {
	templates.Page
	Profile        types.UserProfile
	ProfileError   string
	ProfileNotice  string
	Bookmarks      []types.Bookmark
	BookmarksError string
	BookmarkNotice string
	BookmarkError  string
	Reviews        []types.Review
	ReviewsError   string
	ReviewNotice   string
	ReviewError    string
	MaxLength      int

	status int
}

func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, page{})
}

// render loads the three sections independently and writes the page. Forms
// post back here and render in place so each section shows its own notice.
func (s *server) render(w http.ResponseWriter, r *http.Request, data page) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	user, _ := st.User()

	var (
		g                                    errgroup.Group
		profileErr, bookmarksErr, reviewsErr error
		profile                              types.UserProfile
	)
	g.Go(func() error {
		profile, profileErr = s.accounts.Profile(ctx)
		return nil
	})
	g.Go(func() error {
		data.Bookmarks, bookmarksErr = s.repo.Bookmarks(ctx)
		return nil
	})
	g.Go(func() error {
		data.Reviews, reviewsErr = s.repo.UserReviews(ctx)
		return nil
	})
	_ = g.Wait()

	for _, err := range []error{profileErr, bookmarksErr, reviewsErr} {
		if backend.KindOf(err) == backend.KindUnauthorized {
			st.SignOut(s.now())
			session.RedirectToLogin(w, r, pagePath)
			return
		}
	}

	data.Profile = user
	if profileErr != nil {
		slog.WarnContext(ctx, "failed to load profile", "error", profileErr)
		if data.ProfileError == "" {
			data.ProfileError = MsgProfileFailed
		}
	} else {
		data.Profile = profile
		st.SignIn(profile, s.now())
	}
	if bookmarksErr != nil {
		slog.WarnContext(ctx, "failed to load bookmarks", "error", bookmarksErr)
		data.BookmarksError = MsgBookmarksFailed
	}
	if reviewsErr != nil {
		slog.WarnContext(ctx, "failed to load user reviews", "error", reviewsErr)
		data.ReviewsError = MsgReviewsFailed
	}
	SortBookmarks(data.Bookmarks)
	slices.SortStableFunc(data.Reviews, func(a, b types.Review) int { return b.CreatedAt.Compare(a.CreatedAt) })
	data.MaxLength = s.maxLength

	data.Page = st.Page("마이페이지")
	w.Header().Set("Cache-Control", "no-store")
	if data.status != 0 {
		w.WriteHeader(data.status)
	}
	if err := templates.MyPage.Execute(w, data); err != nil {
		slog.ErrorContext(ctx, "mypage template execute error", "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

// SortBookmarks orders bookmarks by restaurant name in Korean collation.
// Bookmarks without a name sort last by restaurant id.
func SortBookmarks(list []types.Bookmark) {
	c := collate.New(language.Korean)
	slices.SortStableFunc(list, func(a, b types.Bookmark) int {
		an, bn := a.Restaurant.Name, b.Restaurant.Name
		switch {
		case an == "" && bn == "":
			return cmp.Compare(a.RestaurantID, b.RestaurantID)
		case an == "":
			return 1
		case bn == "":
			return -1
		}
		return c.CompareString(an, bn)
	})
}

func (s *server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	user, _ := st.User()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxImage+1<<20)
	if err := r.ParseMultipartForm(s.maxImage); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			s.render(w, r, page{ProfileError: images.MsgTooLarge})
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form submission", http.StatusBadRequest)
			return
		}
	}
	// a new upload wins over the remove box.
	update := types.ProfileUpdate{
		Nickname:    strings.TrimSpace(r.FormValue("nickname")),
		Bio:         strings.TrimSpace(r.FormValue("bio")),
		RemoveImage: r.FormValue("remove_image") != "",
	}
	if err := auth.ValidateProfile(update.Nickname, update.Bio); err != nil {
		var verr auth.ValidationError
		if errors.As(err, &verr) {
			s.render(w, r, page{ProfileError: verr.First(), status: http.StatusUnprocessableEntity})
			return
		}
	}

	img, err := s.readImage(r, user.UserID)
	if err != nil {
		s.render(w, r, page{ProfileError: images.Message(err)})
		return
	}
	if img != nil {
		update.ProfileImage, err = s.images.Put(ctx, *img)
		if err != nil {
			slog.ErrorContext(ctx, "failed to store profile image", "error", err)
			s.render(w, r, page{ProfileError: images.MsgUploadFail})
			return
		}
	}

	updated, err := s.accounts.UpdateProfile(ctx, update)
	if err != nil {
		if backend.KindOf(err) == backend.KindUnauthorized {
			st.SignOut(s.now())
			session.RedirectToLogin(w, r, pagePath)
			return
		}
		slog.ErrorContext(ctx, "failed to update profile", "error", err)
		s.render(w, r, page{ProfileError: backend.Message(err)})
		return
	}
	st.SignIn(updated, s.now())
	slog.InfoContext(ctx, "profile updated", "user_id", updated.UserID)
	s.render(w, r, page{ProfileNotice: MsgProfileSaved})
}

func (s *server) readImage(r *http.Request, userID string) (*images.Image, error) {
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, err := images.Read(file, s.maxImage)
	if errors.Is(err, images.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	img.UserID = userID
	return &img, nil
}

func (s *server) handleRemoveBookmark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	id, ok := types.ParseID(r.PathValue("rid"))
	if !ok {
		s.render(w, r, page{BookmarkError: MsgBookmarkNotFound})
		return
	}
	err := s.repo.RemoveBookmark(ctx, id)
	switch {
	case err == nil:
		for i := range st.LastResults {
			if st.LastResults[i].ID == id {
				st.LastResults[i].IsBookmarked = false
			}
		}
		s.render(w, r, page{BookmarkNotice: MsgBookmarkRemoved})
	case errors.Is(err, restaurants.ErrBookmarkNotFound):
		s.render(w, r, page{BookmarkError: MsgBookmarkNotFound})
	case backend.KindOf(err) == backend.KindUnauthorized:
		st.SignOut(s.now())
		session.RedirectToLogin(w, r, pagePath)
	default:
		slog.ErrorContext(ctx, "failed to remove bookmark", "restaurant_id", id, "error", err)
		s.render(w, r, page{BookmarkError: backend.Message(err)})
	}
}

func (s *server) handleEditReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := reviewID(r)
	if !ok {
		s.render(w, r, page{ReviewError: MsgReviewNotFound})
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	rating, _ := strconv.Atoi(r.FormValue("rating"))
	in, err := reviews.ValidateEdit(reviews.Input{Content: r.FormValue("content"), Rating: rating}, s.maxLength)
	if err != nil {
		var verr *reviews.ValidationError
		if errors.As(err, &verr) {
			s.render(w, r, page{ReviewError: verr.Message, status: http.StatusUnprocessableEntity})
			return
		}
	}
	err = s.repo.UpdateReview(ctx, id, in.Content, in.Rating)
	if s.reviewFailed(w, r, err, reviews.MsgNotYourEdit) {
		return
	}
	slog.InfoContext(ctx, "review updated", "review_id", id)
	s.render(w, r, page{ReviewNotice: MsgReviewUpdated})
}

func (s *server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := reviewID(r)
	if !ok {
		s.render(w, r, page{ReviewError: MsgReviewNotFound})
		return
	}
	err := s.repo.DeleteReview(ctx, id)
	if s.reviewFailed(w, r, err, reviews.MsgNotYourDelete) {
		return
	}
	slog.InfoContext(ctx, "review deleted", "review_id", id)
	s.render(w, r, page{ReviewNotice: MsgReviewDeleted})
}

// reviewFailed writes the response for a failed review mutation. 401 goes to
// login, 403 names the ownership rule, anything else shows the backend message.
func (s *server) reviewFailed(w http.ResponseWriter, r *http.Request, err error, forbidden string) bool {
	if err == nil {
		return false
	}
	ctx := r.Context()
	switch backend.KindOf(err) {
	case backend.KindUnauthorized:
		session.FromContext(ctx).SignOut(s.now())
		session.RedirectToLogin(w, r, pagePath)
	case backend.KindForbidden:
		s.render(w, r, page{ReviewError: forbidden, status: http.StatusForbidden})
	case backend.KindNotFound:
		s.render(w, r, page{ReviewError: MsgReviewNotFound})
	default:
		slog.ErrorContext(ctx, "review mutation failed", "error", err)
		s.render(w, r, page{ReviewError: backend.Message(err)})
	}
	return true
}

func reviewID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}
