package restaurants

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"veganagain/internal/backend"
	"veganagain/internal/config"
	"veganagain/internal/images"
	"veganagain/internal/mapview"
	"veganagain/internal/restaurants/types"
	"veganagain/internal/reviews"
	"veganagain/internal/session"
	"veganagain/internal/templates"
)

var ErrToggleInFlight = errors.New("bookmark toggle already in progress")

const (
	MsgToggleInFlight = "처리 중입니다. 잠시만 기다려주세요."
	MsgNotFound       = "식당을 찾을 수 없습니다."
	MsgMenusFailed    = "메뉴를 불러오지 못했습니다."
	MsgReviewsFailed  = "리뷰를 불러오지 못했습니다."
	MsgReviewCreated  = "리뷰가 등록되었습니다."
)

type server struct {
	repo      Repository
	images    images.Store
	maxImage  int64
	maxLength int
	// inflight holds one entry per session and restaurant while a toggle runs.
	inflight sync.Map
	now      func() time.Time
}

// NewHandler serves the restaurant detail page and its bookmark and review
// forms.
func NewHandler(cfg *config.Config, repo Repository, store images.Store) *server {
	maxImage := cfg.Images.MaxBytes
	if maxImage <= 0 {
		maxImage = images.DefaultMaxBytes
	}
	maxLength := cfg.Reviews.MaxContentLength
	if maxLength <= 0 {
		maxLength = reviews.DefaultMaxLength
	}
	return &server{repo: repo, images: store, maxImage: maxImage, maxLength: maxLength, now: time.Now}
}

func (s *server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /restaurants/{id}", s.handleDetail)
	mux.HandleFunc("POST /restaurants/{id}/bookmark", s.handleBookmark)
	mux.HandleFunc("POST /restaurants/{id}/reviews", s.handleReview)
}

type bookmarkView struct {
	RestaurantID int64
	Bookmarked   bool
	SignedIn     bool
	Message      string
	Error        string
}

type reviewsView struct {
	RestaurantID int64
	Items        []types.Review
	Error        string
	FormError    string
	Notice       string
	Content      string
	Rating       int
	MaxLength    int
	SignedIn     bool
}

type detailPage struct {
	templates.Page
	Restaurant types.Restaurant
	Menus      []types.Menu
	MenusError string
	Map        mapview.View
	Bookmark   bookmarkView
	Reviews    reviewsView
}

func detailPath(id int64) string {
	return "/restaurants/" + strconv.FormatInt(id, 10)
}

// lookup prefers the last result set so the page works without another search.
func (s *server) lookup(r *http.Request, st *session.State, id int64) (types.Restaurant, error) {
	if rest, ok := lo.Find(st.LastResults, func(r types.Restaurant) bool { return r.ID == id }); ok {
		return rest, nil
	}
	return s.repo.Get(r.Context(), id)
}

func (s *server) handleDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	id, ok := types.ParseID(r.PathValue("id"))
	if !ok {
		templates.RenderError(w, r, http.StatusNotFound, MsgNotFound, st.Page(""))
		return
	}
	rest, err := s.lookup(r, st, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			templates.RenderError(w, r, http.StatusNotFound, MsgNotFound, st.Page(""))
			return
		}
		slog.ErrorContext(ctx, "failed to load restaurant", "restaurant_id", id, "error", err)
		templates.RenderError(w, r, http.StatusBadGateway, backend.Message(err), st.Page(""))
		return
	}

	_, signedIn := st.User()
	data := detailPage{
		Restaurant: rest,
		Map:        mapview.Build([]types.Restaurant{rest}, mapview.State{Center: rest.Location}, st.Geo, false),
		Bookmark:   bookmarkView{RestaurantID: id, SignedIn: signedIn, Bookmarked: rest.IsBookmarked},
		Reviews:    reviewsView{RestaurantID: id, SignedIn: signedIn, Rating: 5, MaxLength: s.maxLength},
	}

	// each part fails on its own; none of them cancels the others.
	ctx, span := otel.Tracer("veganagain/restaurants").Start(ctx, "restaurants.detail")
	defer span.End()
	var (
		g                               errgroup.Group
		menusErr, reviewsErr, markedErr error
		marked                          bool
	)
	g.Go(func() error {
		data.Menus, menusErr = s.repo.GetMenus(ctx, id)
		return nil
	})
	g.Go(func() error {
		data.Reviews.Items, reviewsErr = s.repo.GetReviews(ctx, id)
		return nil
	})
	if signedIn {
		g.Go(func() error {
			marked, markedErr = s.repo.IsBookmarked(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	if menusErr != nil {
		slog.WarnContext(ctx, "failed to load menus", "restaurant_id", id, "error", menusErr)
		data.MenusError = MsgMenusFailed
	}
	if reviewsErr != nil {
		slog.WarnContext(ctx, "failed to load reviews", "restaurant_id", id, "error", reviewsErr)
		data.Reviews.Error = MsgReviewsFailed
	}
	switch {
	case !signedIn:
	case markedErr == nil:
		data.Bookmark.Bookmarked = marked
	case backend.KindOf(markedErr) == backend.KindUnauthorized:
		// the backend session expired; fall back to the signed-out view.
		st.SignOut(s.now())
		data.Bookmark.SignedIn = false
		data.Reviews.SignedIn = false
	default:
		slog.WarnContext(ctx, "failed to load bookmark status", "restaurant_id", id, "error", markedErr)
		data.Bookmark.Error = backend.Message(markedErr)
	}

	data.Page = st.Page(rest.Name)
	if err := templates.Restaurant.Execute(w, data); err != nil {
		slog.ErrorContext(ctx, "restaurant template execute error", "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func (s *server) handleBookmark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	id, ok := types.ParseID(r.PathValue("id"))
	if !ok {
		http.Error(w, MsgNotFound, http.StatusNotFound)
		return
	}
	if _, signedIn := st.User(); !signedIn {
		session.RedirectToLogin(w, r, detailPath(id))
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	shown, _ := strconv.ParseBool(r.FormValue("bookmarked"))
	view := bookmarkView{RestaurantID: id, SignedIn: true, Bookmarked: shown}

	out, err := s.toggle(r, st, id, shown)
	switch {
	case errors.Is(err, ErrToggleInFlight):
		view.Error = MsgToggleInFlight
	case backend.KindOf(err) == backend.KindUnauthorized:
		st.SignOut(s.now())
		session.RedirectToLogin(w, r, detailPath(id))
		return
	case err != nil:
		slog.ErrorContext(ctx, "failed to toggle bookmark", "restaurant_id", id, "error", err)
		view.Error = backend.Message(err)
	default:
		view.Bookmarked = out.Bookmarked
		view.Message = out.Message
		s.markResult(st, id, out.Bookmarked)
	}

	if !session.IsHTMX(r) {
		st.Flash = lo.Ternary(view.Error != "", view.Error, view.Message)
		http.Redirect(w, r, detailPath(id), http.StatusSeeOther)
		return
	}
	if err := templates.Bookmark.Execute(w, view); err != nil {
		slog.ErrorContext(ctx, "bookmark template execute error", "error", err)
	}
}

// toggle allows one toggle per session and restaurant at a time.
func (s *server) toggle(r *http.Request, st *session.State, id int64, shown bool) (BookmarkOutcome, error) {
	key := st.ID + ":" + strconv.FormatInt(id, 10)
	if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
		return BookmarkOutcome{Bookmarked: shown}, ErrToggleInFlight
	}
	defer s.inflight.Delete(key)
	return s.repo.ToggleBookmark(r.Context(), id, shown)
}

func (s *server) markResult(st *session.State, id int64, bookmarked bool) {
	for i := range st.LastResults {
		if st.LastResults[i].ID == id {
			st.LastResults[i].IsBookmarked = bookmarked
		}
	}
}

func (s *server) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	id, ok := types.ParseID(r.PathValue("id"))
	if !ok {
		http.Error(w, MsgNotFound, http.StatusNotFound)
		return
	}
	user, signedIn := st.User()
	if !signedIn {
		session.RedirectToLogin(w, r, detailPath(id))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImage+1<<20)
	if err := r.ParseMultipartForm(s.maxImage); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			s.renderReviewForm(w, r, st, reviewsView{RestaurantID: id, FormError: images.MsgTooLarge})
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form submission", http.StatusBadRequest)
			return
		}
	}
	rating, _ := strconv.Atoi(r.FormValue("rating"))
	view := reviewsView{RestaurantID: id, Content: r.FormValue("content"), Rating: rating}

	in, err := reviews.Validate(reviews.Input{Content: view.Content, Rating: rating}, s.maxLength)
	if err != nil {
		var verr *reviews.ValidationError
		if errors.As(err, &verr) {
			view.FormError = verr.Message
		}
		s.renderReviewForm(w, r, st, view)
		return
	}

	review := NewReview{Content: in.Content, Rating: in.Rating}
	img, err := s.readImage(r, user.UserID)
	if err != nil {
		view.FormError = images.Message(err)
		s.renderReviewForm(w, r, st, view)
		return
	}
	if img != nil {
		review.Image, err = s.images.Put(ctx, *img)
		if err != nil {
			slog.ErrorContext(ctx, "failed to store review image", "restaurant_id", id, "error", err)
			view.FormError = images.MsgUploadFail
			s.renderReviewForm(w, r, st, view)
			return
		}
	}

	if err := s.repo.CreateReview(ctx, id, review); err != nil {
		if backend.KindOf(err) == backend.KindUnauthorized {
			st.SignOut(s.now())
			session.RedirectToLogin(w, r, detailPath(id))
			return
		}
		slog.ErrorContext(ctx, "failed to create review", "restaurant_id", id, "error", err)
		view.FormError = backend.Message(err)
		s.renderReviewForm(w, r, st, view)
		return
	}
	slog.InfoContext(ctx, "review created", "restaurant_id", id, "user_id", user.UserID)
	s.renderReviews(w, r, st, reviewsView{RestaurantID: id, Notice: MsgReviewCreated})
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

// renderReviewForm answers a rejected submission with the form alone. The
// list on the page is left as it is, so nothing is fetched.
func (s *server) renderReviewForm(w http.ResponseWriter, r *http.Request, st *session.State, view reviewsView) {
	if !s.prepareReviews(w, r, st, &view) {
		return
	}
	w.Header().Set("HX-Retarget", "#review-form")
	w.Header().Set("HX-Reswap", "outerHTML")
	if err := templates.ReviewForm.Execute(w, view); err != nil {
		slog.ErrorContext(r.Context(), "review form template execute error", "error", err)
	}
}

// renderReviews always re-reads the list; a fresh submission is never
// inserted locally.
func (s *server) renderReviews(w http.ResponseWriter, r *http.Request, st *session.State, view reviewsView) {
	ctx := r.Context()
	if !s.prepareReviews(w, r, st, &view) {
		return
	}
	var err error
	view.Items, err = s.repo.GetReviews(ctx, view.RestaurantID)
	if err != nil {
		slog.WarnContext(ctx, "failed to reload reviews", "restaurant_id", view.RestaurantID, "error", err)
		view.Error = MsgReviewsFailed
	}
	if err := templates.Reviews.Execute(w, view); err != nil {
		slog.ErrorContext(ctx, "reviews template execute error", "error", err)
	}
}

// prepareReviews redirects plain form posts back to the page with a flash and
// reports false; HTMX requests get the view defaults filled in.
func (s *server) prepareReviews(w http.ResponseWriter, r *http.Request, st *session.State, view *reviewsView) bool {
	if !session.IsHTMX(r) {
		st.Flash = lo.Ternary(view.FormError != "", view.FormError, view.Notice)
		http.Redirect(w, r, detailPath(view.RestaurantID), http.StatusSeeOther)
		return false
	}
	_, view.SignedIn = st.User()
	view.MaxLength = s.maxLength
	if view.Rating == 0 {
		view.Rating = 5
	}
	return true
}
