package restaurants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"veganagain/internal/backend"
	"veganagain/internal/restaurants/types"
)

var (
	ErrNotFound          = errors.New("restaurant not found")
	ErrBookmarkNotFound  = errors.New("bookmark not found")
	ErrMenusUnavailable  = errors.New("menu source is not configured")
	errSearchUnavailable = "검색 중 오류가 발생했습니다."
)

const (
	MsgBookmarkAdded   = "찜 목록에 추가되었습니다!"
	MsgBookmarkExists  = "이미 즐겨찾기한 식당입니다."
	MsgBookmarkRemoved = "찜 해제되었습니다."
	maxTitleRunes      = 100
)

// SearchResult is the tagged outcome of a search. Search never returns an error
// value; callers branch on Success.
type SearchResult struct {
	Success     bool               `json:"success"`
	Count       int                `json:"count"`
	Restaurants []types.Restaurant `json:"restaurants"`
	Error       string             `json:"error,omitempty"`
	// Skipped counts malformed records dropped during normalization.
	Skipped int `json:"-"`
}

// BookmarkOutcome is the reconciled state after a toggle.
type BookmarkOutcome struct {
	Bookmarked bool
	Message    string
}

type NewReview struct {
	Content string
	Rating  int
	// Image is a data URL or an http(s) URL; empty for no image.
	Image string
}

// Repository is the single data-access surface the handlers use. Calls that
// need a signed-in user read the backend credentials from ctx.
type Repository interface {
	Search(ctx context.Context, text string, categories []types.Category) SearchResult
	Get(ctx context.Context, id int64) (types.Restaurant, error)
	GetMenus(ctx context.Context, restaurantID int64) ([]types.Menu, error)
	GetReviews(ctx context.Context, restaurantID int64) ([]types.Review, error)
	IsBookmarked(ctx context.Context, restaurantID int64) (bool, error)
	ToggleBookmark(ctx context.Context, restaurantID int64, bookmarked bool) (BookmarkOutcome, error)
	Bookmarks(ctx context.Context) ([]types.Bookmark, error)
	RemoveBookmark(ctx context.Context, restaurantID int64) error
	CreateReview(ctx context.Context, restaurantID int64, review NewReview) error
	UpdateReview(ctx context.Context, reviewID int64, content string, rating int) error
	DeleteReview(ctx context.Context, reviewID int64) error
	UserReviews(ctx context.Context) ([]types.Review, error)
}

// Backend is the subset of the REST client the repository needs.
type Backend interface {
	Search(ctx context.Context, keyword, category string) (*backend.Envelope, error)
	Bookmarks(ctx context.Context) (*backend.Envelope, error)
	AddBookmark(ctx context.Context, restaurantID int64) (*backend.Envelope, error)
	RemoveBookmark(ctx context.Context, restaurantID int64) (*backend.Envelope, error)
	RestaurantReviews(ctx context.Context, restaurantID int64) (*backend.Envelope, error)
	CreateReview(ctx context.Context, restaurantID int64, review backend.NewReview) (*backend.Envelope, error)
	UpdateReview(ctx context.Context, reviewID int64, update backend.ReviewUpdate) (*backend.Envelope, error)
	DeleteReview(ctx context.Context, reviewID int64) error
	UserReviews(ctx context.Context) (*backend.Envelope, error)
}

type MenuSource interface {
	Menus(ctx context.Context, restaurantID int64) (json.RawMessage, error)
}

// RestaurantSource is implemented by menu sources that can also read a single
// restaurant row. Restaurant returns nil for an unknown id.
type RestaurantSource interface {
	Restaurant(ctx context.Context, restaurantID int64) (json.RawMessage, error)
}

var _ Backend = (*backend.Client)(nil)

type API struct {
	backend Backend
	menus   MenuSource
}

var _ Repository = (*API)(nil)

// NewAPI builds the repository over the REST backend. menus may be nil when no
// menu source is configured; menu reads then fail without blocking the page.
func NewAPI(b Backend, menus MenuSource) *API {
	return &API{backend: b, menus: menus}
}

func (a *API) Search(ctx context.Context, text string, categories []types.Category) SearchResult {
	keyword := strings.TrimSpace(text)
	env, err := a.backend.Search(ctx, keyword, types.JoinLocalized(categories))
	if err != nil {
		slog.ErrorContext(ctx, "restaurant search failed", "keyword", keyword, "error", err)
		return SearchResult{Restaurants: []types.Restaurant{}, Error: searchErrorMessage(err)}
	}
	list, skipped, err := NormalizeSearch(ctx, env.Data)
	if err != nil {
		slog.ErrorContext(ctx, "restaurant search returned unexpected shape", "error", err)
		return SearchResult{Restaurants: []types.Restaurant{}, Error: errSearchUnavailable}
	}
	return SearchResult{Success: true, Count: len(list), Restaurants: list, Skipped: skipped}
}

func searchErrorMessage(err error) string {
	var se *backend.StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	if backend.KindOf(err) == backend.KindNetwork {
		return backend.MsgNetwork
	}
	return errSearchUnavailable
}

// Get finds a restaurant by id for deep links. The REST backend has no single
// restaurant endpoint and caps an unfiltered search at 100 rows, so the menu
// source is asked first when it can read restaurants, then the search page,
// then the snapshot kept with the user's bookmarks.
func (a *API) Get(ctx context.Context, id int64) (types.Restaurant, error) {
	if src, ok := a.menus.(RestaurantSource); ok {
		raw, err := src.Restaurant(ctx, id)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "restaurant lookup by id failed", "restaurant_id", id, "error", err)
		case raw != nil:
			return NormalizeRestaurant(raw)
		default:
			return types.Restaurant{}, ErrNotFound
		}
	}

	res := a.Search(ctx, "", nil)
	if r, ok := lo.Find(res.Restaurants, func(r types.Restaurant) bool { return r.ID == id }); ok {
		return r, nil
	}
	if b, ok := a.bookmarked(ctx, id); ok {
		return b.Restaurant, nil
	}
	if !res.Success {
		return types.Restaurant{}, errors.New(res.Error)
	}
	return types.Restaurant{}, ErrNotFound
}

// bookmarked reports the bookmark snapshot for id. Signed-out callers and
// snapshots without a name report false.
func (a *API) bookmarked(ctx context.Context, id int64) (types.Bookmark, bool) {
	if backend.CredentialsFrom(ctx).Empty() {
		return types.Bookmark{}, false
	}
	list, err := a.Bookmarks(ctx)
	if err != nil {
		return types.Bookmark{}, false
	}
	return lo.Find(list, func(b types.Bookmark) bool { return b.RestaurantID == id && b.Restaurant.Name != "" })
}

func (a *API) GetMenus(ctx context.Context, restaurantID int64) ([]types.Menu, error) {
	if a.menus == nil {
		return nil, ErrMenusUnavailable
	}
	raw, err := a.menus.Menus(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("fetch menus for %d: %w", restaurantID, err)
	}
	return NormalizeMenus(ctx, raw)
}

func (a *API) GetReviews(ctx context.Context, restaurantID int64) ([]types.Review, error) {
	env, err := a.backend.RestaurantReviews(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("fetch reviews for %d: %w", restaurantID, err)
	}
	return NormalizeReviews(ctx, env.Data)
}

func (a *API) Bookmarks(ctx context.Context) ([]types.Bookmark, error) {
	env, err := a.backend.Bookmarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch bookmarks: %w", err)
	}
	return NormalizeBookmarks(ctx, env.Data)
}

func (a *API) IsBookmarked(ctx context.Context, restaurantID int64) (bool, error) {
	list, err := a.Bookmarks(ctx)
	if err != nil {
		return false, err
	}
	return lo.ContainsBy(list, func(b types.Bookmark) bool { return b.RestaurantID == restaurantID }), nil
}

// ToggleBookmark adds when bookmarked is false and removes otherwise, then
// re-reads the list to report the server's view. A duplicate add (409 or 400)
// and removing something already gone are both treated as success.
func (a *API) ToggleBookmark(ctx context.Context, restaurantID int64, bookmarked bool) (BookmarkOutcome, error) {
	var out BookmarkOutcome
	if bookmarked {
		_, err := a.backend.RemoveBookmark(ctx, restaurantID)
		if err != nil && backend.KindOf(err) != backend.KindNotFound {
			return BookmarkOutcome{Bookmarked: true}, fmt.Errorf("remove bookmark %d: %w", restaurantID, err)
		}
		out = BookmarkOutcome{Bookmarked: false, Message: MsgBookmarkRemoved}
	} else {
		_, err := a.backend.AddBookmark(ctx, restaurantID)
		switch {
		case err == nil:
			out = BookmarkOutcome{Bookmarked: true, Message: MsgBookmarkAdded}
		case isDuplicate(err):
			out = BookmarkOutcome{Bookmarked: true, Message: MsgBookmarkExists}
		default:
			return BookmarkOutcome{Bookmarked: false}, fmt.Errorf("add bookmark %d: %w", restaurantID, err)
		}
	}

	fresh, err := a.IsBookmarked(ctx, restaurantID)
	if err != nil {
		// the mutation went through; keep the expected state rather than fail.
		slog.WarnContext(ctx, "could not re-read bookmark state", "restaurant_id", restaurantID, "error", err)
		return out, nil
	}
	out.Bookmarked = fresh
	return out, nil
}

func isDuplicate(err error) bool {
	switch backend.StatusCode(err) {
	case http.StatusConflict, http.StatusBadRequest:
		return true
	}
	return false
}

// RemoveBookmark is the my-page removal. It refuses to call the backend for a
// restaurant that is not in the user's list.
func (a *API) RemoveBookmark(ctx context.Context, restaurantID int64) error {
	ok, err := a.IsBookmarked(ctx, restaurantID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookmarkNotFound
	}
	if _, err := a.backend.RemoveBookmark(ctx, restaurantID); err != nil {
		return fmt.Errorf("remove bookmark %d: %w", restaurantID, err)
	}
	return nil
}

func (a *API) CreateReview(ctx context.Context, restaurantID int64, review NewReview) error {
	_, err := a.backend.CreateReview(ctx, restaurantID, backend.NewReview{
		Title:   reviewTitle(review.Content),
		Content: review.Content,
		Rating:  review.Rating,
		Image:   review.Image,
	})
	if err != nil {
		return fmt.Errorf("create review for %d: %w", restaurantID, err)
	}
	return nil
}

// reviewTitle is the first 100 characters of the content; the backend requires a title.
func reviewTitle(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleRunes {
		return content
	}
	return string([]rune(content)[:maxTitleRunes])
}

func (a *API) UpdateReview(ctx context.Context, reviewID int64, content string, rating int) error {
	if _, err := a.backend.UpdateReview(ctx, reviewID, backend.ReviewUpdate{Content: content, Rating: rating}); err != nil {
		return fmt.Errorf("update review %d: %w", reviewID, err)
	}
	return nil
}

func (a *API) DeleteReview(ctx context.Context, reviewID int64) error {
	if err := a.backend.DeleteReview(ctx, reviewID); err != nil {
		return fmt.Errorf("delete review %d: %w", reviewID, err)
	}
	return nil
}

func (a *API) UserReviews(ctx context.Context) ([]types.Review, error) {
	env, err := a.backend.UserReviews(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user reviews: %w", err)
	}
	return NormalizeReviews(ctx, env.Data)
}
