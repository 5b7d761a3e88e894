package restaurants

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"veganagain/internal/backend"
	"veganagain/internal/restaurants/types"
)

// MockUserID authors every review created through the mock repository.
const MockUserID = "mock-user"

// Mock is an in-memory Repository used when ENABLE_MOCKS is set and in tests.
type Mock struct {
	mu          sync.Mutex
	restaurants []types.Restaurant
	menus       map[int64][]types.Menu
	reviews     []types.Review
	bookmarks   map[int64]time.Time
	nextReview  int64
	now         func() time.Time
}

var _ Repository = (*Mock)(nil)

func NewMock() *Mock {
	m := &Mock{
		menus:      map[int64][]types.Menu{},
		bookmarks:  map[int64]time.Time{},
		nextReview: 100,
		now:        time.Now,
	}
	m.seed()
	return m
}

func ptr[T any](v T) *T { return &v }

func (m *Mock) seed() {
	m.restaurants = []types.Restaurant{
		{ID: 1, Name: "풀잎채 비건 키친", Address: "서울 중구 세종대로 110", Location: types.Location{Lat: 37.5663, Lng: 126.9779}, Category: types.Korean, Phone: "02-000-0001", AvailableLevels: []types.VegetarianLevel{types.LevelVegan, types.LevelLactoOvo}, Rating: ptr(4.6), ReviewCount: ptr(2)},
		{ID: 2, Name: "초록 두부집", Address: "서울 종로구 인사동길 12", Location: types.Location{Lat: 37.5740, Lng: 126.9849}, Category: types.Korean, AvailableLevels: []types.VegetarianLevel{types.LevelVegan}},
		{ID: 3, Name: "그린 파스타", Address: "서울 마포구 와우산로 21", Location: types.Location{Lat: 37.5509, Lng: 126.9227}, Category: types.Western, AvailableLevels: []types.VegetarianLevel{types.LevelLacto, types.LevelPesco}},
		{ID: 4, Name: "소이 카페", Address: "서울 성동구 서울숲길 5", Location: types.Location{Lat: 37.5446, Lng: 127.0426}, Category: types.Cafe, AvailableLevels: []types.VegetarianLevel{types.LevelVegan, types.LevelOvo}},
		{ID: 5, Name: "연꽃 중화요리", Address: "서울 용산구 이태원로 200", Location: types.Location{Lat: 37.5345, Lng: 126.9946}, Category: types.Chinese},
		{ID: 6, Name: "스시 베지", Address: "부산 해운대구 해운대로 300", Location: types.Location{Lat: 35.1631, Lng: 129.1635}, Category: types.Japanese, AvailableLevels: []types.VegetarianLevel{types.LevelPesco}},
	}
	analyzed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m.menus[1] = []types.Menu{
		{ID: 11, RestaurantID: 1, Name: "버섯 비빔밥", Price: ptr(11000), VegetarianLevel: types.LevelVegan, ConfidenceScore: 0.93, AnalyzedAt: &analyzed},
		{ID: 12, RestaurantID: 1, Name: "계란 김밥", Price: ptr(6000), VegetarianLevel: types.LevelLactoOvo, ConfidenceScore: 0.71, AnalyzedAt: &analyzed},
		{ID: 13, RestaurantID: 1, Name: "오늘의 국", Description: "매일 바뀜"},
	}
	m.menus[3] = []types.Menu{
		{ID: 31, RestaurantID: 3, Name: "크림 파스타", Price: ptr(15000), VegetarianLevel: types.LevelLacto, ConfidenceScore: 0.42, AnalyzedAt: &analyzed},
	}
	m.reviews = []types.Review{
		{ID: 1, RestaurantID: 1, RestaurantName: "풀잎채 비건 키친", UserID: "someone-else", UserName: "채식러", Content: "비빔밥이 정말 맛있어요.", Rating: 5, CreatedAt: analyzed, Images: []string{}},
		{ID: 2, RestaurantID: 1, RestaurantName: "풀잎채 비건 키친", UserID: MockUserID, UserName: "목업 사용자", Content: "김밥은 계란이 들어가요.", Rating: 4, CreatedAt: analyzed.Add(time.Hour), Images: []string{}},
	}
}

func (m *Mock) Search(_ context.Context, text string, categories []types.Category) SearchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	keyword := strings.TrimSpace(text)
	list := lo.Filter(m.restaurants, func(r types.Restaurant, _ int) bool {
		if len(categories) > 0 && !slices.Contains(categories, r.Category) {
			return false
		}
		return keyword == "" || strings.Contains(r.Name, keyword) || strings.Contains(r.Address, keyword)
	})
	list = lo.Map(list, func(r types.Restaurant, _ int) types.Restaurant {
		_, r.IsBookmarked = m.bookmarks[r.ID]
		return r
	})
	return SearchResult{Success: true, Count: len(list), Restaurants: list}
}

func (m *Mock) Get(ctx context.Context, id int64) (types.Restaurant, error) {
	r, ok := lo.Find(m.Search(ctx, "", nil).Restaurants, func(r types.Restaurant) bool { return r.ID == id })
	if !ok {
		return types.Restaurant{}, ErrNotFound
	}
	return r, nil
}

func (m *Mock) GetMenus(_ context.Context, restaurantID int64) ([]types.Menu, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.menus[restaurantID]), nil
}

func (m *Mock) GetReviews(_ context.Context, restaurantID int64) ([]types.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := lo.Filter(m.reviews, func(r types.Review, _ int) bool { return r.RestaurantID == restaurantID })
	slices.SortFunc(list, func(a, b types.Review) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return list, nil
}

func (m *Mock) IsBookmarked(_ context.Context, restaurantID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bookmarks[restaurantID]
	return ok, nil
}

func (m *Mock) ToggleBookmark(_ context.Context, restaurantID int64, bookmarked bool) (BookmarkOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bookmarked {
		delete(m.bookmarks, restaurantID)
		return BookmarkOutcome{Bookmarked: false, Message: MsgBookmarkRemoved}, nil
	}
	if _, ok := m.bookmarks[restaurantID]; ok {
		return BookmarkOutcome{Bookmarked: true, Message: MsgBookmarkExists}, nil
	}
	m.bookmarks[restaurantID] = m.now()
	return BookmarkOutcome{Bookmarked: true, Message: MsgBookmarkAdded}, nil
}

func (m *Mock) Bookmarks(_ context.Context) ([]types.Bookmark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Bookmark
	for _, r := range m.restaurants {
		at, ok := m.bookmarks[r.ID]
		if !ok {
			continue
		}
		r.IsBookmarked = true
		out = append(out, types.Bookmark{ID: r.ID, RestaurantID: r.ID, Restaurant: r, CreatedAt: at})
	}
	return out, nil
}

func (m *Mock) RemoveBookmark(_ context.Context, restaurantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookmarks[restaurantID]; !ok {
		return ErrBookmarkNotFound
	}
	delete(m.bookmarks, restaurantID)
	return nil
}

func (m *Mock) CreateReview(_ context.Context, restaurantID int64, review NewReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := lo.Find(m.restaurants, func(r types.Restaurant) bool { return r.ID == restaurantID })
	if !ok {
		return &backend.StatusError{Operation: "create review", StatusCode: http.StatusNotFound, Message: "식당을 찾을 수 없습니다."}
	}
	m.nextReview++
	images := []string{}
	if review.Image != "" {
		images = append(images, review.Image)
	}
	m.reviews = append(m.reviews, types.Review{
		ID:             m.nextReview,
		RestaurantID:   restaurantID,
		RestaurantName: r.Name,
		UserID:         MockUserID,
		UserName:       "목업 사용자",
		Content:        review.Content,
		Rating:         review.Rating,
		CreatedAt:      m.now(),
		Images:         images,
	})
	return nil
}

func (m *Mock) review(reviewID int64, op string) (int, error) {
	i := slices.IndexFunc(m.reviews, func(r types.Review) bool { return r.ID == reviewID })
	if i < 0 {
		return -1, &backend.StatusError{Operation: op, StatusCode: http.StatusNotFound}
	}
	if m.reviews[i].UserID != MockUserID {
		return -1, &backend.StatusError{Operation: op, StatusCode: http.StatusForbidden}
	}
	return i, nil
}

func (m *Mock) UpdateReview(_ context.Context, reviewID int64, content string, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.review(reviewID, "update review")
	if err != nil {
		return err
	}
	m.reviews[i].Content = content
	if rating > 0 {
		m.reviews[i].Rating = rating
	}
	m.reviews[i].UpdatedAt = m.now()
	return nil
}

func (m *Mock) DeleteReview(_ context.Context, reviewID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.review(reviewID, "delete review")
	if err != nil {
		return err
	}
	m.reviews = slices.Delete(m.reviews, i, i+1)
	return nil
}

func (m *Mock) UserReviews(_ context.Context) ([]types.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Filter(m.reviews, func(r types.Review, _ int) bool { return r.UserID == MockUserID }), nil
}
