package restaurants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"veganagain/internal/restaurants/types"
)

// This file is the only place that knows about backend field names. Records
// arrive in snake_case or camelCase, relations nested or flat; everything that
// leaves here is one of the canonical shapes in package types.

var errNotArray = errors.New("expected a JSON array")

type rawObject map[string]json.RawMessage

func decodeObject(raw json.RawMessage) (rawObject, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj rawObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func decodeArray(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '[' {
		return nil, errNotArray
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// pick returns the first present, non-null value among keys.
func (o rawObject) pick(keys ...string) json.RawMessage {
	for _, k := range keys {
		v, ok := o[k]
		if !ok {
			continue
		}
		v = bytes.TrimSpace(v)
		if len(v) == 0 || bytes.Equal(v, []byte("null")) {
			continue
		}
		return v
	}
	return nil
}

func (o rawObject) object(keys ...string) (rawObject, bool) {
	return decodeObject(o.pick(keys...))
}

func (o rawObject) str(keys ...string) string {
	v := o.pick(keys...)
	if v == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// numbers and booleans are rendered as their literal text.
	if v[0] != '{' && v[0] != '[' {
		return string(v)
	}
	return ""
}

// strictID accepts only JSON numbers holding a positive integer.
func (o rawObject) strictID(keys ...string) (int64, bool) {
	v := o.pick(keys...)
	if v == nil || v[0] == '"' {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// looseID also accepts numeric strings, including the "rest-12" form.
func (o rawObject) looseID(keys ...string) (int64, bool) {
	if id, ok := o.strictID(keys...); ok {
		return id, true
	}
	return types.ParseID(o.str(keys...))
}

func (o rawObject) float(keys ...string) (float64, bool) {
	v := o.pick(keys...)
	if v == nil {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

func (o rawObject) int(keys ...string) (int, bool) {
	f, ok := o.float(keys...)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

// strs accepts an array of strings or a single string; empty entries are dropped.
func (o rawObject) strs(keys ...string) []string {
	v := o.pick(keys...)
	if v == nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal(v, &list); err != nil {
		var one string
		if err := json.Unmarshal(v, &one); err != nil {
			return nil
		}
		list = []string{one}
	}
	return lo.Uniq(lo.FilterMap(list, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	}))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (o rawObject) time(keys ...string) time.Time {
	s := o.str(keys...)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// NormalizeSearch converts the data array of a search response. Malformed
// entries are skipped one by one and counted; the batch never fails because of
// a single bad record.
func NormalizeSearch(ctx context.Context, raw json.RawMessage) ([]types.Restaurant, int, error) {
	items, err := decodeArray(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("normalize search: %w", err)
	}
	out := make([]types.Restaurant, 0, len(items))
	skipped := 0
	for i, item := range items {
		r, err := NormalizeRestaurant(item)
		if err != nil {
			skipped++
			slog.WarnContext(ctx, "skipping malformed restaurant record", "index", i, "reason", err.Error())
			continue
		}
		out = append(out, r)
	}
	return out, skipped, nil
}

// NormalizeRestaurant requires a numeric id, a name and an address.
func NormalizeRestaurant(raw json.RawMessage) (types.Restaurant, error) {
	obj, ok := decodeObject(raw)
	if !ok {
		return types.Restaurant{}, errors.New("record is not an object")
	}
	id, ok := obj.strictID("restaurant_id", "id", "restaurantId")
	if !ok {
		return types.Restaurant{}, errors.New("missing or non-numeric restaurant id")
	}
	name := obj.str("name", "restaurant_name")
	if name == "" {
		return types.Restaurant{}, fmt.Errorf("restaurant %d has no name", id)
	}
	address := obj.str("address", "road_address")
	if address == "" {
		return types.Restaurant{}, fmt.Errorf("restaurant %d has no address", id)
	}
	return restaurantFromObject(obj, id, name, address), nil
}

func restaurantFromObject(obj rawObject, id int64, name, address string) types.Restaurant {
	r := types.Restaurant{
		ID:              id,
		Name:            name,
		Address:         address,
		Location:        normalizeLocation(obj),
		Phone:           obj.str("phone", "tel"),
		Category:        types.ParseCategory(obj.str("category")),
		OpeningHours:    obj.str("business_hours", "businessHours", "opening_hours", "openingHours"),
		ClosedDays:      obj.str("closed_days", "closedDays"),
		DataSource:      obj.str("data_source", "dataSource"),
		AvailableLevels: normalizeLevels(obj.strs("available_levels", "availableLevels")),
		ThumbnailURL:    obj.str("thumbnailUrl", "thumbnail_url"),
		ImageURLs:       obj.strs("image_urls", "imageUrls"),
		CreatedAt:       obj.time("created_at", "createdAt"),
		UpdatedAt:       obj.time("updated_at", "updatedAt"),
	}
	if rating, ok := obj.float("rating", "average_rating"); ok {
		r.Rating = lo.ToPtr(rating)
	}
	if count, ok := obj.int("review_count", "reviewCount"); ok {
		r.ReviewCount = lo.ToPtr(count)
	}
	return r
}

// normalizeLocation falls back to the default coordinate as a pair when either
// half is missing or out of range.
func normalizeLocation(obj rawObject) types.Location {
	lat, latOK := obj.float("latitude", "lat")
	lng, lngOK := obj.float("longitude", "lng", "lon")
	loc := types.Location{Lat: lat, Lng: lng}
	if !latOK || !lngOK || !loc.Valid() {
		return types.DefaultLocation
	}
	return loc
}

func normalizeLevels(raw []string) []types.VegetarianLevel {
	levels := lo.FilterMap(raw, func(s string, _ int) (types.VegetarianLevel, bool) {
		l := types.ParseLevel(strings.ToLower(s))
		return l, l != types.LevelUnset
	})
	return lo.Uniq(levels)
}

// NormalizeMenus converts PostgREST menu rows. Rows without an id or name are dropped.
func NormalizeMenus(ctx context.Context, raw json.RawMessage) ([]types.Menu, error) {
	items, err := decodeArray(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize menus: %w", err)
	}
	out := make([]types.Menu, 0, len(items))
	for i, item := range items {
		obj, ok := decodeObject(item)
		if !ok {
			slog.WarnContext(ctx, "skipping malformed menu record", "index", i)
			continue
		}
		id, ok := obj.looseID("menu_id", "id")
		name := obj.str("menu_name", "name")
		if !ok || name == "" {
			slog.WarnContext(ctx, "skipping menu without id or name", "index", i)
			continue
		}
		m := types.Menu{
			ID:              id,
			Name:            name,
			Description:     obj.str("description"),
			Ingredients:     obj.str("ingredients"),
			VegetarianLevel: types.ParseLevel(strings.ToLower(obj.str("vegetarian_level", "vegetarianLevel"))),
		}
		m.RestaurantID, _ = obj.looseID("restaurant_id", "restaurantId")
		if price, ok := obj.int("price"); ok && price >= 0 {
			m.Price = lo.ToPtr(price)
		}
		if score, ok := obj.float("confidence_score", "confidenceScore"); ok {
			m.ConfidenceScore = math.Max(0, math.Min(1, score))
		}
		if at := obj.time("analyzed_at", "analyzedAt"); !at.IsZero() {
			m.AnalyzedAt = &at
		}
		out = append(out, m)
	}
	return out, nil
}

const anonymousAuthor = "익명"

// NormalizeReviews accepts either a bare array or {reviews: [...], pagination}.
func NormalizeReviews(ctx context.Context, raw json.RawMessage) ([]types.Review, error) {
	if obj, ok := decodeObject(raw); ok {
		raw = obj.pick("reviews", "items", "data")
	}
	items, err := decodeArray(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize reviews: %w", err)
	}
	out := make([]types.Review, 0, len(items))
	for i, item := range items {
		obj, ok := decodeObject(item)
		if !ok {
			slog.WarnContext(ctx, "skipping malformed review record", "index", i)
			continue
		}
		id, ok := obj.looseID("id", "review_id", "reviewId")
		if !ok {
			slog.WarnContext(ctx, "skipping review without id", "index", i)
			continue
		}
		out = append(out, reviewFromObject(obj, id))
	}
	return out, nil
}

func reviewFromObject(obj rawObject, id int64) types.Review {
	r := types.Review{
		ID:               id,
		UserID:           obj.str("user_id", "userId"),
		Content:          obj.str("content"),
		CreatedAt:        obj.time("createdAt", "created_at"),
		UpdatedAt:        obj.time("updatedAt", "updated_at"),
		UserName:         obj.str("userName", "user_name", "nickname"),
		UserProfileImage: obj.str("userProfileImage", "user_profile_image", "profile_image_url"),
		RestaurantName:   obj.str("restaurantName", "restaurant_name"),
		Images:           obj.strs("images", "image_url", "imageUrl", "image"),
	}
	r.RestaurantID, _ = obj.looseID("restaurantId", "restaurant_id")
	if author, ok := obj.object("users", "user"); ok {
		if r.UserName == "" {
			r.UserName = author.str("nickname", "name")
		}
		if r.UserProfileImage == "" {
			r.UserProfileImage = author.str("profile_image_url", "profileImage")
		}
	}
	if rest, ok := obj.object("restaurants", "restaurant"); ok && r.RestaurantName == "" {
		r.RestaurantName = rest.str("name")
	}
	if r.UserName == "" {
		r.UserName = anonymousAuthor
	}
	if r.Images == nil {
		r.Images = []string{}
	}
	rating, ok := obj.int("rating")
	if !ok || rating == 0 {
		rating = 5
	}
	r.Rating = min(max(rating, 1), 5)
	return r
}

// NormalizeBookmarks resolves the restaurant id from the flat column or the
// nested relation and keeps whatever restaurant snapshot is embedded.
func NormalizeBookmarks(ctx context.Context, raw json.RawMessage) ([]types.Bookmark, error) {
	items, err := decodeArray(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize bookmarks: %w", err)
	}
	out := make([]types.Bookmark, 0, len(items))
	for i, item := range items {
		obj, ok := decodeObject(item)
		if !ok {
			slog.WarnContext(ctx, "skipping malformed bookmark record", "index", i)
			continue
		}
		nested, hasNested := obj.object("restaurants", "restaurant")
		rid, ok := obj.looseID("restaurant_id", "restaurantId")
		if !ok && hasNested {
			rid, ok = nested.looseID("restaurant_id", "id")
		}
		if !ok {
			slog.WarnContext(ctx, "skipping bookmark without restaurant id", "index", i)
			continue
		}
		b := types.Bookmark{
			RestaurantID: rid,
			CreatedAt:    obj.time("created_at", "createdAt"),
		}
		b.ID, _ = obj.looseID("id", "bookmark_id")
		if hasNested {
			b.Restaurant = restaurantFromObject(nested, rid, nested.str("name"), nested.str("address"))
		} else {
			b.Restaurant = types.Restaurant{ID: rid, Location: types.DefaultLocation, Category: types.Etc}
		}
		b.Restaurant.IsBookmarked = true
		out = append(out, b)
	}
	return out, nil
}

// NormalizeProfile reads both the profile payload and the login user payload.
func NormalizeProfile(raw json.RawMessage) (types.UserProfile, error) {
	obj, ok := decodeObject(raw)
	if !ok {
		return types.UserProfile{}, errors.New("profile is not an object")
	}
	p := types.UserProfile{
		UserID:       obj.str("userId", "user_id", "id"),
		Email:        obj.str("email"),
		Nickname:     obj.str("nickname"),
		Bio:          obj.str("bio"),
		ProfileImage: obj.str("profileImage", "profile_image_url", "profile_image"),
	}
	if p.UserID == "" {
		return types.UserProfile{}, errors.New("profile has no user id")
	}
	return p, nil
}
