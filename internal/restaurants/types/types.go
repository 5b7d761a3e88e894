// Package types holds the canonical restaurant model. Everything outside the
// normalization boundary in package restaurants only ever sees these shapes.
package types

import (
	"strconv"
	"strings"
	"time"
)

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DefaultLocation is Seoul City Hall, used whenever a coordinate is missing or out of range.
var DefaultLocation = Location{Lat: 37.5665, Lng: 126.9780}

// Valid reports whether the coordinate lies inside [-90,90] x [-180,180].
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

type Restaurant struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Address         string            `json:"address"`
	Location        Location          `json:"location"`
	Phone           string            `json:"phone,omitempty"`
	Category        Category          `json:"category"`
	OpeningHours    string            `json:"openingHours,omitempty"`
	ClosedDays      string            `json:"closedDays,omitempty"`
	DataSource      string            `json:"dataSource,omitempty"`
	Menus           []Menu            `json:"menus,omitempty"`
	AvailableLevels []VegetarianLevel `json:"availableLevels"`
	Rating          *float64          `json:"rating,omitempty"`
	ReviewCount     *int              `json:"reviewCount,omitempty"`
	ThumbnailURL    string            `json:"thumbnailUrl,omitempty"`
	ImageURLs       []string          `json:"imageUrls,omitempty"`
	CreatedAt       time.Time         `json:"createdAt,omitzero"`
	UpdatedAt       time.Time         `json:"updatedAt,omitzero"`
	IsBookmarked    bool              `json:"isBookmarked"`
}

type Menu struct {
	ID              int64           `json:"id"`
	RestaurantID    int64           `json:"restaurantId"`
	Name            string          `json:"name"`
	Price           *int            `json:"price,omitempty"`
	Description     string          `json:"description,omitempty"`
	Ingredients     string          `json:"ingredients,omitempty"`
	VegetarianLevel VegetarianLevel `json:"vegetarianLevel,omitempty"`
	ConfidenceScore float64         `json:"confidenceScore"`
	AnalyzedAt      *time.Time      `json:"analyzedAt,omitempty"`
}

// Analyzed reports whether the classifier has assigned a level.
func (m Menu) Analyzed() bool {
	return m.VegetarianLevel != LevelUnset
}

type Review struct {
	ID               int64     `json:"id"`
	RestaurantID     int64     `json:"restaurantId,omitempty"`
	RestaurantName   string    `json:"restaurantName,omitempty"`
	UserID           string    `json:"userId,omitempty"`
	Content          string    `json:"content"`
	Rating           int       `json:"rating"`
	CreatedAt        time.Time `json:"createdAt,omitzero"`
	UpdatedAt        time.Time `json:"updatedAt,omitzero"`
	UserName         string    `json:"userName"`
	UserProfileImage string    `json:"userProfileImage,omitempty"`
	Images           []string  `json:"images"`
}

type Bookmark struct {
	ID           int64      `json:"id"`
	RestaurantID int64      `json:"restaurantId"`
	Restaurant   Restaurant `json:"restaurant"`
	CreatedAt    time.Time  `json:"createdAt,omitzero"`
}

type UserProfile struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	Nickname     string `json:"nickname"`
	Bio          string `json:"bio,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// ProfileUpdate carries the mutable profile fields. Email is not among them.
type ProfileUpdate struct {
	Nickname     string `json:"nickname"`
	Bio          string `json:"bio"`
	ProfileImage string `json:"profileImage,omitempty"`
	// RemoveImage deletes the current photo when no new one is given.
	RemoveImage bool `json:"removeImage,omitempty"`
}

// ParseID accepts plain integers and the "rest-123" form used by older links.
func ParseID(s string) (int64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "rest-")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
