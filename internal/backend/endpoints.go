package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Search calls GET /search. keyword and category are sent verbatim; callers
// trim and localize them.
func (c *Client) Search(ctx context.Context, keyword, category string) (*Envelope, error) {
	return c.do(ctx, request{
		operation: "search",
		method:    http.MethodGet,
		path:      "/search",
		query:     url.Values{"keyword": {keyword}, "category": {category}},
	})
}

func (c *Client) Bookmarks(ctx context.Context) (*Envelope, error) {
	return c.do(ctx, request{operation: "list_bookmarks", method: http.MethodGet, path: "/users/bookmarks"})
}

func (c *Client) AddBookmark(ctx context.Context, restaurantID int64) (*Envelope, error) {
	return c.do(ctx, request{
		operation: "add_bookmark",
		method:    http.MethodPost,
		path:      "/users/bookmarks/" + strconv.FormatInt(restaurantID, 10),
	})
}

func (c *Client) RemoveBookmark(ctx context.Context, restaurantID int64) (*Envelope, error) {
	return c.do(ctx, request{
		operation: "remove_bookmark",
		method:    http.MethodDelete,
		path:      "/users/bookmarks/" + strconv.FormatInt(restaurantID, 10),
	})
}

func (c *Client) RestaurantReviews(ctx context.Context, restaurantID int64) (*Envelope, error) {
	return c.do(ctx, request{
		operation: "list_reviews",
		method:    http.MethodGet,
		path:      fmt.Sprintf("/restaurants/%d/reviews", restaurantID),
		query:     url.Values{"page": {"1"}, "limit": {"100"}},
	})
}

// NewReview is the POST /restaurants/:id/reviews body. Image is either a
// data:image/... URL or an http(s) URL.
type NewReview struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Rating  int    `json:"rating"`
	Image   string `json:"image,omitempty"`
}

func (c *Client) CreateReview(ctx context.Context, restaurantID int64, review NewReview) (*Envelope, error) {
	return c.do(ctx, request{
		operation: "create_review",
		method:    http.MethodPost,
		path:      fmt.Sprintf("/restaurants/%d/reviews", restaurantID),
		body:      review,
	})
}

// ReviewUpdate is the PUT /reviews/:id body. Rating zero leaves it unchanged.
type ReviewUpdate struct {
	Content string `json:"content"`
	Rating  int    `json:"rating,omitempty"`
}

func (c *Client) UpdateReview(ctx context.Context, reviewID int64, update ReviewUpdate) (*Envelope, error) {
	return c.do(ctx, request{
		operation: "update_review",
		method:    http.MethodPut,
		path:      "/reviews/" + strconv.FormatInt(reviewID, 10),
		body:      update,
	})
}

func (c *Client) DeleteReview(ctx context.Context, reviewID int64) error {
	_, err := c.do(ctx, request{
		operation: "delete_review",
		method:    http.MethodDelete,
		path:      "/reviews/" + strconv.FormatInt(reviewID, 10),
	})
	return err
}

func (c *Client) UserReviews(ctx context.Context) (*Envelope, error) {
	return c.do(ctx, request{operation: "user_reviews", method: http.MethodGet, path: "/users/reviews"})
}

func (c *Client) Profile(ctx context.Context) (*Envelope, error) {
	return c.do(ctx, request{operation: "get_profile", method: http.MethodGet, path: "/users/profile"})
}

// ProfileUpdate mirrors PUT /users/profile. An empty bio clears it. The
// backend deletes the stored photo when profileImage is present but empty, so
// ProfileImage stays nil unless the photo changes.
type ProfileUpdate struct {
	Nickname     string  `json:"nickname"`
	Bio          string  `json:"bio"`
	ProfileImage *string `json:"profileImage,omitempty"`
}

func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Envelope, error) {
	return c.do(ctx, request{
		operation: "update_profile",
		method:    http.MethodPut,
		path:      "/users/profile",
		body:      update,
	})
}

// UploadImage posts a data URL to /uploads/image and returns the stored image URL.
func (c *Client) UploadImage(ctx context.Context, dataURL, userID string) (string, error) {
	env, err := c.do(ctx, request{
		operation: "upload_image",
		method:    http.MethodPost,
		path:      "/uploads/image",
		body:      map[string]string{"image": dataURL, "userId": userID},
	})
	if err != nil {
		return "", err
	}
	// the url may live at the top level or under data depending on deployment.
	var data struct {
		ImageURL string `json:"imageUrl"`
	}
	if len(env.Data) > 0 && env.Data[0] == '{' {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("decode upload data: %w", err)
		}
	}
	u := firstNonEmpty(env.ImageURL, data.ImageURL, env.URL)
	if u == "" {
		return "", fmt.Errorf("upload image: %w", errMissingData)
	}
	return u, nil
}

type Signup struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Nickname        string `json:"nickname"`
}

func (c *Client) Signup(ctx context.Context, s Signup) (*Envelope, error) {
	s.Email = strings.TrimSpace(s.Email)
	return c.do(ctx, request{operation: "signup", method: http.MethodPost, path: "/auth/signup", body: s})
}

// Login posts credentials. The session cookie it sets is captured into the
// Credentials carried by ctx.
func (c *Client) Login(ctx context.Context, email, password string) (*Envelope, error) {
	return c.do(ctx, request{
		operation: "login",
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      map[string]string{"email": strings.TrimSpace(email), "password": password},
	})
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, request{operation: "logout", method: http.MethodPost, path: "/auth/logout"})
	return err
}

func (c *Client) LocationConsent(ctx context.Context, consent bool) error {
	_, err := c.do(ctx, request{
		operation: "location_consent",
		method:    http.MethodPost,
		path:      "/users/location-consent",
		body:      map[string]bool{"consent": consent},
	})
	return err
}
