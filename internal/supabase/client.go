// Package supabase reads the menus and restaurants tables through the
// Supabase PostgREST endpoint.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veganagain/internal/backend"
)

const menuColumns = "menu_id,restaurant_id,menu_name,price,description,ingredients,vegetarian_level,confidence_score,analyzed_at"

type Config struct {
	URL        string
	AnonKey    string
	HTTPClient *http.Client
}

type Client struct {
	restURL string
	key     string
	http    *retryablehttp.Client
	tracer  trace.Tracer
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, fmt.Errorf("supabase anon key is required")
	}
	rc := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	} else {
		rc.HTTPClient.Timeout = 20 * time.Second
	}
	rc.RetryMax = 0
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = slog.Default()

	return &Client{
		restURL: strings.TrimRight(cfg.URL, "/") + "/rest/v1",
		key:     cfg.AnonKey,
		http:    rc,
		tracer:  otel.Tracer("veganagain/internal/supabase"),
	}, nil
}

// Menus returns the raw menu rows for one restaurant as a JSON array.
func (c *Client) Menus(ctx context.Context, restaurantID int64) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "supabase.menus", trace.WithAttributes(attribute.Int64("restaurant.id", restaurantID)))
	defer span.End()
	return c.get(ctx, span, "menus", url.Values{
		"select":        {menuColumns},
		"restaurant_id": {"eq." + strconv.FormatInt(restaurantID, 10)},
		"order":         {"menu_id.asc"},
	})
}

// Restaurant returns one row of the restaurants table, or nil when no row has
// that id.
func (c *Client) Restaurant(ctx context.Context, restaurantID int64) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "supabase.restaurant", trace.WithAttributes(attribute.Int64("restaurant.id", restaurantID)))
	defer span.End()
	body, err := c.get(ctx, span, "restaurants", url.Values{
		"select":        {"*"},
		"restaurant_id": {"eq." + strconv.FormatInt(restaurantID, 10)},
		"limit":         {"1"},
	})
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("restaurants response: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (c *Client) get(ctx context.Context, span trace.Span, table string, q url.Values) (json.RawMessage, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.restURL+"/"+table+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", table, err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, &backend.NetworkError{Operation: table, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, &backend.NetworkError{Operation: table, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var perr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &perr)
		span.SetStatus(codes.Error, resp.Status)
		return nil, &backend.StatusError{Operation: table, StatusCode: resp.StatusCode, Message: perr.Message}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s response was not valid JSON", table)
	}
	return body, nil
}
