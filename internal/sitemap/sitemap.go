package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"veganagain/internal/restaurants"
	"veganagain/internal/restaurants/types"
)

type searcher interface {
	Search(ctx context.Context, text string, categories []types.Category) restaurants.SearchResult
}

type Server struct {
	repo searcher
}

const robots = `# Allow all search engines to crawl the public pages
User-agent: *
Allow: /
Disallow: /mypage
Disallow: /login
Disallow: /signup

# Sitemap location
Sitemap: %s/sitemap.xml
`

func New(repo searcher) *Server {
	return &Server{repo: repo}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /sitemap.xml", s.handleSitemap)
	mux.HandleFunc("GET /robots.txt", s.handleRobots)
}

type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	Xmlns   string     `xml:"xmlns,attr"`
	URLs    []urlEntry `xml:"url"`
}

type urlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// origin is the scheme and host the crawler used, honoring a TLS-terminating proxy.
func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := s.repo.Search(ctx, "", nil)
	if !res.Success {
		slog.ErrorContext(ctx, "failed to list restaurants for sitemap", "error", res.Error)
		http.Error(w, "failed to load sitemap", http.StatusBadGateway)
		return
	}
	base := origin(r)
	entries := make([]urlEntry, 0, len(res.Restaurants)+1)
	entries = append(entries, urlEntry{Loc: base + "/"})
	for _, rest := range res.Restaurants {
		entries = append(entries, urlEntry{Loc: base + "/restaurants/" + strconv.FormatInt(rest.ID, 10)})
	}
	slog.InfoContext(ctx, "serving sitemap", "count", len(entries))

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		slog.ErrorContext(ctx, "failed to write sitemap header", "error", err)
		return
	}
	if err := xml.NewEncoder(w).Encode(urlSet{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  entries,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to encode sitemap", "error", err)
	}
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := fmt.Fprintf(w, robots, origin(r)); err != nil {
		slog.ErrorContext(r.Context(), "failed to write robots.txt", "error", err)
	}
}
