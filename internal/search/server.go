package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"veganagain/internal/filters"
	"veganagain/internal/geo"
	"veganagain/internal/mapview"
	"veganagain/internal/restaurants"
	"veganagain/internal/restaurants/types"
	"veganagain/internal/session"
	"veganagain/internal/templates"
)

const MsgNoLocation = "현재 위치를 확인할 수 없습니다. 위치 권한을 허용해주세요."

// ConsentRecorder forwards the answer to the location prompt for signed-in users.
type ConsentRecorder interface {
	LocationConsent(ctx context.Context, consent bool) error
}

type server struct {
	repo     restaurants.Repository
	store    *session.Store
	consent  ConsentRecorder
	debounce time.Duration
	now      func() time.Time
	sockets  *sockets
}

// NewHandler serves the home page, the filter endpoints, the geolocation and
// map endpoints and the live search socket. consent may be nil.
func NewHandler(repo restaurants.Repository, store *session.Store, consent ConsentRecorder) *server {
	return &server{
		repo:     repo,
		store:    store,
		consent:  consent,
		debounce: DefaultDebounce,
		now:      time.Now,
		sockets:  &sockets{conns: map[*socket]struct{}{}},
	}
}

func (s *server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /search/ws", s.handleSocket)
	mux.HandleFunc("POST /filters/text", s.handleText)
	mux.HandleFunc("POST /filters/category", s.handleCategory)
	mux.HandleFunc("POST /filters/reset", s.handleReset)
	mux.HandleFunc("POST /location/permission", s.handlePermission)
	mux.HandleFunc("POST /location/request", s.handleRequest)
	mux.HandleFunc("POST /location/report", s.handleReport)
	mux.HandleFunc("POST /location/prompted", s.handlePrompted)
	mux.HandleFunc("POST /map/recenter", s.handleRecenter)
	mux.HandleFunc("POST /map/viewport", s.handleViewport)
}

// Shutdown closes every live search socket. http.Server.Shutdown does not
// track hijacked connections.
func (s *server) Shutdown() {
	s.sockets.closeAll()
}

type chip struct {
	Value    types.Category
	Label    string
	Emoji    string
	Selected bool
}

type item struct {
	Restaurant types.Restaurant
	Distance   string
}

type resultsView struct {
	Chips   []chip
	Success bool
	Error   string
	Count   int
	Items   []item
	Map     mapview.View
}

type homePage struct {
	templates.Page
	Filters            filters.Filters
	ShowLocationPrompt bool
	LocationError      string
	Map                mapview.View
	Results            resultsView
}

// runSearch fetches the results for the session's filters and records them.
// The map fits the result bounds only until the first location fix.
func (s *server) runSearch(ctx context.Context, st *session.State) resultsView {
	res := s.repo.Search(ctx, st.Filters.Text, st.Filters.Selected())
	fit := false
	if res.Success {
		st.RememberResults(st.Filters, res.Restaurants)
		st.Map, fit = st.Map.OnResults(st.Filters.Key())
	} else {
		st.ForgetResults()
		slog.WarnContext(ctx, "search failed", "keyword", st.Filters.Text, "error", res.Error)
	}
	return buildResults(st, res, fit)
}

func buildResults(st *session.State, res restaurants.SearchResult, fit bool) resultsView {
	v := resultsView{
		Success: res.Success,
		Error:   res.Error,
		Count:   res.Count,
		Chips: lo.Map(types.Categories, func(c types.Category, _ int) chip {
			return chip{Value: c, Label: c.Localized(), Emoji: c.Emoji(), Selected: st.Filters.Has(c)}
		}),
	}
	var here *types.Location
	if st.Geo.Granted() {
		loc := st.Geo.Center()
		here = &loc
	}
	v.Items = lo.Map(res.Restaurants, func(r types.Restaurant, _ int) item {
		it := item{Restaurant: r}
		if here != nil {
			it.Distance = geo.FormatDistance(geo.Distance(*here, r.Location))
		}
		return it
	})
	v.Map = mapview.Build(res.Restaurants, st.Map, st.Geo, fit)
	return v
}

func (s *server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	now := s.now()
	st.Geo = st.Geo.Expire(now)
	st.Map = st.Map.PageLoad()

	results := s.runSearch(ctx, st)
	data := homePage{
		Filters:            st.Filters,
		ShowLocationPrompt: st.Geo.ShouldPrompt(st.LocationPrompted),
		LocationError:      st.Geo.Error,
		Map:                results.Map,
		Results:            results,
		Page:               st.Page(""),
	}
	if err := templates.Home.Execute(w, data); err != nil {
		slog.ErrorContext(ctx, "home template execute error", "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

// respond re-renders the result area for HTMX and sends everyone else home.
// When prev is given and the submission left the filters as they were, the
// remembered results are shown without another fetch.
func (s *server) respond(w http.ResponseWriter, r *http.Request, st *session.State, prev *filters.Filters) {
	if !session.IsHTMX(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	view, ok := cachedResults(st, prev)
	if !ok {
		view = s.runSearch(r.Context(), st)
	}
	if err := templates.Results.Execute(w, view); err != nil {
		slog.ErrorContext(r.Context(), "results template execute error", "error", err)
	}
}

func cachedResults(st *session.State, prev *filters.Filters) (resultsView, bool) {
	if prev == nil || !st.Filters.Equal(*prev) {
		return resultsView{}, false
	}
	list, ok := st.CachedResults(st.Filters)
	if !ok {
		return resultsView{}, false
	}
	return buildResults(st, restaurants.SearchResult{Success: true, Count: len(list), Restaurants: list}, false), true
}

// handleSearch without parameters is the retry button and always fetches.
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	q := r.URL.Query()
	if !q.Has("keyword") && !q.Has("category") {
		s.respond(w, r, st, nil)
		return
	}
	prev := st.Filters
	st.Filters = filters.Parse(q.Get("keyword"), q["category"])
	s.respond(w, r, st, &prev)
}

func (s *server) handleText(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	prev := st.Filters
	st.Filters = st.Filters.SetSearchText(r.FormValue("text"))
	s.respond(w, r, st, &prev)
}

func (s *server) handleCategory(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	st.Filters = st.Filters.ToggleCategory(types.Category(r.FormValue("category")))
	s.respond(w, r, st, nil)
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	prev := st.Filters
	st.Filters = filters.ResetFilters()
	s.respond(w, r, st, &prev)
}

type locationResponse struct {
	Status  geo.Status    `json:"status"`
	Error   string        `json:"error,omitempty"`
	View    *mapview.View `json:"view,omitempty"`
	Visible *int          `json:"visible,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to write json response", "error", err)
	}
}

func (s *server) handlePermission(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	st.Geo = st.Geo.CheckPermission(geo.ParsePermission(r.FormValue("state")))
	writeJSON(w, r, locationResponse{Status: st.Geo.Status, Error: st.Geo.Error})
}

func (s *server) handleRequest(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	st.Geo = st.Geo.RequestLocation(s.now())
	writeJSON(w, r, locationResponse{Status: st.Geo.Status})
}

// handleReport takes either a position (lat, lng, accuracy) or a
// GeolocationPositionError code.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	now := s.now()

	lat, latErr := strconv.ParseFloat(r.FormValue("lat"), 64)
	lng, lngErr := strconv.ParseFloat(r.FormValue("lng"), 64)
	if latErr == nil && lngErr == nil {
		accuracy, _ := strconv.ParseFloat(r.FormValue("accuracy"), 64)
		var err error
		st.Geo, err = st.Geo.Resolve(types.Location{Lat: lat, Lng: lng}, accuracy, now)
		if err != nil {
			slog.WarnContext(ctx, "discarding invalid position", "lat", lat, "lng", lng)
		}
	} else {
		code, _ := strconv.Atoi(r.FormValue("code"))
		st.Geo = st.Geo.Fail(geo.ErrorCode(code), now)
	}

	var recentered bool
	st.Map, recentered = st.Map.OnLocationFix(st.Geo)
	if recentered {
		slog.InfoContext(ctx, "map centered on first location fix")
	}
	view := mapview.Build(st.LastResults, st.Map, st.Geo, false)
	writeJSON(w, r, locationResponse{Status: st.Geo.Status, Error: st.Geo.Error, View: &view})
}

func (s *server) handlePrompted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	st.LocationPrompted = true
	consent := r.FormValue("consent") == "yes"
	if _, ok := st.User(); ok && s.consent != nil {
		if err := s.consent.LocationConsent(ctx, consent); err != nil {
			slog.WarnContext(ctx, "failed to record location consent", "error", err)
		}
	}
	writeJSON(w, r, locationResponse{Status: st.Geo.Status})
}

func (s *server) handleRecenter(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	m, err := st.Map.MoveToMyLocation(st.Geo)
	if err != nil {
		writeJSON(w, r, locationResponse{Status: st.Geo.Status, Error: MsgNoLocation})
		return
	}
	st.Map = m
	view := mapview.Build(st.LastResults, st.Map, st.Geo, false)
	writeJSON(w, r, locationResponse{Status: st.Geo.Status, View: &view})
}

func (s *server) handleViewport(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	num := func(key string) (float64, bool) {
		v, err := strconv.ParseFloat(r.FormValue(key), 64)
		return v, err == nil
	}
	lat, ok1 := num("lat")
	lng, ok2 := num("lng")
	south, ok3 := num("south")
	west, ok4 := num("west")
	north, ok5 := num("north")
	east, ok6 := num("east")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		http.Error(w, "invalid viewport", http.StatusBadRequest)
		return
	}
	bounds := geo.Bounds{South: south, West: west, North: north, East: east}
	st.Map = st.Map.OnPan(types.Location{Lat: lat, Lng: lng}, bounds)
	visible := len(mapview.Visible(st.LastResults, bounds))
	writeJSON(w, r, locationResponse{Status: st.Geo.Status, Visible: &visible})
}

type socket struct {
	close func() error
}

type sockets struct {
	mu    sync.Mutex
	conns map[*socket]struct{}
}

func (s *sockets) add(sock *socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sock] = struct{}{}
}

func (s *sockets) remove(sock *socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, sock)
}

func (s *sockets) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sock := range s.conns {
		_ = sock.close()
	}
}
