// Package session keeps per-browser application state on the server: the
// signed-in user, backend credentials, search filters, geolocation and map
// state. A Store is created once per process and injected into handlers.
package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/google/uuid"

	"veganagain/internal/cache"
	"veganagain/internal/config"
	"veganagain/internal/filters"
	"veganagain/internal/geo"
	"veganagain/internal/mapview"
	"veganagain/internal/restaurants/types"
	"veganagain/internal/templates"
)

const (
	CookieName = "veganagain_session"
	keyPrefix  = "session/"
	// MaxResults bounds how many search results are remembered for detail lookups.
	MaxResults = 200
)

var ErrNoSession = errors.New("session not found")

type AuthStatus string

const (
	AuthUnknown       AuthStatus = "unknown"
	AuthAuthenticated AuthStatus = "authenticated"
	AuthAnonymous     AuthStatus = "anonymous"
)

type Auth struct {
	Status    AuthStatus         `json:"status"`
	User      *types.UserProfile `json:"user,omitempty"`
	CheckedAt time.Time          `json:"checkedAt,omitzero"`
}

// State is everything remembered about one browser.
type State struct {
	ID               string             `json:"id"`
	Auth             Auth               `json:"auth"`
	BackendCookies   map[string]string  `json:"backendCookies,omitempty"`
	Filters          filters.Filters    `json:"filters"`
	Geo              geo.State          `json:"geo"`
	Map              mapview.State      `json:"map"`
	LocationPrompted bool               `json:"locationPrompted"`
	LastResults      []types.Restaurant `json:"lastResults,omitempty"`
	// ResultsFor is set while LastResults is the complete answer for those filters.
	ResultsFor *filters.Filters `json:"resultsFor,omitempty"`
	// Flash is shown once on the next rendered page.
	Flash     string    `json:"flash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newState(now time.Time) *State {
	return &State{
		ID:        uuid.NewString(),
		Auth:      Auth{Status: AuthUnknown},
		Geo:       geo.New(),
		Map:       mapview.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SignIn records a successful login or restore.
func (st *State) SignIn(user types.UserProfile, now time.Time) {
	st.Auth = Auth{Status: AuthAuthenticated, User: &user, CheckedAt: now}
	st.ForgetResults()
}

// SignOut forgets the user and the backend credentials.
func (st *State) SignOut(now time.Time) {
	st.Auth = Auth{Status: AuthAnonymous, CheckedAt: now}
	st.BackendCookies = nil
	st.ForgetResults()
}

func (st *State) User() (types.UserProfile, bool) {
	if st.Auth.Status != AuthAuthenticated || st.Auth.User == nil {
		return types.UserProfile{}, false
	}
	return *st.Auth.User, true
}

// Page builds the header data for a full page and consumes the flash.
func (st *State) Page(title string) templates.Page {
	p := templates.Page{Title: title, Flash: st.TakeFlash()}
	if user, ok := st.User(); ok {
		p.User = &user
	}
	return p
}

// RememberResults keeps the latest result set for f, replacing the previous one.
func (st *State) RememberResults(f filters.Filters, list []types.Restaurant) {
	st.ResultsFor = &f
	if len(list) > MaxResults {
		list = list[:MaxResults]
		st.ResultsFor = nil
	}
	st.LastResults = list
}

// CachedResults returns the remembered set when it answers f in full.
func (st *State) CachedResults(f filters.Filters) ([]types.Restaurant, bool) {
	if st.ResultsFor == nil || !st.ResultsFor.Equal(f) {
		return nil, false
	}
	return st.LastResults, true
}

// ForgetResults keeps LastResults for detail lookups but stops it answering
// searches.
func (st *State) ForgetResults() {
	st.ResultsFor = nil
}

// TakeFlash returns and clears the one-shot notice.
func (st *State) TakeFlash() string {
	msg := st.Flash
	st.Flash = ""
	return msg
}

func (st *State) fingerprint() [32]byte {
	b, err := json.Marshal(st)
	if err != nil {
		return [32]byte{}
	}
	return sha256.Sum256(b)
}

type Store struct {
	cache    cache.ListCache
	identity *age.X25519Identity
	ttl      time.Duration
	secure   bool
	now      func() time.Time
}

// NewStore encrypts sessions with the configured age identity. Without one a
// key is generated and sessions do not survive a restart.
func NewStore(c cache.ListCache, cfg config.SessionConfig) (*Store, error) {
	var identity *age.X25519Identity
	var err error
	if cfg.AgeIdentity != "" {
		identity, err = age.ParseX25519Identity(strings.TrimSpace(cfg.AgeIdentity))
		if err != nil {
			return nil, fmt.Errorf("parse session identity: %w", err)
		}
	} else {
		slog.Warn("SESSION_AGE_IDENTITY not set; using an ephemeral session key")
		identity, err = age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate session identity: %w", err)
		}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{cache: c, identity: identity, ttl: ttl, secure: cfg.SecureCookie, now: time.Now}, nil
}

// Init checks that the backing cache accepts writes.
func (s *Store) Init(ctx context.Context) error {
	key := keyPrefix + "probe"
	if err := s.cache.Put(ctx, key, "ok", cache.PutOptions{}); err != nil {
		return fmt.Errorf("session cache not writable: %w", err)
	}
	return s.cache.Delete(ctx, key)
}

// Close releases the cache when it holds resources.
func (s *Store) Close() error {
	if c, ok := s.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) New() *State {
	return newState(s.now())
}

func (s *Store) Load(ctx context.Context, id string) (*State, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNoSession
	}
	sealed, err := cache.GetString(ctx, s.cache, keyPrefix+id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	plain, err := s.open(sealed)
	if err != nil {
		// sealed with another key, e.g. an ephemeral one before a restart.
		slog.WarnContext(ctx, "discarding unreadable session", "error", err)
		return nil, ErrNoSession
	}
	var st State
	if err := json.Unmarshal(plain, &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.expired(&st) {
		return nil, ErrNoSession
	}
	st.ID = id
	return &st, nil
}

func (s *Store) expired(st *State) bool {
	return s.now().Sub(st.UpdatedAt) > s.ttl
}

func (s *Store) Save(ctx context.Context, st *State) error {
	st.UpdatedAt = s.now()
	plain, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}
	if err := s.cache.Put(ctx, keyPrefix+st.ID, sealed, cache.PutOptions{}); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, keyPrefix+id); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Rotate moves st to a fresh id, used after login so a pre-login id cannot
// be reused.
func (s *Store) Rotate(ctx context.Context, w http.ResponseWriter, st *State) {
	old := st.ID
	st.ID = uuid.NewString()
	if err := s.Delete(ctx, old); err != nil {
		slog.WarnContext(ctx, "failed to delete rotated session", "error", err)
	}
	s.setCookie(w, st.ID)
}

// List returns the ids of every stored session.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.cache.List(ctx, keyPrefix, "")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return keys, nil
}

// Purge deletes expired and unreadable sessions and returns how many it removed.
func (s *Store) Purge(ctx context.Context) (int, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		_, err := s.Load(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNoSession) {
			slog.WarnContext(ctx, "failed to read session during purge", "session_id", id, "error", err)
		}
		if err := s.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) seal(plain []byte) (string, error) {
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, s.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("encrypt session: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return "", fmt.Errorf("encrypt session: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encrypt session: %w", err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("armor session: %w", err)
	}
	return buf.String(), nil
}

func (s *Store) open(sealed string) ([]byte, error) {
	r, err := age.Decrypt(armor.NewReader(strings.NewReader(sealed)), s.identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
