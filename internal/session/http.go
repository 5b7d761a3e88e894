package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"veganagain/internal/backend"
)

type stateKey struct{}

func WithState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// FromContext returns the request's session. Handlers behind Middleware
// always have one.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(stateKey{}).(*State)
	return st
}

func (s *Store) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.now().Add(s.ttl),
		MaxAge:   int(s.ttl / time.Second),
	})
}

// ClearCookie removes the session cookie from the browser.
func (s *Store) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// FromRequest loads the session named by the cookie. The bool is true when
// a new session had to be started.
func (s *Store) FromRequest(r *http.Request) (*State, bool) {
	ctx := r.Context()
	cookie, err := r.Cookie(CookieName)
	if err == nil && cookie.Value != "" {
		st, err := s.Load(ctx, cookie.Value)
		if err == nil {
			return st, false
		}
		if !errors.Is(err, ErrNoSession) {
			slog.ErrorContext(ctx, "failed to load session", "error", err)
		}
	}
	return s.New(), true
}

func skipSession(path string) bool {
	switch path {
	case "/ready", "/metrics", "/favicon.ico", "/robots.txt", "/sitemap.xml":
		return true
	}
	return strings.HasPrefix(path, "/static/")
}

// Middleware attaches the session and the backend credentials to the request
// context and writes the session back when the handler changed it, or when it
// was last saved more than a seventh of the TTL ago so browsing alone keeps it
// alive. Concurrent requests from one browser race; the last save wins.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipSession(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		st, fresh := s.FromRequest(r)
		touch := !fresh && s.now().Sub(st.UpdatedAt) > s.ttl/7
		if fresh || touch {
			s.setCookie(w, st.ID)
		}
		before := st.fingerprint()
		creds := backend.NewCredentials(st.BackendCookies)
		ctx := backend.WithCredentials(WithState(r.Context(), st), creds)

		next.ServeHTTP(w, r.WithContext(ctx))

		if creds.Changed() && st.Auth.Status != AuthAnonymous {
			st.BackendCookies = creds.Snapshot()
		}
		if !touch && st.fingerprint() == before && !creds.Changed() {
			return
		}
		// the request may be gone by now; the write should still land.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Save(saveCtx, st); err != nil {
			slog.ErrorContext(ctx, "failed to save session", "session_id", st.ID, "error", err)
		}
	})
}

func IsHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// RedirectToLogin sends the browser to the login page. next is where login
// returns to; it must be a local path.
func RedirectToLogin(w http.ResponseWriter, r *http.Request, next string) {
	target := "/login"
	if SafeNext(next) != "/" {
		target += "?next=" + url.QueryEscape(next)
	}
	if IsHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// SafeNext keeps post-login redirects on this site.
func SafeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
