package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"veganagain/internal/backend"
	"veganagain/internal/session"
	"veganagain/internal/templates"
)

// Restore resolves an unknown auth status once per session. Empty backend
// credentials mean anonymous without a round trip; a network failure leaves
// the status unknown so the next request tries again.
func Restore(ctx context.Context, st *session.State, accounts Accounts, now time.Time) {
	if st.Auth.Status != session.AuthUnknown {
		return
	}
	if backend.CredentialsFrom(ctx).Empty() {
		st.SignOut(now)
		return
	}
	user, err := accounts.Profile(ctx)
	switch {
	case err == nil:
		st.SignIn(user, now)
	case backend.KindOf(err) == backend.KindUnauthorized:
		st.SignOut(now)
	default:
		slog.WarnContext(ctx, "failed to restore session", "error", err)
	}
}

type Guard struct {
	accounts Accounts
	now      func() time.Time
}

func NewGuard(accounts Accounts) *Guard {
	return &Guard{accounts: accounts, now: time.Now}
}

// Restore is middleware; it must run inside session.Store.Middleware.
func (g *Guard) Restore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if st := session.FromContext(r.Context()); st != nil {
			Restore(r.Context(), st, g.accounts, g.now())
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser shows a loading page while the status is unknown, sends
// anonymous visitors to the login page and lets signed-in users through.
func (g *Guard) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		st := session.FromContext(ctx)
		if st == nil {
			http.Error(w, "no session", http.StatusInternalServerError)
			return
		}
		switch st.Auth.Status {
		case session.AuthAuthenticated:
			next(w, r)
		case session.AuthAnonymous:
			back := ""
			if r.Method == http.MethodGet {
				back = r.URL.RequestURI()
			}
			session.RedirectToLogin(w, r, back)
		default:
			w.Header().Set("Cache-Control", "no-store")
			if err := templates.Spin.Execute(w, nil); err != nil {
				slog.ErrorContext(ctx, "spinner template execute error", "error", err)
				http.Error(w, "template error", http.StatusInternalServerError)
			}
		}
	}
}
