package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"veganagain/internal/backend"
	"veganagain/internal/session"
	"veganagain/internal/templates"
)

// Handler serves the login, signup and logout endpoints.
type Handler struct {
	store    *session.Store
	accounts Accounts
	now      func() time.Time
}

func NewHandler(store *session.Store, accounts Accounts) *Handler {
	return &Handler{store: store, accounts: accounts, now: time.Now}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /login", h.handleLoginPage)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("GET /signup", h.handleSignupPage)
	mux.HandleFunc("POST /signup", h.handleSignup)
	mux.HandleFunc("POST /logout", h.handleLogout)
}

type loginPage struct {
	templates.Page
	Email  string
	Next   string
	Notice string
	Error  string
	Errors map[string]string
}

type signupPage struct {
	templates.Page
	Email    string
	Nickname string
	Error    string
	Errors   map[string]string
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	next := session.SafeNext(r.URL.Query().Get("next"))
	if _, ok := st.User(); ok {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	notice := st.TakeFlash()
	h.renderLogin(w, r, http.StatusOK, loginPage{Page: st.Page("로그인"), Next: next, Notice: notice})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	data := loginPage{
		Page:  st.Page("로그인"),
		Email: email,
		Next:  session.SafeNext(r.FormValue("next")),
	}

	var verr ValidationError
	if err := ValidateLogin(email, password); errors.As(err, &verr) {
		data.Errors = verr
		h.renderLogin(w, r, http.StatusUnprocessableEntity, data)
		return
	}

	user, err := h.accounts.Login(ctx, email, password)
	if err != nil {
		status := http.StatusBadGateway
		if backend.KindOf(err) == backend.KindUnauthorized {
			data.Error = MsgBadCredentials
			status = http.StatusUnauthorized
		} else {
			slog.ErrorContext(ctx, "login failed", "error", err)
			data.Error = backend.Message(err)
		}
		h.renderLogin(w, r, status, data)
		return
	}

	st.SignIn(user, h.now())
	h.store.Rotate(ctx, w, st)
	slog.InfoContext(ctx, "user logged in", "user_id", user.UserID)
	http.Redirect(w, r, data.Next, http.StatusSeeOther)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data loginPage) {
	if data.Errors == nil {
		data.Errors = map[string]string{}
	}
	w.WriteHeader(status)
	if err := templates.Login.Execute(w, data); err != nil {
		slog.ErrorContext(r.Context(), "login template execute error", "error", err)
	}
}

func (h *Handler) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if _, ok := st.User(); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderSignup(w, r, http.StatusOK, signupPage{Page: st.Page("회원가입")})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	form := SignupForm{
		Email:           r.FormValue("email"),
		Nickname:        r.FormValue("nickname"),
		Password:        r.FormValue("password"),
		PasswordConfirm: r.FormValue("password_confirm"),
	}
	verr := ValidateSignup(&form)
	data := signupPage{Page: st.Page("회원가입"), Email: form.Email, Nickname: form.Nickname}
	if verr != nil {
		data.Errors, _ = verr.(ValidationError)
		h.renderSignup(w, r, http.StatusUnprocessableEntity, data)
		return
	}

	if err := h.accounts.Signup(ctx, form); err != nil {
		slog.WarnContext(ctx, "signup failed", "error", err)
		data.Error = backend.Message(err)
		status := backend.StatusCode(err)
		if status == 0 || status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		h.renderSignup(w, r, status, data)
		return
	}
	st.Flash = MsgSignedUp
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) renderSignup(w http.ResponseWriter, r *http.Request, status int, data signupPage) {
	if data.Errors == nil {
		data.Errors = map[string]string{}
	}
	w.WriteHeader(status)
	if err := templates.Signup.Execute(w, data); err != nil {
		slog.ErrorContext(r.Context(), "signup template execute error", "error", err)
	}
}

// handleLogout always signs the browser out locally, even when the backend
// call fails.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	if _, ok := st.User(); ok {
		if err := h.accounts.Logout(ctx); err != nil {
			slog.WarnContext(ctx, "backend logout failed", "error", err)
		}
	}
	st.SignOut(h.now())
	st.Flash = MsgSignedOut
	if session.IsHTMX(r) {
		w.Header().Set("HX-Redirect", "/")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
