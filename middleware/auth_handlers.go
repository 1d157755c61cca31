package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/gatekeep"
)

// ErrInvalidCredentials is returned by an [Authenticator] to reject a login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator checks the credentials carried by a login request and
// returns the subject and role to issue tokens for.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (subject, role string, err error)
}

// AuthenticatorFunc adapts a function to [Authenticator].
type AuthenticatorFunc func(ctx context.Context, r *http.Request) (string, string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) (string, string, error) {
	return f(ctx, r)
}

// CookieConfig controls the refresh cookie. HttpOnly, Secure and
// SameSite=Strict are always set.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
}

// AuthHandlers serves the token endpoints.
type AuthHandlers struct {
	engine *gatekeep.Engine
	authn  Authenticator

	// Cookie defaults to name "gk_refresh" and path "/auth".
	Cookie CookieConfig
	// RateClass is charged once per request to every endpoint.
	RateClass string
}

// TokenResponse is the JSON body of a successful login or refresh.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewAuthHandlers returns handlers issuing tokens through engine for subjects
// accepted by authn.
func NewAuthHandlers(engine *gatekeep.Engine, authn Authenticator) *AuthHandlers {
	return &AuthHandlers{
		engine:    engine,
		authn:     authn,
		Cookie:    CookieConfig{Name: "gk_refresh", Path: "/auth"},
		RateClass: "auth",
	}
}

// Register mounts the endpoints on mux under prefix, e.g. "/auth".
func (h *AuthHandlers) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/login", h.Login)
	mux.HandleFunc("POST "+prefix+"/refresh", h.Refresh)
	mux.HandleFunc("POST "+prefix+"/logout", h.Logout)
	mux.HandleFunc("POST "+prefix+"/logout-all", h.LogoutAll)
}

// Login authenticates the caller, then issues an access token in the body and
// a refresh token in the cookie.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.admit(w, r)
	if !ok {
		return
	}

	subject, role, err := h.authn.Authenticate(ctx, r)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
			return
		}
		writeError(w, err)
		return
	}

	pair, err := h.engine.Login(ctx, subject, role)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writePair(w, pair)
}

// Refresh rotates the refresh cookie. Replayed or revoked tokens clear the
// cookie and answer 403.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.admit(w, r)
	if !ok {
		return
	}

	c, err := r.Cookie(h.Cookie.Name)
	if err != nil || c.Value == "" {
		writeError(w, gatekeep.ErrUnauthenticated)
		return
	}

	pair, err := h.engine.Refresh(ctx, c.Value)
	if err != nil {
		switch gatekeep.HTTPStatus(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			h.clearCookie(w)
		}
		writeError(w, err)
		return
	}
	h.writePair(w, pair)
}

// Logout revokes the refresh cookie's record and clears the cookie. It
// succeeds for missing or unusable cookies.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.admit(w, r)
	if !ok {
		return
	}

	if c, err := r.Cookie(h.Cookie.Name); err == nil && c.Value != "" {
		err := h.engine.Logout(ctx, c.Value)
		if gatekeep.KindOf(err) == gatekeep.KindUnavailable {
			writeError(w, err)
			return
		}
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every refresh token of the subject named by the bearer
// access token.
func (h *AuthHandlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.admit(w, r)
	if !ok {
		return
	}

	claims, err := h.engine.Verify(ctx, gatekeep.BearerToken(r.Header.Get("Authorization")))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.engine.LogoutAll(ctx, claims.Subject); err != nil {
		writeError(w, err)
		return
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) admit(w http.ResponseWriter, r *http.Request) (context.Context, bool) {
	if h.engine == nil || h.authn == nil {
		writeError(w, errors.New("auth handlers not configured"))
		return nil, false
	}
	ip := ClientIP(r)
	ctx := gatekeep.WithClientIP(r.Context(), ip)

	dec, err := h.engine.Admit(ctx, h.RateClass, ip)
	SetRateLimitHeaders(w.Header(), &dec)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return ctx, true
}

func (h *AuthHandlers) writePair(w http.ResponseWriter, pair gatekeep.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    pair.RefreshToken,
		Path:     h.Cookie.Path,
		Domain:   h.Cookie.Domain,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   pair.AccessExpiresAt,
	})
}

func (h *AuthHandlers) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    "",
		Path:     h.Cookie.Path,
		Domain:   h.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

