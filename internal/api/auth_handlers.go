package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"example.com/activityadmin/internal/auth"
	"example.com/activityadmin/internal/identity"
)

// stateCookie carries the OAuth anti-forgery token between the redirect and
// the callback.
const stateCookie = "oauth_state"

const stateTTL = 10 * time.Minute

// AuthHandler serves the GitHub OAuth flow and the development login shortcut.
type AuthHandler struct {
	identity      *identity.Service
	allowedOrigin string
	tokenTTL      time.Duration
	secureCookies bool
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(service *identity.Service, allowedOrigin string, tokenTTL time.Duration, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		identity:      service,
		allowedOrigin: allowedOrigin,
		tokenTTL:      tokenTTL,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes wires the auth endpoints to the mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(APIPrefix+"/auth/github", h.githubRedirect)
	mux.HandleFunc(APIPrefix+"/auth/github/callback", h.githubCallback)
	mux.HandleFunc(APIPrefix+"/auth/dev-login", h.devLogin)
}

func (h *AuthHandler) githubRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	state, err := randomState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "failed to generate state")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     APIPrefix + "/auth",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.identity.AuthURL(state), http.StatusFound)
}

func (h *AuthHandler) githubCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.writeCallbackPage(w, callbackResult{Error: "provider error: " + errParam})
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.writeCallbackPage(w, callbackResult{Error: "missing code or state"})
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != state {
		h.writeCallbackPage(w, callbackResult{Error: "state mismatch"})
		return
	}
	clearCookie(w, stateCookie, APIPrefix+"/auth", h.secureCookies)

	session, err := h.identity.Login(r.Context(), code)
	if err != nil {
		log.Printf("github login failed: %v", err)
		h.writeCallbackPage(w, callbackResult{Error: "authentication failed"})
		return
	}

	h.setSessionCookie(w, session.Token)
	h.writeCallbackPage(w, callbackResult{Success: true, Email: session.Member.Email})
}

func (h *AuthHandler) devLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "email is required")
		return
	}

	session, err := h.identity.DevLogin(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, identity.ErrDevLoginDisabled) {
			writeError(w, http.StatusForbidden, "forbidden", "dev login is disabled")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication failed")
		return
	}

	h.setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":       session.Token,
		"email":       session.Member.Email,
		"permissions": session.Permissions,
		"expires_at":  session.ExpiresAt,
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

type callbackResult struct {
	Success bool   `json:"success"`
	Email   string `json:"email,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeCallbackPage answers the popup window with a tiny page that messages
// its opener and closes itself.
func (h *AuthHandler) writeCallbackPage(w http.ResponseWriter, result callbackResult) {
	message, err := json.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	origin, _ := json.Marshal(h.allowedOrigin)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !result.Success {
		w.WriteHeader(http.StatusUnauthorized)
	}
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html><head><title>Login</title></head><body><script>
if (window.opener) { window.opener.postMessage(` + string(message) + `, ` + string(origin) + `); }
window.close();
</script></body></html>`))
}

func clearCookie(w http.ResponseWriter, name, path string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
