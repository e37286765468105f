package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/capital-ledger/auth"
	"go.uber.org/zap"
)

// =============================================================================
// SESSION MIDDLEWARE
// =============================================================================

type contextKey int

const sessionKey contextKey = iota

func sessionFrom(ctx context.Context) auth.Session {
	sess, _ := ctx.Value(sessionKey).(auth.Session)
	return sess
}

// sessionToken reads the session cookie, falling back to a Bearer token.
func (h *Handler) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(h.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return ""
}

// RequireSession rejects requests without a live session and stores the
// session in the request context.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.Auth.Authenticate(r.Context(), h.sessionToken(r))
		if errors.Is(err, auth.ErrUnauthenticated) {
			h.clearCookie(w)
			writeError(w, http.StatusUnauthorized, "Please log in", nil)
			return
		}
		if err != nil {
			h.writeInternal(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

// rejectSession ends a session whose user or account is gone.
func (h *Handler) rejectSession(w http.ResponseWriter, r *http.Request, message string) {
	sess := sessionFrom(r.Context())
	zap.L().Warn("session refers to a missing account",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("account_id", string(sess.AccountID)),
		zap.String("user_id", string(sess.UserID)))

	if err := h.Auth.Logout(r.Context(), sess.Token); err != nil {
		zap.L().Warn("logout failed", zap.Error(err))
	}
	h.clearCookie(w)
	writeError(w, http.StatusUnauthorized, message, nil)
}

func (h *Handler) setCookie(w http.ResponseWriter, sess auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Signup registers a user and logs it in.
// POST /api/signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if isForm(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		req = SignupRequest{
			FirstName:       r.PostFormValue("firstname"),
			LastName:        r.PostFormValue("lastname"),
			Email:           r.PostFormValue("email"),
			Password:        r.PostFormValue("password"),
			ConfirmPassword: r.PostFormValue("confirmPassword"),
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, sess, err := h.Auth.Signup(r.Context(), auth.SignupInput{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	switch {
	case err == nil:
	case auth.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error(), nil)
		return
	default:
		h.writeInternal(w, r, err)
		return
	}

	h.setCookie(w, sess)
	writeJSON(w, http.StatusCreated, sessionResponse(user, sess))
}

// Login starts a session.
// POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if isForm(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		req = LoginRequest{Email: r.PostFormValue("email"), Password: r.PostFormValue("password")}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, sess, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if auth.IsLoginFailure(err) {
		writeError(w, http.StatusUnauthorized, err.Error(), nil)
		return
	}
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}

	h.setCookie(w, sess)
	writeJSON(w, http.StatusOK, sessionResponse(user, sess))
}

// Logout ends the current session. It succeeds without a session too.
// POST /api/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Logout(r.Context(), h.sessionToken(r)); err != nil {
		h.writeInternal(w, r, err)
		return
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func sessionResponse(u auth.User, sess auth.Session) SessionResponse {
	return SessionResponse{
		User:      toUserDTO(u),
		AccountID: string(sess.AccountID),
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
	}
}
