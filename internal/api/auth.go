package api

import (
	"errors"
	"net/http"

	"github.com/marin/crate/internal/serverdb"
)

// refreshCookie is the cookie carrying the long-lived refresh token.
const refreshCookie = "crate_refresh"

type refreshResponse struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// handleRefresh exchanges a refresh-token cookie for a short-lived access
// token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookie)
	if err != nil || cookie.Value == "" {
		s.metrics.refreshes.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing refresh token")
		return
	}

	userID, err := s.store.UserForRefreshToken(cookie.Value)
	if errors.Is(err, serverdb.ErrNotFound) {
		s.metrics.refreshes.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or revoked refresh token")
		return
	}
	if err != nil {
		logFor(r.Context()).Error("lookup refresh token", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify refresh token")
		return
	}

	token, err := s.store.IssueAccessToken(userID, s.config.AccessTokenTTL())
	if err != nil {
		logFor(r.Context()).Error("issue access token", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to issue token")
		return
	}

	s.metrics.refreshes.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, refreshResponse{
		UserID:      userID,
		AccessToken: token,
		ExpiresIn:   s.config.AccessTokenTTLSeconds,
	})
}

// handleRevoke revokes the session behind the refresh-token cookie, ending
// it for every device that holds the token.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing refresh token")
		return
	}

	if err := s.store.RevokeSession(cookie.Value); err != nil {
		if errors.Is(err, serverdb.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or revoked refresh token")
			return
		}
		logFor(r.Context()).Error("revoke session", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to revoke session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
