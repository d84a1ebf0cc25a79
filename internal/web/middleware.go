package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"worksched/internal/auth"
	appLog "worksched/internal/log"
)

type authSource int

const (
	viaCookie authSource = iota + 1
	viaBearer
)

type authSourceKey struct{}

func contextWithAuthSource(ctx context.Context, src authSource) context.Context {
	return context.WithValue(ctx, authSourceKey{}, src)
}

func authSourceFrom(ctx context.Context) authSource {
	src, _ := ctx.Value(authSourceKey{}).(authSource)
	return src
}

// requireAuth accepts an access token from the access_token cookie or an
// Authorization: Bearer header.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, src := "", authSource(0)
		if h := r.Header.Get("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token, src = strings.TrimSpace(parts[1]), viaBearer
			}
		}
		if token == "" {
			if ck, err := r.Cookie(cookieAccess); err == nil {
				token, src = ck.Value, viaCookie
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		id, err := s.tokens.Parse(token, auth.KindAccess)
		if err != nil {
			appLog.Debug("rejected access token", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		ctx := auth.WithUserID(r.Context(), id)
		ctx = contextWithAuthSource(ctx, src)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireCSRF enforces the double-submit check for cookie sessions. Bearer
// callers carry no ambient credentials and are exempt.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authSourceFrom(r.Context()) == viaBearer {
			next.ServeHTTP(w, r)
			return
		}
		var cookie string
		if ck, err := r.Cookie(cookieCSRF); err == nil {
			cookie = ck.Value
		}
		if !auth.CSRFMatch(cookie, r.Header.Get(headerCSRF)) {
			writeError(w, http.StatusForbidden, "CSRF token missing or invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setSessionCookies issues access, refresh and CSRF cookies for userID and
// returns the CSRF token.
func (s *Server) setSessionCookies(w http.ResponseWriter, userID int64, withRefresh bool) (string, error) {
	access, err := s.tokens.Access(userID)
	if err != nil {
		return "", err
	}
	csrf, err := auth.NewCSRFToken()
	if err != nil {
		return "", err
	}
	accessAge := int(s.tokens.AccessTTL() / time.Second)

	http.SetCookie(w, s.cookie(cookieAccess, access, accessAge, true))
	http.SetCookie(w, s.cookie(cookieCSRF, csrf, accessAge, false))
	if withRefresh {
		refresh, err := s.tokens.Refresh(userID)
		if err != nil {
			return "", err
		}
		http.SetCookie(w, s.cookie(cookieRefresh, refresh, int(s.tokens.RefreshTTL()/time.Second), true))
	}
	return csrf, nil
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieAccess, cookieRefresh, cookieCSRF} {
		http.SetCookie(w, s.cookie(name, "", -1, name != cookieCSRF))
	}
}

func (s *Server) cookie(name, value string, maxAge int, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   s.cfg.Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
