package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/conversion"
)

type ctxKey int

const sessionKey ctxKey = iota

// requestLogger logs one line per request with zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("api: request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// session attaches the funnel session ID from the cookie, issuing a new one
// when the cookie is missing.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := ""
		if c, err := r.Cookie(s.opts.CookieName); err == nil {
			if _, perr := uuid.Parse(c.Value); perr == nil {
				sid = c.Value
			}
		}
		if sid == "" {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     s.opts.CookieName,
				Value:    sid,
				Path:     "/",
				MaxAge:   int(s.opts.SessionTTL.Seconds()),
				HttpOnly: true,
				Secure:   s.opts.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sid)))
	})
}

func sessionID(r *http.Request) string {
	sid, _ := r.Context().Value(sessionKey).(string)
	return sid
}

// signals collects the browser identifiers sent with conversion events.
func signals(r *http.Request) conversion.Signals {
	sig := conversion.Signals{
		ClientIP:       conversion.ClientIP(r.Header.Get("X-Forwarded-For"), r.RemoteAddr),
		UserAgent:      r.UserAgent(),
		EventSourceURL: r.Referer(),
	}
	if c, err := r.Cookie("_fbp"); err == nil {
		sig.FBP = c.Value
	}
	if c, err := r.Cookie("_fbc"); err == nil {
		sig.FBC = c.Value
	}
	return sig
}
