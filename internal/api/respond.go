package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/xivmarket/internal/market"
	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/resilience"
	"github.com/sells-group/xivmarket/internal/store"
)

const (
	headerUserID    = "X-User-ID"
	headerModerator = "X-Moderator"
)

var errBadRequest = eris.New("api: bad request")

func badRequest(format string, args ...any) error {
	return eris.Wrapf(errBadRequest, format, args...)
}

type ctxKey int

const actorKey ctxKey = iota

// identify reads the caller identity headers. Requests without a valid
// X-User-ID carry the zero actor.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actor market.Actor
		if raw := r.Header.Get(headerUserID); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				writeError(w, r, badRequest("invalid %s %q", headerUserID, raw))
				return
			}
			actor.ID = id
			actor.Moderator, _ = strconv.ParseBool(r.Header.Get(headerModerator))
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(ctx context.Context) market.Actor {
	a, _ := ctx.Value(actorKey).(market.Actor)
	return a
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorFrom(r.Context()).ID == 0 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": headerUserID + " is required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireModerator(next http.Handler) http.Handler {
	return requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).Moderator {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "moderator only"})
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("component", "api"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// statusOf maps service errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, market.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrUnknownItem),
		errors.Is(err, market.ErrPriceNotFound),
		errors.Is(err, store.ErrFlagNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicatePrice), errors.Is(err, market.ErrWatchLimit):
		return http.StatusConflict
	case errors.Is(err, market.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, resilience.ErrBreakerOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// parseTimestamp accepts unix seconds or RFC 3339.
func parseTimestamp(raw string) (time.Time, error) {
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequest("invalid timestamp %q", raw)
	}
	return ts.UTC(), nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}

// queryDuration parses a Go duration such as "24h". Empty yields def.
func queryDuration(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return d, nil
}

func queryLanguage(r *http.Request) (model.Language, error) {
	raw := r.URL.Query().Get("lang")
	if raw == "" {
		return model.LanguageEnglish, nil
	}
	lang, ok := model.ParseLanguage(raw)
	if !ok {
		return "", badRequest("unsupported lang %q", raw)
	}
	return lang, nil
}
