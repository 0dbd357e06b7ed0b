package api

import (
	"math"
	"net/http"
	"time"

	"github.com/sells-group/xivmarket/internal/model"
)

const (
	defaultMaxAge      = 24 * time.Hour
	defaultStaleMinAge = 24 * time.Hour
	defaultStaleMaxAge = 30 * 24 * time.Hour
)

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Collect(r.Context(), s.opts.StaleAfterHours)
	status, code := "ok", http.StatusOK
	if !snap.Healthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "metrics": snap})
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Collect(r.Context(), s.opts.StaleAfterHours)
	watched, err := s.svc.MostWatched(r.Context(), 10)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":      snap,
		"most_watched": watched,
	})
}

func (s *server) createItem(w http.ResponseWriter, r *http.Request) {
	var item model.Item
	if err := decode(r, &item); err != nil {
		writeError(w, r, err)
		return
	}
	if item.ID <= 0 || item.Name.EN == "" {
		writeError(w, r, badRequest("id and name.en are required"))
		return
	}
	created, err := s.svc.CreateItem(r.Context(), item)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ref, ok := s.svc.Item(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (s *server) report(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	lang, err := queryLanguage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rep, ok, err := s.svc.ItemReport(r.Context(), id, lang)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := queryDuration(r, "window", 7*24*time.Hour)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, ok := s.svc.Item(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return
	}
	prices, err := s.svc.History(r.Context(), id, s.svc.Now().Add(-window))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (s *server) related(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	lang, err := queryLanguage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, ok := s.svc.Item(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return
	}
	rel, err := s.svc.Related(r.Context(), id, lang)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *server) setRelated(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var rel model.Related
	if err := decode(r, &rel); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.SetRelated(r.Context(), id, rel); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) recent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	maxAge, err := queryDuration(r, "max_age", defaultMaxAge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.RecentlyUpdated(limit, maxAge))
}

func (s *server) valuable(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	maxAge, err := queryDuration(r, "max_age", defaultMaxAge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	minValue, err := queryInt64(r, "min_value")
	if err != nil {
		writeError(w, r, err)
		return
	}
	maxValue, err := queryInt64(r, "max_value")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if maxValue == 0 {
		maxValue = math.MaxInt64
	}
	writeJSON(w, http.StatusOK, s.svc.MostValuable(limit, maxAge, minValue, maxValue))
}

func (s *server) noSupply(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	maxAge, err := queryDuration(r, "max_age", defaultMaxAge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.NoSupply(limit, maxAge))
}

func (s *server) stale(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	minAge, err := queryDuration(r, "min_age", defaultStaleMinAge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	maxAge, err := queryDuration(r, "max_age", defaultStaleMaxAge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Stale(limit, minAge, maxAge))
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	lang, err := queryLanguage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Search(r.URL.Query().Get("q"), lang, limit))
}

func (s *server) mostWatched(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = 10
	}
	counts, err := s.svc.MostWatched(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
