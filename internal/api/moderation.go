package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/xivmarket/internal/model"
)

type priceRequest struct {
	Value *int64 `json:"value"`
}

func (s *server) addPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req priceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Value == nil {
		writeError(w, r, badRequest("value is required"))
		return
	}
	ref, err := s.svc.AddPrice(r.Context(), id, *req.Value, actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *server) deletePrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ts, err := parseTimestamp(chi.URLParam(r, "ts"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.svc.RequestDeletion(r.Context(), id, ts, actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(out)})
}

type flagRequest struct {
	ItemID    int64     `json:"item_id"`
	Timestamp time.Time `json:"timestamp"`
	Delete    bool      `json:"delete,omitempty"`
}

func (s *server) createFlag(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.svc.CreateFlag(r.Context(), req.ItemID, req.Timestamp, actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"created": created})
}

func (s *server) listFlags(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	flags, err := s.svc.ListFlags(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *server) resolveFlag(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.ResolveFlag(r.Context(), req.ItemID, req.Timestamp, req.Delete)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     res.Status(),
		"resolution": res,
	})
}

func (s *server) flagHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = 50
	}
	history, err := s.svc.FlagHistory(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type userRequest struct {
	Name      string `json:"name"`
	Anonymous bool   `json:"anonymous"`
}

func (s *server) registerUser(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.ID == 0 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": headerUserID + " is required"})
		return
	}
	var req userRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := model.UserRef{ID: actor.ID, Name: req.Name, Anonymous: req.Anonymous}
	if err := s.svc.RegisterUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) moderationStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.svc.ModerationStats(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
