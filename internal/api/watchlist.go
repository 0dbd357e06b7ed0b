package api

import "net/http"

func (s *server) watchlist(w http.ResponseWriter, r *http.Request) {
	refs, err := s.svc.Watchlist(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (s *server) isWatching(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	watching, err := s.svc.IsWatching(r.Context(), actorFrom(r.Context()).ID, itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"watching": watching})
}

func (s *server) watch(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	added, err := s.svc.Watch(r.Context(), actorFrom(r.Context()).ID, itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"added": added})
}

func (s *server) unwatch(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	removed, err := s.svc.Unwatch(r.Context(), actorFrom(r.Context()).ID, itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}
