package notifications

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/AleeDevp/italihub-moderation/internal/auth"
)

// RegisterRoutes mounts the notification read surface and the live channel
// under /api/notifications. The router must already authenticate requests.
func RegisterRoutes(r chi.Router, store *Store, hub *Hub) {
	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/", handleList(store))
		r.Post("/mark-read", handleMarkRead(store))
		r.Get("/sse", handleSSE(hub))
		r.Get("/ws", handleWS(hub))
		r.Get("/preferences", handleGetPreferences(store))
		r.Put("/preferences", handleSetPreference(store))
	})
}

func handleList(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		take := DefaultPageSize
		if v := q.Get("take"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid take", http.StatusBadRequest)
				return
			}
			take = n
		}
		var cursorID int64
		if v := q.Get("cursorId"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				http.Error(w, "invalid cursorId", http.StatusBadRequest)
				return
			}
			cursorID = n
		}

		page, err := store.ListPage(r.Context(), actor.ID, take, cursorID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if page.Items == nil {
			page.Items = []Notification{}
		}

		writeJSON(w, http.StatusOK, page)
	}
}

func handleMarkRead(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			IDs []int64 `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(body.IDs) == 0 {
			http.Error(w, "ids are required", http.StatusBadRequest)
			return
		}

		if _, err := store.MarkRead(r.Context(), actor.ID, body.IDs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleSSE(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		hub.ServeSSE(w, r, actor.ID)
	}
}

func handleWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		hub.ServeWS(w, r, actor.ID)
	}
}

func handleGetPreferences(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		prefs, err := store.GetPreferences(r.Context(), actor.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if prefs == nil {
			prefs = []Preference{}
		}

		writeJSON(w, http.StatusOK, prefs)
	}
}

func handleSetPreference(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var pref Preference
		if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		pref.UserID = actor.ID

		if err := store.SetPreference(r.Context(), pref); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, pref)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
