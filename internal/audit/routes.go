package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// TenantFunc returns the tenant a request acts for, or "" when it has none.
type TenantFunc func(*http.Request) string

// RegisterRoutes mounts the read-only audit endpoints under /api/audit.
// Every request is confined to the tenant returned by tenantOf; one
// without a tenant gets 400 and another tenant's entry reads as 404.
func RegisterRoutes(r chi.Router, store *Store, tenantOf TenantFunc) {
	r.Route("/api/audit", func(r chi.Router) {
		r.Get("/", handleQuery(store, tenantOf))
		r.Get("/{id}", handleGetByID(store, tenantOf))
	})
}

func requireTenant(w http.ResponseWriter, r *http.Request, tenantOf TenantFunc) (string, bool) {
	tenant := tenantOf(r)
	if tenant == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return "", false
	}
	return tenant, true
}

func handleQuery(store *Store, tenantOf TenantFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := requireTenant(w, r, tenantOf)
		if !ok {
			return
		}
		q := r.URL.Query()

		filter := QueryFilter{
			TenantID:       tenant,
			ActorID:        q.Get("actor"),
			Target:         q.Get("target"),
			ConversationID: q.Get("conversation"),
		}
		if v := q.Get("action"); v != "" {
			filter.Action = Action(v)
		}
		if v := q.Get("since"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Since = &t
			}
		}
		if v := q.Get("until"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Until = &t
			}
		}
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Limit = n
			}
		}
		if v := q.Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Offset = n
			}
		}

		entries, err := store.Query(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetByID(store *Store, tenantOf TenantFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := requireTenant(w, r, tenantOf)
		if !ok {
			return
		}
		entry, err := store.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err == nil && entry.TenantID != tenant {
			err = ErrNotFound
		}
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, entry)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
