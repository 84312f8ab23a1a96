package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/freon/internal/apierr"
	"github.com/onnwee/freon/internal/cache"
	"github.com/onnwee/freon/internal/middleware"
)

// EntryResponse is the body of GET /api/cache/{key}.
type EntryResponse struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Expired bool   `json:"expired"`
}

// WriteResponse is the body of successful writes.
type WriteResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// KeysResponse lists keys from the TTL index.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

func keyFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := mux.Vars(r)["key"]
	if err := middleware.ValidateKey(key); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("key", err.Error()))
		return "", false
	}
	return key, true
}

// GetEntry handles GET /api/cache/{key}. Expired entries are returned with
// expired=true; absent keys are 404.
func GetEntry(c *cache.Cache[any]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFrom(w, r)
		if !ok {
			return
		}
		item, err := c.Lookup(r.Context(), key)
		if err != nil {
			writeCacheError(w, r, "get", key, err)
			return
		}
		if !item.Found {
			apierr.WriteErrorWithContext(w, r, apierr.CacheNotFound(key))
			return
		}
		writeJSON(w, http.StatusOK, EntryResponse{Key: key, Value: item.Value, Expired: item.Expired})
	}
}

// HeadEntry handles HEAD /api/cache/{key}: 200 when stored, 404 otherwise.
func HeadEntry(c *cache.Cache[any]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFrom(w, r)
		if !ok {
			return
		}
		exists, err := c.Exists(r.Context(), key)
		if err != nil {
			writeCacheError(w, r, "exists", key, err)
			return
		}
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// PutEntry handles PUT /api/cache/{key}?ttl=<seconds>. A lost lock race is
// reported as 409 CACHE_LOCKED.
func PutEntry(c *cache.Cache[any]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFrom(w, r)
		if !ok {
			return
		}
		val, ttl, ok := readWrite(w, r)
		if !ok {
			return
		}

		v, written, err := c.Set(r.Context(), key, cache.Literal(val).TTL(ttl))
		if err != nil {
			writeCacheError(w, r, "set", key, err)
			return
		}
		if !written {
			apierr.WriteErrorWithContext(w, r, apierr.CacheLocked(key))
			return
		}
		writeJSON(w, http.StatusOK, WriteResponse{Key: key, Value: v})
	}
}

// GetOrSetEntry handles POST /api/cache/{key}/get-or-set?ttl=<seconds>. The
// response carries the fresh value, the body just written, or the stale value
// when another writer holds the lock. 409 means nothing was stored at all.
func GetOrSetEntry(c *cache.Cache[any]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFrom(w, r)
		if !ok {
			return
		}
		val, ttl, ok := readWrite(w, r)
		if !ok {
			return
		}

		v, found, err := c.GetOrSet(r.Context(), key, cache.Literal(val).TTL(ttl))
		if err != nil {
			writeCacheError(w, r, "get_or_set", key, err)
			return
		}
		if !found {
			apierr.WriteErrorWithContext(w, r, apierr.CacheLocked(key))
			return
		}
		writeJSON(w, http.StatusOK, WriteResponse{Key: key, Value: v})
	}
}

// DeleteEntry handles DELETE /api/cache/{key}. Deleting an absent key is 204.
func DeleteEntry(c *cache.Cache[any]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFrom(w, r)
		if !ok {
			return
		}
		if err := c.Delete(r.Context(), key); err != nil {
			writeCacheError(w, r, "delete", key, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListExpired handles GET /api/ttl/expired.
func ListExpired(c *cache.Cache[any]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := c.GetExpired(r.Context())
		if err != nil {
			writeCacheError(w, r, "get_expired", "", err)
			return
		}
		writeJSON(w, http.StatusOK, KeysResponse{Keys: nonNil(keys)})
	}
}

// ListExpiring handles GET /api/ttl/expiring?within=<seconds>.
func ListExpiring(c *cache.Cache[any], defaultWindow time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window, apiErr := parseSeconds(r, "within", defaultWindow)
		if apiErr == nil && window < 0 {
			apiErr = apierr.ValidationInvalidValue("within", "within must not be negative")
		}
		if apiErr != nil {
			apierr.WriteErrorWithContext(w, r, apiErr)
			return
		}
		keys, err := c.GetByTTL(r.Context(), window)
		if err != nil {
			writeCacheError(w, r, "get_by_ttl", "", err)
			return
		}
		writeJSON(w, http.StatusOK, KeysResponse{Keys: nonNil(keys)})
	}
}

// readWrite decodes the body and the ttl query parameter shared by writes.
// A missing or zero ttl selects the cache default; negative TTLs are kept.
func readWrite(w http.ResponseWriter, r *http.Request) (any, time.Duration, bool) {
	ttl, apiErr := parseSeconds(r, "ttl", 0)
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return nil, 0, false
	}
	val, apiErr := readValue(r)
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return nil, 0, false
	}
	return val, ttl, true
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
