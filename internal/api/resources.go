package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
)

const (
	// maxQueryParamLen bounds path and query values accepted by handlers.
	maxQueryParamLen = 256

	maxHistoryLimit       = 200
	serviceUnavailableKey = "service_unavailable"
)

// resourceView is the API representation of one managed resource.
type resourceView struct {
	ResourceKey  string     `json:"resource_key"`
	ObjectID     string     `json:"object_id"`
	Name         string     `json:"name"`
	Kind         string     `json:"kind"`
	Method       string     `json:"method"`
	StateTopic   string     `json:"state_topic"`
	CommandTopic string     `json:"command_topic,omitempty"`
	Value        *string    `json:"value,omitempty"`
	Source       string     `json:"source,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func (s *Server) viewOf(res *resource.Resource) resourceView {
	topics := res.Topics()
	v := resourceView{
		ResourceKey:  res.ResourceKey(),
		ObjectID:     res.ObjectID(),
		Name:         res.Name(),
		Kind:         string(res.Kind()),
		Method:       string(res.Entry.Method),
		StateTopic:   topics.State,
		CommandTopic: topics.Command,
	}
	if val, ok := s.bridge.Value(res.ResourceKey()); ok {
		value, updated := val.Value, val.UpdatedAt
		v.Value = &value
		v.Source = val.Source
		v.UpdatedAt = &updated
	}
	return v
}

// handleListResources returns every managed resource in schema order.
func (s *Server) handleListResources(w http.ResponseWriter, _ *http.Request) {
	all := s.bridge.Registry().All()
	views := make([]resourceView, 0, len(all))
	for _, res := range all {
		views = append(views, s.viewOf(res))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": s.bridge.Registry().Device().ID,
		"resources": views,
		"count":     len(views),
	})
}

// handleGetResource returns one resource by its device key.
func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookupResource(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(res))
}

// handleGetResourceHistory returns recorded value changes of one resource.
func (s *Server) handleGetResourceHistory(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookupResource(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, serviceUnavailableKey, "state history unavailable")
		return
	}

	entries, err := s.history.History(r.Context(), res.ResourceKey(), limit)
	if err != nil {
		s.logger.Error("failed to load resource history", "resource_key", res.ResourceKey(), "error", err)
		writeInternalError(w, "failed to load resource history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resource_key": res.ResourceKey(),
		"history":      entries,
		"count":        len(entries),
	})
}

// lookupResource resolves the {key} URL parameter, writing the error
// response itself when the key is invalid or unknown.
func (s *Server) lookupResource(w http.ResponseWriter, r *http.Request) (*resource.Resource, bool) {
	key := chi.URLParam(r, "key")
	if key == "" || len(key) > maxQueryParamLen {
		writeBadRequest(w, "invalid resource key")
		return nil, false
	}

	res, err := s.bridge.Registry().FindByResourceKey(key)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			writeNotFound(w, "resource not found")
			return nil, false
		}
		writeInternalError(w, "failed to look up resource")
		return nil, false
	}
	return res, true
}

// parseHistoryLimit parses the optional limit query parameter. Zero means
// the repository default.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
