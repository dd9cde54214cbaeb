package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/schemacanvas/internal/activity"
)

// ActivityResponse is one page of project history.
type ActivityResponse struct {
	Entries    []activity.Entry `json:"entries"`
	NextCursor string           `json:"next_cursor,omitempty"`
	TotalCount int              `json:"total_count"`
}

// listActivity serves the history of the session's project. With ?q= the
// summaries are searched instead of paged.
func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		writeError(w, r, http.StatusNotFound, "ACTIVITY_DISABLED", "activity history is not enabled")
		return
	}
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.errorToHTTP(w, r, err)
		return
	}

	q := r.URL.Query()
	var categories []string
	if c := q.Get("category"); c != "" {
		categories = strings.Split(c, ",")
	}
	limit := 0
	if l := q.Get("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer")
			return
		}
	}

	if text := q.Get("q"); text != "" {
		entries, total, err := s.activity.Search(r.Context(), sess.ProjectID, text,
			activity.SearchOptions{Categories: categories, Limit: limit})
		if err != nil {
			s.errorToHTTP(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ActivityResponse{Entries: nonNil(entries), TotalCount: total})
		return
	}

	opts := activity.QueryOptions{
		Categories: categories,
		EntityKind: q.Get("kind"),
		EntityID:   q.Get("entity"),
		Limit:      limit,
		Cursor:     q.Get("cursor"),
	}
	for param, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_TIME", param+" must be an RFC 3339 timestamp")
			return
		}
		*dst = &t
	}

	entries, next, total, err := s.activity.QueryByProject(r.Context(), sess.ProjectID, opts)
	if err != nil {
		if opts.Cursor != "" {
			writeError(w, r, http.StatusBadRequest, "INVALID_CURSOR", err.Error())
			return
		}
		s.errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ActivityResponse{Entries: nonNil(entries), NextCursor: next, TotalCount: total})
}

func nonNil(entries []activity.Entry) []activity.Entry {
	if entries == nil {
		return []activity.Entry{}
	}
	return entries
}
