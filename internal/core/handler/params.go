package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dayLayout = "2006-01-02"

// parseDate accepts RFC 3339 or a calendar day in loc. A bare day resolves to
// its first instant, or its last when endOfDay is set.
func parseDate(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation(dayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	if endOfDay {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}

type queryParams struct {
	w      http.ResponseWriter
	values map[string][]string
	loc    *time.Location
	failed bool
}

func newQueryParams(w http.ResponseWriter, r *http.Request, loc *time.Location) *queryParams {
	return &queryParams{w: w, values: r.URL.Query(), loc: loc}
}

func (q *queryParams) get(name string) string {
	if v := q.values[name]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// fail writes the first error only.
func (q *queryParams) fail(name, reason string) {
	if q.failed {
		return
	}
	q.failed = true
	respondWithJSON(q.w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("%s: %s", name, reason), Field: name})
}

func (q *queryParams) dateParam(name string, endOfDay bool) *time.Time {
	s := q.get(name)
	if s == "" {
		return nil
	}
	t, err := parseDate(s, q.loc, endOfDay)
	if err != nil {
		q.fail(name, err.Error())
		return nil
	}
	return &t
}

func (q *queryParams) uuidParam(name string) *uuid.UUID {
	s := q.get(name)
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		q.fail(name, "must be a UUID")
		return nil
	}
	return &id
}

func (q *queryParams) boolParam(name string) bool {
	s := q.get(name)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		q.fail(name, "must be true or false")
		return false
	}
	return b
}

func (q *queryParams) intParam(name string, def int) int {
	s := q.get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		q.fail(name, "must be an integer")
		return def
	}
	return n
}
