package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// paramError is a client input problem, reported as 400.
type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func badParam(format string, args ...any) error {
	return &paramError{msg: fmt.Sprintf(format, args...)}
}

type query struct {
	r   *http.Request
	err error
}

func newQuery(r *http.Request) *query {
	return &query{r: r}
}

func (q *query) raw(name string) string {
	return q.r.URL.Query().Get(name)
}

// float reads a required float within [lo, hi].
func (q *query) float(name string, lo, hi float64) float64 {
	if q.err != nil {
		return 0
	}
	s := q.raw(name)
	if s == "" {
		q.err = badParam("%s is required", name)
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		q.err = badParam("%s must be a number", name)
		return 0
	}
	if v < lo || v > hi {
		q.err = badParam("%s must be between %g and %g", name, lo, hi)
		return 0
	}
	return v
}

func (q *query) floatOr(name string, def, lo, hi float64) float64 {
	if q.raw(name) == "" {
		return def
	}
	return q.float(name, lo, hi)
}

func (q *query) intOr(name string, def, lo, hi int) int {
	if q.err != nil {
		return 0
	}
	s := q.raw(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		q.err = badParam("%s must be an integer", name)
		return 0
	}
	if v < lo || v > hi {
		q.err = badParam("%s must be between %d and %d", name, lo, hi)
		return 0
	}
	return v
}

func (q *query) boolean(name string) bool {
	if q.err != nil {
		return false
	}
	s := q.raw(name)
	if s == "" {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		q.err = badParam("%s must be true or false", name)
		return false
	}
	return v
}

// dateOr reads a YYYY-MM-DD date, defaulting to the UTC day of now.
func (q *query) dateOr(name string, now time.Time) time.Time {
	if q.err != nil {
		return time.Time{}
	}
	s := q.raw(name)
	if s == "" {
		return utcDay(now)
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		q.err = badParam("%s must be YYYY-MM-DD", name)
		return time.Time{}
	}
	return d
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
