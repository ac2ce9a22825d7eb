package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Pagination bounds shared by every list endpoint.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// PageResponse is the standard paginated list envelope.
type PageResponse struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
	Items    any   `json:"items"`
}

// parsePagination reads page and page_size query parameters, clamping
// them to the allowed bounds.
func parsePagination(r *http.Request) (page, pageSize int, err error) {
	page, pageSize = 1, DefaultPageSize
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil || pageSize < 1 {
			return 0, 0, fmt.Errorf("page_size must be a positive integer")
		}
		if pageSize > MaxPageSize {
			pageSize = MaxPageSize
		}
	}
	return page, pageSize, nil
}

// parseDateParam reads an optional RFC 3339 timestamp query parameter.
// A trailing Z suffix is accepted, matching what ingestion clients send.
func parseDateParam(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

// parseInt64Param reads an optional int64 query parameter.
func parseInt64Param(r *http.Request, key string) (*int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &v, nil
}
