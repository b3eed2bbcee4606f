package api

import (
	"net/http"
	"strconv"
)

// PaginationParams holds parsed limit/offset query values.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps any list data with pagination metadata.
type PaginatedResponse struct {
	Data       any            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

type PaginationMeta struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// ParsePagination extracts limit and offset from query params. limit defaults
// to defaultLimit and is capped at maxLimit.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return PaginationParams{Limit: limit, Offset: offset}
}

// paginate returns the window of items selected by p.
func paginate[T any](items []T, p PaginationParams) PaginatedResponse {
	total := len(items)
	start := min(p.Offset, total)
	end := min(start+p.Limit, total)
	page := items[start:end]
	if page == nil {
		page = []T{}
	}
	return PaginatedResponse{
		Data: page,
		Pagination: PaginationMeta{
			Limit:   p.Limit,
			Offset:  p.Offset,
			Total:   total,
			HasMore: end < total,
		},
	}
}
