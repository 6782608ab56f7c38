// Package pagination extracts page/limit parameters from API query strings
// and derives database offsets. Folder reads are fixed newest-first, so no
// sort parameter is exposed.
package pagination

import (
	"net/url"
	"strconv"
)

type Params struct {
	Page   int
	Limit  int
	Offset int
}

const (
	MaxLimit     = 200
	DefaultPage  = 1
	DefaultLimit = 50
)

func GetParams(q url.Values) Params {
	params := Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
	}

	if pageStr := q.Get("page"); pageStr != "" {
		if val, err := strconv.Atoi(pageStr); err == nil && val > 0 {
			params.Page = val
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 {
			params.Limit = val
		}
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	params.Offset = (params.Page - 1) * params.Limit

	return params
}
