// Package pagination implements keyset pages over snowflake ids, newest
// first. Page tokens are opaque and URL-safe; they carry the id of the last
// row served.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size" validate:"omitempty,gte=1,lte=250"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

type cursor struct {
	After int64 `json:"after,string"`
}

// Size clamps a requested page size; zero or negative selects def.
func Size(requested, def, limit int) int {
	if requested <= 0 {
		return def
	}
	return min(requested, limit)
}

// EncodeToken returns the token resuming after id.
func EncodeToken(id int64) string {
	b, _ := json.Marshal(cursor{After: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeToken returns the id a page resumes after; an empty token is the
// first page and decodes to 0.
func DecodeToken(token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, ErrInvalidToken
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil || c.After <= 0 {
		return 0, ErrInvalidToken
	}
	return c.After, nil
}

// Page trims rows fetched with limit+1 down to limit and reports whether
// another page follows.
func Page[T any](rows []*T, limit int, id func(*T) int64) ([]*T, PageInfo) {
	if len(rows) <= limit {
		return rows, PageInfo{}
	}
	rows = rows[:limit]
	return rows, PageInfo{
		HasMore:       true,
		NextPageToken: EncodeToken(id(rows[len(rows)-1])),
	}
}
