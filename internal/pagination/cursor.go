// Package pagination implements the opaque cursor codec and the shared
// pagination helper used by every list operation.
//
// Cursors encode an integer offset into a conceptually stable source
// sequence. They are client-supplied, so decoding is deliberately tolerant:
// any malformed token decodes to offset 0 rather than failing. No snapshot
// isolation is provided; if the underlying sequence mutates between pages,
// items may be skipped or repeated.
package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// DefaultPageSize is used when the caller supplies a non-positive page size.
const DefaultPageSize = 100

type cursorPayload struct {
	Offset int `json:"offset"`
}

// EncodeCursor serializes a non-negative offset into an opaque token.
func EncodeCursor(offset int) string {
	if offset < 0 {
		offset = 0
	}
	b, _ := json.Marshal(cursorPayload{Offset: offset})
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeCursor recovers the offset from a token. Malformed or empty tokens
// yield 0; this can never fail loudly since cursors come from clients.
func DecodeCursor(token string) int {
	if token == "" {
		return 0
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0
	}
	var p cursorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0
	}
	if p.Offset < 0 {
		return 0
	}
	return p.Offset
}

// Page is one window of a paginated sequence. An empty NextCursor means the
// sequence is exhausted.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// Paginate slices items according to the cursor and page size. Offsets past
// the end yield an empty page with no cursor.
func Paginate[T any](items []T, cursor string, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	offset := DecodeCursor(cursor)
	if offset > len(items) {
		offset = len(items)
	}

	end := offset + pageSize
	if end > len(items) {
		end = len(items)
	}

	page := Page[T]{Items: items[offset:end]}
	if end < len(items) {
		page.NextCursor = EncodeCursor(end)
	}
	return page
}
