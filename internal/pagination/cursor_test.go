package pagination

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 7, 99, 100, 12345, 1 << 30} {
		t.Run(fmt.Sprintf("offset_%d", offset), func(t *testing.T) {
			assert.Equal(t, offset, DecodeCursor(EncodeCursor(offset)))
		})
	}
}

func TestDecodeCursorTolerant(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "not base64", token: "!!!not-base64!!!"},
		{name: "base64 but not json", token: "bm90IGpzb24="},
		{name: "json but wrong shape", token: "WyJvZmZzZXQiXQ=="},
		{name: "negative offset", token: EncodeCursor(-5)},
		{name: "truncated", token: EncodeCursor(100)[:4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0, DecodeCursor(tt.token), "malformed cursors must decode to 0")
		})
	}
}

func TestPaginateWalksEntireSequence(t *testing.T) {
	for _, tc := range []struct {
		n, pageSize int
	}{
		{n: 0, pageSize: 10},
		{n: 1, pageSize: 10},
		{n: 10, pageSize: 10},
		{n: 11, pageSize: 10},
		{n: 95, pageSize: 7},
		{n: 250, pageSize: 0}, // default page size
	} {
		t.Run(fmt.Sprintf("n=%d_p=%d", tc.n, tc.pageSize), func(t *testing.T) {
			items := make([]int, tc.n)
			for i := range items {
				items[i] = i
			}

			var walked []int
			cursor := ""
			for {
				page := Paginate(items, cursor, tc.pageSize)
				walked = append(walked, page.Items...)
				if page.NextCursor == "" {
					break
				}
				cursor = page.NextCursor
			}

			require.Len(t, walked, tc.n)
			for i, v := range walked {
				assert.Equal(t, i, v, "pages must reproduce the sequence in order")
			}
		})
	}
}

func TestPaginateOffsetPastEnd(t *testing.T) {
	items := []string{"a", "b", "c"}
	page := Paginate(items, EncodeCursor(50), 10)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextCursor)
}

func TestPaginateExactBoundaryHasNoCursor(t *testing.T) {
	items := make([]int, 20)
	page := Paginate(items, EncodeCursor(10), 10)
	assert.Len(t, page.Items, 10)
	assert.Empty(t, page.NextCursor, "a page ending exactly at the sequence end must not advertise a next cursor")
}
