package pagination

import (
	"net/url"
	"testing"
)

func TestGetParams(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantPage   int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 1, 50, 0},
		{"explicit page and limit", "page=3&limit=20", 3, 20, 40},
		{"limit capped", "limit=9999", 1, MaxLimit, 0},
		{"invalid values ignored", "page=-1&limit=abc", 1, 50, 0},
		{"zero page ignored", "page=0", 1, 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parsing query: %v", err)
			}
			params := GetParams(q)
			if params.Page != tt.wantPage {
				t.Errorf("Page = %d, want %d", params.Page, tt.wantPage)
			}
			if params.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", params.Limit, tt.wantLimit)
			}
			if params.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", params.Offset, tt.wantOffset)
			}
		})
	}
}
