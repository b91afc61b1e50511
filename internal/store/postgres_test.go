package store

import "testing"

func TestTransactionFilterBounds(t *testing.T) {
	tests := []struct {
		name       string
		filter     TransactionFilter
		wantLimit  int
		wantOffset int
	}{
		{"defaults", TransactionFilter{}, 50, 0},
		{"explicit values pass through", TransactionFilter{Limit: 20, Offset: 40}, 20, 40},
		{"limit over cap falls back", TransactionFilter{Limit: 500}, 50, 0},
		{"negative limit falls back", TransactionFilter{Limit: -5}, 50, 0},
		{"negative offset clamps to zero", TransactionFilter{Limit: 10, Offset: -1}, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := tt.filter.bounds()
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("bounds() = (%d, %d), want (%d, %d)", limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}
